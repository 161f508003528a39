// Package ecc provides the elliptic curve arithmetic used by PACE generic
// mapping: standardized domain parameters by PACE parameter id, point
// encoding and key generation on a mapped generator.
package ecc

import (
	"crypto/elliptic"
	"fmt"
	"io"
	"math/big"

	"github.com/andrei-cloud/go_eid/internal/errorcodes"
	"github.com/ebfe/brainpool"
)

// Standardized domain parameter ids from BSI TR-03110 part 3.
const (
	ParamP256    byte = 12
	ParamBP256r1 byte = 13
	ParamP384    byte = 15
	ParamBP384r1 byte = 16
	ParamBP512r1 byte = 17
	ParamP521    byte = 18
)

const pointUncompressed = 0x04

// Domain is a curve with a possibly non-standard generator.
type Domain struct {
	Curve  elliptic.Curve
	Gx, Gy *big.Int
}

// ByParamID returns the standard domain for a PACE parameter id.
func ByParamID(id byte) (Domain, error) {
	var c elliptic.Curve
	switch id {
	case ParamP256:
		c = elliptic.P256()
	case ParamBP256r1:
		c = brainpool.P256r1()
	case ParamP384:
		c = elliptic.P384()
	case ParamBP384r1:
		c = brainpool.P384r1()
	case ParamBP512r1:
		c = brainpool.P512r1()
	case ParamP521:
		c = elliptic.P521()
	default:
		return Domain{}, fmt.Errorf("%w: PACE parameter id %d", errorcodes.ErrCardNotSupported, id)
	}

	return Standard(c), nil
}

// Standard returns the domain of c with its base point.
func Standard(c elliptic.Curve) Domain {
	p := c.Params()

	return Domain{Curve: c, Gx: p.Gx, Gy: p.Gy}
}

// CoordinateSize is the byte length of one field element.
func (d Domain) CoordinateSize() int {
	return (d.Curve.Params().BitSize + 7) / 8
}

// ScalarSize is the byte length of a private scalar.
func (d Domain) ScalarSize() int {
	return (d.Curve.Params().N.BitLen() + 7) / 8
}

// GenerateKey draws a scalar in [1, N-1] and returns it with the matching
// public point on this domain's generator.
func (d Domain) GenerateKey(rand io.Reader) ([]byte, *big.Int, *big.Int, error) {
	n := d.Curve.Params().N
	size := d.ScalarSize()
	buf := make([]byte, size)
	excess := uint(size*8 - n.BitLen())
	k := new(big.Int)
	for {
		if _, err := io.ReadFull(rand, buf); err != nil {
			return nil, nil, nil, fmt.Errorf("%w: random scalar: %w", errorcodes.ErrCrypto, err)
		}
		buf[0] &= byte(0xFF >> excess)
		k.SetBytes(buf)
		if k.Sign() > 0 && k.Cmp(n) < 0 {
			break
		}
	}
	priv := k.FillBytes(make([]byte, size))
	x, y := d.Curve.ScalarMult(d.Gx, d.Gy, priv)

	return priv, x, y, nil
}

// Public multiplies the generator by priv.
func (d Domain) Public(priv []byte) (*big.Int, *big.Int) {
	return d.Curve.ScalarMult(d.Gx, d.Gy, priv)
}

// Map returns the generic-mapping generator s*G + H.
func (d Domain) Map(s []byte, hx, hy *big.Int) Domain {
	sx, sy := d.Curve.ScalarMult(d.Gx, d.Gy, s)
	gx, gy := d.Curve.Add(sx, sy, hx, hy)

	return Domain{Curve: d.Curve, Gx: gx, Gy: gy}
}

// Marshal encodes a point as 04 || X || Y.
func (d Domain) Marshal(x, y *big.Int) []byte {
	size := d.CoordinateSize()
	out := make([]byte, 1+2*size)
	out[0] = pointUncompressed
	x.FillBytes(out[1 : 1+size])
	y.FillBytes(out[1+size:])

	return out
}

// Unmarshal decodes an uncompressed point and checks that it lies on the curve.
func (d Domain) Unmarshal(b []byte) (*big.Int, *big.Int, error) {
	size := d.CoordinateSize()
	if len(b) != 1+2*size || b[0] != pointUncompressed {
		return nil, nil, fmt.Errorf("%w: point encoding of %d bytes", errorcodes.ErrProtocolDecode, len(b))
	}
	x := new(big.Int).SetBytes(b[1 : 1+size])
	y := new(big.Int).SetBytes(b[1+size:])
	if !d.Curve.IsOnCurve(x, y) {
		return nil, nil, fmt.Errorf("%w: point not on curve", errorcodes.ErrAuthentication)
	}

	return x, y, nil
}

// SharedX multiplies a peer point by priv and returns the X coordinate
// left-padded to the field size.
func (d Domain) SharedX(priv []byte, px, py *big.Int) ([]byte, error) {
	x, y := d.Curve.ScalarMult(px, py, priv)
	if x.Sign() == 0 && y.Sign() == 0 {
		return nil, fmt.Errorf("%w: shared point at infinity", errorcodes.ErrAuthentication)
	}

	return x.FillBytes(make([]byte, d.CoordinateSize())), nil
}
