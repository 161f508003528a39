// Package webeid produces a Web eID authentication token with the card's
// authentication key.
package webeid

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"hash"

	"github.com/andrei-cloud/go_eid/internal/errorcodes"
	"github.com/rs/zerolog"
)

// UnknownAlgorithm is reported for certificate signature algorithms without a
// JWS name.
const UnknownAlgorithm = "unknown"

// Authenticator is the subset of card operations the token needs.
type Authenticator interface {
	ReadAuthenticationCertificate(ctx context.Context) ([]byte, error)
	ReadSignatureCertificate(ctx context.Context) ([]byte, error)
	Authenticate(ctx context.Context, hash []byte, pin1 string) ([]byte, error)
}

// Result carries base64 encoded DER certificates and the raw signature.
type Result struct {
	UnverifiedCertificate string `json:"unverifiedCertificate"`
	Algorithm             string `json:"algorithm"`
	Signature             string `json:"signature"`
	SigningCertificate    string `json:"signingCertificate"`
}

// Algorithm is the JWS name and digest size of a certificate signature
// algorithm.
type Algorithm struct {
	Name    string
	BitSize int
}

// SignatureAlgorithm maps the certificate's signature algorithm to its JWS
// name. Unsupported algorithms yield UnknownAlgorithm with BitSize 0.
func SignatureAlgorithm(cert *x509.Certificate) Algorithm {
	switch cert.SignatureAlgorithm {
	case x509.ECDSAWithSHA256:
		return Algorithm{Name: "ES256", BitSize: 256}
	case x509.ECDSAWithSHA384:
		return Algorithm{Name: "ES384", BitSize: 384}
	case x509.ECDSAWithSHA512:
		return Algorithm{Name: "ES512", BitSize: 512}
	case x509.SHA256WithRSA:
		return Algorithm{Name: "RS256", BitSize: 256}
	case x509.SHA384WithRSA:
		return Algorithm{Name: "RS384", BitSize: 384}
	case x509.SHA512WithRSA:
		return Algorithm{Name: "RS512", BitSize: 512}
	default:
		return Algorithm{Name: UnknownAlgorithm}
	}
}

// KeySize returns the size in bits of an EC or RSA public key.
func KeySize(pub any) (int, error) {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		return k.Curve.Params().BitSize, nil
	case *rsa.PublicKey:
		return k.N.BitLen(), nil
	default:
		return 0, fmt.Errorf("%w: public key type %T", errorcodes.ErrUnsupportedOperation, pub)
	}
}

// NewHash returns SHA-256, SHA-384 or SHA-512 for bits 256, 384 and 512.
func NewHash(bits int) (hash.Hash, error) {
	switch bits {
	case 256:
		return sha256.New(), nil
	case 384:
		return sha512.New384(), nil
	case 512:
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("%w: no %d-bit hash", errorcodes.ErrUnsupportedOperation, bits)
	}
}

func digest(bits int, parts ...[]byte) ([]byte, error) {
	h, err := NewHash(bits)
	if err != nil {
		return nil, err
	}
	for _, p := range parts {
		h.Write(p)
	}

	return h.Sum(nil), nil
}

// TokenHash is H_key(H_sig(origin) || H_sig(challenge)), where H_sig follows
// the certificate signature algorithm and H_key the key size.
func TokenHash(origin, challenge string, sigBits, keyBits int) ([]byte, error) {
	originHash, err := digest(sigBits, []byte(origin))
	if err != nil {
		return nil, err
	}
	challengeHash, err := digest(sigBits, []byte(challenge))
	if err != nil {
		return nil, err
	}

	return digest(keyBits, originHash, challengeHash)
}

// Authenticate reads the authentication certificate, signs the token hash
// for origin and challenge with PIN1 and reads the signing certificate.
func Authenticate(ctx context.Context, card Authenticator, origin, challenge, pin1 string) (Result, error) {
	if origin == "" || challenge == "" {
		return Result{}, fmt.Errorf("%w: origin and challenge are required", errorcodes.ErrInvalidInput)
	}
	logger := zerolog.Ctx(ctx)

	authDER, err := card.ReadAuthenticationCertificate(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("read authentication certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(authDER)
	if err != nil {
		return Result{}, fmt.Errorf("%w: authentication certificate: %w", errorcodes.ErrProtocolDecode, err)
	}
	algo := SignatureAlgorithm(cert)
	keyBits, err := KeySize(cert.PublicKey)
	if err != nil {
		return Result{}, err
	}
	tokenHash, err := TokenHash(origin, challenge, algo.BitSize, keyBits)
	if err != nil {
		return Result{}, err
	}
	logger.Debug().
		Str("event", "webeid_hash").
		Str("algorithm", algo.Name).
		Int("key_bits", keyBits).
		Msg("token hash computed")

	sig, err := card.Authenticate(ctx, tokenHash, pin1)
	if err != nil {
		return Result{}, err
	}
	signDER, err := card.ReadSignatureCertificate(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("read signing certificate: %w", err)
	}

	return Result{
		UnverifiedCertificate: base64.StdEncoding.EncodeToString(authDER),
		Algorithm:             algo.Name,
		Signature:             base64.StdEncoding.EncodeToString(sig),
		SigningCertificate:    base64.StdEncoding.EncodeToString(signDER),
	}, nil
}
