package cardsim

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	"github.com/andrei-cloud/go_eid/pkg/iso7816"
	"github.com/andrei-cloud/go_eid/pkg/tlv"
)

type securityEnv struct {
	mode byte
	algo []byte
	key  byte
}

// Security environment modes.
const (
	envAuthentication byte = 0xA4
	envSignature      byte = 0xB6
	envDecipher       byte = 0xB8
)

// issueKeys creates the P-384 key pairs and their self-signed certificates.
func (c *Card) issueKeys() error {
	h := c.cfg.Holder
	subject := pkix.Name{
		Country:      []string{"EE"},
		CommonName:   fmt.Sprintf("%s,%s,%s", h.Surname, h.GivenNames, h.PersonalCode),
		SerialNumber: "PNOEE-" + h.PersonalCode,
	}
	uses := map[byte]x509.KeyUsage{
		c.profile.authKey: x509.KeyUsageDigitalSignature | x509.KeyUsageKeyAgreement,
		c.profile.signKey: x509.KeyUsageContentCommitment,
	}
	files := map[byte][]byte{
		c.profile.authKey: c.profile.authCert,
		c.profile.signKey: c.profile.signCert,
	}
	serial := int64(1)
	for ref, usage := range uses {
		priv, err := ecdsa.GenerateKey(elliptic.P384(), c.cfg.Rand)
		if err != nil {
			return fmt.Errorf("cardsim: generate key %02X: %w", ref, err)
		}
		tmpl := &x509.Certificate{
			SerialNumber: big.NewInt(serial),
			Subject:      subject,
			Issuer:       subject,
			NotBefore:    time.Now().Add(-time.Hour),
			NotAfter:     time.Now().AddDate(5, 0, 0),
			KeyUsage:     usage,
		}
		serial++
		der, err := x509.CreateCertificate(c.cfg.Rand, tmpl, tmpl, &priv.PublicKey, priv)
		if err != nil {
			return fmt.Errorf("cardsim: certificate %02X: %w", ref, err)
		}
		c.keys[ref] = priv
		c.certs[ref] = der
		c.files[hexKey(files[ref])] = der
	}

	return nil
}

func (c *Card) setSecurityEnv(cmd iso7816.Command) ([]byte, iso7816.StatusWord) {
	if cmd.P1 != 0x41 {
		return nil, swIncorrectP1P2
	}
	objects, err := tlv.DecodeAll(cmd.Data)
	if err != nil {
		return nil, iso7816.SWWrongData
	}
	keyRef, ok := tlv.Find(objects, 0x84)
	if !ok || len(keyRef.Value) != 1 {
		return nil, iso7816.SWWrongData
	}
	if _, ok := c.keys[keyRef.Value[0]]; !ok {
		return nil, iso7816.SWReferenceNotFound
	}
	env := &securityEnv{mode: cmd.P2, key: keyRef.Value[0]}
	if algo, ok := tlv.Find(objects, 0x80); ok {
		env.algo = algo.Value
	}
	c.env = env
	c.hash = nil

	return nil, iso7816.SWSuccess
}

func (c *Card) internalAuthenticate(cmd iso7816.Command) ([]byte, iso7816.StatusWord) {
	if c.env == nil || c.env.mode != envAuthentication {
		return nil, swConditionsNotSatisfied
	}

	return c.signWith(c.env.key, cmd.Data)
}

func (c *Card) performSecurityOperation(cmd iso7816.Command) ([]byte, iso7816.StatusWord) {
	switch {
	case cmd.P1 == 0x90 && cmd.P2 == 0xA0:
		hash, err := tlv.Path(cmd.Data, 0x90)
		if err != nil {
			return nil, iso7816.SWWrongData
		}
		c.hash = append([]byte(nil), hash...)

		return nil, iso7816.SWSuccess

	case cmd.P1 == 0x9E && cmd.P2 == 0x9A:
		if c.env == nil || c.env.mode != envSignature {
			return nil, swConditionsNotSatisfied
		}
		hash := cmd.Data
		if c.profile.hashFirst {
			if c.hash == nil {
				return nil, swConditionsNotSatisfied
			}
			hash = c.hash
		}
		sig, sw := c.signWith(c.env.key, hash)
		if sw.IsSuccess() && c.env.key == c.profile.signKey {
			c.verified[c.profile.pin2] = false
		}
		c.hash = nil

		return sig, sw

	case cmd.P1 == 0x80 && cmd.P2 == 0x86:
		if c.env == nil || c.env.mode != envDecipher {
			return nil, swConditionsNotSatisfied
		}

		return c.decipher(c.env.key, cmd.Data)

	default:
		return nil, swIncorrectP1P2
	}
}

// signWith returns the raw r || s signature over hash.
func (c *Card) signWith(key byte, hash []byte) ([]byte, iso7816.StatusWord) {
	priv, ok := c.keys[key]
	if !ok {
		return nil, iso7816.SWReferenceNotFound
	}
	if !c.verified[c.profile.pinForKey(key)] {
		return nil, iso7816.SWSecurityNotSatisfied
	}
	if len(hash) == 0 {
		return nil, iso7816.SWWrongData
	}
	r, s, err := ecdsa.Sign(c.cfg.Rand, priv, hash)
	if err != nil {
		return nil, swConditionsNotSatisfied
	}
	size := (priv.Curve.Params().BitSize + 7) / 8
	sig := make([]byte, 2*size)
	r.FillBytes(sig[:size])
	s.FillBytes(sig[size:])

	return sig, iso7816.SWSuccess
}

// decipher treats data as 00 || uncompressed EC point and returns the ECDH
// shared X coordinate.
func (c *Card) decipher(key byte, data []byte) ([]byte, iso7816.StatusWord) {
	priv, ok := c.keys[key]
	if !ok {
		return nil, iso7816.SWReferenceNotFound
	}
	if !c.verified[c.profile.pinForKey(key)] {
		return nil, iso7816.SWSecurityNotSatisfied
	}
	if len(data) < 2 || data[0] != 0x00 {
		return nil, iso7816.SWWrongData
	}
	pub, err := priv.PublicKey.ECDH()
	if err != nil {
		return nil, swConditionsNotSatisfied
	}
	own, err := priv.ECDH()
	if err != nil {
		return nil, swConditionsNotSatisfied
	}
	peer, err := pub.Curve().NewPublicKey(data[1:])
	if err != nil {
		return nil, iso7816.SWWrongData
	}
	secret, err := own.ECDH(peer)
	if err != nil {
		return nil, iso7816.SWWrongData
	}

	return secret, iso7816.SWSuccess
}
