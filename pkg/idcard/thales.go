package idcard

import (
	"context"
	"fmt"

	"github.com/andrei-cloud/go_eid/pkg/cryptoutils"
	"github.com/andrei-cloud/go_eid/pkg/iso7816"
	"github.com/andrei-cloud/go_eid/pkg/pinblock"
	"github.com/andrei-cloud/go_eid/pkg/tlv"
)

var (
	thalesAID       = cryptoutils.MustStr2Raw("A000000063504B43532D3135")
	thalesGlobalAID = cryptoutils.MustStr2Raw("A0000000181002030000000000000001")
	thalesATR       = cryptoutils.MustStr2Raw("3BFF9600008031FE438031B85365494464B085051012233F1D")

	thalesPersonalDF = []byte{0xDF, 0xDD}
	thalesAuthCert   = []byte{0xAD, 0xF1, 0x34, 0x11}
	thalesSignCert   = []byte{0xAD, 0xF2, 0x34, 0x21}
)

const (
	thalesAuthKey byte = 0x01
	thalesSignKey byte = 0x05
)

// Thales drives the Thales (IDPrime) eID applet.
type Thales struct {
	commands
}

// NewThales returns the Thales command set over t.
func NewThales(t iso7816.Transceiver) *Thales {
	return &Thales{commands{t: t, fill: pinblock.FillThales}}
}

// Vendor returns "thales".
func (*Thales) Vendor() string { return "thales" }

// CanChangePUK reports false: the applet has no way to replace the PUK.
func (*Thales) CanChangePUK() bool { return false }

func thalesRef(t CodeType) byte {
	switch t {
	case CodePIN1:
		return 0x81
	case CodePIN2:
		return 0x82
	default:
		return 0x83
	}
}

// ReadPublicData reads the personal data records under DF DFDD.
func (c *Thales) ReadPublicData(ctx context.Context) (CardInfo, error) {
	if err := c.selectApplication(ctx, thalesAID); err != nil {
		return CardInfo{}, err
	}
	if _, err := c.selectFile(ctx, 0x08, 0x0C, thalesPersonalDF); err != nil {
		return CardInfo{}, err
	}

	return c.readPersonalData(ctx)
}

// ReadAuthenticationCertificate returns the DER authentication certificate.
func (c *Thales) ReadAuthenticationCertificate(ctx context.Context) ([]byte, error) {
	if err := c.selectApplication(ctx, thalesAID); err != nil {
		return nil, err
	}

	return c.readFile(ctx, 0x08, thalesAuthCert)
}

// ReadSignatureCertificate returns the DER signing certificate.
func (c *Thales) ReadSignatureCertificate(ctx context.Context) ([]byte, error) {
	if err := c.selectApplication(ctx, thalesAID); err != nil {
		return nil, err
	}

	return c.readFile(ctx, 0x08, thalesSignCert)
}

// ReadCodeTryCounterRecord queries A0 { 83 ref } and reads DF21 from the
// A0 answer. A response without the counter yields 0.
func (c *Thales) ReadCodeTryCounterRecord(ctx context.Context, t CodeType) (int, error) {
	if err := c.selectApplication(ctx, thalesAID); err != nil {
		return 0, err
	}
	data, err := iso7816.Send(ctx, c.t, iso7816.Command{
		Ins:  iso7816.InsGetData,
		P1:   0x00,
		P2:   0xFF,
		Data: []byte{0xA0, 0x03, 0x83, 0x01, thalesRef(t)},
		Ne:   iso7816.MaxShortNe,
	})
	if err != nil {
		return 0, fmt.Errorf("read %s try counter: %w", t, err)
	}
	tries, err := tlv.Path(data, 0xA0, 0xDF21)
	if err != nil || len(tries) == 0 {
		return 0, nil
	}

	return int(tries[0]), nil
}

// ChangeCode replaces PIN1 or PIN2. The PUK is unsupported.
func (c *Thales) ChangeCode(ctx context.Context, t CodeType, newCode, currentCode string) error {
	if t == CodePUK {
		return unsupported(c.Vendor(), "PUK cannot be changed")
	}
	if err := c.selectApplication(ctx, thalesAID); err != nil {
		return err
	}

	return c.changeCode(ctx, thalesRef(t), t, newCode, currentCode)
}

// VerifyCode verifies the code against the selected application.
func (c *Thales) VerifyCode(ctx context.Context, t CodeType, code string) error {
	return c.verifyCode(ctx, thalesRef(t), t, code)
}

// UnblockCode sends the PUK and the new code in one RESET RETRY COUNTER.
func (c *Thales) UnblockCode(ctx context.Context, t CodeType, puk, newCode string) error {
	if t == CodePUK {
		return unsupported(c.Vendor(), "PUK cannot be unblocked")
	}
	if err := pinblock.PUK.Validate(puk); err != nil {
		return err
	}

	return c.unblockCode(ctx, thalesRef(t), t, puk, newCode)
}

// sign verifies the code, stores the hash with PSO: HASH and asks for the
// signature over it.
func (c *Thales) sign(ctx context.Context, t CodeType, code string, key byte, hash []byte) ([]byte, error) {
	if err := checkHash(hash); err != nil {
		return nil, err
	}
	if err := c.VerifyCode(ctx, t, code); err != nil {
		return nil, err
	}
	if err := c.setSecurityEnv(ctx, envSignature, []byte{0x24 + byte(len(hash))}, key); err != nil {
		return nil, err
	}
	if _, err := iso7816.Send(ctx, c.t, iso7816.Command{
		Ins:  iso7816.InsPerformSecurityOp,
		P1:   0x90,
		P2:   0xA0,
		Data: tlv.Encode(tagHash, hash),
	}); err != nil {
		return nil, fmt.Errorf("hash: %w", err)
	}

	return computeSignature(ctx, c.t, nil)
}

// Authenticate verifies PIN1 and signs hash with the authentication key.
func (c *Thales) Authenticate(ctx context.Context, hash []byte, pin1 string) ([]byte, error) {
	if err := c.selectApplication(ctx, thalesAID); err != nil {
		return nil, err
	}

	return c.sign(ctx, CodePIN1, pin1, thalesAuthKey, hash)
}

// CalculateSignature verifies PIN2 and signs hash with the signing key.
func (c *Thales) CalculateSignature(ctx context.Context, hash []byte, pin2 string) ([]byte, error) {
	if err := c.selectApplication(ctx, thalesAID); err != nil {
		return nil, err
	}

	return c.sign(ctx, CodePIN2, pin2, thalesSignKey, hash)
}

// DecryptData verifies PIN1 and deciphers data with the authentication key.
func (c *Thales) DecryptData(ctx context.Context, data []byte, pin1 string) ([]byte, error) {
	if err := c.selectApplication(ctx, thalesAID); err != nil {
		return nil, err
	}
	if err := c.VerifyCode(ctx, CodePIN1, pin1); err != nil {
		return nil, err
	}
	if err := c.setSecurityEnv(ctx, envDecipher, nil, thalesAuthKey); err != nil {
		return nil, err
	}

	return c.decipher(ctx, data)
}
