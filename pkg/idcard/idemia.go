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
	idemiaAID     = cryptoutils.MustStr2Raw("A000000077010800070000FE00000100")
	idemiaQSCDAID = cryptoutils.MustStr2Raw("51534344204170706C69636174696F6E")
	idemiaAWPAID  = cryptoutils.MustStr2Raw("E828BD080FF2504F5420415750")
	idemiaATRs    = [][]byte{
		cryptoutils.MustStr2Raw("3BDB960080B1FE451F830012233F536549440F9000F1"),
		cryptoutils.MustStr2Raw("3BDC960080B1FE451F830012233F54654944320F9000C3"),
	}

	idemiaPersonalDF = []byte{0x50, 0x00}
	idemiaAuthCert   = []byte{0xAD, 0xF1, 0x34, 0x01}
	idemiaSignCert   = []byte{0xAD, 0xF2, 0x34, 0x1F}

	idemiaAuthAlgo     = []byte{0xFF, 0x20, 0x08, 0x00}
	idemiaSignAlgo     = []byte{0xFF, 0x15, 0x08, 0x00}
	idemiaDecipherAlgo = []byte{0xFF, 0x30, 0x04, 0x00}
)

const (
	idemiaAuthKey byte = 0x81
	idemiaSignKey byte = 0x9F
)

// Idemia drives the Idemia (Cosmo) eID applet.
type Idemia struct {
	commands
}

// NewIdemia returns the Idemia command set over t.
func NewIdemia(t iso7816.Transceiver) *Idemia {
	return &Idemia{commands{t: t, fill: pinblock.FillIdemia}}
}

// Vendor returns "idemia".
func (*Idemia) Vendor() string { return "idemia" }

// CanChangePUK reports true: the PUK is changed like any other code.
func (*Idemia) CanChangePUK() bool { return true }

// idemiaCode returns the application owning a code and its reference.
func idemiaCode(t CodeType) ([]byte, byte) {
	switch t {
	case CodePIN1:
		return idemiaAID, 0x01
	case CodePIN2:
		return idemiaQSCDAID, 0x85
	default:
		return idemiaAID, 0x02
	}
}

// ReadPublicData reads the personal data records under DF 5000 of the main
// application.
func (c *Idemia) ReadPublicData(ctx context.Context) (CardInfo, error) {
	if err := c.selectApplication(ctx, idemiaAID); err != nil {
		return CardInfo{}, err
	}
	if _, err := c.selectFile(ctx, 0x01, 0x0C, idemiaPersonalDF); err != nil {
		return CardInfo{}, err
	}

	return c.readPersonalData(ctx)
}

// ReadAuthenticationCertificate returns the DER authentication certificate.
func (c *Idemia) ReadAuthenticationCertificate(ctx context.Context) ([]byte, error) {
	if err := c.selectApplication(ctx, idemiaAID); err != nil {
		return nil, err
	}

	return c.readFile(ctx, 0x09, idemiaAuthCert)
}

// ReadSignatureCertificate returns the DER signing certificate.
func (c *Idemia) ReadSignatureCertificate(ctx context.Context) ([]byte, error) {
	if err := c.selectApplication(ctx, idemiaAID); err != nil {
		return nil, err
	}

	return c.readFile(ctx, 0x09, idemiaSignCert)
}

// ReadCodeTryCounterRecord queries 70 { BF81rr { A0 { 9B tries } } }. A
// response without the counter yields 0.
func (c *Idemia) ReadCodeTryCounterRecord(ctx context.Context, t CodeType) (int, error) {
	aid, ref := idemiaCode(t)
	if err := c.selectApplication(ctx, aid); err != nil {
		return 0, err
	}
	ref &^= 0x80
	data, err := iso7816.Send(ctx, c.t, iso7816.Command{
		Ins:  iso7816.InsGetData,
		P1:   0x3F,
		P2:   0xFF,
		Data: []byte{0x4D, 0x08, 0x70, 0x06, 0xBF, 0x81, ref, 0x02, 0xA0, 0x80},
		Ne:   iso7816.MaxShortNe,
	})
	if err != nil {
		return 0, fmt.Errorf("read %s try counter: %w", t, err)
	}
	counters, err := tlv.Path(data, 0x70, 0xBF8100|uint32(ref), 0xA0)
	if err != nil {
		return 0, nil
	}
	records, _ := tlv.DecodeAll(counters)
	if rec, ok := tlv.Find(records, 0x9B); ok && len(rec.Value) > 0 {
		return int(rec.Value[0]), nil
	}

	return 0, nil
}

// ChangeCode replaces the code in the application that owns it.
func (c *Idemia) ChangeCode(ctx context.Context, t CodeType, newCode, currentCode string) error {
	aid, ref := idemiaCode(t)
	if err := c.selectApplication(ctx, aid); err != nil {
		return err
	}

	return c.changeCode(ctx, ref, t, newCode, currentCode)
}

// VerifyCode verifies the code against the currently selected application.
func (c *Idemia) VerifyCode(ctx context.Context, t CodeType, code string) error {
	_, ref := idemiaCode(t)

	return c.verifyCode(ctx, ref, t, code)
}

// UnblockCode verifies the PUK, then resets the code with the new value only.
func (c *Idemia) UnblockCode(ctx context.Context, t CodeType, puk, newCode string) error {
	if t == CodePUK {
		return unsupported(c.Vendor(), "PUK cannot be unblocked")
	}
	if err := t.Policy().Validate(newCode); err != nil {
		return err
	}
	if err := c.VerifyCode(ctx, CodePUK, puk); err != nil {
		return err
	}
	aid, ref := idemiaCode(t)
	if t == CodePIN2 {
		if err := c.selectApplication(ctx, aid); err != nil {
			return err
		}
	}

	return c.unblockCode(ctx, ref, t, "", newCode)
}

// Authenticate verifies PIN1 and signs hash with the authentication key.
func (c *Idemia) Authenticate(ctx context.Context, hash []byte, pin1 string) ([]byte, error) {
	if err := checkHash(hash); err != nil {
		return nil, err
	}
	if err := c.selectApplication(ctx, idemiaAWPAID); err != nil {
		return nil, err
	}
	if err := c.VerifyCode(ctx, CodePIN1, pin1); err != nil {
		return nil, err
	}
	if err := c.setSecurityEnv(ctx, envAuthentication, idemiaAuthAlgo, idemiaAuthKey); err != nil {
		return nil, err
	}
	sig, err := iso7816.Send(ctx, c.t, iso7816.Command{
		Ins:  iso7816.InsInternalAuthenticate,
		Data: padHash(hash),
		Ne:   iso7816.MaxShortNe,
	})
	if err != nil {
		return nil, fmt.Errorf("internal authenticate: %w", err)
	}

	return sig, nil
}

// CalculateSignature verifies PIN2 in the QSCD application and signs hash
// with the signing key.
func (c *Idemia) CalculateSignature(ctx context.Context, hash []byte, pin2 string) ([]byte, error) {
	if err := checkHash(hash); err != nil {
		return nil, err
	}
	if err := c.selectApplication(ctx, idemiaQSCDAID); err != nil {
		return nil, err
	}
	if err := c.VerifyCode(ctx, CodePIN2, pin2); err != nil {
		return nil, err
	}
	if err := c.setSecurityEnv(ctx, envSignature, idemiaSignAlgo, idemiaSignKey); err != nil {
		return nil, err
	}

	return computeSignature(ctx, c.t, padHash(hash))
}

// DecryptData verifies PIN1 and deciphers data with the authentication key.
func (c *Idemia) DecryptData(ctx context.Context, data []byte, pin1 string) ([]byte, error) {
	if err := c.selectApplication(ctx, idemiaAWPAID); err != nil {
		return nil, err
	}
	if err := c.VerifyCode(ctx, CodePIN1, pin1); err != nil {
		return nil, err
	}
	if err := c.setSecurityEnv(ctx, envDecipher, idemiaDecipherAlgo, idemiaAuthKey); err != nil {
		return nil, err
	}

	return c.decipher(ctx, data)
}
