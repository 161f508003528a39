package idcard

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/andrei-cloud/go_eid/internal/errorcodes"
	"github.com/andrei-cloud/go_eid/pkg/cryptoutils"
	"github.com/andrei-cloud/go_eid/pkg/iso7816"
	"github.com/andrei-cloud/go_eid/pkg/pinblock"
	"github.com/andrei-cloud/go_eid/pkg/tlv"
	"github.com/rs/zerolog"
)

const (
	// maxReadSize is the largest READ BINARY the applets answer in one go, and
	// the assumed file size when the FCP carries none.
	maxReadSize = 0xE5

	// minHashSize is the length short hashes are left-padded to before an
	// Idemia signature operation.
	minHashSize = 48

	personalRecords = 8
	missingField    = "-"
)

// MANAGE SECURITY ENVIRONMENT templates (P2).
const (
	envAuthentication byte = 0xA4
	envSignature      byte = 0xB6
	envDecipher       byte = 0xB8
)

const (
	tagAlgorithm uint32 = 0x80
	tagKeyRef    uint32 = 0x84
	tagHash      uint32 = 0x90
)

// commands holds the APDU helpers shared by the vendor implementations.
type commands struct {
	t    iso7816.Transceiver
	fill byte
}

// selectFile issues SELECT; an FCI is requested unless p2 is 0C.
func (c *commands) selectFile(ctx context.Context, p1, p2 byte, file []byte) ([]byte, error) {
	cmd := iso7816.Command{Ins: iso7816.InsSelect, P1: p1, P2: p2, Data: file}
	if p2 != 0x0C {
		cmd.Ne = iso7816.MaxShortNe
	}
	data, err := iso7816.Send(ctx, c.t, cmd)
	if err != nil {
		return nil, fmt.Errorf("select %X: %w", file, err)
	}

	return data, nil
}

func (c *commands) selectApplication(ctx context.Context, aid []byte) error {
	_, err := c.selectFile(ctx, 0x04, 0x0C, aid)

	return err
}

// readFile selects an EF with FCP and reads it in chunks of at most
// maxReadSize bytes.
func (c *commands) readFile(ctx context.Context, p1 byte, file []byte) ([]byte, error) {
	fcp, err := c.selectFile(ctx, p1, 0x04, file)
	if err != nil {
		return nil, err
	}
	size, known := fileSize(fcp)

	out := make([]byte, 0, size)
	for len(out) < size {
		chunk, err := iso7816.Send(ctx, c.t, iso7816.Command{
			Ins: iso7816.InsReadBinary,
			P1:  byte(len(out) >> 8),
			P2:  byte(len(out)),
			Ne:  min(maxReadSize, size-len(out)),
		})
		if err != nil {
			return nil, fmt.Errorf("read %X at offset %d: %w", file, len(out), err)
		}
		if len(chunk) == 0 {
			break
		}
		out = append(out, chunk...)
	}
	if known && len(out) < size {
		return nil, fmt.Errorf("%w: %X is %d bytes, read %d", errorcodes.ErrProtocolDecode, file, size, len(out))
	}

	return out, nil
}

// fileSize reads tag 80 or 81 from a 62/6F template. Without either it
// returns maxReadSize and false.
func fileSize(fcp []byte) (int, bool) {
	rec, _, err := tlv.Decode(fcp)
	if err != nil {
		return maxReadSize, false
	}
	children, _ := rec.Children()
	for _, r := range children {
		if (r.Tag == 0x80 || r.Tag == 0x81) && len(r.Value) > 0 {
			size := 0
			for _, b := range r.Value {
				size = size<<8 | int(b)
			}

			return size, true
		}
	}

	return maxReadSize, false
}

// readPersonalData reads records 5001..5008 of the already selected DF.
func (c *commands) readPersonalData(ctx context.Context) (CardInfo, error) {
	var info CardInfo
	for n := byte(1); n <= personalRecords; n++ {
		data, err := c.readFile(ctx, 0x02, []byte{0x50, n})
		if err != nil {
			return CardInfo{}, err
		}
		value := missingField
		if utf8.Valid(data) {
			value = string(data)
		}
		switch n {
		case 1:
			info.Surname = value
		case 2:
			info.GivenNames = value
		case 3:
			info.Sex = value
		case 4:
			if value == "" {
				value = missingField
			}
			info.Citizenship = value
		case 5:
			info.DateOfBirth = value
		case 6:
			info.PersonalCode = value
		case 7:
			info.DocumentNumber = value
		case 8:
			info.DateOfExpiry = strings.ReplaceAll(value, " ", ".")
		}
	}

	return info, nil
}

func (c *commands) verifyCode(ctx context.Context, ref byte, t CodeType, code string) error {
	if err := t.Policy().Validate(code); err != nil {
		return err
	}
	tpl, err := pinblock.EncodeTemplate(code, c.fill)
	if err != nil {
		return err
	}
	defer cryptoutils.Wipe(tpl)

	return c.codeCommand(ctx, t, iso7816.Command{Ins: iso7816.InsVerify, P2: ref, Data: tpl})
}

func (c *commands) changeCode(ctx context.Context, ref byte, t CodeType, newCode, currentCode string) error {
	policy := t.Policy()
	if err := policy.Validate(currentCode); err != nil {
		return err
	}
	if err := policy.Validate(newCode); err != nil {
		return err
	}
	current, err := pinblock.EncodeTemplate(currentCode, c.fill)
	if err != nil {
		return err
	}
	defer cryptoutils.Wipe(current)
	next, err := pinblock.EncodeTemplate(newCode, c.fill)
	if err != nil {
		return err
	}
	defer cryptoutils.Wipe(next)

	data := append(append([]byte(nil), current...), next...)
	defer cryptoutils.Wipe(data)

	return c.codeCommand(ctx, t, iso7816.Command{Ins: iso7816.InsChangeReferenceData, P2: ref, Data: data})
}

// unblockCode sends RESET RETRY COUNTER. With an empty puk the PUK must have
// been verified already and only the new code is sent (P1=02).
func (c *commands) unblockCode(ctx context.Context, ref byte, t CodeType, puk, newCode string) error {
	if err := t.Policy().Validate(newCode); err != nil {
		return err
	}
	next, err := pinblock.EncodeTemplate(newCode, c.fill)
	if err != nil {
		return err
	}
	defer cryptoutils.Wipe(next)

	cmd := iso7816.Command{Ins: iso7816.InsResetRetryCounter, P1: 0x02, P2: ref}
	if puk != "" {
		if err := pinblock.PUK.Validate(puk); err != nil {
			return err
		}
		tpl, err := pinblock.EncodeTemplate(puk, c.fill)
		if err != nil {
			return err
		}
		defer cryptoutils.Wipe(tpl)
		cmd.P1 = 0x00
		cmd.Data = append(cmd.Data, tpl...)
	}
	cmd.Data = append(cmd.Data, next...)
	defer cryptoutils.Wipe(cmd.Data)

	return c.codeCommand(ctx, t, cmd)
}

func (c *commands) codeCommand(ctx context.Context, t CodeType, cmd iso7816.Command) error {
	_, sw, err := iso7816.Exchange(ctx, c.t, cmd)
	if err != nil {
		return err
	}
	zerolog.Ctx(ctx).Debug().
		Str("event", "code_status").
		Stringer("code", t).
		Hex("ins", []byte{cmd.Ins}).
		Stringer("sw", sw).
		Msg("code command answered")

	return CodeStatus(cmd.Ins, sw)
}

// CodeStatus maps the status word of VERIFY, CHANGE REFERENCE DATA or
// RESET RETRY COUNTER:
//
//	9000       nil
//	6A80       ErrInvalidNewPIN
//	63C0, 6983 *PinVerificationError, blocked
//	63Cx       *PinVerificationError with x tries remaining
//
// Anything else is a *errorcodes.StatusWordError.
func CodeStatus(ins byte, sw iso7816.StatusWord) error {
	switch {
	case sw.IsSuccess():
		return nil
	case sw == iso7816.SWWrongData:
		return fmt.Errorf("%w: %w", errorcodes.ErrInvalidNewPIN, sw.Err(ins))
	case sw == iso7816.SWVerificationBlocked, sw == iso7816.SWAuthMethodBlocked:
		return &errorcodes.PinVerificationError{SW: uint16(sw), Blocked: true}
	case sw&0xFFF0 == iso7816.SWVerificationBlocked:
		return &errorcodes.PinVerificationError{SW: uint16(sw), Remaining: int(sw & 0x000F)}
	default:
		return sw.Err(ins)
	}
}

// setSecurityEnv sends MANAGE SECURITY ENVIRONMENT: SET with an optional
// algorithm reference and a key reference.
func (c *commands) setSecurityEnv(ctx context.Context, mode byte, algo []byte, key byte) error {
	var data []byte
	if algo != nil {
		data = append(data, tlv.Encode(tagAlgorithm, algo)...)
	}
	data = append(data, tlv.Encode(tagKeyRef, []byte{key})...)
	if _, err := iso7816.Send(ctx, c.t, iso7816.Command{
		Ins:  iso7816.InsManageSecurityEnv,
		P1:   0x41,
		P2:   mode,
		Data: data,
	}); err != nil {
		return fmt.Errorf("set security environment %02X: %w", mode, err)
	}

	return nil
}

// decipher sends PSO: DECIPHER with the padding indicator 00 prepended.
func (c *commands) decipher(ctx context.Context, data []byte) ([]byte, error) {
	body := append([]byte{0x00}, data...)
	out, err := iso7816.Send(ctx, c.t, iso7816.Command{
		Ins:  iso7816.InsPerformSecurityOp,
		P1:   0x80,
		P2:   0x86,
		Data: body,
		Ne:   iso7816.MaxShortNe,
	})
	if err != nil {
		return nil, fmt.Errorf("decipher: %w", err)
	}

	return out, nil
}

func computeSignature(ctx context.Context, t iso7816.Transceiver, data []byte) ([]byte, error) {
	sig, err := iso7816.Send(ctx, t, iso7816.Command{
		Ins:  iso7816.InsPerformSecurityOp,
		P1:   0x9E,
		P2:   0x9A,
		Data: data,
		Ne:   iso7816.MaxShortNe,
	})
	if err != nil {
		return nil, fmt.Errorf("compute digital signature: %w", err)
	}

	return sig, nil
}

// padHash left-pads hash with zeros up to minHashSize.
func padHash(hash []byte) []byte {
	if len(hash) >= minHashSize {
		return append([]byte(nil), hash...)
	}

	return cryptoutils.LeftPad(hash, minHashSize)
}

func checkHash(hash []byte) error {
	if len(hash) == 0 {
		return fmt.Errorf("%w: empty hash", errorcodes.ErrInvalidInput)
	}

	return nil
}

func unsupported(vendor, what string) error {
	return fmt.Errorf("%w: %s: %s", errorcodes.ErrUnsupportedOperation, vendor, what)
}
