// Package sm implements ISO/IEC 7816-4 secure messaging with AES session keys:
// DO87 encrypted data, DO97 expected length, DO99 processing status and DO8E MAC.
package sm

import (
	"context"
	"fmt"

	"github.com/andrei-cloud/go_eid/internal/errorcodes"
	"github.com/andrei-cloud/go_eid/pkg/cryptoutils"
	"github.com/andrei-cloud/go_eid/pkg/iso7816"
	"github.com/andrei-cloud/go_eid/pkg/tlv"
	"github.com/rs/zerolog"
)

// Secure messaging data object tags.
const (
	TagEncryptedData    uint32 = 0x87
	TagExpectedLength   uint32 = 0x97
	TagProcessingStatus uint32 = 0x99
	TagMAC              uint32 = 0x8E

	paddingIndicator = 0x01
	macLength        = 8
)

// SessionKeys are the PACE-derived AES keys.
type SessionKeys struct {
	Enc []byte
	MAC []byte
}

// Wipe zeroes both keys.
func (k *SessionKeys) Wipe() {
	cryptoutils.Wipe(k.Enc)
	cryptoutils.Wipe(k.MAC)
}

// Channel protects commands sent through the underlying transceiver. It owns
// the send sequence counter; a Channel must not be shared between card sessions.
// After an integrity failure every later call fails with ErrSessionTerminated.
type Channel struct {
	next   iso7816.Transceiver
	keys   SessionKeys
	ssc    [cryptoutils.AES_BLOCK_SIZE]byte
	broken error
}

// NewChannel starts a channel with a zero counter.
func NewChannel(next iso7816.Transceiver, keys SessionKeys) *Channel {
	return &Channel{next: next, keys: keys}
}

// SSC returns a copy of the current send sequence counter.
func (c *Channel) SSC() []byte {
	return append([]byte(nil), c.ssc[:]...)
}

// Close wipes the session keys and terminates the channel.
func (c *Channel) Close() {
	c.keys.Wipe()
	if c.broken == nil {
		c.broken = errorcodes.ErrSessionTerminated
	}
}

// Transmit wraps cmd, sends it and unwraps the answer. The returned status
// word is the one carried in DO99.
func (c *Channel) Transmit(ctx context.Context, cmd iso7816.Command) ([]byte, iso7816.StatusWord, error) {
	if c.broken != nil {
		return nil, 0, fmt.Errorf("%w: %w", errorcodes.ErrSessionTerminated, c.broken)
	}

	wrapped, err := c.Wrap(cmd)
	if err != nil {
		return nil, 0, c.fail(err)
	}

	logger := zerolog.Ctx(ctx)
	logger.Debug().
		Str("event", "sm_wrap").
		Hex("header", cmd.Header()).
		Int("lc", len(cmd.Data)).
		Int("ne", cmd.Ne).
		Msg("protected command")

	data, sw, err := c.next.Transmit(ctx, wrapped)
	if err != nil {
		return nil, 0, c.fail(err)
	}
	for sw.SW1() == 0x61 {
		more, next, err := c.next.Transmit(ctx, iso7816.GetResponse(iso7816.NeFromSW2(sw.SW2())))
		if err != nil {
			return nil, 0, c.fail(err)
		}
		data = append(data, more...)
		sw = next
	}

	if len(data) == 0 && !sw.IsSuccess() {
		// Unprotected status: the card has left secure messaging.
		logger.Debug().Str("event", "sm_abort").Stringer("sw", sw).Msg("unprotected status")
		c.broken = &errorcodes.StatusWordError{Ins: cmd.Ins, SW: uint16(sw)}

		return nil, sw, nil
	}

	plain, inner, err := c.Unwrap(data)
	if err != nil {
		return nil, 0, err
	}
	logger.Debug().
		Str("event", "sm_unwrap").
		Int("len", len(plain)).
		Stringer("sw", inner).
		Msg("protected response")

	return plain, inner, nil
}

// Wrap increments the counter and builds the protected command.
func (c *Channel) Wrap(cmd iso7816.Command) (iso7816.Command, error) {
	cryptoutils.IncrementCounter(c.ssc[:])

	var do87 []byte
	if len(cmd.Data) > 0 {
		iv, err := cryptoutils.EncryptBlock(c.keys.Enc, c.ssc[:])
		if err != nil {
			return iso7816.Command{}, err
		}
		ct, err := cryptoutils.EncryptCBC(
			c.keys.Enc,
			iv,
			cryptoutils.PadISO9797Method2(cmd.Data, cryptoutils.AES_BLOCK_SIZE),
		)
		if err != nil {
			return iso7816.Command{}, err
		}
		do87 = tlv.Encode(TagEncryptedData, append([]byte{paddingIndicator}, ct...))
	}

	var do97 []byte
	if cmd.Ne > 0 {
		do97 = tlv.Encode(TagExpectedLength, encodeLe(cmd.Ne))
	}

	protected := cmd
	protected.Cla = cmd.Cla | iso7816.ClaSecureMessaging

	macInput := make([]byte, 0, 64+len(do87))
	macInput = append(macInput, c.ssc[:]...)
	macInput = append(macInput, cryptoutils.PadISO9797Method2(protected.Header(), cryptoutils.AES_BLOCK_SIZE)...)
	macInput = append(macInput, do87...)
	macInput = append(macInput, do97...)
	mac, err := cryptoutils.CMAC(
		c.keys.MAC,
		cryptoutils.PadISO9797Method2(macInput, cryptoutils.AES_BLOCK_SIZE),
		macLength,
	)
	if err != nil {
		return iso7816.Command{}, err
	}

	body := make([]byte, 0, len(do87)+len(do97)+2+macLength)
	body = append(body, do87...)
	body = append(body, do97...)
	body = append(body, tlv.Encode(TagMAC, mac)...)

	protected.Data = body
	protected.Ne = iso7816.MaxShortNe

	return protected, nil
}

// Unwrap increments the counter, checks the response MAC and decrypts DO87.
// Any failure terminates the channel.
func (c *Channel) Unwrap(resp []byte) ([]byte, iso7816.StatusWord, error) {
	records, err := tlv.DecodeAll(resp)
	if err != nil {
		return nil, 0, c.fail(err)
	}

	do87, hasData := tlv.Find(records, TagEncryptedData)
	do99, ok := tlv.Find(records, TagProcessingStatus)
	if !ok {
		return nil, 0, c.fail(errorcodes.ErrMissingStatusObject)
	}
	if len(do99.Value) != 2 {
		return nil, 0, c.fail(fmt.Errorf("%w: DO99 length %d", errorcodes.ErrProtocolDecode, len(do99.Value)))
	}
	do8e, ok := tlv.Find(records, TagMAC)
	if !ok {
		return nil, 0, c.fail(errorcodes.ErrMissingMACObject)
	}

	if len(do8e.Value) != macLength {
		return nil, 0, c.fail(fmt.Errorf("%w: DO8E length %d", errorcodes.ErrMACVerification, len(do8e.Value)))
	}

	cryptoutils.IncrementCounter(c.ssc[:])

	macInput := make([]byte, 0, 32+len(do87.Value))
	macInput = append(macInput, c.ssc[:]...)
	if hasData {
		macInput = append(macInput, do87.Bytes()...)
	}
	macInput = append(macInput, do99.Bytes()...)
	valid, err := cryptoutils.VerifyCMAC(
		c.keys.MAC,
		cryptoutils.PadISO9797Method2(macInput, cryptoutils.AES_BLOCK_SIZE),
		do8e.Value,
	)
	if err != nil {
		return nil, 0, c.fail(err)
	}
	if !valid {
		return nil, 0, c.fail(errorcodes.ErrMACVerification)
	}

	sw := iso7816.NewStatusWord(do99.Value[0], do99.Value[1])
	if !hasData {
		return nil, sw, nil
	}

	if len(do87.Value) < 1 || do87.Value[0] != paddingIndicator {
		return nil, 0, c.fail(fmt.Errorf("%w: DO87 padding indicator", errorcodes.ErrProtocolDecode))
	}
	iv, err := cryptoutils.EncryptBlock(c.keys.Enc, c.ssc[:])
	if err != nil {
		return nil, 0, c.fail(err)
	}
	padded, err := cryptoutils.DecryptCBC(c.keys.Enc, iv, do87.Value[1:])
	if err != nil {
		return nil, 0, c.fail(err)
	}
	plain, err := cryptoutils.UnpadISO9797Method2(padded)
	if err != nil {
		return nil, 0, c.fail(err)
	}

	return plain, sw, nil
}

func (c *Channel) fail(err error) error {
	if c.broken == nil {
		c.broken = err
	}

	return err
}

// encodeLe encodes Ne as a DO97 value: one byte up to 256 (00 for 256),
// two bytes above.
func encodeLe(ne int) []byte {
	switch {
	case ne <= iso7816.MaxShortNe:
		return []byte{byte(ne)}
	case ne >= 0x10000:
		return []byte{0x00, 0x00}
	default:
		return []byte{byte(ne >> 8), byte(ne)}
	}
}
