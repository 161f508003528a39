package cardsim

import (
	"github.com/andrei-cloud/go_eid/pkg/cryptoutils"
	"github.com/andrei-cloud/go_eid/pkg/iso7816"
	"github.com/andrei-cloud/go_eid/pkg/tlv"
)

type secureState struct {
	enc []byte
	mac []byte
	ssc [cryptoutils.AES_BLOCK_SIZE]byte
}

func newSecureState(enc, mac []byte) *secureState {
	return &secureState{
		enc: append([]byte(nil), enc...),
		mac: append([]byte(nil), mac...),
	}
}

// secure removes secure messaging from cmd, runs it and protects the answer.
// Any integrity error ends the session with a plain status word.
func (c *Card) secure(cmd iso7816.Command) ([]byte, iso7816.StatusWord) {
	s := c.sm
	if cmd.Cla&iso7816.ClaSecureMessaging != iso7816.ClaSecureMessaging {
		c.sm = nil

		return nil, iso7816.SWSMDataObjectsMissing
	}
	objects, err := tlv.DecodeAll(cmd.Data)
	if err != nil {
		c.sm = nil

		return nil, iso7816.SWSMDataObjectsIncorrect
	}
	do87, has87 := tlv.Find(objects, 0x87)
	do97, has97 := tlv.Find(objects, 0x97)
	do8e, ok := tlv.Find(objects, 0x8E)
	if !ok {
		c.sm = nil

		return nil, iso7816.SWSMDataObjectsMissing
	}

	cryptoutils.IncrementCounter(s.ssc[:])
	input := append([]byte(nil), s.ssc[:]...)
	input = append(input, cryptoutils.PadISO9797Method2(
		[]byte{cmd.Cla, cmd.Ins, cmd.P1, cmd.P2}, cryptoutils.AES_BLOCK_SIZE)...)
	if has87 {
		input = append(input, do87.Bytes()...)
	}
	if has97 {
		input = append(input, do97.Bytes()...)
	}
	valid, err := cryptoutils.VerifyCMAC(s.mac, cryptoutils.PadISO9797Method2(input, cryptoutils.AES_BLOCK_SIZE), do8e.Value)
	if err != nil || !valid {
		c.sm = nil

		return nil, iso7816.SWSMDataObjectsIncorrect
	}

	inner := iso7816.Command{
		Cla: cmd.Cla &^ iso7816.ClaSecureMessaging,
		Ins: cmd.Ins,
		P1:  cmd.P1,
		P2:  cmd.P2,
	}
	if has87 {
		if len(do87.Value) < 1 || do87.Value[0] != 0x01 {
			c.sm = nil

			return nil, iso7816.SWSMDataObjectsIncorrect
		}
		plain, err := s.crypt(do87.Value[1:], false)
		if err != nil {
			c.sm = nil

			return nil, iso7816.SWSMDataObjectsIncorrect
		}
		inner.Data = plain
	}
	if has97 {
		inner.Ne = decodeLe(do97.Value)
	}

	data, sw := c.handle(inner)

	resp, err := s.protect(data, sw)
	if err != nil {
		c.sm = nil

		return nil, swConditionsNotSatisfied
	}

	return resp, iso7816.SWSuccess
}

func (s *secureState) protect(data []byte, sw iso7816.StatusWord) ([]byte, error) {
	cryptoutils.IncrementCounter(s.ssc[:])

	var do87 []byte
	if len(data) > 0 {
		ct, err := s.crypt(data, true)
		if err != nil {
			return nil, err
		}
		do87 = tlv.Encode(0x87, append([]byte{0x01}, ct...))
	}
	do99 := tlv.Encode(0x99, []byte{sw.SW1(), sw.SW2()})

	input := append([]byte(nil), s.ssc[:]...)
	input = append(input, do87...)
	input = append(input, do99...)
	mac, err := cryptoutils.CMAC(s.mac, cryptoutils.PadISO9797Method2(input, cryptoutils.AES_BLOCK_SIZE), 8)
	if err != nil {
		return nil, err
	}

	out := append(do87, do99...)

	return append(out, tlv.Encode(0x8E, mac)...), nil
}

// crypt encrypts padded data or decrypts and unpads it, with IV = E(SSC).
func (s *secureState) crypt(data []byte, encrypt bool) ([]byte, error) {
	iv, err := cryptoutils.EncryptBlock(s.enc, s.ssc[:])
	if err != nil {
		return nil, err
	}
	if encrypt {
		return cryptoutils.EncryptCBC(s.enc, iv, cryptoutils.PadISO9797Method2(data, cryptoutils.AES_BLOCK_SIZE))
	}
	padded, err := cryptoutils.DecryptCBC(s.enc, iv, data)
	if err != nil {
		return nil, err
	}

	return cryptoutils.UnpadISO9797Method2(padded)
}

func decodeLe(v []byte) int {
	switch len(v) {
	case 1:
		if v[0] == 0 {
			return iso7816.MaxShortNe
		}

		return int(v[0])
	case 2:
		n := int(v[0])<<8 | int(v[1])
		if n == 0 {
			return 0x10000
		}

		return n
	default:
		return 0
	}
}
