package cardsim

import (
	"github.com/andrei-cloud/go_eid/pkg/iso7816"
	"github.com/andrei-cloud/go_eid/pkg/tlv"
)

func (c *Card) selectFile(cmd iso7816.Command) ([]byte, iso7816.StatusWord) {
	switch cmd.P1 {
	case 0x04:
		if !c.profile.isApp(cmd.Data) {
			return nil, iso7816.SWFileNotFound
		}
		c.current = nil
		if cmd.P2 == 0x0C {
			return nil, iso7816.SWSuccess
		}

		return tlv.Encode(0x6F, tlv.Encode(0x84, cmd.Data)), iso7816.SWSuccess
	case 0x01, 0x02, 0x08, 0x09:
		key := hexKey(cmd.Data)
		if c.dfs[key] {
			c.current = nil
			if cmd.P2 == 0x0C {
				return nil, iso7816.SWSuccess
			}

			return tlv.Encode(0x62, tlv.Encode(0x82, []byte{0x38})), iso7816.SWSuccess
		}
		if _, ok := c.files[key]; !ok {
			return nil, iso7816.SWFileNotFound
		}
		c.current = append([]byte(nil), cmd.Data...)
		if cmd.P2 == 0x0C {
			return nil, iso7816.SWSuccess
		}

		return c.fcp(key), iso7816.SWSuccess
	default:
		return nil, swIncorrectP1P2
	}
}

// fcp builds 62 { 80 size, 82 descriptor, 83 fid }.
func (c *Card) fcp(key string) []byte {
	size := len(c.files[key])
	fid := c.current[len(c.current)-2:]
	var body []byte
	body = append(body, tlv.Encode(0x80, []byte{byte(size >> 8), byte(size)})...)
	body = append(body, tlv.Encode(0x82, []byte{0x01})...)
	body = append(body, tlv.Encode(0x83, fid)...)

	return tlv.Encode(0x62, body)
}

func (c *Card) readBinary(cmd iso7816.Command) ([]byte, iso7816.StatusWord) {
	if c.current == nil {
		return nil, swNoCurrentEF
	}
	if cmd.P1&0x80 != 0 {
		return nil, swIncorrectP1P2
	}
	content := c.files[hexKey(c.current)]
	off := int(cmd.P1)<<8 | int(cmd.P2)
	if off > len(content) {
		return nil, swIncorrectParameters
	}
	remaining := len(content) - off
	n := cmd.Ne
	if c.cfg.LengthHints && c.sm == nil && n > remaining && remaining > 0 && remaining < iso7816.MaxShortNe {
		return nil, iso7816.NewStatusWord(0x6C, byte(remaining))
	}
	if n == 0 || n > remaining {
		n = remaining
	}

	return append([]byte(nil), content[off:off+n]...), iso7816.SWSuccess
}
