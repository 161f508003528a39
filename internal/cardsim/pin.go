package cardsim

import (
	"bytes"

	"github.com/andrei-cloud/go_eid/pkg/iso7816"
	"github.com/andrei-cloud/go_eid/pkg/tlv"
)

type pinState struct {
	value []byte
	tries int
	max   int
}

func newPinState(template []byte, tries int) *pinState {
	return &pinState{value: template, tries: tries, max: tries}
}

// check compares a presented template and updates the retry counter.
func (p *pinState) check(template []byte) iso7816.StatusWord {
	if p.tries == 0 {
		return iso7816.SWAuthMethodBlocked
	}
	if bytes.Equal(template, p.value) {
		p.tries = p.max

		return iso7816.SWSuccess
	}
	p.tries--

	return iso7816.NewStatusWord(0x63, 0xC0|byte(p.tries))
}

func (c *Card) verify(cmd iso7816.Command) ([]byte, iso7816.StatusWord) {
	p, ok := c.pins[cmd.P2]
	if !ok {
		return nil, iso7816.SWReferenceNotFound
	}
	if len(cmd.Data) == 0 {
		if p.tries == 0 {
			return nil, iso7816.SWAuthMethodBlocked
		}

		return nil, iso7816.NewStatusWord(0x63, 0xC0|byte(p.tries))
	}
	sw := p.check(cmd.Data)
	c.verified[cmd.P2] = sw.IsSuccess()

	return nil, sw
}

func (c *Card) change(cmd iso7816.Command) ([]byte, iso7816.StatusWord) {
	p, ok := c.pins[cmd.P2]
	if !ok {
		return nil, iso7816.SWReferenceNotFound
	}
	if cmd.P1 != 0x00 || len(cmd.Data) != 2*templateLength {
		return nil, swWrongLength
	}
	old, next := cmd.Data[:templateLength], cmd.Data[templateLength:]
	if sw := p.check(old); !sw.IsSuccess() {
		return nil, sw
	}
	if !c.acceptable(next, p) {
		return nil, iso7816.SWWrongData
	}
	p.value = append([]byte(nil), next...)

	return nil, iso7816.SWSuccess
}

// resetRetryCounter handles P1=00 (PUK and new code in the data) and
// P1=02 (new code only, PUK verified beforehand).
func (c *Card) resetRetryCounter(cmd iso7816.Command) ([]byte, iso7816.StatusWord) {
	p, ok := c.pins[cmd.P2]
	if !ok || cmd.P2 == c.profile.puk {
		return nil, iso7816.SWReferenceNotFound
	}
	var next []byte
	switch cmd.P1 {
	case 0x00:
		if len(cmd.Data) != 2*templateLength {
			return nil, swWrongLength
		}
		if sw := c.pins[c.profile.puk].check(cmd.Data[:templateLength]); !sw.IsSuccess() {
			return nil, sw
		}
		next = cmd.Data[templateLength:]
	case 0x02:
		if !c.verified[c.profile.puk] {
			return nil, iso7816.SWSecurityNotSatisfied
		}
		if len(cmd.Data) != templateLength {
			return nil, swWrongLength
		}
		next = cmd.Data
	default:
		return nil, swIncorrectP1P2
	}
	if !c.acceptable(next, nil) {
		return nil, iso7816.SWWrongData
	}
	p.value = append([]byte(nil), next...)
	p.tries = p.max
	c.verified[c.profile.puk] = false

	return nil, iso7816.SWSuccess
}

// acceptable rejects non-numeric codes, codes shorter than four digits and a
// code equal to the current one.
func (c *Card) acceptable(template []byte, current *pinState) bool {
	code := c.profile.code(template)
	if len(code) < 4 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}

	return current == nil || !bytes.Equal(template, current.value)
}

func (c *Card) getData(cmd iso7816.Command) ([]byte, iso7816.StatusWord) {
	return c.profile.tryCounter(c, cmd)
}

// lookupPin resolves a reference as sent in a GET DATA query, where the
// high bit may be cleared.
func (c *Card) lookupPin(ref byte) (byte, *pinState) {
	if p, ok := c.pins[ref]; ok {
		return ref, p
	}
	if p, ok := c.pins[ref|0x80]; ok {
		return ref | 0x80, p
	}

	return 0, nil
}

// idemiaTryCounter answers 00 CB 3F FF 4D { 70 { BF81xx { A0 80 } } } with
// 70 { BF81xx { A0 { 9A max, 9B tries } } }.
func idemiaTryCounter(c *Card, cmd iso7816.Command) ([]byte, iso7816.StatusWord) {
	if cmd.P1 != 0x3F || cmd.P2 != 0xFF {
		return nil, swIncorrectP1P2
	}
	inner, err := tlv.Path(cmd.Data, 0x4D, 0x70)
	if err != nil {
		return nil, iso7816.SWWrongData
	}
	rec, _, err := tlv.Decode(inner)
	if err != nil || rec.Tag&0xFFFF00 != 0xBF8100 {
		return nil, iso7816.SWWrongData
	}
	ref := byte(rec.Tag)
	_, p := c.lookupPin(ref)
	if p == nil {
		return nil, iso7816.SWReferenceNotFound
	}
	counters := append(tlv.Encode(0x9A, []byte{byte(p.max)}), tlv.Encode(0x9B, []byte{byte(p.tries)})...)

	return tlv.Encode(0x70, tlv.Encode(rec.Tag, tlv.Encode(0xA0, counters))), iso7816.SWSuccess
}

// thalesTryCounter answers 00 CB 00 FF A0 { 83 ref } with
// A0 { 83 ref, 8A status, DF21 tries }.
func thalesTryCounter(c *Card, cmd iso7816.Command) ([]byte, iso7816.StatusWord) {
	if cmd.P1 != 0x00 || cmd.P2 != 0xFF {
		return nil, swIncorrectP1P2
	}
	refValue, err := tlv.Path(cmd.Data, 0xA0, 0x83)
	if err != nil || len(refValue) != 1 {
		return nil, iso7816.SWWrongData
	}
	ref, p := c.lookupPin(refValue[0])
	if p == nil {
		return nil, iso7816.SWReferenceNotFound
	}
	var body []byte
	body = append(body, tlv.Encode(0x83, []byte{ref})...)
	body = append(body, tlv.Encode(0x8A, []byte{0x05})...)
	body = append(body, tlv.Encode(0xDF21, []byte{byte(p.tries)})...)

	return tlv.Encode(0xA0, body), iso7816.SWSuccess
}
