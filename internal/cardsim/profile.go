package cardsim

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/andrei-cloud/go_eid/pkg/cryptoutils"
	"github.com/andrei-cloud/go_eid/pkg/iso7816"
	"github.com/andrei-cloud/go_eid/pkg/pinblock"
	"github.com/andrei-cloud/go_eid/pkg/tlv"
)

const templateLength = pinblock.TemplateLength

var efCardAccess = []byte{0x01, 0x1C}

// paceOID is id-PACE-ECDH-GM-AES-CBC-CMAC-256.
var paceOID = []byte{0x04, 0x00, 0x7F, 0x00, 0x07, 0x02, 0x02, 0x04, 0x02, 0x04}

type tryCounterFunc func(c *Card, cmd iso7816.Command) ([]byte, iso7816.StatusWord)

type profile struct {
	initialAID []byte
	atr        []byte
	apps       [][]byte
	personalDF []byte
	authCert   []byte
	signCert   []byte

	fill    byte
	pin1    byte
	pin2    byte
	puk     byte
	authKey byte
	signKey byte

	// hashFirst reports whether COMPUTE DIGITAL SIGNATURE takes the hash from a
	// preceding HASH operation instead of the command data.
	hashFirst  bool
	tryCounter tryCounterFunc
}

func profileFor(v Vendor) (*profile, error) {
	switch v {
	case Idemia:
		return &profile{
			initialAID: cryptoutils.MustStr2Raw("A000000077010800070000FE00000100"),
			atr:        cryptoutils.MustStr2Raw("3BDB960080B1FE451F830012233F536549440F9000F1"),
			apps: [][]byte{
				cryptoutils.MustStr2Raw("A000000077010800070000FE00000100"),
				cryptoutils.MustStr2Raw("51534344204170706C69636174696F6E"),
				cryptoutils.MustStr2Raw("E828BD080FF2504F5420415750"),
			},
			personalDF: []byte{0x50, 0x00},
			authCert:   []byte{0xAD, 0xF1, 0x34, 0x01},
			signCert:   []byte{0xAD, 0xF2, 0x34, 0x1F},
			fill:       pinblock.FillIdemia,
			pin1:       0x01,
			pin2:       0x85,
			puk:        0x02,
			authKey:    0x81,
			signKey:    0x9F,
			tryCounter: idemiaTryCounter,
		}, nil
	case Thales:
		return &profile{
			initialAID: cryptoutils.MustStr2Raw("A0000000181002030000000000000001"),
			atr:        cryptoutils.MustStr2Raw("3BFF9600008031FE438031B85365494464B085051012233F1D"),
			apps: [][]byte{
				cryptoutils.MustStr2Raw("A0000000181002030000000000000001"),
				cryptoutils.MustStr2Raw("A000000063504B43532D3135"),
			},
			personalDF: []byte{0xDF, 0xDD},
			authCert:   []byte{0xAD, 0xF1, 0x34, 0x11},
			signCert:   []byte{0xAD, 0xF2, 0x34, 0x21},
			fill:       pinblock.FillThales,
			pin1:       0x81,
			pin2:       0x82,
			puk:        0x83,
			authKey:    0x01,
			signKey:    0x05,
			hashFirst:  true,
			tryCounter: thalesTryCounter,
		}, nil
	default:
		return nil, fmt.Errorf("cardsim: unsupported vendor %s", v)
	}
}

func (p *profile) template(code string) []byte {
	return pinblock.Pad(code, p.fill)
}

// code strips the fill bytes from a template; a malformed template yields "".
func (p *profile) code(template []byte) string {
	code, err := pinblock.DecodeTemplate(template, p.fill)
	if err != nil {
		return ""
	}

	return code
}

func (p *profile) pinForKey(key byte) byte {
	if key == p.signKey {
		return p.pin2
	}

	return p.pin1
}

func (p *profile) isApp(aid []byte) bool {
	for _, a := range p.apps {
		if hexKey(a) == hexKey(aid) {
			return true
		}
	}

	return false
}

// records lays out the eight personal data files 5001..5008.
func records(h *Holder) []string {
	return []string{
		h.Surname,
		h.GivenNames,
		h.Sex,
		h.Citizenship,
		h.Birth,
		h.PersonalCode,
		h.DocumentNumber,
		h.Expiry,
	}
}

// cardAccess encodes SET { SEQUENCE { OID, version 2, parameter id } }.
func cardAccess(paramID byte) []byte {
	var info []byte
	info = append(info, tlv.Encode(0x06, paceOID)...)
	info = append(info, tlv.Encode(0x02, []byte{0x02})...)
	info = append(info, tlv.Encode(0x02, []byte{paramID})...)

	return tlv.Encode(0x31, tlv.Encode(0x30, info))
}

func hexKey(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}
