// Package iso7816 builds ISO/IEC 7816-4 command APDUs and exchanges them with a
// card, applying the 61xx and 6Cxx continuation rules.
package iso7816

import (
	"fmt"

	"github.com/andrei-cloud/go_eid/internal/errorcodes"
	"github.com/skythen/apdu"
)

// Instruction bytes used by the eID applications.
const (
	InsVerify               byte = 0x20
	InsManageSecurityEnv    byte = 0x22
	InsChangeReferenceData  byte = 0x24
	InsPerformSecurityOp    byte = 0x2A
	InsResetRetryCounter    byte = 0x2C
	InsGeneralAuthenticate  byte = 0x86
	InsInternalAuthenticate byte = 0x88
	InsSelect               byte = 0xA4
	InsReadBinary           byte = 0xB0
	InsGetResponse          byte = 0xC0
	InsGetData              byte = 0xCB
)

// Class byte flags.
const (
	ClaChaining        byte = 0x10
	ClaSecureMessaging byte = 0x0C
)

// MaxShortNe is the largest Ne that fits a short Le (encoded as 00).
const MaxShortNe = apdu.MaxLenResponseDataStandard

// Command is a command APDU. Ne is the expected response length, 0 for none.
type Command struct {
	Cla  byte
	Ins  byte
	P1   byte
	P2   byte
	Data []byte
	Ne   int
}

// Bytes encodes the command per the ISO 7816-4 case rules.
func (c Command) Bytes() ([]byte, error) {
	capdu := apdu.Capdu{Cla: c.Cla, Ins: c.Ins, P1: c.P1, P2: c.P2, Data: c.Data, Ne: c.Ne}
	b, err := capdu.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: encode apdu %02X: %w", errorcodes.ErrProtocolDecode, c.Ins, err)
	}

	return b, nil
}

// Header returns CLA INS P1 P2.
func (c Command) Header() []byte {
	return []byte{c.Cla, c.Ins, c.P1, c.P2}
}

// ParseCommand decodes a raw command APDU.
func ParseCommand(b []byte) (Command, error) {
	capdu, err := apdu.ParseCapdu(b)
	if err != nil {
		return Command{}, fmt.Errorf("%w: parse apdu: %w", errorcodes.ErrProtocolDecode, err)
	}

	return Command{Cla: capdu.Cla, Ins: capdu.Ins, P1: capdu.P1, P2: capdu.P2, Data: capdu.Data, Ne: capdu.Ne}, nil
}

// StatusWord is the two-byte SW1 SW2 trailer.
type StatusWord uint16

// Well-known status words.
const (
	SWSuccess                 StatusWord = 0x9000
	SWWrongCAN                StatusWord = 0x6300
	SWVerificationBlocked     StatusWord = 0x63C0
	SWAuthMethodBlocked       StatusWord = 0x6983
	SWSecurityNotSatisfied    StatusWord = 0x6982
	SWSMDataObjectsMissing    StatusWord = 0x6987
	SWSMDataObjectsIncorrect  StatusWord = 0x6988
	SWWrongData               StatusWord = 0x6A80
	SWFileNotFound            StatusWord = 0x6A82
	SWReferenceNotFound       StatusWord = 0x6A88
	SWInstructionNotSupported StatusWord = 0x6D00
)

// NewStatusWord joins SW1 and SW2.
func NewStatusWord(sw1, sw2 byte) StatusWord {
	return StatusWord(uint16(sw1)<<8 | uint16(sw2))
}

// SW1 returns the high byte.
func (sw StatusWord) SW1() byte { return byte(sw >> 8) }

// SW2 returns the low byte.
func (sw StatusWord) SW2() byte { return byte(sw) }

// IsSuccess reports sw == 9000.
func (sw StatusWord) IsSuccess() bool { return sw == SWSuccess }

func (sw StatusWord) String() string {
	return fmt.Sprintf("%04X", uint16(sw))
}

// Err returns nil for 9000 and a StatusWordError otherwise.
func (sw StatusWord) Err(ins byte) error {
	if sw.IsSuccess() {
		return nil
	}

	return &errorcodes.StatusWordError{Ins: ins, SW: uint16(sw)}
}

// Response splits a raw response into data and status word.
func Response(raw []byte) ([]byte, StatusWord, error) {
	rapdu, err := apdu.ParseRapdu(raw)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: parse response: %w", errorcodes.ErrProtocolDecode, err)
	}

	return rapdu.Data, NewStatusWord(rapdu.SW1, rapdu.SW2), nil
}

// EncodeResponse appends the status word to data.
func EncodeResponse(data []byte, sw StatusWord) []byte {
	out := make([]byte, 0, len(data)+2)
	out = append(out, data...)

	return append(out, sw.SW1(), sw.SW2())
}
