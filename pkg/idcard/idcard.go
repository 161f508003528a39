// Package idcard maps eID card operations onto the APDU sequences of the
// Idemia and Thales applets and opens PACE-protected sessions over them.
package idcard

import (
	"context"
	"fmt"
	"strings"

	"github.com/andrei-cloud/go_eid/internal/errorcodes"
	"github.com/andrei-cloud/go_eid/pkg/pinblock"
)

// CodeType identifies one of the card's codes.
type CodeType int

const (
	CodePUK CodeType = iota
	CodePIN1
	CodePIN2
)

func (t CodeType) String() string {
	switch t {
	case CodePUK:
		return "PUK"
	case CodePIN1:
		return "PIN1"
	case CodePIN2:
		return "PIN2"
	default:
		return fmt.Sprintf("CodeType(%d)", int(t))
	}
}

// Policy returns the length policy for the code type.
func (t CodeType) Policy() pinblock.Policy {
	switch t {
	case CodePIN1:
		return pinblock.PIN1
	case CodePIN2:
		return pinblock.PIN2
	default:
		return pinblock.PUK
	}
}

// ParseCodeType accepts "puk", "pin1" and "pin2" in any case.
func ParseCodeType(name string) (CodeType, error) {
	for _, t := range []CodeType{CodePUK, CodePIN1, CodePIN2} {
		if strings.EqualFold(name, t.String()) {
			return t, nil
		}
	}

	return 0, fmt.Errorf("%w: unknown code type %q", errorcodes.ErrInvalidInput, name)
}

// CardInfo is the personal data file content.
type CardInfo struct {
	Surname        string `json:"surname"`
	GivenNames     string `json:"givenNames"`
	Sex            string `json:"sex"`
	Citizenship    string `json:"citizenship"`
	DateOfBirth    string `json:"dateOfBirth"`
	PersonalCode   string `json:"personalCode"`
	DocumentNumber string `json:"documentNumber"`
	DateOfExpiry   string `json:"dateOfExpiry"`
}

// CardCommands is the operation set every supported applet offers. All
// methods expect a transceiver that is already protected by secure messaging.
type CardCommands interface {
	// Vendor names the applet family.
	Vendor() string
	// CanChangePUK reports whether CHANGE REFERENCE DATA accepts the PUK.
	CanChangePUK() bool

	ReadPublicData(ctx context.Context) (CardInfo, error)
	ReadAuthenticationCertificate(ctx context.Context) ([]byte, error)
	ReadSignatureCertificate(ctx context.Context) ([]byte, error)
	// ReadCodeTryCounterRecord returns the remaining tries of the code.
	ReadCodeTryCounterRecord(ctx context.Context, t CodeType) (int, error)

	ChangeCode(ctx context.Context, t CodeType, newCode, currentCode string) error
	VerifyCode(ctx context.Context, t CodeType, code string) error
	UnblockCode(ctx context.Context, t CodeType, puk, newCode string) error

	Authenticate(ctx context.Context, hash []byte, pin1 string) ([]byte, error)
	CalculateSignature(ctx context.Context, hash []byte, pin2 string) ([]byte, error)
	DecryptData(ctx context.Context, data []byte, pin1 string) ([]byte, error)
}
