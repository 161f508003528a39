// Package pinblock encodes eID PIN and PUK values into the fixed-length,
// fill-padded templates carried by VERIFY, CHANGE REFERENCE DATA and
// RESET RETRY COUNTER.
package pinblock

import (
	"errors"
	"fmt"

	"github.com/andrei-cloud/go_eid/internal/errorcodes"
)

// TemplateLength is the size of one code template.
const TemplateLength = 12

// Fill bytes used by the supported applets.
const (
	FillIdemia byte = 0xFF
	FillThales byte = 0x00
)

var (
	errInvalidPinLength   = errors.New("invalid pin length")
	errNonDigit           = errors.New("pin contains non-digit characters")
	errInvalidTemplateLen = errors.New("invalid pin template length")
	errFillInCode         = errors.New("pin contains the fill byte")
)

// Policy bounds the length of a code. Codes are decimal digits only.
type Policy struct {
	Name string
	Min  int
	Max  int
}

// Code policies of the Estonian eID card.
var (
	PIN1 = Policy{Name: "PIN1", Min: 4, Max: TemplateLength}
	PIN2 = Policy{Name: "PIN2", Min: 5, Max: TemplateLength}
	PUK  = Policy{Name: "PUK", Min: 8, Max: TemplateLength}
)

// Validate checks code against the policy before anything is sent to a card.
func (p Policy) Validate(code string) error {
	if len(code) < p.Min || len(code) > p.Max {
		return fmt.Errorf(
			"%w: %s must be %d-%d digits: %w",
			errorcodes.ErrInvalidInput, p.Name, p.Min, p.Max, errInvalidPinLength,
		)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: %s: %w", errorcodes.ErrInvalidInput, p.Name, errNonDigit)
		}
	}

	return nil
}

// EncodeTemplate returns the UTF-8 bytes of code right-padded with fill to
// TemplateLength.
func EncodeTemplate(code string, fill byte) ([]byte, error) {
	if len(code) > TemplateLength {
		return nil, fmt.Errorf("%w: %w", errorcodes.ErrInvalidInput, errInvalidPinLength)
	}
	for i := 0; i < len(code); i++ {
		if code[i] == fill {
			return nil, fmt.Errorf("%w: %w", errorcodes.ErrInvalidInput, errFillInCode)
		}
	}

	return Pad(code, fill), nil
}

// Pad right-pads code with fill up to TemplateLength. Longer codes are
// returned unchanged.
func Pad(code string, fill byte) []byte {
	out := make([]byte, 0, TemplateLength)
	out = append(out, code...)
	for len(out) < TemplateLength {
		out = append(out, fill)
	}

	return out
}

// DecodeTemplate strips the trailing fill bytes from a template.
func DecodeTemplate(template []byte, fill byte) (string, error) {
	if len(template) != TemplateLength {
		return "", fmt.Errorf("%w: %w", errorcodes.ErrInvalidInput, errInvalidTemplateLen)
	}
	end := len(template)
	for end > 0 && template[end-1] == fill {
		end--
	}

	return string(template[:end]), nil
}
