// Package errorcodes defines card session errors using a structured type.
// CardError holds a short kind code and a human-readable description.
package errorcodes

import (
	"errors"
	"fmt"
)

// Predefined card error kinds.
var (
	ErrTransport            = CardError{"TR", "Transport failure"}
	ErrProtocolDecode       = CardError{"PD", "Malformed card response"}
	ErrStatusWord           = CardError{"SW", "Card rejected command"}
	ErrAuthentication       = CardError{"AU", "PACE authentication failed"}
	ErrWrongCAN             = CardError{"CN", "Card reports wrong card access number"}
	ErrPinVerification      = CardError{"PV", "PIN verification failed"}
	ErrInvalidNewPIN        = CardError{"NP", "New PIN rejected by card"}
	ErrUnsupportedOperation = CardError{"NS", "Operation not supported by this card"}
	ErrMACVerification      = CardError{"MC", "Secure messaging MAC verification failed"}
	ErrPadding              = CardError{"PA", "Invalid ISO 9797-1 padding"}
	ErrMissingStatusObject  = CardError{"99", "Secure messaging response lacks processing status object"}
	ErrMissingMACObject     = CardError{"8E", "Secure messaging response lacks MAC object"}
	ErrCardNotSupported     = CardError{"CS", "Card application not supported"}
	ErrSessionTerminated    = CardError{"ST", "Card session terminated"}
	ErrCrypto               = CardError{"CR", "Cryptographic primitive failure"}
	ErrInvalidInput         = CardError{"IN", "Invalid input"}
)

// kinds is ordered from the most specific to the most generic kind.
var kinds = []CardError{
	ErrWrongCAN,
	ErrMissingStatusObject,
	ErrMissingMACObject,
	ErrMACVerification,
	ErrPadding,
	ErrPinVerification,
	ErrInvalidNewPIN,
	ErrUnsupportedOperation,
	ErrCardNotSupported,
	ErrSessionTerminated,
	ErrInvalidInput,
	ErrAuthentication,
	ErrStatusWord,
	ErrProtocolDecode,
	ErrCrypto,
	ErrTransport,
}

// CardError represents a card error with its kind code and description.
type CardError struct {
	Code        string // short kind code
	Description string // human-readable description
}

// Error implements the Go error interface: "<Code>: <Description>".
func (e CardError) Error() string {
	return e.Code + ": " + e.Description
}

// CodeOnly returns only the kind code (e.g., "PV").
func (e CardError) CodeOnly() string {
	return e.Code
}

// StatusWordError is returned when the card answers with a status word other than 0x9000.
type StatusWordError struct {
	Ins byte
	SW  uint16
}

func (e *StatusWordError) Error() string {
	return fmt.Sprintf("card rejected INS %02X with SW %04X", e.Ins, e.SW)
}

// Is reports the error as ErrStatusWord.
func (e *StatusWordError) Is(target error) bool {
	return target == ErrStatusWord
}

// PinVerificationError carries the retry state reported by the card after a failed PIN check.
type PinVerificationError struct {
	SW        uint16
	Remaining int
	Blocked   bool
}

func (e *PinVerificationError) Error() string {
	if e.Blocked {
		return fmt.Sprintf("pin verification failed (SW %04X): method blocked", e.SW)
	}

	return fmt.Sprintf("pin verification failed (SW %04X): %d tries remaining", e.SW, e.Remaining)
}

// Is reports the error as ErrPinVerification.
func (e *PinVerificationError) Is(target error) bool {
	return target == ErrPinVerification
}

// TriesRemaining returns the retry count and whether the card reported one.
func (e *PinVerificationError) TriesRemaining() (int, bool) {
	if e.Blocked {
		return 0, false
	}

	return e.Remaining, true
}

// KindOf returns the most specific predefined kind err belongs to.
func KindOf(err error) (CardError, bool) {
	if err == nil {
		return CardError{}, false
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k, true
		}
	}

	return CardError{}, false
}

// StatusWord extracts the raw status word from err, if any.
func StatusWord(err error) (uint16, bool) {
	var swErr *StatusWordError
	if errors.As(err, &swErr) {
		return swErr.SW, true
	}
	var pinErr *PinVerificationError
	if errors.As(err, &pinErr) {
		return pinErr.SW, true
	}

	return 0, false
}

// UserMessage renders err for display: the kind description, the retry
// state of a failed PIN check or the status word of a rejected command.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var pinErr *PinVerificationError
	if errors.As(err, &pinErr) {
		if pinErr.Blocked {
			return ErrPinVerification.Description + ": code is blocked"
		}

		return fmt.Sprintf("%s: %d tries remaining", ErrPinVerification.Description, pinErr.Remaining)
	}
	kind, ok := KindOf(err)
	if !ok {
		return err.Error()
	}
	if sw, ok := StatusWord(err); ok {
		return fmt.Sprintf("%s (SW %04X)", kind.Description, sw)
	}

	return kind.Description
}
