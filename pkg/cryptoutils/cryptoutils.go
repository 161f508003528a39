// Package cryptoutils provides byte-level and AES helpers used by the PACE
// handshake and the secure messaging channel.
package cryptoutils

import (
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/andrei-cloud/go_eid/internal/errorcodes"
)

const (
	ISO9797_METHOD2_PADDING_BYTE = 0x80
	AES_BLOCK_SIZE               = 16
)

// PadISO9797Method2 implements ISO/IEC 9797-1 padding method 2.
// Adds 0x80 followed by the smallest number of 0x00 bytes to make data a multiple of bs.
// A full padding block is appended when data is already aligned.
func PadISO9797Method2(msg []byte, bs int) []byte {
	return padISO9797Method1(slices.Concat(msg, []byte{ISO9797_METHOD2_PADDING_BYTE}), bs)
}

// padISO9797Method1 adds the smallest number of 0x00 bytes to make data a multiple of blockSize.
func padISO9797Method1(data []byte, blockSize int) []byte {
	remainder := len(data) % blockSize
	if remainder == 0 && len(data) > 0 {
		return data
	}

	if len(data) == 0 {
		return make([]byte, blockSize)
	}

	padding := make([]byte, blockSize-remainder)

	return slices.Concat(data, padding)
}

// UnpadISO9797Method2 strips trailing zeros and the 0x80 marker.
func UnpadISO9797Method2(data []byte) ([]byte, error) {
	i := len(data) - 1
	for i >= 0 && data[i] == 0x00 {
		i--
	}
	if i < 0 || data[i] != ISO9797_METHOD2_PADDING_BYTE {
		return nil, fmt.Errorf("%w: padding marker not found", errorcodes.ErrPadding)
	}

	return data[:i], nil
}

// Raw2Str converts raw binary data to an uppercase hex string.
func Raw2Str(raw []byte) string {
	return strings.ToUpper(hex.EncodeToString(raw))
}

// Str2Raw decodes a hex string, ignoring blanks between octets.
func Str2Raw(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}

	return raw, nil
}

// MustStr2Raw is Str2Raw for compile-time constants.
func MustStr2Raw(s string) []byte {
	raw, err := Str2Raw(s)
	if err != nil {
		panic(err)
	}

	return raw
}

// Chunk splits b into pieces of at most sz bytes.
func Chunk(b []byte, sz int) [][]byte {
	if sz <= 0 {
		return nil
	}
	n := (len(b) + sz - 1) / sz
	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		start := i * sz
		end := start + sz
		if end > len(b) {
			end = len(b)
		}
		out[i] = b[start:end]
	}

	return out
}

// IncrementCounter adds one to the big-endian counter in place, wrapping at all-ones.
func IncrementCounter(counter []byte) {
	for i := len(counter) - 1; i >= 0; i-- {
		counter[i]++
		if counter[i] != 0 {
			return
		}
	}
}

// LeftPad returns data prefixed with zero bytes up to size; longer input is returned unchanged.
func LeftPad(data []byte, size int) []byte {
	if len(data) >= size {
		return data
	}

	return slices.Concat(make([]byte, size-len(data)), data)
}

// Wipe zeroes b.
func Wipe(b []byte) {
	clear(b)
}
