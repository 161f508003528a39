package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"fmt"

	"github.com/andrei-cloud/go_eid/internal/errorcodes"
)

// CMAC computes an AES-CMAC tag (RFC 4493, NIST SP 800-38B) of tagLen bytes (1-16) over msg.
// key must be 16, 24 or 32 bytes.
func CMAC(key, msg []byte, tagLen int) ([]byte, error) {
	if tagLen < 1 || tagLen > aes.BlockSize {
		return nil, fmt.Errorf("%w: invalid MAC length %d", errorcodes.ErrCrypto, tagLen)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: aes cipher init failed: %w", errorcodes.ErrCrypto, err)
	}
	const blockSize = aes.BlockSize

	k1, k2 := subkeys(block)

	head := msg
	var last []byte // M_n XOR K1 or padded M_n XOR K2

	switch {
	case len(msg) == 0:
		// Empty message: one block of padding, masked with K2.
		padded := make([]byte, blockSize)
		padded[0] = ISO9797_METHOD2_PADDING_BYTE
		last = xorBlock(padded, k2)
		head = nil
	case len(msg)%blockSize == 0:
		// Complete final block, masked with K1.
		last = xorBlock(msg[len(msg)-blockSize:], k1)
		head = msg[:len(msg)-blockSize]
	default:
		// Incomplete final block: pad then mask with K2.
		n := len(msg) % blockSize
		padded := make([]byte, blockSize)
		copy(padded, msg[len(msg)-n:])
		padded[n] = ISO9797_METHOD2_PADDING_BYTE
		last = xorBlock(padded, k2)
		head = msg[:len(msg)-n]
	}

	// CBC-MAC with zero IV.
	x := make([]byte, blockSize)
	for _, m := range Chunk(head, blockSize) {
		block.Encrypt(x, xorBlock(x, m))
	}
	block.Encrypt(x, xorBlock(x, last))

	return x[:tagLen], nil
}

// VerifyCMAC recomputes the tag over msg and compares it in constant time.
func VerifyCMAC(key, msg, tag []byte) (bool, error) {
	want, err := CMAC(key, msg, len(tag))
	if err != nil {
		return false, err
	}

	return subtle.ConstantTimeCompare(want, tag) == 1, nil
}

// CMACSubkeys returns the K1 and K2 subkeys derived from key.
func CMACSubkeys(key []byte) ([]byte, []byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: aes cipher init failed: %w", errorcodes.ErrCrypto, err)
	}
	k1, k2 := subkeys(block)

	return k1, k2, nil
}

// subkeys derives K1, K2 from L = AES-K(0^n).
func subkeys(block cipher.Block) ([]byte, []byte) {
	l := make([]byte, block.BlockSize())
	block.Encrypt(l, l)
	k1 := shiftLeftRb(l)

	return k1, shiftLeftRb(k1)
}

// shiftLeftRb shifts b left by 1 bit and XORs with Rb if the MSB was set.
func shiftLeftRb(b []byte) []byte {
	const rb = 0x87
	n := len(b)
	out := make([]byte, n)
	carry := byte(0)

	for i := n - 1; i >= 0; i-- {
		out[i] = (b[i] << 1) | carry
		carry = (b[i] >> 7) & 0x01
	}

	if (b[0] & 0x80) != 0 {
		out[n-1] ^= rb
	}

	return out
}

// xorBlock XORs two equal-length byte slices.
func xorBlock(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}

	return out
}
