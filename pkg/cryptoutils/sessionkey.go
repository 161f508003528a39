package cryptoutils

import (
	"crypto/sha256"
)

// Key derivation counters.
const (
	KDFCounterEnc      byte = 1
	KDFCounterMAC      byte = 2
	KDFCounterPassword byte = 3
)

// KDF derives a 32-byte AES key: SHA-256(secret || 00 00 00 || counter).
func KDF(secret []byte, counter byte) []byte {
	h := sha256.New()
	h.Write(secret)
	h.Write([]byte{0x00, 0x00, 0x00, counter})

	return h.Sum(nil)
}
