package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/andrei-cloud/go_eid/internal/errorcodes"
)

// EncryptCBC encrypts block-aligned plaintext with AES-CBC. No padding is applied.
func EncryptCBC(key, iv, plaintext []byte) ([]byte, error) {
	block, err := newCBCBlock(key, iv, plaintext)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plaintext)

	return out, nil
}

// DecryptCBC decrypts block-aligned ciphertext with AES-CBC. Padding is left in place.
func DecryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := newCBCBlock(key, iv, ciphertext)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)

	return out, nil
}

// EncryptBlock encrypts a single AES block (ECB), as used for SSC-derived IVs.
func EncryptBlock(key, src []byte) ([]byte, error) {
	if len(src) != aes.BlockSize {
		return nil, fmt.Errorf("%w: block must be %d bytes, got %d", errorcodes.ErrCrypto, aes.BlockSize, len(src))
	}

	return EncryptCBC(key, make([]byte, aes.BlockSize), src)
}

func newCBCBlock(key, iv, data []byte) (cipher.Block, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: aes cipher init failed: %w", errorcodes.ErrCrypto, err)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes, got %d", errorcodes.ErrCrypto, aes.BlockSize, len(iv))
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf(
			"%w: input length %d not a multiple of block size %d",
			errorcodes.ErrCrypto,
			len(data),
			aes.BlockSize,
		)
	}

	return block, nil
}
