package cryptoutils

import (
	"testing"

	"github.com/andrei-cloud/go_eid/internal/errorcodes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCBCKnownAnswer(t *testing.T) {
	t.Parallel()

	// NIST SP 800-38A F.2.1.
	iv := MustStr2Raw("000102030405060708090a0b0c0d0e0f")
	plain := MustStr2Raw("6bc1bee22e409f96e93d7e117393172a")

	ct, err := EncryptCBC(rfc4493Key, iv, plain)
	require.NoError(t, err)
	assert.Equal(t, "7649ABAC8119B246CEE98E9B12E9197D", Raw2Str(ct))

	pt, err := DecryptCBC(rfc4493Key, iv, ct)
	require.NoError(t, err)
	assert.Equal(t, plain, pt)
}

func TestCBCErrors(t *testing.T) {
	t.Parallel()

	iv := make([]byte, 16)
	tests := []struct {
		name string
		key  []byte
		iv   []byte
		data []byte
	}{
		{"bad key", []byte{0x01, 0x02}, iv, make([]byte, 16)},
		{"bad iv", rfc4493Key, iv[:8], make([]byte, 16)},
		{"unaligned", rfc4493Key, iv, make([]byte, 15)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := EncryptCBC(tt.key, tt.iv, tt.data)
			assert.ErrorIs(t, err, errorcodes.ErrCrypto)
			_, err = DecryptCBC(tt.key, tt.iv, tt.data)
			assert.ErrorIs(t, err, errorcodes.ErrCrypto)
		})
	}
}

func TestEncryptBlockEqualsZeroIVCBC(t *testing.T) {
	t.Parallel()

	ssc := MustStr2Raw("00000000000000000000000000000001")
	a, err := EncryptBlock(rfc4493Key, ssc)
	require.NoError(t, err)
	b, err := EncryptCBC(rfc4493Key, make([]byte, 16), ssc)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = EncryptBlock(rfc4493Key, ssc[:4])
	assert.ErrorIs(t, err, errorcodes.ErrCrypto)
}

func TestKDF(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		"8DF3278FB32026E66277357FCD6C826DBEB3DE32088B2531757D753940185923",
		Raw2Str(KDF([]byte("123456"), KDFCounterPassword)),
	)
	assert.Equal(t,
		"A1F2C4FFDC489AA3B597BFA29DD6B0405F4293FF978C315A1AB8064DFB0AF213",
		Raw2Str(KDF(MustStr2Raw("00112233"), KDFCounterEnc)),
	)
}
