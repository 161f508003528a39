package cryptoutils

import (
	"bytes"
	"testing"

	"github.com/andrei-cloud/go_eid/internal/errorcodes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRaw2StrAndStr2Raw(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    []byte
		wantErr bool
	}{
		{
			name:  "basic hex conversion",
			input: "01AB0F",
			want:  []byte{0x01, 0xAB, 0x0F},
		},
		{
			name:  "blank separated",
			input: "01 ab 0f",
			want:  []byte{0x01, 0xAB, 0x0F},
		},
		{
			name:    "invalid hex",
			input:   "zz",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt // capture range variable.
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Str2Raw(tt.input)
			if tt.wantErr {
				assert.Error(t, err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "01AB0F", Raw2Str(got))
		})
	}
}

func TestPaddingRoundTrip(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 15, 16, 17, 31, 32, 33, 48} {
		msg := bytes.Repeat([]byte{0xA5}, n)
		padded := PadISO9797Method2(msg, AES_BLOCK_SIZE)
		assert.Zero(t, len(padded)%AES_BLOCK_SIZE, "len %d", n)
		assert.Greater(t, len(padded), n, "aligned input gets a full pad block")
		got, err := UnpadISO9797Method2(padded)
		require.NoError(t, err)
		assert.Equal(t, msg, got)
	}
}

func TestUnpadRejectsMissingMarker(t *testing.T) {
	t.Parallel()

	for _, in := range [][]byte{nil, make([]byte, 16), {0x01, 0x02, 0x00}} {
		_, err := UnpadISO9797Method2(in)
		assert.ErrorIs(t, err, errorcodes.ErrPadding)
	}
}

func TestIncrementCounter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{"zero", []byte{0x00, 0x00}, []byte{0x00, 0x01}},
		{"carry", []byte{0x00, 0xFF}, []byte{0x01, 0x00}},
		{"wrap", []byte{0xFF, 0xFF}, []byte{0x00, 0x00}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			IncrementCounter(tt.in)
			assert.Equal(t, tt.want, tt.in)
		})
	}
}

func TestLeftPad(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []byte{0x00, 0x00, 0x01}, LeftPad([]byte{0x01}, 3))
	assert.Equal(t, []byte{0x01, 0x02}, LeftPad([]byte{0x01, 0x02}, 1))
}

func TestChunk(t *testing.T) {
	t.Parallel()

	got := Chunk([]byte{1, 2, 3, 4, 5}, 2)
	assert.Equal(t, [][]byte{{1, 2}, {3, 4}, {5}}, got)
	assert.Empty(t, Chunk(nil, 16))
	assert.Nil(t, Chunk([]byte{1}, 0))
}
