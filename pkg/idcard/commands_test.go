package idcard

import (
	"context"
	"errors"
	"testing"

	"github.com/andrei-cloud/go_eid/internal/errorcodes"
	"github.com/andrei-cloud/go_eid/pkg/iso7816"
	"github.com/andrei-cloud/go_eid/pkg/tlv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTransceiver answers every command with 9000 and remembers a copy
// of it.
type recordingTransceiver struct {
	sent []iso7816.Command
}

func (r *recordingTransceiver) Transmit(_ context.Context, cmd iso7816.Command) ([]byte, iso7816.StatusWord, error) {
	cmd.Data = append([]byte(nil), cmd.Data...)
	r.sent = append(r.sent, cmd)

	return nil, iso7816.SWSuccess, nil
}

func TestCodeStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		sw        iso7816.StatusWord
		wantNil   bool
		wantKind  error
		remaining int
		blocked   bool
	}{
		{name: "success", sw: 0x9000, wantNil: true},
		{name: "three tries", sw: 0x63C3, wantKind: errorcodes.ErrPinVerification, remaining: 3},
		{name: "one try", sw: 0x63C1, wantKind: errorcodes.ErrPinVerification, remaining: 1},
		{name: "counter exhausted", sw: 0x63C0, wantKind: errorcodes.ErrPinVerification, blocked: true},
		{name: "method blocked", sw: 0x6983, wantKind: errorcodes.ErrPinVerification, blocked: true},
		{name: "new pin rejected", sw: 0x6A80, wantKind: errorcodes.ErrInvalidNewPIN},
		{name: "other", sw: 0x6982, wantKind: errorcodes.ErrStatusWord},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := CodeStatus(iso7816.InsVerify, tt.sw)
			if tt.wantNil {
				require.NoError(t, err)

				return
			}
			require.ErrorIs(t, err, tt.wantKind)
			sw, ok := errorcodes.StatusWord(err)
			require.True(t, ok)
			assert.Equal(t, uint16(tt.sw), sw)

			var pinErr *errorcodes.PinVerificationError
			if !errors.As(err, &pinErr) {
				assert.NotErrorIs(t, err, errorcodes.ErrPinVerification)

				return
			}
			assert.Equal(t, tt.blocked, pinErr.Blocked)
			n, ok := pinErr.TriesRemaining()
			assert.Equal(t, !tt.blocked, ok)
			assert.Equal(t, tt.remaining, n)
		})
	}
}

func TestFileSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		fcp   []byte
		want  int
		known bool
	}{
		{name: "tag 80", fcp: tlv.Encode(0x62, tlv.Encode(0x80, []byte{0x06, 0x1A})), want: 0x061A, known: true},
		{name: "tag 81", fcp: tlv.Encode(0x62, tlv.Encode(0x81, []byte{0x00, 0x10})), want: 0x10, known: true},
		{name: "fci", fcp: tlv.Encode(0x6F, tlv.Encode(0x80, []byte{0x01, 0x00})), want: 0x100, known: true},
		{name: "no size", fcp: tlv.Encode(0x62, tlv.Encode(0x82, []byte{0x01})), want: maxReadSize},
		{name: "empty", fcp: nil, want: maxReadSize},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			size, known := fileSize(tt.fcp)
			assert.Equal(t, tt.want, size)
			assert.Equal(t, tt.known, known)
		})
	}
}

// shortFileTransceiver answers SELECT with an FCP declaring size bytes and
// READ BINARY with data, then with empty responses.
type shortFileTransceiver struct {
	size int
	data []byte
}

func (s *shortFileTransceiver) Transmit(_ context.Context, cmd iso7816.Command) ([]byte, iso7816.StatusWord, error) {
	if cmd.Ins == iso7816.InsSelect {
		return tlv.Encode(0x62, tlv.Encode(0x80, []byte{byte(s.size >> 8), byte(s.size)})), iso7816.SWSuccess, nil
	}
	off := int(cmd.P1)<<8 | int(cmd.P2)
	if off >= len(s.data) {
		return nil, iso7816.SWSuccess, nil
	}

	return s.data[off:], iso7816.SWSuccess, nil
}

func TestReadFileSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		size    int
		data    []byte
		wantErr error
	}{
		{name: "complete", size: 4, data: []byte{1, 2, 3, 4}},
		{name: "truncated", size: 6, data: []byte{1, 2, 3, 4}, wantErr: errorcodes.ErrProtocolDecode},
		{name: "empty", size: 2, wantErr: errorcodes.ErrProtocolDecode},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := &commands{t: &shortFileTransceiver{size: tt.size, data: tt.data}}
			got, err := c.readFile(context.Background(), 0x02, []byte{0x50, 0x01})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.data, got)
		})
	}
}

func TestPadHash(t *testing.T) {
	t.Parallel()

	short := make([]byte, 32)
	short[0] = 0xAB
	padded := padHash(short)
	require.Len(t, padded, minHashSize)
	assert.Equal(t, make([]byte, 16), padded[:16])
	assert.Equal(t, short, padded[16:])

	long := make([]byte, 64)
	assert.Equal(t, long, padHash(long))
}

func TestUnsupportedCodeOperations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		run  func(ctx context.Context, tr iso7816.Transceiver) error
	}{
		{
			name: "thales unblock puk",
			run: func(ctx context.Context, tr iso7816.Transceiver) error {
				return NewThales(tr).UnblockCode(ctx, CodePUK, "17258403", "87654321")
			},
		},
		{
			name: "thales change puk",
			run: func(ctx context.Context, tr iso7816.Transceiver) error {
				return NewThales(tr).ChangeCode(ctx, CodePUK, "87654321", "17258403")
			},
		},
		{
			name: "idemia unblock puk",
			run: func(ctx context.Context, tr iso7816.Transceiver) error {
				return NewIdemia(tr).UnblockCode(ctx, CodePUK, "17258403", "87654321")
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr := &recordingTransceiver{}
			err := tt.run(context.Background(), tr)
			require.ErrorIs(t, err, errorcodes.ErrUnsupportedOperation)
			assert.Empty(t, tr.sent)
		})
	}
}

func TestPolicyCheckedBeforeSending(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		run  func(ctx context.Context, tr iso7816.Transceiver) error
	}{
		{
			name: "short pin1",
			run: func(ctx context.Context, tr iso7816.Transceiver) error {
				return NewIdemia(tr).VerifyCode(ctx, CodePIN1, "123")
			},
		},
		{
			name: "short pin2",
			run: func(ctx context.Context, tr iso7816.Transceiver) error {
				return NewThales(tr).VerifyCode(ctx, CodePIN2, "1234")
			},
		},
		{
			name: "letters in new pin",
			run: func(ctx context.Context, tr iso7816.Transceiver) error {
				return NewThales(tr).UnblockCode(ctx, CodePIN1, "17258403", "12a4")
			},
		},
		{
			name: "short puk",
			run: func(ctx context.Context, tr iso7816.Transceiver) error {
				return NewIdemia(tr).UnblockCode(ctx, CodePIN1, "1725", "4321")
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr := &recordingTransceiver{}
			err := tt.run(context.Background(), tr)
			require.ErrorIs(t, err, errorcodes.ErrInvalidInput)
			assert.Empty(t, tr.sent)
		})
	}
}

func TestVerifyCodeTemplates(t *testing.T) {
	t.Parallel()

	tr := &recordingTransceiver{}
	require.NoError(t, NewIdemia(tr).VerifyCode(context.Background(), CodePIN2, "12345"))
	require.NoError(t, NewThales(tr).VerifyCode(context.Background(), CodePIN2, "12345"))
	require.Len(t, tr.sent, 2)

	idemia, thales := tr.sent[0], tr.sent[1]
	assert.Equal(t, []byte{0x00, 0x20, 0x00, 0x85}, idemia.Header())
	assert.Equal(t, []byte("12345\xFF\xFF\xFF\xFF\xFF\xFF\xFF"), idemia.Data)
	assert.Equal(t, []byte{0x00, 0x20, 0x00, 0x82}, thales.Header())
	assert.Equal(t, []byte("12345\x00\x00\x00\x00\x00\x00\x00"), thales.Data)
}

func TestThalesUnblockLayout(t *testing.T) {
	t.Parallel()

	tr := &recordingTransceiver{}
	require.NoError(t, NewThales(tr).UnblockCode(context.Background(), CodePIN1, "17258403", "4321"))
	require.Len(t, tr.sent, 1)
	cmd := tr.sent[0]
	assert.Equal(t, []byte{0x00, 0x2C, 0x00, 0x81}, cmd.Header())
	assert.Equal(t, []byte("17258403\x00\x00\x00\x004321\x00\x00\x00\x00\x00\x00\x00\x00"), cmd.Data)
}

func TestSetSecurityEnvLayout(t *testing.T) {
	t.Parallel()

	tr := &recordingTransceiver{}
	c := &commands{t: tr}
	require.NoError(t, c.setSecurityEnv(context.Background(), envSignature, []byte{0xFF, 0x15, 0x08, 0x00}, 0x9F))
	require.NoError(t, c.setSecurityEnv(context.Background(), envDecipher, nil, 0x01))
	require.Len(t, tr.sent, 2)
	assert.Equal(t, []byte{0x00, 0x22, 0x41, 0xB6}, tr.sent[0].Header())
	assert.Equal(t, []byte{0x80, 0x04, 0xFF, 0x15, 0x08, 0x00, 0x84, 0x01, 0x9F}, tr.sent[0].Data)
	assert.Equal(t, []byte{0x84, 0x01, 0x01}, tr.sent[1].Data)
}

func TestParseCodeType(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]CodeType{"pin1": CodePIN1, "PIN2": CodePIN2, "puk": CodePUK} {
		got, err := ParseCodeType(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseCodeType("pin3")
	assert.ErrorIs(t, err, errorcodes.ErrInvalidInput)
}
