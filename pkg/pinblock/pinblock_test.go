package pinblock

import (
	"bytes"
	"errors"
	"testing"

	"github.com/andrei-cloud/go_eid/internal/errorcodes"
)

func TestPolicyValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		policy  Policy
		code    string
		wantErr error
	}{
		{name: "pin1 shortest", policy: PIN1, code: "1234"},
		{name: "pin1 too short", policy: PIN1, code: "123", wantErr: errInvalidPinLength},
		{name: "pin2 shortest", policy: PIN2, code: "12345"},
		{name: "pin2 too short", policy: PIN2, code: "1234", wantErr: errInvalidPinLength},
		{name: "puk", policy: PUK, code: "17258403"},
		{name: "puk too short", policy: PUK, code: "1725840", wantErr: errInvalidPinLength},
		{name: "longest", policy: PIN1, code: "123456789012"},
		{name: "too long", policy: PIN1, code: "1234567890123", wantErr: errInvalidPinLength},
		{name: "letters", policy: PIN1, code: "12a4", wantErr: errNonDigit},
		{name: "empty", policy: PIN2, code: "", wantErr: errInvalidPinLength},
	}

	for _, tt := range tests {
		tt := tt // capture range variable.
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.policy.Validate(tt.code)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate(%q) error = %v", tt.code, err)
				}

				return
			}
			if !errors.Is(err, tt.wantErr) || !errors.Is(err, errorcodes.ErrInvalidInput) {
				t.Errorf("Validate(%q) error = %v, wantErr %v", tt.code, err, tt.wantErr)
			}
		})
	}
}

func TestEncodeTemplate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		code    string
		fill    byte
		want    []byte
		wantErr error
	}{
		{
			name: "idemia fill",
			code: "1234",
			fill: FillIdemia,
			want: []byte{0x31, 0x32, 0x33, 0x34, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
		},
		{
			name: "thales fill",
			code: "12345",
			fill: FillThales,
			want: []byte{0x31, 0x32, 0x33, 0x34, 0x35, 0, 0, 0, 0, 0, 0, 0},
		},
		{
			name: "full length",
			code: "123456789012",
			fill: FillIdemia,
			want: []byte("123456789012"),
		},
		{name: "too long", code: "1234567890123", fill: FillIdemia, wantErr: errInvalidPinLength},
		{name: "fill inside", code: "12\x0034", fill: FillThales, wantErr: errFillInCode},
	}

	for _, tt := range tests {
		tt := tt // capture range variable.
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := EncodeTemplate(tt.code, tt.fill)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("EncodeTemplate() error = %v, wantErr %v", err, tt.wantErr)
				}

				return
			}
			if err != nil {
				t.Fatalf("EncodeTemplate() error = %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("EncodeTemplate() = %X, want %X", got, tt.want)
			}

			decoded, err := DecodeTemplate(got, tt.fill)
			if err != nil {
				t.Fatalf("DecodeTemplate() error = %v", err)
			}
			if decoded != tt.code {
				t.Errorf("DecodeTemplate() = %q, want %q", decoded, tt.code)
			}
		})
	}
}

func TestDecodeTemplateLength(t *testing.T) {
	t.Parallel()
	if _, err := DecodeTemplate([]byte{0x31, 0xFF}, FillIdemia); !errors.Is(err, errInvalidTemplateLen) {
		t.Errorf("DecodeTemplate() error = %v, wantErr %v", err, errInvalidTemplateLen)
	}
}
