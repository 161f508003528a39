package ecc

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/andrei-cloud/go_eid/internal/errorcodes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByParamID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id      byte
		bits    int
		wantErr bool
	}{
		{id: ParamP256, bits: 256},
		{id: ParamBP256r1, bits: 256},
		{id: ParamP384, bits: 384},
		{id: ParamBP384r1, bits: 384},
		{id: ParamBP512r1, bits: 512},
		{id: ParamP521, bits: 521},
		{id: 14, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(big.NewInt(int64(tt.id)).String(), func(t *testing.T) {
			t.Parallel()
			d, err := ByParamID(tt.id)
			if tt.wantErr {
				assert.ErrorIs(t, err, errorcodes.ErrCardNotSupported)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bits, d.Curve.Params().BitSize)
			assert.True(t, d.Curve.IsOnCurve(d.Gx, d.Gy))
		})
	}
}

func TestGenericMappingAgreement(t *testing.T) {
	t.Parallel()

	for _, id := range []byte{ParamP256, ParamBP256r1, ParamP384} {
		id := id
		t.Run(big.NewInt(int64(id)).String(), func(t *testing.T) {
			t.Parallel()
			d, err := ByParamID(id)
			require.NoError(t, err)

			// mapping keys on the base generator
			privT, tx, ty, err := d.GenerateKey(rand.Reader)
			require.NoError(t, err)
			privC, cx, cy, err := d.GenerateKey(rand.Reader)
			require.NoError(t, err)

			htx, hty := d.Curve.ScalarMult(cx, cy, privT)
			hcx, hcy := d.Curve.ScalarMult(tx, ty, privC)
			assert.Equal(t, 0, htx.Cmp(hcx))
			assert.Equal(t, 0, hty.Cmp(hcy))

			nonce := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
			mt := d.Map(nonce, htx, hty)
			mc := d.Map(nonce, hcx, hcy)
			require.True(t, d.Curve.IsOnCurve(mt.Gx, mt.Gy))

			// ephemeral keys on the mapped generator
			eT, etx, ety, err := mt.GenerateKey(rand.Reader)
			require.NoError(t, err)
			eC, ecx, ecy, err := mc.GenerateKey(rand.Reader)
			require.NoError(t, err)

			encT := mt.Marshal(etx, ety)
			encC := mc.Marshal(ecx, ecy)
			px, py, err := mt.Unmarshal(encC)
			require.NoError(t, err)
			qx, qy, err := mc.Unmarshal(encT)
			require.NoError(t, err)

			kT, err := mt.SharedX(eT, px, py)
			require.NoError(t, err)
			kC, err := mc.SharedX(eC, qx, qy)
			require.NoError(t, err)
			assert.Equal(t, kT, kC)
			assert.Len(t, kT, d.CoordinateSize())
		})
	}
}

func TestUnmarshalRejects(t *testing.T) {
	t.Parallel()

	d, err := ByParamID(ParamP256)
	require.NoError(t, err)
	_, x, y, err := d.GenerateKey(rand.Reader)
	require.NoError(t, err)
	good := d.Marshal(x, y)

	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{name: "short", in: good[:10], want: errorcodes.ErrProtocolDecode},
		{name: "compressed prefix", in: append([]byte{0x02}, good[1:]...), want: errorcodes.ErrProtocolDecode},
		{
			name: "off curve",
			in: func() []byte {
				b := append([]byte(nil), good...)
				b[len(b)-1] ^= 0x01

				return b
			}(),
			want: errorcodes.ErrAuthentication,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := d.Unmarshal(tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
