package webeid

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"math/big"
	"testing"

	"github.com/andrei-cloud/go_eid/internal/cardsim"
	"github.com/andrei-cloud/go_eid/internal/errorcodes"
	"github.com/andrei-cloud/go_eid/pkg/idcard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignatureAlgorithm(t *testing.T) {
	t.Parallel()

	tests := []struct {
		algo x509.SignatureAlgorithm
		want Algorithm
	}{
		{algo: x509.ECDSAWithSHA256, want: Algorithm{Name: "ES256", BitSize: 256}},
		{algo: x509.ECDSAWithSHA384, want: Algorithm{Name: "ES384", BitSize: 384}},
		{algo: x509.ECDSAWithSHA512, want: Algorithm{Name: "ES512", BitSize: 512}},
		{algo: x509.SHA256WithRSA, want: Algorithm{Name: "RS256", BitSize: 256}},
		{algo: x509.SHA384WithRSA, want: Algorithm{Name: "RS384", BitSize: 384}},
		{algo: x509.SHA512WithRSA, want: Algorithm{Name: "RS512", BitSize: 512}},
		{algo: x509.SHA256WithRSAPSS, want: Algorithm{Name: UnknownAlgorithm}},
		{algo: x509.PureEd25519, want: Algorithm{Name: UnknownAlgorithm}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.algo.String(), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SignatureAlgorithm(&x509.Certificate{SignatureAlgorithm: tt.algo}))
		})
	}
}

func TestKeySize(t *testing.T) {
	t.Parallel()

	for _, curve := range []elliptic.Curve{elliptic.P256(), elliptic.P384(), elliptic.P521()} {
		k, err := ecdsa.GenerateKey(curve, rand.Reader)
		require.NoError(t, err)
		n, err := KeySize(&k.PublicKey)
		require.NoError(t, err)
		assert.Equal(t, curve.Params().BitSize, n)
	}

	n, err := KeySize(&rsa.PublicKey{N: new(big.Int).Lsh(big.NewInt(1), 2047), E: 65537})
	require.NoError(t, err)
	assert.Equal(t, 2048, n)

	_, err = KeySize("not a key")
	assert.ErrorIs(t, err, errorcodes.ErrUnsupportedOperation)
}

func TestTokenHash(t *testing.T) {
	t.Parallel()

	origin, challenge := "https://ria.ee", "12345678123456781234567812345678912356789123"
	o := sha512.Sum384([]byte(origin))
	c := sha512.Sum384([]byte(challenge))
	want := sha512.Sum384(append(o[:], c[:]...))

	got, err := TokenHash(origin, challenge, 384, 384)
	require.NoError(t, err)
	assert.Equal(t, want[:], got)

	got, err = TokenHash(origin, challenge, 256, 512)
	require.NoError(t, err)
	assert.Len(t, got, 64)

	_, err = TokenHash(origin, challenge, 0, 384)
	assert.ErrorIs(t, err, errorcodes.ErrUnsupportedOperation)
	_, err = TokenHash(origin, challenge, 384, 521)
	assert.ErrorIs(t, err, errorcodes.ErrUnsupportedOperation)
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	for _, v := range []cardsim.Vendor{cardsim.Idemia, cardsim.Thales} {
		v := v
		t.Run(v.String(), func(t *testing.T) {
			t.Parallel()

			card, err := cardsim.New(cardsim.Config{Vendor: v})
			require.NoError(t, err)
			s, err := idcard.Open(context.Background(), card, cardsim.DefaultCAN, idcard.WithAID(card.InitialAID()))
			require.NoError(t, err)
			defer s.Close()

			origin, challenge := "https://example.ee", "bm9uY2Ugbm9uY2Ugbm9uY2U="
			res, err := Authenticate(context.Background(), s, origin, challenge, cardsim.DefaultPIN1)
			require.NoError(t, err)

			assert.Equal(t, "ES384", res.Algorithm)
			assert.Equal(t, base64.StdEncoding.EncodeToString(card.AuthCertificate()), res.UnverifiedCertificate)
			assert.Equal(t, base64.StdEncoding.EncodeToString(card.SignCertificate()), res.SigningCertificate)

			cert, err := x509.ParseCertificate(card.AuthCertificate())
			require.NoError(t, err)
			sig, err := base64.StdEncoding.DecodeString(res.Signature)
			require.NoError(t, err)
			require.Len(t, sig, 96)
			hash, err := TokenHash(origin, challenge, 384, 384)
			require.NoError(t, err)
			r, s2 := new(big.Int).SetBytes(sig[:48]), new(big.Int).SetBytes(sig[48:])
			assert.True(t, ecdsa.Verify(cert.PublicKey.(*ecdsa.PublicKey), hash, r, s2))
		})
	}
}

// stubCard fails on the step named by fail.
type stubCard struct {
	cert []byte
	fail string
}

var errStub = errors.New("stub failure")

func (c *stubCard) ReadAuthenticationCertificate(context.Context) ([]byte, error) {
	if c.fail == "auth" {
		return nil, errStub
	}

	return c.cert, nil
}

func (c *stubCard) ReadSignatureCertificate(context.Context) ([]byte, error) {
	if c.fail == "sign" {
		return nil, errStub
	}

	return c.cert, nil
}

func (c *stubCard) Authenticate(context.Context, []byte, string) ([]byte, error) {
	if c.fail == "pin" {
		return nil, &errorcodes.PinVerificationError{SW: 0x63C2, Remaining: 2}
	}

	return []byte{0x01}, nil
}

func TestAuthenticateFailures(t *testing.T) {
	t.Parallel()

	card, err := cardsim.New(cardsim.Config{})
	require.NoError(t, err)
	cert := card.AuthCertificate()

	tests := []struct {
		name    string
		card    *stubCard
		origin  string
		wantErr error
	}{
		{name: "no origin", card: &stubCard{cert: cert}, wantErr: errorcodes.ErrInvalidInput},
		{name: "read fails", card: &stubCard{cert: cert, fail: "auth"}, origin: "o", wantErr: errStub},
		{name: "bad certificate", card: &stubCard{cert: []byte{0x30, 0x00}}, origin: "o", wantErr: errorcodes.ErrProtocolDecode},
		{name: "wrong pin", card: &stubCard{cert: cert, fail: "pin"}, origin: "o", wantErr: errorcodes.ErrPinVerification},
		{name: "signing certificate", card: &stubCard{cert: cert, fail: "sign"}, origin: "o", wantErr: errStub},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Authenticate(context.Background(), tt.card, tt.origin, "challenge", "1234")
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}
