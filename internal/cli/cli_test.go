package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/andrei-cloud/go_eid/internal/cardsim"
	"github.com/andrei-cloud/go_eid/internal/errorcodes"
	"github.com/andrei-cloud/go_eid/internal/pcsc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecret(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	got, err := Secret("1234", "PIN1", strings.NewReader("ignored\n"), &out)
	require.NoError(t, err)
	assert.Equal(t, "1234", got)
	assert.Empty(t, out.String())

	in := strings.NewReader("123456\r\n1234\n5678")
	got, err = Secret("", "CAN", in, &out)
	require.NoError(t, err)
	assert.Equal(t, "123456", got)
	assert.Equal(t, "Enter CAN: ", out.String())

	got, err = Secret("", "PIN1", in, &out)
	require.NoError(t, err)
	assert.Equal(t, "1234", got)

	got, err = Secret("", "PIN2", in, &out)
	require.NoError(t, err)
	assert.Equal(t, "5678", got)

	_, err = Secret("", "PUK", in, &out)
	assert.ErrorIs(t, err, errorcodes.ErrInvalidInput)
}

func TestParseHex(t *testing.T) {
	t.Parallel()

	b, err := ParseHex("hash", "0a:0B 0c")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0A, 0x0B, 0x0C}, b)

	_, err = ParseHex("hash", "zz")
	assert.ErrorContains(t, err, "--hash")

	_, err = ParseHex("data", "")
	assert.ErrorContains(t, err, "--data is empty")
}

func TestPrintHelpers(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	PrintHex(&buf, []byte{0xde, 0xad})
	assert.Equal(t, "DEAD\n", buf.String())

	buf.Reset()
	require.NoError(t, PrintJSON(&buf, map[string]string{"vendor": "idemia"}))
	assert.Equal(t, "{\n  \"vendor\": \"idemia\"\n}\n", buf.String())

	buf.Reset()
	PrintReaders(&buf, []pcsc.Reader{
		{Index: 0, Name: "Reader A"},
		{Index: 1, Name: "Reader B", CardPresent: true, ATR: []byte{0x3B, 0x8F}},
	})
	assert.Contains(t, buf.String(), "0: Reader A [empty]")
	assert.Contains(t, buf.String(), "1: Reader B [card 3B8F]")

	buf.Reset()
	PrintReaders(&buf, nil)
	assert.Equal(t, "No readers found\n", buf.String())

	assert.True(t, bytes.HasPrefix(CertificatePEM([]byte{0x30, 0x00}), []byte("-----BEGIN CERTIFICATE-----")))
}

func TestTargetOpenSimulated(t *testing.T) {
	t.Parallel()

	for _, vendor := range []string{"idemia", "thales"} {
		vendor := vendor
		t.Run(vendor, func(t *testing.T) {
			t.Parallel()

			target := Target{Simulate: vendor}
			assert.Equal(t, "simulated "+vendor, target.Name())

			var out bytes.Buffer
			s, closeFn, err := target.Open(context.Background(), strings.NewReader(cardsim.DefaultCAN+"\n"), &out)
			require.NoError(t, err)
			defer closeFn()
			assert.Equal(t, vendor, s.Vendor())
		})
	}

	_, _, err := Target{Simulate: "acme", CAN: cardsim.DefaultCAN}.Open(context.Background(), strings.NewReader(""), &bytes.Buffer{})
	assert.ErrorIs(t, err, errorcodes.ErrInvalidInput)
}
