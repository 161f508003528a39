package cli

import (
	"bytes"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"strings"
	"testing"

	"github.com/andrei-cloud/go_eid/internal/cardsim"
	"github.com/andrei-cloud/go_eid/internal/errorcodes"
	"github.com/andrei-cloud/go_eid/pkg/webeid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Commands share the global config and logger, so these tests run serially.

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	root, err := NewRootCommand()
	require.NoError(t, err)

	var out, errOut bytes.Buffer
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))

	err = root.Execute()

	return out.String(), err
}

func TestInfo(t *testing.T) {
	out, err := execute(t, "", "--simulate", "idemia", "--can", cardsim.DefaultCAN, "info")
	require.NoError(t, err)

	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, cardsim.DefaultHolder.Surname, info["surname"])
	assert.Equal(t, cardsim.DefaultHolder.PersonalCode, info["personalCode"])
	assert.Equal(t, "01.01.2030", info["dateOfExpiry"])
}

func TestCANPrompt(t *testing.T) {
	out, err := execute(t, cardsim.DefaultCAN+"\n", "--simulate", "thales", "info")
	require.NoError(t, err)
	assert.Contains(t, out, cardsim.DefaultHolder.DocumentNumber)

	_, err = execute(t, "000000\n", "--simulate", "thales", "info")
	assert.ErrorIs(t, err, errorcodes.ErrWrongCAN)
}

func TestCert(t *testing.T) {
	out, err := execute(t, "", "--simulate", "idemia", "--can", cardsim.DefaultCAN, "cert", "auth")
	require.NoError(t, err)
	block, _ := pem.Decode([]byte(out))
	require.NotNil(t, block)
	assert.Equal(t, "CERTIFICATE", block.Type)
	_, err = x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	out, err = execute(t, "", "--simulate", "thales", "--can", cardsim.DefaultCAN, "cert", "sign", "--der")
	require.NoError(t, err)
	_, err = x509.ParseCertificate([]byte(out))
	require.NoError(t, err)

	_, err = execute(t, "", "--simulate", "thales", "--can", cardsim.DefaultCAN, "cert", "qscd")
	assert.Error(t, err)
}

func TestPinCommands(t *testing.T) {
	can := []string{"--simulate", "idemia", "--can", cardsim.DefaultCAN}

	out, err := execute(t, "", append(can, "pin", "retries")...)
	require.NoError(t, err)
	assert.Equal(t, "PIN1: 3\nPIN2: 3\nPUK: 3\n", out)

	out, err = execute(t, "", append(can, "pin", "verify", "--type", "pin2", "--code", cardsim.DefaultPIN2)...)
	require.NoError(t, err)
	assert.Equal(t, "PIN2 verified\n", out)

	_, err = execute(t, "", append(can, "pin", "verify", "--type", "pin1", "--code", "9999")...)
	var pinErr *errorcodes.PinVerificationError
	require.ErrorAs(t, err, &pinErr)
	assert.Equal(t, 2, pinErr.Remaining)

	out, err = execute(t, cardsim.DefaultPIN1+"\n5678\n", append(can, "pin", "change", "--type", "pin1")...)
	require.NoError(t, err)
	assert.Equal(t, "PIN1 changed\n", out)

	out, err = execute(t, "", append(can, "pin", "unblock", "--type", "pin1",
		"--puk", cardsim.DefaultPUK, "--new-code", "4321")...)
	require.NoError(t, err)
	assert.Equal(t, "PIN1 unblocked\n", out)

	_, err = execute(t, "", append(can, "pin", "unblock", "--type", "puk",
		"--puk", cardsim.DefaultPUK, "--new-code", "87654321")...)
	assert.ErrorIs(t, err, errorcodes.ErrUnsupportedOperation)

	_, err = execute(t, "", append(can, "pin", "verify", "--type", "pin3", "--code", "1234")...)
	assert.ErrorIs(t, err, errorcodes.ErrInvalidInput)
}

func TestKeyCommands(t *testing.T) {
	hash := strings.Repeat("AB", 48)

	tests := []struct {
		name    string
		args    []string
		wantLen int
	}{
		{name: "authenticate", args: []string{"authenticate", "--hash", hash, "--pin", cardsim.DefaultPIN1}, wantLen: 96},
		{name: "sign", args: []string{"sign", "--hash", hash, "--pin", cardsim.DefaultPIN2}, wantLen: 96},
	}

	for _, vendor := range []string{"idemia", "thales"} {
		for _, tt := range tests {
			args := append([]string{"--simulate", vendor, "--can", cardsim.DefaultCAN}, tt.args...)
			out, err := execute(t, "", args...)
			require.NoError(t, err, vendor+" "+tt.name)
			assert.Len(t, strings.TrimSpace(out), 2*tt.wantLen, vendor+" "+tt.name)
		}
	}

	_, err := execute(t, "", "--simulate", "idemia", "--can", cardsim.DefaultCAN, "sign", "--hash", "xyz", "--pin", "12345")
	assert.ErrorContains(t, err, "--hash")

	_, err = execute(t, "", "--simulate", "idemia", "--can", cardsim.DefaultCAN, "decrypt")
	assert.ErrorContains(t, err, "required flag")
}

func TestWebEID(t *testing.T) {
	out, err := execute(t, cardsim.DefaultPIN1+"\n",
		"--simulate", "thales", "--can", cardsim.DefaultCAN,
		"webeid", "--origin", "https://example.org", "--challenge", "c2VjcmV0IG5vbmNl")
	require.NoError(t, err)

	var res webeid.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "ES384", res.Algorithm)
	assert.NotEmpty(t, res.Signature)
	assert.NotEmpty(t, res.UnverifiedCertificate)
	assert.NotEmpty(t, res.SigningCertificate)
}
