// Package cli contains utilities for CLI operations.
package cli

import (
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"strings"

	"github.com/andrei-cloud/go_eid/internal/pcsc"
	"github.com/andrei-cloud/go_eid/pkg/cryptoutils"
)

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// PrintHex writes b as one upper-case hex line.
func PrintHex(w io.Writer, b []byte) {
	fmt.Fprintln(w, cryptoutils.Raw2Str(b))
}

// ParseHex decodes a hex argument, tolerating spaces and colons.
func ParseHex(name, s string) ([]byte, error) {
	b, err := cryptoutils.Str2Raw(strings.ReplaceAll(s, ":", ""))
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("--%s is empty", name)
	}

	return b, nil
}

// CertificatePEM wraps a DER certificate in a PEM block.
func CertificatePEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

// PrintReaders prints the attached readers in a readable format.
func PrintReaders(w io.Writer, readers []pcsc.Reader) {
	if len(readers) == 0 {
		fmt.Fprintln(w, "No readers found")

		return
	}
	fmt.Fprintln(w, "Readers:")
	fmt.Fprintln(w, "--------")
	for _, r := range readers {
		state := "empty"
		if r.CardPresent {
			state = "card " + cryptoutils.Raw2Str(r.ATR)
		}
		fmt.Fprintf(w, "%d: %s [%s]\n", r.Index, r.Name, state)
	}
}
