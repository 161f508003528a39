package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andrei-cloud/go_eid/internal/cardsim"
	"github.com/andrei-cloud/go_eid/internal/config"
	"github.com/andrei-cloud/go_eid/internal/errorcodes"
	"github.com/andrei-cloud/go_eid/internal/logging"
	"github.com/andrei-cloud/go_eid/internal/pcsc"
	"github.com/andrei-cloud/go_eid/pkg/idcard"
	"github.com/andrei-cloud/go_eid/pkg/iso7816"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Target describes where a command finds its card.
type Target struct {
	ReaderIndex int
	ReaderName  string
	// Simulate names a cardsim vendor used instead of a reader.
	Simulate string
	CAN      string
}

// TargetFromCommand combines the loaded configuration with the --simulate flag.
func TargetFromCommand(cmd *cobra.Command) Target {
	cfg := config.Get()
	simulate, _ := cmd.Flags().GetString("simulate")

	return Target{
		ReaderIndex: cfg.Reader.Index,
		ReaderName:  cfg.Reader.Name,
		Simulate:    simulate,
		CAN:         cfg.Card.CAN,
	}
}

// Name labels the target in logs.
func (t Target) Name() string {
	if t.Simulate != "" {
		return "simulated " + t.Simulate
	}
	if t.ReaderName != "" {
		return t.ReaderName
	}

	return fmt.Sprintf("reader %d", t.ReaderIndex)
}

// Open connects to the card and establishes a secure session. The returned
// func closes the session and the connection.
func (t Target) Open(ctx context.Context, in io.Reader, out io.Writer) (*idcard.Session, func(), error) {
	can, err := Secret(t.CAN, "CAN", in, out)
	if err != nil {
		return nil, nil, err
	}

	var (
		card    iso7816.Card
		opts    = []idcard.Option{idcard.WithLogger(log.Logger)}
		release = func() {}
	)
	if t.Simulate != "" {
		vendor, err := cardsim.ParseVendor(t.Simulate)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", errorcodes.ErrInvalidInput, err)
		}
		sim, err := cardsim.New(cardsim.Config{Vendor: vendor})
		if err != nil {
			return nil, nil, err
		}
		card = sim
		opts = append(opts, idcard.WithAID(sim.InitialAID()))
	} else {
		conn, err := pcsc.Connect(t.ReaderIndex, t.ReaderName)
		if err != nil {
			return nil, nil, err
		}
		card = conn
		release = func() { _ = conn.Close() }
		// Generic contactless ATRs fall through to active detection.
		if _, err := idcard.ProbeATR(conn.ATR()); err == nil {
			opts = append(opts, idcard.WithATR(conn.ATR()))
		}
	}

	session, err := idcard.Open(ctx, card, can, opts...)
	if err != nil {
		release()

		return nil, nil, err
	}

	return session, func() {
		session.Close()
		release()
	}, nil
}

// Secret returns value, or reads it from in after writing a prompt to out.
// Terminal input is not echoed.
func Secret(value, prompt string, in io.Reader, out io.Writer) (string, error) {
	if value != "" {
		return value, nil
	}
	fmt.Fprintf(out, "Enter %s: ", prompt)

	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", prompt, err)
		}

		return string(b), nil
	}

	line, err := readLine(in)
	if err != nil && line == "" {
		return "", fmt.Errorf("%w: no %s given", errorcodes.ErrInvalidInput, prompt)
	}

	return line, nil
}

// readLine reads up to a newline one byte at a time, leaving the rest of in
// for later prompts.
func readLine(in io.Reader) (string, error) {
	var (
		sb  strings.Builder
		buf [1]byte
	)
	for {
		n, err := in.Read(buf[:])
		if n == 1 {
			if buf[0] == '\n' {
				break
			}
			sb.WriteByte(buf[0])
		}
		if err != nil {
			return strings.TrimRight(sb.String(), "\r"), err
		}
	}

	return strings.TrimRight(sb.String(), "\r"), nil
}

// WithSession opens a session for cmd, runs fn and logs the operation.
func WithSession(cmd *cobra.Command, operation string, fn func(ctx context.Context, s *idcard.Session) error) (err error) {
	target := TargetFromCommand(cmd)
	start := logging.LogOperation(&log.Logger, operation, target.Name())
	defer func() { logging.LogOperationResult(&log.Logger, operation, start, err) }()

	ctx := cmd.Context()
	s, closeFn, err := target.Open(ctx, cmd.InOrStdin(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeFn()

	return fn(ctx, s)
}
