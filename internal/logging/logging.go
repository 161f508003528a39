package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/andrei-cloud/go_eid/internal/errorcodes"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger initializes the global zerolog logger with the given level and
// output format. Logs go to stderr; stdout carries command output.
func InitLogger(level string, human bool) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("%w: log level %q", errorcodes.ErrInvalidInput, level)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = newLogger(os.Stderr, human)
	zerolog.DefaultContextLogger = &log.Logger
	zerolog.SetGlobalLevel(lvl)

	return nil
}

func newLogger(w io.Writer, human bool) zerolog.Logger {
	if human {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339Nano,
		}
	}

	return zerolog.New(w).With().Timestamp().Logger()
}

// LogOperation logs the start of a card operation with structured fields.
func LogOperation(logger *zerolog.Logger, operation, reader string) time.Time {
	logger.Info().
		Str("event", "operation_started").
		Str("operation", operation).
		Str("reader", reader).
		Msg("card operation started")

	return time.Now()
}

// LogOperationResult logs the outcome of an operation started at start.
func LogOperationResult(logger *zerolog.Logger, operation string, start time.Time, err error) {
	ev := logger.Info()
	if err != nil {
		kind, _ := errorcodes.KindOf(err)
		ev = logger.Error().Err(err).Str("kind", kind.CodeOnly())
		if sw, ok := errorcodes.StatusWord(err); ok {
			ev = ev.Str("sw", fmt.Sprintf("%04X", sw))
		}
	}
	ev.Str("event", "operation_finished").
		Str("operation", operation).
		Dur("elapsed", time.Since(start)).
		Msg("card operation finished")
}
