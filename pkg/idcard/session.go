package idcard

import (
	"context"
	"fmt"
	"sync"

	"github.com/andrei-cloud/go_eid/internal/errorcodes"
	"github.com/andrei-cloud/go_eid/pkg/iso7816"
	"github.com/andrei-cloud/go_eid/pkg/pace"
	"github.com/andrei-cloud/go_eid/pkg/sm"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Option configures Open.
type Option func(*sessionOptions)

type sessionOptions struct {
	aid    []byte
	atr    []byte
	logger *zerolog.Logger
}

// WithAID names the application the reader found selected at connection.
func WithAID(aid []byte) Option {
	return func(o *sessionOptions) { o.aid = aid }
}

// WithATR resolves the applet from the card ATR when no AID is known.
func WithATR(atr []byte) Option {
	return func(o *sessionOptions) { o.atr = atr }
}

// WithLogger sets the parent logger of the session.
func WithLogger(l zerolog.Logger) Option {
	return func(o *sessionOptions) { o.logger = &l }
}

// Session is one card tap: a PACE-established secure channel and the
// command set of the detected applet. Calls are serialised; a Session must
// not outlive the physical connection it was opened on.
type Session struct {
	mu      sync.Mutex
	id      string
	logger  zerolog.Logger
	channel *sm.Channel
	card    CardCommands
}

// Open runs PACE with can over card and resolves the applet: by AID when
// given, then by ATR, otherwise by selecting each known application.
func Open(ctx context.Context, card iso7816.Card, can string, opts ...Option) (*Session, error) {
	var o sessionOptions
	for _, opt := range opts {
		opt(&o)
	}
	if can == "" {
		return nil, fmt.Errorf("%w: empty CAN", errorcodes.ErrInvalidInput)
	}

	// Resolve a known applet before touching the card.
	var (
		known *vendor
		err   error
	)
	switch {
	case o.aid != nil:
		known, err = vendorByAID(o.aid)
	case o.atr != nil:
		known, err = vendorByATR(o.atr)
	}
	if err != nil {
		return nil, err
	}

	parent := zerolog.Ctx(ctx)
	if o.logger != nil {
		parent = o.logger
	}
	id := uuid.NewString()
	logger := parent.With().Str("session_id", id).Logger()
	ctx = logger.WithContext(ctx)

	plain := iso7816.NewPlain(card)
	keys, err := pace.Establish(ctx, plain, can)
	if err != nil {
		logger.Debug().Str("event", "session_failed").Err(err).Msg("pace failed")

		return nil, err
	}
	channel := sm.NewChannel(plain, keys)

	var commands CardCommands
	if known != nil {
		commands = known.open(channel)
	} else if commands, err = Detect(ctx, channel); err != nil {
		channel.Close()

		return nil, err
	}

	logger.Info().
		Str("event", "session_open").
		Str("vendor", commands.Vendor()).
		Msg("secure session established")

	return &Session{id: id, logger: logger, channel: channel, card: commands}, nil
}

// ID is the session identifier carried in every log line of the session.
func (s *Session) ID() string { return s.id }

// Vendor names the detected applet.
func (s *Session) Vendor() string { return s.card.Vendor() }

// Close wipes the session keys. Later calls fail with ErrSessionTerminated.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channel.Close()
	s.logger.Debug().Str("event", "session_closed").Msg("session closed")
}

func (s *Session) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = s.logger.WithContext(ctx)
	s.logger.Debug().Str("event", "operation_start").Str("operation", op).Msg("card operation")
	err := fn(ctx)
	if err != nil {
		kind, _ := errorcodes.KindOf(err)
		s.logger.Debug().
			Str("event", "operation_failed").
			Str("operation", op).
			Str("kind", kind.CodeOnly()).
			Err(err).
			Msg("card operation failed")

		return err
	}
	s.logger.Debug().Str("event", "operation_done").Str("operation", op).Msg("card operation")

	return nil
}

func (s *Session) ReadPublicData(ctx context.Context) (CardInfo, error) {
	var info CardInfo
	err := s.run(ctx, "read_public_data", func(ctx context.Context) error {
		var err error
		info, err = s.card.ReadPublicData(ctx)

		return err
	})

	return info, err
}

func (s *Session) ReadAuthenticationCertificate(ctx context.Context) ([]byte, error) {
	var cert []byte
	err := s.run(ctx, "read_auth_certificate", func(ctx context.Context) error {
		var err error
		cert, err = s.card.ReadAuthenticationCertificate(ctx)

		return err
	})

	return cert, err
}

func (s *Session) ReadSignatureCertificate(ctx context.Context) ([]byte, error) {
	var cert []byte
	err := s.run(ctx, "read_sign_certificate", func(ctx context.Context) error {
		var err error
		cert, err = s.card.ReadSignatureCertificate(ctx)

		return err
	})

	return cert, err
}

// ReadPinRetryCounter returns the remaining tries of the code.
func (s *Session) ReadPinRetryCounter(ctx context.Context, t CodeType) (int, error) {
	var n int
	err := s.run(ctx, "read_retry_counter", func(ctx context.Context) error {
		var err error
		n, err = s.card.ReadCodeTryCounterRecord(ctx, t)

		return err
	})

	return n, err
}

// ChangePin replaces the code; current is the code in force.
func (s *Session) ChangePin(ctx context.Context, t CodeType, newCode, current string) error {
	return s.run(ctx, "change_code", func(ctx context.Context) error {
		return s.card.ChangeCode(ctx, t, newCode, current)
	})
}

func (s *Session) VerifyPin(ctx context.Context, t CodeType, code string) error {
	return s.run(ctx, "verify_code", func(ctx context.Context) error {
		return s.card.VerifyCode(ctx, t, code)
	})
}

// UnblockPin resets a blocked PIN with the PUK.
func (s *Session) UnblockPin(ctx context.Context, t CodeType, puk, newCode string) error {
	return s.run(ctx, "unblock_code", func(ctx context.Context) error {
		return s.card.UnblockCode(ctx, t, puk, newCode)
	})
}

// Authenticate signs hash with the authentication key.
func (s *Session) Authenticate(ctx context.Context, hash []byte, pin1 string) ([]byte, error) {
	var sig []byte
	err := s.run(ctx, "authenticate", func(ctx context.Context) error {
		var err error
		sig, err = s.card.Authenticate(ctx, hash, pin1)

		return err
	})

	return sig, err
}

// Sign signs hash with the qualified signature key.
func (s *Session) Sign(ctx context.Context, hash []byte, pin2 string) ([]byte, error) {
	var sig []byte
	err := s.run(ctx, "sign", func(ctx context.Context) error {
		var err error
		sig, err = s.card.CalculateSignature(ctx, hash, pin2)

		return err
	})

	return sig, err
}

func (s *Session) Decrypt(ctx context.Context, data []byte, pin1 string) ([]byte, error) {
	var out []byte
	err := s.run(ctx, "decrypt", func(ctx context.Context) error {
		var err error
		out, err = s.card.DecryptData(ctx, data, pin1)

		return err
	})

	return out, err
}
