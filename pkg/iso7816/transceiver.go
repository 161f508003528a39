package iso7816

import (
	"context"
	"fmt"

	"github.com/andrei-cloud/go_eid/internal/errorcodes"
	"github.com/rs/zerolog"
)

// Card is the raw byte link to a card: it sends a command APDU and returns
// the response including the SW1 SW2 trailer. *scard.Card satisfies it.
type Card interface {
	Transmit(cmd []byte) ([]byte, error)
}

// Transceiver exchanges one command/response pair. Implementations do not
// retry; see Exchange and Send. Command.Data is only valid for the duration
// of Transmit and may be wiped by the caller afterwards.
type Transceiver interface {
	Transmit(ctx context.Context, cmd Command) ([]byte, StatusWord, error)
}

// Plain sends commands to a Card without protection.
type Plain struct {
	card Card
}

// NewPlain returns a Transceiver writing straight to card.
func NewPlain(card Card) *Plain {
	return &Plain{card: card}
}

// Transmit encodes cmd, sends it and splits the answer.
func (p *Plain) Transmit(ctx context.Context, cmd Command) ([]byte, StatusWord, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", errorcodes.ErrSessionTerminated, err)
	}
	raw, err := cmd.Bytes()
	if err != nil {
		return nil, 0, err
	}

	logger := zerolog.Ctx(ctx)
	logger.Debug().
		Str("event", "apdu_sent").
		Hex("header", cmd.Header()).
		Int("lc", len(cmd.Data)).
		Int("ne", cmd.Ne).
		Msg("sending apdu")

	resp, err := p.card.Transmit(raw)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", errorcodes.ErrTransport, err)
	}
	data, sw, err := Response(resp)
	if err != nil {
		return nil, 0, err
	}

	logger.Debug().
		Str("event", "apdu_received").
		Int("len", len(data)).
		Stringer("sw", sw).
		Msg("received response")

	return data, sw, nil
}

// Exchange transmits cmd and follows the two continuation rules: a 6Cxx
// answer is retried once with Ne = SW2, and 61xx answers are drained with
// GET RESPONSE. It returns the accumulated data and the final status word,
// whatever its value.
func Exchange(ctx context.Context, t Transceiver, cmd Command) ([]byte, StatusWord, error) {
	data, sw, err := t.Transmit(ctx, cmd)
	if err != nil {
		return nil, 0, err
	}

	if sw.SW1() == 0x6C {
		retry := cmd
		retry.Ne = NeFromSW2(sw.SW2())
		data, sw, err = t.Transmit(ctx, retry)
		if err != nil {
			return nil, 0, err
		}
	}

	out := append([]byte(nil), data...)
	for sw.SW1() == 0x61 {
		more, next, err := t.Transmit(ctx, GetResponse(NeFromSW2(sw.SW2())))
		if err != nil {
			return nil, 0, err
		}
		out = append(out, more...)
		sw = next
	}

	return out, sw, nil
}

// Send is Exchange that turns any final status other than 9000 into a
// *errorcodes.StatusWordError.
func Send(ctx context.Context, t Transceiver, cmd Command) ([]byte, error) {
	data, sw, err := Exchange(ctx, t, cmd)
	if err != nil {
		return nil, err
	}
	if err := sw.Err(cmd.Ins); err != nil {
		return nil, err
	}

	return data, nil
}

// GetResponse builds 00 C0 00 00 Le.
func GetResponse(ne int) Command {
	return Command{Cla: 0x00, Ins: InsGetResponse, Ne: ne}
}

// NeFromSW2 maps the SW2 length hint of 61xx/6Cxx to Ne; 00 means 256.
func NeFromSW2(sw2 byte) int {
	if sw2 == 0 {
		return MaxShortNe
	}

	return int(sw2)
}
