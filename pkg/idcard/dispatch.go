package idcard

import (
	"bytes"
	"context"
	"fmt"

	"github.com/andrei-cloud/go_eid/internal/errorcodes"
	"github.com/andrei-cloud/go_eid/pkg/iso7816"
	"github.com/rs/zerolog"
)

type vendor struct {
	name string
	// aid is the application selected when the card enters the field.
	aid  []byte
	atrs [][]byte
	open func(iso7816.Transceiver) CardCommands
}

var vendors = []vendor{
	{
		name: "idemia",
		aid:  idemiaAID,
		atrs: idemiaATRs,
		open: func(t iso7816.Transceiver) CardCommands { return NewIdemia(t) },
	},
	{
		name: "thales",
		aid:  thalesGlobalAID,
		atrs: [][]byte{thalesATR},
		open: func(t iso7816.Transceiver) CardCommands { return NewThales(t) },
	},
}

// Probe returns the command set for the initially selected AID. It sends
// nothing to the card.
func Probe(aid []byte, t iso7816.Transceiver) (CardCommands, error) {
	v, err := vendorByAID(aid)
	if err != nil {
		return nil, err
	}

	return v.open(t), nil
}

// ProbeATR maps a contact or contactless ATR to the initial AID of its applet.
func ProbeATR(atr []byte) ([]byte, error) {
	v, err := vendorByATR(atr)
	if err != nil {
		return nil, err
	}

	return append([]byte(nil), v.aid...), nil
}

func vendorByAID(aid []byte) (*vendor, error) {
	for i := range vendors {
		if bytes.Equal(vendors[i].aid, aid) {
			return &vendors[i], nil
		}
	}

	return nil, fmt.Errorf("%w: AID %X", errorcodes.ErrCardNotSupported, aid)
}

func vendorByATR(atr []byte) (*vendor, error) {
	for i := range vendors {
		for _, known := range vendors[i].atrs {
			if bytes.Equal(known, atr) {
				return &vendors[i], nil
			}
		}
	}

	return nil, fmt.Errorf("%w: ATR %X", errorcodes.ErrCardNotSupported, atr)
}

// Detect selects each known initial AID over t and returns the command set
// of the first one the card accepts.
func Detect(ctx context.Context, t iso7816.Transceiver) (CardCommands, error) {
	logger := zerolog.Ctx(ctx)
	for _, v := range vendors {
		_, sw, err := iso7816.Exchange(ctx, t, iso7816.Command{
			Ins:  iso7816.InsSelect,
			P1:   0x04,
			P2:   0x0C,
			Data: v.aid,
		})
		if err != nil {
			return nil, fmt.Errorf("detect %s: %w", v.name, err)
		}
		logger.Debug().
			Str("event", "detect").
			Str("vendor", v.name).
			Stringer("sw", sw).
			Msg("probed application")
		if sw.IsSuccess() {
			return v.open(t), nil
		}
	}

	return nil, fmt.Errorf("%w: no known application answered", errorcodes.ErrCardNotSupported)
}
