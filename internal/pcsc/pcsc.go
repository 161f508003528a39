// Package pcsc connects to contactless readers through the PC/SC service.
package pcsc

import (
	"fmt"

	"github.com/andrei-cloud/go_eid/internal/errorcodes"
	"github.com/ebfe/scard"
)

// Reader describes one attached reader.
type Reader struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	CardPresent bool   `json:"cardPresent"`
	ATR         []byte `json:"atr,omitempty"`
}

// ListReaders returns the attached readers with the card state of each.
func ListReaders() ([]Reader, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("%w: establish context: %w", errorcodes.ErrTransport, err)
	}
	defer ctx.Release()

	names, err := ctx.ListReaders()
	if err != nil {
		return nil, fmt.Errorf("%w: list readers: %w", errorcodes.ErrTransport, err)
	}
	if len(names) == 0 {
		return nil, nil
	}

	states := make([]scard.ReaderState, len(names))
	for i, name := range names {
		states[i] = scard.ReaderState{Reader: name, CurrentState: scard.StateUnaware}
	}
	if err := ctx.GetStatusChange(states, 0); err != nil {
		return nil, fmt.Errorf("%w: reader status: %w", errorcodes.ErrTransport, err)
	}

	readers := make([]Reader, len(names))
	for i, st := range states {
		readers[i] = Reader{Index: i, Name: st.Reader}
		if st.EventState&scard.StatePresent != 0 {
			readers[i].CardPresent = true
			readers[i].ATR = append([]byte(nil), st.Atr...)
		}
	}

	return readers, nil
}

// Connection is a shared connection to the card in one reader. It satisfies
// iso7816.Card.
type Connection struct {
	ctx    *scard.Context
	card   *scard.Card
	reader string
	atr    []byte
}

// Connect opens the card in the reader called name, or in the reader at
// index when name is empty.
func Connect(index int, name string) (*Connection, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("%w: establish context: %w", errorcodes.ErrTransport, err)
	}

	names, err := ctx.ListReaders()
	if err != nil {
		ctx.Release()

		return nil, fmt.Errorf("%w: list readers: %w", errorcodes.ErrTransport, err)
	}
	reader, err := pickReader(names, index, name)
	if err != nil {
		ctx.Release()

		return nil, err
	}

	card, err := ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		ctx.Release()

		return nil, fmt.Errorf("%w: connect %q: %w", errorcodes.ErrTransport, reader, err)
	}
	status, err := card.Status()
	if err != nil {
		_ = card.Disconnect(scard.LeaveCard)
		ctx.Release()

		return nil, fmt.Errorf("%w: card status: %w", errorcodes.ErrTransport, err)
	}

	return &Connection{ctx: ctx, card: card, reader: reader, atr: status.Atr}, nil
}

func pickReader(names []string, index int, name string) (string, error) {
	if len(names) == 0 {
		return "", fmt.Errorf("%w: no readers found", errorcodes.ErrTransport)
	}
	if name != "" {
		for _, n := range names {
			if n == name {
				return n, nil
			}
		}

		return "", fmt.Errorf("%w: reader %q not found", errorcodes.ErrInvalidInput, name)
	}
	if index < 0 || index >= len(names) {
		return "", fmt.Errorf("%w: reader index %d out of range (0..%d)",
			errorcodes.ErrInvalidInput, index, len(names)-1)
	}

	return names[index], nil
}

// Reader is the name of the connected reader.
func (c *Connection) Reader() string { return c.reader }

// ATR is the answer to reset of the connected card.
func (c *Connection) ATR() []byte { return append([]byte(nil), c.atr...) }

// Transmit sends one raw APDU and returns the response with its trailer.
func (c *Connection) Transmit(apdu []byte) ([]byte, error) {
	if c == nil || c.card == nil {
		return nil, fmt.Errorf("%w: connection not established", errorcodes.ErrTransport)
	}

	return c.card.Transmit(apdu)
}

// Close disconnects the card and releases the PC/SC context.
func (c *Connection) Close() error {
	if c == nil {
		return nil
	}
	var err error
	if c.card != nil {
		err = c.card.Disconnect(scard.ResetCard)
		c.card = nil
	}
	if c.ctx != nil {
		if rerr := c.ctx.Release(); err == nil {
			err = rerr
		}
		c.ctx = nil
	}

	return err
}
