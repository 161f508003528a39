package pcsc

import (
	"testing"

	"github.com/andrei-cloud/go_eid/internal/errorcodes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickReader(t *testing.T) {
	t.Parallel()

	names := []string{"ACS ACR1252 PICC 00", "Identiv uTrust 3700 F 01"}

	tests := []struct {
		name    string
		names   []string
		index   int
		reader  string
		want    string
		wantErr error
	}{
		{name: "first by index", names: names, index: 0, want: names[0]},
		{name: "second by index", names: names, index: 1, want: names[1]},
		{name: "by name wins over index", names: names, index: 0, reader: names[1], want: names[1]},
		{name: "unknown name", names: names, reader: "nope", wantErr: errorcodes.ErrInvalidInput},
		{name: "index out of range", names: names, index: 2, wantErr: errorcodes.ErrInvalidInput},
		{name: "negative index", names: names, index: -1, wantErr: errorcodes.ErrInvalidInput},
		{name: "no readers", wantErr: errorcodes.ErrTransport},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := pickReader(tt.names, tt.index, tt.reader)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClosedConnection(t *testing.T) {
	t.Parallel()

	var c *Connection
	assert.NoError(t, c.Close())

	_, err := (&Connection{}).Transmit([]byte{0x00, 0xA4, 0x04, 0x00})
	assert.ErrorIs(t, err, errorcodes.ErrTransport)
}
