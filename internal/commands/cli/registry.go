// Package cli provides centralized command registration.
package cli

import (
	"fmt"

	"github.com/andrei-cloud/go_eid/internal/commands/cli/card"
	"github.com/andrei-cloud/go_eid/internal/commands/cli/pin"
	"github.com/andrei-cloud/go_eid/internal/commands/cli/readers"
	"github.com/spf13/cobra"
)

// RegisterCommands registers all root commands.
func RegisterCommands(root *cobra.Command) error {
	root.AddCommand(readers.NewReadersCommand())
	root.AddCommand(card.NewInfoCommand())

	certCmd, err := card.NewCertCommand()
	if err != nil {
		return fmt.Errorf("failed to create cert command: %w", err)
	}
	root.AddCommand(certCmd)

	pinCmd, err := pin.NewPinCommand()
	if err != nil {
		return fmt.Errorf("failed to create pin command: %w", err)
	}
	root.AddCommand(pinCmd)

	keyCmds, err := card.NewKeyCommands()
	if err != nil {
		return fmt.Errorf("failed to create key commands: %w", err)
	}
	root.AddCommand(keyCmds...)

	webeidCmd, err := card.NewWebEIDCommand()
	if err != nil {
		return fmt.Errorf("failed to create webeid command: %w", err)
	}
	root.AddCommand(webeidCmd)

	return nil
}
