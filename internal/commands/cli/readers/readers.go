// Package readers provides the reader listing command.
package readers

import (
	"github.com/andrei-cloud/go_eid/internal/cli"
	"github.com/andrei-cloud/go_eid/internal/pcsc"
	"github.com/spf13/cobra"
)

// NewReadersCommand creates the readers command.
func NewReadersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "readers",
		Short: "List PC/SC readers",
		Long: `List the attached PC/SC readers with their index and the ATR of the
card in each reader. The index or the name selects the reader for the
card commands.`,
		Example: `  go_eid readers`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := pcsc.ListReaders()
			if err != nil {
				return err
			}
			cli.PrintReaders(cmd.OutOrStdout(), list)

			return nil
		},
	}

	return cmd
}
