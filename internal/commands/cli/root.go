// Package cli provides the CLI command structure for go_eid.
package cli

import (
	"fmt"

	"github.com/andrei-cloud/go_eid/internal/config"
	"github.com/andrei-cloud/go_eid/internal/logging"
	"github.com/spf13/cobra"
)

// NewRootCommand creates and returns the root command with all subcommands.
func NewRootCommand() (*cobra.Command, error) {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "go_eid",
		Short: "eID card secure channel client",
		Long: `Talk to Estonian eID cards over a contactless reader: establish a PACE
secure channel with the card access number, read the personal data and
certificates, manage PINs and use the authentication and signing keys.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Initialize configuration before running any command.
			if err := config.Initialize(cfgFile, cmd.Flags()); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			cfg := config.Get()

			return logging.InitLogger(cfg.Log.Level, cfg.Log.Format != "json")
		},
	}

	// Add persistent flags that affect all commands.
	rootCmd.PersistentFlags().
		StringVar(&cfgFile, "config", "", "config file (default is $HOME/.go_eid/config.yaml)")

	// Add global flags that can override config file settings.
	rootCmd.PersistentFlags().
		String("log-level", "info", "logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "logging format (human, json)")
	rootCmd.PersistentFlags().String("reader", "", "reader name")
	rootCmd.PersistentFlags().Int("reader-index", 0, "reader index, used when no name is given")
	rootCmd.PersistentFlags().String("can", "", "card access number (prompted when omitted)")
	rootCmd.PersistentFlags().
		String("simulate", "", "use a simulated card instead of a reader (idemia, thales)")

	// Register all commands.
	if err := RegisterCommands(rootCmd); err != nil {
		return nil, fmt.Errorf("failed to register commands: %w", err)
	}

	return rootCmd, nil
}
