// Package pin provides the PIN and PUK management commands.
package pin

import (
	"context"
	"fmt"

	"github.com/andrei-cloud/go_eid/internal/cli"
	"github.com/andrei-cloud/go_eid/pkg/idcard"
	"github.com/spf13/cobra"
)

// NewPinCommand creates the pin command with subcommands.
func NewPinCommand() (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:   "pin",
		Short: "PIN and PUK management",
		Long: `Read retry counters, verify, change and unblock PIN1, PIN2 and the PUK.
Codes not given as flags are prompted for without echo.`,
		Example: `  # Show the retry counters of all codes
  go_eid pin retries

  # Change PIN1
  go_eid pin change --type pin1

  # Unblock PIN2 with the PUK
  go_eid pin unblock --type pin2`,
	}

	cmd.AddCommand(newRetriesCommand())

	for _, newSub := range []func() (*cobra.Command, error){
		newVerifyCommand,
		newChangeCommand,
		newUnblockCommand,
	} {
		sub, err := newSub()
		if err != nil {
			return nil, err
		}
		cmd.AddCommand(sub)
	}

	return cmd, nil
}

func addTypeFlag(cmd *cobra.Command) error {
	cmd.Flags().String("type", "", "code type: pin1, pin2 or puk")
	if err := cmd.MarkFlagRequired("type"); err != nil {
		return fmt.Errorf("failed to mark type flag as required: %w", err)
	}

	return nil
}

func codeType(cmd *cobra.Command) (idcard.CodeType, error) {
	name, _ := cmd.Flags().GetString("type")

	return idcard.ParseCodeType(name)
}

// secret reads the code in flag, prompting with label when it is empty.
func secret(cmd *cobra.Command, flag, label string) (string, error) {
	v, _ := cmd.Flags().GetString(flag)

	return cli.Secret(v, label, cmd.InOrStdin(), cmd.ErrOrStderr())
}

func newRetriesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retries",
		Short: "Show remaining tries",
		Long:  `Show the remaining tries of one code, or of all codes when --type is omitted.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			types := []idcard.CodeType{idcard.CodePIN1, idcard.CodePIN2, idcard.CodePUK}
			if name, _ := cmd.Flags().GetString("type"); name != "" {
				t, err := idcard.ParseCodeType(name)
				if err != nil {
					return err
				}
				types = []idcard.CodeType{t}
			}

			return cli.WithSession(cmd, "read_retry_counter", func(ctx context.Context, s *idcard.Session) error {
				for _, t := range types {
					n, err := s.ReadPinRetryCounter(ctx, t)
					if err != nil {
						return fmt.Errorf("%s: %w", t, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", t, n)
				}

				return nil
			})
		},
	}

	cmd.Flags().String("type", "", "code type: pin1, pin2 or puk")

	return cmd
}

func newVerifyCommand() (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := codeType(cmd)
			if err != nil {
				return err
			}

			return cli.WithSession(cmd, "verify_code", func(ctx context.Context, s *idcard.Session) error {
				code, err := secret(cmd, "code", t.String())
				if err != nil {
					return err
				}
				if err := s.VerifyPin(ctx, t, code); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s verified\n", t)

				return nil
			})
		},
	}

	cmd.Flags().String("code", "", "the code (prompted when omitted)")
	if err := addTypeFlag(cmd); err != nil {
		return nil, err
	}

	return cmd, nil
}

func newChangeCommand() (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:   "change",
		Short: "Change a code",
		Long:  `Replace a code, authorised by its current value.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := codeType(cmd)
			if err != nil {
				return err
			}

			return cli.WithSession(cmd, "change_code", func(ctx context.Context, s *idcard.Session) error {
				current, err := secret(cmd, "code", "current "+t.String())
				if err != nil {
					return err
				}
				newCode, err := secret(cmd, "new-code", "new "+t.String())
				if err != nil {
					return err
				}
				if err := s.ChangePin(ctx, t, newCode, current); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s changed\n", t)

				return nil
			})
		},
	}

	cmd.Flags().String("code", "", "current code (prompted when omitted)")
	cmd.Flags().String("new-code", "", "new code (prompted when omitted)")
	if err := addTypeFlag(cmd); err != nil {
		return nil, err
	}

	return cmd, nil
}

func newUnblockCommand() (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:   "unblock",
		Short: "Unblock a PIN with the PUK",
		Long:  `Reset the retry counter of PIN1 or PIN2 with the PUK and set a new value.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := codeType(cmd)
			if err != nil {
				return err
			}

			return cli.WithSession(cmd, "unblock_code", func(ctx context.Context, s *idcard.Session) error {
				puk, err := secret(cmd, "puk", idcard.CodePUK.String())
				if err != nil {
					return err
				}
				newCode, err := secret(cmd, "new-code", "new "+t.String())
				if err != nil {
					return err
				}
				if err := s.UnblockPin(ctx, t, puk, newCode); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s unblocked\n", t)

				return nil
			})
		},
	}

	cmd.Flags().String("puk", "", "PUK (prompted when omitted)")
	cmd.Flags().String("new-code", "", "new code (prompted when omitted)")
	if err := addTypeFlag(cmd); err != nil {
		return nil, err
	}

	return cmd, nil
}
