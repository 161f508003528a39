package card

import (
	"context"
	"fmt"

	"github.com/andrei-cloud/go_eid/internal/cli"
	"github.com/andrei-cloud/go_eid/pkg/idcard"
	"github.com/andrei-cloud/go_eid/pkg/webeid"
	"github.com/spf13/cobra"
)

// keyOperation is a PIN-protected private key operation over hex input.
type keyOperation struct {
	use     string
	short   string
	long    string
	example string
	input   string
	code    idcard.CodeType
	run     func(s *idcard.Session) func(ctx context.Context, in []byte, pin string) ([]byte, error)
}

var keyOperations = []keyOperation{
	{
		use:     "authenticate",
		short:   "Sign a hash with the authentication key",
		long:    `Verify PIN1 and sign the given hash with the authentication key. The raw signature is printed as hex.`,
		example: `  go_eid authenticate --hash 4E3F...`,
		input:   "hash",
		code:    idcard.CodePIN1,
		run:     func(s *idcard.Session) func(context.Context, []byte, string) ([]byte, error) { return s.Authenticate },
	},
	{
		use:     "sign",
		short:   "Create a qualified signature over a hash",
		long:    `Verify PIN2 and sign the given hash with the qualified signature key. The raw signature is printed as hex.`,
		example: `  go_eid sign --hash 4E3F...`,
		input:   "hash",
		code:    idcard.CodePIN2,
		run:     func(s *idcard.Session) func(context.Context, []byte, string) ([]byte, error) { return s.Sign },
	},
	{
		use:     "decrypt",
		short:   "Decipher data with the authentication key",
		long:    `Verify PIN1 and run the key agreement for the given public key data. The shared secret is printed as hex.`,
		example: `  go_eid decrypt --data 04A1B2...`,
		input:   "data",
		code:    idcard.CodePIN1,
		run:     func(s *idcard.Session) func(context.Context, []byte, string) ([]byte, error) { return s.Decrypt },
	},
}

// NewKeyCommands creates the authenticate, sign and decrypt commands.
func NewKeyCommands() ([]*cobra.Command, error) {
	cmds := make([]*cobra.Command, 0, len(keyOperations))
	for _, op := range keyOperations {
		cmd, err := op.command()
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}

	return cmds, nil
}

func (op keyOperation) command() (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:     op.use,
		Short:   op.short,
		Long:    op.long,
		Example: op.example,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, _ := cmd.Flags().GetString(op.input)
			in, err := cli.ParseHex(op.input, raw)
			if err != nil {
				return err
			}
			pin, _ := cmd.Flags().GetString("pin")

			return cli.WithSession(cmd, op.use, func(ctx context.Context, s *idcard.Session) error {
				pin, err := cli.Secret(pin, op.code.String(), cmd.InOrStdin(), cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				out, err := op.run(s)(ctx, in, pin)
				if err != nil {
					return err
				}
				cli.PrintHex(cmd.OutOrStdout(), out)

				return nil
			})
		},
	}

	cmd.Flags().String(op.input, "", op.input+" as hex")
	cmd.Flags().String("pin", "", op.code.String()+" (prompted when omitted)")
	if err := cmd.MarkFlagRequired(op.input); err != nil {
		return nil, fmt.Errorf("failed to mark %s flag as required: %w", op.input, err)
	}

	return cmd, nil
}

// NewWebEIDCommand creates the webeid command.
func NewWebEIDCommand() (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:   "webeid",
		Short: "Create a Web eID authentication token",
		Long: `Sign the Web eID token hash for the origin and challenge nonce with the
authentication key and print the token fields as JSON.`,
		Example: `  go_eid webeid --origin https://example.org --challenge 12345678123456781234567812345678`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			origin, _ := cmd.Flags().GetString("origin")
			challenge, _ := cmd.Flags().GetString("challenge")
			pin, _ := cmd.Flags().GetString("pin")

			return cli.WithSession(cmd, "webeid", func(ctx context.Context, s *idcard.Session) error {
				pin, err := cli.Secret(pin, idcard.CodePIN1.String(), cmd.InOrStdin(), cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				res, err := webeid.Authenticate(ctx, s, origin, challenge, pin)
				if err != nil {
					return err
				}

				return cli.PrintJSON(cmd.OutOrStdout(), res)
			})
		},
	}

	cmd.Flags().String("origin", "", "origin of the relying party")
	cmd.Flags().String("challenge", "", "challenge nonce from the relying party")
	cmd.Flags().String("pin", "", "PIN1 (prompted when omitted)")
	for _, name := range []string{"origin", "challenge"} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			return nil, fmt.Errorf("failed to mark %s flag as required: %w", name, err)
		}
	}

	return cmd, nil
}
