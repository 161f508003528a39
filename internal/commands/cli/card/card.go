// Package card provides the commands that read from and sign with the card.
package card

import (
	"context"
	"fmt"
	"os"

	"github.com/andrei-cloud/go_eid/internal/cli"
	"github.com/andrei-cloud/go_eid/pkg/idcard"
	"github.com/spf13/cobra"
)

// NewInfoCommand creates the info command.
func NewInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Read the personal data file",
		Long: `Read the holder's personal data file over the secure channel and print
it as JSON.`,
		Example: `  go_eid info --can 123456`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cli.WithSession(cmd, "read_public_data", func(ctx context.Context, s *idcard.Session) error {
				info, err := s.ReadPublicData(ctx)
				if err != nil {
					return err
				}

				return cli.PrintJSON(cmd.OutOrStdout(), info)
			})
		},
	}
}

// NewCertCommand creates the cert command.
func NewCertCommand() (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:       "cert auth|sign",
		Short:     "Read a certificate",
		Long:      `Read the authentication or the signing certificate. PEM is printed unless --der is given.`,
		ValidArgs: []string{"auth", "sign"},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		Example: `  # Print the authentication certificate
  go_eid cert auth

  # Store the signing certificate as DER
  go_eid cert sign --der --out sign.cer`,
		RunE: runCert,
	}

	cmd.Flags().String("out", "", "write the certificate to this file")
	cmd.Flags().Bool("der", false, "write DER instead of PEM")
	if err := cmd.MarkFlagFilename("out"); err != nil {
		return nil, fmt.Errorf("failed to mark out flag as filename: %w", err)
	}

	return cmd, nil
}

func runCert(cmd *cobra.Command, args []string) error {
	out, _ := cmd.Flags().GetString("out")
	der, _ := cmd.Flags().GetBool("der")

	return cli.WithSession(cmd, "read_"+args[0]+"_certificate", func(ctx context.Context, s *idcard.Session) error {
		read := s.ReadAuthenticationCertificate
		if args[0] == "sign" {
			read = s.ReadSignatureCertificate
		}
		cert, err := read(ctx)
		if err != nil {
			return err
		}
		if !der {
			cert = cli.CertificatePEM(cert)
		}
		if out != "" {
			return os.WriteFile(out, cert, 0o644)
		}
		_, err = cmd.OutOrStdout().Write(cert)

		return err
	})
}
