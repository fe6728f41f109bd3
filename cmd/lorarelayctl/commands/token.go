package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/lora-relay/internal/auth"
)

const envSecret = "LORARELAY_JWT_SECRET"

func newTokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		secret  string
		ttl     int
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mints an access token for the management API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				return errors.New("a signing secret is required (--secret or " + envSecret + ")")
			}
			token, err := auth.GenerateAccessToken(subject, auth.Role(role), secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject, usually the operator name")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleViewer), "role: viewer or operator")
	cmd.Flags().StringVar(&secret, "secret", os.Getenv(envSecret), "JWT signing secret configured on the relay")
	cmd.Flags().IntVar(&ttl, "ttl", auth.DefaultTTLMinutes, "token lifetime in minutes")
	return cmd
}
