// Package token implements the 'token' subcommand, which issues an
// authentication token for a sync client.
package token

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maizeguard/leafscan-go/internal/api/auth"
	"github.com/maizeguard/leafscan-go/internal/conf"
)

// Command creates the token command, which signs a sync token for the given
// owner identity using the server's JWT secret.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "token [owner-id]",
		Short: "Issue a sync token for an owner identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := auth.NewService(settings.Server.JWTSecret, settings.Server.TokenTTL)
			if err != nil {
				return fmt.Errorf("creating auth service: %w", err)
			}

			signed, err := service.IssueToken(args[0])
			if err != nil {
				return fmt.Errorf("issuing token: %w", err)
			}

			fmt.Println(signed)
			return nil
		},
	}
}
