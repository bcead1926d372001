package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/lokseva/internal/config"
	"github.com/fakeyudi/lokseva/internal/identity"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the signed-in account and connection settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := identity.NewStore()
		if err != nil {
			return err
		}

		creds, err := store.Load()
		switch {
		case errors.Is(err, identity.ErrNoCredentials):
			cmd.Println("not signed in")
		case err != nil:
			return err
		default:
			cmd.Printf("Signed in as %s <%s>\n", creds.Identity.Name, creds.Identity.Email)
		}

		cmd.Printf("Auth service: %s\n", cfg.AuthURL)
		switch cfg.Transport {
		case config.TransportNATS:
			cmd.Printf("Transport: nats (%s)\n", cfg.NatsURL)
		default:
			cmd.Printf("Transport: websocket (%s)\n", cfg.GatewayURL)
		}
		cmd.Printf("Room: %s\n", cfg.Room)
		cmd.Printf("Chat input: %t\n", cfg.ChatInputEnabled())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
