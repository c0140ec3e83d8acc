package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pandora-cas/goclient/pkg/account"
)

// loginCmd authenticates and reports what the account contains. Useful as
// a credential smoke test before wiring pandoractl into anything else.
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate and list discovered devices",
	Long: `Log in with the configured credentials, fetch the first snapshot and
report the devices attached to the account.

Examples:
  pandoractl login
  PANDORA_USERNAME=me@example.com pandoractl login`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAccount(func(ctx context.Context, acct *account.Account) error {
			ids := acct.Devices()
			fmt.Printf("Logged in as %s\n", bold(app.cfg.Username))
			fmt.Printf("Devices: %d\n", len(ids))
			for _, id := range ids {
				if view, ok := acct.Device(id); ok {
					fmt.Printf("  %d  %s (%s)\n", id, view.Name, view.Model)
				}
			}
			return nil
		})
	},
}
