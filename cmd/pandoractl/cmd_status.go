package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pandora-cas/goclient/pkg/account"
	"github.com/pandora-cas/goclient/pkg/status"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show account session status",
	Long: `Log in, start streaming and report the account's status observable
({ok, degraded, auth_failure, closed}) plus what it owns.

Examples:
  pandoractl status
  pandoractl status --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAccount(func(ctx context.Context, acct *account.Account) error {
			handle, ch := acct.Status()
			defer acct.UnsubscribeStatus(handle)

			// The observable delivers the current status on subscribe.
			var current status.Status
			select {
			case current = <-ch:
			case <-ctx.Done():
				return ctx.Err()
			}

			if app.jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
					"lifecycle": acct.Lifecycle(),
					"state":     current.State,
					"reason":    current.Reason,
					"devices":   acct.Devices(),
				})
			}

			fmt.Printf("Account: %s\n", bold(app.cfg.Username))
			fmt.Printf("Lifecycle: %s\n", acct.Lifecycle())
			fmt.Printf("Status: %s\n", formatState(current))
			fmt.Printf("Devices: %d\n", len(acct.Devices()))
			return nil
		})
	},
}

func formatState(s status.Status) string {
	switch s.State {
	case status.StateOK:
		return green(string(s.State))
	case status.StateDegraded:
		return yellow(fmt.Sprintf("%s (%s)", s.State, s.Reason))
	case status.StateAuthFailure:
		return red(fmt.Sprintf("%s (%s)", s.State, s.Reason))
	default:
		return string(s.State)
	}
}
