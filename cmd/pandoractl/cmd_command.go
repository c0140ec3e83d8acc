package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pandora-cas/goclient/pkg/account"
	"github.com/pandora-cas/goclient/pkg/capability"
	"github.com/pandora-cas/goclient/pkg/commander"
)

var commandWait bool

var commandCmd = &cobra.Command{
	Use:   "command <device> <command>",
	Short: "Submit a remote command to a device",
	Long: `Submit a command by numeric id or symbolic alias.

By default the command resolves as soon as the cloud accepts the HTTP POST
(fire-and-forget). With -w/--wait, pandoractl waits for the unit's reply
frame (up to the 30 second command deadline).

Known aliases:
  ` + strings.Join(capability.Names(), ", ") + `

Examples:
  pandoractl command 1234 lock
  pandoractl command 1234 start_engine -w
  pandoractl command 1234 255`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		deviceID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid device id %q", args[0])
		}
		commandID, err := capability.Parse(args[1])
		if err != nil {
			return err
		}

		return withAccount(func(ctx context.Context, acct *account.Account) error {
			fut, err := acct.Submit(ctx, deviceID, int(commandID), commandWait)
			if err != nil {
				return err
			}

			outcome, err := fut.Wait(ctx)
			if err != nil {
				return err
			}
			printOutcome(deviceID, commandID, outcome)
			if outcome.Result != commander.ResultOK {
				return fmt.Errorf("command %s did not complete: %s", capability.Name(commandID), outcome.Result)
			}
			return nil
		})
	},
}

func init() {
	commandCmd.Flags().BoolVarP(&commandWait, "wait", "w", false, "Wait for the unit's reply frame, not just HTTP accept")
}

func printOutcome(deviceID int64, commandID capability.CommandID, o commander.Outcome) {
	name := capability.Name(commandID)
	switch o.Result {
	case commander.ResultOK:
		fmt.Printf("%s %s → device %d\n", green("ok"), name, deviceID)
	case commander.ResultFailure:
		fmt.Printf("%s %s → device %d (result %d, reply %d)\n", red("failed"), name, deviceID, o.RawResult, o.ReplyCode)
	case commander.ResultTimeout:
		fmt.Printf("%s %s → device %d (no reply within deadline)\n", yellow("timeout"), name, deviceID)
	case commander.ResultCancelled:
		fmt.Printf("%s %s → device %d\n", yellow("cancelled"), name, deviceID)
	}
}
