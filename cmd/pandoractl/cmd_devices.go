package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pandora-cas/goclient/pkg/account"
	"github.com/pandora-cas/goclient/pkg/cli"
	"github.com/pandora-cas/goclient/pkg/device"
)

var devicesCmd = &cobra.Command{
	Use:     "devices",
	Aliases: []string{"device", "dev"},
	Short:   "Inspect devices on the account",
}

func init() {
	devicesCmd.AddCommand(devicesListCmd, devicesShowCmd)
}

var devicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known devices",
	Long: `List every device on the account with its headline state.

Examples:
  pandoractl devices list
  pandoractl devices list --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAccount(func(ctx context.Context, acct *account.Account) error {
			ids := acct.Devices()
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

			if app.jsonOutput {
				views := make([]device.View, 0, len(ids))
				for _, id := range ids {
					if v, ok := acct.Device(id); ok {
						views = append(views, v)
					}
				}
				return json.NewEncoder(os.Stdout).Encode(views)
			}

			table := cli.NewTable("ID", "NAME", "MODEL", "ARMED", "ENGINE", "FUEL", "GSM", "LAST ONLINE")
			for _, id := range ids {
				v, ok := acct.Device(id)
				if !ok {
					continue
				}
				table.Row(
					strconv.FormatInt(id, 10),
					v.Name,
					v.Model,
					cli.YesNo(v.Flags["armed"]),
					cli.YesNo(v.Flags["engine_running"]),
					cli.FormatInt(v.FuelPercent, "%"),
					cli.FormatInt(v.GSMLevel, ""),
					cli.FormatTime(v.LastOnline),
				)
			}
			table.Flush()
			return nil
		})
	},
}

var devicesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one device in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid device id %q", args[0])
		}
		return withAccount(func(ctx context.Context, acct *account.Account) error {
			v, ok := acct.Device(id)
			if !ok {
				return fmt.Errorf("device %d not found on this account", id)
			}
			if app.jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(v)
			}
			showDevice(v)
			return nil
		})
	},
}

func showDevice(v device.View) {
	fmt.Printf("Device: %s (%d)\n", bold(v.Name), v.DeviceID)
	fmt.Printf("Model: %s\n", v.Model)
	fmt.Printf("Firmware: %s\n", v.FirmwareVer)
	if v.Color != "" {
		fmt.Printf("Color: %s\n", v.Color)
	}
	fmt.Printf("Capabilities: 0x%x\n", v.CapabilityMask)

	fmt.Println("\nTelemetry:")
	fmt.Printf("  Position: %s, %s\n", cli.FormatFloat(v.Latitude), cli.FormatFloat(v.Longitude))
	fmt.Printf("  Speed: %s km/h  Bearing: %s\n", cli.FormatFloat(v.Speed), cli.FormatFloat(v.Bearing))
	fmt.Printf("  Engine RPM: %s  Voltage: %s V\n", cli.FormatInt(v.EngineRPM, ""), cli.FormatFloat(v.Voltage))
	fmt.Printf("  Fuel: %s  Mileage: %s km\n", cli.FormatInt(v.FuelPercent, "%"), cli.FormatFloat(v.Mileage))
	fmt.Printf("  Temp (exterior/engine): %s / %s\n", cli.FormatInt(v.ExteriorTemp, "°"), cli.FormatInt(v.EngineTemp, "°"))
	fmt.Printf("  GSM: %s  Balance: %s\n", cli.FormatInt(v.GSMLevel, ""), cli.FormatFloat(v.Balance))
	fmt.Printf("  Last online: %s\n", cli.FormatTime(v.LastOnline))

	fmt.Println("\nFlags:")
	printFlags(v.Flags)
	if len(v.CANFlags) > 0 {
		fmt.Println("\nCAN Flags:")
		printFlags(v.CANFlags)
	}

	if v.LastCommandID != 0 {
		fmt.Println("\nCommand state:")
		fmt.Printf("  Last command: %d  Reply: %d  Pending: %v\n",
			v.LastCommandID, v.LastReplyCode, v.PendingCommand)
	}
}

func printFlags(flags map[string]bool) {
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %s %s\n", cli.DotPad(name, 28), cli.OnOff(flags[name]))
	}
}
