// Pandoractl - Pandora/PanDECT Cloud Client
//
// A CLI tool for the Pandora vehicle-alarm cloud service:
//   - Login and device discovery
//   - Live device state (telemetry, bitfield flags)
//   - Remote command submission (lock, unlock, engine start/stop, ...)
//   - Event watching (pandora_cas_event / pandora_cas_command)
//
// Examples:
//
//	pandoractl login
//	pandoractl devices list
//	pandoractl devices show 1234
//	pandoractl command 1234 lock -w
//	pandoractl command 1234 255
//	pandoractl watch
//	pandoractl status
//
// Configuration comes from ~/.pandoractl/config.yaml (or --config),
// overridden by PANDORA_* environment variables. When no password is
// configured, pandoractl prompts for one on the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pandora-cas/goclient/pkg/account"
	"github.com/pandora-cas/goclient/pkg/cli"
	"github.com/pandora-cas/goclient/pkg/config"
	"github.com/pandora-cas/goclient/pkg/util"
	"github.com/pandora-cas/goclient/pkg/version"
)

// App holds CLI state shared across all commands.
type App struct {
	// Option flags
	configPath string
	verbose    bool
	jsonOutput bool

	// Initialized state (set in PersistentPreRunE)
	cfg *config.Config
}

var app = &App{}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "pandoractl",
	Short:             "Pandora/PanDECT Cloud Client",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `Pandoractl talks to the Pandora/PanDECT vehicle-alarm cloud: it logs in,
discovers the devices on the account, shows their live state, submits
remote commands and tails the event stream.

  pandoractl devices list
  pandoractl command 1234 lock -w
  pandoractl watch`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if isVersionOrHelp(cmd) {
			return nil
		}

		// Quiet by default; the stream/poller logs are noise in a CLI.
		if app.verbose {
			util.SetLogLevel("debug")
		} else {
			util.SetLogLevel("warn")
		}

		var err error
		app.cfg, err = loadConfig()
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&app.configPath, "config", "c", "", "Config file (default ~/.pandoractl/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "Verbose output")

	for _, cmd := range []*cobra.Command{devicesCmd, statusCmd} {
		addOutputFlags(cmd)
	}

	rootCmd.AddCommand(loginCmd, devicesCmd, commandCmd, watchCmd, statusCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Info())
	},
}

// loadConfig layers the YAML file, PANDORA_* environment variables and an
// interactive password prompt, in that order.
func loadConfig() (*config.Config, error) {
	path := app.configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}

	cfg, err := config.LoadFrom(path)
	switch {
	case err == nil:
	case errors.Is(err, util.ErrNotFound):
		cfg = &config.Config{}
	case errors.Is(err, util.ErrInvalidConfig):
		// Env vars or the password prompt may still complete it.
	default:
		return nil, err
	}

	cfg.ApplyEnv()
	if cfg.Username != "" && cfg.Password == "" {
		pw, perr := promptPassword(cfg.Username)
		if perr != nil {
			return nil, perr
		}
		cfg.Password = pw
	}

	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// promptPassword reads a password from the terminal without echo.
func promptPassword(username string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("password required: set it in the config file or PANDORA_PASSWORD")
	}
	fmt.Fprintf(os.Stderr, "Password for %s: ", username)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}

// withAccount runs fn against a started Account and closes it afterwards.
// Ctrl-C cancels the context so watch and wait-style commands exit cleanly.
func withAccount(fn func(ctx context.Context, acct *account.Account) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	acct, err := account.New(app.cfg, "")
	if err != nil {
		return err
	}
	defer acct.Close()

	if err := acct.Start(ctx); err != nil {
		return fmt.Errorf("starting account: %w", err)
	}
	return fn(ctx, acct)
}

// addOutputFlags registers --json as a local flag.
// For noun-group parent commands, this is a PersistentFlag so subcommands inherit.
func addOutputFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if cmd.HasSubCommands() {
		flags = cmd.PersistentFlags()
	}
	flags.BoolVar(&app.jsonOutput, "json", false, "JSON output")
}

// isVersionOrHelp checks whether cmd (or any ancestor) is a version or help command.
func isVersionOrHelp(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "version", "completion":
			return true
		}
	}
	return false
}

// Color helpers — delegate to pkg/cli
func green(s string) string  { return cli.Green(s) }
func yellow(s string) string { return cli.Yellow(s) }
func red(s string) string    { return cli.Red(s) }
func bold(s string) string   { return cli.Bold(s) }
