// Command rft is the CLI entry point.
//
// This tool transfers files reliably over plain UDP (or an unreliable WebRTC
// DataChannel) using an 8-byte header and stop-and-wait retransmission.
//
// It can be launched interactively (no subcommand) or non-interactively via
// the serve and get subcommands.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/rft/internal/config"
	"github.com/1ureka/rft/internal/util"
)

var version = "dev"

// cfg is filled by the persistent and per-command flags.
var cfg = config.Default()

var rootCmd = &cobra.Command{
	Use:           "rft",
	Short:         "Reliable file transfer over UDP",
	Long:          `rft downloads a single file from an rft server over UDP, retransmitting every packet until it is acknowledged.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfg.Debug {
			util.EnableDebug()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractive(cmd.Context())
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVar(&cfg.Debug, "debug", false, "enable debug logging (packet traces)")
	flags.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "how long to wait for each packet")
	flags.IntVar(&cfg.MaxRetries, "retries", cfg.MaxRetries, "attempts per packet before giving up")
}

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	pterm.Info.Printfln("rft — v%s", version)
	pterm.Println()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Interactive mode
// ---------------------------------------------------------------------------

// runInteractive asks for the role and its parameters when no subcommand
// is given.
func runInteractive(ctx context.Context) error {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Server — Share files from this machine", "Client — Download a file"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(role, "Server") {
		cfg.Role = config.RoleServer
		cfg.Port = askPort("UDP port to listen on (1 ~ 65535)")
		cfg.Root = askText("Directory to serve (empty = paths as given)")
		return runServe(ctx, cfg)
	}

	cfg.Role = config.RoleClient
	cfg.Addr = askText("Server address (host or host:port)")
	cfg.FileName = askText("File name")
	return runGet(ctx, cfg)
}

// askPort prompts the user for a port number until a valid one is entered.
func askPort(prompt string) int {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		port, err := parsePort(raw)
		if err == nil {
			pterm.Println()
			return port
		}

		util.LogWarning("invalid port number: must be 1 ~ 65535")
		pterm.Println()
	}
}

// askText prompts once and returns the trimmed answer.
func askText(prompt string) string {
	raw, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText(prompt).
		Show()
	pterm.Println()
	return trim(raw)
}

// elapsed renders a duration for the end-of-transfer summary.
func elapsed(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
