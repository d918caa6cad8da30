package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/1ureka/rft/internal/config"
	"github.com/1ureka/rft/internal/session"
	"github.com/1ureka/rft/internal/signaling"
	"github.com/1ureka/rft/internal/transport"
	"github.com/1ureka/rft/internal/util"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve files to rft clients",
	Long: `serve answers file requests on a UDP port. With --webrtc it instead
starts a PIN-protected WebSocket signaling server and serves over a
WebRTC DataChannel.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.Role = config.RoleServer
		if webrtc, _ := cmd.Flags().GetBool("webrtc"); webrtc {
			cfg.Transport = config.TransportWebRTC
		}
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.IntVarP(&cfg.Port, "port", "p", cfg.Port, "UDP port to listen on (0 = random)")
	flags.StringVarP(&cfg.Root, "root", "r", "", "directory requested paths are resolved under")
	flags.IntVar(&cfg.MaxSessions, "sessions", cfg.MaxSessions, "maximum concurrent transfers")
	flags.Bool("webrtc", false, "serve over a WebRTC DataChannel instead of UDP")
	flags.IntVar(&cfg.WSPort, "ws-port", 0, "signaling server port (webrtc only, 0 = random)")
	flags.BoolVar(&cfg.WSListen, "ws-listen", false, "listen on all interfaces for signaling (webrtc only)")
}

// runServe executes the server side until ctx is cancelled.
func runServe(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	srv := session.NewServer(session.ServerOptions{
		Options: session.Options{
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
		},
		Root:        cfg.Root,
		MaxSessions: cfg.MaxSessions,
	})

	util.StartStatsReporter(ctx)

	if cfg.Transport == config.TransportWebRTC {
		tr, err := signaling.EstablishAsHost(ctx, cfg.WSAddr())
		if err != nil {
			return fmt.Errorf("failed to establish DataChannel: %w", err)
		}
		defer tr.Close()

		util.LogSuccess("DataChannel established, waiting for requests")
		return srv.ServeConn(ctx, tr)
	}

	l, err := transport.ListenUDP(fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return err
	}
	defer l.Close()

	if err := srv.Serve(ctx, l); err != nil {
		return err
	}
	util.LogInfo("server stopped")
	return nil
}
