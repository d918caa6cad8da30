package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/rft/internal/config"
	"github.com/1ureka/rft/internal/session"
	"github.com/1ureka/rft/internal/signaling"
	"github.com/1ureka/rft/internal/transport"
	"github.com/1ureka/rft/internal/util"
)

var getCmd = &cobra.Command{
	Use:   "get [server] [file]",
	Short: "Download a file from an rft server",
	Long: `get requests a file from an rft server and writes it to the local
directory. The server is "host" or "host:port"; it is omitted when
--ws-url selects the WebRTC transport. When the file name is missing
it is prompted for.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.Role = config.RoleClient

		if cfg.WSURL != "" {
			cfg.Transport = config.TransportWebRTC
			if len(args) > 0 {
				cfg.FileName = args[len(args)-1]
			}
		} else {
			if len(args) == 0 {
				return errors.New("missing server address")
			}
			cfg.Addr = args[0]
			if len(args) > 1 {
				cfg.FileName = args[1]
			}
		}

		if cfg.FileName == "" {
			cfg.FileName = askText("File name")
		}
		return runGet(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(getCmd)

	flags := getCmd.Flags()
	flags.IntVarP(&cfg.Port, "port", "p", cfg.Port, "server port when the address has none")
	flags.StringVarP(&cfg.RemoteDir, "remote-dir", "R", "", "directory on the server the file name is joined onto")
	flags.StringVarP(&cfg.LocalDir, "local-dir", "L", cfg.LocalDir, "directory the download is written to")
	flags.StringVar(&cfg.WSURL, "ws-url", "", "signaling URL printed by 'rft serve --webrtc'")
}

// runGet executes the client side: one request, one file.
func runGet(ctx context.Context, cfg config.Config) error {
	if cfg.Transport == config.TransportUDP {
		host, port, err := serverAddr(cfg.Addr, cfg.Port)
		if err != nil {
			return err
		}
		cfg.Addr, cfg.Port = host, port
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	conn, err := dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	remote := remotePath(cfg.RemoteDir, cfg.FileName)
	local := localPath(cfg.LocalDir, cfg.FileName)

	bar, _ := pterm.DefaultProgressbar.
		WithTotal(100).
		WithTitle(remote).
		WithRemoveWhenDone(true).
		Start()

	client := session.NewClient(conn, session.Options{
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
	})
	shown := 0
	client.OnProgress(func(percent uint8) {
		if d := int(percent) - shown; d > 0 {
			bar.Add(d)
			shown = int(percent)
		}
	})

	res, err := client.Fetch(ctx, remote, local)
	bar.Stop()
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", remote, err)
	}

	util.LogSuccess("saved %s (%s, %d packets)", local, util.FormatBytes(res.Bytes), res.Packets)
	util.LogInfo("time elapsed: %s", elapsed(res.Elapsed))
	return nil
}

// dial opens the datagram link selected by cfg.
func dial(ctx context.Context, cfg config.Config) (transport.Conn, error) {
	if cfg.Transport == config.TransportWebRTC {
		wsURL, err := signaling.NormalizeURL(cfg.WSURL)
		if err != nil {
			return nil, err
		}
		tr, err := signaling.EstablishAsClient(ctx, wsURL)
		if err != nil {
			return nil, fmt.Errorf("failed to establish DataChannel: %w", err)
		}
		util.LogSuccess("DataChannel established")
		return tr, nil
	}

	addr := net.JoinHostPort(cfg.Addr, strconv.Itoa(cfg.Port))
	conn, err := transport.DialUDP(addr)
	if err != nil {
		return nil, err
	}
	util.LogDebug("dialed %s from %s", conn.Peer(), conn.Local())
	return conn, nil
}
