// Command rtcecho is the CLI entry point.
//
// It connects two hosts over a WebRTC DataChannel and exchanges text
// messages on it. Session descriptions and ICE candidates travel over a small
// HTTP (or WebSocket) signaling endpoint that each peer serves.
//
// Options come from flags, an optional TOML config file and built-in
// defaults, in that order of precedence.
package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/rtcecho/internal/app"
	"github.com/1ureka/rtcecho/internal/config"
	"github.com/1ureka/rtcecho/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "rtcecho",
		Short:         "Peer-to-peer echo chat over a WebRTC DataChannel",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			if cfg.Debug {
				util.EnableDebug()
			}

			printBanner(cfg)

			if err := app.Run(cmd.Context(), cfg); err != nil {
				return err
			}
			util.LogInfo("session closed")
			return nil
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&configPath, "config", "c", "", "TOML config file")
	fs.String("mode", string(config.ModeAuto), "Role: offer, answer or auto (probe the remote peer)")
	fs.String("port", "8080", "Local signaling port")
	fs.String("remote-address", "127.0.0.1:8081", "Remote peer signaling address (host:port)")
	fs.String("bind-host", "127.0.0.1", "Local signaling bind host")
	fs.String("signal-transport", string(config.TransportHTTP), "Outbound signaling transport: http or ws")
	fs.Duration("connect-timeout", 60*time.Second, "Give up if the connection is not up this long after the descriptions are exchanged (0 waits forever)")
	fs.Bool("debug", false, "Enable debug logging")

	return cmd
}

// printBanner shows the version and the effective configuration.
func printBanner(cfg *config.Config) {
	pterm.Info.Printfln("rtcecho v%s", version)
	pterm.Println()

	_ = pterm.DefaultTable.WithData(pterm.TableData{
		{"Mode", string(cfg.Mode)},
		{"Port", cfg.Port},
		{"Remote Address", cfg.RemoteAddress},
		{"Signaling", string(cfg.SignalTransport)},
	}).Render()
	pterm.Println()
}
