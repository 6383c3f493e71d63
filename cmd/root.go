package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/BioHazard786/Huddle/internal/ui"
	"github.com/BioHazard786/Huddle/internal/version"
	"github.com/spf13/cobra"
)

var flagUser string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "huddle",
	Short: "Voice and video calls for Huddle team chat, from the terminal",
	Long: `Huddle places and answers one-to-one voice and video calls between members of a
Huddle workspace, and follows a channel's live messages. Calls are direct WebRTC
connections negotiated over the workspace's signaling bus.`,
	Version: version.Version,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.String("domain", "", "backend domain (default huddle.qzz.io)")
	f.String("api-url", "", "REST API base URL (derived from --domain)")
	f.String("signaling-url", "", "signaling WebSocket URL (derived from --domain)")
	f.String("token", "", "bearer token for the backend")
	f.String("codec", "", "signaling wire format: json or msgpack")
	f.StringSlice("stun", nil, "STUN server URLs")
	f.String("media", "", "media source: device or synthetic")
	f.Int("width", 0, "camera capture width")
	f.Int("height", 0, "camera capture height")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address")
	f.StringVar(&flagUser, "as", "", "act as this user id instead of asking the backend (dev relay)")

	rootCmd.AddCommand(callCmd, listenCmd, chatCmd, relayCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}
