package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/BioHazard786/Huddle/internal/config"
	"github.com/BioHazard786/Huddle/internal/errs"
	"github.com/BioHazard786/Huddle/internal/metrics"
	"github.com/BioHazard786/Huddle/internal/relay"
	"github.com/BioHazard786/Huddle/internal/ui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run a local signaling relay for development",
	Long: `Run an in-memory signaling bus that speaks the same events as the Huddle
backend. Clients connect to ws://<addr>/ws?userId=<id>&codec=json|msgpack.

Examples:
  huddle relay --addr :8080
  huddle call --as alice --signaling-url ws://localhost:8080/ws dm-ab bob`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRelay(cmd)
	},
}

func init() {
	relayCmd.Flags().String("addr", "", "listen address (default :8080)")
}

func runRelay(cmd *cobra.Command) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return errs.New("load config", err)
	}

	log := zap.L()
	rec := metrics.New()
	hub := relay.NewHub(log, rec)
	srv := &http.Server{
		Addr:              cfg.RelayAddr,
		Handler:           relay.Router(hub, rec),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errs.New("serve relay", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.MetricsAddr != "" && cfg.MetricsAddr != cfg.RelayAddr {
		serveMetrics(ctx, g, cfg.MetricsAddr, rec.Handler(), log)
	}

	ui.PrintSuccessf("Relay listening on %s", cfg.RelayAddr)
	return g.Wait()
}
