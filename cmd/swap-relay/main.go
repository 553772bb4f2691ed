// Command swap-relay runs the SWAP v1 signaling relay: registration,
// matching, and offer/answer forwarding over websocket connections
// (spec §4.7).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/swap-proto/swap-relay/internal/app"
	"github.com/swap-proto/swap-relay/internal/metrics"
	"github.com/swap-proto/swap-relay/internal/relay"
	"github.com/swap-proto/swap-relay/internal/store"
	"github.com/swap-proto/swap-relay/internal/wsgateway"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "swap-relay",
		Short:         "SWAP v1 signaling relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "optional YAML config overlay path")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newVersionCmd())
	root.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), configPath)
	}

	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the relay's websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the relay version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

func runServe(parent context.Context, configPath string) error {
	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := app.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	auditStore, pool, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	if pool != nil {
		defer pool.Close()
	}
	defer func() {
		if err := auditStore.Close(); err != nil {
			log.Warn("audit.store.close_failed", "err", err)
		}
	}()

	reg := prometheus.NewRegistry()
	collector := metrics.New(reg)

	sink := store.NewSink(auditStore, func(err error) {
		log.Warn("audit.append.failed", "err", err)
	})

	core := relay.New(relay.Config{
		SecurityEnabled: cfg.SecurityEnabled,
		SharedSecret:    cfg.SharedSecret,
		ConnectTimeout:  cfg.ConnectTimeout,
	}, log, collector, sink)

	gateway := wsgateway.New(core, log)

	mux := http.NewServeMux()
	app.RegisterHTTP(mux, core, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), gateway.HandleWS)

	handler := app.WithSecurityHeaders(app.WithRequestLogging(mux, log))

	return app.Serve(ctx, app.ServeConfig(cfg), handler, log)
}
