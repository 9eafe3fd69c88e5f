package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	httpserver "github.com/sawpanic/eligibility/internal/interfaces/http"
	"github.com/sawpanic/eligibility/internal/interfaces/http/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the eligibility HTTP API",
	Long: `Starts the HTTP API:
  POST /eligibility/check   score an address
  GET  /gas/{chainId}       current gas price
  GET  /health              chain circuits, cache and store status
  GET  /metrics             Prometheus metrics`,
	RunE: runServe,
}

var shutdownTimeout time.Duration

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 15*time.Second, "Grace period for in-flight requests")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, buildOptions{sinks: true})
	if err != nil {
		return err
	}
	defer a.Close()

	deps := handlers.Deps{
		Engine:  a.engine,
		Chains:  a.gateway,
		Cache:   a.cache,
		Version: version,
	}
	if a.database != nil && a.database.IsEnabled() {
		deps.Database = a.database.Health()
	}

	server, err := httpserver.NewServer(httpserver.ServerConfigFrom(cfg.HTTP), deps, a.metrics.Handler())
	if err != nil {
		return err
	}

	a.runHeadWatchers(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	log.Info().
		Str("version", version).
		Int("chains", len(cfg.Chains)).
		Bool("store", deps.Database != nil).
		Bool("publisher", a.producer != nil).
		Msg("Eligibility engine ready")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
