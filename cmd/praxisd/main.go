// Praxis core runtime daemon.
//
// praxisd hosts the autonomous routing and self-modification runtime:
//   - Plugin Registry (capability modules behind a uniform contract)
//   - Intent Router (rule-based classification with conversational context)
//   - Response Synthesizer (multi-plugin dispatch and fusion)
//   - Sandbox Executor (isolated, resource-bounded code execution)
//   - Evolution Pipeline (checkpointed, gated self-modification)
//   - Health Monitor and append-only audit log
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/praxishq/praxis/core/internal/config"
	"github.com/praxishq/praxis/core/pkg/server"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	root := &cobra.Command{
		Use:   "praxisd",
		Short: "Praxis core runtime daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd)
		},
		SilenceUsage: true,
	}
	root.Flags().Int("port", 0, "listen port (overrides PRAXIS_PORT)")
	root.Flags().String("manifest", "", "plugin manifest path (overrides PRAXIS_PLUGIN_MANIFEST)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the runtime version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(config.Load().Version)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(cmd *cobra.Command) error {
	log.Info().Msg("Praxis core starting...")

	cfg := config.Load()
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Port = port
	}
	if manifest, _ := cmd.Flags().GetString("manifest"); manifest != "" {
		cfg.Routing.ManifestPath = manifest
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := server.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}
	defer srv.Store.Close()
	defer srv.ShutdownFunc(context.Background())

	srv.StartBackground(ctx)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", srv.Port),
		Handler:      srv.Handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down gracefully...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().Int("port", srv.Port).Msg("Praxis core ready")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
