// Package server provides the public entry point for initializing the
// Praxis core runtime.
//
// This package exists in pkg/ (not internal/) so that embedding programs
// can compose the full runtime with their own plugins and middleware.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	srv.StartBackground(ctx)
//	http.ListenAndServe(fmt.Sprintf(":%d", srv.Port), srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/praxishq/praxis/core/internal/api"
	"github.com/praxishq/praxis/core/internal/api/handlers"
	"github.com/praxishq/praxis/core/internal/audit"
	"github.com/praxishq/praxis/core/internal/bus"
	"github.com/praxishq/praxis/core/internal/config"
	"github.com/praxishq/praxis/core/internal/evolution"
	"github.com/praxishq/praxis/core/internal/health"
	"github.com/praxishq/praxis/core/internal/intent"
	"github.com/praxishq/praxis/core/internal/plugins"
	"github.com/praxishq/praxis/core/internal/registry"
	"github.com/praxishq/praxis/core/internal/sandbox"
	"github.com/praxishq/praxis/core/internal/store"
	"github.com/praxishq/praxis/core/internal/synthesis"
	"github.com/praxishq/praxis/core/internal/telemetry"
	"github.com/praxishq/praxis/core/pkg/models"
)

// Server holds the initialized Praxis runtime.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the data store (in-memory by default). Exposed so embedding
	// programs can inspect or seed it.
	Store store.Store

	// Registry is the plugin registry. Exposed so embedding programs can
	// register their own plugins before serving.
	Registry *registry.Registry

	// Config is the effective runtime configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry
	// and close the audit log.
	ShutdownFunc func(context.Context) error

	events   *bus.Bus
	auditLog *audit.Logger
	janitor  *sandbox.Janitor
	pipeline *evolution.Pipeline
	monitor  *health.Monitor
	watchErr chan error
}

// New initializes all runtime components from the environment and returns a
// ready Server. Background loops are not running yet; call StartBackground.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the runtime with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	for _, dir := range []string{cfg.DataDir, cfg.Sandbox.Root, cfg.Evolution.LiveDir, cfg.Evolution.CheckpointDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir %s: %w", dir, err)
		}
	}

	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore := store.NewMemoryStore()
	log.Info().Msg("In-memory store initialized")

	events := bus.New()

	auditLog, err := audit.NewLogger(ctx, cfg.Audit)
	if err != nil {
		return nil, fmt.Errorf("init audit log: %w", err)
	}

	reg := registry.New(cfg.Routing.PluginTimeout, events)
	if err := plugins.RegisterBuiltins(reg); err != nil {
		return nil, fmt.Errorf("register built-in plugins: %w", err)
	}
	if cfg.Routing.ManifestPath != "" {
		manifest, err := config.LoadManifest(cfg.Routing.ManifestPath)
		if err != nil {
			return nil, fmt.Errorf("load plugin manifest: %w", err)
		}
		reg.LoadManifest(manifest)
	}
	log.Info().Int("plugins", len(reg.Descriptors())).Msg("Plugin registry initialized")

	history := intent.NewContextWindow(dataStore, cfg.Routing.ContextWindow)
	intentRouter, err := intent.NewRouter(cfg.Routing, reg, history)
	if err != nil {
		return nil, fmt.Errorf("init intent router: %w", err)
	}

	synth := synthesis.New(cfg.Routing, reg, events, auditLog, history)

	executor, err := sandbox.NewExecutor(cfg.Sandbox)
	if err != nil {
		return nil, fmt.Errorf("init sandbox executor: %w", err)
	}
	janitor := sandbox.NewJanitor(cfg.Sandbox.Root, cfg.Sandbox.JanitorInterval, cfg.Sandbox.OrphanAge)
	log.Info().Str("backend", executor.Kind()).Msg("Sandbox executor initialized")

	monitor := health.NewMonitor(cfg.Health.Interval, events)

	var pipeline *evolution.Pipeline
	if cfg.Evolution.Enabled {
		validator, err := evolution.NewValidator(cfg.Evolution, executor)
		if err != nil {
			return nil, fmt.Errorf("init validator: %w", err)
		}
		checkpointer := evolution.NewCheckpointer(
			cfg.Evolution.LiveDir, cfg.Evolution.CheckpointDir, cfg.Evolution.KeepCheckpoints, dataStore)
		analyzer := evolution.NewAnalyzer(dataStore)
		probe := func(ctx context.Context) error {
			if status := monitor.Poll(ctx); status.Overall == models.HealthUnhealthy {
				return fmt.Errorf("system unhealthy after apply")
			}
			return nil
		}
		pipeline = evolution.New(cfg.Evolution, dataStore, analyzer, validator, checkpointer, events, auditLog, probe)
		log.Info().Str("live_dir", cfg.Evolution.LiveDir).Msg("Evolution pipeline initialized")
	} else {
		log.Info().Msg("Evolution pipeline disabled")
	}

	monitor.Register("plugins", health.PluginsCheck(reg))
	monitor.Register("store", health.StoreCheck(dataStore.Ping))
	monitor.Register("bus", health.CounterCheck("events dropped", events.Dropped))
	monitor.Register("sandbox", health.CounterCheck("orphans reaped", janitor.Reaped))
	if pipeline != nil {
		monitor.Register("evolution", health.PipelineCheck(pipeline, cfg.Evolution.MaxSandboxTime))
	}

	h := handlers.New(cfg, dataStore, reg, intentRouter, synth, pipeline, monitor)
	router := api.NewRouter(h)

	srv := &Server{
		Handler:  router,
		Store:    dataStore,
		Registry: reg,
		Config:   cfg,
		Port:     cfg.Port,
		events:   events,
		auditLog: auditLog,
		janitor:  janitor,
		pipeline: pipeline,
		monitor:  monitor,
		watchErr: make(chan error, 1),
	}
	srv.ShutdownFunc = func(ctx context.Context) error {
		events.Close()
		if err := auditLog.Close(); err != nil {
			log.Warn().Err(err).Msg("Audit log close failed")
		}
		return shutdown(ctx)
	}
	return srv, nil
}

// StartBackground launches the runtime's background loops: the sandbox
// janitor, the evolution worker, the health monitor, and the manifest
// watcher. All of them stop when ctx is canceled.
func (s *Server) StartBackground(ctx context.Context) {
	go s.janitor.Start(ctx)
	go s.monitor.Start(ctx)
	if s.pipeline != nil {
		go s.pipeline.Start(ctx)
	}
	if path := s.Config.Routing.ManifestPath; path != "" {
		go func() {
			if err := s.Registry.WatchManifest(ctx, filepath.Clean(path)); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("Manifest watcher exited")
			}
		}()
	}
}
