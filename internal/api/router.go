package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/praxishq/praxis/core/internal/api/handlers"
	"github.com/praxishq/praxis/core/internal/api/middleware"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Query surface
	r.Post("/query", h.Query)

	// Health & info
	r.Get("/health", h.Health)
	r.Get("/version", h.Version)

	// Plugins
	r.Route("/plugins", func(r chi.Router) {
		r.Get("/", h.ListPlugins)
		r.Get("/health", h.PluginHealth)
	})

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/evolution", func(r chi.Router) {
			r.Route("/proposals", func(r chi.Router) {
				r.Get("/", h.ListProposals)
				r.Post("/", h.SubmitProposal)
				r.Get("/{proposalId}", h.GetProposal)
			})
			r.Get("/checkpoints", h.ListCheckpoints)
			r.Get("/history", h.ListHistory)
		})
	})

	return r
}
