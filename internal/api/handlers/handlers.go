// Package handlers implements the HTTP handlers for the Praxis core
// runtime: the query surface, plugin inspection, evolution control, and
// health reporting.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/praxishq/praxis/core/internal/config"
	"github.com/praxishq/praxis/core/internal/evolution"
	"github.com/praxishq/praxis/core/internal/health"
	"github.com/praxishq/praxis/core/internal/intent"
	"github.com/praxishq/praxis/core/internal/registry"
	"github.com/praxishq/praxis/core/internal/store"
	"github.com/praxishq/praxis/core/internal/synthesis"
	"github.com/praxishq/praxis/core/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Config   *config.Config
	Store    store.Store
	Registry *registry.Registry
	Intent   *intent.Router
	Synth    *synthesis.Synthesizer
	Pipeline *evolution.Pipeline
	Monitor  *health.Monitor
}

// New creates a Handlers instance with all dependencies.
func New(cfg *config.Config, st store.Store, reg *registry.Registry, ir *intent.Router, syn *synthesis.Synthesizer, pl *evolution.Pipeline, mon *health.Monitor) *Handlers {
	return &Handlers{
		Config:   cfg,
		Store:    st,
		Registry: reg,
		Intent:   ir,
		Synth:    syn,
		Pipeline: pl,
		Monitor:  mon,
	}
}

// ── Query ────────────────────────────────────────────────────

type queryRequest struct {
	Text       string `json:"text"`
	SessionID  string `json:"session_id,omitempty"`
	PluginHint string `json:"plugin_hint,omitempty"`
}

type queryResponse struct {
	*models.SynthesizedResponse
	Candidates []string `json:"candidates"`
	Reasoning  []string `json:"reasoning,omitempty"`
}

// Query routes one utterance through classification, dispatch, and
// synthesis. A no-answer outcome is still 200: the pipeline worked, the
// plugins had nothing.
func (h *Handlers) Query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	q := models.NewQuery(req.Text, req.SessionID)
	q.PluginHint = req.PluginHint

	decision := h.Intent.Classify(r.Context(), q)
	resp := h.Synth.Synthesize(r.Context(), decision, q)

	respondJSON(w, http.StatusOK, &queryResponse{
		SynthesizedResponse: resp,
		Candidates:          decision.Candidates,
		Reasoning:           decision.Reasoning,
	})
}

// ── Plugins ──────────────────────────────────────────────────

// ListPlugins returns every known plugin descriptor, failed ones included.
func (h *Handlers) ListPlugins(w http.ResponseWriter, r *http.Request) {
	descs := h.Registry.Descriptors()
	if descs == nil {
		descs = []models.PluginDescriptor{}
	}
	respondJSON(w, http.StatusOK, descs)
}

// PluginHealth runs the optional per-plugin health checks.
func (h *Handlers) PluginHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Registry.HealthCheck(r.Context()))
}

// ── Evolution ────────────────────────────────────────────────

type proposalRequest struct {
	Description string             `json:"description"`
	Patches     []models.FilePatch `json:"patches"`
}

// SubmitProposal queues a self-modification proposal.
func (h *Handlers) SubmitProposal(w http.ResponseWriter, r *http.Request) {
	if h.Pipeline == nil {
		respondError(w, http.StatusServiceUnavailable, "evolution pipeline disabled")
		return
	}
	var req proposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Description == "" {
		respondError(w, http.StatusBadRequest, "description is required")
		return
	}

	p, err := h.Pipeline.Submit(r.Context(), req.Description, req.Patches)
	switch {
	case err == evolution.ErrHalted:
		respondError(w, http.StatusConflict, err.Error())
		return
	case err == evolution.ErrBusy:
		respondError(w, http.StatusTooManyRequests, err.Error())
		return
	case err != nil:
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, p)
}

// ListProposals returns all proposals with their pipeline state.
func (h *Handlers) ListProposals(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Store.ListProposals(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ps == nil {
		ps = []models.EvolutionProposal{}
	}
	respondJSON(w, http.StatusOK, ps)
}

// GetProposal returns one proposal by ID.
func (h *Handlers) GetProposal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "proposalId")
	p, err := h.Store.GetProposal(r.Context(), id)
	if err != nil {
		if _, ok := err.(*store.ErrNotFound); ok {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// ListCheckpoints returns recorded snapshot metadata.
func (h *Handlers) ListCheckpoints(w http.ResponseWriter, r *http.Request) {
	cps, err := h.Store.ListCheckpoints(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if cps == nil {
		cps = []models.Checkpoint{}
	}
	respondJSON(w, http.StatusOK, cps)
}

// ListHistory returns evolution outcomes, newest first.
func (h *Handlers) ListHistory(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Store.ListHistory(r.Context(), 100)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []models.EvolutionRecord{}
	}
	respondJSON(w, http.StatusOK, recs)
}

// ── Health & version ─────────────────────────────────────────

// Health returns the aggregated system health. Degraded still answers 200;
// unhealthy answers 503 so load balancers eject the instance.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := h.Monitor.Status()
	code := http.StatusOK
	if status.Overall == models.HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, status)
}

// Version reports service identity.
func (h *Handlers) Version(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"service": "praxis-core",
		"version": h.Config.Version,
	})
}

// ── Helpers ──────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
