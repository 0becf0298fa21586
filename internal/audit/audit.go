// Package audit is the append-only record of every RoutingDecision and
// every EvolutionProposal transition, keyed by timestamp, for post-hoc
// analysis. Records are line-delimited structured JSON.
//
// Two sinks ship with the runtime: a JSONL file (default) and PostgreSQL.
// A failing sink is logged and skipped; auditing never blocks or fails the
// request path.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/praxishq/praxis/core/internal/config"
	"github.com/praxishq/praxis/core/pkg/contracts"
	"github.com/praxishq/praxis/core/pkg/models"
)

// Logger fans audit records out to its configured sinks.
type Logger struct {
	sinks []contracts.AuditSink
}

// NewLogger builds the audit logger from config: file sink by default,
// postgres when configured.
func NewLogger(ctx context.Context, cfg config.AuditConfig) (*Logger, error) {
	var sinks []contracts.AuditSink

	switch cfg.Backend {
	case "", "file":
		fs, err := NewFileSink(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("audit file sink: %w", err)
		}
		sinks = append(sinks, fs)
	case "postgres":
		ps, err := NewPostgresSink(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("audit postgres sink: %w", err)
		}
		sinks = append(sinks, ps)
	default:
		return nil, fmt.Errorf("unknown audit backend %q", cfg.Backend)
	}

	return &Logger{sinks: sinks}, nil
}

// NewLoggerWithSinks builds a logger over explicit sinks (tests, Pro wiring).
func NewLoggerWithSinks(sinks ...contracts.AuditSink) *Logger {
	return &Logger{sinks: sinks}
}

// Record appends one audit record to every sink. Sink errors are logged and
// swallowed.
func (l *Logger) Record(ctx context.Context, rec *models.AuditRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	for _, s := range l.sinks {
		if err := s.Append(ctx, rec); err != nil {
			log.Warn().
				Err(err).
				Str("sink", s.Kind()).
				Str("kind", string(rec.Kind)).
				Msg("Audit append failed")
		}
	}
}

// RoutingDecision records a routing decision with its provenance.
func (l *Logger) RoutingDecision(ctx context.Context, d *models.RoutingDecision) {
	l.Record(ctx, models.NewAuditRecord(models.AuditQueryRouted, d.QueryID, map[string]any{
		"intent":     d.Intent,
		"confidence": d.Confidence,
		"candidates": d.Candidates,
		"reasoning":  d.Reasoning,
	}))
}

// ProposalTransition records one evolution state change.
func (l *Logger) ProposalTransition(ctx context.Context, p *models.EvolutionProposal, from models.ProposalState) {
	detail := map[string]any{
		"from":        string(from),
		"to":          string(p.State),
		"description": p.Description,
	}
	if p.RiskScore != nil {
		detail["risk"] = *p.RiskScore
	}
	if p.Rejection != "" {
		detail["rejection"] = p.Rejection
	}
	if p.CheckpointID != "" {
		detail["checkpoint"] = p.CheckpointID
	}
	l.Record(ctx, models.NewAuditRecord(models.AuditEvolutionTransition, p.ID, detail))
}

// PluginLifecycle records plugin load/fail/unload events.
func (l *Logger) PluginLifecycle(ctx context.Context, name string, state models.PluginState, detail string) {
	l.Record(ctx, models.NewAuditRecord(models.AuditPluginLifecycle, name, map[string]any{
		"state":  string(state),
		"detail": detail,
	}))
}

// Close closes all sinks.
func (l *Logger) Close() error {
	var firstErr error
	for _, s := range l.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
