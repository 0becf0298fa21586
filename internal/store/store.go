// Package store provides the storage interface and in-memory implementation
// for the Praxis core runtime: sessions, evolution proposals, checkpoint
// metadata, and evolution history.
package store

import (
	"context"

	"github.com/praxishq/praxis/core/pkg/models"
)

// Store is the primary storage interface. The evolution pipeline, intent
// router and HTTP handlers depend on this interface, so swapping the
// in-memory implementation for a persistent one never touches them.
type Store interface {
	SessionStore
	ProposalStore
	CheckpointStore
	HistoryStore

	// Ping checks if the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Session Store ───────────────────────────────────────────

// SessionStore holds bounded conversation context per caller session.
type SessionStore interface {
	GetSession(ctx context.Context, id string) (*models.Session, error)
	PutSession(ctx context.Context, session *models.Session) error
	DeleteSession(ctx context.Context, id string) error
}

// ── Proposal Store ──────────────────────────────────────────

// ProposalStore tracks evolution proposals across their state machine.
type ProposalStore interface {
	ListProposals(ctx context.Context) ([]models.EvolutionProposal, error)
	GetProposal(ctx context.Context, id string) (*models.EvolutionProposal, error)
	CreateProposal(ctx context.Context, p *models.EvolutionProposal) error
	UpdateProposal(ctx context.Context, p *models.EvolutionProposal) error
}

// ── Checkpoint Store ────────────────────────────────────────

// CheckpointStore tracks snapshot metadata. The snapshot bytes themselves
// live on disk under the checkpoint directory; the store records where.
type CheckpointStore interface {
	ListCheckpoints(ctx context.Context) ([]models.Checkpoint, error)
	GetCheckpoint(ctx context.Context, id string) (*models.Checkpoint, error)
	CreateCheckpoint(ctx context.Context, cp *models.Checkpoint) error
	DeleteCheckpoint(ctx context.Context, id string) error
}

// ── History Store ───────────────────────────────────────────

// HistoryStore records completed evolution outcomes. The Impact Analyzer
// reads it to compute historical failure rates for similar changes.
type HistoryStore interface {
	AppendHistory(ctx context.Context, rec *models.EvolutionRecord) error
	ListHistory(ctx context.Context, limit int) ([]models.EvolutionRecord, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}
