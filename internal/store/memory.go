// Package store — in-memory Store implementation.
// Sessions and proposals are runtime state; nothing here needs to survive a
// restart (checkpoints live on disk and are re-indexed by the rollback
// manager, the audit log is its own append-only file).
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/praxishq/praxis/core/pkg/models"
)

// MemoryStore implements Store with in-memory maps. Reads return copies so
// callers can never mutate shared state behind the lock.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*models.Session           // key: session id
	proposals   map[string]*models.EvolutionProposal // key: proposal id
	checkpoints map[string]*models.Checkpoint        // key: checkpoint id
	history     []*models.EvolutionRecord            // append-only, newest last
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]*models.Session),
		proposals:   make(map[string]*models.EvolutionProposal),
		checkpoints: make(map[string]*models.Checkpoint),
	}
}

// Ping always succeeds for the in-memory store.
func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }

// ── Session Store ───────────────────────────────────────────

func (m *MemoryStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "session", Key: id}
	}
	cp := *s
	cp.Exchanges = append([]models.Exchange(nil), s.Exchanges...)
	return &cp, nil
}

func (m *MemoryStore) PutSession(_ context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *session
	cp.Exchanges = append([]models.Exchange(nil), session.Exchanges...)
	cp.UpdatedAt = time.Now().UTC()
	m.sessions[session.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return &ErrNotFound{Entity: "session", Key: id}
	}
	delete(m.sessions, id)
	return nil
}

// ── Proposal Store ──────────────────────────────────────────

func (m *MemoryStore) ListProposals(_ context.Context) ([]models.EvolutionProposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.EvolutionProposal, 0, len(m.proposals))
	for _, p := range m.proposals {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProposedAt.Before(out[j].ProposedAt) })
	return out, nil
}

func (m *MemoryStore) GetProposal(_ context.Context, id string) (*models.EvolutionProposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.proposals[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "proposal", Key: id}
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) CreateProposal(_ context.Context, p *models.EvolutionProposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.proposals[p.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateProposal(_ context.Context, p *models.EvolutionProposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.proposals[p.ID]; !ok {
		return &ErrNotFound{Entity: "proposal", Key: p.ID}
	}
	cp := *p
	m.proposals[p.ID] = &cp
	return nil
}

// ── Checkpoint Store ────────────────────────────────────────

func (m *MemoryStore) ListCheckpoints(_ context.Context) ([]models.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Checkpoint, 0, len(m.checkpoints))
	for _, cp := range m.checkpoints {
		out = append(out, *cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) GetCheckpoint(_ context.Context, id string) (*models.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.checkpoints[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "checkpoint", Key: id}
	}
	out := *cp
	return &out, nil
}

func (m *MemoryStore) CreateCheckpoint(_ context.Context, cp *models.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *cp
	m.checkpoints[cp.ID] = &c
	return nil
}

func (m *MemoryStore) DeleteCheckpoint(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.checkpoints[id]; !ok {
		return &ErrNotFound{Entity: "checkpoint", Key: id}
	}
	delete(m.checkpoints, id)
	return nil
}

// ── History Store ───────────────────────────────────────────

func (m *MemoryStore) AppendHistory(_ context.Context, rec *models.EvolutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.history = append(m.history, &cp)
	return nil
}

func (m *MemoryStore) ListHistory(_ context.Context, limit int) ([]models.EvolutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.EvolutionRecord, 0, n)
	// newest first
	for i := len(m.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, *m.history[i])
	}
	return out, nil
}
