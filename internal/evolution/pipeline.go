// Package evolution implements the self-modification pipeline: proposals
// are risk-scored, exercised in a sandboxed clone of the live tree,
// approved or rejected by a configurable gate, and applied behind a
// checkpoint that guarantees rollback.
//
//	Submit ──► queue ──► worker (one proposal at a time)
//	                       ├─ Analyzer.Assess      risk ∈ [0,1]
//	                       ├─ Validator.Validate   sandboxed clone
//	                       ├─ gate                 → Validated | Rejected
//	                       ├─ Checkpointer.Create  before any live write
//	                       ├─ apply                → Applied
//	                       └─ probe (backoff)      failure → RolledBack
//
// A rollback that itself fails halts the pipeline: no further proposals are
// processed until an operator intervenes, because the live tree can no
// longer be trusted to match any checkpoint.
package evolution

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/praxishq/praxis/core/internal/audit"
	"github.com/praxishq/praxis/core/internal/bus"
	"github.com/praxishq/praxis/core/internal/config"
	"github.com/praxishq/praxis/core/internal/store"
	"github.com/praxishq/praxis/core/pkg/models"
)

// ErrHalted is returned by Submit after a failed rollback has frozen the
// pipeline.
var ErrHalted = errors.New("evolution pipeline halted: manual intervention required")

// ErrBusy is returned by Submit when the proposal queue is full.
var ErrBusy = errors.New("evolution pipeline busy: queue full")

const queueDepth = 16

// Probe checks system health after an evolution is applied. A nil error
// means the applied change is behaving.
type Probe func(ctx context.Context) error

// Pipeline serializes evolution processing: exactly one proposal is in
// flight at any time, so checkpoints and applies never interleave.
type Pipeline struct {
	cfg          config.EvolutionConfig
	st           store.Store
	analyzer     *Analyzer
	validator    *Validator
	checkpointer *Checkpointer
	events       *bus.Bus
	audit        *audit.Logger
	probe        Probe

	queue  chan string
	halted atomic.Bool

	mu           sync.Mutex
	inflightID   string
	inflightFrom time.Time
}

// New wires the pipeline. probe may be nil, in which case applied
// evolutions are trusted without a post-apply health check.
func New(cfg config.EvolutionConfig, st store.Store, analyzer *Analyzer, validator *Validator, checkpointer *Checkpointer, events *bus.Bus, auditLog *audit.Logger, probe Probe) *Pipeline {
	return &Pipeline{
		cfg:          cfg,
		st:           st,
		analyzer:     analyzer,
		validator:    validator,
		checkpointer: checkpointer,
		events:       events,
		audit:        auditLog,
		probe:        probe,
		queue:        make(chan string, queueDepth),
	}
}

// Submit records a new proposal and queues it for processing.
func (pl *Pipeline) Submit(ctx context.Context, description string, patches []models.FilePatch) (*models.EvolutionProposal, error) {
	if pl.halted.Load() {
		return nil, ErrHalted
	}
	if len(patches) == 0 {
		return nil, errors.New("proposal has no patches")
	}

	p := models.NewProposal(description, patches)
	if err := pl.st.CreateProposal(ctx, p); err != nil {
		return nil, err
	}

	select {
	case pl.queue <- p.ID:
	default:
		return nil, ErrBusy
	}

	pl.events.Publish(bus.TopicEvolutionProposed, p.ID, p)
	log.Info().Str("proposal_id", p.ID).Str("description", description).Msg("Evolution proposed")
	return p, nil
}

// Start runs the worker loop. It blocks until ctx is canceled.
func (pl *Pipeline) Start(ctx context.Context) {
	log.Info().
		Str("live_dir", pl.cfg.LiveDir).
		Float64("risk_threshold", pl.cfg.RiskThreshold).
		Str("gate", pl.cfg.Gate).
		Msg("Evolution pipeline started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Evolution pipeline stopped")
			return
		case id := <-pl.queue:
			if pl.halted.Load() {
				continue
			}
			pl.setInflight(id)
			pl.process(ctx, id)
			pl.setInflight("")
		}
	}
}

// Halted reports whether a failed rollback has frozen the pipeline.
func (pl *Pipeline) Halted() bool { return pl.halted.Load() }

// InFlight returns the proposal currently being processed and how long it
// has been in flight. The health monitor flags runs exceeding the sandbox
// budget as stuck.
func (pl *Pipeline) InFlight() (string, time.Duration, bool) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.inflightID == "" {
		return "", 0, false
	}
	return pl.inflightID, time.Since(pl.inflightFrom), true
}

// QueueDepth reports how many proposals are waiting.
func (pl *Pipeline) QueueDepth() int { return len(pl.queue) }

func (pl *Pipeline) setInflight(id string) {
	pl.mu.Lock()
	pl.inflightID = id
	pl.inflightFrom = time.Now()
	pl.mu.Unlock()
}

// process drives one proposal through the state machine to a terminal state.
func (pl *Pipeline) process(ctx context.Context, id string) {
	p, err := pl.st.GetProposal(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("proposal_id", id).Msg("Evolution: proposal vanished from store")
		return
	}

	risk, modules := pl.analyzer.Assess(ctx, p)
	p.RiskScore = &risk
	if err := pl.st.UpdateProposal(ctx, p); err != nil {
		log.Error().Err(err).Str("proposal_id", id).Msg("Evolution: persist risk score failed")
		return
	}

	// The sandbox phase is entered before validation starts, so the audit
	// trail reflects it even when validation itself errors out.
	pl.transition(ctx, p, models.ProposalSandboxed)
	result, err := pl.validator.Validate(ctx, p)
	if err != nil {
		pl.reject(ctx, p, modules, "validation error: "+err.Error())
		return
	}

	approved, reason := pl.validator.Approve(risk, result)
	if !approved {
		pl.reject(ctx, p, modules, reason)
		return
	}
	pl.transition(ctx, p, models.ProposalValidated)

	cp, err := pl.checkpointer.Create(ctx, "pre-apply "+p.ID)
	if err != nil {
		pl.reject(ctx, p, modules, "checkpoint failed: "+err.Error())
		return
	}
	p.CheckpointID = cp.ID

	if err := pl.apply(p.Patches); err != nil {
		// The live tree may be partially written. Restore before rejecting.
		log.Error().Err(err).Str("proposal_id", p.ID).Msg("Evolution: apply failed, restoring checkpoint")
		if restoreErr := pl.checkpointer.Restore(ctx, cp.ID); restoreErr != nil {
			pl.halt(ctx, p, restoreErr)
			return
		}
		pl.reject(ctx, p, modules, "apply failed: "+err.Error())
		return
	}
	pl.transition(ctx, p, models.ProposalApplied)
	log.Info().
		Str("proposal_id", p.ID).
		Str("checkpoint_id", cp.ID).
		Float64("risk", risk).
		Msg("Evolution applied")

	if err := pl.probeApplied(ctx); err != nil {
		log.Warn().Err(err).Str("proposal_id", p.ID).Msg("Evolution: post-apply probe failed, rolling back")
		if restoreErr := pl.checkpointer.Restore(ctx, cp.ID); restoreErr != nil {
			pl.halt(ctx, p, restoreErr)
			return
		}
		p.Rejection = "post-apply probe failed: " + err.Error()
		pl.transition(ctx, p, models.ProposalRolledBack)
		pl.record(ctx, p, modules)
		return
	}

	pl.record(ctx, p, modules)
}

// probeApplied retries the health probe with exponential backoff inside the
// grace window. The change gets time to settle; persistent failure within
// the window triggers rollback.
func (pl *Pipeline) probeApplied(ctx context.Context) error {
	if pl.probe == nil {
		return nil
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = pl.cfg.ProbeGrace
	return backoff.Retry(func() error {
		return pl.probe(ctx)
	}, backoff.WithContext(policy, ctx))
}

// apply writes the proposal's patches into the live tree.
func (pl *Pipeline) apply(patches []models.FilePatch) error {
	for _, patch := range patches {
		clean := filepath.Clean(patch.Path)
		if filepath.IsAbs(patch.Path) || strings.HasPrefix(filepath.ToSlash(clean), "../") {
			return fmt.Errorf("patch path %q escapes the live tree", patch.Path)
		}
		target := filepath.Join(pl.cfg.LiveDir, clean)
		if patch.Delete {
			if err := os.Remove(target); err != nil {
				return fmt.Errorf("delete %s: %w", patch.Path, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(target, []byte(patch.Content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", patch.Path, err)
		}
	}
	return nil
}

func (pl *Pipeline) reject(ctx context.Context, p *models.EvolutionProposal, modules []string, reason string) {
	p.Rejection = reason
	pl.transition(ctx, p, models.ProposalRejected)
	pl.record(ctx, p, modules)
	log.Info().Str("proposal_id", p.ID).Str("reason", reason).Msg("Evolution rejected")
}

// halt freezes the pipeline after a failed rollback. The proposal stays in
// its current state; the live tree is in an unknown condition and only an
// operator can clear it.
func (pl *Pipeline) halt(ctx context.Context, p *models.EvolutionProposal, restoreErr error) {
	pl.halted.Store(true)
	p.Rejection = "ROLLBACK FAILED: " + restoreErr.Error()
	if err := pl.st.UpdateProposal(ctx, p); err != nil {
		log.Error().Err(err).Str("proposal_id", p.ID).Msg("Evolution: persist halt state failed")
	}
	log.Error().
		Err(restoreErr).
		Str("proposal_id", p.ID).
		Str("checkpoint_id", p.CheckpointID).
		Msg("Evolution ROLLBACK FAILED — pipeline halted")
}

// transition moves the proposal to a new state, persists it, and emits the
// matching bus event and audit record.
func (pl *Pipeline) transition(ctx context.Context, p *models.EvolutionProposal, to models.ProposalState) {
	from := p.State
	p.State = to
	if terminal(to) {
		now := time.Now().UTC()
		p.DecidedAt = &now
	}
	if err := pl.st.UpdateProposal(ctx, p); err != nil {
		log.Error().Err(err).Str("proposal_id", p.ID).Str("state", string(to)).Msg("Evolution: persist transition failed")
	}
	pl.audit.ProposalTransition(ctx, p, from)
	if topic, ok := topicFor(to); ok {
		pl.events.Publish(topic, p.ID, p)
	}
}

func (pl *Pipeline) record(ctx context.Context, p *models.EvolutionProposal, modules []string) {
	risk := 0.0
	if p.RiskScore != nil {
		risk = *p.RiskScore
	}
	rec := &models.EvolutionRecord{
		ProposalID:  p.ID,
		Description: p.Description,
		Modules:     modules,
		Outcome:     p.State,
		RiskScore:   risk,
		RecordedAt:  time.Now().UTC(),
	}
	if err := pl.st.AppendHistory(ctx, rec); err != nil {
		log.Warn().Err(err).Str("proposal_id", p.ID).Msg("Evolution: append history failed")
	}
}

func terminal(s models.ProposalState) bool {
	switch s {
	case models.ProposalRejected, models.ProposalApplied, models.ProposalRolledBack:
		return true
	}
	return false
}

func topicFor(s models.ProposalState) (bus.Topic, bool) {
	switch s {
	case models.ProposalValidated:
		return bus.TopicEvolutionValidated, true
	case models.ProposalRejected:
		return bus.TopicEvolutionRejected, true
	case models.ProposalApplied:
		return bus.TopicEvolutionApplied, true
	case models.ProposalRolledBack:
		return bus.TopicEvolutionRollback, true
	default:
		return "", false
	}
}
