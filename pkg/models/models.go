// Package models holds the shared data types of the Praxis core runtime:
// plugin descriptors, queries, routing decisions, synthesized responses,
// evolution proposals, checkpoints, sandbox reports, and health status.
//
// Everything here is plain data with JSON tags. Behavior lives in the
// internal services that produce and consume these types.
package models

import (
	"time"

	"github.com/google/uuid"
)

// ── Plugins ──────────────────────────────────────────────────

// PluginState is the lifecycle state of a registered plugin.
type PluginState string

const (
	PluginUnloaded PluginState = "unloaded"
	PluginLoaded   PluginState = "loaded"
	PluginFailed   PluginState = "failed"
)

// PluginDescriptor describes a registered capability module. The registry
// owns descriptors exclusively; callers receive copies.
type PluginDescriptor struct {
	Name         string      `json:"name"`
	Capabilities []string    `json:"capabilities"`
	Priority     int         `json:"priority"`
	State        PluginState `json:"state"`
	Error        string      `json:"error,omitempty"`
	RegisteredAt time.Time   `json:"registered_at"`
}

// Specificity is the number of declared capability tags. The router breaks
// priority ties by preferring more specific plugins.
func (d *PluginDescriptor) Specificity() int {
	return len(d.Capabilities)
}

// HasCapability reports whether the descriptor declares the given tag.
func (d *PluginDescriptor) HasCapability(tag string) bool {
	for _, c := range d.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// ── Queries & Routing ────────────────────────────────────────

// Query is a single free-text request flowing through the runtime.
// Immutable after construction.
type Query struct {
	ID         string            `json:"id"`
	Text       string            `json:"text"`
	SessionID  string            `json:"session_id,omitempty"`
	PluginHint string            `json:"plugin_hint,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
}

// NewQuery stamps a query with an ID and arrival time.
func NewQuery(text, sessionID string) *Query {
	return &Query{
		ID:         uuid.New().String(),
		Text:       text,
		SessionID:  sessionID,
		ReceivedAt: time.Now().UTC(),
	}
}

// IntentUnknown is the forced intent label when classification confidence
// falls below the configured low-confidence threshold.
const IntentUnknown = "unknown"

// RoutingDecision is the outcome of intent classification for one query.
// Append-only provenance: never mutated after creation.
type RoutingDecision struct {
	QueryID    string    `json:"query_id"`
	Intent     string    `json:"intent"`
	Confidence float64   `json:"confidence"`
	Candidates []string  `json:"candidates"`
	Reasoning  []string  `json:"reasoning,omitempty"`
	DecidedAt  time.Time `json:"decided_at"`
}

// ── Plugin Results & Synthesis ───────────────────────────────

// PluginErrorKind classifies why a plugin invocation produced no usable answer.
type PluginErrorKind string

const (
	PluginErrTimeout   PluginErrorKind = "timeout"
	PluginErrException PluginErrorKind = "plugin_exception"
	PluginErrNotFound  PluginErrorKind = "plugin_not_found"
	PluginErrUnloaded  PluginErrorKind = "plugin_unloaded"
)

// PluginResult is one plugin's answer to a query. Err is empty on success.
type PluginResult struct {
	Plugin     string          `json:"plugin"`
	Response   string          `json:"response,omitempty"`
	Confidence float64         `json:"confidence"`
	Sources    []string        `json:"sources,omitempty"`
	Err        PluginErrorKind `json:"error,omitempty"`
	ErrDetail  string          `json:"error_detail,omitempty"`
	ElapsedMs  int64           `json:"elapsed_ms"`
}

// OK reports whether the result carries a usable answer.
func (r *PluginResult) OK() bool { return r != nil && r.Err == "" }

// SynthesizedResponse is the final merged answer for one query.
// If no contributing result succeeded, NoAnswer is true, Confidence is 0 and
// Reason explains why — the response is never a fabricated answer.
type SynthesizedResponse struct {
	QueryID    string   `json:"query_id"`
	Intent     string   `json:"intent"`
	Response   string   `json:"response"`
	Confidence float64  `json:"confidence"`
	Sources    []string `json:"sources,omitempty"`
	Plugins    []string `json:"plugins,omitempty"`
	Fused      bool     `json:"fused,omitempty"`
	NoAnswer   bool     `json:"no_answer,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// NoAnswerResponse builds the sentinel "I don't know" response.
func NoAnswerResponse(queryID, intent, reason string) *SynthesizedResponse {
	return &SynthesizedResponse{
		QueryID:  queryID,
		Intent:   intent,
		NoAnswer: true,
		Reason:   reason,
	}
}

// ── Sandbox ──────────────────────────────────────────────────

// SandboxLimits bounds one sandbox run. Limits are enforced externally:
// the runner kills the process, it does not ask it to stop.
type SandboxLimits struct {
	WallClock time.Duration `json:"wall_clock"`
	CPUSecs   int64         `json:"cpu_secs"`
	MemoryMB  int64         `json:"memory_mb"`
	OutputKB  int64         `json:"output_kb"`
}

// ExecutionStatus describes how a sandbox run ended.
type ExecutionStatus string

const (
	ExecCompleted     ExecutionStatus = "completed"      // exit 0
	ExecFailed        ExecutionStatus = "failed"         // normal non-zero exit
	ExecLimitExceeded ExecutionStatus = "limit_exceeded" // forcibly terminated
	ExecError         ExecutionStatus = "error"          // runner could not execute
)

// ExecutionReport is the structured result of one sandbox run.
type ExecutionReport struct {
	ID         string          `json:"id"`
	Status     ExecutionStatus `json:"status"`
	ExitCode   int             `json:"exit_code"`
	Stdout     string          `json:"stdout,omitempty"`
	Stderr     string          `json:"stderr,omitempty"`
	Elapsed    time.Duration   `json:"elapsed"`
	LimitHit   string          `json:"limit_hit,omitempty"`
	ScratchDir string          `json:"scratch_dir,omitempty"`
}

// ── Evolution ────────────────────────────────────────────────

// ProposalState is the lifecycle state of an evolution proposal.
//
//	Proposed → Sandboxed → Validated | Rejected
//	Validated → Applied | RolledBack
type ProposalState string

const (
	ProposalProposed   ProposalState = "proposed"
	ProposalSandboxed  ProposalState = "sandboxed"
	ProposalValidated  ProposalState = "validated"
	ProposalRejected   ProposalState = "rejected"
	ProposalApplied    ProposalState = "applied"
	ProposalRolledBack ProposalState = "rolled_back"
)

// FilePatch is one file touched by a proposal. Content replaces the file
// wholesale; Delete removes it.
type FilePatch struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
	Delete  bool   `json:"delete,omitempty"`
}

// EvolutionProposal is a self-generated code change moving through the
// pipeline. RiskScore is nil until the Impact Analyzer has run.
type EvolutionProposal struct {
	ID           string        `json:"id"`
	Description  string        `json:"description"`
	Patches      []FilePatch   `json:"patches"`
	State        ProposalState `json:"state"`
	RiskScore    *float64      `json:"risk_score,omitempty"`
	Rejection    string        `json:"rejection,omitempty"`
	CheckpointID string        `json:"checkpoint_id,omitempty"`
	ProposedAt   time.Time     `json:"proposed_at"`
	DecidedAt    *time.Time    `json:"decided_at,omitempty"`
}

// NewProposal creates a pending proposal for the described change.
func NewProposal(description string, patches []FilePatch) *EvolutionProposal {
	return &EvolutionProposal{
		ID:          uuid.New().String(),
		Description: description,
		Patches:     patches,
		State:       ProposalProposed,
		ProposedAt:  time.Now().UTC(),
	}
}

// CheckResult is one validation check's outcome.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// EvolutionTestResult is produced by one sandbox validation run and consumed
// by the Validation Engine to decide approval.
type EvolutionTestResult struct {
	ProposalID string        `json:"proposal_id"`
	Checks     []CheckResult `json:"checks"`
	PerfDelta  float64       `json:"perf_delta"` // fractional slowdown; 0.05 = 5% slower
	Applied    []string      `json:"applied"`    // files changed in the clone
	Elapsed    time.Duration `json:"elapsed"`
}

// FailedChecks counts checks that did not pass.
func (r *EvolutionTestResult) FailedChecks() int {
	n := 0
	for _, c := range r.Checks {
		if !c.Passed {
			n++
		}
	}
	return n
}

// Checkpoint is a named, timestamped snapshot of live system state taken
// before an evolution is applied. Immutable once created.
type Checkpoint struct {
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	Dir        string    `json:"dir"`
	FileCount  int       `json:"file_count"`
	TotalBytes int64     `json:"total_bytes"`
	CreatedAt  time.Time `json:"created_at"`
}

// EvolutionRecord is one line of pipeline history, feeding the Impact
// Analyzer's historical failure rate.
type EvolutionRecord struct {
	ProposalID  string        `json:"proposal_id"`
	Description string        `json:"description"`
	Modules     []string      `json:"modules"`
	Outcome     ProposalState `json:"outcome"`
	RiskScore   float64       `json:"risk_score"`
	RecordedAt  time.Time     `json:"recorded_at"`
}

// ── Health ───────────────────────────────────────────────────

// HealthLevel is the coarse health of a component or the whole system.
type HealthLevel string

const (
	HealthHealthy   HealthLevel = "healthy"
	HealthDegraded  HealthLevel = "degraded"
	HealthUnhealthy HealthLevel = "unhealthy"
)

// ComponentHealth is one component's view in the health report.
type ComponentHealth struct {
	Level  HealthLevel `json:"level"`
	Detail string      `json:"detail,omitempty"`
}

// HealthStatus is the aggregated system health surfaced at GET /health.
type HealthStatus struct {
	Overall    HealthLevel                `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
	CheckedAt  time.Time                  `json:"checked_at"`
}

// ── Sessions ─────────────────────────────────────────────────

// Exchange is one user/assistant turn kept in short-term conversational
// context for context-dependent fragments ("yes", "that one", ...).
type Exchange struct {
	UserText  string    `json:"user_text"`
	BotText   string    `json:"bot_text"`
	Intent    string    `json:"intent"`
	Timestamp time.Time `json:"timestamp"`
}

// Session holds bounded conversation history for one caller.
type Session struct {
	ID        string     `json:"id"`
	Exchanges []Exchange `json:"exchanges"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ── Audit ────────────────────────────────────────────────────

// AuditKind tags one audit record.
type AuditKind string

const (
	AuditQueryRouted         AuditKind = "query_routed"
	AuditEvolutionTransition AuditKind = "evolution_transition"
	AuditPluginLifecycle     AuditKind = "plugin_lifecycle"
)

// AuditRecord is one line of the append-only audit log.
type AuditRecord struct {
	ID        string         `json:"id"`
	Kind      AuditKind      `json:"kind"`
	Subject   string         `json:"subject"` // query ID, proposal ID, or plugin name
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp time.Time      `json:"ts"`
}

// NewAuditRecord stamps an audit record.
func NewAuditRecord(kind AuditKind, subject string, detail map[string]any) *AuditRecord {
	return &AuditRecord{
		ID:        uuid.New().String(),
		Kind:      kind,
		Subject:   subject,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}
}
