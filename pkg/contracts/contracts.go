// Package contracts defines the narrow interfaces between the Praxis core
// and everything it treats as replaceable: capability plugins, sandbox
// runners, and audit sinks.
//
// Domain plugins (stock quotes, web search, TTS, ...) live outside the core
// and are opaque to it. They implement Plugin and nothing else; the core
// never depends on what a plugin does internally, only that it answers or
// fails within its deadline.
package contracts

import (
	"context"
	"time"

	"github.com/praxishq/praxis/core/pkg/models"
)

// ── Plugin contract ─────────────────────────────────────────

// Request is the payload handed to a plugin's Handle.
type Request struct {
	Text      string            `json:"text"`
	SessionID string            `json:"session_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Response is what a plugin returns from Handle. Confidence must be in
// [0,1]; the registry clamps out-of-range values rather than trusting the
// plugin.
type Response struct {
	Text       string   `json:"response"`
	Confidence float64  `json:"confidence"`
	Sources    []string `json:"sources,omitempty"`
}

// Registry is the narrow handle a plugin receives during Init. It lets a
// plugin inspect what else is loaded without reaching into the registry's
// internals or mutating it.
type Registry interface {
	// Lookup returns descriptors of loaded plugins declaring the capability tag.
	Lookup(capability string) []models.PluginDescriptor

	// Descriptors returns all known plugin descriptors, including failed ones.
	Descriptors() []models.PluginDescriptor
}

// Plugin is the uniform capability-module contract. A plugin that panics
// inside Handle is folded into a plugin_exception result; the raw panic is
// never propagated to the caller.
type Plugin interface {
	// Name is the unique plugin name used for registration and routing.
	Name() string

	// Capabilities declares the capability tags this plugin serves.
	Capabilities() []string

	// Init is called once at registration. Returning an error marks the
	// plugin failed: it stays visible for diagnostics but is excluded
	// from routing.
	Init(reg Registry) error

	// Handle answers one request. It must respect ctx cancellation; the
	// registry enforces a hard per-call timeout regardless.
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// HealthChecker is optionally implemented by plugins that can report
// liveness. Plugins without it are assumed healthy while loaded.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ── Sandbox runner ──────────────────────────────────────────

// CodeArtifact is a runnable unit handed to the sandbox: an entry command
// plus the files to materialize in the scratch directory. SeedDir, when set,
// names a directory tree copied into the scratch before Files are written on
// top; the runner copies it, it never points the run at the live tree.
type CodeArtifact struct {
	Command []string          `json:"command"`
	Files   map[string]string `json:"files,omitempty"`
	SeedDir string            `json:"seed_dir,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Runner executes untrusted artifacts in an isolated environment. Limit
// violations terminate the run forcibly and report ExecLimitExceeded; the
// scratch directory is discarded on every exit path.
type Runner interface {
	// Kind identifies the isolation backend ("local", "docker").
	Kind() string

	// Run executes the artifact under the given limits.
	Run(ctx context.Context, artifact *CodeArtifact, limits models.SandboxLimits) (*models.ExecutionReport, error)
}

// ── Audit sink ──────────────────────────────────────────────

// AuditSink receives append-only audit records. Sinks must tolerate bursts;
// a failing sink is logged and skipped, it never blocks the caller's
// request path.
type AuditSink interface {
	Kind() string
	Append(ctx context.Context, rec *models.AuditRecord) error
	Close() error
}

// ── Clock ───────────────────────────────────────────────────

// Now is the clock function used by components that need testable time.
type Now func() time.Time
