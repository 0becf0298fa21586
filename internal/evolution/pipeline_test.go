package evolution_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/praxishq/praxis/core/internal/audit"
	"github.com/praxishq/praxis/core/internal/bus"
	"github.com/praxishq/praxis/core/internal/config"
	"github.com/praxishq/praxis/core/internal/evolution"
	"github.com/praxishq/praxis/core/internal/store"
	"github.com/praxishq/praxis/core/pkg/models"
)

// captureSink collects audit records in memory.
type captureSink struct {
	mu   sync.Mutex
	recs []models.AuditRecord
}

func (c *captureSink) Kind() string { return "capture" }

func (c *captureSink) Append(_ context.Context, rec *models.AuditRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, *rec)
	return nil
}

func (c *captureSink) Close() error { return nil }

// transitions returns the audited state changes of one proposal in order,
// formatted "from>to".
func (c *captureSink) transitions(proposalID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, rec := range c.recs {
		if rec.Kind != models.AuditEvolutionTransition || rec.Subject != proposalID {
			continue
		}
		out = append(out, fmt.Sprintf("%v>%v", rec.Detail["from"], rec.Detail["to"]))
	}
	return out
}

type pipelineFixture struct {
	pl      *evolution.Pipeline
	st      *store.MemoryStore
	sink    *captureSink
	liveDir string
	cancel  context.CancelFunc
}

func newPipeline(t *testing.T, probe evolution.Probe, tune func(*config.EvolutionConfig)) *pipelineFixture {
	t.Helper()
	liveDir := t.TempDir()
	cfg := config.EvolutionConfig{
		Enabled:         true,
		LiveDir:         liveDir,
		CheckpointDir:   t.TempDir(),
		RiskThreshold:   0.5,
		Gate:            "risk <= threshold && failed == 0",
		MaxPerfDelta:    0.25,
		ProbeGrace:      100 * time.Millisecond,
		MaxSandboxTime:  5 * time.Second,
		KeepCheckpoints: 3,
	}
	if tune != nil {
		tune(&cfg)
	}

	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })
	validator := newValidator(t, cfg)
	checkpointer := evolution.NewCheckpointer(cfg.LiveDir, cfg.CheckpointDir, cfg.KeepCheckpoints, st)
	events := bus.New()
	sink := &captureSink{}
	auditLog := audit.NewLoggerWithSinks(sink)

	pl := evolution.New(cfg, st, evolution.NewAnalyzer(st), validator, checkpointer, events, auditLog, probe)

	ctx, cancel := context.WithCancel(context.Background())
	go pl.Start(ctx)
	t.Cleanup(func() {
		cancel()
		events.Close()
	})
	return &pipelineFixture{pl: pl, st: st, sink: sink, liveDir: liveDir, cancel: cancel}
}

// waitForState polls until the proposal reaches a terminal state.
func (f *pipelineFixture) waitForState(t *testing.T, id string) *models.EvolutionProposal {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		p, err := f.st.GetProposal(context.Background(), id)
		if err == nil {
			switch p.State {
			case models.ProposalApplied, models.ProposalRejected, models.ProposalRolledBack:
				return p
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("proposal %s never reached a terminal state", id)
	return nil
}

func TestPipeline_AppliesCleanProposal(t *testing.T) {
	f := newPipeline(t, nil, nil)
	ctx := context.Background()

	p, err := f.pl.Submit(ctx, "add greeting handler", []models.FilePatch{
		{Path: "handlers/greet.py", Content: "def greet(): return 'hi'"},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	final := f.waitForState(t, p.ID)
	if final.State != models.ProposalApplied {
		t.Fatalf("State = %q (rejection %q), want applied", final.State, final.Rejection)
	}
	if final.CheckpointID == "" {
		t.Error("CheckpointID empty; a checkpoint must precede apply")
	}
	if final.DecidedAt == nil {
		t.Error("DecidedAt not set on terminal state")
	}

	got, err := os.ReadFile(filepath.Join(f.liveDir, "handlers", "greet.py"))
	if err != nil {
		t.Fatalf("patched file missing from live tree: %v", err)
	}
	if string(got) != "def greet(): return 'hi'" {
		t.Errorf("live file = %q", got)
	}

	recs, err := f.st.ListHistory(ctx, 10)
	if err != nil || len(recs) != 1 {
		t.Fatalf("ListHistory() = %v, %v; want one record", recs, err)
	}
	if recs[0].Outcome != models.ProposalApplied {
		t.Errorf("history outcome = %q, want applied", recs[0].Outcome)
	}
}

func TestPipeline_RepeatedNoOpProposalCheckpointsEachTime(t *testing.T) {
	f := newPipeline(t, nil, nil)
	ctx := context.Background()

	// Seed the live tree so the patch rewrites a file with its own content.
	const content = "def noop(): pass"
	if err := os.WriteFile(filepath.Join(f.liveDir, "util.py"), []byte(content), 0o644); err != nil {
		t.Fatalf("seed live tree: %v", err)
	}

	patches := []models.FilePatch{{Path: "util.py", Content: content}}
	for i := 0; i < 2; i++ {
		p, err := f.pl.Submit(ctx, "rewrite util verbatim", patches)
		if err != nil {
			t.Fatalf("Submit() #%d error = %v", i+1, err)
		}
		final := f.waitForState(t, p.ID)
		if final.State != models.ProposalApplied {
			t.Fatalf("proposal #%d State = %q (rejection %q), want applied", i+1, final.State, final.Rejection)
		}
	}

	// Two applies, two checkpoints.
	cps, err := f.st.ListCheckpoints(ctx)
	if err != nil {
		t.Fatalf("ListCheckpoints() error = %v", err)
	}
	if len(cps) != 2 {
		t.Errorf("checkpoints = %d, want one per apply", len(cps))
	}

	// The live tree is functionally unchanged.
	got, err := os.ReadFile(filepath.Join(f.liveDir, "util.py"))
	if err != nil {
		t.Fatalf("read live file: %v", err)
	}
	if string(got) != content {
		t.Errorf("live file = %q, want unchanged content", got)
	}
	entries, err := os.ReadDir(f.liveDir)
	if err != nil {
		t.Fatalf("read live dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("live tree holds %d entries, want just the seeded file", len(entries))
	}
}

func TestPipeline_ValidationErrorStillAuditsSandboxPhase(t *testing.T) {
	f := newPipeline(t, nil, nil)

	// A checks manifest that cannot be read as a file makes validation
	// error out before any check runs.
	if err := os.Mkdir(filepath.Join(f.liveDir, ".praxis-checks"), 0o755); err != nil {
		t.Fatalf("plant unreadable manifest: %v", err)
	}

	p, err := f.pl.Submit(context.Background(), "doomed change", []models.FilePatch{
		{Path: "x.py", Content: "x = 1"},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	final := f.waitForState(t, p.ID)
	if final.State != models.ProposalRejected {
		t.Fatalf("State = %q, want rejected", final.State)
	}
	if !strings.Contains(final.Rejection, "validation error") {
		t.Errorf("Rejection = %q, want the validation error named", final.Rejection)
	}

	got := f.sink.transitions(p.ID)
	want := []string{"proposed>sandboxed", "sandboxed>rejected"}
	if len(got) != len(want) {
		t.Fatalf("audited transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("audited transitions = %v, want %v", got, want)
		}
	}
}

func TestPipeline_RejectsAboveRiskThreshold(t *testing.T) {
	// Three modules put the score at 0.34; the tightened threshold rejects
	// it with every check green.
	f := newPipeline(t, nil, func(cfg *config.EvolutionConfig) {
		cfg.RiskThreshold = 0.3
	})

	p, err := f.pl.Submit(context.Background(), "sprawling change", []models.FilePatch{
		{Path: "a/x.py", Content: "x = 1"},
		{Path: "b/y.py", Content: "y = 2"},
		{Path: "c/z.py", Content: "z = 3"},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	final := f.waitForState(t, p.ID)
	if final.State != models.ProposalRejected {
		t.Fatalf("State = %q, want rejected", final.State)
	}
	if !strings.Contains(final.Rejection, "risk") {
		t.Errorf("Rejection = %q, want risk named", final.Rejection)
	}
	if _, err := os.Stat(filepath.Join(f.liveDir, "a")); !os.IsNotExist(err) {
		t.Error("rejected patch reached the live tree")
	}
}

func TestPipeline_RejectsFailedStaticScan(t *testing.T) {
	f := newPipeline(t, nil, nil)

	p, err := f.pl.Submit(context.Background(), "spawn a shell", []models.FilePatch{
		{Path: "m/a.py", Content: "import subprocess"},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	final := f.waitForState(t, p.ID)
	if final.State != models.ProposalRejected {
		t.Fatalf("State = %q, want rejected", final.State)
	}
	if !strings.Contains(final.Rejection, "static_scan") {
		t.Errorf("Rejection = %q, want static_scan named", final.Rejection)
	}
}

func TestPipeline_RollsBackOnProbeFailure(t *testing.T) {
	probe := func(context.Context) error { return errors.New("service unhealthy") }
	f := newPipeline(t, probe, nil)

	// Seed the live tree so the rollback has something to restore.
	if err := os.WriteFile(filepath.Join(f.liveDir, "main.py"), []byte("stable"), 0o644); err != nil {
		t.Fatalf("seed live tree: %v", err)
	}

	p, err := f.pl.Submit(context.Background(), "regressing change", []models.FilePatch{
		{Path: "main.py", Content: "broken"},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	final := f.waitForState(t, p.ID)
	if final.State != models.ProposalRolledBack {
		t.Fatalf("State = %q (rejection %q), want rolled_back", final.State, final.Rejection)
	}
	if !strings.Contains(final.Rejection, "probe failed") {
		t.Errorf("Rejection = %q, want probe failure named", final.Rejection)
	}

	got, err := os.ReadFile(filepath.Join(f.liveDir, "main.py"))
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	if string(got) != "stable" {
		t.Errorf("live file = %q, want pre-apply content restored", got)
	}
	if f.pl.Halted() {
		t.Error("Halted() = true; a clean rollback must not halt the pipeline")
	}
}

func TestSubmit_EmptyPatches(t *testing.T) {
	f := newPipeline(t, nil, nil)
	if _, err := f.pl.Submit(context.Background(), "nothing", nil); err == nil {
		t.Fatal("Submit() with no patches: expected error")
	}
}
