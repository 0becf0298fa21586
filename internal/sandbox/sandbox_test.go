package sandbox_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/praxishq/praxis/core/internal/sandbox"
	"github.com/praxishq/praxis/core/pkg/contracts"
	"github.com/praxishq/praxis/core/pkg/models"
)

// markerFile mirrors the on-disk sandbox ownership marker.
const markerFile = ".praxis-sandbox"

// deadPID is above any real pid_max, so no live process can own it.
const deadPID = 1 << 30

func writeMarkedDir(t *testing.T, root, name string, pid int, createdAt time.Time) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	data, _ := json.Marshal(map[string]any{"pid": pid, "created_at": createdAt})
	if err := os.WriteFile(filepath.Join(dir, markerFile), data, 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	return dir
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ─── Janitor ─────────────────────────────────────────────────

func TestJanitorSweep_ReapsDeadOwner(t *testing.T) {
	root := t.TempDir()
	dead := writeMarkedDir(t, root, "sbx-dead", deadPID, time.Now().UTC())

	j := sandbox.NewJanitor(root, time.Minute, time.Hour)
	if got := j.Sweep(true); got != 1 {
		t.Fatalf("Sweep(startup) = %d, want 1", got)
	}
	if exists(dead) {
		t.Errorf("dead-owner dir %s survived the sweep", dead)
	}
	if j.Reaped() != 1 {
		t.Errorf("Reaped() = %d, want 1", j.Reaped())
	}
}

func TestJanitorSweep_SkipsLiveOwnerOnStartup(t *testing.T) {
	root := t.TempDir()
	live := writeMarkedDir(t, root, "sbx-live", os.Getpid(), time.Now().UTC())

	j := sandbox.NewJanitor(root, time.Minute, time.Hour)
	if got := j.Sweep(true); got != 0 {
		t.Fatalf("Sweep(startup) = %d, want 0", got)
	}
	if !exists(live) {
		t.Errorf("live-owner dir %s was reaped on startup", live)
	}
}

func TestJanitorSweep_ReapsStaleLiveOwner(t *testing.T) {
	// Even a live owner forfeits a scratch dir that outlived the orphan age:
	// a leaked dir inside a long-lived process would otherwise never go.
	root := t.TempDir()
	stale := writeMarkedDir(t, root, "sbx-stale", os.Getpid(), time.Now().UTC().Add(-2*time.Hour))
	fresh := writeMarkedDir(t, root, "sbx-fresh", os.Getpid(), time.Now().UTC())

	j := sandbox.NewJanitor(root, time.Minute, time.Hour)
	if got := j.Sweep(false); got != 1 {
		t.Fatalf("Sweep(interval) = %d, want 1", got)
	}
	if exists(stale) {
		t.Errorf("stale dir %s survived the interval sweep", stale)
	}
	if !exists(fresh) {
		t.Errorf("fresh dir %s was reaped", fresh)
	}
}

func TestJanitorSweep_IgnoresUnmarkedDirs(t *testing.T) {
	root := t.TempDir()
	foreign := filepath.Join(root, "not-ours")
	if err := os.MkdirAll(foreign, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	j := sandbox.NewJanitor(root, time.Minute, time.Hour)
	if got := j.Sweep(true); got != 0 {
		t.Fatalf("Sweep() = %d, want 0", got)
	}
	if !exists(foreign) {
		t.Errorf("unmarked dir %s was reaped", foreign)
	}
}

func TestJanitorSweep_MissingRootIsQuiet(t *testing.T) {
	j := sandbox.NewJanitor(filepath.Join(t.TempDir(), "never-created"), time.Minute, time.Hour)
	if got := j.Sweep(true); got != 0 {
		t.Fatalf("Sweep() = %d, want 0 on missing root", got)
	}
}

// ─── Executor limit plumbing ─────────────────────────────────

// recordingRunner captures the limits it was invoked with.
type recordingRunner struct {
	limits models.SandboxLimits
}

func (r *recordingRunner) Kind() string { return "fake" }

func (r *recordingRunner) Run(_ context.Context, _ *contracts.CodeArtifact, limits models.SandboxLimits) (*models.ExecutionReport, error) {
	r.limits = limits
	return &models.ExecutionReport{Status: models.ExecCompleted}, nil
}

func TestExecutor_RunAppliesDefaultLimits(t *testing.T) {
	defaults := models.SandboxLimits{WallClock: 10 * time.Second, CPUSecs: 5, MemoryMB: 256, OutputKB: 64}
	runner := &recordingRunner{}
	e := sandbox.NewExecutorWithRunner(runner, defaults)

	_, err := e.Run(context.Background(), &contracts.CodeArtifact{Command: []string{"true"}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if runner.limits != defaults {
		t.Errorf("runner limits = %+v, want defaults %+v", runner.limits, defaults)
	}
}

func TestExecutor_RunWithLimitsOverrides(t *testing.T) {
	defaults := models.SandboxLimits{WallClock: 10 * time.Second, CPUSecs: 5, MemoryMB: 256, OutputKB: 64}
	override := models.SandboxLimits{WallClock: time.Second, CPUSecs: 1, MemoryMB: 64, OutputKB: 8}
	runner := &recordingRunner{}
	e := sandbox.NewExecutorWithRunner(runner, defaults)

	_, err := e.RunWithLimits(context.Background(), &contracts.CodeArtifact{Command: []string{"true"}}, override)
	if err != nil {
		t.Fatalf("RunWithLimits() error = %v", err)
	}
	if runner.limits != override {
		t.Errorf("runner limits = %+v, want override %+v", runner.limits, override)
	}
}

// ─── Materialization ─────────────────────────────────────────

func TestLocalRunner_RejectsEscapingFile(t *testing.T) {
	lr := sandbox.NewLocalRunner(t.TempDir())
	artifact := &contracts.CodeArtifact{
		Command: []string{"true"},
		Files:   map[string]string{"../escape.txt": "nope"},
	}

	report, err := lr.Run(context.Background(), artifact, models.SandboxLimits{WallClock: time.Second, OutputKB: 16})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Status != models.ExecError {
		t.Fatalf("Status = %q, want %q", report.Status, models.ExecError)
	}
	if !strings.Contains(report.Stderr, "escapes") {
		t.Errorf("Stderr = %q, want the path-escape diagnostic", report.Stderr)
	}
}

func TestLocalRunner_NoCommand(t *testing.T) {
	lr := sandbox.NewLocalRunner(t.TempDir())
	if _, err := lr.Run(context.Background(), &contracts.CodeArtifact{}, models.SandboxLimits{WallClock: time.Second}); err == nil {
		t.Fatal("Run() with empty command: expected error")
	}
}

// ─── Network isolation ───────────────────────────────────────

func TestLocalRunner_BlocksOutboundConnections(t *testing.T) {
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
	if err := exec.Command("unshare", "-n", "true").Run(); err != nil {
		t.Skipf("unshare -n not usable here: %v", err)
	}

	// A listener in the test process: reachable from the host network
	// namespace, unreachable from inside the sandbox's.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()
	port := ln.Addr().(*net.TCPAddr).Port

	if c, err := net.Dial("tcp", ln.Addr().String()); err != nil {
		t.Fatalf("host-side dial failed, listener broken: %v", err)
	} else {
		c.Close()
	}

	lr := sandbox.NewLocalRunner(t.TempDir())
	report, err := lr.Run(context.Background(), &contracts.CodeArtifact{
		Command: []string{"bash", "-c", fmt.Sprintf("exec 3<>/dev/tcp/127.0.0.1/%d", port)},
	}, models.SandboxLimits{WallClock: 10 * time.Second, CPUSecs: 5, MemoryMB: 256, OutputKB: 16})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Status != models.ExecFailed {
		t.Fatalf("Status = %q (stderr %q); a connect to the host loopback must fail inside the sandbox",
			report.Status, report.Stderr)
	}
}

// ─── CopyTree ────────────────────────────────────────────────

func TestCopyTree(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	if err := os.MkdirAll(filepath.Join(src, "pkg"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	os.WriteFile(filepath.Join(src, "main.py"), []byte("print('hi')"), 0o644)
	os.WriteFile(filepath.Join(src, "pkg", "util.py"), []byte("x = 1"), 0o644)
	os.WriteFile(filepath.Join(src, markerFile), []byte("{}"), 0o644)

	if err := sandbox.CopyTree(src, dst); err != nil {
		t.Fatalf("CopyTree() error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dst, "pkg", "util.py"))
	if err != nil {
		t.Fatalf("nested file not copied: %v", err)
	}
	if string(got) != "x = 1" {
		t.Errorf("nested file content = %q", got)
	}
	if exists(filepath.Join(dst, markerFile)) {
		t.Errorf("sandbox marker was copied; markers identify ownership and must not travel")
	}
}
