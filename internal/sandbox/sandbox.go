// Package sandbox executes untrusted or self-generated code in an isolated,
// resource-bounded environment with no network access.
//
// Two runner backends ship with the runtime, selected by config:
//
//	Executor.Run(artifact, limits)
//	    ├─► LocalRunner   (subprocess in a scratch dir, rlimits + netns)
//	    └─► DockerRunner  (docker run --network=none, hard container limits)
//
// Limits are enforced externally — the runner kills the run, it never asks
// the sandboxed code to stop — because sandboxed code is untrusted and may
// not yield control voluntarily. Every scratch directory carries a marker
// file; the janitor reaps orphans left behind by crashes.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/praxishq/praxis/core/internal/config"
	"github.com/praxishq/praxis/core/pkg/contracts"
	"github.com/praxishq/praxis/core/pkg/models"
)

// markerName is the file identifying a directory as a praxis sandbox.
const markerName = ".praxis-sandbox"

// marker is the JSON content of the marker file.
type marker struct {
	PID       int       `json:"pid"`
	CreatedAt time.Time `json:"created_at"`
}

// Executor selects a runner backend and applies default limits.
type Executor struct {
	runner contracts.Runner
	limits models.SandboxLimits
}

// NewExecutor builds the executor for the configured backend.
func NewExecutor(cfg config.SandboxConfig) (*Executor, error) {
	limits := models.SandboxLimits{
		WallClock: cfg.WallClock,
		CPUSecs:   cfg.CPUSecs,
		MemoryMB:  cfg.MemoryMB,
		OutputKB:  cfg.OutputKB,
	}
	var runner contracts.Runner
	switch cfg.Backend {
	case "", "local":
		runner = NewLocalRunner(cfg.Root)
	case "docker":
		runner = NewDockerRunner(cfg.Root)
	default:
		return nil, fmt.Errorf("unknown sandbox backend %q", cfg.Backend)
	}
	return &Executor{runner: runner, limits: limits}, nil
}

// NewExecutorWithRunner wires an explicit runner (tests, Pro backends).
func NewExecutorWithRunner(r contracts.Runner, limits models.SandboxLimits) *Executor {
	return &Executor{runner: r, limits: limits}
}

// Kind reports the active backend.
func (e *Executor) Kind() string { return e.runner.Kind() }

// DefaultLimits returns the configured default run limits.
func (e *Executor) DefaultLimits() models.SandboxLimits { return e.limits }

// Run executes the artifact under the default limits.
func (e *Executor) Run(ctx context.Context, artifact *contracts.CodeArtifact) (*models.ExecutionReport, error) {
	return e.runner.Run(ctx, artifact, e.limits)
}

// RunWithLimits executes the artifact under explicit limits.
func (e *Executor) RunWithLimits(ctx context.Context, artifact *contracts.CodeArtifact, limits models.SandboxLimits) (*models.ExecutionReport, error) {
	return e.runner.Run(ctx, artifact, limits)
}

// ── Scratch directories ─────────────────────────────────────

// newScratch creates a marked scratch directory under root.
func newScratch(root string) (string, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create sandbox root: %w", err)
	}
	dir, err := os.MkdirTemp(root, "sbx-*")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	m := marker{PID: os.Getpid(), CreatedAt: time.Now().UTC()}
	data, _ := json.Marshal(m)
	if err := os.WriteFile(filepath.Join(dir, markerName), data, 0o644); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("write sandbox marker: %w", err)
	}
	return dir, nil
}

// materialize seeds the scratch dir from the artifact: SeedDir is copied
// (a copy, never a live reference), then Files are written on top.
func materialize(dir string, artifact *contracts.CodeArtifact) error {
	if artifact.SeedDir != "" {
		if err := CopyTree(artifact.SeedDir, dir); err != nil {
			return fmt.Errorf("seed scratch from %s: %w", artifact.SeedDir, err)
		}
	}
	for rel, content := range artifact.Files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if !within(dir, path) {
			return fmt.Errorf("artifact file %q escapes scratch dir", rel)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// CopyTree recursively copies src into dst, skipping sandbox markers.
func CopyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if info.Name() == markerName {
			return nil
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		if !info.Mode().IsRegular() {
			return nil // sockets, symlinks etc. have no place in a snapshot
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// within reports whether path stays inside dir after cleaning.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !filepath.IsAbs(rel) && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return rel == ".." || len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
