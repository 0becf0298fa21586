package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/praxishq/praxis/core/pkg/contracts"
	"github.com/praxishq/praxis/core/pkg/models"
)

// LocalRunner executes artifacts as subprocesses in scratch directories
// under root. Isolation is best-effort: network is removed via `unshare -n`
// and CPU/memory are capped via `prlimit` when those tools exist; the wall
// clock limit always holds because the whole process group is SIGKILLed at
// the deadline.
type LocalRunner struct {
	root string

	toolOnce sync.Once
	unshare  string // path to unshare, "" if unavailable
	prlimit  string // path to prlimit, "" if unavailable
}

// NewLocalRunner creates a runner rooted at the given scratch directory.
func NewLocalRunner(root string) *LocalRunner {
	return &LocalRunner{root: root}
}

func (lr *LocalRunner) Kind() string { return "local" }

// Run executes the artifact. The scratch directory is removed on every exit
// path; a crash between create and remove is the janitor's problem.
func (lr *LocalRunner) Run(ctx context.Context, artifact *contracts.CodeArtifact, limits models.SandboxLimits) (*models.ExecutionReport, error) {
	if len(artifact.Command) == 0 {
		return nil, errors.New("artifact has no command")
	}

	report := &models.ExecutionReport{ID: uuid.New().String()}

	scratch, err := newScratch(lr.root)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(scratch)
	report.ScratchDir = scratch

	if err := materialize(scratch, artifact); err != nil {
		report.Status = models.ExecError
		report.Stderr = err.Error()
		return report, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, limits.WallClock)
	defer cancel()

	argv := lr.wrapCommand(artifact.Command, limits)
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = scratch
	cmd.Env = sandboxEnv(scratch, artifact.Env)
	// Own process group so the kill reaches grandchildren too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr cappedBuffer
	stdout.limit = limits.OutputKB * 1024
	stderr.limit = limits.OutputKB * 1024
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	report.Elapsed = time.Since(start)
	report.Stdout = stdout.String()
	report.Stderr = stderr.String()

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		report.Status = models.ExecLimitExceeded
		report.LimitHit = "wall_clock"
		report.ExitCode = -1
	case runErr == nil:
		report.Status = models.ExecCompleted
	default:
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			report.Status = models.ExecError
			report.Stderr = runErr.Error()
			break
		}
		report.ExitCode = exitErr.ExitCode()
		report.Status = models.ExecFailed
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			report.ExitCode = -1
			switch ws.Signal() {
			case syscall.SIGXCPU, syscall.SIGKILL:
				// prlimit delivers SIGXCPU at the CPU cap and the kernel
				// OOM-kills at the address-space cap.
				report.Status = models.ExecLimitExceeded
				report.LimitHit = "cpu_or_memory"
			}
		}
	}

	log.Debug().
		Str("run_id", report.ID).
		Str("status", string(report.Status)).
		Dur("elapsed", report.Elapsed).
		Msg("Sandbox run finished")
	return report, nil
}

// wrapCommand prepends the isolation wrappers that are available on this
// host. Order matters: unshare must be outermost so prlimit applies inside
// the new namespace.
func (lr *LocalRunner) wrapCommand(command []string, limits models.SandboxLimits) []string {
	lr.toolOnce.Do(func() {
		if path, err := exec.LookPath("unshare"); err == nil {
			lr.unshare = path
		}
		if path, err := exec.LookPath("prlimit"); err == nil {
			lr.prlimit = path
		}
		if lr.unshare == "" {
			log.Warn().Msg("unshare not found; local sandbox runs with host network")
		}
	})

	argv := make([]string, 0, len(command)+6)
	if lr.unshare != "" {
		argv = append(argv, lr.unshare, "-n", "--")
	}
	if lr.prlimit != "" {
		argv = append(argv,
			lr.prlimit,
			"--cpu="+strconv.FormatInt(limits.CPUSecs, 10),
			"--as="+strconv.FormatInt(limits.MemoryMB*1024*1024, 10),
		)
	}
	return append(argv, command...)
}

// sandboxEnv builds a minimal environment: no inherited secrets, HOME and
// TMPDIR confined to the scratch dir.
func sandboxEnv(scratch string, extra map[string]string) []string {
	env := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + scratch,
		"TMPDIR=" + scratch,
		"LANG=C.UTF-8",
	}
	for k, v := range extra {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// cappedBuffer keeps at most limit bytes and silently discards the rest.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int64
}

func (cb *cappedBuffer) Write(p []byte) (int, error) {
	remain := cb.limit - int64(cb.buf.Len())
	if remain <= 0 {
		return len(p), nil
	}
	if int64(len(p)) > remain {
		cb.buf.Write(p[:remain])
		return len(p), nil
	}
	return cb.buf.Write(p)
}

func (cb *cappedBuffer) String() string { return cb.buf.String() }
