package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/praxishq/praxis/core/pkg/contracts"
	"github.com/praxishq/praxis/core/pkg/models"
)

// DefaultSandboxImage is the container image runs execute in. Override per
// artifact with the PRAXIS_SANDBOX_IMAGE env entry.
const DefaultSandboxImage = "python:3.12-slim"

// DockerRunner executes artifacts inside throwaway containers. Stronger
// isolation than LocalRunner: no network, hard memory/CPU caps, read-only
// root filesystem with only the scratch dir writable.
type DockerRunner struct {
	root  string
	image string
}

// NewDockerRunner creates a runner rooted at the given scratch directory.
func NewDockerRunner(root string) *DockerRunner {
	return &DockerRunner{root: root, image: DefaultSandboxImage}
}

func (dr *DockerRunner) Kind() string { return "docker" }

func (dr *DockerRunner) Run(ctx context.Context, artifact *contracts.CodeArtifact, limits models.SandboxLimits) (*models.ExecutionReport, error) {
	if _, err := exec.LookPath("docker"); err != nil {
		return nil, errors.New("docker not found in PATH — install Docker or switch the sandbox backend to local")
	}
	if len(artifact.Command) == 0 {
		return nil, errors.New("artifact has no command")
	}

	report := &models.ExecutionReport{ID: uuid.New().String()}

	scratch, err := newScratch(dr.root)
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

	image := dr.image
	if custom := artifact.Env["PRAXIS_SANDBOX_IMAGE"]; custom != "" {
		image = custom
	}

	containerName := "praxis-sbx-" + report.ID[:8]
	args := dockerArgs(containerName, scratch, image, artifact, limits)

	runCtx, cancel := context.WithTimeout(ctx, limits.WallClock)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "docker", args...)
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
		// CommandContext killed the docker client; the container itself
		// still needs removing.
		_ = exec.Command("docker", "rm", "-f", containerName).Run()
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
		switch report.ExitCode {
		case 137:
			// Docker reports 137 for OOM-killed containers.
			report.Status = models.ExecLimitExceeded
			report.LimitHit = "memory"
		case 152:
			// 128+SIGXCPU: the RLIMIT_CPU budget ran out.
			report.Status = models.ExecLimitExceeded
			report.LimitHit = "cpu"
		default:
			report.Status = models.ExecFailed
		}
	}

	log.Debug().
		Str("run_id", report.ID).
		Str("container", containerName).
		Str("status", string(report.Status)).
		Msg("Docker sandbox run finished")
	if strings.TrimSpace(report.Stderr) != "" && report.Status == models.ExecError {
		log.Warn().Str("run_id", report.ID).Msg("Docker sandbox run could not execute")
	}
	return report, nil
}

// dockerArgs builds the docker run invocation. The CPU budget is enforced as
// RLIMIT_CPU inside the container, the same cap the local runner sets via
// prlimit; the wall clock deadline additionally bounds the whole run.
func dockerArgs(containerName, scratch, image string, artifact *contracts.CodeArtifact, limits models.SandboxLimits) []string {
	args := []string{
		"run", "--rm",
		"--name", containerName,
		"--network=none",
		"--read-only",
		fmt.Sprintf("--memory=%dm", limits.MemoryMB),
		fmt.Sprintf("--ulimit=cpu=%d:%d", limits.CPUSecs, limits.CPUSecs),
		"--pids-limit=128",
		"-v", scratch + ":/work:rw",
		"-w", "/work",
	}
	for k, v := range artifact.Env {
		if k == "PRAXIS_SANDBOX_IMAGE" {
			continue
		}
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, image)
	return append(args, artifact.Command...)
}
