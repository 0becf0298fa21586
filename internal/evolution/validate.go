package evolution

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog/log"

	"github.com/praxishq/praxis/core/internal/config"
	"github.com/praxishq/praxis/core/internal/sandbox"
	"github.com/praxishq/praxis/core/pkg/contracts"
	"github.com/praxishq/praxis/core/pkg/models"
)

// checksManifest lists the tree's functional checks, one shell-free command
// per line. A tree without one has no functional checks to run.
const checksManifest = ".praxis-checks"

// Validator exercises a proposal against a sandboxed clone of the live tree
// and decides approval. The approval gate is a configurable boolean
// expression over {risk, threshold, failed, perf_delta}; operators can
// tighten it without a rebuild.
type Validator struct {
	cfg      config.EvolutionConfig
	executor *sandbox.Executor
	gate     *vm.Program
}

// NewValidator compiles the approval gate and returns the validator. A gate
// that fails to compile is a configuration error, not something to limp past.
func NewValidator(cfg config.EvolutionConfig, executor *sandbox.Executor) (*Validator, error) {
	program, err := expr.Compile(cfg.Gate, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile approval gate %q: %w", cfg.Gate, err)
	}
	return &Validator{cfg: cfg, executor: executor, gate: program}, nil
}

// Validate applies the proposal to a sandbox clone and runs the check suite:
// patch application, a static scan of the patched files, the tree's own
// functional checks, and a performance comparison against the unpatched
// baseline. The live tree is never touched.
func (v *Validator) Validate(ctx context.Context, p *models.EvolutionProposal) (*models.EvolutionTestResult, error) {
	start := time.Now()
	result := &models.EvolutionTestResult{ProposalID: p.ID}

	files, applyCheck := renderPatches(v.cfg.LiveDir, p.Patches)
	result.Checks = append(result.Checks, applyCheck)
	if !applyCheck.Passed {
		result.Elapsed = time.Since(start)
		return result, nil
	}
	for path := range files {
		result.Applied = append(result.Applied, path)
	}

	result.Checks = append(result.Checks, scanPatches(p.Patches))

	commands, err := loadChecks(v.cfg.LiveDir)
	if err != nil {
		return nil, fmt.Errorf("load functional checks: %w", err)
	}
	if len(commands) == 0 {
		result.Checks = append(result.Checks, models.CheckResult{
			Name:   "functional",
			Passed: true,
			Detail: "no functional checks defined",
		})
		result.Elapsed = time.Since(start)
		return result, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, v.cfg.MaxSandboxTime)
	defer cancel()

	patchedElapsed, patchedCheck := v.runSuite(runCtx, commands, files)
	result.Checks = append(result.Checks, patchedCheck)

	if patchedCheck.Passed {
		baselineElapsed, baselineCheck := v.runSuite(runCtx, commands, nil)
		if baselineCheck.Passed && baselineElapsed > 0 {
			result.PerfDelta = float64(patchedElapsed-baselineElapsed) / float64(baselineElapsed)
		}
		perf := models.CheckResult{Name: "performance", Passed: true}
		if result.PerfDelta > v.cfg.MaxPerfDelta {
			perf.Passed = false
			perf.Detail = fmt.Sprintf("%.0f%% slower than baseline (limit %.0f%%)",
				result.PerfDelta*100, v.cfg.MaxPerfDelta*100)
		}
		result.Checks = append(result.Checks, perf)
	}

	result.Elapsed = time.Since(start)
	return result, nil
}

// Approve evaluates the compiled gate against the proposal's risk score and
// the validation result. Any evaluation error rejects: fail closed.
func (v *Validator) Approve(risk float64, result *models.EvolutionTestResult) (bool, string) {
	env := map[string]any{
		"risk":       risk,
		"threshold":  v.cfg.RiskThreshold,
		"failed":     result.FailedChecks(),
		"perf_delta": result.PerfDelta,
	}
	out, err := expr.Run(v.gate, env)
	if err != nil {
		log.Error().Err(err).Str("gate", v.cfg.Gate).Msg("Approval gate evaluation failed")
		return false, "approval gate evaluation failed: " + err.Error()
	}
	if out.(bool) {
		return true, ""
	}
	return false, rejectionReason(risk, v.cfg.RiskThreshold, result)
}

// runSuite executes the check commands sequentially against a clone of the
// live tree with the given overlay files. All commands must complete for the
// check to pass.
func (v *Validator) runSuite(ctx context.Context, commands [][]string, files map[string]string) (time.Duration, models.CheckResult) {
	check := models.CheckResult{Name: "functional", Passed: true}
	if files == nil {
		check.Name = "baseline"
	}

	var total time.Duration
	for _, command := range commands {
		artifact := &contracts.CodeArtifact{
			Command: command,
			SeedDir: v.cfg.LiveDir,
			Files:   files,
		}
		report, err := v.executor.Run(ctx, artifact)
		if err != nil {
			check.Passed = false
			check.Detail = fmt.Sprintf("%s: %v", strings.Join(command, " "), err)
			return total, check
		}
		total += report.Elapsed
		if report.Status != models.ExecCompleted {
			check.Passed = false
			check.Detail = fmt.Sprintf("%s: %s (exit %d): %s",
				strings.Join(command, " "), report.Status, report.ExitCode, firstLine(report.Stderr))
			return total, check
		}
	}
	return total, check
}

// renderPatches resolves patches against the live tree without touching it:
// it verifies paths stay inside the tree, deletes target existing files, and
// returns the overlay file map handed to the sandbox.
func renderPatches(liveDir string, patches []models.FilePatch) (map[string]string, models.CheckResult) {
	check := models.CheckResult{Name: "patch_apply", Passed: true}
	files := make(map[string]string, len(patches))
	for _, patch := range patches {
		clean := filepath.ToSlash(filepath.Clean(patch.Path))
		if clean == "." || strings.HasPrefix(clean, "../") || filepath.IsAbs(patch.Path) {
			check.Passed = false
			check.Detail = fmt.Sprintf("patch path %q escapes the live tree", patch.Path)
			return nil, check
		}
		target := filepath.Join(liveDir, filepath.FromSlash(clean))
		if patch.Delete {
			if _, err := os.Stat(target); err != nil {
				check.Passed = false
				check.Detail = fmt.Sprintf("patch deletes %q which does not exist", clean)
				return nil, check
			}
			// The sandbox overlay cannot express deletion; an empty file
			// stands in for it during validation. Apply does the real delete.
			files[clean] = ""
			continue
		}
		files[clean] = patch.Content
	}
	if len(files) == 0 {
		check.Passed = false
		check.Detail = "proposal contains no patches"
	}
	return files, check
}

// scanPatches hard-fails validation on disallowed constructs regardless of
// risk score. A self-generated change has no business spawning shells,
// opening sockets, or handling credential material.
func scanPatches(patches []models.FilePatch) models.CheckResult {
	check := models.CheckResult{Name: "static_scan", Passed: true}
	for _, patch := range patches {
		if patch.Delete {
			continue
		}
		for _, re := range securityPatterns {
			if loc := re.FindString(patch.Content); loc != "" {
				check.Passed = false
				check.Detail = fmt.Sprintf("%s: disallowed construct %q", patch.Path, firstLine(loc))
				return check
			}
		}
	}
	return check
}

// loadChecks reads the tree's check manifest. Blank lines and #-comments are
// skipped; each remaining line is split on whitespace into argv.
func loadChecks(liveDir string) ([][]string, error) {
	f, err := os.Open(filepath.Join(liveDir, checksManifest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var commands [][]string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		commands = append(commands, strings.Fields(line))
	}
	return commands, scanner.Err()
}

func rejectionReason(risk, threshold float64, result *models.EvolutionTestResult) string {
	var reasons []string
	if risk > threshold {
		reasons = append(reasons, fmt.Sprintf("risk %.2f exceeds threshold %.2f", risk, threshold))
	}
	for _, c := range result.Checks {
		if !c.Passed {
			reasons = append(reasons, fmt.Sprintf("check %s failed: %s", c.Name, c.Detail))
		}
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "approval gate returned false")
	}
	return strings.Join(reasons, "; ")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
