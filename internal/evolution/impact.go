package evolution

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/praxishq/praxis/core/internal/store"
	"github.com/praxishq/praxis/core/pkg/models"
)

// Analyzer scores a proposal's risk in [0,1] before validation runs. The
// score blends four signals: how many modules the change touches, whether
// the patch content matches security-sensitive patterns, whether files are
// deleted outright, and how often similar changes failed historically.
type Analyzer struct {
	history store.HistoryStore
}

// NewAnalyzer creates an impact analyzer backed by evolution history.
func NewAnalyzer(history store.HistoryStore) *Analyzer {
	return &Analyzer{history: history}
}

// Risk weights. Tuned so a single-module, pattern-free change with a clean
// history lands around 0.15 and a change touching credentials or process
// control exceeds any sane approval threshold on its own.
const (
	riskBase          = 0.10
	riskPerModule     = 0.08
	riskModuleCap     = 0.30
	riskPerDeletion   = 0.10
	riskDeletionCap   = 0.20
	riskSecurityHit   = 0.35
	riskHistoryWeight = 0.25
	historyWindow     = 50
)

// securityPatterns flag patch content that reaches outside the change's own
// scope: process control, raw exec, credential material, network listeners.
var securityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bos\.(exec|system|popen|kill)\b`),
	regexp.MustCompile(`(?i)\bsubprocess\b|\bexec\.Command\b`),
	regexp.MustCompile(`(?i)\beval\s*\(`),
	regexp.MustCompile(`(?i)(api[_-]?key|secret|password|credential)\s*[:=]`),
	regexp.MustCompile(`(?i)\b(listen|bind)\s*\(`),
	regexp.MustCompile(`(?i)\brm\s+-rf\b`),
}

// Assess computes the proposal's risk score and the module list it derives
// from. History read failures degrade to a zero history signal rather than
// blocking the pipeline.
func (a *Analyzer) Assess(ctx context.Context, p *models.EvolutionProposal) (score float64, modules []string) {
	modules = touchedModules(p.Patches)

	score = riskBase
	score += minFloat(float64(len(modules))*riskPerModule, riskModuleCap)

	deletions := 0
	securityHit := false
	for _, patch := range p.Patches {
		if patch.Delete {
			deletions++
			continue
		}
		for _, re := range securityPatterns {
			if re.MatchString(patch.Content) {
				securityHit = true
				break
			}
		}
	}
	score += minFloat(float64(deletions)*riskPerDeletion, riskDeletionCap)
	if securityHit {
		score += riskSecurityHit
	}

	failRate := a.historicalFailureRate(ctx, modules)
	score += failRate * riskHistoryWeight

	if score > 1 {
		score = 1
	}

	log.Debug().
		Str("proposal_id", p.ID).
		Float64("risk", score).
		Strs("modules", modules).
		Bool("security_hit", securityHit).
		Float64("history_fail_rate", failRate).
		Msg("Impact assessed")
	return score, modules
}

// historicalFailureRate is the fraction of recent evolutions touching any of
// the same modules that ended rejected or rolled back.
func (a *Analyzer) historicalFailureRate(ctx context.Context, modules []string) float64 {
	recs, err := a.history.ListHistory(ctx, historyWindow)
	if err != nil {
		log.Warn().Err(err).Msg("Impact analyzer: history unavailable")
		return 0
	}
	touched := make(map[string]bool, len(modules))
	for _, m := range modules {
		touched[m] = true
	}

	total, failed := 0, 0
	for _, rec := range recs {
		overlap := false
		for _, m := range rec.Modules {
			if touched[m] {
				overlap = true
				break
			}
		}
		if !overlap {
			continue
		}
		total++
		if rec.Outcome == models.ProposalRejected || rec.Outcome == models.ProposalRolledBack {
			failed++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total)
}

// touchedModules maps patch paths to their top-level module directory,
// deduplicated and ordered by first appearance.
func touchedModules(patches []models.FilePatch) []string {
	seen := make(map[string]bool)
	var modules []string
	for _, patch := range patches {
		parts := strings.Split(filepath.ToSlash(filepath.Clean(patch.Path)), "/")
		module := parts[0]
		if len(parts) > 1 {
			module = strings.Join(parts[:len(parts)-1], "/")
		}
		if !seen[module] {
			seen[module] = true
			modules = append(modules, module)
		}
	}
	return modules
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
