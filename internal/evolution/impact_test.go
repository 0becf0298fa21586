package evolution_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/praxishq/praxis/core/internal/evolution"
	"github.com/praxishq/praxis/core/internal/store"
	"github.com/praxishq/praxis/core/pkg/models"
)

func proposal(patches ...models.FilePatch) *models.EvolutionProposal {
	return models.NewProposal("test change", patches)
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAssess_SingleCleanPatch(t *testing.T) {
	s := store.NewMemoryStore()
	a := evolution.NewAnalyzer(s)

	score, modules := a.Assess(context.Background(), proposal(
		models.FilePatch{Path: "handlers/time.py", Content: "def handle(): return now()"},
	))
	// base 0.10 + one module 0.08, nothing else.
	if !almostEqual(score, 0.18) {
		t.Errorf("score = %v, want 0.18", score)
	}
	if len(modules) != 1 || modules[0] != "handlers" {
		t.Errorf("modules = %v, want [handlers]", modules)
	}
}

func TestAssess_SecurityPatternRaisesRisk(t *testing.T) {
	s := store.NewMemoryStore()
	a := evolution.NewAnalyzer(s)

	clean, _ := a.Assess(context.Background(), proposal(
		models.FilePatch{Path: "util/a.py", Content: "x = 1"},
	))
	hot, _ := a.Assess(context.Background(), proposal(
		models.FilePatch{Path: "util/a.py", Content: "import subprocess\nsubprocess.run(['ls'])"},
	))
	if !almostEqual(hot-clean, 0.35) {
		t.Errorf("security hit delta = %v, want 0.35", hot-clean)
	}
}

func TestAssess_DeletionsCapped(t *testing.T) {
	s := store.NewMemoryStore()
	a := evolution.NewAnalyzer(s)

	score, _ := a.Assess(context.Background(), proposal(
		models.FilePatch{Path: "m/a.py", Delete: true},
		models.FilePatch{Path: "m/b.py", Delete: true},
		models.FilePatch{Path: "m/c.py", Delete: true},
	))
	// base 0.10 + one module 0.08 + deletions capped at 0.20.
	if !almostEqual(score, 0.38) {
		t.Errorf("score = %v, want 0.38 with the deletion cap applied", score)
	}
}

func TestAssess_HistoricalFailuresRaiseRisk(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	// Two prior changes to the same module: one rejected, one applied.
	s.AppendHistory(ctx, &models.EvolutionRecord{
		ProposalID: "old-1", Modules: []string{"handlers"},
		Outcome: models.ProposalRejected, RecordedAt: time.Now().UTC(),
	})
	s.AppendHistory(ctx, &models.EvolutionRecord{
		ProposalID: "old-2", Modules: []string{"handlers"},
		Outcome: models.ProposalApplied, RecordedAt: time.Now().UTC(),
	})
	a := evolution.NewAnalyzer(s)

	score, _ := a.Assess(ctx, proposal(
		models.FilePatch{Path: "handlers/time.py", Content: "x = 1"},
	))
	// 0.18 + 50% failure rate * 0.25 weight.
	if !almostEqual(score, 0.18+0.125) {
		t.Errorf("score = %v, want 0.305", score)
	}
}

func TestAssess_UnrelatedHistoryIgnored(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	s.AppendHistory(ctx, &models.EvolutionRecord{
		ProposalID: "old-1", Modules: []string{"other"},
		Outcome: models.ProposalRolledBack, RecordedAt: time.Now().UTC(),
	})
	a := evolution.NewAnalyzer(s)

	score, _ := a.Assess(ctx, proposal(
		models.FilePatch{Path: "handlers/time.py", Content: "x = 1"},
	))
	if !almostEqual(score, 0.18) {
		t.Errorf("score = %v, want 0.18 ignoring unrelated history", score)
	}
}

func TestAssess_ClampedToOne(t *testing.T) {
	s := store.NewMemoryStore()
	a := evolution.NewAnalyzer(s)

	var patches []models.FilePatch
	for _, m := range []string{"a", "b", "c", "d", "e"} {
		patches = append(patches, models.FilePatch{
			Path:    m + "/x.py",
			Content: "os.system('rm -rf /')",
		})
	}
	patches = append(patches,
		models.FilePatch{Path: "a/dead1.py", Delete: true},
		models.FilePatch{Path: "a/dead2.py", Delete: true},
		models.FilePatch{Path: "a/dead3.py", Delete: true},
	)
	score, _ := a.Assess(context.Background(), proposal(patches...))
	if score > 1 {
		t.Errorf("score = %v, want clamped to 1", score)
	}
	if score != 0.95 {
		// base 0.10 + module cap 0.30 + deletion cap 0.20 + security 0.35.
		t.Errorf("score = %v, want 0.95", score)
	}
}
