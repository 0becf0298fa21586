package intent_test

import (
	"context"
	"testing"

	"pgregory.net/rapid"

	"github.com/praxishq/praxis/core/internal/config"
	"github.com/praxishq/praxis/core/internal/intent"
	"github.com/praxishq/praxis/core/internal/store"
	"github.com/praxishq/praxis/core/pkg/models"
)

// stubSource maps capability tags to fixed plugin names.
type stubSource map[string][]string

func (s stubSource) Lookup(capability string) []models.PluginDescriptor {
	var out []models.PluginDescriptor
	for _, name := range s[capability] {
		out = append(out, models.PluginDescriptor{
			Name:         name,
			Capabilities: []string{capability},
			State:        models.PluginLoaded,
		})
	}
	return out
}

func testConfig() config.RoutingConfig {
	return config.RoutingConfig{
		LowConfidence:  0.35,
		MinConfidence:  0.5,
		FusionDelta:    0.1,
		ContextBoost:   0.4,
		ContextWindow:  5,
		FallbackPlugin: "websearch",
	}
}

func defaultSource() stubSource {
	return stubSource{
		"time":      {"clock"},
		"howto":     {"howto"},
		"system":    {"sysinfo"},
		"websearch": {"websearch"},
	}
}

func newTestRouter(t *testing.T, cfg config.RoutingConfig, src stubSource) (*intent.Router, *intent.ContextWindow) {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	history := intent.NewContextWindow(s, cfg.ContextWindow)
	r, err := intent.NewRouter(cfg, src, history)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	return r, history
}

// ─── Classification ──────────────────────────────────────────

func TestClassify_TimeQuery(t *testing.T) {
	r, _ := newTestRouter(t, testConfig(), defaultSource())

	d := r.Classify(context.Background(), models.NewQuery("What time is it?", ""))
	if d.Intent != "time" {
		t.Fatalf("Intent = %q, want %q (reasoning: %v)", d.Intent, "time", d.Reasoning)
	}
	if d.Confidence < 0.85 {
		t.Errorf("Confidence = %v, want >= 0.85", d.Confidence)
	}
	if len(d.Candidates) != 1 || d.Candidates[0] != "clock" {
		t.Errorf("Candidates = %v, want [clock]", d.Candidates)
	}
}

func TestClassify_UnknownFallsBack(t *testing.T) {
	r, _ := newTestRouter(t, testConfig(), defaultSource())

	d := r.Classify(context.Background(), models.NewQuery("xyzzy plugh", ""))
	if d.Intent != models.IntentUnknown {
		t.Fatalf("Intent = %q, want %q", d.Intent, models.IntentUnknown)
	}
	if len(d.Candidates) != 1 || d.Candidates[0] != "websearch" {
		t.Errorf("Candidates = %v, want [websearch]", d.Candidates)
	}
}

func TestClassify_NoFallbackConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.FallbackPlugin = ""
	r, _ := newTestRouter(t, cfg, defaultSource())

	d := r.Classify(context.Background(), models.NewQuery("xyzzy plugh", ""))
	if len(d.Candidates) != 0 {
		t.Fatalf("Candidates = %v, want empty", d.Candidates)
	}
	// The only legal empty-candidate shape: unknown intent at zero confidence.
	if d.Intent != models.IntentUnknown || d.Confidence != 0 {
		t.Errorf("Intent=%q Confidence=%v, want unknown at 0", d.Intent, d.Confidence)
	}
}

func TestClassify_KnownIntentWithoutPluginUsesFallback(t *testing.T) {
	src := defaultSource()
	delete(src, "time")
	r, _ := newTestRouter(t, testConfig(), src)

	d := r.Classify(context.Background(), models.NewQuery("What time is it?", ""))
	if len(d.Candidates) != 1 || d.Candidates[0] != "websearch" {
		t.Errorf("Candidates = %v, want [websearch]", d.Candidates)
	}
}

func TestClassify_PluginHintPromoted(t *testing.T) {
	src := defaultSource()
	src["websearch"] = []string{"websearch", "newsbot"}
	r, _ := newTestRouter(t, testConfig(), src)

	q := models.NewQuery("search for go generics", "")
	q.PluginHint = "newsbot"
	d := r.Classify(context.Background(), q)
	if len(d.Candidates) == 0 || d.Candidates[0] != "newsbot" {
		t.Errorf("Candidates = %v, want newsbot first", d.Candidates)
	}
}

// ─── Conversational context ──────────────────────────────────

func TestClassify_AffirmativeAfterOffer(t *testing.T) {
	r, history := newTestRouter(t, testConfig(), defaultSource())
	ctx := context.Background()

	err := history.Remember(ctx, "sess-1", models.Exchange{
		UserText: "what is cmake",
		BotText:  "CMake is a build system generator. Would you like a build script for it?",
		Intent:   models.IntentUnknown,
	})
	if err != nil {
		t.Fatalf("Remember() error = %v", err)
	}

	// A bare "yes" must route to the offer, not to the fallback.
	d := r.Classify(ctx, models.NewQuery("yes", "sess-1"))
	if d.Intent != "howto" {
		t.Fatalf("Intent = %q, want %q (reasoning: %v)", d.Intent, "howto", d.Reasoning)
	}
	if len(d.Candidates) == 0 || d.Candidates[0] != "howto" {
		t.Errorf("Candidates = %v, want howto first", d.Candidates)
	}
	if d.Confidence <= 0.75 {
		t.Errorf("Confidence = %v, want boosted above base 0.75", d.Confidence)
	}
}

func TestClassify_AffirmativeWithoutHistoryFallsBack(t *testing.T) {
	r, _ := newTestRouter(t, testConfig(), defaultSource())

	d := r.Classify(context.Background(), models.NewQuery("yes", "fresh-session"))
	if d.Intent != models.IntentUnknown {
		t.Errorf("Intent = %q, want unknown without prior context", d.Intent)
	}
}

func TestClassify_ReferenceBoostsPriorIntent(t *testing.T) {
	r, history := newTestRouter(t, testConfig(), defaultSource())
	ctx := context.Background()

	history.Remember(ctx, "sess-2", models.Exchange{
		UserText: "what time is it",
		BotText:  "It is 3:04 PM.",
		Intent:   "time",
	})

	d := r.Classify(ctx, models.NewQuery("again", "sess-2"))
	if d.Intent != "time" {
		t.Errorf("Intent = %q, want %q (reasoning: %v)", d.Intent, "time", d.Reasoning)
	}
}

func TestContextWindow_TrimsToWindow(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	history := intent.NewContextWindow(s, 2)
	ctx := context.Background()

	for _, text := range []string{"a", "b", "c"} {
		history.Remember(ctx, "sess", models.Exchange{UserText: text})
	}

	got := history.Recall(ctx, "sess")
	if len(got) != 2 {
		t.Fatalf("Recall() len = %d, want 2", len(got))
	}
	if got[0].UserText != "b" || got[1].UserText != "c" {
		t.Errorf("Recall() = %v, want oldest entry evicted", got)
	}
}

func TestClassifyFragment(t *testing.T) {
	cases := []struct {
		text string
		want intent.FragmentKind
	}{
		{"yes", intent.FragmentAffirmative},
		{"Yes!", intent.FragmentAffirmative},
		{"sounds good", intent.FragmentAffirmative},
		{"no thanks", intent.FragmentNegative},
		{"nope.", intent.FragmentNegative},
		{"that one", intent.FragmentReference},
		{"again", intent.FragmentReference},
		{"what time is it", intent.FragmentNone},
		{"", intent.FragmentNone},
	}
	for _, tc := range cases {
		if got := intent.ClassifyFragment(tc.text); got != tc.want {
			t.Errorf("ClassifyFragment(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

// ─── Invariants ──────────────────────────────────────────────

// Whatever the input, confidence stays in [0,1] and an empty candidate list
// only appears as unknown-at-zero.
func TestClassify_Invariants(t *testing.T) {
	r, _ := newTestRouter(t, testConfig(), defaultSource())

	rapid.Check(t, func(rt *rapid.T) {
		text := rapid.String().Draw(rt, "text")
		d := r.Classify(context.Background(), models.NewQuery(text, ""))

		if d.Confidence < 0 || d.Confidence > 1 {
			rt.Fatalf("confidence %v outside [0,1] for %q", d.Confidence, text)
		}
		if len(d.Candidates) == 0 {
			if d.Intent != models.IntentUnknown || d.Confidence != 0 {
				rt.Fatalf("empty candidates with intent=%q confidence=%v for %q",
					d.Intent, d.Confidence, text)
			}
		}
	})
}
