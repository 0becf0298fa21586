package intent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/praxishq/praxis/core/internal/config"
	"github.com/praxishq/praxis/core/pkg/models"
)

// CandidateSource resolves a capability tag to the ordered plugins serving
// it. The plugin registry implements this.
type CandidateSource interface {
	Lookup(capability string) []models.PluginDescriptor
}

// Router classifies queries and produces routing decisions.
type Router struct {
	cfg     config.RoutingConfig
	rules   []Rule
	source  CandidateSource
	history *ContextWindow
}

// NewRouter builds the router. Rules come from cfg.RulesPath when set,
// otherwise the built-in table.
func NewRouter(cfg config.RoutingConfig, source CandidateSource, history *ContextWindow) (*Router, error) {
	rules := DefaultRules()
	if cfg.RulesPath != "" {
		loaded, err := LoadRules(cfg.RulesPath)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}
	return &Router{cfg: cfg, rules: rules, source: source, history: history}, nil
}

// History exposes the context window so the synthesizer can record
// completed exchanges.
func (r *Router) History() *ContextWindow { return r.history }

// Classify evaluates the rule table once against the query, applies the
// conversational-context boost for context-dependent fragments, and maps
// the winning intent to an ordered candidate list.
//
// Below the low-confidence threshold the intent is forced to "unknown" and
// the candidate list defaults to the configured fallback plugin — the last
// line of defense against returning no answer, never silently skipped.
func (r *Router) Classify(ctx context.Context, q *models.Query) *models.RoutingDecision {
	d := &models.RoutingDecision{
		QueryID:   q.ID,
		DecidedAt: time.Now().UTC(),
	}

	scores := make(map[string]float64, len(r.rules))
	capabilities := make(map[string]string, len(r.rules))
	for i := range r.rules {
		rule := &r.rules[i]
		capabilities[rule.Intent] = rule.Capability
		if s := rule.score(q.Text); s > 0 {
			scores[rule.Intent] = s
			d.Reasoning = append(d.Reasoning,
				fmt.Sprintf("rule %s matched query (%.2f)", rule.Intent, s))
		}
	}

	r.applyContextBoost(ctx, q, scores, capabilities, d)

	best, bestConf := "", 0.0
	for intent, s := range scores {
		if s > bestConf || (s == bestConf && intent < best) {
			best, bestConf = intent, s
		}
	}

	if best == "" || bestConf < r.cfg.LowConfidence {
		d.Intent = models.IntentUnknown
		d.Confidence = bestConf
		d.Reasoning = append(d.Reasoning,
			fmt.Sprintf("top confidence %.2f below threshold %.2f, falling back", bestConf, r.cfg.LowConfidence))
		d.Candidates = r.fallbackCandidates(q)
		if len(d.Candidates) == 0 {
			// No fallback configured: the only legal empty-candidate shape.
			d.Confidence = 0
			d.Reasoning = append(d.Reasoning, "no fallback plugin configured")
		}
		return d
	}

	d.Intent = best
	d.Confidence = bestConf
	d.Candidates = r.candidatesFor(capabilities[best], q)
	if len(d.Candidates) == 0 {
		d.Reasoning = append(d.Reasoning,
			fmt.Sprintf("no loaded plugin serves %q, using fallback", capabilities[best]))
		d.Candidates = r.fallbackCandidates(q)
		if len(d.Candidates) == 0 {
			d.Intent = models.IntentUnknown
			d.Confidence = 0
		}
	}

	log.Debug().
		Str("query", q.ID).
		Str("intent", d.Intent).
		Float64("confidence", d.Confidence).
		Strs("candidates", d.Candidates).
		Msg("Query classified")
	return d
}

// applyContextBoost re-scores context-dependent fragments ("yes", "that
// one") against the previous bot turn. Boost magnitude is configuration,
// not a constant: the upstream fixed bumps were never calibrated.
func (r *Router) applyContextBoost(ctx context.Context, q *models.Query, scores map[string]float64, capabilities map[string]string, d *models.RoutingDecision) {
	kind := ClassifyFragment(q.Text)
	if kind == FragmentNone || r.history == nil {
		return
	}
	exchanges := r.history.Recall(ctx, q.SessionID)
	if len(exchanges) == 0 {
		return
	}
	last := exchanges[len(exchanges)-1]

	// Plugins resolving the fragment need the prior turn too.
	if kind != FragmentNegative {
		if q.Metadata == nil {
			q.Metadata = make(map[string]string, 1)
		}
		q.Metadata["prior_turn"] = last.BotText
	}

	switch kind {
	case FragmentAffirmative:
		// "yes" answers whatever the bot just offered: classify the bot's
		// turn and boost the intents it matches.
		for i := range r.rules {
			rule := &r.rules[i]
			s := rule.score(last.BotText)
			if s <= 0 {
				continue
			}
			boosted := clamp01(s*0.6 + r.cfg.ContextBoost)
			if boosted > scores[rule.Intent] {
				scores[rule.Intent] = boosted
				d.Reasoning = append(d.Reasoning,
					fmt.Sprintf("context: affirmative reply to prior turn boosted %s to %.2f", rule.Intent, boosted))
			}
		}
	case FragmentReference:
		// "again", "that one": favor the intent of the previous exchange.
		if last.Intent == "" || last.Intent == models.IntentUnknown {
			return
		}
		if _, known := capabilities[last.Intent]; !known {
			return
		}
		boosted := clamp01(scores[last.Intent] + r.cfg.ContextBoost/2 + 0.3)
		if boosted > scores[last.Intent] {
			scores[last.Intent] = boosted
			d.Reasoning = append(d.Reasoning,
				fmt.Sprintf("context: reference fragment boosted prior intent %s to %.2f", last.Intent, boosted))
		}
	case FragmentNegative:
		// A bare "no" declines the prior offer; nothing to boost.
		d.Reasoning = append(d.Reasoning, "context: negative fragment, no boost applied")
	}
}

// candidatesFor maps a capability to plugin names, honoring a valid plugin
// hint by moving it to the front.
func (r *Router) candidatesFor(capability string, q *models.Query) []string {
	descs := r.source.Lookup(capability)
	names := make([]string, 0, len(descs))
	for _, desc := range descs {
		names = append(names, desc.Name)
	}
	if q.PluginHint != "" {
		names = promote(names, q.PluginHint)
	}
	return names
}

func (r *Router) fallbackCandidates(q *models.Query) []string {
	var names []string
	if q.PluginHint != "" {
		names = append(names, q.PluginHint)
	}
	if r.cfg.FallbackPlugin != "" && r.cfg.FallbackPlugin != q.PluginHint {
		names = append(names, r.cfg.FallbackPlugin)
	}
	return names
}

// promote moves name to the front if present, otherwise prepends it.
func promote(names []string, name string) []string {
	out := []string{name}
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
