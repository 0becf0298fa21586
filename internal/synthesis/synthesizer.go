// Package synthesis invokes the routed candidate plugins and merges their
// answers into one response with provenance.
//
// Two invocation modes exist: priority order (default), which stops at the
// first candidate clearing the per-intent confidence bar, and bounded
// parallel fan-out. In both modes, when the top two results land within the
// fusion delta their texts are merged with source attribution — never a
// silent overwrite — and their confidences averaged.
//
// The synthesizer never raises plugin failures to the caller: when every
// candidate errors or times out it returns the no-answer sentinel with
// confidence 0 and a diagnostic reason.
package synthesis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/praxishq/praxis/core/internal/audit"
	"github.com/praxishq/praxis/core/internal/bus"
	"github.com/praxishq/praxis/core/internal/config"
	"github.com/praxishq/praxis/core/internal/intent"
	"github.com/praxishq/praxis/core/pkg/models"
)

// Invoker runs one plugin against a query. The registry implements this.
type Invoker interface {
	Invoke(ctx context.Context, name string, q *models.Query) *models.PluginResult
}

// RoutedEvent is the payload published on query.routed for downstream
// learning and auditing.
type RoutedEvent struct {
	Decision *models.RoutingDecision    `json:"decision"`
	Response *models.SynthesizedResponse `json:"response"`
}

// Synthesizer merges candidate plugin results into a final response.
type Synthesizer struct {
	cfg     config.RoutingConfig
	invoker Invoker
	bus     *bus.Bus
	audit   *audit.Logger
	history *intent.ContextWindow
}

// New creates a synthesizer. bus and auditLogger may be nil in tests.
func New(cfg config.RoutingConfig, invoker Invoker, b *bus.Bus, auditLogger *audit.Logger, history *intent.ContextWindow) *Synthesizer {
	return &Synthesizer{
		cfg:     cfg,
		invoker: invoker,
		bus:     b,
		audit:   auditLogger,
		history: history,
	}
}

// Synthesize invokes the decision's candidates and produces the final
// response. Side effects: publishes query.routed, appends the routing
// decision to the audit log, and records the exchange in session context.
func (s *Synthesizer) Synthesize(ctx context.Context, d *models.RoutingDecision, q *models.Query) *models.SynthesizedResponse {
	var resp *models.SynthesizedResponse
	if len(d.Candidates) == 0 {
		resp = models.NoAnswerResponse(q.ID, d.Intent, "no candidate plugins for intent")
	} else if s.cfg.ParallelFanout {
		resp = s.fanOut(ctx, d, q)
	} else {
		resp = s.sequential(ctx, d, q)
	}

	if s.audit != nil {
		s.audit.RoutingDecision(ctx, d)
	}
	if s.bus != nil {
		s.bus.Publish(bus.TopicQueryRouted, q.ID, &RoutedEvent{Decision: d, Response: resp})
	}
	if s.history != nil && q.SessionID != "" {
		if err := s.history.Remember(ctx, q.SessionID, models.Exchange{
			UserText: q.Text,
			BotText:  resp.Response,
			Intent:   d.Intent,
		}); err != nil {
			log.Warn().Err(err).Str("session", q.SessionID).Msg("Failed to record exchange")
		}
	}
	return resp
}

// sequential tries candidates in priority order. After the first result
// clears the bar, the next candidate is still consulted once so a
// near-equal answer can be fused instead of dropped.
func (s *Synthesizer) sequential(ctx context.Context, d *models.RoutingDecision, q *models.Query) *models.SynthesizedResponse {
	var results []*models.PluginResult
	var passing []*models.PluginResult

	for i, name := range d.Candidates {
		r := s.invoker.Invoke(ctx, name, q)
		results = append(results, r)
		if !r.OK() {
			log.Warn().
				Str("plugin", name).
				Str("error", string(r.Err)).
				Msg("Candidate failed, trying next")
			continue
		}
		// Below the bar but usable if nothing better shows up.
		passing = append(passing, r)
		if r.Confidence < s.cfg.MinConfidence {
			continue
		}
		// One look-ahead for a fusion partner, then stop.
		if i+1 < len(d.Candidates) {
			next := s.invoker.Invoke(ctx, d.Candidates[i+1], q)
			results = append(results, next)
			if next.OK() {
				passing = append(passing, next)
			}
		}
		break
	}

	return s.merge(d, q, results, passing)
}

// fanOut invokes all candidates concurrently, bounded by MaxParallel.
func (s *Synthesizer) fanOut(ctx context.Context, d *models.RoutingDecision, q *models.Query) *models.SynthesizedResponse {
	maxParallel := int64(s.cfg.MaxParallel)
	if maxParallel < 1 {
		maxParallel = 1
	}
	sem := semaphore.NewWeighted(maxParallel)
	results := make([]*models.PluginResult, len(d.Candidates))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range d.Candidates {
		i, name := i, name
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				results[i] = &models.PluginResult{
					Plugin:    name,
					Err:       models.PluginErrTimeout,
					ErrDetail: "fan-out canceled before invocation",
				}
				return nil
			}
			defer sem.Release(1)
			results[i] = s.invoker.Invoke(gctx, name, q)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; failures live in the results

	var passing []*models.PluginResult
	for _, r := range results {
		if r.OK() {
			passing = append(passing, r)
		}
	}
	return s.merge(d, q, results, passing)
}

// merge picks the winning result(s) and builds the final response.
func (s *Synthesizer) merge(d *models.RoutingDecision, q *models.Query, all, passing []*models.PluginResult) *models.SynthesizedResponse {
	if len(passing) == 0 {
		return models.NoAnswerResponse(q.ID, d.Intent, failureReason(all))
	}

	// Highest confidence first; candidate priority breaks ties.
	ordered := append([]*models.PluginResult(nil), passing...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Confidence > ordered[j].Confidence
	})

	top := ordered[0]
	if len(ordered) > 1 && top.Confidence-ordered[1].Confidence <= s.cfg.FusionDelta {
		return fuse(q.ID, d.Intent, top, ordered[1])
	}

	return &models.SynthesizedResponse{
		QueryID:    q.ID,
		Intent:     d.Intent,
		Response:   top.Response,
		Confidence: top.Confidence,
		Sources:    append([]string(nil), top.Sources...),
		Plugins:    []string{top.Plugin},
	}
}

// fuse concatenates two near-equal answers with attribution and averages
// their confidences.
func fuse(queryID, intentLabel string, a, b *models.PluginResult) *models.SynthesizedResponse {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s\n\n[%s] %s", a.Plugin, a.Response, b.Plugin, b.Response)

	sources := append([]string(nil), a.Sources...)
	sources = append(sources, b.Sources...)

	return &models.SynthesizedResponse{
		QueryID:    queryID,
		Intent:     intentLabel,
		Response:   sb.String(),
		Confidence: (a.Confidence + b.Confidence) / 2,
		Sources:    sources,
		Plugins:    []string{a.Plugin, b.Plugin},
		Fused:      true,
	}
}

// failureReason summarizes why every candidate failed.
func failureReason(all []*models.PluginResult) string {
	if len(all) == 0 {
		return "no candidates invoked"
	}
	parts := make([]string, 0, len(all))
	for _, r := range all {
		if r == nil {
			continue
		}
		if r.Err != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", r.Plugin, r.Err))
		} else {
			parts = append(parts, fmt.Sprintf("%s: empty result", r.Plugin))
		}
	}
	return fmt.Sprintf("all %d candidates failed (%s)", len(all), strings.Join(parts, "; "))
}
