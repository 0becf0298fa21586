// Package health aggregates component signals into one system health view.
// Components never push; the monitor polls registered checks on an interval
// and publishes a bus event when the overall level changes.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/praxishq/praxis/core/internal/bus"
	"github.com/praxishq/praxis/core/pkg/models"
)

// CheckFunc probes one component. It must be fast and never block on the
// component it is probing.
type CheckFunc func(ctx context.Context) models.ComponentHealth

// Monitor polls registered checks and keeps the latest aggregated status.
type Monitor struct {
	interval time.Duration
	events   *bus.Bus

	mu     sync.RWMutex
	names  []string
	checks map[string]CheckFunc
	last   models.HealthStatus
}

// NewMonitor creates a monitor polling at the given interval.
func NewMonitor(interval time.Duration, events *bus.Bus) *Monitor {
	if interval < time.Second {
		interval = 15 * time.Second
	}
	return &Monitor{
		interval: interval,
		events:   events,
		checks:   make(map[string]CheckFunc),
		last: models.HealthStatus{
			Overall:    models.HealthHealthy,
			Components: map[string]models.ComponentHealth{},
			CheckedAt:  time.Now().UTC(),
		},
	}
}

// Register adds a named component check. Registration order is the report
// order.
func (m *Monitor) Register(name string, check CheckFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.checks[name]; !dup {
		m.names = append(m.names, name)
	}
	m.checks[name] = check
}

// Start runs the poll loop. It blocks until ctx is canceled.
func (m *Monitor) Start(ctx context.Context) {
	log.Info().Dur("interval", m.interval).Msg("Health monitor started")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Health monitor stopped")
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

// Status returns the most recent aggregated report.
func (m *Monitor) Status() models.HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Poll runs all checks once and updates the status. Exposed so the HTTP
// handler can force a fresh report before the first interval fires.
func (m *Monitor) Poll(ctx context.Context) models.HealthStatus {
	return m.poll(ctx)
}

func (m *Monitor) poll(ctx context.Context) models.HealthStatus {
	m.mu.RLock()
	names := make([]string, len(m.names))
	copy(names, m.names)
	checks := make(map[string]CheckFunc, len(m.checks))
	for k, v := range m.checks {
		checks[k] = v
	}
	prev := m.last.Overall
	m.mu.RUnlock()

	status := models.HealthStatus{
		Components: make(map[string]models.ComponentHealth, len(names)),
		CheckedAt:  time.Now().UTC(),
	}
	overall := models.HealthHealthy
	for _, name := range names {
		ch := checks[name](ctx)
		status.Components[name] = ch
		overall = worse(overall, ch.Level)
	}
	status.Overall = overall

	m.mu.Lock()
	m.last = status
	m.mu.Unlock()

	if overall != prev {
		log.Warn().
			Str("from", string(prev)).
			Str("to", string(overall)).
			Msg("System health changed")
		m.events.Publish(bus.TopicHealthChanged, string(overall), status)
	}
	return status
}

func worse(a, b models.HealthLevel) models.HealthLevel {
	rank := map[models.HealthLevel]int{
		models.HealthHealthy:   0,
		models.HealthDegraded:  1,
		models.HealthUnhealthy: 2,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// ── Built-in checks ─────────────────────────────────────────

// PluginSource is the registry surface the plugin check reads.
type PluginSource interface {
	Descriptors() []models.PluginDescriptor
	FailedCount() int
}

// PluginsCheck degrades when any plugin failed to load and goes unhealthy
// when none loaded at all.
func PluginsCheck(src PluginSource) CheckFunc {
	return func(context.Context) models.ComponentHealth {
		total := len(src.Descriptors())
		failed := src.FailedCount()
		switch {
		case total == 0 || failed == total:
			return models.ComponentHealth{Level: models.HealthUnhealthy, Detail: "no plugins loaded"}
		case failed > 0:
			return models.ComponentHealth{
				Level:  models.HealthDegraded,
				Detail: fmt.Sprintf("%d of %d plugins failed", failed, total),
			}
		}
		return models.ComponentHealth{Level: models.HealthHealthy}
	}
}

// PipelineSource is the evolution pipeline surface the pipeline check reads.
type PipelineSource interface {
	Halted() bool
	InFlight() (string, time.Duration, bool)
	QueueDepth() int
}

// PipelineCheck goes unhealthy on a halted pipeline and degrades when the
// in-flight proposal has exceeded its sandbox budget.
func PipelineCheck(src PipelineSource, maxSandboxTime time.Duration) CheckFunc {
	return func(context.Context) models.ComponentHealth {
		if src.Halted() {
			return models.ComponentHealth{
				Level:  models.HealthUnhealthy,
				Detail: "pipeline halted after failed rollback",
			}
		}
		if id, elapsed, ok := src.InFlight(); ok && elapsed > maxSandboxTime {
			return models.ComponentHealth{
				Level:  models.HealthDegraded,
				Detail: fmt.Sprintf("proposal %s in flight for %s", id, elapsed.Round(time.Second)),
			}
		}
		return models.ComponentHealth{Level: models.HealthHealthy}
	}
}

// StoreCheck pings the backing store.
func StoreCheck(ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) models.ComponentHealth {
		if err := ping(ctx); err != nil {
			return models.ComponentHealth{Level: models.HealthUnhealthy, Detail: err.Error()}
		}
		return models.ComponentHealth{Level: models.HealthHealthy}
	}
}

// CounterCheck degrades when a monotonic counter grew since the previous
// poll. Used for bus drops and janitor reaps: a growing count means
// subscribers are lagging or runs are leaking scratch dirs.
func CounterCheck(what string, counter func() int64) CheckFunc {
	var mu sync.Mutex
	var prev int64
	return func(context.Context) models.ComponentHealth {
		mu.Lock()
		cur := counter()
		grew := cur - prev
		prev = cur
		mu.Unlock()
		if grew > 0 {
			return models.ComponentHealth{
				Level:  models.HealthDegraded,
				Detail: fmt.Sprintf("%d %s since last check", grew, what),
			}
		}
		return models.ComponentHealth{Level: models.HealthHealthy}
	}
}
