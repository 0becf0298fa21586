// Package registry discovers and holds capability plugins.
//
// Discovery is explicit: plugins are registered programmatically or built
// from the YAML manifest via per-kind builders. There is no reflection-based
// scanning. A plugin whose Init fails is marked failed and excluded from
// routing, but stays visible for diagnostics.
//
// All mutations go through the registry's single write lock; lookups read a
// snapshot. Invoke enforces a hard per-call timeout and recovers plugin
// panics so a misbehaving plugin can never take the process down or block a
// query forever.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/praxishq/praxis/core/internal/bus"
	"github.com/praxishq/praxis/core/internal/config"
	"github.com/praxishq/praxis/core/pkg/contracts"
	"github.com/praxishq/praxis/core/pkg/models"
)

// Registration errors.
var (
	ErrDuplicateName   = errors.New("plugin name already registered")
	ErrInvalidContract = errors.New("plugin does not satisfy the capability contract")
	ErrNotRegistered   = errors.New("plugin not registered")
)

// Builder constructs a plugin from a manifest entry. Builders are keyed by
// the entry's kind field.
type Builder func(entry config.ManifestEntry) (contracts.Plugin, error)

type entry struct {
	plugin contracts.Plugin
	desc   models.PluginDescriptor
}

// Registry holds all known plugins and their lifecycle state.
type Registry struct {
	mu       sync.RWMutex
	plugins  map[string]*entry
	builders map[string]Builder

	timeout time.Duration
	bus     *bus.Bus
}

// New creates an empty registry. Events (plugin.loaded, plugin.failed) are
// published on b; b may be nil in tests.
func New(timeout time.Duration, b *bus.Bus) *Registry {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Registry{
		plugins:  make(map[string]*entry),
		builders: make(map[string]Builder),
		timeout:  timeout,
		bus:      b,
	}
}

// Timeout returns the per-invocation deadline the registry enforces.
func (r *Registry) Timeout() time.Duration { return r.timeout }

// RegisterBuilder adds a plugin factory for a manifest kind.
func (r *Registry) RegisterBuilder(kind string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[kind] = b
}

// Register validates and registers a plugin, then runs its Init. An Init
// failure does not return an error: the plugin is marked failed, excluded
// from routing, and kept for diagnostics.
func (r *Registry) Register(p contracts.Plugin, priority int) error {
	if p == nil || p.Name() == "" || len(p.Capabilities()) == 0 {
		return ErrInvalidContract
	}

	name := p.Name()
	r.mu.Lock()
	if _, exists := r.plugins[name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	e := &entry{
		plugin: p,
		desc: models.PluginDescriptor{
			Name:         name,
			Capabilities: append([]string(nil), p.Capabilities()...),
			Priority:     priority,
			State:        models.PluginUnloaded,
			RegisteredAt: time.Now().UTC(),
		},
	}
	r.plugins[name] = e
	r.mu.Unlock()

	if err := r.initPlugin(e); err != nil {
		log.Warn().Err(err).Str("plugin", name).Msg("Plugin init failed, excluded from routing")
		r.publish(bus.TopicPluginFailed, name, err.Error())
		return nil
	}

	log.Info().
		Str("plugin", name).
		Strs("capabilities", p.Capabilities()).
		Int("priority", priority).
		Msg("Plugin registered")
	r.publish(bus.TopicPluginLoaded, name, "")
	return nil
}

// initPlugin runs Init with panic recovery and records the resulting state.
func (r *Registry) initPlugin(e *entry) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("init panic: %v", rec)
		}
		r.mu.Lock()
		if err != nil {
			e.desc.State = models.PluginFailed
			e.desc.Error = err.Error()
		} else {
			e.desc.State = models.PluginLoaded
			e.desc.Error = ""
		}
		r.mu.Unlock()
	}()
	return e.plugin.Init(r.snapshotView())
}

// Unregister removes a plugin entirely.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plugins[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	delete(r.plugins, name)
	return nil
}

// Lookup returns loaded plugins declaring the capability tag, ordered by
// priority (desc) with ties broken by declared specificity then name.
func (r *Registry) Lookup(capability string) []models.PluginDescriptor {
	r.mu.RLock()
	var out []models.PluginDescriptor
	for _, e := range r.plugins {
		if e.desc.State == models.PluginLoaded && e.desc.HasCapability(capability) {
			out = append(out, e.desc)
		}
	}
	r.mu.RUnlock()
	sortDescriptors(out)
	return out
}

// Descriptors returns every known plugin, failed ones included.
func (r *Registry) Descriptors() []models.PluginDescriptor {
	r.mu.RLock()
	out := make([]models.PluginDescriptor, 0, len(r.plugins))
	for _, e := range r.plugins {
		out = append(out, e.desc)
	}
	r.mu.RUnlock()
	sortDescriptors(out)
	return out
}

// FailedCount reports how many plugins are in the failed state.
func (r *Registry) FailedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.plugins {
		if e.desc.State == models.PluginFailed {
			n++
		}
	}
	return n
}

// Invoke runs one plugin against a query under the registry timeout. It
// always returns a PluginResult: timeouts, panics and handler errors are
// folded into the result's error fields, never raised.
func (r *Registry) Invoke(ctx context.Context, name string, q *models.Query) *models.PluginResult {
	start := time.Now()
	result := &models.PluginResult{Plugin: name}

	r.mu.RLock()
	e, ok := r.plugins[name]
	r.mu.RUnlock()
	if !ok {
		result.Err = models.PluginErrNotFound
		result.ErrDetail = name
		return result
	}
	if e.desc.State != models.PluginLoaded {
		result.Err = models.PluginErrUnloaded
		result.ErrDetail = string(e.desc.State)
		return result
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		resp *contracts.Response
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", rec)}
			}
		}()
		resp, err := e.plugin.Handle(callCtx, &contracts.Request{
			Text:      q.Text,
			SessionID: q.SessionID,
			Metadata:  q.Metadata,
		})
		done <- outcome{resp: resp, err: err}
	}()

	select {
	case <-callCtx.Done():
		result.Err = models.PluginErrTimeout
		if errors.Is(callCtx.Err(), context.Canceled) {
			// The caller gave up before the registry deadline; don't blame
			// the plugin for being slow.
			result.ErrDetail = "canceled by caller"
		} else {
			result.ErrDetail = fmt.Sprintf("exceeded %s", r.timeout)
		}
	case o := <-done:
		if o.err != nil {
			result.Err = models.PluginErrException
			result.ErrDetail = o.err.Error()
		} else if o.resp != nil {
			result.Response = o.resp.Text
			result.Confidence = clamp01(o.resp.Confidence)
			result.Sources = o.resp.Sources
		}
	}
	result.ElapsedMs = time.Since(start).Milliseconds()

	if result.Err != "" {
		log.Warn().
			Str("plugin", name).
			Str("error", string(result.Err)).
			Str("detail", result.ErrDetail).
			Msg("Plugin invocation failed")
	}
	return result
}

// HealthCheck runs the optional health check of every loaded plugin.
// The returned map holds "" for healthy and the error string otherwise.
func (r *Registry) HealthCheck(ctx context.Context) map[string]string {
	r.mu.RLock()
	checkers := make(map[string]contracts.HealthChecker)
	for name, e := range r.plugins {
		if e.desc.State != models.PluginLoaded {
			continue
		}
		if hc, ok := e.plugin.(contracts.HealthChecker); ok {
			checkers[name] = hc
		}
	}
	r.mu.RUnlock()

	out := make(map[string]string, len(checkers))
	for name, hc := range checkers {
		if err := hc.HealthCheck(ctx); err != nil {
			out[name] = err.Error()
		} else {
			out[name] = ""
		}
	}
	return out
}

// LoadManifest instantiates every enabled manifest entry through its kind's
// builder. Entries with unknown kinds or failing builders are skipped with
// a warning; one bad entry never blocks the rest.
func (r *Registry) LoadManifest(m *config.Manifest) {
	for _, me := range m.Plugins {
		if me.Disabled {
			continue
		}
		r.mu.RLock()
		_, already := r.plugins[me.Name]
		b, haveBuilder := r.builders[me.Kind]
		r.mu.RUnlock()
		if already {
			continue
		}
		if !haveBuilder {
			log.Warn().Str("plugin", me.Name).Str("kind", me.Kind).Msg("No builder for manifest plugin kind")
			continue
		}
		p, err := b(me)
		if err != nil {
			log.Warn().Err(err).Str("plugin", me.Name).Msg("Manifest plugin build failed")
			continue
		}
		if err := r.Register(p, me.Priority); err != nil {
			log.Warn().Err(err).Str("plugin", me.Name).Msg("Manifest plugin registration failed")
		}
	}
}

// snapshotView returns the read-only view handed to plugins during Init.
func (r *Registry) snapshotView() contracts.Registry {
	return readOnlyView{r}
}

// readOnlyView adapts Registry to the narrow contracts.Registry interface.
type readOnlyView struct{ r *Registry }

func (v readOnlyView) Lookup(capability string) []models.PluginDescriptor {
	return v.r.Lookup(capability)
}
func (v readOnlyView) Descriptors() []models.PluginDescriptor { return v.r.Descriptors() }

func (r *Registry) publish(topic bus.Topic, name, detail string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(topic, name, detail)
}

func sortDescriptors(ds []models.PluginDescriptor) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].Priority != ds[j].Priority {
			return ds[i].Priority > ds[j].Priority
		}
		if si, sj := ds[i].Specificity(), ds[j].Specificity(); si != sj {
			return si > sj
		}
		return ds[i].Name < ds[j].Name
	})
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
