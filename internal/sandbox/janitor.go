package sandbox

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// Janitor reaps orphaned scratch directories: sandboxes whose owning process
// died before cleanup ran. It sweeps once on startup and then on an
// interval, and respects context cancellation for graceful shutdown.
type Janitor struct {
	root      string
	interval  time.Duration
	orphanAge time.Duration

	reaped atomic.Int64
}

// NewJanitor creates a janitor for the given sandbox root.
func NewJanitor(root string, interval, orphanAge time.Duration) *Janitor {
	if interval < time.Second {
		interval = 10 * time.Minute
	}
	return &Janitor{root: root, interval: interval, orphanAge: orphanAge}
}

// Reaped returns how many scratch dirs have been removed so far. The health
// monitor surfaces an abnormal reap rate as a degraded signal.
func (j *Janitor) Reaped() int64 { return j.reaped.Load() }

// Start runs the janitor loop. It blocks until ctx is canceled.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().
		Str("root", j.root).
		Dur("interval", j.interval).
		Msg("Sandbox janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Startup sweep: anything left from a previous run whose owner is dead
	// is an orphan regardless of age.
	j.Sweep(true)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Sandbox janitor stopped")
			return
		case <-ticker.C:
			j.Sweep(false)
		}
	}
}

// Sweep performs one reap pass and returns the number of dirs removed. On a
// startup sweep, any marked dir with a dead owner goes; on interval sweeps,
// only dirs older than orphanAge — a live runner may still be using a young
// one (after a crash the dead-owner check still catches it).
func (j *Janitor) Sweep(startup bool) int {
	entries, err := os.ReadDir(j.root)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("root", j.root).Msg("Sandbox janitor: cannot read root")
		}
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(j.root, entry.Name())
		m, ok := readMarker(dir)
		if !ok {
			// Not one of ours. Leave it alone.
			continue
		}
		if !j.isOrphan(m, startup) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("Sandbox janitor: reap failed")
			continue
		}
		removed++
		j.reaped.Add(1)
		log.Debug().Str("dir", dir).Int("owner_pid", m.PID).Msg("Reaped orphaned sandbox")
	}

	if removed > 0 {
		log.Info().Int("reaped", removed).Msg("Sandbox janitor sweep complete")
	}
	return removed
}

func (j *Janitor) isOrphan(m marker, startup bool) bool {
	if !processAlive(m.PID) {
		return true
	}
	if startup {
		// Owner is alive (possibly us, mid-run): skip on startup sweeps.
		return false
	}
	return time.Since(m.CreatedAt) > j.orphanAge
}

func readMarker(dir string) (marker, bool) {
	data, err := os.ReadFile(filepath.Join(dir, markerName))
	if err != nil {
		return marker{}, false
	}
	var m marker
	if err := json.Unmarshal(data, &m); err != nil {
		return marker{}, false
	}
	return m, true
}

// processAlive reports whether pid refers to a live process. Signal 0 probes
// existence without delivering anything.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if pid == os.Getpid() {
		return true
	}
	err := syscall.Kill(pid, syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}
