package plugins

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/praxishq/praxis/core/pkg/contracts"
)

// Sysinfo reports the runtime's own process statistics: memory, goroutines,
// uptime, host platform.
type Sysinfo struct {
	started time.Time
}

// NewSysinfo creates the sysinfo plugin.
func NewSysinfo() *Sysinfo {
	return &Sysinfo{started: time.Now()}
}

func (s *Sysinfo) Name() string                  { return "sysinfo" }
func (s *Sysinfo) Capabilities() []string        { return []string{"system"} }
func (s *Sysinfo) Init(contracts.Registry) error { return nil }

func (s *Sysinfo) Handle(_ context.Context, req *contracts.Request) (*contracts.Response, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	lower := strings.ToLower(req.Text)
	switch {
	case strings.Contains(lower, "memory"):
		return &contracts.Response{
			Text: fmt.Sprintf("Using %.1f MB of heap (%.1f MB reserved from the OS).",
				float64(mem.HeapAlloc)/1024/1024, float64(mem.Sys)/1024/1024),
			Confidence: 0.9,
		}, nil
	case strings.Contains(lower, "uptime"):
		return &contracts.Response{
			Text:       fmt.Sprintf("Up for %s.", time.Since(s.started).Round(time.Second)),
			Confidence: 0.9,
		}, nil
	}

	hostname, _ := os.Hostname()
	text := fmt.Sprintf("Running on %s/%s (host %s), pid %d, %d goroutines, %.1f MB heap, up %s.",
		runtime.GOOS, runtime.GOARCH, hostname, os.Getpid(),
		runtime.NumGoroutine(), float64(mem.HeapAlloc)/1024/1024,
		time.Since(s.started).Round(time.Second))
	return &contracts.Response{Text: text, Confidence: 0.85}, nil
}
