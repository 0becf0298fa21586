// Package config loads runtime configuration from environment variables
// with sensible defaults, plus the YAML plugin manifest.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all configuration for the Praxis core runtime.
type Config struct {
	Port      int
	Version   string
	DataDir   string
	Routing   RoutingConfig
	Sandbox   SandboxConfig
	Evolution EvolutionConfig
	Health    HealthConfig
	Audit     AuditConfig
	Telemetry TelemetryConfig
}

// RoutingConfig tunes intent classification and response synthesis.
type RoutingConfig struct {
	// LowConfidence forces intent "unknown" + fallback routing below it.
	LowConfidence float64
	// MinConfidence is the per-result bar a candidate must clear for the
	// synthesizer to stop early.
	MinConfidence float64
	// FusionDelta merges the top two results when their confidences are
	// within this distance.
	FusionDelta float64
	// ContextBoost is added when short-term conversation context matches a
	// context-dependent fragment. Tunable: the upstream magnitudes were ad
	// hoc, so they live in config rather than constants.
	ContextBoost float64
	// ContextWindow is the per-session exchange ring buffer size.
	ContextWindow int
	// FallbackPlugin answers "unknown" intents. Never silently skipped.
	FallbackPlugin string
	// MaxParallel bounds concurrent plugin fan-out per query.
	MaxParallel int
	// PluginTimeout is the hard per-invocation deadline.
	PluginTimeout time.Duration
	// ParallelFanout switches the synthesizer from priority-order to
	// bounded concurrent invocation.
	ParallelFanout bool
	// RulesPath optionally overrides the built-in intent rule table (YAML).
	RulesPath string
	// ManifestPath is the YAML plugin manifest; empty disables manifest
	// loading and the watcher.
	ManifestPath string
}

// SandboxConfig tunes the isolated executor.
type SandboxConfig struct {
	// Backend selects the runner: "local" or "docker".
	Backend string
	// Root is the directory scratch sandboxes are created under.
	Root string
	// WallClock / CPUSecs / MemoryMB / OutputKB are the default run limits.
	WallClock time.Duration
	CPUSecs   int64
	MemoryMB  int64
	OutputKB  int64
	// JanitorInterval is how often orphaned scratch dirs are reaped.
	JanitorInterval time.Duration
	// OrphanAge is how old a scratch dir must be before the janitor
	// considers it abandoned.
	OrphanAge time.Duration
}

// EvolutionConfig tunes the self-modification pipeline.
type EvolutionConfig struct {
	Enabled bool
	// LiveDir is the directory tree the pipeline is allowed to mutate.
	LiveDir string
	// CheckpointDir stores pre-apply snapshots.
	CheckpointDir string
	// RiskThreshold rejects proposals scoring above it.
	RiskThreshold float64
	// Gate is the expr approval expression over {risk, threshold, failed, perf_delta}.
	Gate string
	// MaxPerfDelta rejects proposals slowing probes beyond this fraction.
	MaxPerfDelta float64
	// ProbeGrace is the post-apply window in which a failing health probe
	// triggers automatic rollback.
	ProbeGrace time.Duration
	// MaxSandboxTime marks a proposal stuck for the health monitor.
	MaxSandboxTime time.Duration
	// KeepCheckpoints bounds retained snapshots (oldest pruned first).
	KeepCheckpoints int
}

// HealthConfig tunes the background monitor.
type HealthConfig struct {
	Interval time.Duration
}

// AuditConfig selects the audit sink.
type AuditConfig struct {
	// Backend: "file" (default) or "postgres".
	Backend string
	// Path is the JSONL file for the file backend.
	Path string
	// DatabaseURL is the pgx connection string for the postgres backend.
	DatabaseURL string
}

// TelemetryConfig mirrors the OTLP exporter settings.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	dataDir := envStr("PRAXIS_DATA_DIR", defaultDataDir())
	return &Config{
		Port:    envInt("PRAXIS_PORT", 8080),
		Version: envStr("PRAXIS_VERSION", "0.4.0"),
		DataDir: dataDir,
		Routing: RoutingConfig{
			LowConfidence:  envFloat("PRAXIS_ROUTING_LOW_CONFIDENCE", 0.35),
			MinConfidence:  envFloat("PRAXIS_ROUTING_MIN_CONFIDENCE", 0.5),
			FusionDelta:    envFloat("PRAXIS_ROUTING_FUSION_DELTA", 0.1),
			ContextBoost:   envFloat("PRAXIS_ROUTING_CONTEXT_BOOST", 0.4),
			ContextWindow:  envInt("PRAXIS_ROUTING_CONTEXT_WINDOW", 5),
			FallbackPlugin: envStr("PRAXIS_ROUTING_FALLBACK_PLUGIN", "websearch"),
			MaxParallel:    envInt("PRAXIS_ROUTING_MAX_PARALLEL", 4),
			PluginTimeout:  envDur("PRAXIS_PLUGIN_TIMEOUT", 10*time.Second),
			ParallelFanout: envBool("PRAXIS_ROUTING_PARALLEL", false),
			RulesPath:      envStr("PRAXIS_ROUTING_RULES", ""),
			ManifestPath:   envStr("PRAXIS_PLUGIN_MANIFEST", ""),
		},
		Sandbox: SandboxConfig{
			Backend:         envStr("PRAXIS_SANDBOX_BACKEND", "local"),
			Root:            envStr("PRAXIS_SANDBOX_ROOT", filepath.Join(dataDir, "sandboxes")),
			WallClock:       envDur("PRAXIS_SANDBOX_WALL_CLOCK", 30*time.Second),
			CPUSecs:         int64(envInt("PRAXIS_SANDBOX_CPU_SECS", 20)),
			MemoryMB:        int64(envInt("PRAXIS_SANDBOX_MEMORY_MB", 256)),
			OutputKB:        int64(envInt("PRAXIS_SANDBOX_OUTPUT_KB", 512)),
			JanitorInterval: envDur("PRAXIS_SANDBOX_JANITOR_INTERVAL", 10*time.Minute),
			OrphanAge:       envDur("PRAXIS_SANDBOX_ORPHAN_AGE", time.Hour),
		},
		Evolution: EvolutionConfig{
			Enabled:         envBool("PRAXIS_EVOLUTION_ENABLED", true),
			LiveDir:         envStr("PRAXIS_EVOLUTION_LIVE_DIR", filepath.Join(dataDir, "live")),
			CheckpointDir:   envStr("PRAXIS_EVOLUTION_CHECKPOINT_DIR", filepath.Join(dataDir, "checkpoints")),
			RiskThreshold:   envFloat("PRAXIS_EVOLUTION_RISK_THRESHOLD", 0.7),
			Gate:            envStr("PRAXIS_EVOLUTION_GATE", "risk <= threshold && failed == 0"),
			MaxPerfDelta:    envFloat("PRAXIS_EVOLUTION_MAX_PERF_DELTA", 0.2),
			ProbeGrace:      envDur("PRAXIS_EVOLUTION_PROBE_GRACE", 30*time.Second),
			MaxSandboxTime:  envDur("PRAXIS_EVOLUTION_MAX_SANDBOX_TIME", 5*time.Minute),
			KeepCheckpoints: envInt("PRAXIS_EVOLUTION_KEEP_CHECKPOINTS", 20),
		},
		Health: HealthConfig{
			Interval: envDur("PRAXIS_HEALTH_INTERVAL", 15*time.Second),
		},
		Audit: AuditConfig{
			Backend:     envStr("PRAXIS_AUDIT_BACKEND", "file"),
			Path:        envStr("PRAXIS_AUDIT_PATH", filepath.Join(dataDir, "audit.jsonl")),
			DatabaseURL: envStr("PRAXIS_AUDIT_DATABASE_URL", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "praxis-core"),
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".praxis"
	}
	return filepath.Join(home, ".praxis")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
