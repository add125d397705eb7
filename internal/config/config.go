package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"watchpost.core/internal/core/domain"
)

// Config holds everything the core consumes at startup. Only the telemetry
// tick intervals are hot-adjustable afterwards; the rest is fixed for the
// life of the process.
type Config struct {
	// HTTP surface for the desktop shell
	HTTPPort string

	// Telemetry
	TickInterval    time.Duration // core metric cadence
	GPUTickInterval time.Duration // GPU cadence (detail view may shrink it)
	AdapterTimeout  time.Duration // per-adapter sample bound
	SnapshotBuffer  int           // per-subscriber snapshot buffer
	EventBuffer     int           // per-subscriber event buffer

	// Job subsystem
	PoolSize    int
	QueueDepth  int
	CancelGrace time.Duration
	Deadlines   map[domain.JobKind]time.Duration
	TTLs        map[domain.JobKind]time.Duration

	// Watchdog
	WatchdogInterval time.Duration
	StallThreshold   time.Duration

	// Result cache
	CacheBackend string // "memory" or "redis"
	RedisURL     string
	CacheSweep   time.Duration

	// External tools
	ScannerBin    string
	ReputationURL string

	// Optional outward bridges / observability
	MQTTBrokerURL string
	OTLPEndpoint  string
	ServiceName   string

	// Logging
	LogLevel  slog.Level
	LogFormat string // "json" or "text"
}

func Load() *Config {
	cfg := &Config{
		HTTPPort:        getEnv("WATCHPOST_HTTP_PORT", "8090"),
		TickInterval:    getEnvDuration("WATCHPOST_TICK_MS", time.Millisecond, 1000*time.Millisecond),
		GPUTickInterval: getEnvDuration("WATCHPOST_GPU_TICK_MS", time.Millisecond, 2000*time.Millisecond),
		AdapterTimeout:  getEnvDuration("WATCHPOST_ADAPTER_TIMEOUT_MS", time.Millisecond, 750*time.Millisecond),
		SnapshotBuffer:  getEnvInt("WATCHPOST_SNAPSHOT_BUFFER", 8),
		EventBuffer:     getEnvInt("WATCHPOST_EVENT_BUFFER", 64),

		PoolSize:    getEnvInt("WATCHPOST_POOL_SIZE", 3),
		QueueDepth:  getEnvInt("WATCHPOST_QUEUE_DEPTH", 32),
		CancelGrace: getEnvDuration("WATCHPOST_CANCEL_GRACE_S", time.Second, 2*time.Second),
		Deadlines: map[domain.JobKind]time.Duration{
			domain.JobKindNetworkScan: getEnvDuration("WATCHPOST_SCAN_DEADLINE_S", time.Second, 60*time.Second),
			domain.JobKindFileLookup:  getEnvDuration("WATCHPOST_LOOKUP_DEADLINE_S", time.Second, 20*time.Second),
			domain.JobKindURLLookup:   getEnvDuration("WATCHPOST_LOOKUP_DEADLINE_S", time.Second, 20*time.Second),
		},
		TTLs: map[domain.JobKind]time.Duration{
			domain.JobKindNetworkScan: getEnvDuration("WATCHPOST_SCAN_TTL_S", time.Second, 5*time.Minute),
			domain.JobKindFileLookup:  getEnvDuration("WATCHPOST_LOOKUP_TTL_S", time.Second, 30*time.Minute),
			domain.JobKindURLLookup:   getEnvDuration("WATCHPOST_LOOKUP_TTL_S", time.Second, 30*time.Minute),
		},

		WatchdogInterval: getEnvDuration("WATCHPOST_WATCHDOG_INTERVAL_S", time.Second, 5*time.Second),
		StallThreshold:   getEnvDuration("WATCHPOST_STALL_THRESHOLD_S", time.Second, 15*time.Second),

		CacheBackend: getEnv("WATCHPOST_CACHE_BACKEND", "memory"),
		RedisURL:     getEnv("WATCHPOST_REDIS_URL", "redis://localhost:6379/0"),
		CacheSweep:   getEnvDuration("WATCHPOST_CACHE_SWEEP_S", time.Second, 2*time.Minute),

		ScannerBin:    getEnv("WATCHPOST_SCANNER_BIN", "nmap"),
		ReputationURL: getEnv("WATCHPOST_REPUTATION_URL", "http://localhost:8445"),

		MQTTBrokerURL: getEnv("WATCHPOST_MQTT_BROKER_URL", ""),
		OTLPEndpoint:  getEnv("WATCHPOST_OTLP_ENDPOINT", ""),
		ServiceName:   getEnv("WATCHPOST_SERVICE_NAME", "watchpost-core"),

		LogFormat: getEnv("WATCHPOST_LOG_FORMAT", "text"),
	}

	switch getEnv("WATCHPOST_LOG_LEVEL", "info") {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	return cfg
}

// Validate checks the configuration before any subsystem starts.
func (c *Config) Validate() error {
	if c.PoolSize < 1 {
		return fmt.Errorf("config: pool size must be at least 1, got %d", c.PoolSize)
	}
	if c.QueueDepth < 1 {
		return fmt.Errorf("config: queue depth must be at least 1, got %d", c.QueueDepth)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("config: tick interval must be positive, got %v", c.TickInterval)
	}
	if c.StallThreshold <= c.WatchdogInterval {
		return fmt.Errorf("config: stall threshold %v must exceed watchdog interval %v",
			c.StallThreshold, c.WatchdogInterval)
	}
	switch c.CacheBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.CacheBackend)
	}
	if c.CacheBackend == "redis" && c.RedisURL == "" {
		return fmt.Errorf("config: redis cache backend requires WATCHPOST_REDIS_URL")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, unit time.Duration, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return time.Duration(parsed) * unit
		}
	}
	return fallback
}
