package config

import (
	"log/slog"
	"testing"
	"time"

	"watchpost.core/internal/core/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.HTTPPort != "8090" {
		t.Errorf("HTTPPort = %q, want 8090", cfg.HTTPPort)
	}
	if cfg.TickInterval != time.Second {
		t.Errorf("TickInterval = %v, want 1s", cfg.TickInterval)
	}
	if cfg.GPUTickInterval != 2*time.Second {
		t.Errorf("GPUTickInterval = %v, want 2s", cfg.GPUTickInterval)
	}
	if cfg.PoolSize != 3 || cfg.QueueDepth != 32 {
		t.Errorf("pool = %d/%d, want 3/32", cfg.PoolSize, cfg.QueueDepth)
	}
	if cfg.Deadlines[domain.JobKindNetworkScan] != 60*time.Second {
		t.Errorf("scan deadline = %v, want 60s", cfg.Deadlines[domain.JobKindNetworkScan])
	}
	if cfg.TTLs[domain.JobKindURLLookup] != 30*time.Minute {
		t.Errorf("lookup TTL = %v, want 30m", cfg.TTLs[domain.JobKindURLLookup])
	}
	if cfg.StallThreshold != 15*time.Second || cfg.WatchdogInterval != 5*time.Second {
		t.Errorf("watchdog = %v/%v", cfg.WatchdogInterval, cfg.StallThreshold)
	}
	if cfg.CacheBackend != "memory" {
		t.Errorf("CacheBackend = %q, want memory", cfg.CacheBackend)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info", cfg.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WATCHPOST_HTTP_PORT", "9999")
	t.Setenv("WATCHPOST_TICK_MS", "500")
	t.Setenv("WATCHPOST_POOL_SIZE", "5")
	t.Setenv("WATCHPOST_SCAN_DEADLINE_S", "120")
	t.Setenv("WATCHPOST_CACHE_BACKEND", "redis")
	t.Setenv("WATCHPOST_LOG_LEVEL", "debug")

	cfg := Load()
	if cfg.HTTPPort != "9999" {
		t.Errorf("HTTPPort = %q", cfg.HTTPPort)
	}
	if cfg.TickInterval != 500*time.Millisecond {
		t.Errorf("TickInterval = %v, want 500ms", cfg.TickInterval)
	}
	if cfg.PoolSize != 5 {
		t.Errorf("PoolSize = %d, want 5", cfg.PoolSize)
	}
	if cfg.Deadlines[domain.JobKindNetworkScan] != 2*time.Minute {
		t.Errorf("scan deadline = %v, want 2m", cfg.Deadlines[domain.JobKindNetworkScan])
	}
	if cfg.CacheBackend != "redis" {
		t.Errorf("CacheBackend = %q, want redis", cfg.CacheBackend)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
}

func TestLoadIgnoresGarbageNumbers(t *testing.T) {
	t.Setenv("WATCHPOST_POOL_SIZE", "many")
	t.Setenv("WATCHPOST_TICK_MS", "-10")

	cfg := Load()
	if cfg.PoolSize != 3 {
		t.Errorf("PoolSize = %d, want fallback 3", cfg.PoolSize)
	}
	if cfg.TickInterval != time.Second {
		t.Errorf("TickInterval = %v, want fallback 1s", cfg.TickInterval)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero pool", func(c *Config) { c.PoolSize = 0 }},
		{"zero queue", func(c *Config) { c.QueueDepth = 0 }},
		{"zero tick", func(c *Config) { c.TickInterval = 0 }},
		{"stall below watchdog interval", func(c *Config) { c.StallThreshold = c.WatchdogInterval }},
		{"unknown backend", func(c *Config) { c.CacheBackend = "etcd" }},
		{"redis without url", func(c *Config) { c.CacheBackend = "redis"; c.RedisURL = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
