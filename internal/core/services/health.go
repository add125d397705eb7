package services

import (
	"context"
	"fmt"
	"time"

	"watchpost.core/internal/core/ports"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// ComponentHealth represents the health of a specific component
type ComponentHealth struct {
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	Latency   string       `json:"latency,omitempty"`
	CheckedAt time.Time    `json:"checked_at"`
}

// HealthReport represents the overall health report
type HealthReport struct {
	Status     HealthStatus               `json:"status"`
	Version    string                     `json:"version"`
	CheckedAt  time.Time                  `json:"checked_at"`
	Components map[string]ComponentHealth `json:"components"`
}

// pinger is implemented by cache backends with a real connection to check.
type pinger interface {
	Ping(ctx context.Context) error
}

type HealthService struct {
	aggregator *Aggregator
	jobs       *JobService
	cache      ports.ResultCache
	tick       time.Duration
	version    string
}

func NewHealthService(aggregator *Aggregator, jobs *JobService, cache ports.ResultCache, tick time.Duration, version string) *HealthService {
	if version == "" {
		version = "0.0.1"
	}
	return &HealthService{
		aggregator: aggregator,
		jobs:       jobs,
		cache:      cache,
		tick:       tick,
		version:    version,
	}
}

func (s *HealthService) CheckHealth(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Status:     HealthStatusHealthy,
		Version:    s.version,
		CheckedAt:  time.Now(),
		Components: make(map[string]ComponentHealth),
	}

	telemetry := s.checkTelemetry()
	report.Components["telemetry"] = telemetry
	if telemetry.Status != HealthStatusHealthy {
		report.Status = HealthStatusUnhealthy
	}

	pool := s.checkJobPool()
	report.Components["job_pool"] = pool
	if pool.Status != HealthStatusHealthy && report.Status == HealthStatusHealthy {
		report.Status = HealthStatusDegraded
	}

	cache := s.checkCache(ctx)
	report.Components["cache"] = cache
	if cache.Status != HealthStatusHealthy && report.Status == HealthStatusHealthy {
		report.Status = HealthStatusDegraded
	}

	return report
}

// checkTelemetry verifies the aggregator is still publishing. A snapshot
// older than three publish intervals means the tick loop is wedged.
func (s *HealthService) checkTelemetry() ComponentHealth {
	snap, ok := s.aggregator.Latest()
	if !ok {
		return ComponentHealth{
			Status:    HealthStatusUnhealthy,
			Message:   "no snapshot published yet",
			CheckedAt: time.Now(),
		}
	}
	if age := time.Since(snap.Timestamp); age > 3*s.tick {
		return ComponentHealth{
			Status:    HealthStatusUnhealthy,
			Message:   fmt.Sprintf("last snapshot is %s old", age.Round(time.Millisecond)),
			CheckedAt: time.Now(),
		}
	}
	return ComponentHealth{
		Status:    HealthStatusHealthy,
		CheckedAt: time.Now(),
	}
}

func (s *HealthService) checkJobPool() ComponentHealth {
	stats := s.jobs.Stats()
	if stats.QueueDepth >= stats.QueueCap {
		return ComponentHealth{
			Status:    HealthStatusDegraded,
			Message:   fmt.Sprintf("job queue saturated (%d/%d)", stats.QueueDepth, stats.QueueCap),
			CheckedAt: time.Now(),
		}
	}
	return ComponentHealth{
		Status:    HealthStatusHealthy,
		Message:   fmt.Sprintf("queue %d/%d, %d in flight", stats.QueueDepth, stats.QueueCap, stats.Inflight),
		CheckedAt: time.Now(),
	}
}

func (s *HealthService) checkCache(ctx context.Context) ComponentHealth {
	start := time.Now()

	p, ok := s.cache.(pinger)
	if !ok {
		// In-memory backend, nothing to reach.
		return ComponentHealth{
			Status:    HealthStatusHealthy,
			Message:   fmt.Sprintf("%d entries", s.cache.Len(ctx)),
			CheckedAt: time.Now(),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := p.Ping(ctx); err != nil {
		return ComponentHealth{
			Status:    HealthStatusUnhealthy,
			Message:   fmt.Sprintf("cache ping failed: %v", err),
			Latency:   time.Since(start).String(),
			CheckedAt: time.Now(),
		}
	}
	return ComponentHealth{
		Status:    HealthStatusHealthy,
		Latency:   time.Since(start).String(),
		CheckedAt: time.Now(),
	}
}

// SimpleHealthCheck returns a simple health status for load balancers
func (s *HealthService) SimpleHealthCheck(ctx context.Context) (string, int) {
	report := s.CheckHealth(ctx)

	switch report.Status {
	case HealthStatusHealthy:
		return "ok", 200
	case HealthStatusDegraded:
		return "degraded", 200 // Still serving requests
	default:
		return "unhealthy", 503
	}
}
