// Package metrics contains the per-resource metric source adapters feeding
// the snapshot aggregator. Each adapter is a thin synchronous read of the
// host; failure or timeout degrades its own snapshot field only.
package metrics

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"

	"watchpost.core/internal/core/domain"
	"watchpost.core/internal/core/ports"
)

type CPUAdapter struct{}

func NewCPUAdapter() *CPUAdapter { return &CPUAdapter{} }

func (a *CPUAdapter) Name() string { return "cpu" }

func (a *CPUAdapter) Sample(ctx context.Context) (ports.SnapshotPatch, error) {
	// Interval 0 measures against the previous call, which suits a fixed
	// sampling cadence without blocking the tick.
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, fmt.Errorf("cpu percent: %w", err)
	}
	if len(percents) == 0 {
		return nil, fmt.Errorf("cpu percent: no data")
	}

	cores := runtime.NumCPU()
	if c, err := cpu.CountsWithContext(ctx, true); err == nil && c > 0 {
		cores = c
	}

	var freq float64
	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		freq = infos[0].Mhz
	}

	reading := domain.CPUReading{
		Available:    true,
		UsagePercent: percents[0],
		FrequencyMHz: freq,
		CoreCount:    cores,
	}
	return func(s *domain.Snapshot) { s.CPU = reading }, nil
}

func (a *CPUAdapter) Unavailable() ports.SnapshotPatch {
	return func(s *domain.Snapshot) { s.CPU = domain.CPUReading{} }
}
