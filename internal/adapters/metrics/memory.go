package metrics

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"watchpost.core/internal/core/domain"
	"watchpost.core/internal/core/ports"
)

type MemoryAdapter struct{}

func NewMemoryAdapter() *MemoryAdapter { return &MemoryAdapter{} }

func (a *MemoryAdapter) Name() string { return "memory" }

func (a *MemoryAdapter) Sample(ctx context.Context) (ports.SnapshotPatch, error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("virtual memory: %w", err)
	}
	reading := domain.MemoryReading{
		Available:  true,
		UsedBytes:  v.Used,
		TotalBytes: v.Total,
		Percent:    v.UsedPercent,
	}
	return func(s *domain.Snapshot) { s.Memory = reading }, nil
}

func (a *MemoryAdapter) Unavailable() ports.SnapshotPatch {
	return func(s *domain.Snapshot) { s.Memory = domain.MemoryReading{} }
}
