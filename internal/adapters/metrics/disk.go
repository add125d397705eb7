package metrics

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"

	"watchpost.core/internal/core/domain"
	"watchpost.core/internal/core/ports"
)

type DiskAdapter struct{}

func NewDiskAdapter() *DiskAdapter { return &DiskAdapter{} }

func (a *DiskAdapter) Name() string { return "disk" }

func (a *DiskAdapter) Sample(ctx context.Context) (ports.SnapshotPatch, error) {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("disk partitions: %w", err)
	}

	mounts := make([]domain.DiskMount, 0, len(parts))
	for _, part := range parts {
		usage, err := disk.UsageWithContext(ctx, part.Mountpoint)
		if err != nil {
			// A single unreadable mount (e.g. a stale network share) does
			// not degrade the whole disk reading.
			continue
		}
		mounts = append(mounts, domain.DiskMount{
			Mountpoint: part.Mountpoint,
			Filesystem: part.Fstype,
			UsedBytes:  usage.Used,
			TotalBytes: usage.Total,
			Percent:    usage.UsedPercent,
		})
	}

	reading := domain.DiskReading{Available: true, Mounts: mounts}
	return func(s *domain.Snapshot) { s.Disks = reading }, nil
}

func (a *DiskAdapter) Unavailable() ports.SnapshotPatch {
	return func(s *domain.Snapshot) { s.Disks = domain.DiskReading{} }
}
