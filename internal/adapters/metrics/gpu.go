package metrics

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"watchpost.core/internal/core/domain"
	"watchpost.core/internal/core/ports"
)

// GPUAdapter samples NVIDIA GPUs by shelling out to nvidia-smi. Hosts
// without the binary (or without a working driver) report an unavailable
// GPU reading; the aggregator treats that like any other adapter failure.
type GPUAdapter struct {
	bin string
}

func NewGPUAdapter() *GPUAdapter {
	return &GPUAdapter{bin: "nvidia-smi"}
}

func (a *GPUAdapter) Name() string { return "gpu" }

func (a *GPUAdapter) Sample(ctx context.Context) (ports.SnapshotPatch, error) {
	out, err := exec.CommandContext(ctx, a.bin,
		"--query-gpu=name,utilization.gpu,memory.used,memory.total",
		"--format=csv,noheader,nounits",
	).Output()
	if err != nil {
		return nil, fmt.Errorf("nvidia-smi: %w", err)
	}

	devices, err := parseGPUQuery(string(out))
	if err != nil {
		return nil, err
	}

	reading := domain.GPUReading{Available: true, Devices: devices}
	return func(s *domain.Snapshot) { s.GPU = reading }, nil
}

func (a *GPUAdapter) Unavailable() ports.SnapshotPatch {
	return func(s *domain.Snapshot) { s.GPU = domain.GPUReading{} }
}

// parseGPUQuery parses nvidia-smi CSV output, one device per line:
//
//	NVIDIA GeForce RTX 3060, 17, 1523, 12288
//
// memory columns are MiB (nounits).
func parseGPUQuery(out string) ([]domain.GPUDevice, error) {
	var devices []domain.GPUDevice
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 4 {
			return nil, fmt.Errorf("unexpected nvidia-smi line %q", line)
		}
		usage, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("gpu utilization in %q: %w", line, err)
		}
		usedMiB, err := strconv.ParseUint(strings.TrimSpace(fields[2]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("gpu memory.used in %q: %w", line, err)
		}
		totalMiB, err := strconv.ParseUint(strings.TrimSpace(fields[3]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("gpu memory.total in %q: %w", line, err)
		}
		devices = append(devices, domain.GPUDevice{
			Name:             strings.TrimSpace(fields[0]),
			UsagePercent:     usage,
			MemoryUsedBytes:  usedMiB * 1024 * 1024,
			MemoryTotalBytes: totalMiB * 1024 * 1024,
		})
	}
	return devices, nil
}
