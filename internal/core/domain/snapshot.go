package domain

import (
	"time"
)

// Snapshot is one immutable, timestamped bundle of all monitored resource
// readings. It is produced by the aggregator on each tick, published as a
// value and never mutated afterwards; the next tick supersedes it.
type Snapshot struct {
	Timestamp time.Time      `json:"timestamp"`
	CPU       CPUReading     `json:"cpu"`
	Memory    MemoryReading  `json:"mem"`
	GPU       GPUReading     `json:"gpu"`
	Network   NetworkReading `json:"net"`
	Disks     DiskReading    `json:"disks"`
}

// CPUReading holds host CPU usage. Available=false marks a degraded field;
// consumers must not interpret the zero values in that case.
type CPUReading struct {
	Available    bool    `json:"available"`
	UsagePercent float64 `json:"usage_percent"`
	FrequencyMHz float64 `json:"frequency_mhz"`
	CoreCount    int     `json:"core_count"`
}

type MemoryReading struct {
	Available  bool    `json:"available"`
	UsedBytes  uint64  `json:"used_bytes"`
	TotalBytes uint64  `json:"total_bytes"`
	Percent    float64 `json:"percent"`
}

// GPUReading covers zero or more GPUs. A host without a usable GPU driver
// reports Available=false and an empty device list.
type GPUReading struct {
	Available bool        `json:"available"`
	Devices   []GPUDevice `json:"devices"`
}

type GPUDevice struct {
	Name             string  `json:"name"`
	UsagePercent     float64 `json:"usage_percent"`
	MemoryUsedBytes  uint64  `json:"memory_used_bytes"`
	MemoryTotalBytes uint64  `json:"memory_total_bytes"`
}

// NetworkReading reports aggregate throughput in bytes/sec plus per-adapter
// link state.
type NetworkReading struct {
	Available bool         `json:"available"`
	SendRate  float64      `json:"send_rate"`
	RecvRate  float64      `json:"recv_rate"`
	Adapters  []NetAdapter `json:"adapters"`
}

type NetAdapter struct {
	Name      string   `json:"name"`
	IsUp      bool     `json:"is_up"`
	SpeedMbps int      `json:"speed_mbps"`
	Addresses []string `json:"addresses"`
}

type DiskReading struct {
	Available bool        `json:"available"`
	Mounts    []DiskMount `json:"mounts"`
}

type DiskMount struct {
	Mountpoint string  `json:"mountpoint"`
	Filesystem string  `json:"filesystem"`
	UsedBytes  uint64  `json:"used_bytes"`
	TotalBytes uint64  `json:"total_bytes"`
	Percent    float64 `json:"percent"`
}
