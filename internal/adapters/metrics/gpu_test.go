package metrics

import (
	"testing"
)

func TestParseGPUQuery(t *testing.T) {
	out := "NVIDIA GeForce RTX 3060, 17, 1523, 12288\nNVIDIA RTX A2000, 0, 512, 6144\n"

	devices, err := parseGPUQuery(out)
	if err != nil {
		t.Fatalf("parseGPUQuery: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("devices = %d, want 2", len(devices))
	}

	first := devices[0]
	if first.Name != "NVIDIA GeForce RTX 3060" {
		t.Errorf("name = %q", first.Name)
	}
	if first.UsagePercent != 17 {
		t.Errorf("usage = %v, want 17", first.UsagePercent)
	}
	if first.MemoryUsedBytes != 1523*1024*1024 {
		t.Errorf("used = %d, want %d", first.MemoryUsedBytes, 1523*1024*1024)
	}
	if first.MemoryTotalBytes != 12288*1024*1024 {
		t.Errorf("total = %d, want %d", first.MemoryTotalBytes, 12288*1024*1024)
	}

	if devices[1].Name != "NVIDIA RTX A2000" || devices[1].UsagePercent != 0 {
		t.Errorf("second device = %+v", devices[1])
	}
}

func TestParseGPUQueryEmpty(t *testing.T) {
	devices, err := parseGPUQuery("\n")
	if err != nil {
		t.Fatalf("parseGPUQuery: %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("devices = %d, want 0", len(devices))
	}
}

func TestParseGPUQueryMalformed(t *testing.T) {
	tests := []struct {
		name string
		out  string
	}{
		{"missing columns", "NVIDIA RTX, 17, 1523\n"},
		{"non-numeric utilization", "NVIDIA RTX, lots, 1523, 12288\n"},
		{"non-numeric memory", "NVIDIA RTX, 17, much, 12288\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseGPUQuery(tt.out); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}
