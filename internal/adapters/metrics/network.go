package metrics

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	gopsnet "github.com/shirou/gopsutil/v3/net"

	"watchpost.core/internal/core/domain"
	"watchpost.core/internal/core/ports"
)

// NetworkAdapter derives send/recv rates from successive counter reads, so
// it carries the previous sample between ticks. The first tick after start
// reports zero rates.
type NetworkAdapter struct {
	mu        sync.Mutex
	now       ports.Clock
	lastAt    time.Time
	lastSent  uint64
	lastRecv  uint64
	havePrior bool
}

func NewNetworkAdapter() *NetworkAdapter {
	return &NetworkAdapter{now: time.Now}
}

func (a *NetworkAdapter) Name() string { return "network" }

func (a *NetworkAdapter) Sample(ctx context.Context) (ports.SnapshotPatch, error) {
	counters, err := gopsnet.IOCountersWithContext(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("net counters: %w", err)
	}
	if len(counters) == 0 {
		return nil, fmt.Errorf("net counters: no data")
	}
	total := counters[0]

	ifaces, err := gopsnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("net interfaces: %w", err)
	}

	now := a.now()

	a.mu.Lock()
	var sendRate, recvRate float64
	if a.havePrior {
		elapsed := now.Sub(a.lastAt).Seconds()
		if elapsed > 0 {
			sendRate = float64(total.BytesSent-a.lastSent) / elapsed
			recvRate = float64(total.BytesRecv-a.lastRecv) / elapsed
		}
	}
	a.lastAt = now
	a.lastSent = total.BytesSent
	a.lastRecv = total.BytesRecv
	a.havePrior = true
	a.mu.Unlock()

	adapters := make([]domain.NetAdapter, 0, len(ifaces))
	for _, iface := range ifaces {
		up := false
		for _, flag := range iface.Flags {
			if flag == "up" {
				up = true
				break
			}
		}
		addrs := make([]string, 0, len(iface.Addrs))
		for _, addr := range iface.Addrs {
			addrs = append(addrs, addr.Addr)
		}
		adapters = append(adapters, domain.NetAdapter{
			Name:      iface.Name,
			IsUp:      up,
			SpeedMbps: linkSpeedMbps(iface.Name),
			Addresses: addrs,
		})
	}

	reading := domain.NetworkReading{
		Available: true,
		SendRate:  sendRate,
		RecvRate:  recvRate,
		Adapters:  adapters,
	}
	return func(s *domain.Snapshot) { s.Network = reading }, nil
}

func (a *NetworkAdapter) Unavailable() ports.SnapshotPatch {
	return func(s *domain.Snapshot) { s.Network = domain.NetworkReading{} }
}

// linkSpeedMbps reads the negotiated link speed from sysfs. Only Linux
// exposes it; elsewhere, and for links that are down, it reports zero.
func linkSpeedMbps(name string) int {
	if runtime.GOOS != "linux" {
		return 0
	}
	data, err := os.ReadFile("/sys/class/net/" + name + "/speed")
	if err != nil {
		return 0
	}
	speed, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || speed < 0 {
		return 0
	}
	return speed
}
