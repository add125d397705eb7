package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"watchpost.core/internal/core/domain"
	"watchpost.core/internal/core/ports"
)

// loopResolution is the aggregator's internal scheduling grain. Adapter
// intervals and the publish interval are rounded up to multiples of it.
const loopResolution = 250 * time.Millisecond

type adapterState struct {
	adapter     ports.MetricAdapter
	interval    time.Duration
	lastSampled time.Time
}

// Aggregator runs the telemetry tick: it samples every due metric adapter
// with a per-adapter timeout, assembles one immutable Snapshot and publishes
// it to the bus. Adapter failures degrade their own field and emit a
// warning event; the tick itself never aborts.
type Aggregator struct {
	bus     ports.EventPublisher
	logger  *slog.Logger
	timeout time.Duration
	now     ports.Clock

	mu              sync.Mutex
	adapters        map[string]*adapterState
	current         domain.Snapshot
	latest          domain.Snapshot
	haveLatest      bool
	publishInterval time.Duration
	lastPublished   time.Time

	ticks           atomic.Uint64
	adapterFailures atomic.Uint64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type AggregatorOption func(*Aggregator)

func WithAggregatorClock(now ports.Clock) AggregatorOption {
	return func(a *Aggregator) { a.now = now }
}

func NewAggregator(bus ports.EventPublisher, publishInterval, adapterTimeout time.Duration, logger *slog.Logger, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		bus:             bus,
		logger:          logger,
		timeout:         adapterTimeout,
		now:             time.Now,
		adapters:        make(map[string]*adapterState),
		publishInterval: publishInterval,
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Register adds an adapter with its own sampling interval. All registration
// happens before Start.
func (a *Aggregator) Register(adapter ports.MetricAdapter, interval time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.adapters[adapter.Name()] = &adapterState{adapter: adapter, interval: interval}
}

// SetAdapterInterval hot-adjusts one adapter's sampling interval (e.g. the
// GPU detail view requesting faster GPU sampling). The change is read at
// the top of the next tick, never mid-tick.
func (a *Aggregator) SetAdapterInterval(name string, interval time.Duration) error {
	if interval < loopResolution {
		interval = loopResolution
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.adapters[name]
	if !ok {
		return fmt.Errorf("unknown metric adapter %q", name)
	}
	st.interval = interval
	return nil
}

// Intervals reports the current per-adapter sampling intervals.
func (a *Aggregator) Intervals() map[string]time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]time.Duration, len(a.adapters))
	for name, st := range a.adapters {
		out[name] = st.interval
	}
	return out
}

func (a *Aggregator) Start(ctx context.Context) {
	go a.run(ctx)
}

func (a *Aggregator) run(ctx context.Context) {
	defer close(a.done)

	ticker := time.NewTicker(loopResolution)
	defer ticker.Stop()

	// Prime all adapters once so the first published snapshot is complete.
	a.tick(ctx, a.now())

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stop:
			return
		case <-ticker.C:
			a.tick(ctx, a.now())
		}
	}
}

func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
	<-a.done
}

// Latest returns the most recently published snapshot, for pull access by a
// freshly attached shell.
func (a *Aggregator) Latest() (domain.Snapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latest, a.haveLatest
}

// Ticks and AdapterFailures feed the prometheus collectors.
func (a *Aggregator) Ticks() uint64           { return a.ticks.Load() }
func (a *Aggregator) AdapterFailures() uint64 { return a.adapterFailures.Load() }

func (a *Aggregator) tick(ctx context.Context, now time.Time) {
	// Interval updates apply here, at the tick boundary.
	a.mu.Lock()
	due := make([]*adapterState, 0, len(a.adapters))
	for _, st := range a.adapters {
		if st.lastSampled.IsZero() || now.Sub(st.lastSampled) >= st.interval {
			st.lastSampled = now
			due = append(due, st)
		}
	}
	a.mu.Unlock()

	patches := make(chan ports.SnapshotPatch, len(due))
	var wg sync.WaitGroup
	for _, st := range due {
		wg.Add(1)
		go func(st *adapterState) {
			defer wg.Done()
			patches <- a.sampleOne(ctx, st.adapter)
		}(st)
	}
	wg.Wait()
	close(patches)

	a.mu.Lock()
	defer a.mu.Unlock()
	for patch := range patches {
		if patch != nil {
			patch(&a.current)
		}
	}

	if a.lastPublished.IsZero() || now.Sub(a.lastPublished) >= a.publishInterval {
		snap := a.current
		snap.Timestamp = now
		a.latest = snap
		a.haveLatest = true
		a.lastPublished = now
		a.ticks.Add(1)
		a.bus.PublishSnapshot(snap)
	}
}

// sampleOne bounds one adapter call. On error or timeout it returns the
// adapter's unavailable patch and emits a warning event.
func (a *Aggregator) sampleOne(ctx context.Context, adapter ports.MetricAdapter) ports.SnapshotPatch {
	sctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type sampled struct {
		patch ports.SnapshotPatch
		err   error
	}
	done := make(chan sampled, 1)
	go func() {
		patch, err := adapter.Sample(sctx)
		done <- sampled{patch, err}
	}()

	select {
	case res := <-done:
		if res.err == nil {
			return res.patch
		}
		a.degrade(adapter, res.err)
	case <-sctx.Done():
		a.degrade(adapter, sctx.Err())
	}
	return adapter.Unavailable()
}

func (a *Aggregator) degrade(adapter ports.MetricAdapter, err error) {
	a.adapterFailures.Add(1)
	a.logger.Warn("metric adapter degraded", "adapter", adapter.Name(), "error", err)
	a.bus.PublishEvent(domain.NotificationEvent{
		Severity: domain.SeverityWarning,
		Message:  fmt.Sprintf("%s metrics unavailable: %v", adapter.Name(), err),
		At:       a.now(),
	})
}
