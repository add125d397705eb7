package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"watchpost.core/internal/core/domain"
	"watchpost.core/internal/core/ports"
)

// Watchdog sweeps the running jobs at a low frequency and force-fails any
// whose progress clock has stopped. This is the recovery path for external
// processes that wedge without tripping their own deadline (e.g. a blocked
// read); it is what keeps one hung tool from starving the bounded pool.
type Watchdog struct {
	jobs     *JobService
	logger   *slog.Logger
	interval time.Duration
	stall    time.Duration
	now      ports.Clock

	stalled  uint64
	mu       sync.Mutex
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type WatchdogOption func(*Watchdog)

func WithWatchdogClock(now ports.Clock) WatchdogOption {
	return func(w *Watchdog) { w.now = now }
}

func NewWatchdog(jobs *JobService, interval, stallThreshold time.Duration, logger *slog.Logger, opts ...WatchdogOption) *Watchdog {
	w := &Watchdog{
		jobs:     jobs,
		logger:   logger,
		interval: interval,
		stall:    stallThreshold,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Watchdog) Start(ctx context.Context) {
	go w.run(ctx)
}

func (w *Watchdog) run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.Sweep()
		}
	}
}

func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}

// Sweep force-fails every running job whose last progress is older than the
// stall threshold. The transition reuses the job's cancellation path, so
// the worker slot is reclaimed within the grace period.
func (w *Watchdog) Sweep() int {
	now := w.now()
	stalled := 0
	for _, h := range w.jobs.Running() {
		last := h.LastProgress()
		if last.IsZero() || now.Sub(last) <= w.stall {
			continue
		}
		detail := fmt.Sprintf("no progress for %s (threshold %s)", now.Sub(last).Round(time.Second), w.stall)
		if !h.MarkTimedOut(domain.ReasonStalled, detail, now) {
			continue
		}
		stalled++
		w.jobs.completed[domain.JobStateTimedOut].Add(1)
		w.logger.Error("job stalled", "id", h.ID, "kind", h.Request.Kind, "last_progress", last)
		w.jobs.bus.PublishEvent(domain.NotificationEvent{
			Severity:     domain.SeverityError,
			Message:      fmt.Sprintf("%s stalled: %s", h.Request.Kind, detail),
			RelatedJobID: h.ID,
			Reason:       domain.ReasonStalled,
			At:           now,
		})
	}

	w.mu.Lock()
	w.stalled += uint64(stalled)
	w.mu.Unlock()
	return stalled
}

// Stalled returns the total jobs force-failed by the watchdog.
func (w *Watchdog) Stalled() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stalled
}
