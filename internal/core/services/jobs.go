package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"watchpost.core/internal/core/domain"
	"watchpost.core/internal/core/ports"
	"watchpost.core/internal/core/tracing"
)

// JobService owns the job queue and the worker pool. It enforces the two
// admission rules — cache short-circuit and at-most-one-in-flight-per-key —
// and the bounded worker concurrency that is the system's only admission
// control.
type JobService struct {
	invokers  map[domain.JobKind]ports.Invoker
	cache     ports.ResultCache
	bus       ports.EventPublisher
	logger    *slog.Logger
	now       ports.Clock
	deadlines map[domain.JobKind]time.Duration
	ttls      map[domain.JobKind]time.Duration
	grace     time.Duration
	poolSize  int

	queue chan *domain.JobHandle

	mu       sync.Mutex
	byID     map[string]*domain.JobHandle
	inflight map[string]*domain.JobHandle // key -> queued or running handle
	recent   []string                     // job IDs, newest last, bounded

	cacheHits   atomic.Uint64
	invocations atomic.Uint64
	completed   map[domain.JobState]*atomic.Uint64

	wg       sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}
}

const recentJobsKept = 100

type JobServiceConfig struct {
	PoolSize    int
	QueueDepth  int
	CancelGrace time.Duration
	Deadlines   map[domain.JobKind]time.Duration
	TTLs        map[domain.JobKind]time.Duration
}

type JobOption func(*JobService)

func WithJobClock(now ports.Clock) JobOption {
	return func(s *JobService) { s.now = now }
}

func NewJobService(cfg JobServiceConfig, cache ports.ResultCache, bus ports.EventPublisher, logger *slog.Logger, opts ...JobOption) *JobService {
	s := &JobService{
		invokers:  make(map[domain.JobKind]ports.Invoker),
		cache:     cache,
		bus:       bus,
		logger:    logger,
		now:       time.Now,
		deadlines: cfg.Deadlines,
		ttls:      cfg.TTLs,
		grace:     cfg.CancelGrace,
		poolSize:  cfg.PoolSize,
		queue:     make(chan *domain.JobHandle, cfg.QueueDepth),
		byID:      make(map[string]*domain.JobHandle),
		inflight:  make(map[string]*domain.JobHandle),
		completed: make(map[domain.JobState]*atomic.Uint64),
		stop:      make(chan struct{}),
	}
	for _, state := range []domain.JobState{
		domain.JobStateSucceeded, domain.JobStateFailed,
		domain.JobStateCancelled, domain.JobStateTimedOut,
	} {
		s.completed[state] = &atomic.Uint64{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterInvoker attaches the external-tool runner for one job kind.
// All registration happens before Start.
func (s *JobService) RegisterInvoker(inv ports.Invoker) {
	s.invokers[inv.Kind()] = inv
}

// Start launches the worker pool. Workers exit when ctx is cancelled or
// Stop is called.
func (s *JobService) Start(ctx context.Context) {
	for i := 0; i < s.poolSize; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
}

// Stop drains the pool. In-flight invocations are cancelled through their
// contexts; Stop returns once every worker slot is reclaimed.
func (s *JobService) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// Submit admits one job request. In order: cache short-circuit (fresh entry
// returns a synthetic succeeded handle, no worker consumed), fan-in onto an
// already in-flight execution for the same key, then FIFO enqueue. A full
// queue fails fast with ErrPoolSaturated.
func (s *JobService) Submit(ctx context.Context, kind domain.JobKind, target string) (domain.JobStatus, error) {
	if _, ok := s.invokers[kind]; !ok {
		return domain.JobStatus{}, fmt.Errorf("%w: %q", domain.ErrUnknownKind, kind)
	}
	key, err := domain.JobKey(kind, target)
	if err != nil {
		return domain.JobStatus{}, err
	}
	req := domain.JobRequest{
		Kind:        kind,
		Key:         key,
		Target:      target,
		SubmittedAt: s.now(),
	}

	if h := s.lookupInflight(key); h != nil {
		return h.Status(), nil
	}

	// Cache lookup happens outside the table lock; it may hit Redis.
	if entry, ok := s.cache.Get(ctx, key); ok {
		s.cacheHits.Add(1)
		h := domain.NewCachedHandle(newJobID(), req, entry.Result, entry.ComputedAt)
		s.mu.Lock()
		s.track(h)
		s.mu.Unlock()
		s.logger.Debug("job served from cache", "id", h.ID, "key", key)
		return h.Status(), nil
	}

	h := domain.NewJobHandle(newJobID(), req)

	s.mu.Lock()
	// Re-check under the lock: a concurrent Submit may have enqueued the
	// same key while we were looking at the cache.
	if existing, ok := s.inflight[key]; ok && !existing.Terminal() {
		s.mu.Unlock()
		return existing.Status(), nil
	}
	select {
	case s.queue <- h:
		s.inflight[key] = h
		s.track(h)
	default:
		s.mu.Unlock()
		return domain.JobStatus{}, fmt.Errorf("%w (depth %d)", domain.ErrPoolSaturated, cap(s.queue))
	}
	s.mu.Unlock()

	s.logger.Info("job queued", "id", h.ID, "kind", kind, "key", key)
	return h.Status(), nil
}

// Cancel requests cancellation of a queued or running job. It is advisory:
// a running worker takes one cooperative step to notice, and the external
// process is terminated through the job's context.
func (s *JobService) Cancel(jobID string) error {
	s.mu.Lock()
	h, ok := s.byID[jobID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownJob, jobID)
	}
	if !h.MarkCancelled(s.now()) {
		return fmt.Errorf("%w: %s is %s", domain.ErrNotCancellable, jobID, h.State())
	}
	s.completed[domain.JobStateCancelled].Add(1)
	s.logger.Info("job cancelled", "id", h.ID, "key", h.Request.Key)
	s.bus.PublishEvent(domain.NotificationEvent{
		Severity:     domain.SeverityInfo,
		Message:      fmt.Sprintf("%s cancelled", h.Request.Kind),
		RelatedJobID: h.ID,
		Reason:       domain.ReasonCancelled,
		At:           s.now(),
	})
	return nil
}

// Status returns the current view of one job.
func (s *JobService) Status(jobID string) (domain.JobStatus, error) {
	s.mu.Lock()
	h, ok := s.byID[jobID]
	s.mu.Unlock()
	if !ok {
		return domain.JobStatus{}, fmt.Errorf("%w: %s", domain.ErrUnknownJob, jobID)
	}
	return h.Status(), nil
}

// List returns the most recent jobs, newest first.
func (s *JobService) List() []domain.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.JobStatus, 0, len(s.recent))
	for i := len(s.recent) - 1; i >= 0; i-- {
		if h, ok := s.byID[s.recent[i]]; ok {
			out = append(out, h.Status())
		}
	}
	return out
}

// Running returns every handle currently in the Running state; the watchdog
// sweeps over these.
func (s *JobService) Running() []*domain.JobHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.JobHandle, 0, len(s.inflight))
	for _, h := range s.inflight {
		if h.State() == domain.JobStateRunning {
			out = append(out, h)
		}
	}
	return out
}

// Stats feeds the prometheus collectors.
type JobStats struct {
	QueueDepth  int
	QueueCap    int
	Inflight    int
	CacheHits   uint64
	Invocations uint64
	Completed   map[domain.JobState]uint64
}

func (s *JobService) Stats() JobStats {
	s.mu.Lock()
	inflight := len(s.inflight)
	s.mu.Unlock()
	completed := make(map[domain.JobState]uint64, len(s.completed))
	for state, counter := range s.completed {
		completed[state] = counter.Load()
	}
	return JobStats{
		QueueDepth:  len(s.queue),
		QueueCap:    cap(s.queue),
		Inflight:    inflight,
		CacheHits:   s.cacheHits.Load(),
		Invocations: s.invocations.Load(),
		Completed:   completed,
	}
}

func (s *JobService) lookupInflight(key string) *domain.JobHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.inflight[key]; ok && !h.Terminal() {
		return h
	}
	return nil
}

// track records the handle for Status/List. Caller holds s.mu.
func (s *JobService) track(h *domain.JobHandle) {
	s.byID[h.ID] = h
	s.recent = append(s.recent, h.ID)
	if len(s.recent) > recentJobsKept {
		drop := s.recent[0]
		s.recent = s.recent[1:]
		if dropped, ok := s.byID[drop]; ok && dropped.Terminal() {
			delete(s.byID, drop)
		}
	}
}

func (s *JobService) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case h := <-s.queue:
			s.execute(ctx, h)
		}
	}
}

// execute runs one job to a terminal state. The invocation itself runs in a
// separate goroutine; on cancellation or deadline the worker waits at most
// the grace period for it to return, then reclaims the slot regardless —
// killing the external process is the invoker's contract, slot reuse is not
// gated on it.
func (s *JobService) execute(ctx context.Context, h *domain.JobHandle) {
	deadline := s.deadlines[h.Request.Kind]
	jctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	if !h.MarkRunning(cancel, s.now()) {
		// Cancelled while still queued.
		s.clearInflight(h)
		return
	}

	jctx, span := tracing.StartSpan(jctx, "job."+string(h.Request.Kind))
	defer span.End()

	s.logger.Info("job started", "id", h.ID, "kind", h.Request.Kind, "target", h.Request.Target)
	s.bus.PublishEvent(domain.NotificationEvent{
		Severity:     domain.SeverityInfo,
		Message:      fmt.Sprintf("%s started", h.Request.Kind),
		RelatedJobID: h.ID,
		At:           s.now(),
	})

	invoker := s.invokers[h.Request.Kind]
	s.invocations.Add(1)

	type outcome struct {
		result string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := invoker.Invoke(jctx, h.Request.Target, func() { h.Progress(s.now()) })
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		s.settle(ctx, h, out.result, out.err, jctx.Err())
	case <-jctx.Done():
		// Cooperative step: give the invoker the grace period to notice
		// the cancelled context and return.
		select {
		case out := <-done:
			s.settle(ctx, h, out.result, out.err, jctx.Err())
		case <-time.After(s.grace):
			s.settleAbandoned(h, jctx.Err())
		}
	}

	s.clearInflight(h)
}

// settle applies the invocation outcome. A handle the watchdog or a
// canceller already drove to a terminal state is left untouched; they own
// the event for it.
func (s *JobService) settle(ctx context.Context, h *domain.JobHandle, result string, err, ctxErr error) {
	now := s.now()
	switch {
	case err == nil:
		if !h.MarkSucceeded(result, now) {
			return
		}
		s.completed[domain.JobStateSucceeded].Add(1)
		s.cache.Put(ctx, domain.CacheEntry{
			Key:        h.Request.Key,
			Result:     result,
			ComputedAt: now,
			TTL:        s.ttls[h.Request.Kind],
		})
		s.logger.Info("job succeeded", "id", h.ID, "key", h.Request.Key)
		s.bus.PublishEvent(domain.NotificationEvent{
			Severity:     domain.SeverityInfo,
			Message:      fmt.Sprintf("%s completed", h.Request.Kind),
			RelatedJobID: h.ID,
			At:           now,
		})

	case errors.Is(ctxErr, context.DeadlineExceeded):
		if !h.MarkTimedOut(domain.ReasonDeadline, err.Error(), now) {
			return
		}
		s.completed[domain.JobStateTimedOut].Add(1)
		s.logger.Warn("job deadline exceeded", "id", h.ID, "deadline", s.deadlines[h.Request.Kind])
		s.bus.PublishEvent(domain.NotificationEvent{
			Severity:     domain.SeverityError,
			Message:      fmt.Sprintf("%s timed out", h.Request.Kind),
			RelatedJobID: h.ID,
			Reason:       domain.ReasonDeadline,
			At:           now,
		})

	case errors.Is(ctxErr, context.Canceled):
		// Cancel() already marked the handle; this covers pool shutdown.
		if h.MarkCancelled(now) {
			s.completed[domain.JobStateCancelled].Add(1)
		}

	default:
		reason := domain.ReasonToolError
		if errors.Is(err, domain.ErrBadResponse) {
			reason = domain.ReasonBadResponse
		}
		if !h.MarkFailed(reason, err.Error(), now) {
			return
		}
		s.completed[domain.JobStateFailed].Add(1)
		s.logger.Error("job failed", "id", h.ID, "reason", reason, "error", err)
		s.bus.PublishEvent(domain.NotificationEvent{
			Severity:     domain.SeverityError,
			Message:      fmt.Sprintf("%s failed: %v", h.Request.Kind, err),
			RelatedJobID: h.ID,
			Reason:       reason,
			At:           now,
		})
	}
}

// settleAbandoned records the terminal state for an invocation that did not
// return within the grace period. The detached goroutine's eventual result
// is discarded.
func (s *JobService) settleAbandoned(h *domain.JobHandle, ctxErr error) {
	now := s.now()
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		if h.MarkTimedOut(domain.ReasonDeadline, "invocation did not stop within the cancellation grace period", now) {
			s.completed[domain.JobStateTimedOut].Add(1)
			s.bus.PublishEvent(domain.NotificationEvent{
				Severity:     domain.SeverityError,
				Message:      fmt.Sprintf("%s timed out", h.Request.Kind),
				RelatedJobID: h.ID,
				Reason:       domain.ReasonDeadline,
				At:           now,
			})
		}
		return
	}
	if h.MarkCancelled(now) {
		s.completed[domain.JobStateCancelled].Add(1)
	}
	s.logger.Warn("worker slot reclaimed before invocation stopped", "id", h.ID)
}

// clearInflight frees the key so a later submission runs fresh.
func (s *JobService) clearInflight(h *domain.JobHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.inflight[h.Request.Key]; ok && current == h {
		delete(s.inflight, h.Request.Key)
	}
}

func newJobID() string {
	return "job-" + uuid.New().String()
}
