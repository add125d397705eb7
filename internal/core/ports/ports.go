package ports

import (
	"context"
	"time"

	"watchpost.core/internal/core/domain"
)

// SnapshotPatch writes one adapter's reading into the snapshot under
// assembly. Patches are produced by adapters and applied only by the
// aggregator goroutine, so a sample that outlives its timeout can never
// race the published snapshot.
type SnapshotPatch func(*domain.Snapshot)

// MetricAdapter is a resource-specific sampling function feeding the
// snapshot aggregator. Sample must be a thin, side-effect-free read of the
// host; the aggregator enforces the timeout on ctx, an adapter that ignores
// it merely leaks one goroutine until the read returns. Unavailable yields
// the patch that marks the adapter's field as degraded.
type MetricAdapter interface {
	Name() string
	Sample(ctx context.Context) (SnapshotPatch, error)
	Unavailable() SnapshotPatch
}

// Invoker runs one external invocation (scanner binary, reputation API) for
// a job. Implementations must terminate the underlying process/request when
// ctx is cancelled, not merely stop waiting on it. progress is called at
// externally observable steps so the watchdog can see liveness.
type Invoker interface {
	Kind() domain.JobKind
	Invoke(ctx context.Context, target string, progress func()) (string, error)
}

// ResultCache is the keyed, time-boxed store of completed job outputs.
// Get must never return an entry past its TTL.
type ResultCache interface {
	Get(ctx context.Context, key string) (domain.CacheEntry, bool)
	Put(ctx context.Context, entry domain.CacheEntry)
	Invalidate(ctx context.Context, key string)
	Len(ctx context.Context) int
}

// EventPublisher is the write side of the telemetry bus as seen by the
// aggregator, job service and watchdog. Implementations must never block
// the caller on a slow subscriber.
type EventPublisher interface {
	PublishSnapshot(snap domain.Snapshot)
	PublishEvent(ev domain.NotificationEvent)
}

// Clock is the injectable time source used by the cache, job service and
// watchdog so tests can time-travel.
type Clock func() time.Time
