package services

import (
	"context"
	"testing"
	"time"

	"watchpost.core/internal/adapters/cache"
	"watchpost.core/internal/core/bus"
	"watchpost.core/internal/core/domain"
)

// startStalledService runs one job whose invoker hangs until its context is
// cancelled, with both the service and the watchdog on the stub clock.
func startStalledService(t *testing.T, clock *clockStub, stall time.Duration) (*JobService, *Watchdog, *bus.Bus, domain.JobStatus) {
	t.Helper()
	cfg := defaultJobConfig()
	cfg.PoolSize = 1
	cfg.Deadlines[domain.JobKindNetworkScan] = time.Hour // watchdog, not the deadline, ends it

	inv := newStubInvoker(domain.JobKindNetworkScan)
	inv.block["wedged.example"] = true

	b := bus.New(8, 64)
	svc := NewJobService(cfg, cache.NewMemory(), b, testLogger(), WithJobClock(clock.Now))
	svc.RegisterInvoker(inv)
	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)
	t.Cleanup(func() {
		cancel()
		svc.Stop()
		b.Close()
	})

	wd := NewWatchdog(svc, time.Second, stall, testLogger(), WithWatchdogClock(clock.Now))

	job, err := svc.Submit(context.Background(), domain.JobKindNetworkScan, "wedged.example")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForState(t, svc, job.ID, domain.JobStateRunning)
	return svc, wd, b, job
}

func TestSweepFailsStalledJob(t *testing.T) {
	clock := newClockStub()
	svc, wd, b, job := startStalledService(t, clock, 10*time.Second)
	sub := b.Subscribe()
	defer sub.Close()

	clock.Advance(30 * time.Second)
	if got := wd.Sweep(); got != 1 {
		t.Fatalf("Sweep = %d, want 1", got)
	}

	status, _ := svc.Status(job.ID)
	if status.State != domain.JobStateTimedOut || status.Reason != domain.ReasonStalled {
		t.Fatalf("status = %s/%s, want timed_out/stalled", status.State, status.Reason)
	}
	if wd.Stalled() != 1 {
		t.Errorf("Stalled = %d, want 1", wd.Stalled())
	}
	if svc.Stats().Completed[domain.JobStateTimedOut] != 1 {
		t.Error("timed out counter not incremented")
	}

	// The verdict is announced as an error event.
	select {
	case ev := <-sub.Events():
		if ev.Severity != domain.SeverityError || ev.Reason != domain.ReasonStalled || ev.RelatedJobID != job.ID {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no stall event published")
	}
}

func TestSweepSparesJobWithRecentProgress(t *testing.T) {
	clock := newClockStub()
	svc, wd, _, job := startStalledService(t, clock, 10*time.Second)

	clock.Advance(5 * time.Second)
	if got := wd.Sweep(); got != 0 {
		t.Fatalf("Sweep = %d, want 0", got)
	}
	status, _ := svc.Status(job.ID)
	if status.State != domain.JobStateRunning {
		t.Errorf("state = %s, want running", status.State)
	}

	// Progress resets the stall window.
	clock.Advance(8 * time.Second)
	for _, h := range svc.Running() {
		h.Progress(clock.Now())
	}
	clock.Advance(8 * time.Second)
	if got := wd.Sweep(); got != 0 {
		t.Errorf("Sweep after progress = %d, want 0", got)
	}
}

func TestStallVerdictFreesKeyForResubmission(t *testing.T) {
	clock := newClockStub()
	svc, wd, _, job := startStalledService(t, clock, 10*time.Second)

	clock.Advance(30 * time.Second)
	wd.Sweep()

	// The stalled handle keeps its verdict; a new submission for the same
	// key is admitted as a fresh job.
	again, err := svc.Submit(context.Background(), domain.JobKindNetworkScan, "wedged.example")
	if err != nil {
		t.Fatalf("resubmit after stall: %v", err)
	}
	if again.ID == job.ID {
		t.Error("resubmission fanned in on a dead job")
	}
	old, _ := svc.Status(job.ID)
	if old.State != domain.JobStateTimedOut {
		t.Errorf("original state = %s, want timed_out", old.State)
	}
}

func TestWatchdogRunLoopStops(t *testing.T) {
	clock := newClockStub()
	b := bus.New(1, 1)
	defer b.Close()
	svc := NewJobService(defaultJobConfig(), cache.NewMemory(), b, testLogger(), WithJobClock(clock.Now))
	wd := NewWatchdog(svc, 10*time.Millisecond, time.Second, testLogger(), WithWatchdogClock(clock.Now))

	wd.Start(context.Background())
	done := make(chan struct{})
	go func() {
		wd.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog did not stop")
	}
}
