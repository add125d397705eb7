package domain

import (
	"testing"
	"time"
)

func newTestHandle() *JobHandle {
	return NewJobHandle("job-1", JobRequest{
		Kind:        JobKindNetworkScan,
		Key:         "network-scan:example.com",
		Target:      "example.com",
		SubmittedAt: time.Now(),
	})
}

func TestJobHandleLifecycle(t *testing.T) {
	h := newTestHandle()
	now := time.Now()

	if h.State() != JobStateQueued {
		t.Fatalf("new handle state = %s, want queued", h.State())
	}
	if h.Terminal() {
		t.Fatal("new handle must not be terminal")
	}

	cancelled := false
	if !h.MarkRunning(func() { cancelled = true }, now) {
		t.Fatal("MarkRunning from queued should succeed")
	}
	if h.State() != JobStateRunning {
		t.Fatalf("state = %s, want running", h.State())
	}
	if h.MarkRunning(nil, now) {
		t.Fatal("MarkRunning must fail once running")
	}

	later := now.Add(time.Second)
	h.Progress(later)
	if got := h.LastProgress(); !got.Equal(later) {
		t.Errorf("LastProgress = %v, want %v", got, later)
	}

	if !h.MarkSucceeded("ok", later) {
		t.Fatal("MarkSucceeded from running should succeed")
	}
	if !h.Terminal() {
		t.Fatal("succeeded handle must be terminal")
	}
	if cancelled {
		t.Error("success must not trigger the cancel func")
	}

	// Terminal is sticky.
	if h.MarkFailed(ReasonToolError, "late", later) {
		t.Error("MarkFailed after success should be rejected")
	}
	if h.MarkCancelled(later) {
		t.Error("MarkCancelled after success should be rejected")
	}
	if got := h.Status(); got.State != JobStateSucceeded || got.Result != "ok" {
		t.Errorf("status = %+v, want succeeded with result ok", got)
	}
}

func TestMarkCancelledSignalsContext(t *testing.T) {
	h := newTestHandle()
	now := time.Now()

	cancelled := false
	h.MarkRunning(func() { cancelled = true }, now)

	if !h.MarkCancelled(now) {
		t.Fatal("MarkCancelled from running should succeed")
	}
	if !cancelled {
		t.Error("cancellation must fire the installed cancel func")
	}
	if got := h.Status(); got.Reason != ReasonCancelled {
		t.Errorf("reason = %s, want cancelled", got.Reason)
	}
}

func TestMarkTimedOutStalledSignalsContext(t *testing.T) {
	h := newTestHandle()
	now := time.Now()

	cancelled := false
	h.MarkRunning(func() { cancelled = true }, now)

	if !h.MarkTimedOut(ReasonStalled, "no progress", now) {
		t.Fatal("MarkTimedOut from running should succeed")
	}
	if !cancelled {
		t.Error("stall verdict must fire the cancel func")
	}
	got := h.Status()
	if got.State != JobStateTimedOut || got.Reason != ReasonStalled {
		t.Errorf("status = %s/%s, want timed_out/stalled", got.State, got.Reason)
	}
}

func TestCancelWhileQueued(t *testing.T) {
	h := newTestHandle()
	now := time.Now()

	if !h.MarkCancelled(now) {
		t.Fatal("queued job should be cancellable")
	}
	if h.MarkRunning(nil, now) {
		t.Error("cancelled job must not start running")
	}
}

func TestProgressIgnoredWhenNotRunning(t *testing.T) {
	h := newTestHandle()
	h.Progress(time.Now())
	if !h.LastProgress().IsZero() {
		t.Error("progress before running must be ignored")
	}
}

func TestNewCachedHandle(t *testing.T) {
	at := time.Now()
	h := NewCachedHandle("job-2", JobRequest{Kind: JobKindURLLookup}, `{"verdict":"clean"}`, at)

	if !h.Terminal() {
		t.Fatal("cached handle must be terminal")
	}
	got := h.Status()
	if got.State != JobStateSucceeded || !got.FromCache {
		t.Errorf("status = %+v, want succeeded from cache", got)
	}
	if !got.FinishedAt.Equal(at) {
		t.Errorf("FinishedAt = %v, want the cache entry's compute time %v", got.FinishedAt, at)
	}
}
