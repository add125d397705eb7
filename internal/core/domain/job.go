package domain

import (
	"context"
	"errors"
	"sync"
	"time"
)

type JobKind string

const (
	JobKindNetworkScan JobKind = "network-scan"
	JobKindFileLookup  JobKind = "file-lookup"
	JobKindURLLookup   JobKind = "url-lookup"
)

type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
	JobStateTimedOut  JobState = "timed_out"
)

// FailureReason distinguishes how a job reached a terminal failure state.
// ReasonStalled marks a watchdog-detected hang ("tool never answered"),
// as opposed to ReasonToolError ("tool said no").
type FailureReason string

const (
	ReasonToolError   FailureReason = "tool_error"
	ReasonBadResponse FailureReason = "bad_response"
	ReasonDeadline    FailureReason = "deadline_exceeded"
	ReasonStalled     FailureReason = "stalled"
	ReasonCancelled   FailureReason = "cancelled"
)

var (
	ErrPoolSaturated  = errors.New("job queue is full")
	ErrUnknownJob     = errors.New("unknown job id")
	ErrNotCancellable = errors.New("job is not in a cancellable state")
	ErrUnknownKind    = errors.New("unknown job kind")

	// ErrBadResponse marks an external tool that answered, but with output
	// the adapter could not interpret. Invokers wrap it so the job service
	// can report the failure reason precisely.
	ErrBadResponse = errors.New("malformed response from external tool")
)

// JobRequest describes one submission before it is admitted.
type JobRequest struct {
	Kind        JobKind   `json:"kind"`
	Key         string    `json:"key"`
	Target      string    `json:"target"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// JobHandle tracks one in-flight or completed job. All state transitions go
// through its methods; the zero value is not usable, use NewJobHandle.
type JobHandle struct {
	ID      string
	Request JobRequest

	mu             sync.Mutex
	state          JobState
	result         string
	reason         FailureReason
	errDetail      string
	startedAt      time.Time
	finishedAt     time.Time
	lastProgressAt time.Time
	cancel         context.CancelFunc
	fromCache      bool
}

// JobStatus is the read-only view of a handle handed to callers.
type JobStatus struct {
	ID             string        `json:"id"`
	Kind           JobKind       `json:"kind"`
	Key            string        `json:"key"`
	Target         string        `json:"target"`
	State          JobState      `json:"state"`
	Result         string        `json:"result,omitempty"`
	Reason         FailureReason `json:"reason,omitempty"`
	Error          string        `json:"error,omitempty"`
	FromCache      bool          `json:"from_cache"`
	SubmittedAt    time.Time     `json:"submitted_at"`
	StartedAt      time.Time     `json:"started_at,omitzero"`
	FinishedAt     time.Time     `json:"finished_at,omitzero"`
	LastProgressAt time.Time     `json:"last_progress_at,omitzero"`
}

func NewJobHandle(id string, req JobRequest) *JobHandle {
	return &JobHandle{
		ID:      id,
		Request: req,
		state:   JobStateQueued,
	}
}

// NewCachedHandle builds a synthetic already-succeeded handle for a cache
// hit; no worker is ever attached to it.
func NewCachedHandle(id string, req JobRequest, result string, at time.Time) *JobHandle {
	return &JobHandle{
		ID:         id,
		Request:    req,
		state:      JobStateSucceeded,
		result:     result,
		finishedAt: at,
		fromCache:  true,
	}
}

func (h *JobHandle) State() JobState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Terminal reports whether the handle reached a final state.
func (h *JobHandle) Terminal() bool {
	switch h.State() {
	case JobStateSucceeded, JobStateFailed, JobStateCancelled, JobStateTimedOut:
		return true
	}
	return false
}

// MarkRunning records the worker pickup and installs the cancel func used by
// Cancel and the watchdog. Returns false if the handle already left Queued
// (e.g. cancelled while waiting in the queue).
func (h *JobHandle) MarkRunning(cancel context.CancelFunc, now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != JobStateQueued {
		return false
	}
	h.state = JobStateRunning
	h.cancel = cancel
	h.startedAt = now
	h.lastProgressAt = now
	return true
}

// Progress refreshes lastProgressAt. Called by the worker at every
// externally observable step; the watchdog compares against it.
func (h *JobHandle) Progress(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == JobStateRunning {
		h.lastProgressAt = now
	}
}

func (h *JobHandle) MarkSucceeded(result string, now time.Time) bool {
	return h.finish(JobStateSucceeded, result, "", "", now)
}

func (h *JobHandle) MarkFailed(reason FailureReason, detail string, now time.Time) bool {
	return h.finish(JobStateFailed, "", reason, detail, now)
}

func (h *JobHandle) MarkTimedOut(reason FailureReason, detail string, now time.Time) bool {
	if h.finish(JobStateTimedOut, "", reason, detail, now) {
		h.signalCancel()
		return true
	}
	return false
}

func (h *JobHandle) MarkCancelled(now time.Time) bool {
	if h.finish(JobStateCancelled, "", ReasonCancelled, "", now) {
		h.signalCancel()
		return true
	}
	return false
}

func (h *JobHandle) finish(state JobState, result string, reason FailureReason, detail string, now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state {
	case JobStateQueued, JobStateRunning:
	default:
		return false
	}
	h.state = state
	h.result = result
	h.reason = reason
	h.errDetail = detail
	h.finishedAt = now
	return true
}

func (h *JobHandle) signalCancel() {
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// LastProgress returns when the job last reported progress; the zero time
// if it never started.
func (h *JobHandle) LastProgress() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastProgressAt
}

func (h *JobHandle) Status() JobStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return JobStatus{
		ID:             h.ID,
		Kind:           h.Request.Kind,
		Key:            h.Request.Key,
		Target:         h.Request.Target,
		State:          h.state,
		Result:         h.result,
		Reason:         h.reason,
		Error:          h.errDetail,
		FromCache:      h.fromCache,
		SubmittedAt:    h.Request.SubmittedAt,
		StartedAt:      h.startedAt,
		FinishedAt:     h.finishedAt,
		LastProgressAt: h.lastProgressAt,
	}
}
