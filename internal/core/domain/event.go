package domain

import "time"

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// NotificationEvent is a fire-and-forget lifecycle event surfaced to the
// shell's toast/notification area. RelatedJobID is empty for telemetry
// events such as adapter failures.
type NotificationEvent struct {
	Severity     Severity      `json:"severity"`
	Message      string        `json:"message"`
	RelatedJobID string        `json:"related_job_id,omitempty"`
	Reason       FailureReason `json:"reason,omitempty"`
	At           time.Time     `json:"at"`
}

// CacheEntry is an immutable completed job output. A fresh job for the same
// key overwrites the whole entry, never edits it in place.
type CacheEntry struct {
	Key        string        `json:"key"`
	Result     string        `json:"result"`
	ComputedAt time.Time     `json:"computed_at"`
	TTL        time.Duration `json:"ttl"`
}

// Fresh reports whether the entry may still be served at the given instant.
func (e CacheEntry) Fresh(now time.Time) bool {
	return now.Sub(e.ComputedAt) < e.TTL
}
