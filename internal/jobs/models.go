package jobs

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a generation job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// OrphanReason is the error message set on jobs cancelled at daemon start.
const OrphanReason = "Daemon restarted"

var allStatuses = []Status{
	StatusQueued,
	StatusRunning,
	StatusCompleted,
	StatusCancelled,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts a string to a Status, accepting remote worker
// spellings such as IN_QUEUE, IN_PROGRESS and TIMED_OUT.
func ParseStatus(value string) (Status, bool) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "in_queue", "pending":
		return StatusQueued, true
	case "in_progress":
		return StatusRunning, true
	case "timed_out":
		return StatusFailed, true
	case "canceled":
		return StatusCancelled, true
	}
	status := Status(normalized)
	if _, ok := statusSet[status]; ok {
		return status, true
	}
	return "", false
}

// IsTerminal reports whether no further transitions are expected.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// Job is one generation request submitted to the fallback worker.
type Job struct {
	ID            int64     `json:"id"`
	RemoteID      string    `json:"remote_id,omitempty"`
	Mode          string    `json:"mode"`
	CacheKey      string    `json:"cache_key"`
	BookURL       string    `json:"book_url"`
	Chapter       string    `json:"chapter"`
	UserID        string    `json:"user_id,omitempty"`
	SessionID     string    `json:"session_id,omitempty"`
	Status        Status    `json:"status"`
	Attempt       int       `json:"attempt"`
	FramesRelayed int       `json:"frames_relayed"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Active reports whether the job may still be consuming worker time.
func (j Job) Active() bool {
	return !j.Status.IsTerminal()
}
