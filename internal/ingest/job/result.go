package job

import "time"

// SyncResult is the immutable record of one attempt.
type SyncResult struct {
	ID        string        `json:"id"`
	JobID     string        `json:"job_id"`
	Source    Kind          `json:"source"`
	Trigger   Trigger       `json:"trigger"`
	Attempt   int           `json:"attempt"`
	Success   bool          `json:"success"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration_ns"`

	ItemsProcessed int `json:"items_processed"`
	ItemsAdded     int `json:"items_added"`
	ItemsUpdated   int `json:"items_updated"`
	ItemsRemoved   int `json:"items_removed"`

	Errors   []string       `json:"errors,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Clone returns a copy safe to hand out to readers.
func (r SyncResult) Clone() SyncResult {
	cp := r
	cp.Errors = append([]string(nil), r.Errors...)
	cp.Metadata = CloneMap(r.Metadata)
	return cp
}

// FirstError returns the first error message, or "".
func (r SyncResult) FirstError() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0]
}
