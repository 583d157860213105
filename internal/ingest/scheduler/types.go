package scheduler

import (
	"time"

	"ingestd/internal/clock"
	"ingestd/internal/ingest/job"
)

// Config controls the scheduler.
type Config struct {
	// Timezone is an IANA name used to evaluate cron schedules. Empty means Local.
	Timezone string
}

type jobTimer struct {
	timer clock.Timer
	ver   uint64
	next  time.Time
}

// JobInfo is the operator view of one job.
type JobInfo struct {
	ID         string        `json:"id"`
	Name       string        `json:"name,omitempty"`
	Source     job.Kind      `json:"source"`
	Schedule   string        `json:"schedule"`
	Cadence    string        `json:"cadence"`
	Enabled    bool          `json:"enabled"`
	Priority   job.Priority  `json:"priority"`
	Status     job.Status    `json:"status"`
	LastRun    *time.Time    `json:"last_run,omitempty"`
	NextRun    *time.Time    `json:"next_run,omitempty"`
	RetryCount int           `json:"retry_count"`
	MaxRetries int           `json:"max_retries"`
	Timeout    time.Duration `json:"timeout_ns"`
}

// Snapshot is a point-in-time view of the scheduler for diagnostics.
type Snapshot struct {
	Started        bool
	Timezone       string
	Running        []string
	PendingRetries []PendingRetry
	Jobs           []JobInfo
	HistoryLen     int
	HistoryTotal   uint64
}
