package engine

import (
	"time"

	"ingestd/internal/ingest/job"
)

const (
	DefaultRetryBase  = time.Second
	DefaultMaxBackoff = 15 * time.Minute
)

// RetryDecision is the outcome of a failed attempt.
type RetryDecision struct {
	Retry bool
	Delay time.Duration
	// Attempt is the attempt number the retry will carry.
	Attempt int
}

// RetryController applies the bounded exponential backoff policy:
// the k-th retry of a cycle waits Base * 2^k. No jitter.
type RetryController struct {
	// Base defaults to DefaultRetryBase when <= 0.
	Base time.Duration
	// MaxBackoff caps each delay. 0 means DefaultMaxBackoff; negative disables the cap.
	MaxBackoff time.Duration
}

// OnFailure updates j for a failed attempt and decides whether to retry.
// hint is a downstream retry-after suggestion (0 if none); it raises the
// delay but never beyond MaxBackoff.
func (rc RetryController) OnFailure(j *job.SyncJob, hint time.Duration) RetryDecision {
	j.Status = job.StatusError
	if j.RetryCount >= j.MaxRetries {
		return RetryDecision{}
	}
	j.RetryCount++
	d := rc.Backoff(j.RetryCount)
	if hint > d {
		d = rc.clamp(hint)
	}
	return RetryDecision{Retry: true, Delay: d, Attempt: j.RetryCount + 1}
}

// OnSuccess resets the retry cycle.
func (rc RetryController) OnSuccess(j *job.SyncJob) {
	j.RetryCount = 0
	j.Status = job.StatusSuccess
}

// Backoff returns the delay before retry k (k >= 1).
func (rc RetryController) Backoff(k int) time.Duration {
	base := rc.Base
	if base <= 0 {
		base = DefaultRetryBase
	}
	if k < 1 {
		k = 1
	}
	limit := rc.limit()
	d := base
	for i := 0; i < k; i++ {
		d *= 2
		if limit > 0 && d >= limit {
			return limit
		}
		// Overflow guard when uncapped.
		if d <= 0 {
			return time.Duration(1<<63 - 1)
		}
	}
	return d
}

func (rc RetryController) limit() time.Duration {
	switch {
	case rc.MaxBackoff == 0:
		return DefaultMaxBackoff
	case rc.MaxBackoff < 0:
		return 0
	default:
		return rc.MaxBackoff
	}
}

func (rc RetryController) clamp(d time.Duration) time.Duration {
	if l := rc.limit(); l > 0 && d > l {
		return l
	}
	return d
}
