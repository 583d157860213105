// Package registry holds the set of sync job definitions and their runtime
// state. Every read returns a copy; every mutation is atomic with respect to
// concurrent readers.
package registry

import (
	"strings"
	"sync"
	"time"

	"ingestd/internal/ingest/job"
	"ingestd/internal/ingest/schedule"
)

// Registry stores jobs in registration order.
type Registry struct {
	mu    sync.RWMutex
	order []string
	jobs  map[string]*job.SyncJob

	hookMu          sync.RWMutex
	onEnabledChange func(id string)
}

func New() *Registry {
	return &Registry{jobs: map[string]*job.SyncJob{}}
}

// OnEnabledChange installs a hook invoked synchronously after SetEnabled or
// Upsert changes a job's enabled flag or schedule, before the call returns.
// The hook runs without the registry lock held and may call back into the
// registry.
func (r *Registry) OnEnabledChange(fn func(id string)) {
	r.hookMu.Lock()
	r.onEnabledChange = fn
	r.hookMu.Unlock()
}

func (r *Registry) notify(id string) {
	r.hookMu.RLock()
	fn := r.onEnabledChange
	r.hookMu.RUnlock()
	if fn != nil {
		fn(id)
	}
}

// Validate checks a job definition.
func Validate(j job.SyncJob) error {
	if strings.TrimSpace(j.ID) == "" {
		return job.ConfigErrorf("id", "job id required")
	}
	if _, err := job.ParseKind(string(j.Source)); err != nil {
		return err
	}
	if _, err := schedule.Parse(j.Schedule); err != nil {
		return err
	}
	if _, err := job.ParsePriority(string(j.Priority)); err != nil {
		return err
	}
	if j.MaxRetries < 0 {
		return job.ConfigErrorf("max_retries", "must be >= 0")
	}
	if j.Timeout < 0 {
		return job.ConfigErrorf("timeout", "must be >= 0")
	}
	return nil
}

// normalize fills defaults on a new definition.
func normalize(j job.SyncJob) job.SyncJob {
	j.ID = strings.TrimSpace(j.ID)
	j.Source, _ = job.ParseKind(string(j.Source))
	j.Priority, _ = job.ParsePriority(string(j.Priority))
	if j.Timeout == 0 {
		j.Timeout = job.DefaultTimeout
	}
	if j.Config == nil {
		j.Config = map[string]any{}
	}
	if j.Status == "" {
		j.Status = job.StatusIdle
	}
	return j
}

// Upsert registers a new job or replaces the definition of an existing one.
// Replacing keeps the runtime state (status, last run, retry count, next run)
// and the registration slot. A changed schedule or enabled flag triggers the
// enabled-change hook.
func (r *Registry) Upsert(j job.SyncJob) error {
	if err := Validate(j); err != nil {
		return err
	}
	j = normalize(j.Clone())

	r.mu.Lock()
	prev, exists := r.jobs[j.ID]
	changed := !exists
	if exists {
		changed = prev.Enabled != j.Enabled || prev.Schedule != j.Schedule
		j.Status = prev.Status
		j.LastRun = prev.LastRun
		j.NextRun = prev.NextRun
		j.RetryCount = prev.RetryCount
		if j.RetryCount > j.MaxRetries {
			j.RetryCount = j.MaxRetries
		}
		*prev = j
	} else {
		stored := j
		r.jobs[j.ID] = &stored
		r.order = append(r.order, j.ID)
	}
	r.mu.Unlock()

	if changed {
		r.notify(j.ID)
	}
	return nil
}

// Get returns a copy of the job.
func (r *Registry) Get(id string) (job.SyncJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return job.SyncJob{}, job.NotFound(id)
	}
	return j.Clone(), nil
}

// List returns copies of all jobs in registration order.
func (r *Registry) List() []job.SyncJob {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]job.SyncJob, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.jobs[id].Clone())
	}
	return out
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// SetEnabled flips the enabled flag. Enabling resets the retry counter so a
// job that gave up becomes schedulable again. The enabled-change hook runs
// before SetEnabled returns.
func (r *Registry) SetEnabled(id string, enabled bool) (job.SyncJob, error) {
	r.mu.Lock()
	j, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return job.SyncJob{}, job.NotFound(id)
	}
	j.Enabled = enabled
	if enabled {
		j.RetryCount = 0
	} else {
		j.NextRun = nil
	}
	r.mu.Unlock()

	r.notify(id)
	return r.Get(id)
}

// UpdateConfig shallow-merges partial into the job's adapter config. A nil
// value removes the key. The retry counter is reset since the next attempt
// runs against a different configuration.
func (r *Registry) UpdateConfig(id string, partial map[string]any) (job.SyncJob, error) {
	return r.Mutate(id, func(j *job.SyncJob) {
		j.Config = job.MergeConfig(j.Config, partial)
		j.RetryCount = 0
	})
}

// Mutate applies fn to the stored job under the write lock and returns a copy
// of the result. fn must not call back into the registry.
func (r *Registry) Mutate(id string, fn func(j *job.SyncJob)) (job.SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return job.SyncJob{}, job.NotFound(id)
	}
	fn(j)
	return j.Clone(), nil
}

// SetNextRun records the next scheduled fire time (zero clears it).
func (r *Registry) SetNextRun(id string, at time.Time) {
	_, _ = r.Mutate(id, func(j *job.SyncJob) {
		if at.IsZero() {
			j.NextRun = nil
			return
		}
		t := at
		j.NextRun = &t
	})
}
