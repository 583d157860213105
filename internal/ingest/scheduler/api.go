package scheduler

import (
	"context"

	"ingestd/internal/ingest/job"
	"ingestd/internal/ingest/schedule"
)

// TriggerJob runs id now, on the caller's goroutine, under the same guard as
// scheduled runs. Unknown ids return job.ErrNotFound.
func (s *Service) TriggerJob(ctx context.Context, id string) (job.SyncResult, error) {
	return s.exec.Run(ctx, id, job.TriggerManual)
}

// ToggleJob enables or disables id. Disabling cancels its timer and any
// pending retry; enabling re-arms it. Both happen before ToggleJob returns.
func (s *Service) ToggleJob(id string, enabled bool) (job.SyncJob, error) {
	return s.reg.SetEnabled(id, enabled)
}

// UpdateJobConfig shallow-merges partial into the adapter config of id.
func (s *Service) UpdateJobConfig(id string, partial map[string]any) (job.SyncJob, error) {
	return s.reg.UpdateConfig(id, partial)
}

// RegisterJob adds or replaces a job definition. A new enabled job, or a
// schedule change, is armed immediately when the scheduler is running.
func (s *Service) RegisterJob(j job.SyncJob) error {
	return s.reg.Upsert(j)
}

func (s *Service) GetJobStatus(id string) (job.SyncJob, error) {
	return s.reg.Get(id)
}

// ListJobs returns every job in registration order.
func (s *Service) ListJobs() []job.SyncJob {
	return s.reg.List()
}

// GetAllJobs is ListJobs.
func (s *Service) GetAllJobs() []job.SyncJob {
	return s.ListJobs()
}

// GetSyncHistory returns up to limit of the newest results, oldest first.
// limit <= 0 means 50.
func (s *Service) GetSyncHistory(limit int) []job.SyncResult {
	return s.exec.History().Recent(limit)
}

// GetJobHistory is GetSyncHistory for one job.
func (s *Service) GetJobHistory(id string, limit int) ([]job.SyncResult, error) {
	if _, err := s.reg.Get(id); err != nil {
		return nil, err
	}
	return s.exec.History().ForJob(id, limit), nil
}

// Snapshot returns a consistent-enough view for operators.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Started:        s.started,
		Timezone:       s.loc.String(),
		PendingRetries: s.retries.list(),
	}
	s.mu.Unlock()

	snap.Running = s.exec.Guard().Running()
	h := s.exec.History()
	snap.HistoryLen = h.Len()
	snap.HistoryTotal = h.Total()
	for _, j := range s.reg.List() {
		info := JobInfo{
			ID:         j.ID,
			Name:       j.Label(),
			Source:     j.Source,
			Schedule:   j.Schedule,
			Enabled:    j.Enabled,
			Priority:   j.Priority,
			Status:     j.Status,
			LastRun:    j.LastRun,
			NextRun:    j.NextRun,
			RetryCount: j.RetryCount,
			MaxRetries: j.MaxRetries,
			Timeout:    j.Timeout,
		}
		if spec, err := schedule.Parse(j.Schedule); err == nil {
			info.Cadence = schedule.Describe(spec)
		}
		snap.Jobs = append(snap.Jobs, info)
	}
	return snap
}
