package app

import (
	"context"
	"slices"
	"strings"

	"ingestd/internal/config"
	"ingestd/internal/eventbus"
	"ingestd/internal/ingest/job"
	"ingestd/internal/ingest/scheduler"
	"ingestd/pkg/logx"
)

// restartOnly lists sections whose runtime objects are built once.
var restartOnly = []string{"storage", "sources"}

// applyConfig reconciles the running daemon with a validated config.
func (a *App) applyConfig(ctx context.Context, next *config.Config) {
	if next == nil {
		return
	}
	a.mu.Lock()
	prev := a.applied
	a.mu.Unlock()

	sections, attrs, changes := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	if a.logs != nil {
		a.logs.Apply(next.LogxConfig())
	}
	for _, s := range sections {
		if slices.Contains(restartOnly, s) {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}
	if prev.Scheduler.HistorySize != next.Scheduler.HistorySize ||
		prev.Scheduler.RetryBase != next.Scheduler.RetryBase ||
		prev.Scheduler.MaxBackoff != next.Scheduler.MaxBackoff {
		a.log.Warn("history_size and retry policy changes apply after restart")
	}

	a.sched.Apply(scheduler.Config{Timezone: next.Scheduler.Timezone})
	if err := a.reconcileJobs(next, changes); err != nil {
		a.log.Warn("job reconcile incomplete", logx.Err(err))
	}

	switch {
	case next.Scheduler.Enabled && !a.sched.Started():
		a.log.Info("scheduler enabled via config")
		a.sched.Start()
	case !next.Scheduler.Enabled && a.sched.Started():
		a.log.Info("scheduler disabled via config")
		a.sched.Stop()
	}

	a.server.Reconfigure(ctx, serverConfig(next))

	a.mu.Lock()
	a.applied = next
	a.mu.Unlock()

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReload, Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// reconcileJobs registers added jobs, replaces changed definitions (runtime
// state is kept) and disables jobs that left the file. Jobs are never
// deleted so their history stays addressable.
func (a *App) reconcileJobs(next *config.Config, changes config.JobChanges) error {
	defs, err := next.JobDefs()
	if err != nil {
		return err
	}
	byID := make(map[string]job.SyncJob, len(defs))
	for _, j := range defs {
		byID[j.ID] = j
	}

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, id := range append(slices.Clone(changes.Added), changes.Changed...) {
		j, ok := byID[id]
		if !ok {
			continue
		}
		keep(a.sched.RegisterJob(j))
	}
	for _, id := range changes.Removed {
		_, err := a.sched.ToggleJob(id, false)
		keep(err)
	}
	if !changes.Empty() {
		a.log.Info("jobs reconciled",
			logx.Strings("added", changes.Added),
			logx.Strings("changed", changes.Changed),
			logx.Strings("disabled", changes.Removed),
		)
	}
	return firstErr
}
