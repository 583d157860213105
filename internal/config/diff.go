package config

import (
	"reflect"
	"sort"
	"strings"

	"ingestd/pkg/logx"
)

// JobChanges lists job ids by kind of change between two configs.
type JobChanges struct {
	Added   []string
	Changed []string
	Removed []string
}

func (c JobChanges) Empty() bool {
	return len(c.Added) == 0 && len(c.Changed) == 0 && len(c.Removed) == 0
}

// SummarizeConfigChange returns the changed sections, log fields that are
// safe to emit (tokens are never included) and the per-job changes.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, JobChanges) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
			logx.String("scheduler.retry_base", newCfg.Scheduler.RetryBase),
			logx.String("scheduler.max_backoff", newCfg.Scheduler.MaxBackoff),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		driver := ""
		if newCfg.Storage != nil {
			driver = newCfg.Storage.Driver
		}
		attrs = append(attrs, logx.String("storage.driver", driver))
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(newCfg.Metrics.Addr)),
			logx.Bool("metrics.pprof", newCfg.Metrics.Pprof),
		)
	}

	if !reflect.DeepEqual(oldCfg.Sources, newCfg.Sources) {
		changed = append(changed, "sources")
		names := make([]string, 0, len(newCfg.Sources))
		for name := range newCfg.Sources {
			names = append(names, name)
		}
		sort.Strings(names)
		attrs = append(attrs, logx.Strings("sources", names))
	}

	jobs := diffJobs(oldCfg.Jobs, newCfg.Jobs)
	if !jobs.Empty() {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Int("jobs.added", len(jobs.Added)),
			logx.Int("jobs.changed", len(jobs.Changed)),
			logx.Int("jobs.removed", len(jobs.Removed)),
		)
	}

	return changed, attrs, jobs
}

func diffJobs(oldJobs, newJobs []JobConfig) JobChanges {
	before := make(map[string]JobConfig, len(oldJobs))
	for _, jc := range oldJobs {
		before[strings.TrimSpace(jc.ID)] = jc
	}
	after := make(map[string]bool, len(newJobs))

	var out JobChanges
	for _, jc := range newJobs {
		id := strings.TrimSpace(jc.ID)
		after[id] = true
		prev, ok := before[id]
		switch {
		case !ok:
			out.Added = append(out.Added, id)
		case !reflect.DeepEqual(prev, jc):
			out.Changed = append(out.Changed, id)
		}
	}
	for id := range before {
		if !after[id] {
			out.Removed = append(out.Removed, id)
		}
	}
	sort.Strings(out.Added)
	sort.Strings(out.Changed)
	sort.Strings(out.Removed)
	return out
}
