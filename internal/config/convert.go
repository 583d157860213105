package config

import (
	"fmt"
	"strings"
	"time"

	"ingestd/internal/ingest/engine"
	"ingestd/internal/ingest/job"
	"ingestd/internal/ingest/registry"
	"ingestd/internal/source"
	"ingestd/internal/storage"
	"ingestd/pkg/logx"
)

// LogxConfig maps the logging section onto logx.
func (c *Config) LogxConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		Format:  c.Logging.Format,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
	}
}

// RetryController builds the retry policy from the scheduler section.
func (c *Config) RetryController() (engine.RetryController, error) {
	base, err := ParseDurationOrDefault("scheduler.retry_base", c.Scheduler.RetryBase, engine.DefaultRetryBase)
	if err != nil {
		return engine.RetryController{}, err
	}
	maxB, err := parseSignedDuration("scheduler.max_backoff", c.Scheduler.MaxBackoff)
	if err != nil {
		return engine.RetryController{}, err
	}
	return engine.RetryController{Base: base, MaxBackoff: maxB}, nil
}

func (c *Config) DefaultTimeout() (time.Duration, error) {
	return ParseDurationOrDefault("scheduler.default_timeout", c.Scheduler.DefaultTimeout, job.DefaultTimeout)
}

// StorageConfig maps the storage section; a missing section disables storage.
func (c *Config) StorageConfig() (storage.Config, error) {
	if c.Storage == nil {
		return storage.Config{}, nil
	}
	busy, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      c.Storage.Driver,
		Path:        c.Storage.Path,
		BusyTimeout: busy,
		Retain:      c.Storage.Retain,
	}, nil
}

// SourceSettings maps sources.<kind> onto adapter settings.
func (c *Config) SourceSettings() (map[job.Kind]source.Settings, error) {
	out := make(map[job.Kind]source.Settings, len(c.Sources))
	for name, sc := range c.Sources {
		kind, err := job.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("sources.%s: %w", name, err)
		}
		rt, err := ParseDurationField("sources."+name+".request_timeout", sc.RequestTimeout)
		if err != nil {
			return nil, err
		}
		if sc.RatePerSec < 0 || sc.Burst < 0 || sc.MaxPages < 0 {
			return nil, fmt.Errorf("sources.%s: rate_per_sec, burst and max_pages must be >= 0", name)
		}
		out[kind] = source.Settings{
			BaseURL:        sc.BaseURL,
			Token:          sc.Token,
			RatePerSec:     sc.RatePerSec,
			Burst:          sc.Burst,
			RequestTimeout: rt,
			MaxPages:       sc.MaxPages,
			Root:           sc.Root,
		}
	}
	return out, nil
}

// ToJob converts one job definition. defTimeout applies when timeout is omitted.
func (jc JobConfig) ToJob(defTimeout time.Duration) (job.SyncJob, error) {
	id := strings.TrimSpace(jc.ID)
	timeout, err := ParseDurationOrDefault("jobs."+id+".timeout", jc.Timeout, defTimeout)
	if err != nil {
		return job.SyncJob{}, err
	}
	j := job.SyncJob{
		ID:         id,
		Name:       strings.TrimSpace(jc.Name),
		Source:     job.Kind(strings.ToLower(strings.TrimSpace(jc.Source))),
		Config:     job.CloneMap(jc.Config),
		Schedule:   strings.TrimSpace(jc.Schedule),
		Enabled:    jc.Enabled == nil || *jc.Enabled,
		Priority:   job.Priority(jc.Priority),
		MaxRetries: DefaultMaxRetries,
		Timeout:    timeout,
	}
	if jc.MaxRetries != nil {
		j.MaxRetries = *jc.MaxRetries
	}
	if err := registry.Validate(j); err != nil {
		return job.SyncJob{}, fmt.Errorf("jobs.%s: %w", id, err)
	}
	return j, nil
}

// JobDefs converts every job definition, rejecting duplicate ids.
func (c *Config) JobDefs() ([]job.SyncJob, error) {
	def, err := c.DefaultTimeout()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(c.Jobs))
	out := make([]job.SyncJob, 0, len(c.Jobs))
	for i, jc := range c.Jobs {
		j, err := jc.ToJob(def)
		if err != nil {
			return nil, fmt.Errorf("jobs[%d]: %w", i, err)
		}
		if seen[j.ID] {
			return nil, fmt.Errorf("jobs[%d]: %w", i, job.ConfigErrorf("id", "duplicate job id %q", j.ID))
		}
		seen[j.ID] = true
		out = append(out, j)
	}
	return out, nil
}

// Validate checks every section without side effects.
func Validate(c *Config) error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	if c.Scheduler.HistorySize < 0 {
		return fmt.Errorf("scheduler.history_size must be >= 0")
	}
	if _, err := c.RetryController(); err != nil {
		return err
	}
	sc, err := c.StorageConfig()
	if err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(sc.Driver)) {
	case "", "none", "file", "jsonl", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", sc.Driver)
	}
	if f := strings.ToLower(strings.TrimSpace(c.Logging.Format)); f != "" && f != "console" && f != "json" {
		return fmt.Errorf("logging.format: want console or json, got %q", c.Logging.Format)
	}
	if _, err := c.SourceSettings(); err != nil {
		return err
	}
	_, err = c.JobDefs()
	return err
}
