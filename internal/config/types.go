package config

import "encoding/json"

// Config is the on-disk configuration. JSON, YAML and TOML files decode into
// the same shape; unknown keys are rejected.
type Config struct {
	Logging   LoggingConfig           `json:"logging"`
	Scheduler SchedulerConfig         `json:"scheduler"`
	Storage   *StorageConfig          `json:"storage,omitempty"`
	Metrics   MetricsConfig           `json:"metrics,omitempty"`
	Sources   map[string]SourceConfig `json:"sources,omitempty"`
	Jobs      []JobConfig             `json:"jobs"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	Format  string      `json:"format,omitempty"` // console|json
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls timers and the retry policy.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - history_size: 1000
//   - retry_base: "1s" (retry k waits retry_base * 2^k)
//   - max_backoff: "15m"; a negative value such as "-1s" disables the cap
//   - default_timeout: "5m"
type SchedulerConfig struct {
	// Enabled arms recurring timers. Manual triggers work either way.
	Enabled        bool   `json:"enabled"`
	Timezone       string `json:"timezone,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryBase      string `json:"retry_base,omitempty"`
	MaxBackoff     string `json:"max_backoff,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
}

// StorageConfig controls durable history.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/ingestd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	Retain      int    `json:"retain,omitempty"`
}

// MetricsConfig controls the optional Prometheus listener.
//
// Prefer binding to localhost; the listener has no authentication.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9464"
	Path    string `json:"path,omitempty"` // default: "/metrics"
	// Pprof also mounts net/http/pprof under /debug/pprof/.
	Pprof bool `json:"pprof,omitempty"`
}

// SourceConfig holds connection settings shared by all jobs of one source kind.
type SourceConfig struct {
	BaseURL        string  `json:"base_url,omitempty"`
	Token          string  `json:"token,omitempty"` // never logged
	RatePerSec     float64 `json:"rate_per_sec,omitempty"`
	Burst          int     `json:"burst,omitempty"`
	RequestTimeout string  `json:"request_timeout,omitempty"`
	MaxPages       int     `json:"max_pages,omitempty"`
	Root           string  `json:"root,omitempty"` // local only
}

// JobConfig defines one sync job.
//
// Enabled and MaxRetries are pointers so "omitted" (defaults: true, 3) differs
// from an explicit false/0.
type JobConfig struct {
	ID         string         `json:"id"`
	Name       string         `json:"name,omitempty"`
	Source     string         `json:"source"`
	Schedule   string         `json:"schedule"`
	Enabled    *bool          `json:"enabled,omitempty"`
	Priority   string         `json:"priority,omitempty"`
	MaxRetries *int           `json:"max_retries,omitempty"`
	Timeout    string         `json:"timeout,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
}

const DefaultMaxRetries = 3

func (c *Config) clone() *Config {
	if c == nil {
		return nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return c
	}
	var out Config
	if err := json.Unmarshal(b, &out); err != nil {
		return c
	}
	return &out
}
