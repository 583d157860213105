package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ingestd/internal/ingest/job"
)

const jsonDoc = `{
  "logging": {"level": "debug", "console": true},
  "scheduler": {"enabled": true, "timezone": "UTC", "retry_base": "2s"},
  "storage": {"driver": "sqlite", "path": "./data/ingestd.db"},
  "sources": {"github": {"token": "secret", "rate_per_sec": 2}},
  "jobs": [
    {"id": "gh", "source": "github", "schedule": "15m", "config": {"owner": "acme", "repo": "api"}},
    {"id": "files", "source": "local", "schedule": "0 3 * * *", "enabled": false, "max_retries": 0, "timeout": "30s"}
  ]
}`

const yamlDoc = `
logging:
  level: debug
  console: true
scheduler:
  enabled: true
  timezone: UTC
  retry_base: 2s
storage:
  driver: sqlite
  path: ./data/ingestd.db
sources:
  github:
    token: secret
    rate_per_sec: 2
jobs:
  - id: gh
    source: github
    schedule: 15m
    config:
      owner: acme
      repo: api
  - id: files
    source: local
    schedule: "0 3 * * *"
    enabled: false
    max_retries: 0
    timeout: 30s
`

const tomlDoc = `
[logging]
level = "debug"
console = true

[scheduler]
enabled = true
timezone = "UTC"
retry_base = "2s"

[storage]
driver = "sqlite"
path = "./data/ingestd.db"

[sources.github]
token = "secret"
rate_per_sec = 2

[[jobs]]
id = "gh"
source = "github"
schedule = "15m"
[jobs.config]
owner = "acme"
repo = "api"

[[jobs]]
id = "files"
source = "local"
schedule = "0 3 * * *"
enabled = false
max_retries = 0
timeout = "30s"
`

func TestDecodeFormats(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		file string
		doc  string
	}{
		{"json", "ingestd.json", jsonDoc},
		{"yaml", "ingestd.yaml", yamlDoc},
		{"yml", "ingestd.yml", yamlDoc},
		{"toml", "ingestd.toml", tomlDoc},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Decode(tc.file, []byte(tc.doc))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if err := Validate(cfg); err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if cfg.Logging.Level != "debug" || !cfg.Scheduler.Enabled || cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
				t.Fatalf("sections not decoded: %+v", cfg)
			}
			if got := cfg.Sources["github"].RatePerSec; got != 2 {
				t.Fatalf("rate_per_sec = %v", got)
			}

			jobs, err := cfg.JobDefs()
			if err != nil {
				t.Fatalf("JobDefs: %v", err)
			}
			if len(jobs) != 2 {
				t.Fatalf("jobs = %d", len(jobs))
			}
			gh, files := jobs[0], jobs[1]
			if gh.ID != "gh" || gh.Source != job.KindGitHub || !gh.Enabled || gh.MaxRetries != DefaultMaxRetries || gh.Timeout != job.DefaultTimeout {
				t.Fatalf("gh = %+v", gh)
			}
			if gh.Config["owner"] != "acme" {
				t.Fatalf("gh config = %v", gh.Config)
			}
			if files.Enabled || files.MaxRetries != 0 || files.Timeout != 30*time.Second {
				t.Fatalf("files = %+v", files)
			}
		})
	}
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		file string
		doc  string
		want string
	}{
		{"unknown json field", "c.json", `{"jobs": [], "telegram": {}}`, "unknown field"},
		{"unknown yaml field", "c.yaml", "jobs: []\nbogus: 1\n", "unknown field"},
		{"unknown job field", "c.json", `{"jobs": [{"id": "a", "cadence": "1m"}]}`, "unknown field"},
		{"trailing data", "c.json", `{"jobs": []} {"jobs": []}`, "trailing data"},
		{"trailing garbage", "c.json", `{"jobs": []} x`, "trailing data"},
		{"bad yaml", "c.yaml", "jobs: [\n", "yaml"},
		{"bad toml", "c.toml", "jobs = [", "toml"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tc.file, []byte(tc.doc))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		return &Config{Jobs: []JobConfig{{ID: "a", Source: "local", Schedule: "1m"}}}
	}
	cases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Base" }, "scheduler.timezone"},
		{"negative history", func(c *Config) { c.Scheduler.HistorySize = -1 }, "history_size"},
		{"bad retry base", func(c *Config) { c.Scheduler.RetryBase = "soon" }, "retry_base"},
		{"bad driver", func(c *Config) { c.Storage = &StorageConfig{Driver: "postgres"} }, "storage.driver"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"unknown source section", func(c *Config) { c.Sources = map[string]SourceConfig{"dropbox": {}} }, "sources.dropbox"},
		{"negative rate", func(c *Config) { c.Sources = map[string]SourceConfig{"github": {RatePerSec: -1}} }, "rate_per_sec"},
		{"unknown job source", func(c *Config) { c.Jobs[0].Source = "dropbox" }, "unknown source"},
		{"bad schedule", func(c *Config) { c.Jobs[0].Schedule = "whenever" }, "jobs[0]"},
		{"missing id", func(c *Config) { c.Jobs[0].ID = " " }, "job id required"},
		{"bad priority", func(c *Config) { c.Jobs[0].Priority = "urgent" }, "jobs[0]"},
		{"negative retries", func(c *Config) { n := -1; c.Jobs[0].MaxRetries = &n }, "max_retries"},
		{"bad timeout", func(c *Config) { c.Jobs[0].Timeout = "-5s" }, "timeout"},
		{"duplicate id", func(c *Config) { c.Jobs = append(c.Jobs, c.Jobs[0]) }, "duplicate job id"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := valid()
			tc.mutate(c)
			err := Validate(c)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want containing %q", err, tc.want)
			}
		})
	}

	if err := Validate(valid()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if err := Validate(nil); err == nil {
		t.Fatal("nil config accepted")
	}
}

func TestJobConfigErrorsAreConfigErrors(t *testing.T) {
	t.Parallel()

	_, err := JobConfig{ID: "a", Source: "nope", Schedule: "1m"}.ToJob(time.Minute)
	if !errors.Is(err, job.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}

func TestRetryControllerFromConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		sched   SchedulerConfig
		k       int
		want    time.Duration
		wantErr bool
	}{
		{name: "defaults", k: 1, want: 2 * time.Second},
		{name: "default cap", k: 20, want: 15 * time.Minute},
		{name: "custom base", sched: SchedulerConfig{RetryBase: "500ms"}, k: 3, want: 4 * time.Second},
		{name: "custom cap", sched: SchedulerConfig{MaxBackoff: "5s"}, k: 3, want: 5 * time.Second},
		{name: "uncapped", sched: SchedulerConfig{MaxBackoff: "-1s"}, k: 11, want: 2048 * time.Second},
		{name: "bad cap", sched: SchedulerConfig{MaxBackoff: "x"}, wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := &Config{Scheduler: tc.sched}
			rc, err := c.RetryController()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("RetryController: %v", err)
			}
			if got := rc.Backoff(tc.k); got != tc.want {
				t.Fatalf("Backoff(%d) = %v, want %v", tc.k, got, tc.want)
			}
		})
	}
}

func TestStorageAndSourceSettings(t *testing.T) {
	t.Parallel()

	c := &Config{
		Storage: &StorageConfig{Driver: "file", Path: "/tmp/x", BusyTimeout: "2s", Retain: 7},
		Sources: map[string]SourceConfig{"GitHub": {Token: "t", RequestTimeout: "3s", MaxPages: 4}},
	}
	sc, err := c.StorageConfig()
	if err != nil {
		t.Fatalf("StorageConfig: %v", err)
	}
	if sc.Driver != "file" || sc.BusyTimeout != 2*time.Second || sc.Retain != 7 {
		t.Fatalf("storage = %+v", sc)
	}
	settings, err := c.SourceSettings()
	if err != nil {
		t.Fatalf("SourceSettings: %v", err)
	}
	gh, ok := settings[job.KindGitHub]
	if !ok || gh.Token != "t" || gh.RequestTimeout != 3*time.Second || gh.MaxPages != 4 {
		t.Fatalf("github settings = %+v", settings)
	}

	empty, err := (&Config{}).StorageConfig()
	if err != nil || empty.Driver != "" {
		t.Fatalf("missing storage section = %+v, %v", empty, err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg, err := Decode("a.json", []byte(jsonDoc))
	if err != nil {
		t.Fatal(err)
	}
	newCfg := oldCfg.clone()
	newCfg.Logging.Level = "info"
	newCfg.Sources["github"] = SourceConfig{Token: "rotated"}
	newCfg.Jobs[0].Schedule = "30m"
	newCfg.Jobs = append(newCfg.Jobs[:1], JobConfig{ID: "yt", Source: "youtube", Schedule: "1h"})

	sections, attrs, jobs := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(sections, ",") != "logging,sources,jobs" {
		t.Fatalf("sections = %v", sections)
	}
	if len(attrs) == 0 {
		t.Fatal("expected log fields")
	}
	if strings.Join(jobs.Added, ",") != "yt" || strings.Join(jobs.Changed, ",") != "gh" || strings.Join(jobs.Removed, ",") != "files" {
		t.Fatalf("jobs = %+v", jobs)
	}

	sections, _, jobs = SummarizeConfigChange(oldCfg, oldCfg.clone())
	if len(sections) != 0 || !jobs.Empty() {
		t.Fatalf("identical configs reported changes: %v %+v", sections, jobs)
	}
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestManagerLoadAndReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ingestd.json")
	writeFile(t, path, jsonDoc)

	m := NewConfigManager(path)
	if m.Get() != nil {
		t.Fatal("Get before Load should be nil")
	}
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Jobs) != 2 {
		t.Fatalf("jobs = %d", len(cfg.Jobs))
	}

	got := m.Get()
	got.Jobs = nil
	if len(m.Get().Jobs) != 2 {
		t.Fatal("Get must return a copy")
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	published, err := m.Reload(context.Background())
	if err != nil || published {
		t.Fatalf("unchanged reload: published=%v err=%v", published, err)
	}

	writeFile(t, path, `{"jobs": [{"id": "a", "source": "nope", "schedule": "1m"}]}`)
	if _, err := m.Reload(context.Background()); err == nil {
		t.Fatal("invalid config accepted")
	}
	if len(m.Get().Jobs) != 2 {
		t.Fatal("rejected config must not be committed")
	}

	writeFile(t, path, `{"jobs": [{"id": "a", "source": "local", "schedule": "1m"}]}`)
	published, err = m.Reload(context.Background())
	if err != nil || !published {
		t.Fatalf("changed reload: published=%v err=%v", published, err)
	}
	select {
	case c := <-ch:
		if len(c.Jobs) != 1 || c.Jobs[0].ID != "a" {
			t.Fatalf("published = %+v", c.Jobs)
		}
	default:
		t.Fatal("no config published")
	}
}

func TestManagerPublishKeepsNewest(t *testing.T) {
	t.Parallel()

	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	m.publish(&Config{Jobs: []JobConfig{{ID: "first"}}})
	m.publish(&Config{Jobs: []JobConfig{{ID: "second"}}})

	c := <-ch
	if c.Jobs[0].ID != "second" {
		t.Fatalf("got %q, want newest", c.Jobs[0].ID)
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after Unsubscribe")
	}
}

func TestManagerWatch(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ingestd.yaml")
	writeFile(t, path, "jobs:\n  - id: a\n    source: local\n    schedule: 1m\n")

	m := NewConfigManager(path)
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Watch: %v", err)
		}
	}()

	// The watcher may not be registered yet; keep rewriting until it reacts.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case c := <-ch:
			if len(c.Jobs) != 2 {
				t.Fatalf("published jobs = %d", len(c.Jobs))
			}
			return
		case <-tick.C:
			writeFile(t, path, "jobs:\n  - id: a\n    source: local\n    schedule: 1m\n  - id: b\n    source: local\n    schedule: 5m\n")
		case <-deadline:
			t.Fatal("watch did not publish the edited config")
		}
	}
}
