// Package job holds the sync job data model shared by the registry, the
// executor and the scheduler.
package job

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// Kind names the external system a job ingests from.
type Kind string

const (
	KindMailchimp Kind = "mailchimp"
	KindAirtable  Kind = "airtable"
	KindGitHub    Kind = "github"
	KindYouTube   Kind = "youtube"
	KindLocal     Kind = "local"
)

// Kinds lists every supported source kind.
func Kinds() []Kind {
	return []Kind{KindMailchimp, KindAirtable, KindGitHub, KindYouTube, KindLocal}
}

// ParseKind validates a source name against the closed set of kinds.
func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", ConfigErrorf("source", "unknown source %q", raw)
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ParsePriority accepts high|medium|low; empty means medium.
func ParsePriority(raw string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return PriorityMedium, nil
	case PriorityHigh, PriorityMedium, PriorityLow:
		return p, nil
	default:
		return "", ConfigErrorf("priority", "unknown priority %q", raw)
	}
}

type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Trigger records why an attempt started.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
	TriggerRetry    Trigger = "retry"
)

// DefaultTimeout applies when a job does not set one.
const DefaultTimeout = 5 * time.Minute

// SyncJob is a named, schedulable unit of ingestion work.
type SyncJob struct {
	ID       string
	Name     string
	Source   Kind
	Config   map[string]any
	Schedule string
	Enabled  bool
	Priority Priority

	Status     Status
	LastRun    *time.Time
	NextRun    *time.Time
	RetryCount int
	MaxRetries int
	Timeout    time.Duration
}

// Clone returns a deep copy that shares no mutable state with j.
func (j SyncJob) Clone() SyncJob {
	cp := j
	cp.Config = CloneMap(j.Config)
	if j.LastRun != nil {
		t := *j.LastRun
		cp.LastRun = &t
	}
	if j.NextRun != nil {
		t := *j.NextRun
		cp.NextRun = &t
	}
	return cp
}

// Label is the display name, falling back to the id.
func (j SyncJob) Label() string {
	if strings.TrimSpace(j.Name) != "" {
		return j.Name
	}
	return j.ID
}

func (j SyncJob) String() string {
	return fmt.Sprintf("%s(%s,%s)", j.ID, j.Source, j.Status)
}

// CloneMap deep-copies nested maps and slices of an opaque config map.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return CloneMap(x)
	case []any:
		cp := make([]any, len(x))
		for i := range x {
			cp[i] = cloneValue(x[i])
		}
		return cp
	case []string:
		return append([]string(nil), x...)
	default:
		return v
	}
}

// MergeConfig applies partial onto base. A nil value in partial deletes the key.
func MergeConfig(base, partial map[string]any) map[string]any {
	out := CloneMap(base)
	if out == nil {
		out = map[string]any{}
	}
	for k, v := range partial {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

// EqualConfig reports whether two config maps hold the same top-level keys
// and comparable values.
func EqualConfig(a, b map[string]any) bool {
	return maps.EqualFunc(a, b, func(x, y any) bool {
		return fmt.Sprint(x) == fmt.Sprint(y)
	})
}
