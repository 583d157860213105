package storage

import (
	"encoding/json"
	"errors"
	"time"

	"ingestd/internal/ingest/job"
)

var ErrDisabled = errors.New("storage disabled")

const DefaultRetain = 10000

// Config configures storage. An empty or "none" Driver disables it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Retain bounds stored results; 0 means DefaultRetain, negative keeps all.
	Retain int
}

func (c Config) retain() int {
	if c.Retain == 0 {
		return DefaultRetain
	}
	return c.Retain
}

// record is the schema-stable on-disk form of job.SyncResult.
type record struct {
	ID        string         `json:"id"`
	JobID     string         `json:"job_id"`
	Source    string         `json:"source"`
	Trigger   string         `json:"trigger"`
	Attempt   int            `json:"attempt"`
	Success   bool           `json:"success"`
	Start     time.Time      `json:"start"`
	End       time.Time      `json:"end"`
	TookMS    int64          `json:"took_ms"`
	Processed int            `json:"processed,omitempty"`
	Added     int            `json:"added,omitempty"`
	Updated   int            `json:"updated,omitempty"`
	Removed   int            `json:"removed,omitempty"`
	Errors    []string       `json:"errors,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

func toRecord(r job.SyncResult) record {
	return record{
		ID:        r.ID,
		JobID:     r.JobID,
		Source:    string(r.Source),
		Trigger:   string(r.Trigger),
		Attempt:   r.Attempt,
		Success:   r.Success,
		Start:     r.StartTime,
		End:       r.EndTime,
		TookMS:    r.Duration.Milliseconds(),
		Processed: r.ItemsProcessed,
		Added:     r.ItemsAdded,
		Updated:   r.ItemsUpdated,
		Removed:   r.ItemsRemoved,
		Errors:    r.Errors,
		Meta:      r.Metadata,
	}
}

func (rec record) result() job.SyncResult {
	return job.SyncResult{
		ID:             rec.ID,
		JobID:          rec.JobID,
		Source:         job.Kind(rec.Source),
		Trigger:        job.Trigger(rec.Trigger),
		Attempt:        rec.Attempt,
		Success:        rec.Success,
		StartTime:      rec.Start,
		EndTime:        rec.End,
		Duration:       rec.End.Sub(rec.Start),
		ItemsProcessed: rec.Processed,
		ItemsAdded:     rec.Added,
		ItemsUpdated:   rec.Updated,
		ItemsRemoved:   rec.Removed,
		Errors:         rec.Errors,
		Metadata:       rec.Meta,
	}
}

func marshalText(v any) (any, error) {
	switch x := v.(type) {
	case []string:
		if len(x) == 0 {
			return nil, nil
		}
	case map[string]any:
		if len(x) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
