package engine

import (
	"context"
	"slices"
	"sync"

	"ingestd/internal/ingest/job"
	"ingestd/pkg/logx"
)

const (
	DefaultHistorySize  = 1000
	DefaultHistoryLimit = 50
)

// ResultSink persists results beyond the in-memory window.
type ResultSink interface {
	AppendResult(ctx context.Context, r job.SyncResult) error
}

// History is the append-only attempt log, ordered by StartTime. Only the
// most recent Size entries are kept in memory; a ResultSink sees every one.
type History struct {
	mu    sync.RWMutex
	size  int
	items []job.SyncResult
	total uint64
	sink  ResultSink
	log   logx.Logger
}

func NewHistory(size int, sink ResultSink, log logx.Logger) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size, sink: sink, log: log}
}

// Seed loads previously persisted results without writing them to the sink.
func (h *History) Seed(rs []job.SyncResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range rs {
		h.insertLocked(r.Clone())
	}
}

// Append records r and forwards it to the sink. Sink failures are logged,
// never returned: history stays authoritative in memory.
func (h *History) Append(ctx context.Context, r job.SyncResult) {
	h.mu.Lock()
	h.insertLocked(r.Clone())
	h.total++
	h.mu.Unlock()

	if h.sink == nil {
		return
	}
	if err := h.sink.AppendResult(context.WithoutCancel(ctx), r); err != nil {
		h.log.Warn("history persist failed", logx.Job(r.JobID), logx.Result(r.ID), logx.Err(err))
	}
}

func (h *History) insertLocked(r job.SyncResult) {
	// Attempts usually finish in start order; scan from the tail.
	i := len(h.items)
	for i > 0 && h.items[i-1].StartTime.After(r.StartTime) {
		i--
	}
	h.items = append(h.items, job.SyncResult{})
	copy(h.items[i+1:], h.items[i:])
	h.items[i] = r
	if over := len(h.items) - h.size; over > 0 {
		h.items = append(h.items[:0:0], h.items[over:]...)
	}
}

// Len is the number of retained entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}

// Total counts every Append since construction (seeded entries excluded).
func (h *History) Total() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

// Recent returns up to limit of the newest results in ascending StartTime
// order. limit <= 0 means DefaultHistoryLimit.
func (h *History) Recent(limit int) []job.SyncResult {
	return h.filter(limit, nil)
}

// ForJob is Recent restricted to one job.
func (h *History) ForJob(jobID string, limit int) []job.SyncResult {
	return h.filter(limit, func(r *job.SyncResult) bool { return r.JobID == jobID })
}

func (h *History) filter(limit int, keep func(*job.SyncResult) bool) []job.SyncResult {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]job.SyncResult, 0, min(limit, len(h.items)))
	for i := len(h.items) - 1; i >= 0 && len(out) < limit; i-- {
		if keep != nil && !keep(&h.items[i]) {
			continue
		}
		out = append(out, h.items[i].Clone())
	}
	slices.Reverse(out)
	return out
}
