package scheduler

import (
	"container/heap"
	"sort"
	"time"
)

// PendingRetry is a queued retry attempt.
type PendingRetry struct {
	JobID   string
	Attempt int
	Due     time.Time
}

type retryEntry struct {
	PendingRetry
	seq   uint64
	index int
}

// retryQueue is a min-heap on Due (ties broken by insertion order) with at
// most one entry per job.
type retryQueue struct {
	items []*retryEntry
	byJob map[string]*retryEntry
	seq   uint64
}

func newRetryQueue() *retryQueue {
	return &retryQueue{byJob: map[string]*retryEntry{}}
}

func (q *retryQueue) Len() int { return len(q.items) }

func (q *retryQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if !a.Due.Equal(b.Due) {
		return a.Due.Before(b.Due)
	}
	return a.seq < b.seq
}

func (q *retryQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

func (q *retryQueue) Push(x any) {
	e := x.(*retryEntry)
	e.index = len(q.items)
	q.items = append(q.items, e)
}

func (q *retryQueue) Pop() any {
	n := len(q.items)
	e := q.items[n-1]
	q.items[n-1] = nil
	q.items = q.items[:n-1]
	e.index = -1
	return e
}

// put queues p, replacing any entry for the same job.
func (q *retryQueue) put(p PendingRetry) {
	q.seq++
	if e, ok := q.byJob[p.JobID]; ok {
		e.PendingRetry = p
		e.seq = q.seq
		heap.Fix(q, e.index)
		return
	}
	e := &retryEntry{PendingRetry: p, seq: q.seq}
	q.byJob[p.JobID] = e
	heap.Push(q, e)
}

func (q *retryQueue) remove(jobID string) bool {
	e, ok := q.byJob[jobID]
	if !ok {
		return false
	}
	heap.Remove(q, e.index)
	delete(q.byJob, jobID)
	return true
}

// head returns the earliest entry.
func (q *retryQueue) head() (PendingRetry, bool) {
	if len(q.items) == 0 {
		return PendingRetry{}, false
	}
	return q.items[0].PendingRetry, true
}

// popDue removes and returns every entry due at or before now, earliest first.
func (q *retryQueue) popDue(now time.Time) []PendingRetry {
	var out []PendingRetry
	for len(q.items) > 0 && !q.items[0].Due.After(now) {
		e := heap.Pop(q).(*retryEntry)
		delete(q.byJob, e.JobID)
		out = append(out, e.PendingRetry)
	}
	return out
}

// list returns a due-ordered copy.
func (q *retryQueue) list() []PendingRetry {
	es := make([]*retryEntry, len(q.items))
	copy(es, q.items)
	sort.Slice(es, func(i, j int) bool {
		if !es[i].Due.Equal(es[j].Due) {
			return es[i].Due.Before(es[j].Due)
		}
		return es[i].seq < es[j].seq
	})
	out := make([]PendingRetry, len(es))
	for i, e := range es {
		out[i] = e.PendingRetry
	}
	return out
}
