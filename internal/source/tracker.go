package source

import (
	"encoding/json"
	"hash/fnv"
	"sync"
)

// Tracker remembers the last snapshot seen per scope so adapters can report
// added/updated/removed counts. Snapshots live in memory only: after a
// restart the first sync reports everything as added.
type Tracker struct {
	mu     sync.Mutex
	scopes map[string]map[string]uint64
}

func NewTracker() *Tracker {
	return &Tracker{scopes: map[string]map[string]uint64{}}
}

// Counts is the diff of one snapshot against the previous one.
type Counts struct {
	Added, Updated, Removed int
}

// Diff replaces the snapshot for scope with cur and reports the changes.
func (t *Tracker) Diff(scope string, cur map[string]uint64) Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.scopes[scope]
	var c Counts
	for k, h := range cur {
		old, ok := prev[k]
		switch {
		case !ok:
			c.Added++
		case old != h:
			c.Updated++
		}
	}
	for k := range prev {
		if _, ok := cur[k]; !ok {
			c.Removed++
		}
	}
	t.scopes[scope] = cur
	return c
}

// Forget drops the snapshot for scope.
func (t *Tracker) Forget(scope string) {
	t.mu.Lock()
	delete(t.scopes, scope)
	t.mu.Unlock()
}

func hashValue(v any) uint64 {
	h := fnv.New64a()
	// Map keys are sorted by encoding/json, so equal values hash equally.
	_ = json.NewEncoder(h).Encode(v)
	return h.Sum64()
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
