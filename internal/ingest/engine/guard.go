package engine

import (
	"sort"
	"sync"
)

// Guard tracks which job ids currently have an attempt in flight.
type Guard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewGuard() *Guard {
	return &Guard{held: map[string]struct{}{}}
}

// TryAcquire marks id as running. It reports false if id is already held.
func (g *Guard) TryAcquire(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[id]; ok {
		return false
	}
	g.held[id] = struct{}{}
	return true
}

// Release frees id. Releasing an id that is not held is a no-op.
func (g *Guard) Release(id string) {
	g.mu.Lock()
	delete(g.held, id)
	g.mu.Unlock()
}

func (g *Guard) IsHeld(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.held[id]
	return ok
}

// Running returns the held ids, sorted.
func (g *Guard) Running() []string {
	g.mu.Lock()
	out := make([]string, 0, len(g.held))
	for id := range g.held {
		out = append(out, id)
	}
	g.mu.Unlock()
	sort.Strings(out)
	return out
}
