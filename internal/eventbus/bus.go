// Package eventbus is an in-process fanout used to decouple the sync engine
// from its observers (metrics, logs, CLI watchers).
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Sync lifecycle topics.
const (
	SyncStarted  = "sync.started"
	SyncFinished = "sync.finished"
	SyncFailed   = "sync.failed"
	SyncSkipped  = "sync.skipped"
	RetryQueued  = "sync.retry_queued"
	ConfigReload = "config.reloaded"
)

// Event is a small in-memory signal.
//
//   - Publish never blocks.
//   - Subscribers get buffered channels; a full buffer drops the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// SyncEvent is the Data payload of the sync.* topics.
type SyncEvent struct {
	JobID    string
	Source   string
	Trigger  string
	Attempt  int
	Success  bool
	Duration time.Duration
	Items    [4]int // processed, added, updated, removed
	Error    string
	// RetryIn is set on sync.retry_queued.
	RetryIn time.Duration
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Nop discards every event.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}
func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

type memBus struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Event
	seq    atomic.Uint64
	drops  atomic.Uint64
	closed bool
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.drops.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			// Publish holds the read lock while sending, so closing under the
			// write lock can't race a send.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Dropped reports how many deliveries a bus from New skipped because a
// subscriber buffer was full. Other implementations report 0.
func Dropped(b Bus) uint64 {
	if m, ok := b.(*memBus); ok {
		return m.drops.Load()
	}
	return 0
}
