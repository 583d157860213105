// Package source defines the adapter contract for external content systems
// and ships one adapter per supported kind.
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"ingestd/internal/ingest/job"
)

// Result is what an adapter reports for one successful sync.
type Result struct {
	ItemsProcessed int
	ItemsAdded     int
	ItemsUpdated   int
	ItemsRemoved   int
	Metadata       map[string]any
}

// Adapter syncs one external system. Implementations must return promptly
// once ctx is done; the executor discards late results either way.
type Adapter interface {
	Kind() job.Kind
	Sync(ctx context.Context, cfg map[string]any) (Result, error)
}

// Error is an adapter-reported failure. It matches job.ErrSource under errors.Is.
type Error struct {
	Source  job.Kind
	Message string
	// RetryAfter is an optional downstream hint (e.g. HTTP 429 Retry-After).
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: sync failed", e.Source)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == job.ErrSource }

// Errorf builds a source error for kind.
func Errorf(kind job.Kind, format string, args ...any) *Error {
	return &Error{Source: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap converts err into a source error, keeping an existing one untouched.
func Wrap(kind job.Kind, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Source: kind, Message: fmt.Sprintf("%s: %v", kind, err), Err: err}
}

// RetryAfterHint extracts a retry hint from err, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var se *Error
	if errors.As(err, &se) && se.RetryAfter > 0 {
		return se.RetryAfter, true
	}
	return 0, false
}

// Func adapts a plain function to Adapter.
type Func struct {
	K  job.Kind
	Fn func(ctx context.Context, cfg map[string]any) (Result, error)
}

func (f Func) Kind() job.Kind { return f.K }

func (f Func) Sync(ctx context.Context, cfg map[string]any) (Result, error) {
	return f.Fn(ctx, cfg)
}

// Set dispatches by job.Kind.
type Set struct {
	mu sync.RWMutex
	m  map[job.Kind]Adapter
}

func NewSet(adapters ...Adapter) *Set {
	s := &Set{m: map[job.Kind]Adapter{}}
	for _, a := range adapters {
		s.Register(a)
	}
	return s
}

// Register adds or replaces the adapter for its kind.
func (s *Set) Register(a Adapter) {
	if a == nil {
		return
	}
	s.mu.Lock()
	s.m[a.Kind()] = a
	s.mu.Unlock()
}

func (s *Set) Get(kind job.Kind) (Adapter, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.m[kind]
	return a, ok
}

// Kinds lists registered kinds, sorted.
func (s *Set) Kinds() []job.Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]job.Kind, 0, len(s.m))
	for k := range s.m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
