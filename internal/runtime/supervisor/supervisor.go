// Package supervisor runs the daemon's long-lived loops under one context.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"ingestd/pkg/logx"
)

// Supervisor tracks named goroutines sharing a cancellable context.
// Panics are recovered and reported as errors; the first error is kept.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	started atomic.Uint64
	panics  atomic.Uint64

	errOnce  sync.Once
	firstErr atomic.Value // error

	wg       sync.WaitGroup
	doneOnce sync.Once
	doneCh   chan struct{}

	mu     sync.Mutex
	active map[string]int
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context on the first task error.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		log:    logx.Nop(),
		doneCh: make(chan struct{}),
		active: map[string]int{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first error reported by any task.
func (s *Supervisor) Err() error {
	if err, ok := s.firstErr.Load().(error); ok {
		return err
	}
	return nil
}

// Counters is a best-effort view for status output.
type Counters struct {
	Started uint64   `json:"started"`
	Panics  uint64   `json:"panics"`
	Active  []string `json:"active"`
}

func (s *Supervisor) Counters() Counters {
	s.mu.Lock()
	names := make([]string, 0, len(s.active))
	for name, n := range s.active {
		if n > 0 {
			names = append(names, name)
		}
	}
	s.mu.Unlock()
	sort.Strings(names)
	return Counters{Started: s.started.Load(), Panics: s.panics.Load(), Active: names}
}

func (s *Supervisor) track(name string, delta int) {
	s.mu.Lock()
	s.active[name] += delta
	if s.active[name] <= 0 {
		delete(s.active, name)
	}
	s.mu.Unlock()
}

// call runs fn, converting a panic into an error.
func (s *Supervisor) call(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			s.log.Error("goroutine panicked",
				logx.String("name", name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(s.ctx)
}

func (s *Supervisor) fail(name string, err error) {
	err = fmt.Errorf("%s: %w", name, err)
	s.errOnce.Do(func() { s.firstErr.Store(err) })
	if s.cancelOnErr {
		s.cancel()
	}
}

// Go runs fn once. context.Canceled is a clean exit.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.started.Add(1)
	s.track(name, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.track(name, -1)

		s.log.Debug("goroutine started", logx.String("name", name))
		err := s.call(name, fn)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.fail(name, err)
		}
		s.log.Debug("goroutine stopped", logx.String("name", name))
	}()
}

// RestartPolicy controls GoRestart.
type RestartPolicy struct {
	MinBackoff time.Duration // default 250ms
	MaxBackoff time.Duration // default 30s
	// MaxRestarts <= 0 restarts forever.
	MaxRestarts int
}

func (p RestartPolicy) withDefaults() RestartPolicy {
	if p.MinBackoff <= 0 {
		p.MinBackoff = 250 * time.Millisecond
	}
	if p.MaxBackoff < p.MinBackoff {
		p.MaxBackoff = max(30*time.Second, p.MinBackoff)
	}
	return p
}

// GoRestart runs fn and restarts it after errors or panics with exponential
// backoff until the context is cancelled. A nil return ends the task.
// Errors only reach Err once MaxRestarts is exhausted.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, p RestartPolicy) {
	if fn == nil {
		return
	}
	p = p.withDefaults()
	s.Go(name, func(ctx context.Context) error {
		backoff := p.MinBackoff
		for restarts := 0; ; restarts++ {
			began := time.Now()
			err := s.call(name, fn)
			if ctx.Err() != nil || err == nil || errors.Is(err, context.Canceled) {
				return nil
			}
			if p.MaxRestarts > 0 && restarts >= p.MaxRestarts {
				s.log.Error("goroutine gave up", logx.String("name", name), logx.Int("restarts", restarts), logx.Err(err))
				return err
			}
			// A long healthy run resets the backoff.
			if time.Since(began) >= 30*time.Second {
				backoff = p.MinBackoff
			}
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", backoff), logx.Err(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, p.MaxBackoff)
		}
	})
}

// Stop cancels the context and waits for every task.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every task returned or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return s.Err()
	}
}
