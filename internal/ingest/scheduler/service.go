package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"ingestd/internal/clock"
	"ingestd/internal/eventbus"
	"ingestd/internal/ingest/engine"
	"ingestd/internal/ingest/job"
	"ingestd/internal/ingest/registry"
	"ingestd/internal/ingest/schedule"
	"ingestd/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	cfg  Config
	loc  *time.Location
	clk  clock.Clock
	reg  *registry.Registry
	exec *engine.Executor
	bus  eventbus.Bus
	log  logx.Logger

	started bool
	seq     uint64
	timers  map[string]*jobTimer

	retries    *retryQueue
	retryTimer clock.Timer
	retryDue   time.Time
	retryVer   uint64

	// runCtx is the parent of scheduler-started attempts. Stop does not
	// cancel it: in-flight attempts finish and record their results.
	runCtx   context.Context
	inflight sync.WaitGroup
}

// New wires a scheduler to exec. It installs itself as the executor's retry
// queue and as the registry's enabled-change hook.
func New(cfg Config, exec *engine.Executor, clk clock.Clock, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.Real()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{
		cfg:     cfg,
		clk:     clk,
		reg:     exec.Registry(),
		exec:    exec,
		bus:     bus,
		log:     log.With(logx.String("comp", "scheduler")),
		timers:  map[string]*jobTimer{},
		retries: newRetryQueue(),
		runCtx:  context.Background(),
	}
	s.loc = s.loadLocation(cfg.Timezone)
	exec.SetRetryScheduler(s)
	s.reg.OnEnabledChange(s.reconcile)
	return s
}

func (s *Service) loadLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Apply updates the config. A timezone change re-arms every timer.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if old == strings.TrimSpace(cfg.Timezone) {
		return
	}
	s.loc = s.loadLocation(cfg.Timezone)
	if s.started {
		s.armAllLocked()
	}
}

// Start arms a timer for every enabled job. Calling it again is a no-op.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.armAllLocked()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("timers", len(s.timers)))
}

// Stop cancels every recurring timer and clears NextRun. Queued retries are
// kept and still fire; in-flight attempts run to completion. Calling it
// again is a no-op.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	for id := range s.timers {
		s.cancelTimerLocked(id)
	}
	s.log.Info("service stopped", logx.Int("pending_retries", s.retries.Len()))
}

func (s *Service) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Wait blocks until every attempt started by a timer or the retry queue has
// returned, or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) armAllLocked() {
	for _, j := range s.reg.List() {
		if j.Enabled {
			s.armLocked(j)
		} else {
			s.cancelTimerLocked(j.ID)
		}
	}
}

// armLocked (re)arms the timer of j at its next fire time after now.
func (s *Service) armLocked(j job.SyncJob) {
	s.cancelTimerLocked(j.ID)
	spec, err := schedule.Parse(j.Schedule)
	if err != nil {
		s.log.Warn("unschedulable job", logx.Job(j.ID), logx.Err(err))
		return
	}
	now := s.clk.Now()
	s.armAtLocked(j.ID, spec.In(s.loc).Next(now), now)
}

func (s *Service) armAtLocked(id string, next, now time.Time) {
	if next.IsZero() {
		s.reg.SetNextRun(id, time.Time{})
		return
	}
	s.seq++
	ver := s.seq
	t := s.clk.AfterFunc(next.Sub(now), func() { s.fire(id, ver) })
	s.timers[id] = &jobTimer{timer: t, ver: ver, next: next}
	s.reg.SetNextRun(id, next)
}

func (s *Service) cancelTimerLocked(id string) {
	if jt, ok := s.timers[id]; ok {
		jt.timer.Stop()
		delete(s.timers, id)
	}
	s.reg.SetNextRun(id, time.Time{})
}

// fire runs on the clock's goroutine: it re-arms the next tick and starts the
// attempt without waiting for it.
func (s *Service) fire(id string, ver uint64) {
	s.mu.Lock()
	jt, ok := s.timers[id]
	if !ok || jt.ver != ver || !s.started {
		s.mu.Unlock()
		return
	}
	j, err := s.reg.Get(id)
	if err != nil || !j.Enabled {
		delete(s.timers, id)
		s.mu.Unlock()
		return
	}
	spec, err := schedule.Parse(j.Schedule)
	if err != nil {
		delete(s.timers, id)
		s.mu.Unlock()
		return
	}
	spec = spec.In(s.loc)
	now := s.clk.Now()
	next := spec.Next(jt.next)
	if !next.After(now) {
		// Fell behind; skip missed ticks.
		next = spec.Next(now)
	}
	delete(s.timers, id)
	s.armAtLocked(id, next, now)
	s.inflight.Add(1)
	s.mu.Unlock()

	go s.run(id, job.TriggerSchedule)
}

func (s *Service) run(id string, trigger job.Trigger) {
	defer s.inflight.Done()
	if _, err := s.exec.Run(s.runCtx, id, trigger); err != nil {
		s.log.Debug("run skipped", logx.Job(id), logx.Err(err))
	}
}

// reconcile is the registry's enabled-change hook: it brings the timer of id
// in line with the job's current state before the registry call returns.
func (s *Service) reconcile(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.reg.Get(id)
	if err != nil {
		return
	}
	if !j.Enabled {
		s.cancelTimerLocked(id)
		if s.retries.remove(id) {
			s.armRetryTimerLocked()
		}
		return
	}
	if s.started {
		s.armLocked(j)
	}
}

// ScheduleRetry queues a retry of jobID after delay, replacing any pending one.
func (s *Service) ScheduleRetry(jobID string, attempt int, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	due := s.clk.Now().Add(delay)
	s.retries.put(PendingRetry{JobID: jobID, Attempt: attempt, Due: due})
	s.armRetryTimerLocked()
	s.log.Debug("retry queued", logx.Job(jobID), logx.Attempt(attempt), logx.Duration("in", delay))
}

// CancelRetry drops the pending retry of jobID, if any.
func (s *Service) CancelRetry(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retries.remove(jobID) {
		s.armRetryTimerLocked()
	}
}

// armRetryTimerLocked keeps exactly one clock timer armed for the queue head.
func (s *Service) armRetryTimerLocked() {
	head, ok := s.retries.head()
	if ok && s.retryTimer != nil && head.Due.Equal(s.retryDue) {
		return
	}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
		s.retryDue = time.Time{}
	}
	if !ok {
		return
	}
	s.retryVer++
	ver := s.retryVer
	s.retryDue = head.Due
	s.retryTimer = s.clk.AfterFunc(head.Due.Sub(s.clk.Now()), func() { s.fireRetries(ver) })
}

func (s *Service) fireRetries(ver uint64) {
	s.mu.Lock()
	if ver != s.retryVer {
		s.mu.Unlock()
		return
	}
	s.retryTimer = nil
	s.retryDue = time.Time{}
	due := s.retries.popDue(s.clk.Now())
	s.armRetryTimerLocked()

	var runs []string
	for _, p := range due {
		j, err := s.reg.Get(p.JobID)
		if err != nil || !j.Enabled {
			continue
		}
		runs = append(runs, p.JobID)
	}
	s.inflight.Add(len(runs))
	s.mu.Unlock()

	for _, id := range runs {
		go s.run(id, job.TriggerRetry)
	}
}

// PendingRetries returns the retry queue in due order.
func (s *Service) PendingRetries() []PendingRetry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries.list()
}
