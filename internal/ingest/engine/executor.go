// Package engine runs single sync attempts: it owns the per-job guard, the
// retry policy and the attempt history.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ingestd/internal/clock"
	"ingestd/internal/eventbus"
	"ingestd/internal/ingest/job"
	"ingestd/internal/ingest/registry"
	"ingestd/internal/source"
	"ingestd/pkg/logx"
)

// Adapters resolves the adapter for a source kind.
type Adapters interface {
	Get(kind job.Kind) (source.Adapter, bool)
}

// RetryScheduler owns pending retries. A job has at most one: ScheduleRetry
// replaces it and CancelRetry drops it.
type RetryScheduler interface {
	ScheduleRetry(jobID string, attempt int, delay time.Duration)
	CancelRetry(jobID string)
}

type Config struct {
	Clock    clock.Clock
	Registry *registry.Registry
	Adapters Adapters
	Guard    *Guard
	History  *History
	Retry    RetryController
	Bus      eventbus.Bus
	Log      logx.Logger
	// NewID generates result ids. Defaults to uuid.NewString.
	NewID func() string
}

// Executor performs one attempt of a job and records its SyncResult.
type Executor struct {
	clock   clock.Clock
	reg     *registry.Registry
	src     Adapters
	guard   *Guard
	hist    *History
	retry   RetryController
	bus     eventbus.Bus
	log     logx.Logger
	newID   func() string
	retries RetryScheduler
}

func NewExecutor(cfg Config) *Executor {
	e := &Executor{
		clock: cfg.Clock,
		reg:   cfg.Registry,
		src:   cfg.Adapters,
		guard: cfg.Guard,
		hist:  cfg.History,
		retry: cfg.Retry,
		bus:   cfg.Bus,
		log:   cfg.Log.With(logx.String("comp", "executor")),
		newID: cfg.NewID,
	}
	if e.clock == nil {
		e.clock = clock.Real()
	}
	if e.reg == nil {
		e.reg = registry.New()
	}
	if e.src == nil {
		e.src = source.NewSet()
	}
	if e.guard == nil {
		e.guard = NewGuard()
	}
	if e.hist == nil {
		e.hist = NewHistory(0, nil, e.log)
	}
	if e.bus == nil {
		e.bus = eventbus.Nop()
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	return e
}

// SetRetryScheduler installs the queue that receives retry decisions.
// Without one, failures still count against MaxRetries but nothing re-runs.
func (e *Executor) SetRetryScheduler(rs RetryScheduler) { e.retries = rs }

func (e *Executor) Guard() *Guard                { return e.guard }
func (e *Executor) History() *History            { return e.hist }
func (e *Executor) Registry() *registry.Registry { return e.reg }

type outcome struct {
	res source.Result
	err error
}

// Run performs one attempt of jobID. The only error returned is
// job.ErrNotFound; every execution failure is reported in the result,
// which is also appended to History.
func (e *Executor) Run(ctx context.Context, jobID string, trigger job.Trigger) (job.SyncResult, error) {
	j, err := e.reg.Get(jobID)
	if err != nil {
		return job.SyncResult{}, err
	}

	if !e.guard.TryAcquire(jobID) {
		now := e.clock.Now()
		r := job.SyncResult{
			ID:        e.newID(),
			JobID:     jobID,
			Source:    j.Source,
			Trigger:   trigger,
			Attempt:   j.RetryCount + 1,
			StartTime: now,
			EndTime:   now,
			Errors:    []string{job.MsgAlreadyRunning},
		}
		e.hist.Append(ctx, r)
		e.publish(eventbus.SyncSkipped, r, 0)
		e.log.Debug("sync skipped", logx.Job(jobID), logx.Trigger(trigger))
		return r, nil
	}
	defer e.guard.Release(jobID)

	start := e.clock.Now()
	j, err = e.reg.Mutate(jobID, func(sj *job.SyncJob) {
		sj.Status = job.StatusRunning
		t := start
		sj.LastRun = &t
	})
	if err != nil {
		return job.SyncResult{}, err
	}
	attempt := j.RetryCount + 1
	e.publish(eventbus.SyncStarted, job.SyncResult{JobID: jobID, Source: j.Source, Trigger: trigger, Attempt: attempt, StartTime: start}, 0)

	o := e.invoke(ctx, j)

	end := e.clock.Now()
	if end.Before(start) {
		end = start
	}
	r := job.SyncResult{
		ID:        e.newID(),
		JobID:     jobID,
		Source:    j.Source,
		Trigger:   trigger,
		Attempt:   attempt,
		StartTime: start,
		EndTime:   end,
		Duration:  end.Sub(start),
	}

	if o.err == nil {
		_, _ = e.reg.Mutate(jobID, e.retry.OnSuccess)
		if e.retries != nil {
			e.retries.CancelRetry(jobID)
		}
		r.Success = true
		r.ItemsProcessed = max(o.res.ItemsProcessed, 0)
		r.ItemsAdded = max(o.res.ItemsAdded, 0)
		r.ItemsUpdated = max(o.res.ItemsUpdated, 0)
		r.ItemsRemoved = max(o.res.ItemsRemoved, 0)
		r.Metadata = job.CloneMap(o.res.Metadata)
		e.hist.Append(ctx, r)
		e.publish(eventbus.SyncFinished, r, 0)
		e.log.Info("sync finished",
			logx.Sync(jobID, trigger, attempt),
			logx.Int("items", r.ItemsProcessed),
			logx.Duration("dur", r.Duration),
		)
		return r, nil
	}

	hint, _ := source.RetryAfterHint(o.err)
	var dec RetryDecision
	_, _ = e.reg.Mutate(jobID, func(sj *job.SyncJob) { dec = e.retry.OnFailure(sj, hint) })

	r.Errors = []string{errorMessage(o.err)}
	if dec.Retry {
		r.Metadata = map[string]any{"retry_in": dec.Delay.String()}
	} else {
		r.Metadata = map[string]any{"gave_up": true}
	}
	e.hist.Append(ctx, r)
	e.publish(eventbus.SyncFailed, r, 0)
	e.log.Warn("sync failed",
		logx.Sync(jobID, trigger, attempt),
		logx.Duration("dur", r.Duration),
		logx.Bool("retry", dec.Retry),
		logx.Err(o.err),
	)

	switch {
	case e.retries == nil:
	case dec.Retry:
		e.retries.ScheduleRetry(jobID, dec.Attempt, dec.Delay)
		e.publish(eventbus.RetryQueued, r, dec.Delay)
	default:
		e.retries.CancelRetry(jobID)
	}
	return r, nil
}

// invoke calls the adapter under the job timeout. The adapter result is
// discarded if the timeout (or ctx) wins the race.
func (e *Executor) invoke(parent context.Context, j job.SyncJob) outcome {
	a, ok := e.src.Get(j.Source)
	if !ok || a == nil {
		return outcome{err: source.Errorf(j.Source, "no adapter registered for source %s", j.Source)}
	}

	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)
	if j.Timeout > 0 {
		t := e.clock.AfterFunc(j.Timeout, func() { cancel(job.ErrTimeout) })
		defer t.Stop()
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: source.Errorf(j.Source, "%s adapter panic: %v", j.Source, p)}
			}
		}()
		res, err := a.Sync(ctx, job.CloneMap(j.Config))
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(context.Cause(ctx), job.ErrTimeout) {
			return outcome{err: job.ErrTimeout}
		}
		if o.err != nil {
			o.err = source.Wrap(j.Source, o.err)
		}
		return o
	case <-ctx.Done():
		cause := context.Cause(ctx)
		if errors.Is(cause, job.ErrTimeout) {
			return outcome{err: job.ErrTimeout}
		}
		return outcome{err: fmt.Errorf("sync cancelled: %w", cause)}
	}
}

func errorMessage(err error) string {
	if errors.Is(err, job.ErrTimeout) {
		return job.MsgTimeout
	}
	return err.Error()
}

func (e *Executor) publish(topic string, r job.SyncResult, retryIn time.Duration) {
	e.bus.Publish(eventbus.Event{
		Type: topic,
		Time: e.clock.Now(),
		Data: eventbus.SyncEvent{
			JobID:    r.JobID,
			Source:   string(r.Source),
			Trigger:  string(r.Trigger),
			Attempt:  r.Attempt,
			Success:  r.Success,
			Duration: r.Duration,
			Items:    [4]int{r.ItemsProcessed, r.ItemsAdded, r.ItemsUpdated, r.ItemsRemoved},
			Error:    r.FirstError(),
			RetryIn:  retryIn,
		},
	})
}
