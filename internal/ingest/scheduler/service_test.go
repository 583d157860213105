package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ingestd/internal/clock"
	"ingestd/internal/clock/clocktest"
	"ingestd/internal/ingest/engine"
	"ingestd/internal/ingest/job"
	"ingestd/internal/ingest/registry"
	"ingestd/internal/source"
	"ingestd/pkg/logx"
)

var t0 = time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

type harness struct {
	svc *Service
	reg *registry.Registry
	fc  *clocktest.Clock
}

type syncFunc = func(ctx context.Context, cfg map[string]any) (source.Result, error)

func newHarness(t *testing.T, c clock.Clock, fn syncFunc, jobs ...job.SyncJob) *harness {
	t.Helper()
	reg := registry.New()
	for _, j := range jobs {
		if err := reg.Upsert(j); err != nil {
			t.Fatalf("Upsert(%s): %v", j.ID, err)
		}
	}
	set := source.NewSet()
	for _, k := range job.Kinds() {
		set.Register(source.Func{K: k, Fn: fn})
	}
	exec := engine.NewExecutor(engine.Config{Clock: c, Registry: reg, Adapters: set, Log: logx.Nop()})
	svc := New(Config{Timezone: "UTC"}, exec, c, logx.Nop(), nil)
	h := &harness{svc: svc, reg: reg}
	h.fc, _ = c.(*clocktest.Clock)
	return h
}

func mkJob(id, sched string) job.SyncJob {
	return job.SyncJob{
		ID:         id,
		Source:     job.KindLocal,
		Schedule:   sched,
		Enabled:    true,
		MaxRetries: 3,
		Timeout:    time.Minute,
	}
}

func ok(context.Context, map[string]any) (source.Result, error) {
	return source.Result{ItemsProcessed: 1}, nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (h *harness) historyLen() int { return len(h.svc.GetSyncHistory(1000)) }

func TestStartArmsEnabledJobs(t *testing.T) {
	t.Parallel()
	off := mkJob("off", "every 5 minutes")
	off.Enabled = false
	h := newHarness(t, clocktest.New(t0), ok, mkJob("a", "every 5 minutes"), mkJob("b", "hourly"), off)

	h.svc.Start()
	h.svc.Start()
	if got := len(h.fc.Pending()); got != 2 {
		t.Fatalf("armed timers = %d, want 2", got)
	}
	a, _ := h.svc.GetJobStatus("a")
	if a.NextRun == nil || !a.NextRun.Equal(t0.Add(5*time.Minute)) {
		t.Fatalf("a.NextRun = %v", a.NextRun)
	}
	if o, _ := h.svc.GetJobStatus("off"); o.NextRun != nil {
		t.Fatalf("disabled job armed: %v", o.NextRun)
	}

	h.svc.Stop()
	h.svc.Stop()
	if got := len(h.fc.Pending()); got != 0 {
		t.Fatalf("timers after Stop = %d", got)
	}
	for _, j := range h.svc.ListJobs() {
		if j.NextRun != nil {
			t.Fatalf("%s.NextRun not cleared", j.ID)
		}
	}
}

func TestTimerFiresAndRearms(t *testing.T) {
	t.Parallel()
	h := newHarness(t, clocktest.New(t0), ok, mkJob("a", "every 5 minutes"))
	h.svc.Start()
	defer h.svc.Stop()

	for i := 1; i <= 3; i++ {
		h.fc.Advance(5 * time.Minute)
		n := i
		waitFor(t, "scheduled run", func() bool { return h.historyLen() == n })
		if err := h.svc.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
		j, _ := h.svc.GetJobStatus("a")
		if want := t0.Add(time.Duration(i+1) * 5 * time.Minute); j.NextRun == nil || !j.NextRun.Equal(want) {
			t.Fatalf("tick %d: NextRun = %v, want %v", i, j.NextRun, want)
		}
	}
	for _, r := range h.svc.GetSyncHistory(0) {
		if !r.Success || r.Trigger != job.TriggerSchedule {
			t.Fatalf("result = %+v", r)
		}
	}
}

func TestCronUsesTimezone(t *testing.T) {
	t.Parallel()
	h := newHarness(t, clocktest.New(t0.Add(17*time.Minute)), ok, mkJob("c", "0 * * * *"))
	h.svc.Start()
	defer h.svc.Stop()
	j, _ := h.svc.GetJobStatus("c")
	if j.NextRun == nil || !j.NextRun.Equal(t0.Add(time.Hour)) {
		t.Fatalf("NextRun = %v", j.NextRun)
	}
}

func TestScenarioRetriesWithBackoff(t *testing.T) {
	t.Parallel()
	failing := func(context.Context, map[string]any) (source.Result, error) {
		return source.Result{}, source.Errorf(job.KindLocal, "rate limited")
	}
	h := newHarness(t, clocktest.New(t0), failing, mkJob("mc", "every 30 minutes"))

	r, err := h.svc.TriggerJob(context.Background(), "mc")
	if err != nil || r.Success || r.FirstError() != "rate limited" {
		t.Fatalf("first = %+v, %v", r, err)
	}

	delays := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, d := range delays {
		attempt := i + 2
		pend := h.svc.PendingRetries()
		if len(pend) != 1 || pend[0].Attempt != attempt {
			t.Fatalf("before retry %d: pending = %+v", i+1, pend)
		}
		now := h.fc.Now()
		if !pend[0].Due.Equal(now.Add(d)) {
			t.Fatalf("retry %d due %v, want %v", i+1, pend[0].Due.Sub(now), d)
		}
		h.fc.Advance(d - time.Millisecond)
		if h.historyLen() != i+1 {
			t.Fatalf("retry %d fired early", i+1)
		}
		h.fc.Advance(time.Millisecond)
		waitFor(t, "retry attempt", func() bool {
			if h.historyLen() != i+2 {
				return false
			}
			p := h.svc.PendingRetries()
			if i == len(delays)-1 {
				return len(p) == 0
			}
			return len(p) == 1 && p[0].Attempt == attempt+1
		})
	}
	if err := h.svc.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	hist := h.svc.GetJobHistory
	rs, err := hist("mc", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rs) != 4 {
		t.Fatalf("results = %d, want 4", len(rs))
	}
	offsets := []time.Duration{0, 2 * time.Second, 6 * time.Second, 14 * time.Second}
	for i, r := range rs {
		if r.Success || r.Attempt != i+1 || !r.StartTime.Equal(t0.Add(offsets[i])) {
			t.Fatalf("result %d = %+v", i, r)
		}
		if i > 0 && r.Trigger != job.TriggerRetry {
			t.Fatalf("result %d trigger = %s", i, r.Trigger)
		}
	}
	j, _ := h.svc.GetJobStatus("mc")
	if j.RetryCount != 3 || j.Status != job.StatusError {
		t.Fatalf("job = %+v", j)
	}

	// Nothing else fires without a schedule.
	h.fc.Advance(time.Minute)
	if h.historyLen() != 4 {
		t.Fatalf("extra attempts after give-up: %d", h.historyLen())
	}
}

func TestSuccessfulRetryResets(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	flaky := func(context.Context, map[string]any) (source.Result, error) {
		if calls.Add(1) == 1 {
			return source.Result{}, errors.New("transient")
		}
		return source.Result{ItemsProcessed: 3}, nil
	}
	h := newHarness(t, clocktest.New(t0), flaky, mkJob("gh", "daily"))
	_, _ = h.svc.TriggerJob(context.Background(), "gh")
	if j, _ := h.svc.GetJobStatus("gh"); j.RetryCount != 1 {
		t.Fatalf("retry count = %d", j.RetryCount)
	}
	h.fc.Advance(2 * time.Second)
	waitFor(t, "retry", func() bool { return h.historyLen() == 2 })
	_ = h.svc.Wait(context.Background())

	j, _ := h.svc.GetJobStatus("gh")
	if j.RetryCount != 0 || j.Status != job.StatusSuccess {
		t.Fatalf("job = %+v", j)
	}
	if p := h.svc.PendingRetries(); len(p) != 0 {
		t.Fatalf("pending = %+v", p)
	}
}

func TestDisableCancelsTimerAndRetries(t *testing.T) {
	t.Parallel()
	var fail atomic.Bool
	fn := func(context.Context, map[string]any) (source.Result, error) {
		if fail.Load() {
			return source.Result{}, errors.New("down")
		}
		return source.Result{ItemsProcessed: 1}, nil
	}
	h := newHarness(t, clocktest.New(t0), fn, mkJob("a", "every 5 minutes"), mkJob("b", "every 5 minutes"))
	h.svc.Start()
	defer h.svc.Stop()

	fail.Store(true)
	_, _ = h.svc.TriggerJob(context.Background(), "a")
	if len(h.svc.PendingRetries()) != 1 {
		t.Fatal("retry not queued")
	}
	// two job timers + retry head
	if got := len(h.fc.Pending()); got != 3 {
		t.Fatalf("timers = %d", got)
	}

	j, err := h.svc.ToggleJob("a", false)
	if err != nil {
		t.Fatal(err)
	}
	if j.Enabled || j.NextRun != nil {
		t.Fatalf("after disable: %+v", j)
	}
	if got := len(h.fc.Pending()); got != 1 {
		t.Fatalf("timers after disable = %d, want 1", got)
	}
	if len(h.svc.PendingRetries()) != 0 {
		t.Fatal("pending retry survived disable")
	}

	// b succeeds from here so its ticks are the only history growth
	fail.Store(false)
	for i := 1; i <= 4; i++ {
		h.fc.Advance(5 * time.Minute)
		waitFor(t, "b tick", func() bool { return len(h.svc.GetSyncHistory(0)) == 1+i })
		_ = h.svc.Wait(context.Background())
	}
	if rs, _ := h.svc.GetJobHistory("a", 0); len(rs) != 1 {
		t.Fatalf("disabled job ran on schedule: %d results", len(rs))
	}
	if rs, _ := h.svc.GetJobHistory("b", 0); len(rs) != 4 {
		t.Fatalf("b results = %d, want 4", len(rs))
	}

	// Manual trigger still works on a disabled job.
	fail.Store(false)
	r, err := h.svc.TriggerJob(context.Background(), "a")
	if err != nil || !r.Success {
		t.Fatalf("manual = %+v, %v", r, err)
	}

	j, _ = h.svc.ToggleJob("a", true)
	if j.NextRun == nil || !j.NextRun.Equal(h.fc.Now().Add(5*time.Minute)) {
		t.Fatalf("after enable: NextRun = %v", j.NextRun)
	}
	if j.RetryCount != 0 {
		t.Fatalf("enable kept retry count %d", j.RetryCount)
	}
}

func TestOverlappingTickReportsAlreadyRunning(t *testing.T) {
	t.Parallel()
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	fn := func(ctx context.Context, _ map[string]any) (source.Result, error) {
		entered <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
			return source.Result{}, ctx.Err()
		}
		return source.Result{ItemsProcessed: 1}, nil
	}
	slow := mkJob("slow", "every 5 minutes")
	slow.Timeout = time.Hour
	h := newHarness(t, clocktest.New(t0), fn, slow)
	h.svc.Start()
	defer h.svc.Stop()

	h.fc.Advance(5 * time.Minute)
	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("first tick never reached the adapter")
	}

	// second tick lands while the first attempt is still in flight
	h.fc.Advance(5 * time.Minute)
	waitFor(t, "overlapping tick", func() bool { return h.historyLen() == 1 })
	r := h.svc.GetSyncHistory(0)[0]
	if r.Success || len(r.Errors) != 1 || r.Errors[0] != job.MsgAlreadyRunning {
		t.Fatalf("overlap = %+v", r)
	}
	if r.Trigger != job.TriggerSchedule {
		t.Fatalf("trigger = %q", r.Trigger)
	}
	js, err := h.svc.GetJobStatus("slow")
	if err != nil {
		t.Fatal(err)
	}
	if js.Status != job.StatusRunning {
		t.Fatalf("status = %q, want running", js.Status)
	}
	if js.NextRun == nil || !js.NextRun.Equal(t0.Add(15*time.Minute)) {
		t.Fatalf("NextRun = %v, want %v", js.NextRun, t0.Add(15*time.Minute))
	}

	close(release)
	waitFor(t, "first attempt", func() bool { return h.historyLen() == 2 })
	_ = h.svc.Wait(context.Background())
	js, _ = h.svc.GetJobStatus("slow")
	if js.Status != job.StatusSuccess {
		t.Fatalf("status after release = %q", js.Status)
	}
}

func TestRetriesSurviveStop(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	fn := func(context.Context, map[string]any) (source.Result, error) {
		calls.Add(1)
		return source.Result{}, errors.New("down")
	}
	h := newHarness(t, clocktest.New(t0), fn, mkJob("a", "every 5 minutes"))
	h.svc.Start()
	_, _ = h.svc.TriggerJob(context.Background(), "a")
	h.svc.Stop()
	h.svc.Start()
	h.svc.Stop()

	if p := h.svc.PendingRetries(); len(p) != 1 {
		t.Fatalf("pending = %+v", p)
	}
	h.fc.Advance(2 * time.Second)
	waitFor(t, "retry after stop", func() bool { return calls.Load() == 2 })
	_ = h.svc.Wait(context.Background())
}

func TestRegisterJobWhileRunning(t *testing.T) {
	t.Parallel()
	h := newHarness(t, clocktest.New(t0), ok)
	h.svc.Start()
	defer h.svc.Stop()

	if err := h.svc.RegisterJob(mkJob("late", "every 10 minutes")); err != nil {
		t.Fatal(err)
	}
	j, _ := h.svc.GetJobStatus("late")
	if j.NextRun == nil || !j.NextRun.Equal(t0.Add(10*time.Minute)) {
		t.Fatalf("NextRun = %v", j.NextRun)
	}

	j.Schedule = "every 2 minutes"
	if err := h.svc.RegisterJob(j); err != nil {
		t.Fatal(err)
	}
	j, _ = h.svc.GetJobStatus("late")
	if !j.NextRun.Equal(t0.Add(2 * time.Minute)) {
		t.Fatalf("schedule change not re-armed: %v", j.NextRun)
	}
	if got := len(h.fc.Pending()); got != 1 {
		t.Fatalf("timers = %d, want 1", got)
	}

	bad := mkJob("bad", "every other tuesday")
	if err := h.svc.RegisterJob(bad); !errors.Is(err, job.ErrConfiguration) {
		t.Fatalf("err = %v", err)
	}
}

func TestAdminErrors(t *testing.T) {
	t.Parallel()
	h := newHarness(t, clocktest.New(t0), ok, mkJob("a", "hourly"))
	ctx := context.Background()
	if _, err := h.svc.TriggerJob(ctx, "nope"); !errors.Is(err, job.ErrNotFound) {
		t.Fatalf("TriggerJob: %v", err)
	}
	if _, err := h.svc.ToggleJob("nope", true); !errors.Is(err, job.ErrNotFound) {
		t.Fatalf("ToggleJob: %v", err)
	}
	if _, err := h.svc.UpdateJobConfig("nope", nil); !errors.Is(err, job.ErrNotFound) {
		t.Fatalf("UpdateJobConfig: %v", err)
	}
	if _, err := h.svc.GetJobHistory("nope", 0); !errors.Is(err, job.ErrNotFound) {
		t.Fatalf("GetJobHistory: %v", err)
	}
	j, err := h.svc.UpdateJobConfig("a", map[string]any{"path": "/srv/docs"})
	if err != nil || j.Config["path"] != "/srv/docs" {
		t.Fatalf("UpdateJobConfig = %+v, %v", j, err)
	}
}

func TestConcurrentTriggerSingleFlight(t *testing.T) {
	t.Parallel()
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	fn := func(context.Context, map[string]any) (source.Result, error) {
		once.Do(func() { close(entered) })
		<-release
		return source.Result{ItemsProcessed: 1}, nil
	}
	h := newHarness(t, clock.Real(), fn, mkJob("a", "hourly"))

	results := make(chan job.SyncResult, 2)
	go func() {
		r, _ := h.svc.TriggerJob(context.Background(), "a")
		results <- r
	}()
	<-entered
	go func() {
		r, _ := h.svc.TriggerJob(context.Background(), "a")
		results <- r
	}()
	skipped := <-results
	close(release)
	ran := <-results

	if skipped.Success || skipped.FirstError() != job.MsgAlreadyRunning {
		t.Fatalf("skipped = %+v", skipped)
	}
	if !ran.Success {
		t.Fatalf("ran = %+v", ran)
	}
}

func TestTimeoutScenario(t *testing.T) {
	t.Parallel()
	slow := func(context.Context, map[string]any) (source.Result, error) {
		time.Sleep(500 * time.Millisecond)
		return source.Result{ItemsProcessed: 1}, nil
	}
	j := mkJob("slow", "hourly")
	j.Timeout = 100 * time.Millisecond
	j.MaxRetries = 0
	h := newHarness(t, clock.Real(), slow, j)

	r, err := h.svc.TriggerJob(context.Background(), "slow")
	if err != nil {
		t.Fatal(err)
	}
	if r.Success || r.FirstError() != "Job timeout" {
		t.Fatalf("result = %+v", r)
	}
	if r.Duration < 100*time.Millisecond || r.Duration >= 400*time.Millisecond {
		t.Fatalf("duration = %v", r.Duration)
	}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	h := newHarness(t, clocktest.New(t0), ok, mkJob("a", "every 15 minutes"))
	h.svc.Start()
	defer h.svc.Stop()
	_, _ = h.svc.TriggerJob(context.Background(), "a")

	snap := h.svc.Snapshot()
	if !snap.Started || snap.Timezone != "UTC" || snap.HistoryLen != 1 || len(snap.Jobs) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if info := snap.Jobs[0]; info.Cadence != "every 15m0s" || info.Status != job.StatusSuccess || info.NextRun == nil {
		t.Fatalf("job info = %+v", info)
	}
}
