package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"autosend/internal/clock"
	"autosend/internal/driver"
	"autosend/internal/retry"
	"autosend/internal/schedule"
	"autosend/internal/settings"
	"autosend/internal/status"
	"autosend/internal/storage"
	"autosend/internal/uiloop"
	logx "autosend/pkg/logx"
)

// Monday.
var t0 = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

type memHistory struct {
	mu   sync.Mutex
	recs []storage.SendRecord
}

func (m *memHistory) Record(_ context.Context, r storage.SendRecord) error {
	m.mu.Lock()
	m.recs = append(m.recs, r)
	m.mu.Unlock()
	return nil
}

func (m *memHistory) all() []storage.SendRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.SendRecord(nil), m.recs...)
}

type harness struct {
	t    *testing.T
	clk  *clock.Fake
	drv  *driver.Recorder
	ch   *status.Channel
	obs  *status.Recorder
	hist *memHistory
	sch  *Scheduler
}

// fastSettings keeps the lead but removes the UI pauses and retry backoff.
func fastSettings() settings.Settings {
	s := settings.Defaults()
	s.Delays = settings.Delays{PrepareLead: 10 * time.Second}
	s.Retry = retry.Policy{Attempts: 3}
	return s
}

func newHarness(t *testing.T, set settings.Settings) *harness {
	t.Helper()
	return newHarnessWith(t, set, nil)
}

// newHarnessWith lets wrap put a different driver in front of the recorder.
func newHarnessWith(t *testing.T, set settings.Settings, wrap func(*driver.Recorder) driver.Driver) *harness {
	t.Helper()
	fc := clock.NewFake(t0)
	drv := driver.NewRecorder(fc, logx.Nop())
	var d driver.Driver = drv
	if wrap != nil {
		d = wrap(drv)
	}
	ctx, cancel := context.WithCancel(context.Background())
	loop := uiloop.New(logx.Nop(), 64)
	go func() { _ = loop.Run(ctx) }()

	ch := status.NewChannel(nil)
	obs := &status.Recorder{}
	detach := ch.Attach(obs, 1024)
	hist := &memHistory{}

	sch, err := New(ctx, Options{
		Driver:   d,
		Clock:    fc,
		Loop:     loop,
		Status:   ch,
		Log:      logx.Nop(),
		Settings: set,
		Location: time.UTC,
		History:  hist,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		cctx, ccancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer ccancel()
		_ = sch.Close(cctx)
		cancel()
		detach()
	})
	return &harness{t: t, clk: fc, drv: drv, ch: ch, obs: obs, hist: hist, sch: sch}
}

// drive advances the fake clock timer by timer until cond holds.
func (h *harness) drive(cond func() bool) {
	h.t.Helper()
	limit := time.Now().Add(10 * time.Second)
	for time.Now().Before(limit) {
		if cond() {
			return
		}
		if at, ok := h.clk.NextDeadline(); ok {
			h.clk.Set(at)
			continue
		}
		time.Sleep(time.Millisecond)
	}
	h.t.Fatalf("condition not reached; clock at %v, actions %v", h.clk.Now(), h.drv.Actions())
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	limit := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(limit) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// settle waits until every event emitted so far has reached the observer.
func (h *harness) settle() {
	h.t.Helper()
	marker := "marker " + time.Now().String()
	h.ch.EmitLog(marker)
	waitFor(h.t, "observer to drain", func() bool {
		logs := h.obs.Logs()
		return len(logs) > 0 && logs[len(logs)-1] == marker
	})
}

func (h *harness) sends() []driver.Action {
	var out []driver.Action
	for _, a := range h.drv.Actions() {
		if a.Op == "press" && a.Arg == "ctrl+enter" {
			out = append(out, a)
		}
	}
	return out
}

func phases(ps []status.Phase) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.String()
	}
	return strings.Join(parts, ",")
}

func TestStartOnceThenStopNeverFires(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fastSettings())

	if err := h.sch.StartOnce("Alice", "hi", t0.Add(time.Minute)); err != nil {
		t.Fatalf("StartOnce: %v", err)
	}
	if got := h.sch.Phase(); got != status.Running {
		t.Fatalf("phase = %v, want running", got)
	}
	if !h.clk.BlockUntil(1, 2*time.Second) {
		t.Fatal("lead wait was not armed")
	}
	h.sch.Stop()
	if got := h.sch.Phase(); got != status.Idle {
		t.Fatalf("phase after stop = %v", got)
	}

	h.clk.Advance(5 * time.Minute)
	if acts := h.drv.Actions(); len(acts) != 0 {
		t.Fatalf("driver used after stop: %v", acts)
	}
	h.settle()
	if got := phases(h.obs.Statuses()); got != "running,idle" {
		t.Fatalf("statuses = %s", got)
	}
}

func TestStartOnceRejectsPastDeadline(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fastSettings())

	for _, at := range []time.Time{t0, t0.Add(-time.Second)} {
		err := h.sch.StartOnce("Alice", "hi", at)
		if !errors.Is(err, schedule.ErrPastDeadline) {
			t.Fatalf("StartOnce(%v) err = %v", at, err)
		}
		if got := h.sch.Phase(); got != status.Idle {
			t.Fatalf("phase = %v, want idle", got)
		}
	}
	h.settle()
	for _, p := range h.obs.Statuses() {
		if p != status.Idle {
			t.Fatalf("statuses = %s", phases(h.obs.Statuses()))
		}
	}
}

func TestStaleGenerationNeverFires(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fastSettings())

	deadlineA := t0.Add(time.Minute)
	deadlineB := t0.Add(10 * time.Minute)
	if err := h.sch.StartOnce("A", "from a", deadlineA); err != nil {
		t.Fatal(err)
	}
	h.clk.BlockUntil(1, 2*time.Second)
	h.sch.Stop()
	if err := h.sch.StartOnce("B", "from b", deadlineB); err != nil {
		t.Fatal(err)
	}

	h.clk.Set(deadlineA.Add(time.Minute))
	if n := len(h.drv.Actions()); n != 0 {
		t.Fatalf("actions after A's deadline: %v", h.drv.Actions())
	}

	h.drive(func() bool { return len(h.sends()) == 1 && h.sch.Phase() == status.Idle })
	if h.drv.Count("type", "A") != 0 || h.drv.Count("type", "from a") != 0 {
		t.Fatalf("schedule A leaked into the run: %v", h.drv.Actions())
	}
	if at := h.sends()[0].At; at.Before(deadlineB) {
		t.Fatalf("sent at %v, before deadline %v", at, deadlineB)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fastSettings())

	h.sch.Stop()
	h.settle()
	if len(h.obs.Statuses()) != 0 || len(h.obs.Logs()) != 1 {
		t.Fatalf("stop while idle emitted: logs=%v statuses=%s", h.obs.Logs(), phases(h.obs.Statuses()))
	}

	if err := h.sch.StartOnce("Alice", "hi", t0.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	h.sch.Stop()
	h.sch.Stop()
	h.settle()
	if got := phases(h.obs.Statuses()); got != "running,idle" {
		t.Fatalf("statuses = %s", got)
	}
	stopped := 0
	for _, l := range h.obs.Logs() {
		if l == "schedule stopped" {
			stopped++
		}
	}
	if stopped != 1 {
		t.Fatalf("stop logged %d times", stopped)
	}
}

func TestTightDeadlinePreparesImmediately(t *testing.T) {
	t.Parallel()
	h := newHarness(t, settings.Defaults())
	deadline := t0.Add(5 * time.Second)

	if err := h.sch.StartOnce("Alice", "Hi\nBye", deadline); err != nil {
		t.Fatal(err)
	}
	h.drive(func() bool { return h.sch.Phase() == status.Idle })

	acts := h.drv.Actions()
	if len(acts) == 0 || acts[0].Op != "focus" || !acts[0].At.Equal(t0) {
		t.Fatalf("preparation did not start immediately: %v", acts)
	}
	if n := h.drv.Count("focus", settings.DefaultWindowTitle); n != 1 {
		t.Fatalf("preparer ran %d times", n)
	}
	if n := h.drv.Count("press", "shift+enter"); n != 2 {
		t.Fatalf("line breaks = %d, want 2", n)
	}
	if h.drv.Count("type", "Hi") != 1 || h.drv.Count("type", "Bye") != 1 {
		t.Fatalf("lines not typed: %v", acts)
	}
	sends := h.sends()
	if len(sends) != 1 {
		t.Fatalf("sends = %d", len(sends))
	}
	if sends[0].At.Before(deadline) {
		t.Fatalf("sent at %v, before %v", sends[0].At, deadline)
	}

	recs := h.hist.all()
	if len(recs) != 1 || !recs[0].OK || recs[0].Stage != storage.StageSend || recs[0].Kind != "once" {
		t.Fatalf("history = %+v", recs)
	}
}

func TestLongLeadWaitsBeforePreparing(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fastSettings())
	deadline := t0.Add(time.Minute)

	if err := h.sch.StartOnce("Alice", "hi", deadline); err != nil {
		t.Fatal(err)
	}
	h.drive(func() bool { return h.sch.Phase() == status.Idle })

	acts := h.drv.Actions()
	if want := deadline.Add(-10 * time.Second); !acts[0].At.Equal(want) {
		t.Fatalf("preparation started at %v, want %v", acts[0].At, want)
	}
	if s := h.sends(); len(s) != 1 || !s[0].At.Equal(deadline) {
		t.Fatalf("sends = %v", s)
	}
}

func TestOneShotPrepareFailureGoesIdle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fastSettings())
	boom := errors.New("no focus")
	h.drv.FailNext(boom, boom, boom)

	if err := h.sch.StartOnce("Alice", "hi", t0.Add(5*time.Second)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "idle after failed preparation", func() bool { return h.sch.Phase() == status.Idle })
	if len(h.sends()) != 0 {
		t.Fatal("sent despite failed preparation")
	}
	recs := h.hist.all()
	if len(recs) != 1 || recs[0].OK || recs[0].Stage != storage.StagePrepare || recs[0].Attempts != 3 {
		t.Fatalf("history = %+v", recs)
	}
}

func TestStartOnceReplacesRunningSchedule(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fastSettings())

	if err := h.sch.StartOnce("A", "a", t0.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := h.sch.StartOnce("B", "b", t0.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	info := h.sch.Info()
	if info.Active == nil || info.Active.Target != "B" || !info.Next.Equal(t0.Add(time.Minute)) {
		t.Fatalf("info = %+v", info)
	}
	h.drive(func() bool { return h.sch.Phase() == status.Idle })
	if h.drv.Count("type", "A") != 0 || h.drv.Count("type", "B") != 1 {
		t.Fatalf("actions = %v", h.drv.Actions())
	}
}

func TestStartRecurringWhileRunning(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fastSettings())
	at := schedule.TimeOfDay{Hour: 9}

	if err := h.sch.StartRecurring("Alice", "hi", []int{1}, at, schedule.Weekly); err != nil {
		t.Fatal(err)
	}
	err := h.sch.StartRecurring("Bob", "yo", []int{2}, at, schedule.Weekly)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("err = %v, want ErrAlreadyRunning", err)
	}
	if info := h.sch.Info(); info.Active.Target != "Alice" {
		t.Fatalf("active = %+v", info.Active)
	}

	h.sch.Stop()
	err = h.sch.StartRecurring("Alice", "hi", nil, at, schedule.Monthly)
	if !errors.Is(err, schedule.ErrEmptySelectors) || !strings.Contains(err.Error(), "day-of-month") {
		t.Fatalf("err = %v", err)
	}
}

func TestRecurringOnlySelectedWeekdays(t *testing.T) {
	t.Parallel()
	set := fastSettings()
	set.CheckInterval = time.Hour
	h := newHarness(t, set)

	// Tue and Thu at 09:00, starting Monday 08:00.
	if err := h.sch.StartRecurring("Alice", "standup", []int{1, 3}, schedule.TimeOfDay{Hour: 9}, schedule.Weekly); err != nil {
		t.Fatal(err)
	}
	end := t0.AddDate(0, 0, 7)
	h.drive(func() bool { return !h.clk.Now().Before(end) })
	h.sch.Stop()

	sends := h.sends()
	if len(sends) != 2 {
		t.Fatalf("sends = %d, want 2 (%v)", len(sends), sends)
	}
	wantDays := []int{1, 3}
	for i, a := range sends {
		if got := schedule.WeekdayIndex(a.At); got != wantDays[i] {
			t.Fatalf("send %d on weekday %d at %v", i, got, a.At)
		}
		if a.At.Hour() != 9 {
			t.Fatalf("send %d at %v", i, a.At)
		}
	}
	for _, a := range h.drv.Actions() {
		if a.Op == "focus" {
			if d := schedule.WeekdayIndex(a.At); d != 1 && d != 3 {
				t.Fatalf("preparer ran on weekday %d", d)
			}
		}
	}
	if h.sch.Phase() != status.Idle {
		t.Fatal("still running after stop")
	}
}

func TestDecidePoll(t *testing.T) {
	t.Parallel()
	rec := schedule.NewRecurrence(schedule.Weekly, []int{1, 3}, schedule.TimeOfDay{Hour: 9})
	lead := 10 * time.Second
	interval := 15 * time.Second
	tue := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		now       time.Time
		lastFired time.Time
		fire      bool
		sleep     time.Duration
	}{
		{name: "monday skipped", now: tue.AddDate(0, 0, -1).Add(8*time.Hour + 59*time.Minute + 55*time.Second), sleep: interval},
		{name: "wednesday skipped", now: tue.AddDate(0, 0, 1).Add(9 * time.Hour), sleep: interval},
		{name: "far before", now: tue.Add(8 * time.Hour), sleep: interval},
		{name: "approaching lead", now: tue.Add(9*time.Hour - 20*time.Second), sleep: 10 * time.Second},
		{name: "at lead", now: tue.Add(9*time.Hour - 10*time.Second), fire: true},
		{name: "exact instant", now: tue.Add(9 * time.Hour), fire: true},
		{name: "passed", now: tue.Add(9*time.Hour + time.Second), sleep: interval},
		{name: "already fired", now: tue.Add(9*time.Hour - time.Second), lastFired: tue.Add(9 * time.Hour), sleep: interval},
		{name: "thursday", now: tue.AddDate(0, 0, 2).Add(9*time.Hour - 5*time.Second), fire: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			d := decidePoll(tt.now, rec, lead, interval, tt.lastFired)
			if d.fire != tt.fire {
				t.Fatalf("fire = %v (%s), want %v", d.fire, d.reason, tt.fire)
			}
			if !tt.fire && d.sleep != tt.sleep {
				t.Fatalf("sleep = %v, want %v", d.sleep, tt.sleep)
			}
			if tt.fire && !d.target.Equal(rec.At.On(tt.now)) {
				t.Fatalf("target = %v", d.target)
			}
		})
	}
}

func TestSendNowDuringRunningOneShot(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fastSettings())
	deadline := t0.Add(time.Hour)

	if err := h.sch.StartOnce("Alice", "scheduled", deadline); err != nil {
		t.Fatal(err)
	}
	done, err := h.sch.SendNow("Bob", "right now")
	if err != nil {
		t.Fatalf("SendNow: %v", err)
	}
	select {
	case ok := <-done:
		if !ok {
			t.Fatal("immediate send failed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("immediate send did not finish")
	}
	if h.sch.Phase() != status.Running {
		t.Fatal("phase changed by immediate send")
	}
	info := h.sch.Info()
	if info.Active == nil || info.Active.Target != "Alice" || info.Active.Content != "scheduled" {
		t.Fatalf("active schedule altered: %+v", info.Active)
	}

	h.settle()
	st := h.obs.Statuses()
	if len(st) == 0 || st[len(st)-1] != status.Running {
		t.Fatalf("statuses = %s", phases(st))
	}

	h.drv.Reset()
	h.drive(func() bool { return h.sch.Phase() == status.Idle })
	if h.drv.Count("type", "Alice") != 1 || h.drv.Count("type", "scheduled") != 1 || h.drv.Count("type", "Bob") != 0 {
		t.Fatalf("scheduled fire used wrong message: %v", h.drv.Actions())
	}
	if len(h.sends()) != 1 {
		t.Fatalf("sends = %d", len(h.sends()))
	}
}

func TestSendNowWhileIdleEndsIdle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fastSettings())
	done, err := h.sch.SendNow("Bob", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if !<-done {
		t.Fatal("send failed")
	}
	h.settle()
	if got := phases(h.obs.Statuses()); got != "running,idle" {
		t.Fatalf("statuses = %s", got)
	}
	if _, err := h.sch.SendNow(" ", "x"); !errors.Is(err, schedule.ErrEmptyTarget) {
		t.Fatalf("err = %v", err)
	}
}

func TestUpdateSettings(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fastSettings())

	if err := h.sch.UpdateShortcuts(map[string]string{"send_message": "alt+enter"}); err != nil {
		t.Fatal(err)
	}
	if err := h.sch.UpdateDelays(map[string]float64{"prepare_lead_seconds": 3}); err != nil {
		t.Fatal(err)
	}
	if err := h.sch.UpdateDelays(map[string]float64{"bogus": 3}); err == nil {
		t.Fatal("expected error")
	}
	h.sch.UpdateWindowTitle("WeCom")

	got := h.sch.Settings()
	if got.Shortcuts.SendMessage != "alt+enter" || got.Delays.PrepareLead != 3*time.Second || got.WindowTitle != "WeCom" {
		t.Fatalf("settings = %+v", got)
	}

	done, _ := h.sch.SendNow("Bob", "x")
	<-done
	if h.drv.Count("press", "alt+enter") != 1 || h.drv.Count("focus", "WeCom") != 1 {
		t.Fatalf("updated settings not used: %v", h.drv.Actions())
	}
}

func TestHistoriesFanOut(t *testing.T) {
	t.Parallel()
	if Histories(nil, nil) != nil {
		t.Fatal("expected nil for no sinks")
	}
	a, b := &memHistory{}, &memHistory{}
	h := Histories(a, nil, b)
	if err := h.Record(context.Background(), storage.SendRecord{Target: "x"}); err != nil {
		t.Fatal(err)
	}
	if len(a.all()) != 1 || len(b.all()) != 1 {
		t.Fatal("record not fanned out")
	}
}

// stuckFocus blocks FindAndFocus until released, ignoring cancellation.
type stuckFocus struct {
	*driver.Recorder
	entered chan struct{}
	release chan struct{}
}

func (d *stuckFocus) FindAndFocus(title string) (bool, error) {
	close(d.entered)
	<-d.release
	return d.Recorder.FindAndFocus(title)
}

func TestStopGivesUpOnStuckTimingGoroutine(t *testing.T) {
	t.Parallel()
	set := fastSettings()
	set.StopTimeout = 100 * time.Millisecond
	stuck := &stuckFocus{entered: make(chan struct{}), release: make(chan struct{})}
	h := newHarnessWith(t, set, func(r *driver.Recorder) driver.Driver {
		stuck.Recorder = r
		return stuck
	})
	defer close(stuck.release)

	if err := h.sch.StartOnce("Alice", "hi", t0.Add(5*time.Second)); err != nil {
		t.Fatal(err)
	}
	select {
	case <-stuck.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("preparation never reached the window lookup")
	}

	began := time.Now()
	h.sch.Stop()
	if took := time.Since(began); took > time.Second {
		t.Fatalf("Stop took %v with a 100ms stop timeout", took)
	}
	if got := h.sch.Phase(); got != status.Idle {
		t.Fatalf("phase = %v, want idle", got)
	}
	h.settle()
	warned := false
	for _, l := range h.obs.Logs() {
		if strings.Contains(l, ErrJoinTimeout.Error()) {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("no join timeout warning in %q", h.obs.Logs())
	}
	if len(h.sends()) != 0 {
		t.Fatal("sent after stop")
	}
}

func TestCloseWaitsForFinishedRun(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fastSettings())
	boom := errors.New("no focus")
	h.drv.FailNext(boom, boom, boom)

	if err := h.sch.StartOnce("Alice", "hi", t0.Add(5*time.Second)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "idle after failed preparation", func() bool { return h.sch.Phase() == status.Idle })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.sch.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	h.settle()
	n := len(h.obs.Logs())
	h.settle()
	if got := len(h.obs.Logs()); got != n+1 {
		t.Fatalf("events kept arriving after Close: %q", h.obs.Logs()[n:])
	}
}
