// Package scheduler owns the single active send schedule. A timing
// goroutine waits until the preparation lead before each deadline, runs
// the preparer, then hands the exact send instant to a timer that lives on
// the UI loop. Every callback carries the generation it was started under
// and does nothing once that generation is stale.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"autosend/internal/clock"
	"autosend/internal/driver"
	"autosend/internal/prepare"
	"autosend/internal/retry"
	"autosend/internal/runtime/supervisor"
	"autosend/internal/schedule"
	"autosend/internal/settings"
	"autosend/internal/status"
	"autosend/internal/storage"
	"autosend/internal/uiloop"
	logx "autosend/pkg/logx"
)

var (
	ErrAlreadyRunning = errors.New("a schedule is already running")
	ErrJoinTimeout    = errors.New("timing goroutine did not exit before the stop timeout")
	ErrClosed         = errors.New("scheduler closed")
)

// History receives one record per prepare failure and per send attempt.
type History interface {
	Record(ctx context.Context, r storage.SendRecord) error
}

type Options struct {
	Driver   driver.Driver
	Clock    clock.Clock
	Loop     *uiloop.Loop
	Status   status.Emitter
	Log      logx.Logger
	Settings settings.Settings
	Location *time.Location // recurring schedules; default time.Local
	History  History        // optional
}

type Scheduler struct {
	clk   clock.Clock
	loop  *uiloop.Loop
	timer *uiloop.Timer // touched only on loop
	emit  status.Emitter
	log   logx.Logger
	prep  *prepare.Preparer
	loc   *time.Location
	hist  History

	ctx    context.Context
	cancel context.CancelFunc

	setMu sync.RWMutex
	set   settings.Settings

	// opMu serializes start/stop requests; mu guards run state.
	opMu    sync.Mutex
	mu      sync.Mutex
	phase   atomic.Int32
	gen     uint64
	active  *schedule.Spec
	run     *supervisor.Supervisor
	retired []*supervisor.Supervisor // canceled by finish, not yet joined
	closed  bool
	workers sync.WaitGroup
}

func New(ctx context.Context, opt Options) (*Scheduler, error) {
	if opt.Driver == nil {
		return nil, errors.New("scheduler: driver is required")
	}
	if opt.Loop == nil {
		return nil, errors.New("scheduler: ui loop is required")
	}
	if opt.Clock == nil {
		opt.Clock = clock.Real()
	}
	if opt.Status == nil {
		opt.Status = status.Discard
	}
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	if opt.Location == nil {
		opt.Location = time.Local
	}
	log := opt.Log.With(logx.String("comp", "scheduler"))
	cctx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		clk:    opt.Clock,
		loop:   opt.Loop,
		timer:  uiloop.NewTimer(opt.Loop, opt.Clock),
		emit:   opt.Status,
		log:    log,
		prep:   prepare.New(opt.Driver, opt.Clock, opt.Log, opt.Status),
		loc:    opt.Location,
		hist:   opt.History,
		ctx:    cctx,
		cancel: cancel,
		set:    opt.Settings.Normalize(),
	}, nil
}

// Phase is safe to call from any goroutine without locking.
func (s *Scheduler) Phase() status.Phase { return status.Phase(s.phase.Load()) }

// Info is a point-in-time view for status displays.
type Info struct {
	Phase  status.Phase
	Active *schedule.Spec
	Next   time.Time // zero when idle or unknown
}

func (s *Scheduler) Info() Info {
	s.mu.Lock()
	info := Info{Phase: s.Phase()}
	if s.active != nil {
		sp := *s.active
		info.Active = &sp
	}
	s.mu.Unlock()
	if info.Active == nil {
		return info
	}
	switch info.Active.Kind {
	case schedule.OneShot:
		info.Next = info.Active.FireAt
	case schedule.Recurring:
		if next, err := info.Active.Recurrence.Next(s.clk.Now().In(s.loc)); err == nil {
			info.Next = next
		}
	}
	return info
}

// ---- settings ----

func (s *Scheduler) Settings() settings.Settings {
	s.setMu.RLock()
	defer s.setMu.RUnlock()
	return s.set
}

// UpdateShortcuts merges combos by key (open_search, send_message,
// line_break). Takes effect at the next prepare or send.
func (s *Scheduler) UpdateShortcuts(m map[string]string) error {
	s.setMu.Lock()
	next, err := s.set.MergeShortcuts(m)
	if err == nil {
		s.set = next
	}
	s.setMu.Unlock()
	if err != nil {
		s.emit.EmitLog("shortcut update rejected: " + err.Error())
		return err
	}
	sc := next.Shortcuts
	s.emit.EmitLog(fmt.Sprintf("shortcuts updated: open search %s, send %s, line break %s", sc.OpenSearch, sc.SendMessage, sc.LineBreak))
	return nil
}

// UpdateDelays merges delays given in seconds by key.
func (s *Scheduler) UpdateDelays(m map[string]float64) error {
	s.setMu.Lock()
	next, err := s.set.MergeDelays(m)
	if err == nil {
		s.set = next
	}
	s.setMu.Unlock()
	if err != nil {
		s.emit.EmitLog("delay update rejected: " + err.Error())
		return err
	}
	d := next.Delays
	s.emit.EmitLog(fmt.Sprintf("delays updated: lead %v, window %v, search %v, result %v, chat %v, line %v",
		d.PrepareLead, d.WindowActivate, d.Search, d.SearchResult, d.ChatOpen, d.PerLine))
	return nil
}

func (s *Scheduler) UpdateWindowTitle(title string) {
	s.setMu.Lock()
	s.set = s.set.WithWindowTitle(title)
	t := s.set.WindowTitle
	s.setMu.Unlock()
	s.emit.EmitLog(fmt.Sprintf("window title set to %q", t))
}

// ApplySettings replaces the whole snapshot (config reload).
func (s *Scheduler) ApplySettings(set settings.Settings) {
	set = set.Normalize()
	s.setMu.Lock()
	s.set = set
	s.setMu.Unlock()
	s.log.Info("settings applied", logx.String("window", set.WindowTitle), logx.Duration("lead", set.Delays.PrepareLead))
}

// ---- run state ----

func (s *Scheduler) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

// activate installs spec as the active schedule and returns the new
// generation with a fresh supervisor for its timing goroutine.
func (s *Scheduler) activate(spec schedule.Spec) (uint64, *supervisor.Supervisor) {
	s.joinRetired(context.Background())
	s.mu.Lock()
	s.gen++
	gen := s.gen
	sp := spec
	s.active = &sp
	sup := supervisor.New(s.ctx, supervisor.WithLogger(s.log))
	s.run = sup
	s.phase.Store(int32(status.Running))
	s.mu.Unlock()
	s.emit.EmitStatus(status.Running)
	return gen, sup
}

// finish ends a completed or abandoned one-shot if gen is still current.
func (s *Scheduler) finish(gen uint64, msg string) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.active = nil
	sup := s.run
	s.run = nil
	s.phase.Store(int32(status.Idle))
	if sup != nil {
		s.retired = append(s.retired, sup)
	}
	s.mu.Unlock()
	if sup != nil {
		sup.Cancel()
	}
	s.emit.EmitLog(msg)
	s.emit.EmitStatus(status.Idle)
}

// halt invalidates the active schedule and waits (bounded) for its timing
// goroutine. It reports false when already idle.
func (s *Scheduler) halt(announce bool) bool {
	s.mu.Lock()
	if s.Phase() == status.Idle {
		s.mu.Unlock()
		return false
	}
	s.gen++
	s.active = nil
	sup := s.run
	s.run = nil
	s.phase.Store(int32(status.Idle))
	s.mu.Unlock()

	s.loop.Post(func() { s.timer.Stop() })
	if sup != nil {
		s.join(context.Background(), sup)
	}
	if announce {
		s.emit.EmitLog("schedule stopped")
		s.emit.EmitStatus(status.Idle)
	}
	return true
}

// join stops sup and waits for it, bounded by StopTimeout and ctx. On
// timeout the goroutine is abandoned; its generation is already stale.
func (s *Scheduler) join(ctx context.Context, sup *supervisor.Supervisor) {
	timeout := s.Settings().StopTimeout
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	switch err := sup.Stop(ctx); {
	case errors.Is(err, context.DeadlineExceeded):
		s.log.Warn("stop proceeding without join", logx.Err(ErrJoinTimeout), logx.Duration("timeout", timeout))
		s.emit.EmitLog("warning: " + ErrJoinTimeout.Error())
	case errors.Is(err, context.Canceled):
	case err != nil:
		s.log.Warn("timing goroutine ended with error", logx.Err(err))
	}
}

// joinRetired waits for the timing goroutines of finished one-shots.
func (s *Scheduler) joinRetired(ctx context.Context) {
	s.mu.Lock()
	sups := s.retired
	s.retired = nil
	s.mu.Unlock()
	for _, sup := range sups {
		s.join(ctx, sup)
	}
}

// Stop cancels the active schedule. Stopping while idle does nothing.
func (s *Scheduler) Stop() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if !s.halt(true) {
		s.log.Debug("stop ignored, already idle")
	}
}

// Close stops the active schedule, refuses new work, and waits for
// in-flight send workers and finished runs until ctx ends.
func (s *Scheduler) Close(ctx context.Context) error {
	s.opMu.Lock()
	s.halt(true)
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.opMu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.joinRetired(ctx)
	return ctx.Err()
}

// spawn runs fn on a worker goroutine tracked by Close.
func (s *Scheduler) spawn(name string, fn func()) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.workers.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.workers.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("worker panicked", logx.String("name", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				s.emit.EmitLog(fmt.Sprintf("internal error in %s: %v", name, r))
			}
		}()
		fn()
	}()
	return true
}

func (s *Scheduler) reject(err error) {
	s.log.Warn("request rejected", logx.Err(err))
	s.emit.EmitLog("error: " + err.Error())
	s.emit.EmitStatus(s.Phase())
}

func (s *Scheduler) record(target, kind, stage string, res retry.Result, err error) {
	if s.hist == nil {
		return
	}
	r := storage.SendRecord{
		At:       s.clk.Now(),
		Target:   target,
		Kind:     kind,
		Stage:    stage,
		OK:       err == nil,
		Attempts: res.Attempts,
		TookMS:   res.Took.Milliseconds(),
	}
	if err != nil {
		r.Error = err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if herr := s.hist.Record(ctx, r); herr != nil {
		s.log.Warn("history record failed", logx.Err(herr))
	}
}

// Histories fans records out to every non-nil sink.
func Histories(hs ...History) History {
	var out multiHistory
	for _, h := range hs {
		if h != nil {
			out = append(out, h)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

type multiHistory []History

func (m multiHistory) Record(ctx context.Context, r storage.SendRecord) error {
	var errs []error
	for _, h := range m {
		if err := h.Record(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
