package driver

import (
	"sync"
	"time"

	"autosend/internal/clock"
	logx "autosend/pkg/logx"
)

// Action is one recorded driver call.
type Action struct {
	Op  string // "focus", "type", "press"
	Arg string
	At  time.Time
}

// Recorder is a Driver that performs no OS calls. It backs the dry-run mode
// and the scheduler tests; failures can be scripted with FailNext.
type Recorder struct {
	clk clock.Clock
	log logx.Logger

	mu          sync.Mutex
	actions     []Action
	windowFound bool
	failures    []error
	hook        func(Action)
}

// NewRecorder returns a recorder stamping actions with c (wall clock if nil).
func NewRecorder(c clock.Clock, log logx.Logger) *Recorder {
	if c == nil {
		c = clock.Real()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{clk: c, log: log, windowFound: true}
}

// SetWindowFound controls the result of FindAndFocus.
func (r *Recorder) SetWindowFound(found bool) {
	r.mu.Lock()
	r.windowFound = found
	r.mu.Unlock()
}

// FailNext makes the next len(errs) type/press calls return those errors.
func (r *Recorder) FailNext(errs ...error) {
	r.mu.Lock()
	r.failures = append(r.failures, errs...)
	r.mu.Unlock()
}

// OnAction installs a callback invoked (outside the lock) after each
// successful action.
func (r *Recorder) OnAction(fn func(Action)) {
	r.mu.Lock()
	r.hook = fn
	r.mu.Unlock()
}

func (r *Recorder) FindAndFocus(title string) (bool, error) {
	r.mu.Lock()
	found := r.windowFound
	r.mu.Unlock()
	r.record("focus", title)
	return found, nil
}

func (r *Recorder) Type(text string) error {
	if err := r.nextFailure(); err != nil {
		return injectionErr("type", text, err)
	}
	r.record("type", text)
	return nil
}

func (r *Recorder) Press(combo string) error {
	c, err := ParseCombo(combo)
	if err != nil {
		return injectionErr("press", combo, err)
	}
	if err := r.nextFailure(); err != nil {
		return injectionErr("press", combo, err)
	}
	r.record("press", c.String())
	return nil
}

func (r *Recorder) nextFailure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.failures) == 0 {
		return nil
	}
	err := r.failures[0]
	r.failures = r.failures[1:]
	return err
}

func (r *Recorder) record(op, arg string) {
	a := Action{Op: op, Arg: arg, At: r.clk.Now()}
	r.mu.Lock()
	r.actions = append(r.actions, a)
	hook := r.hook
	r.mu.Unlock()
	r.log.Debug("driver action (dry run)", logx.String("op", op), logx.String("arg", arg))
	if hook != nil {
		hook(a)
	}
}

// Actions returns a copy of everything recorded so far.
func (r *Recorder) Actions() []Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Action(nil), r.actions...)
}

// Count returns how many recorded actions match op and arg.
func (r *Recorder) Count(op, arg string) int {
	n := 0
	for _, a := range r.Actions() {
		if a.Op == op && a.Arg == arg {
			n++
		}
	}
	return n
}

// Reset clears recorded actions.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.actions = nil
	r.mu.Unlock()
}
