// Package uiloop provides a single-goroutine executor. Work that must stay on
// one goroutine (the precise send timer) is posted to it as closures.
package uiloop

import (
	"context"
	"sync"
	"time"

	"autosend/internal/clock"
	logx "autosend/pkg/logx"
)

const defaultQueue = 64

// Loop runs posted closures one at a time, in post order, on the goroutine
// that called Run.
type Loop struct {
	log   logx.Logger
	queue chan func()

	doneOnce sync.Once
	done     chan struct{}
}

func New(log logx.Logger, queue int) *Loop {
	if queue <= 0 {
		queue = defaultQueue
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loop{
		log:   log,
		queue: make(chan func(), queue),
		done:  make(chan struct{}),
	}
}

// Run drains the queue until ctx ends. It returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	defer l.doneOnce.Do(func() { close(l.done) })
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.queue:
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("ui loop task panicked", logx.Any("panic", r))
		}
	}()
	fn()
}

// Post enqueues fn. It reports false when the loop has exited; it blocks
// only while the queue is full.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.queue <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Timer is a one-shot timer owned by a Loop: Arm and Stop must be called
// from loop closures, and the callback is delivered back onto the loop.
type Timer struct {
	loop *Loop
	clk  clock.Clock

	t   clock.Timer
	seq uint64
}

func NewTimer(l *Loop, c clock.Clock) *Timer {
	if c == nil {
		c = clock.Real()
	}
	return &Timer{loop: l, clk: c}
}

// Arm replaces any pending shot with one that runs fn on the loop after d.
func (t *Timer) Arm(d time.Duration, fn func()) {
	t.Stop()
	t.seq++
	seq := t.seq
	t.t = t.clk.AfterFunc(d, func() {
		t.loop.Post(func() {
			if t.seq != seq || t.t == nil {
				return
			}
			t.t = nil
			fn()
		})
	})
}

// Stop cancels the pending shot. It reports whether one was pending.
func (t *Timer) Stop() bool {
	if t.t == nil {
		return false
	}
	t.t.Stop()
	t.t = nil
	t.seq++
	return true
}

// Armed reports whether a shot is pending.
func (t *Timer) Armed() bool { return t.t != nil }
