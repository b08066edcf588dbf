// Package clock abstracts the time source used by the scheduler so timing
// behavior can be driven deterministically in tests.
package clock

import (
	"context"
	"time"
)

// Clock is the subset of package time the scheduler depends on.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a stoppable single-fire timer. C is nil for AfterFunc timers.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// Real returns the wall clock.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTimer(d time.Duration) Timer { return realTimer{t: time.NewTimer(d)} }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

type realTimer struct{ t *time.Timer }

func (r realTimer) C() <-chan time.Time { return r.t.C }
func (r realTimer) Stop() bool          { return r.t.Stop() }

// Sleep blocks for d on c, returning ctx.Err() if ctx ends first.
// Non-positive durations return immediately (after a ctx check).
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := c.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}

// Stamp formats t the way send confirmations are reported (HH:MM:SS.mmm).
func Stamp(t time.Time) string { return t.Format("15:04:05.000") }
