package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced Clock. Timers fire only from Advance/Set.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*fakeTimer
}

type fakeTimer struct {
	f    *Fake
	id   uint64
	when time.Time
	ch   chan time.Time
	fn   func()
}

// NewFake returns a fake clock positioned at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) NewTimer(d time.Duration) Timer {
	t := &fakeTimer{f: f, ch: make(chan time.Time, 1)}
	f.add(t, d)
	return t
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	t := &fakeTimer{f: f, fn: fn}
	f.add(t, d)
	return t
}

func (f *Fake) add(t *fakeTimer, d time.Duration) {
	f.mu.Lock()
	f.seq++
	t.id = f.seq
	t.when = f.now.Add(d)
	f.timers = append(f.timers, t)
	f.mu.Unlock()
	if d <= 0 {
		// Match time.NewTimer(0): due immediately.
		f.Advance(0)
	}
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) Stop() bool {
	f := t.f
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, x := range f.timers {
		if x == t {
			f.timers = append(f.timers[:i], f.timers[i+1:]...)
			return true
		}
	}
	return false
}

// Pending reports how many timers are armed.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// NextDeadline returns the earliest armed timer deadline.
func (f *Fake) NextDeadline() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.timers) == 0 {
		return time.Time{}, false
	}
	next := f.timers[0].when
	for _, t := range f.timers[1:] {
		if t.when.Before(next) {
			next = t.when
		}
	}
	return next, true
}

// Advance moves the clock forward by d, firing due timers in deadline order.
// AfterFunc callbacks run synchronously on the caller's goroutine.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()
	f.Set(target)
}

// Set moves the clock to t (never backwards), firing due timers.
func (f *Fake) Set(target time.Time) {
	for {
		f.mu.Lock()
		if target.Before(f.now) {
			target = f.now
		}
		sort.SliceStable(f.timers, func(i, j int) bool {
			if f.timers[i].when.Equal(f.timers[j].when) {
				return f.timers[i].id < f.timers[j].id
			}
			return f.timers[i].when.Before(f.timers[j].when)
		})
		if len(f.timers) == 0 || f.timers[0].when.After(target) {
			f.now = target
			f.mu.Unlock()
			return
		}
		t := f.timers[0]
		f.timers = f.timers[1:]
		if t.when.After(f.now) {
			f.now = t.when
		}
		now := f.now
		f.mu.Unlock()

		if t.fn != nil {
			t.fn()
			continue
		}
		select {
		case t.ch <- now:
		default:
		}
	}
}

// BlockUntil waits (in real time, up to limit) until at least n timers are
// armed. It reports whether the condition was met.
func (f *Fake) BlockUntil(n int, limit time.Duration) bool {
	deadline := time.Now().Add(limit)
	for {
		if f.Pending() >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}
