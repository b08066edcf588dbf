// Package status carries run-state transitions and human-readable log text
// from the scheduler to any number of observers without ever blocking the
// emitting goroutine.
package status

import (
	"sync"
)

// Phase is the only externally visible scheduler status.
type Phase int32

const (
	Idle Phase = iota
	Running
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// Observer receives notifications on a dedicated goroutine per observer.
// Implementations should return quickly; a slow observer only loses its own
// events.
type Observer interface {
	OnLog(text string)
	OnStatus(p Phase)
}

// Emitter is the write side used by the scheduler and its workers.
type Emitter interface {
	EmitLog(text string)
	EmitStatus(p Phase)
}

// Discard is an Emitter that drops everything.
var Discard Emitter = discard{}

type discard struct{}

func (discard) EmitLog(string)    {}
func (discard) EmitStatus(Phase) {}

// Channel fans emitted events out to attached observers.
type Channel struct {
	bus Bus
}

func NewChannel(bus Bus) *Channel {
	if bus == nil {
		bus = NewBus()
	}
	return &Channel{bus: bus}
}

func (c *Channel) Bus() Bus { return c.bus }

func (c *Channel) EmitLog(text string) {
	c.bus.Publish(Event{Kind: KindLog, Text: text})
}

func (c *Channel) EmitStatus(p Phase) {
	c.bus.Publish(Event{Kind: KindStatus, Phase: p})
}

// Attach starts delivering events to o. The returned detach function stops
// delivery and waits for the observer goroutine to finish; it must not be
// called from inside an observer callback.
func (c *Channel) Attach(o Observer, buffer int) (detach func()) {
	ch, unsub := c.bus.Subscribe(buffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range ch {
			dispatch(o, e)
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			unsub()
			<-done
		})
	}
}

func dispatch(o Observer, e Event) {
	// An observer panic must not kill delivery for later events.
	defer func() { _ = recover() }()
	switch e.Kind {
	case KindLog:
		o.OnLog(e.Text)
	case KindStatus:
		o.OnStatus(e.Phase)
	}
}

// Funcs adapts plain functions to Observer. Nil fields are ignored.
type Funcs struct {
	Log    func(text string)
	Status func(p Phase)
}

func (f Funcs) OnLog(text string) {
	if f.Log != nil {
		f.Log(text)
	}
}

func (f Funcs) OnStatus(p Phase) {
	if f.Status != nil {
		f.Status(p)
	}
}

// Recorder is an Observer that keeps everything it sees, for tests and
// diagnostics. Safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	logs     []string
	statuses []Phase
}

func (r *Recorder) OnLog(text string) {
	r.mu.Lock()
	r.logs = append(r.logs, text)
	r.mu.Unlock()
}

func (r *Recorder) OnStatus(p Phase) {
	r.mu.Lock()
	r.statuses = append(r.statuses, p)
	r.mu.Unlock()
}

func (r *Recorder) Logs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.logs...)
}

func (r *Recorder) Statuses() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Phase(nil), r.statuses...)
}
