package status

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestChannelPreservesEmitterOrder(t *testing.T) {
	t.Parallel()
	c := NewChannel(nil)
	rec := &Recorder{}
	detach := c.Attach(rec, 256)
	defer detach()

	for i := 0; i < 100; i++ {
		c.EmitLog(fmt.Sprintf("line %d", i))
	}
	waitFor(t, func() bool { return len(rec.Logs()) == 100 })
	for i, l := range rec.Logs() {
		if want := fmt.Sprintf("line %d", i); l != want {
			t.Fatalf("logs[%d] = %q, want %q", i, l, want)
		}
	}
}

func TestChannelDoesNotBlockOnSlowObserver(t *testing.T) {
	t.Parallel()
	c := NewChannel(nil)
	release := make(chan struct{})
	detach := c.Attach(Funcs{Log: func(string) { <-release }}, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			c.EmitLog("x")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("EmitLog blocked on a slow observer")
	}
	if c.Bus().Dropped() == 0 {
		t.Fatal("expected drops for a full observer queue")
	}
	close(release)
	detach()
}

func TestChannelStatusAndPanicIsolation(t *testing.T) {
	t.Parallel()
	c := NewChannel(nil)
	rec := &Recorder{}
	d1 := c.Attach(Funcs{Status: func(Phase) { panic("boom") }}, 8)
	d2 := c.Attach(rec, 8)
	defer d1()
	defer d2()

	c.EmitStatus(Running)
	c.EmitStatus(Idle)
	waitFor(t, func() bool { return len(rec.Statuses()) == 2 })
	got := rec.Statuses()
	if got[0] != Running || got[1] != Idle {
		t.Fatalf("statuses = %v", got)
	}
}

func TestPhaseString(t *testing.T) {
	t.Parallel()
	if Idle.String() != "idle" || Running.String() != "running" || Phase(9).String() != "unknown" {
		t.Fatal("unexpected phase names")
	}
}

func TestBusPublishDuringUnsubscribe(t *testing.T) {
	t.Parallel()
	b := NewBus()
	ch, unsub := b.Subscribe(4)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			b.Publish(Event{Kind: KindLog, Text: fmt.Sprintf("line %d", i)})
		}(i)
	}
	close(start)
	unsub()
	wg.Wait()

	n := 0
	for range ch {
		n++
	}
	if n > 4 {
		t.Fatalf("received %d events on a 4-slot subscription", n)
	}
	b.Publish(Event{Kind: KindLog, Text: "after"})
	unsub()
}
