package clock

import (
	"context"
	"testing"
	"time"
)

func TestFakeFiresInDeadlineOrder(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	f := NewFake(start)

	var order []string
	f.AfterFunc(3*time.Second, func() { order = append(order, "c") })
	f.AfterFunc(time.Second, func() { order = append(order, "a") })
	f.AfterFunc(2*time.Second, func() { order = append(order, "b") })

	f.Advance(2 * time.Second)
	if got := len(order); got != 2 {
		t.Fatalf("fired %d timers, want 2", got)
	}
	f.Advance(time.Second)
	if order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("order = %v", order)
	}
	if !f.Now().Equal(start.Add(3 * time.Second)) {
		t.Fatalf("Now = %v", f.Now())
	}
}

func TestFakeStop(t *testing.T) {
	t.Parallel()
	f := NewFake(time.Unix(0, 0))
	fired := false
	tm := f.AfterFunc(time.Second, func() { fired = true })
	if !tm.Stop() {
		t.Fatal("Stop on armed timer returned false")
	}
	if tm.Stop() {
		t.Fatal("second Stop returned true")
	}
	f.Advance(time.Minute)
	if fired {
		t.Fatal("stopped timer fired")
	}
}

func TestSleepHonorsContext(t *testing.T) {
	t.Parallel()
	f := NewFake(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- Sleep(ctx, f, time.Hour) }()

	if !f.BlockUntil(1, 2*time.Second) {
		t.Fatal("sleep never armed a timer")
	}
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Sleep err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Sleep did not return after cancel")
	}
}

func TestSleepWakesOnAdvance(t *testing.T) {
	t.Parallel()
	f := NewFake(time.Unix(0, 0))
	done := make(chan error, 1)
	go func() { done <- Sleep(context.Background(), f, 10*time.Second) }()

	if !f.BlockUntil(1, 2*time.Second) {
		t.Fatal("sleep never armed a timer")
	}
	f.Advance(9 * time.Second)
	select {
	case <-done:
		t.Fatal("Sleep returned early")
	case <-time.After(20 * time.Millisecond):
	}
	f.Advance(time.Second)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Sleep err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Sleep did not wake")
	}
}

func TestStamp(t *testing.T) {
	t.Parallel()
	ts := time.Date(2025, 4, 1, 9, 5, 7, 123_456_789, time.UTC)
	if got := Stamp(ts); got != "09:05:07.123" {
		t.Fatalf("Stamp = %q", got)
	}
}
