// Package retry runs a fallible action a bounded number of times with a
// fixed backoff between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"autosend/internal/clock"
	logx "autosend/pkg/logx"

	backoff "github.com/cenkalti/backoff/v4"
)

// Policy bounds a retry loop.
type Policy struct {
	Attempts int           // total attempts, including the first; <=0 means 1
	Backoff  time.Duration // wait between attempts
}

// Default matches the injection policy: 3 attempts, 1s apart.
var Default = Policy{Attempts: 3, Backoff: time.Second}

// NoRetry marks an error as non-retryable.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e *backoff.PermanentError
	return errors.As(err, &e)
}

// Result describes a finished retry loop.
type Result struct {
	Attempts int
	Took     time.Duration
}

func (p Policy) backOff(ctx context.Context) backoff.BackOffContext {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Backoff), uint64(attempts-1))
	return backoff.WithContext(b, ctx)
}

// Do runs fn until it succeeds, returns a NoRetry error, ctx ends, or the
// attempt budget is exhausted. Panics inside fn are converted to errors.
// Each failed attempt is logged with its attempt number.
func Do(ctx context.Context, c clock.Clock, p Policy, log logx.Logger, op string, fn func(ctx context.Context) error) (Result, error) {
	if c == nil {
		c = clock.Real()
	}
	start := c.Now()
	attempt := 0

	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		err := runGuarded(ctx, fn)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		log.Warn(op+" failed", logx.Int("attempt", attempt), logx.Duration("retry_in", next), logx.Err(err))
	}

	err := backoff.RetryNotifyWithTimer(operation, p.backOff(ctx), notify, &clockTimer{c: c})
	if err != nil && attempt > 0 && ctx.Err() == nil {
		log.Warn(op+" gave up", logx.Int("attempt", attempt), logx.Err(err))
	}
	return Result{Attempts: max(attempt, 1), Took: c.Now().Sub(start)}, err
}

// clockTimer lets backoff wait on a clock.Clock.
type clockTimer struct {
	c clock.Clock
	t clock.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	t.Stop()
	t.t = t.c.NewTimer(d)
}

func (t *clockTimer) Stop() {
	if t.t != nil {
		t.t.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time { return t.t.C() }

func runGuarded(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}
