package scheduler

import (
	"context"
	"fmt"
	"time"

	"autosend/internal/clock"
	"autosend/internal/schedule"
	"autosend/internal/storage"
	logx "autosend/pkg/logx"
)

// beginPreciseFire prepares the message on the calling (timing) goroutine,
// then arranges for the send keystroke at deadline.
func (s *Scheduler) beginPreciseFire(ctx context.Context, gen uint64, spec schedule.Spec, deadline time.Time) {
	if !s.current(gen) {
		return
	}
	res, err := s.prep.Prepare(ctx, spec.Target, spec.Content, s.Settings())
	if !s.current(gen) {
		s.log.Debug("discarding stale preparation", logx.Uint64("gen", gen))
		return
	}
	if err != nil {
		s.record(spec.Target, spec.Kind.String(), storage.StagePrepare, res, err)
		s.log.Warn("preparation failed", logx.String("target", spec.Target), logx.Int("attempts", res.Attempts), logx.Err(err))
		if spec.Kind == schedule.OneShot {
			s.finish(gen, "preparation failed, schedule abandoned")
		} else {
			s.emit.EmitLog("preparation failed, skipping this occurrence")
		}
		return
	}

	remaining := deadline.Sub(s.clk.Now())
	if remaining <= 0 {
		s.emit.EmitLog("deadline passed during preparation, sending now")
		s.fire(ctx, gen, spec)
		return
	}
	s.log.Debug("arming precise timer", logx.Duration("in", remaining), logx.Uint64("gen", gen))
	if s.armPrecise(ctx, gen, spec, deadline) {
		return
	}
	// The UI loop is gone; wait out the remainder here.
	s.log.Warn("ui loop unavailable, timing send on the worker")
	if err := clock.Sleep(ctx, s.clk, remaining); err != nil {
		return
	}
	s.fire(ctx, gen, spec)
}

// armPrecise posts the timer arm to the UI loop. The timer callback only
// hands the send to a worker so the loop never blocks on injection.
func (s *Scheduler) armPrecise(ctx context.Context, gen uint64, spec schedule.Spec, deadline time.Time) bool {
	return s.loop.Post(func() {
		if !s.current(gen) {
			return
		}
		s.timer.Arm(deadline.Sub(s.clk.Now()), func() {
			if !s.current(gen) {
				return
			}
			s.spawn("fire", func() { s.fire(ctx, gen, spec) })
		})
	})
}

// fire presses the send shortcut for spec.
func (s *Scheduler) fire(ctx context.Context, gen uint64, spec schedule.Spec) {
	if !s.current(gen) {
		return
	}
	res, err := s.prep.Send(ctx, s.Settings())
	s.record(spec.Target, spec.Kind.String(), storage.StageSend, res, err)
	if err != nil {
		s.log.Error("send failed", logx.String("target", spec.Target), logx.Int("attempts", res.Attempts), logx.Err(err))
		s.emit.EmitLog(fmt.Sprintf("send failed after %d attempt(s): %v", res.Attempts, err))
	} else {
		at := s.clk.Now()
		s.log.Info("message sent", logx.String("target", spec.Target), logx.Time("at", at))
		s.emit.EmitLog(fmt.Sprintf("message sent to %q at %s", spec.Target, clock.Stamp(at)))
	}

	if spec.Kind == schedule.OneShot {
		s.finish(gen, "one-shot schedule completed")
		return
	}
	s.logNext(spec.Recurrence)
}
