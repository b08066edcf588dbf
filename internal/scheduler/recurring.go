package scheduler

import (
	"context"
	"fmt"
	"time"

	"autosend/internal/clock"
	"autosend/internal/schedule"
	"autosend/internal/status"
	logx "autosend/pkg/logx"
)

// StartRecurring runs content to target on every selected weekday
// (Monday=0) or day of month at the given time, until stopped. It is
// rejected with ErrAlreadyRunning while any schedule is active.
func (s *Scheduler) StartRecurring(target, content string, selectors []int, at schedule.TimeOfDay, unit schedule.Unit) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.Phase() == status.Running {
		s.emit.EmitLog("a schedule is already running")
		return ErrAlreadyRunning
	}
	if err := schedule.ValidateRecurring(target, content, selectors, unit); err != nil {
		s.reject(err)
		return err
	}

	rec := schedule.NewRecurrence(unit, selectors, at)
	spec := schedule.Spec{Target: target, Content: content, Kind: schedule.Recurring, Recurrence: rec}
	gen, sup := s.activate(spec)
	s.log.Info("recurring scheduled", logx.String("target", target), logx.String("cron", rec.CronSpec()), logx.Uint64("gen", gen))
	s.emit.EmitLog(fmt.Sprintf("recurring schedule started: send to %q %s", target, rec))
	s.logNext(rec)
	sup.Go0("recurring", func(ctx context.Context) { s.runRecurring(ctx, gen, spec) })
	return nil
}

func (s *Scheduler) runRecurring(ctx context.Context, gen uint64, spec schedule.Spec) {
	var lastFired time.Time
	for ctx.Err() == nil && s.current(gen) {
		set := s.Settings()
		d := decidePoll(s.clk.Now().In(s.loc), spec.Recurrence, set.Delays.PrepareLead, set.CheckInterval, lastFired)
		if !d.fire {
			s.log.Trace("recurring poll", logx.String("reason", d.reason), logx.Duration("sleep", d.sleep))
			if err := clock.Sleep(ctx, s.clk, d.sleep); err != nil {
				return
			}
			continue
		}

		lastFired = d.target
		s.emit.EmitLog(fmt.Sprintf("occurrence at %s: preparing", d.target.Format("2006-01-02 15:04:05")))
		s.beginPreciseFire(ctx, gen, spec, d.target)
		if !s.cooldown(ctx, gen, set.Cooldown) {
			return
		}
	}
}

type pollDecision struct {
	fire   bool
	target time.Time
	sleep  time.Duration
	reason string
}

// decidePoll looks at today's occurrence only. Preparation starts once the
// occurrence is within lead; otherwise the loop sleeps at most interval.
func decidePoll(now time.Time, r schedule.Recurrence, lead, interval time.Duration, lastFired time.Time) pollDecision {
	target := r.At.On(now)
	switch {
	case !r.Matches(now):
		return pollDecision{target: target, sleep: interval, reason: "day not selected"}
	case target.Before(now):
		return pollDecision{target: target, sleep: interval, reason: "time passed today"}
	case target.Equal(lastFired):
		return pollDecision{target: target, sleep: interval, reason: "already handled"}
	}
	wait := target.Sub(now)
	if wait <= lead {
		return pollDecision{fire: true, target: target, reason: "within lead"}
	}
	return pollDecision{target: target, sleep: min(interval, wait-lead), reason: "waiting for lead"}
}

// cooldown pauses after an occurrence in one-second steps so Stop is
// noticed promptly. It reports whether the schedule is still current.
func (s *Scheduler) cooldown(ctx context.Context, gen uint64, d time.Duration) bool {
	for d > 0 {
		if !s.current(gen) {
			return false
		}
		step := min(d, time.Second)
		if err := clock.Sleep(ctx, s.clk, step); err != nil {
			return false
		}
		d -= step
	}
	return s.current(gen)
}

func (s *Scheduler) logNext(r schedule.Recurrence) {
	next, err := r.Next(s.clk.Now().In(s.loc))
	if err != nil {
		s.log.Warn("next occurrence unknown", logx.Err(err))
		return
	}
	s.emit.EmitLog(fmt.Sprintf("next occurrence: %s (%s)", next.Format("Mon 2006-01-02 15:04:05"), schedule.WeekdayName(schedule.WeekdayIndex(next))))
}
