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

// StartOnce schedules content to be sent to target at fireAt. A one-shot
// replaces whatever schedule is currently active.
func (s *Scheduler) StartOnce(target, content string, fireAt time.Time) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := schedule.ValidateOnce(target, content, fireAt, s.clk.Now()); err != nil {
		s.reject(err)
		return err
	}
	if s.Phase() == status.Running {
		s.emit.EmitLog("replacing the current schedule")
		s.halt(false)
	}

	spec := schedule.Spec{Target: target, Content: content, Kind: schedule.OneShot, FireAt: fireAt}
	gen, sup := s.activate(spec)
	s.log.Info("one-shot scheduled", logx.String("target", target), logx.Time("fire_at", fireAt), logx.Uint64("gen", gen))
	s.emit.EmitLog(fmt.Sprintf("one-shot schedule started: send to %q at %s", target, fireAt.Format("2006-01-02 15:04:05")))
	sup.Go0("once", func(ctx context.Context) { s.runOnce(ctx, gen, spec) })
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context, gen uint64, spec schedule.Spec) {
	lead := s.Settings().Delays.PrepareLead
	remaining := spec.FireAt.Sub(s.clk.Now())
	if remaining > lead {
		wait := remaining - lead
		s.emit.EmitLog(fmt.Sprintf("preparation begins in %.2fs", wait.Seconds()))
		if err := clock.Sleep(ctx, s.clk, wait); err != nil {
			return
		}
	} else {
		s.emit.EmitLog("time is tight, preparing now")
	}
	s.beginPreciseFire(ctx, gen, spec, spec.FireAt)
}
