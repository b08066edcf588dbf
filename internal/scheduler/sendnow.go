package scheduler

import (
	"context"
	"fmt"

	"autosend/internal/clock"
	"autosend/internal/schedule"
	"autosend/internal/status"
	"autosend/internal/storage"
	logx "autosend/pkg/logx"
)

const kindNow = "now"

// SendNow prepares and sends a message immediately on its own worker,
// independent of any active schedule, which it never modifies. The
// returned channel yields the outcome once.
func (s *Scheduler) SendNow(target, content string) (<-chan bool, error) {
	if err := schedule.ValidateMessage(target, content); err != nil {
		s.reject(err)
		return nil, err
	}
	done := make(chan bool, 1)
	ok := s.spawn("send-now", func() {
		sent := false
		defer func() { done <- sent }()
		sent = s.sendNow(target, content)
	})
	if !ok {
		return nil, ErrClosed
	}
	return done, nil
}

func (s *Scheduler) sendNow(target, content string) bool {
	s.emit.EmitStatus(status.Running)
	defer func() { s.emit.EmitStatus(s.Phase()) }()

	s.emit.EmitLog(fmt.Sprintf("sending to %q now", target))
	set := s.Settings()
	res, err := s.prep.Prepare(s.ctx, target, content, set)
	if err != nil {
		s.record(target, kindNow, storage.StagePrepare, res, err)
		s.emit.EmitLog("immediate send abandoned: preparation failed")
		return false
	}
	res, err = s.prep.Send(s.ctx, set)
	s.record(target, kindNow, storage.StageSend, res, err)
	if err != nil {
		s.log.Error("immediate send failed", logx.String("target", target), logx.Err(err))
		s.emit.EmitLog(fmt.Sprintf("send failed after %d attempt(s): %v", res.Attempts, err))
		return false
	}
	s.emit.EmitLog(fmt.Sprintf("message sent to %q at %s", target, clock.Stamp(s.clk.Now())))
	return true
}

// SelfTest presses the search sequence once for target so the user can
// check that shortcuts reach the client.
func (s *Scheduler) SelfTest(ctx context.Context, target string) error {
	return s.prep.SelfTest(ctx, target, s.Settings())
}
