// Package prepare drives the messaging client into a state where a single
// send keystroke delivers the message: window focused, chat open, message
// typed into the input box.
package prepare

import (
	"context"
	"fmt"
	"strings"
	"time"

	"autosend/internal/clock"
	"autosend/internal/driver"
	"autosend/internal/retry"
	"autosend/internal/settings"
	"autosend/internal/status"
	logx "autosend/pkg/logx"
)

const confirmKey = "enter"

// Preparer sequences driver calls. It holds no per-run state and is safe
// for concurrent use, although concurrent runs would interleave keystrokes.
type Preparer struct {
	drv  driver.Driver
	clk  clock.Clock
	log  logx.Logger
	emit status.Emitter
}

func New(drv driver.Driver, c clock.Clock, log logx.Logger, emit status.Emitter) *Preparer {
	if c == nil {
		c = clock.Real()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if emit == nil {
		emit = status.Discard
	}
	return &Preparer{drv: drv, clk: c, log: log.With(logx.String("comp", "prepare")), emit: emit}
}

// Prepare opens the chat named target and types content, retrying the whole
// sequence under s.Retry. It stops between steps (and between message
// lines) as soon as ctx ends.
func (p *Preparer) Prepare(ctx context.Context, target, content string, s settings.Settings) (retry.Result, error) {
	lines := SplitLines(content)
	p.emit.EmitLog(fmt.Sprintf("preparing message for %q (%d line(s))", target, len(lines)))
	res, err := retry.Do(ctx, p.clk, s.Retry, p.log, "prepare", func(ctx context.Context) error {
		return p.attempt(ctx, target, lines, s)
	})
	if err != nil {
		p.emit.EmitLog(fmt.Sprintf("message preparation failed after %d attempt(s): %v", res.Attempts, err))
		return res, err
	}
	p.emit.EmitLog("message prepared, waiting to send")
	return res, nil
}

func (p *Preparer) attempt(ctx context.Context, target string, lines []string, s settings.Settings) error {
	found, err := p.drv.FindAndFocus(s.WindowTitle)
	if err != nil {
		return err
	}
	if !found {
		p.log.Warn("window not found, typing into the focused window", logx.String("title", s.WindowTitle))
		p.emit.EmitLog(fmt.Sprintf("warning: window %q not found", s.WindowTitle))
	}
	if err := p.sleep(ctx, s.Delays.WindowActivate); err != nil {
		return err
	}

	if err := p.press(ctx, s.Shortcuts.OpenSearch, s.Delays.Search); err != nil {
		return err
	}
	if err := p.typeText(ctx, target, s.Delays.SearchResult); err != nil {
		return err
	}
	if err := p.press(ctx, confirmKey, s.Delays.ChatOpen); err != nil {
		return err
	}

	for i, line := range lines {
		if err := ctx.Err(); err != nil {
			p.log.Debug("preparation canceled mid-message", logx.Int("line", i))
			return err
		}
		if line != "" {
			if err := p.drv.Type(line); err != nil {
				return err
			}
		}
		if err := p.drv.Press(s.Shortcuts.LineBreak); err != nil {
			return err
		}
		if err := p.sleep(ctx, s.Delays.PerLine); err != nil {
			return err
		}
	}
	return nil
}

func (p *Preparer) press(ctx context.Context, combo string, wait time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.drv.Press(combo); err != nil {
		return err
	}
	return p.sleep(ctx, wait)
}

func (p *Preparer) typeText(ctx context.Context, text string, wait time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.drv.Type(text); err != nil {
		return err
	}
	return p.sleep(ctx, wait)
}

func (p *Preparer) sleep(ctx context.Context, d time.Duration) error {
	return clock.Sleep(ctx, p.clk, d)
}

// Send presses the send shortcut with the same retry policy as Prepare.
func (p *Preparer) Send(ctx context.Context, s settings.Settings) (retry.Result, error) {
	return retry.Do(ctx, p.clk, s.Retry, p.log, "send", func(context.Context) error {
		return p.drv.Press(s.Shortcuts.SendMessage)
	})
}

// SelfTest runs the search sequence once (open search, type target,
// confirm) with one-second pauses, to check that shortcuts reach the client.
func (p *Preparer) SelfTest(ctx context.Context, target string, s settings.Settings) error {
	if strings.TrimSpace(target) == "" {
		return fmt.Errorf("self test: empty target")
	}
	p.emit.EmitLog("keyboard self test started")
	steps := []struct {
		desc string
		run  func() error
	}{
		{"open search", func() error { return p.drv.Press(s.Shortcuts.OpenSearch) }},
		{"type target", func() error { return p.drv.Type(target) }},
		{"confirm", func() error { return p.drv.Press(confirmKey) }},
	}
	for _, st := range steps {
		p.emit.EmitLog("self test: " + st.desc)
		if err := st.run(); err != nil {
			p.emit.EmitLog(fmt.Sprintf("keyboard self test failed: %v", err))
			return fmt.Errorf("self test %s: %w", st.desc, err)
		}
		if err := p.sleep(ctx, time.Second); err != nil {
			return err
		}
	}
	p.emit.EmitLog("keyboard self test passed")
	return nil
}

// SplitLines splits content on newlines, trimming a trailing CR per line.
func SplitLines(content string) []string {
	lines := strings.Split(content, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
