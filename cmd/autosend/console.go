package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"autosend/internal/status"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// console renders status events as timestamped, colored lines.
type console struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

func newConsole(out io.Writer) *console {
	return &console{out: out, now: time.Now}
}

func (c *console) OnLog(text string) {
	c.print(colorize(text))
}

func (c *console) OnStatus(p status.Phase) {
	label := yellow(p.String())
	if p == status.Running {
		label = cyan(p.String())
	}
	c.print("status: " + bold(label))
}

func (c *console) print(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "%s %s\n", gray(c.now().Format("15:04:05")), line)
}

func colorize(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "failed"), strings.Contains(lower, "abandoned"),
		strings.HasPrefix(text, "[ERROR]"), strings.Contains(lower, "invalid"):
		return red(text)
	case strings.HasPrefix(text, "[WARN]"), strings.Contains(lower, "tight"):
		return yellow(text)
	case strings.Contains(lower, "message sent"):
		return green(text)
	default:
		return text
	}
}

// waitIdle returns a channel closed at the first Idle status after a
// Running one.
func waitIdle(ch *status.Channel) (<-chan struct{}, func()) {
	done := make(chan struct{})
	var once sync.Once
	seenRunning := false
	detach := ch.Attach(status.Funcs{Status: func(p status.Phase) {
		switch p {
		case status.Running:
			seenRunning = true
		case status.Idle:
			if seenRunning {
				once.Do(func() { close(done) })
			}
		}
	}}, 16)
	return done, detach
}
