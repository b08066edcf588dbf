package main

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"autosend/internal/app"
	"autosend/internal/status"

	"github.com/fatih/color"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		line string
		name string
		args []string
		ok   bool
	}{
		{line: "", ok: false},
		{line: "# comment", ok: false},
		{line: "STOP", name: "stop", ok: true},
		{line: "now Alice | hi there", name: "now", args: []string{"Alice", "hi there"}, ok: true},
		{line: "once  Team A |09:30|  a\\nb ", name: "once", args: []string{"Team A", "09:30", `a\nb`}, ok: true},
		{line: "now | ", name: "now", args: []string{"", ""}, ok: true},
	}
	for _, tt := range tests {
		c, ok := parseCommand(tt.line)
		if ok != tt.ok {
			t.Fatalf("parseCommand(%q) ok = %v", tt.line, ok)
		}
		if !ok {
			continue
		}
		if c.name != tt.name || strings.Join(c.args, "\x00") != strings.Join(tt.args, "\x00") {
			t.Fatalf("parseCommand(%q) = %q %q, want %q %q", tt.line, c.name, c.args, tt.name, tt.args)
		}
	}
}

func TestParseAt(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+8", 8*3600)
	now := time.Date(2026, 10, 15, 8, 0, 0, 0, loc)
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2026-10-16 00:00:00", time.Date(2026, 10, 16, 0, 0, 0, 0, loc)},
		{"2026-10-16 07:30", time.Date(2026, 10, 16, 7, 30, 0, 0, loc)},
		{"2026-10-16T07:30:05", time.Date(2026, 10, 16, 7, 30, 5, 0, loc)},
		{"09:15", time.Date(2026, 10, 15, 9, 15, 0, 0, loc)},
		{"07:59:59", time.Date(2026, 10, 15, 7, 59, 59, 0, loc)},
	}
	for _, tt := range tests {
		got, err := parseAt(tt.in, now, loc)
		if err != nil {
			t.Fatalf("parseAt(%q): %v", tt.in, err)
		}
		if !got.Equal(tt.want) {
			t.Fatalf("parseAt(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := parseAt("tomorrow", now, loc); err == nil {
		t.Fatal("expected error")
	}
}

func TestUnescapeMessage(t *testing.T) {
	t.Parallel()
	if got := unescapeMessage(`line one\nline two`); got != "line one\nline two" {
		t.Fatalf("unescape = %q", got)
	}
}

func TestConsoleRendersEvents(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	c := newConsole(&buf)
	c.now = func() time.Time { return time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC) }
	c.OnStatus(status.Running)
	c.OnLog(`message sent to "Alice" at 09:00:00.000`)
	want := "09:00:00 status: running\n09:00:00 message sent to \"Alice\" at 09:00:00.000\n"
	if buf.String() != want {
		t.Fatalf("console = %q, want %q", buf.String(), want)
	}
}

func TestShellCommands(t *testing.T) {
	a, err := app.New(app.Options{DryRun: true, LogLevel: "error"})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop(context.Background())

	var out bytes.Buffer
	sh := &shell{app: a, out: &out}
	in := strings.NewReader(strings.Join([]string{
		"status",
		"once Alice | 2000-01-01 10:00 | hi",
		"recurring Team | monthly | | 09:00 | hi",
		"history",
		"bogus",
		"quit",
		"status",
	}, "\n"))
	if err := sh.run(ctx, in); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"status: idle",
		"send time must be in the future",
		"day-of-month",
		"storage disabled",
		`unknown command "bogus"`,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Count(got, "status: idle") != 1 {
		t.Fatalf("commands after quit were executed:\n%s", got)
	}
}
