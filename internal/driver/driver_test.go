package driver

import (
	"errors"
	"testing"

	logx "autosend/pkg/logx"
)

func TestParseCombo(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{in: "ctrl+enter", want: "ctrl+enter"},
		{in: " Alt+S ", want: "alt+s"},
		{in: "shift+return", want: "shift+enter"},
		{in: "shift+ctrl+k", want: "ctrl+shift+k"},
		{in: "control+ctrl+a", want: "ctrl+a"},
		{in: "enter", want: "enter"},
		{in: "ctrl++", want: "ctrl+plus"},
		{in: "cmd+space", want: "win+space"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			c, err := ParseCombo(tt.in)
			if err != nil {
				t.Fatalf("ParseCombo(%q) error: %v", tt.in, err)
			}
			if got := c.String(); got != tt.want {
				t.Fatalf("ParseCombo(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseComboInvalid(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"", "ctrl+", "foo+enter", "+a"} {
		if _, err := ParseCombo(in); err == nil {
			t.Fatalf("ParseCombo(%q) expected error", in)
		}
	}
}

func TestXdotoolKeyspec(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"ctrl+enter":  "ctrl+Return",
		"shift+enter": "shift+Return",
		"alt+s":       "alt+s",
		"win+f5":      "super+F5",
		"esc":         "Escape",
	}
	for in, want := range tests {
		c, err := ParseCombo(in)
		if err != nil {
			t.Fatalf("ParseCombo(%q): %v", in, err)
		}
		if got := xdotoolKeyspec(c); got != want {
			t.Fatalf("xdotoolKeyspec(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRecorderScriptedFailures(t *testing.T) {
	t.Parallel()
	r := NewRecorder(nil, logx.Nop())
	boom := errors.New("boom")
	r.FailNext(boom)

	err := r.Press("ctrl+enter")
	if !errors.Is(err, ErrInjection) || !errors.Is(err, boom) {
		t.Fatalf("Press err = %v, want injection error wrapping boom", err)
	}
	if err := r.Press("Ctrl+Return"); err != nil {
		t.Fatalf("second Press err = %v", err)
	}
	if got := r.Count("press", "ctrl+enter"); got != 1 {
		t.Fatalf("recorded presses = %d, want 1", got)
	}

	r.SetWindowFound(false)
	found, err := r.FindAndFocus("Chat")
	if err != nil || found {
		t.Fatalf("FindAndFocus = %v, %v", found, err)
	}
}

func TestNewDryRun(t *testing.T) {
	t.Parallel()
	d, err := New(Config{Kind: "dryrun"}, logx.Nop())
	if err != nil {
		t.Fatalf("New dryrun: %v", err)
	}
	if _, ok := d.(*Recorder); !ok {
		t.Fatalf("dryrun driver = %T, want *Recorder", d)
	}
	if _, err := New(Config{Kind: "teletype"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
