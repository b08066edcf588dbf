package settings

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	t.Parallel()
	s := Defaults()
	if s.Shortcuts.OpenSearch != "alt+s" || s.Shortcuts.SendMessage != "ctrl+enter" {
		t.Fatalf("shortcuts = %+v", s.Shortcuts)
	}
	if s.Delays.PrepareLead != 10*time.Second || s.Delays.SearchResult != 1500*time.Millisecond {
		t.Fatalf("delays = %+v", s.Delays)
	}
	if s.Retry.Attempts != 3 || s.Retry.Backoff != time.Second {
		t.Fatalf("retry = %+v", s.Retry)
	}
}

func TestMergeShortcuts(t *testing.T) {
	t.Parallel()
	base := Defaults()
	got, err := base.MergeShortcuts(map[string]string{
		KeySendMessage: "Enter",
		KeyOpenSearch:  "",
	})
	if err != nil {
		t.Fatalf("MergeShortcuts: %v", err)
	}
	if got.Shortcuts.SendMessage != "enter" || got.Shortcuts.OpenSearch != "alt+s" {
		t.Fatalf("shortcuts = %+v", got.Shortcuts)
	}
	if base.Shortcuts.SendMessage != "ctrl+enter" {
		t.Fatal("merge mutated the receiver")
	}

	if _, err := base.MergeShortcuts(map[string]string{"bogus": "ctrl+a"}); err == nil {
		t.Fatal("expected error for unknown shortcut")
	}
	if _, err := base.MergeShortcuts(map[string]string{KeyOpenSearch: "ctrl+"}); err == nil {
		t.Fatal("expected error for invalid combo")
	}
}

func TestMergeDelays(t *testing.T) {
	t.Parallel()
	base := Defaults()
	got, err := base.MergeDelays(map[string]float64{
		KeyPrepareLead: 5,
		KeyPerLine:     0.25,
	})
	if err != nil {
		t.Fatalf("MergeDelays: %v", err)
	}
	if got.Delays.PrepareLead != 5*time.Second || got.Delays.PerLine != 250*time.Millisecond {
		t.Fatalf("delays = %+v", got.Delays)
	}
	if got.Delays.Search != time.Second {
		t.Fatalf("untouched delay changed: %v", got.Delays.Search)
	}

	bad := []map[string]float64{
		{KeySearch: -1},
		{"nap_seconds": 1},
	}
	for _, m := range bad {
		out, err := base.MergeDelays(m)
		if err == nil {
			t.Fatalf("MergeDelays(%v) expected error", m)
		}
		if out.Delays != base.Delays {
			t.Fatalf("failed merge returned modified settings: %+v", out.Delays)
		}
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	s := Settings{}.Normalize()
	d := Defaults()
	if s.WindowTitle != d.WindowTitle || s.CheckInterval != d.CheckInterval || s.Retry != d.Retry {
		t.Fatalf("Normalize = %+v", s)
	}
	if got := d.WithWindowTitle("  "); got.WindowTitle != DefaultWindowTitle {
		t.Fatalf("blank title replaced: %q", got.WindowTitle)
	}
}
