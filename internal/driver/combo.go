package driver

import (
	"fmt"
	"strings"
)

// Combo is a parsed key combination: zero or more modifiers plus one key.
type Combo struct {
	Mods []string // canonical: ctrl, alt, shift, win
	Key  string   // canonical lower-case key name
}

var modAliases = map[string]string{
	"ctrl":    "ctrl",
	"control": "ctrl",
	"ctl":     "ctrl",
	"alt":     "alt",
	"option":  "alt",
	"menu":    "alt",
	"shift":   "shift",
	"win":     "win",
	"super":   "win",
	"cmd":     "win",
	"meta":    "win",
}

var keyAliases = map[string]string{
	"return":     "enter",
	"ret":        "enter",
	"escape":     "esc",
	"del":        "delete",
	"bksp":       "backspace",
	"spacebar":   "space",
	"pgup":       "pageup",
	"pgdn":       "pagedown",
	"ins":        "insert",
	"arrowup":    "up",
	"arrowdown":  "down",
	"arrowleft":  "left",
	"arrowright": "right",
}

// ParseCombo parses "ctrl+shift+enter" style text. Whitespace and case are
// ignored; modifiers are de-duplicated and ordered ctrl, alt, shift, win.
func ParseCombo(s string) (Combo, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	if raw == "" {
		return Combo{}, fmt.Errorf("empty key combo")
	}
	parts := strings.Split(raw, "+")
	// "ctrl++" means ctrl and the plus key.
	if strings.HasSuffix(raw, "++") {
		parts = append(strings.Split(strings.TrimSuffix(raw, "++"), "+"), "plus")
	}
	var c Combo
	seen := map[string]bool{}
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return Combo{}, fmt.Errorf("invalid key combo %q", s)
		}
		last := i == len(parts)-1
		if m, ok := modAliases[p]; ok && !last {
			seen[m] = true
			continue
		}
		if !last {
			return Combo{}, fmt.Errorf("invalid modifier %q in combo %q", p, s)
		}
		if a, ok := keyAliases[p]; ok {
			p = a
		}
		if m, ok := modAliases[p]; ok {
			// A bare modifier as the key ("shift").
			p = m
		}
		c.Key = p
	}
	for _, m := range []string{"ctrl", "alt", "shift", "win"} {
		if seen[m] {
			c.Mods = append(c.Mods, m)
		}
	}
	return c, nil
}

func (c Combo) String() string {
	if len(c.Mods) == 0 {
		return c.Key
	}
	return strings.Join(c.Mods, "+") + "+" + c.Key
}
