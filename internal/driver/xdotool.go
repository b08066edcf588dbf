package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Xdotool drives an X11 session through the xdotool binary.
type Xdotool struct {
	path      string
	typeDelay time.Duration
	timeout   time.Duration
}

// NewXdotool resolves the xdotool binary; it fails with ErrUnsupported when
// the binary is missing.
func NewXdotool(cfg Config) (*Xdotool, error) {
	name := strings.TrimSpace(cfg.XdotoolPath)
	if name == "" {
		name = "xdotool"
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found: %v", ErrUnsupported, name, err)
	}
	delay := cfg.TypeDelay
	if delay <= 0 {
		delay = 12 * time.Millisecond
	}
	return &Xdotool{path: path, typeDelay: delay, timeout: 10 * time.Second}, nil
}

func (x *Xdotool) run(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), x.timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, x.path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}
	return stdout.String(), nil
}

func (x *Xdotool) FindAndFocus(title string) (bool, error) {
	out, err := x.run("search", "--onlyvisible", "--name", "^"+regexp.QuoteMeta(title)+"$")
	if err != nil {
		// xdotool exits 1 with empty output when nothing matches.
		var ee *exec.ExitError
		if errors.As(err, &ee) && strings.TrimSpace(out) == "" {
			return false, nil
		}
		return false, injectionErr("focus", title, err)
	}
	ids := strings.Fields(out)
	if len(ids) == 0 {
		return false, nil
	}
	if _, err := x.run("windowactivate", "--sync", ids[0]); err != nil {
		return true, injectionErr("focus", title, err)
	}
	return true, nil
}

func (x *Xdotool) Type(text string) error {
	if text == "" {
		return nil
	}
	ms := strconv.FormatInt(x.typeDelay.Milliseconds(), 10)
	_, err := x.run("type", "--clearmodifiers", "--delay", ms, "--", text)
	return injectionErr("type", text, err)
}

func (x *Xdotool) Press(combo string) error {
	c, err := ParseCombo(combo)
	if err != nil {
		return injectionErr("press", combo, err)
	}
	_, err = x.run("key", "--clearmodifiers", xdotoolKeyspec(c))
	return injectionErr("press", combo, err)
}

var xdotoolKeys = map[string]string{
	"enter":     "Return",
	"esc":       "Escape",
	"tab":       "Tab",
	"space":     "space",
	"backspace": "BackSpace",
	"delete":    "Delete",
	"insert":    "Insert",
	"home":      "Home",
	"end":       "End",
	"pageup":    "Prior",
	"pagedown":  "Next",
	"up":        "Up",
	"down":      "Down",
	"left":      "Left",
	"right":     "Right",
	"plus":      "plus",
	"ctrl":      "ctrl",
	"alt":       "alt",
	"shift":     "shift",
	"win":       "super",
}

func xdotoolKeyspec(c Combo) string {
	parts := make([]string, 0, len(c.Mods)+1)
	for _, m := range c.Mods {
		if m == "win" {
			m = "super"
		}
		parts = append(parts, m)
	}
	key := c.Key
	if k, ok := xdotoolKeys[key]; ok {
		key = k
	} else if len(key) > 1 && key[0] == 'f' {
		if n, err := strconv.Atoi(key[1:]); err == nil && n >= 1 && n <= 24 {
			key = "F" + key[1:]
		}
	}
	parts = append(parts, key)
	return strings.Join(parts, "+")
}
