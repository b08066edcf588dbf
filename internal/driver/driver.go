// Package driver is the boundary to the operating system: it locates and
// focuses the messaging client's window and synthesizes keyboard input.
package driver

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	logx "autosend/pkg/logx"
)

// Activator locates a top-level window by title and brings it to the front.
// found=false with a nil error means no matching window exists.
type Activator interface {
	FindAndFocus(title string) (found bool, err error)
}

// Injector synthesizes keyboard input into whatever window has focus.
// Combos use the "modifier+modifier+key" form, e.g. "ctrl+enter".
type Injector interface {
	Type(text string) error
	Press(combo string) error
}

// Driver is the full capability set consumed by the preparer.
type Driver interface {
	Activator
	Injector
}

var (
	ErrInjection   = errors.New("keystroke injection failed")
	ErrUnsupported = errors.New("input driver not supported on this platform")
)

// InjectionError wraps an OS-level failure while typing or pressing keys.
// It matches ErrInjection with errors.Is.
type InjectionError struct {
	Op  string // "type", "press", "focus"
	Arg string
	Err error
}

func (e *InjectionError) Error() string {
	if e.Arg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Arg, e.Err)
}

func (e *InjectionError) Unwrap() error { return e.Err }

func (e *InjectionError) Is(target error) bool { return target == ErrInjection }

func injectionErr(op, arg string, err error) error {
	if err == nil {
		return nil
	}
	return &InjectionError{Op: op, Arg: arg, Err: err}
}

// Config selects and tunes a driver implementation.
//
// Kind values:
//   - "auto": native driver for the running OS (Win32 on Windows, xdotool elsewhere)
//   - "windows": Win32 SendInput driver
//   - "xdotool": X11 driver shelling out to xdotool
//   - "dryrun": records and logs actions without touching the OS
type Config struct {
	Kind        string
	XdotoolPath string
	TypeDelay   time.Duration // per-character delay where the backend supports it
}

// New constructs the configured driver.
func New(cfg Config, log logx.Logger) (Driver, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	switch kind {
	case "", "auto":
		if runtime.GOOS == "windows" {
			return newWindows(cfg)
		}
		return xdotoolDriver(cfg)
	case "windows", "win32":
		return newWindows(cfg)
	case "xdotool", "x11":
		return xdotoolDriver(cfg)
	case "dryrun", "dry-run", "none":
		return NewRecorder(nil, log), nil
	default:
		return nil, fmt.Errorf("unknown driver kind %q", cfg.Kind)
	}
}

func xdotoolDriver(cfg Config) (Driver, error) {
	x, err := NewXdotool(cfg)
	if err != nil {
		return nil, err
	}
	return x, nil
}
