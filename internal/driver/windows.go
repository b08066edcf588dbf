//go:build windows && (amd64 || arm64)

package driver

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")

	procEnumWindows          = user32.NewProc("EnumWindows")
	procIsWindowVisible      = user32.NewProc("IsWindowVisible")
	procIsIconic             = user32.NewProc("IsIconic")
	procShowWindow           = user32.NewProc("ShowWindow")
	procGetWindowTextW       = user32.NewProc("GetWindowTextW")
	procGetWindowTextLengthW = user32.NewProc("GetWindowTextLengthW")
	procSetForegroundWindow  = user32.NewProc("SetForegroundWindow")
	procSendInput            = user32.NewProc("SendInput")
)

const (
	inputKeyboard    = 1
	keyeventfExtend  = 0x0001
	keyeventfKeyUp   = 0x0002
	keyeventfUnicode = 0x0004

	swRestore = 9
)

type keyboardInput struct {
	WVK         uint16
	WScan       uint16
	DwFlags     uint32
	Time        uint32
	DwExtraInfo uintptr
}

// input is the 64-bit INPUT layout (40 bytes).
type input struct {
	Type  uint32
	_pad1 uint32
	Ki    keyboardInput
	_pad2 uint64
}

var vkMods = map[string]uint16{
	"ctrl":  0x11,
	"alt":   0x12,
	"shift": 0x10,
	"win":   0x5B,
}

var vkKeys = map[string]uint16{
	"enter":     0x0D,
	"tab":       0x09,
	"esc":       0x1B,
	"space":     0x20,
	"backspace": 0x08,
	"delete":    0x2E,
	"insert":    0x2D,
	"home":      0x24,
	"end":       0x23,
	"pageup":    0x21,
	"pagedown":  0x22,
	"left":      0x25,
	"up":        0x26,
	"right":     0x27,
	"down":      0x28,
	"plus":      0xBB,
	"ctrl":      0x11,
	"alt":       0x12,
	"shift":     0x10,
	"win":       0x5B,
}

// Win32 drives the desktop through user32 SendInput.
type Win32 struct {
	mu sync.Mutex // SendInput batches must not interleave
}

func newWindows(cfg Config) (Driver, error) {
	_ = cfg
	if err := procSendInput.Find(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	return &Win32{}, nil
}

func (w *Win32) FindAndFocus(title string) (bool, error) {
	hwnd := findWindow(title)
	if hwnd == 0 {
		return false, nil
	}
	if r, _, _ := procIsIconic.Call(uintptr(hwnd)); r != 0 {
		procShowWindow.Call(uintptr(hwnd), swRestore)
	}
	if r, _, err := procSetForegroundWindow.Call(uintptr(hwnd)); r == 0 {
		return true, injectionErr("focus", title, err)
	}
	return true, nil
}

// EnumWindows is synchronous, so one callback serves every lookup with its
// state held under enumMu. Callbacks are never freed by the runtime.
var (
	enumMu    sync.Mutex
	enumState windowSearch
	enumProc  = windows.NewCallback(enumWindow)
)

type windowSearch struct {
	want, wantLower string
	exact, partial  windows.Handle
}

// findWindow prefers an exact title match and falls back to the first
// visible window whose title contains the wanted text.
func findWindow(title string) windows.Handle {
	want := strings.TrimSpace(title)
	enumMu.Lock()
	defer enumMu.Unlock()
	enumState = windowSearch{want: want, wantLower: strings.ToLower(want)}
	procEnumWindows.Call(enumProc, 0)
	if enumState.exact != 0 {
		return enumState.exact
	}
	return enumState.partial
}

func enumWindow(h uintptr, _ uintptr) uintptr {
	hwnd := windows.Handle(h)
	if r, _, _ := procIsWindowVisible.Call(h); r == 0 {
		return 1
	}
	t := strings.TrimSpace(windowText(hwnd))
	if t == "" {
		return 1
	}
	st := &enumState
	if t == st.want {
		st.exact = hwnd
		return 0
	}
	if st.partial == 0 && strings.Contains(strings.ToLower(t), st.wantLower) {
		st.partial = hwnd
	}
	return 1
}

func windowText(hwnd windows.Handle) string {
	l, _, _ := procGetWindowTextLengthW.Call(uintptr(hwnd))
	n := int(l)
	if n == 0 {
		return ""
	}
	buf := make([]uint16, n+1)
	procGetWindowTextW.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&buf[0])), uintptr(n+1))
	return windows.UTF16ToString(buf[:n])
}

func sendInput(ins []input) error {
	if len(ins) == 0 {
		return nil
	}
	ret, _, err := procSendInput.Call(
		uintptr(len(ins)),
		uintptr(unsafe.Pointer(&ins[0])),
		unsafe.Sizeof(input{}),
	)
	if int(ret) != len(ins) {
		if err == nil || errors.Is(err, windows.ERROR_SUCCESS) {
			err = fmt.Errorf("SendInput inserted %d of %d events", ret, len(ins))
		}
		return err
	}
	return nil
}

func vkInput(vk uint16, up bool) input {
	flags := uint32(0)
	if up {
		flags |= keyeventfKeyUp
	}
	switch vk {
	case 0x21, 0x22, 0x23, 0x24, 0x25, 0x26, 0x27, 0x28, 0x2D, 0x2E:
		flags |= keyeventfExtend
	}
	return input{Type: inputKeyboard, Ki: keyboardInput{WVK: vk, DwFlags: flags}}
}

// Type sends text as KEYEVENTF_UNICODE units, so it is independent of the
// active keyboard layout and handles CJK text.
func (w *Win32) Type(text string) error {
	units := windows.StringToUTF16(text)
	ins := make([]input, 0, 2*len(units))
	for _, u := range units {
		if u == 0 {
			continue
		}
		ins = append(ins,
			input{Type: inputKeyboard, Ki: keyboardInput{WScan: u, DwFlags: keyeventfUnicode}},
			input{Type: inputKeyboard, Ki: keyboardInput{WScan: u, DwFlags: keyeventfUnicode | keyeventfKeyUp}},
		)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return injectionErr("type", text, sendInput(ins))
}

func (w *Win32) Press(combo string) error {
	c, err := ParseCombo(combo)
	if err != nil {
		return injectionErr("press", combo, err)
	}
	vk, err := keyVK(c.Key)
	if err != nil {
		return injectionErr("press", combo, err)
	}
	ins := make([]input, 0, 2*len(c.Mods)+2)
	for _, m := range c.Mods {
		ins = append(ins, vkInput(vkMods[m], false))
	}
	ins = append(ins, vkInput(vk, false), vkInput(vk, true))
	for i := len(c.Mods) - 1; i >= 0; i-- {
		ins = append(ins, vkInput(vkMods[c.Mods[i]], true))
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return injectionErr("press", combo, sendInput(ins))
}

func keyVK(key string) (uint16, error) {
	if vk, ok := vkKeys[key]; ok {
		return vk, nil
	}
	if len(key) == 1 {
		ch := key[0]
		switch {
		case ch >= 'a' && ch <= 'z':
			return uint16(ch - 'a' + 'A'), nil
		case ch >= '0' && ch <= '9':
			return uint16(ch), nil
		}
	}
	if len(key) >= 2 && key[0] == 'f' {
		var n int
		if _, err := fmt.Sscanf(key[1:], "%d", &n); err == nil && n >= 1 && n <= 24 {
			return uint16(0x70 + n - 1), nil
		}
	}
	return 0, fmt.Errorf("unsupported key %q", key)
}
