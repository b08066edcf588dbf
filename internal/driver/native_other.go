//go:build !windows || !(amd64 || arm64)

package driver

import "fmt"

func newWindows(cfg Config) (Driver, error) {
	_ = cfg
	return nil, fmt.Errorf("%w: win32 driver requires 64-bit windows", ErrUnsupported)
}
