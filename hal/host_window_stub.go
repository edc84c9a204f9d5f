//go:build !tinygo && !cgo

package hal

import "errors"

// RunWindow reports that window mode is unavailable in this build.
func RunWindow(func(HAL) func() error, WindowConfig) error {
	return errors.New("window mode requires cgo (build/run with CGO_ENABLED=1)")
}
