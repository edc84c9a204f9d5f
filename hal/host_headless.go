//go:build !tinygo

package hal

import (
	"context"
	"fmt"
	"time"
)

// HeadlessConfig controls the no-window host runner.
type HeadlessConfig struct {
	Enabled bool
	// Hz is the number of app steps per second. Default 60.
	Hz int
	// Frames stops the run after that many app steps; 0 runs until ctx ends.
	Frames uint64
	// Speed multiplies elapsed time before it reaches the kernel. Default 1.
	Speed int
	// Virtual detaches the run from the wall clock: each step advances time
	// by one frame period and steps follow each other without waiting.
	Virtual bool
}

// RunHeadless runs the app without opening a window until ctx ends, the
// app's step returns an error, or Frames steps have run.
func RunHeadless(ctx context.Context, newApp func(HAL) func() error, cfg HeadlessConfig) error {
	if cfg.Hz <= 0 {
		cfg.Hz = 60
	}
	period := time.Second / time.Duration(cfg.Hz)
	if period <= 0 {
		return fmt.Errorf("invalid headless hz: %d", cfg.Hz)
	}
	h := newHostHAL(nil, cfg.Speed)
	step := newApp(h)
	if step == nil {
		return nil
	}

	var tick <-chan time.Time
	if !cfg.Virtual {
		t := time.NewTicker(period)
		defer t.Stop()
		tick = t.C
	}
	for frame := uint64(0); cfg.Frames == 0 || frame < cfg.Frames; frame++ {
		if cfg.Virtual {
			if err := ctx.Err(); err != nil {
				return err
			}
			h.t.advance(period)
		} else {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case now := <-tick:
				h.t.sync(now)
			}
		}
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}
