//go:build !tinygo

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"newtcore/app"
	"newtcore/hal"
	"newtcore/newtos/tasks/demo"
)

func main() {
	var hcfg hal.HeadlessConfig
	var wcfg hal.WindowConfig
	var cfg app.Config
	flag.BoolVar(&hcfg.Enabled, "headless", false, "Run without a window.")
	flag.IntVar(&hcfg.Hz, "hz", 60, "App steps per second in headless mode.")
	flag.Uint64Var(&hcfg.Frames, "frames", 0, "Stop after N steps in headless mode (0 = run forever).")
	flag.BoolVar(&hcfg.Virtual, "virtual", false, "Headless: advance time per step instead of by the wall clock.")
	flag.IntVar(&wcfg.Speed, "speed", 1, "Kernel clock speed relative to the wall clock.")
	flag.IntVar(&wcfg.Scale, "scale", 2, "Window pixels per framebuffer pixel.")
	flag.StringVar(&cfg.Demo, "demo", "all", "Demo workload to start ("+strings.Join(demo.Names(), ", ")+", or empty).")
	flag.BoolVar(&cfg.Console, "console", true, "Mirror the kernel log onto the display.")
	flag.IntVar(&cfg.StepBudget, "budget", 256, "Kernel steps per host tick.")
	flag.IntVar(&cfg.Kernel.Pages, "pages", 64, "Physical pages donated to the stack manager.")
	flag.Parse()
	hcfg.Speed = wcfg.Speed

	newApp := func(h hal.HAL) func() error {
		step, err := app.New(h, cfg)
		if err != nil {
			return func() error { return err }
		}
		return step
	}

	if hcfg.Enabled {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if err := hal.RunHeadless(ctx, newApp, hcfg); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, app.ErrHalted) {
				return
			}
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := hal.RunWindow(newApp, wcfg); err != nil && !errors.Is(err, app.ErrHalted) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
