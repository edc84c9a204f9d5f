// Command kdebug boots a kernel in-process and inspects it from an
// interactive prompt: tasks, objects, semaphores, ports, the clock, and the
// stack manager. Arguments, when given, are run as commands instead.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"newtcore/internal/buildinfo"
	"newtcore/newtos/kernel"

	"github.com/peterh/liner"
)

func main() {
	var cfg kernel.Config
	flag.IntVar(&cfg.Pages, "pages", 64, "Physical pages donated to the stack manager.")
	demoName := flag.String("demo", "", "Demo workload to start at boot.")
	history := flag.String("history", "", "File to keep prompt history in.")
	flag.Parse()

	d, err := newDebugger(os.Stdout, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kdebug:", err)
		os.Exit(1)
	}
	if *demoName != "" {
		d.exec("demo " + *demoName)
	}

	if flag.NArg() > 0 {
		for _, line := range flag.Args() {
			if err := d.exec(line); err != nil {
				os.Exit(1)
			}
			if d.quit {
				break
			}
		}
		return
	}

	fmt.Fprintf(os.Stdout, "kdebug %s; type help for commands\n", buildinfo.Short())
	if err := d.interact(*history); err != nil {
		fmt.Fprintln(os.Stderr, "kdebug:", err)
		os.Exit(1)
	}
}

func (d *debugger) interact(historyPath string) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetTabCompletionStyle(liner.TabPrints)
	line.SetCompleter(d.complete)

	if historyPath != "" {
		if f, err := os.Open(historyPath); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}

	for !d.quit {
		s, err := line.Prompt("kdebug> ")
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(d.out)
			break
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			continue
		}
		line.AppendHistory(s)
		d.exec(s)
	}

	if historyPath != "" {
		f, err := os.Create(historyPath)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		defer f.Close()
		if _, err := line.WriteHistory(f); err != nil {
			return fmt.Errorf("history: %w", err)
		}
	}
	return nil
}
