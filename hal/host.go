//go:build !tinygo

package hal

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Console framebuffer size on the host.
const (
	hostWidth  = 480
	hostHeight = 320
)

type hostHAL struct {
	logger *hostLogger
	fb     *hostFramebuffer
	t      *hostClock
}

// New returns a host HAL implementation logging to stdout.
func New() HAL { return NewWithLog(os.Stdout) }

// NewWithLog returns a host HAL whose logger writes to w.
func NewWithLog(w io.Writer) HAL { return newHostHAL(w, 1) }

// newHostHAL builds a host HAL whose clock runs speed times faster than
// the wall clock. A nil w logs to stdout.
func newHostHAL(w io.Writer, speed int) *hostHAL {
	if w == nil {
		w = os.Stdout
	}
	return &hostHAL{
		logger: &hostLogger{w: w},
		fb:     newHostFramebuffer(hostWidth, hostHeight),
		t:      newHostClock(speed),
	}
}

func (h *hostHAL) Logger() Logger   { return h.logger }
func (h *hostHAL) Display() Display { return hostDisplay{fb: h.fb} }
func (h *hostHAL) Time() Time       { return h.t }

type hostDisplay struct {
	fb *hostFramebuffer
}

func (d hostDisplay) Framebuffer() Framebuffer { return d.fb }

type hostLogger struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *hostLogger) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, s)
}

func (l *hostLogger) WriteLineBytes(b []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Write(b)
	l.w.Write([]byte{'\n'})
}

// LineBuffer is a Logger that keeps the lines written to it.
type LineBuffer struct {
	mu    sync.Mutex
	lines []string
}

func (b *LineBuffer) WriteLineString(s string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, s)
}

func (b *LineBuffer) WriteLineBytes(p []byte) { b.WriteLineString(string(p)) }

// Lines returns a copy of the lines written so far.
func (b *LineBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...)
}

// Discard is a Logger that drops every line.
var Discard Logger = discard{}

type discard struct{}

func (discard) WriteLineString(string) {}
func (discard) WriteLineBytes([]byte)  {}
