// Package console shows kernel log lines on a framebuffer terminal.
package console

import (
	"sync"

	"newtcore/hal"

	"tinygo.org/x/tinyfont/proggy"
	"tinygo.org/x/tinyterm"
)

// Terminal is a scrolling text terminal on a framebuffer.
type Terminal struct {
	mu    sync.Mutex
	fb    hal.Framebuffer
	d     *fbDisplay
	t     *tinyterm.Terminal
	dirty bool
	lines int
}

// NewTerminal clears fb and starts an empty terminal on it.
func NewTerminal(fb hal.Framebuffer) *Terminal {
	c := &Terminal{fb: fb, d: newFBDisplay(fb)}
	c.reset()
	return c
}

func (c *Terminal) reset() {
	if c.fb != nil {
		c.fb.ClearRGB(0, 0, 0)
	}
	c.t = tinyterm.NewTerminal(c.d)
	c.t.Configure(&tinyterm.Config{
		Font:       &proggy.TinySZ8pt7b,
		FontHeight: 10,
		FontOffset: 7,
	})
	c.dirty = true
}

// Clear blanks the terminal.
func (c *Terminal) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
	c.lines = 0
}

// WriteLine appends one line.
func (c *Terminal) WriteLine(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t.Write([]byte(s))
	c.t.Write([]byte{'\r', '\n'})
	c.lines++
	c.dirty = true
}

// Lines reports how many lines have been written since the last Clear.
func (c *Terminal) Lines() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lines
}

// Flush presents the framebuffer if anything changed since the last flush.
func (c *Terminal) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return
	}
	c.d.Display()
	c.dirty = false
}

// Logger tees log lines to another logger and to a terminal.
type Logger struct {
	Next hal.Logger
	Term *Terminal
}

func (l Logger) WriteLineString(s string) {
	if l.Next != nil {
		l.Next.WriteLineString(s)
	}
	if l.Term != nil {
		l.Term.WriteLine(s)
	}
}

func (l Logger) WriteLineBytes(b []byte) { l.WriteLineString(string(b)) }
