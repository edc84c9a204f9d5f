// Package hal is the kernel host's contact with the outside world: a log
// line sink, a framebuffer for the console, and a tick stream that drives
// logical time.
package hal

// Logger writes newline-delimited log lines.
type Logger interface {
	WriteLineString(s string)
	WriteLineBytes(b []byte)
}

// PixelFormat defines the framebuffer pixel encoding.
type PixelFormat uint8

const (
	// PixelFormatRGB565 is 16bpp: rrrrrggggggbbbbb.
	PixelFormatRGB565 PixelFormat = iota + 1
)

// Framebuffer is a simple pixel buffer plus a "present" hook.
type Framebuffer interface {
	Width() int
	Height() int
	Format() PixelFormat
	StrideBytes() int
	Buffer() []byte
	ClearRGB(r, g, b uint8)
	Present() error
}

// Scroller is implemented by framebuffers with a hardware vertical scroll:
// the row shown at the top of the screen is buffer row line, and rows wrap.
type Scroller interface {
	SetScroll(line int)
	Scroll() int
}

// Display provides access to the framebuffer (if available).
type Display interface {
	Framebuffer() Framebuffer
}

// Time provides a base tick stream. One tick is one millisecond of
// wall-clock time on the host.
type Time interface {
	Ticks() <-chan uint64
}

// HAL is the set of devices the kernel host uses.
type HAL interface {
	Logger() Logger
	Display() Display
	Time() Time
}

// WindowConfig controls the desktop window runner.
type WindowConfig struct {
	// Scale is the window pixels per framebuffer pixel. Default 2.
	Scale int
	// Speed multiplies elapsed time before it reaches the kernel. Default 1.
	Speed int
	// TPS is the app steps per second. Default 60.
	TPS int
}

func (c WindowConfig) withDefaults() WindowConfig {
	if c.Scale <= 0 {
		c.Scale = 2
	}
	if c.Speed <= 0 {
		c.Speed = 1
	}
	if c.TPS <= 0 {
		c.TPS = 60
	}
	return c
}
