package console

import (
	"image/color"
	"testing"

	"newtcore/hal"
)

func newFB() hal.Framebuffer {
	return hal.NewWithLog(nil).Display().Framebuffer()
}

func lit(fb hal.Framebuffer) int {
	n := 0
	buf := fb.Buffer()
	for i := 0; i+1 < len(buf); i += 2 {
		if buf[i] != 0 || buf[i+1] != 0 {
			n++
		}
	}
	return n
}

func TestTerminalDrawsLines(t *testing.T) {
	fb := newFB()
	term := NewTerminal(fb)
	if got := lit(fb); got != 0 {
		t.Fatalf("lit pixels after NewTerminal = %d, want 0", got)
	}
	term.WriteLine("kernel: boot")
	term.Flush()
	if got := lit(fb); got == 0 {
		t.Fatalf("lit pixels after WriteLine = 0, want > 0")
	}
	if got := term.Lines(); got != 1 {
		t.Fatalf("Lines() = %d, want 1", got)
	}
	term.Clear()
	if got := lit(fb); got != 0 {
		t.Fatalf("lit pixels after Clear = %d, want 0", got)
	}
}

func TestFlushPresentsOnlyWhenDirty(t *testing.T) {
	fb := newFB()
	frames, ok := fb.(interface{ Frames() uint64 })
	if !ok {
		t.Fatalf("host framebuffer does not count frames")
	}
	term := NewTerminal(fb)
	base := frames.Frames()
	term.WriteLine("a")
	term.Flush()
	term.Flush()
	if got := frames.Frames() - base; got != 1 {
		t.Fatalf("presents after two flushes = %d, want 1", got)
	}
}

func TestLoggerTees(t *testing.T) {
	var next hal.LineBuffer
	term := NewTerminal(newFB())
	l := Logger{Next: &next, Term: term}
	l.WriteLineString("a")
	l.WriteLineBytes([]byte("b"))
	if got := next.Lines(); len(got) != 2 {
		t.Fatalf("next lines = %q, want 2 lines", got)
	}
	if got := term.Lines(); got != 2 {
		t.Fatalf("terminal Lines() = %d, want 2", got)
	}
}

func TestDisplayHardwareScroll(t *testing.T) {
	fb := newFB()
	d := newFBDisplay(fb)
	d.SetScroll(20)
	if got := fb.(hal.Scroller).Scroll(); got != 20 {
		t.Fatalf("Scroll() = %d, want 20", got)
	}
	d.StopScroll()
	if got := fb.(hal.Scroller).Scroll(); got != 0 {
		t.Fatalf("Scroll() after StopScroll = %d, want 0", got)
	}
}

func TestDisplayClipsOutOfRange(t *testing.T) {
	fb := newFB()
	d := newFBDisplay(fb)
	d.SetPixel(-1, 0, color.RGBA{R: 255})
	d.SetPixel(int16(fb.Width()), 0, color.RGBA{R: 255})
	if err := d.FillRectangle(-10, -10, 5, 5, color.RGBA{R: 255}); err != nil {
		t.Fatalf("FillRectangle() = %v", err)
	}
	if got := lit(fb); got != 0 {
		t.Fatalf("lit pixels = %d, want 0", got)
	}
}
