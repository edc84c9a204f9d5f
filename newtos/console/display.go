package console

import (
	"image/color"

	"newtcore/hal"

	"tinygo.org/x/drivers"
)

// fbDisplay adapts a hal.Framebuffer to the tinyterm Displayer.
type fbDisplay struct {
	fb       hal.Framebuffer
	rotation drivers.Rotation
}

func newFBDisplay(fb hal.Framebuffer) *fbDisplay {
	return &fbDisplay{fb: fb}
}

func (d *fbDisplay) usable() bool {
	return d.fb != nil && d.fb.Format() == hal.PixelFormatRGB565 && d.fb.Buffer() != nil
}

func (d *fbDisplay) Size() (x, y int16) {
	if d.fb == nil {
		return 0, 0
	}
	return int16(d.fb.Width()), int16(d.fb.Height())
}

func (d *fbDisplay) SetPixel(x, y int16, c color.RGBA) {
	if d.usable() {
		hal.SetPixel(d.fb, int(x), int(y), c)
	}
}

func (d *fbDisplay) Display() error {
	if d.fb == nil {
		return nil
	}
	return d.fb.Present()
}

func (d *fbDisplay) FillRectangle(x, y, width, height int16, c color.RGBA) error {
	if d.usable() {
		hal.FillRect(d.fb, int(x), int(y), int(width), int(height), c)
	}
	return nil
}

// SetScrollArea is a no-op; the whole screen scrolls.
func (d *fbDisplay) SetScrollArea(topFixedArea, bottomFixedArea int16) {}

// SetScroll moves the framebuffer's hardware scroll, if it has one.
func (d *fbDisplay) SetScroll(line int16) {
	if s, ok := d.fb.(hal.Scroller); ok {
		s.SetScroll(int(line))
	}
}

// StopScroll returns to an unscrolled screen.
func (d *fbDisplay) StopScroll() { d.SetScroll(0) }

// SetRotation records the rotation. Only drivers.Rotation0 is rendered.
func (d *fbDisplay) SetRotation(rotation drivers.Rotation) error {
	d.rotation = rotation
	return nil
}
