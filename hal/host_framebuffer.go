//go:build !tinygo

package hal

import (
	"image/color"
	"sync"
)

type hostFramebuffer struct {
	mu     sync.Mutex
	width  int
	height int
	stride int
	buf    []byte
	frames uint64
	scroll int
}

func newHostFramebuffer(width, height int) *hostFramebuffer {
	stride := width * 2
	return &hostFramebuffer{
		width:  width,
		height: height,
		stride: stride,
		buf:    make([]byte, stride*height),
	}
}

func (f *hostFramebuffer) Width() int          { return f.width }
func (f *hostFramebuffer) Height() int         { return f.height }
func (f *hostFramebuffer) Format() PixelFormat { return PixelFormatRGB565 }
func (f *hostFramebuffer) StrideBytes() int    { return f.stride }
func (f *hostFramebuffer) Buffer() []byte      { return f.buf }

// Present publishes the buffer to the window, if one is open.
func (f *hostFramebuffer) Present() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames++
	return nil
}

// Frames reports how many times the buffer has been presented.
func (f *hostFramebuffer) Frames() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames
}

func (f *hostFramebuffer) ClearRGB(r, g, b uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pixel := ToRGB565(color.RGBA{R: r, G: g, B: b, A: 0xFF})
	lo := byte(pixel)
	hi := byte(pixel >> 8)
	for i := 0; i < len(f.buf); i += 2 {
		f.buf[i] = lo
		f.buf[i+1] = hi
	}
}

// SetScroll sets the buffer row shown at the top of the screen.
func (f *hostFramebuffer) SetScroll(line int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.height > 0 {
		f.scroll = ((line % f.height) + f.height) % f.height
	}
}

// Scroll returns the buffer row shown at the top of the screen.
func (f *hostFramebuffer) Scroll() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scroll
}

// snapshotRGB565 copies the buffer into dst in screen order, applying the
// scroll offset.
func (f *hostFramebuffer) snapshotRGB565(dst []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	split := f.scroll * f.stride
	n := copy(dst, f.buf[split:])
	copy(dst[n:], f.buf[:split])
}
