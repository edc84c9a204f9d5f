package hal

import "image/color"

// RGB565 is one framebuffer pixel in PixelFormatRGB565, stored little-endian.
type RGB565 uint16

// ToRGB565 packs c, dropping the low bits of each channel and alpha.
func ToRGB565(c color.RGBA) RGB565 {
	return RGB565(uint16(c.R>>3)<<11 | uint16(c.G>>2)<<5 | uint16(c.B>>3))
}

// RGBA widens p back to 8 bits a channel, opaque.
func (p RGB565) RGBA() color.RGBA {
	r := uint16(p>>11) & 0x1F
	g := uint16(p>>5) & 0x3F
	b := uint16(p) & 0x1F
	return color.RGBA{R: uint8(r * 255 / 31), G: uint8(g * 255 / 63), B: uint8(b * 255 / 31), A: 0xFF}
}

// SetPixel stores c at (x, y) in fb. Out of range coordinates and
// framebuffers of another format are ignored.
func SetPixel(fb Framebuffer, x, y int, c color.RGBA) {
	if fb == nil || fb.Format() != PixelFormatRGB565 {
		return
	}
	if x < 0 || x >= fb.Width() || y < 0 || y >= fb.Height() {
		return
	}
	buf := fb.Buffer()
	off := y*fb.StrideBytes() + x*2
	if off+1 >= len(buf) {
		return
	}
	p := ToRGB565(c)
	buf[off], buf[off+1] = byte(p), byte(p>>8)
}

// FillRect paints the part of the w by h rectangle at (x, y) that lies on fb.
func FillRect(fb Framebuffer, x, y, w, h int, c color.RGBA) {
	if fb == nil || fb.Format() != PixelFormatRGB565 {
		return
	}
	x0, y0 := max(x, 0), max(y, 0)
	x1, y1 := min(x+w, fb.Width()), min(y+h, fb.Height())
	if x0 >= x1 || y0 >= y1 {
		return
	}
	p := ToRGB565(c)
	lo, hi := byte(p), byte(p>>8)
	buf := fb.Buffer()
	stride := fb.StrideBytes()
	for py := y0; py < y1; py++ {
		row := py * stride
		for px := x0; px < x1 && row+px*2+1 < len(buf); px++ {
			buf[row+px*2], buf[row+px*2+1] = lo, hi
		}
	}
}
