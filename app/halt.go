package app

import (
	"fmt"
	"image/color"
	"strings"
	"unicode/utf8"

	"newtcore/hal"
	"newtcore/newtos/kernel"

	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/proggy"
)

const (
	haltFontHeight = 10
	haltFontOffset = 7
)

// drawHaltScreen paints the halt reason and stack on fb, white on red,
// and presents it.
func drawHaltScreen(fb hal.Framebuffer, info kernel.HaltInfo) {
	fb.ClearRGB(170, 0, 0)

	font := &proggy.TinySZ8pt7b
	_, outbox := tinyfont.LineWidth(font, "0")
	fontWidth := int16(outbox)
	if fontWidth <= 0 {
		_ = fb.Present()
		return
	}

	lines := haltLines(info)
	d := haltDisplay{fb: fb}
	fg := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	cols := int16(fb.Width()) / fontWidth
	if cols <= 0 {
		cols = 1
	}
	maxH := int16(fb.Height())

	y := int16(0)
	for _, line := range lines {
		for len(line) > 0 && y+haltFontHeight <= maxH {
			chunk, rest := takeRunes(line, cols)
			drawTextLine(d, font, fontWidth, 0, y, chunk, fg)
			y += haltFontHeight
			line = strings.TrimLeft(rest, " ")
		}
		if y+haltFontHeight > maxH {
			break
		}
	}
	_ = fb.Present()
}

func haltLines(info kernel.HaltInfo) []string {
	lines := []string{
		"newtcore halt:",
		info.Reason,
		fmt.Sprintf("task: %s  at: %s", info.Task, info.At),
	}
	if info.Value != nil {
		lines = append(lines, fmt.Sprintf("value: %v", info.Value))
	}
	if len(info.Stack) == 0 {
		return append(lines, "stack: unavailable")
	}
	lines = append(lines, "stack:")
	for _, line := range strings.Split(string(info.Stack), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func drawTextLine(d haltDisplay, font tinyfont.Fonter, fontWidth, x0, y0 int16, s string, fg color.RGBA) {
	x := x0
	for _, r := range s {
		tinyfont.DrawChar(d, font, x, y0+haltFontOffset, r, fg)
		x += fontWidth
	}
}

type haltDisplay struct {
	fb hal.Framebuffer
}

func (d haltDisplay) Size() (x, y int16) {
	return int16(d.fb.Width()), int16(d.fb.Height())
}

func (d haltDisplay) SetPixel(x, y int16, c color.RGBA) {
	hal.SetPixel(d.fb, int(x), int(y), c)
}

func (d haltDisplay) Display() error { return nil }

// takeRunes splits s after n runes.
func takeRunes(s string, n int16) (prefix, rest string) {
	if n <= 0 || s == "" {
		return "", s
	}
	i := 0
	for count := int16(0); i < len(s) && count < n; count++ {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[:i], s[i:]
}
