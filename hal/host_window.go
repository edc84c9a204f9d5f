//go:build !tinygo && cgo

package hal

import (
	"fmt"
	"time"

	"newtcore/internal/buildinfo"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
)

// RunWindow opens a desktop window showing the console framebuffer and
// steps the app once per frame until the window closes or the step fails.
// P pauses the kernel clock and N advances a paused kernel by one frame.
func RunWindow(newApp func(HAL) func() error, cfg WindowConfig) error {
	cfg = cfg.withDefaults()
	h := newHostHAL(nil, cfg.Speed)
	g := &hostGame{h: h, step: newApp(h), title: "newtcore " + buildinfo.Short()}
	ebiten.SetWindowTitle(g.title)
	ebiten.SetWindowSize(h.fb.width*cfg.Scale, h.fb.height*cfg.Scale)
	ebiten.SetTPS(cfg.TPS)
	return ebiten.RunGame(g)
}

type hostGame struct {
	h      *hostHAL
	step   func() error
	title  string
	paused bool
	shown  string

	img     *ebiten.Image
	scratch []byte
	pix     []byte
}

func (g *hostGame) Update() error {
	if inpututil.IsKeyJustPressed(ebiten.KeyP) {
		g.paused = !g.paused
		// Time spent paused never reaches the kernel.
		g.h.t.last = time.Time{}
	}
	switch {
	case !g.paused:
		g.h.t.sync(time.Now())
	case inpututil.IsKeyJustPressed(ebiten.KeyN):
		g.h.t.advance(time.Second / time.Duration(ebiten.TPS()))
	default:
		g.setTitle()
		return nil
	}
	g.setTitle()
	if g.step == nil {
		return nil
	}
	return g.step()
}

func (g *hostGame) setTitle() {
	title := g.title
	if g.paused {
		title += " [paused]"
	}
	if d := g.h.t.Dropped(); d > 0 {
		title += fmt.Sprintf(" (%d ticks dropped)", d)
	}
	if title != g.shown {
		ebiten.SetWindowTitle(title)
		g.shown = title
	}
}

func (g *hostGame) Draw(screen *ebiten.Image) {
	fb := g.h.fb
	if g.img == nil {
		g.img = ebiten.NewImage(fb.width, fb.height)
		g.scratch = make([]byte, len(fb.buf))
		g.pix = make([]byte, fb.width*fb.height*4)
	}
	fb.snapshotRGB565(g.scratch)
	for i, j := 0, 0; i+1 < len(g.scratch) && j+3 < len(g.pix); i, j = i+2, j+4 {
		c := RGB565(uint16(g.scratch[i]) | uint16(g.scratch[i+1])<<8).RGBA()
		g.pix[j], g.pix[j+1], g.pix[j+2], g.pix[j+3] = c.R, c.G, c.B, c.A
	}
	g.img.WritePixels(g.pix)
	screen.DrawImage(g.img, nil)
}

func (g *hostGame) Layout(outsideWidth, outsideHeight int) (int, int) {
	return g.h.fb.width, g.h.fb.height
}
