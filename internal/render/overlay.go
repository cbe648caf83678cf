package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	overlayText = color.RGBA{R: 255, G: 255, A: 255} // yellow
	overlayBack = color.RGBA{A: 160}
	cardBack    = color.RGBA{R: 64, G: 64, B: 64, A: 255}
	cardText    = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// DrawText draws s with its baseline at (x, y) using the 7x13 bitmap font.
func DrawText(img draw.Image, x, y int, s string, c color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// TextWidth is the pixel width of s in the overlay font.
func TextWidth(s string) int {
	return font.MeasureString(basicfont.Face7x13, s).Round()
}

// Overlay draws a status line in the top-left corner of img: measured FPS
// and frame size, plus extra when non-empty.
func Overlay(img *image.RGBA, fps float64, extra string) {
	b := img.Bounds()
	text := fmt.Sprintf("%.1f FPS %dx%d", fps, b.Dx(), b.Dy())
	if extra != "" {
		text += " | " + extra
	}
	box := image.Rect(b.Min.X, b.Min.Y, b.Min.X+TextWidth(text)+8, b.Min.Y+18).Intersect(b)
	draw.Draw(img, box, image.NewUniform(overlayBack), image.Point{}, draw.Over)
	DrawText(img, b.Min.X+4, b.Min.Y+13, text, overlayText)
}

// Placeholder renders a w x h card with centered lines of text. It stands
// in for the camera image in avatar mode and before the first frame.
func Placeholder(w, h int, lines ...string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(cardBack), image.Point{}, draw.Src)

	const lineHeight = 18
	top := h/2 - len(lines)*lineHeight/2 + 13
	for i, line := range lines {
		x := (w - TextWidth(line)) / 2
		DrawText(img, max(x, 0), top+i*lineHeight, line, cardText)
	}
	return img
}

// FPSMeter measures the presented frame rate over one second windows.
type FPSMeter struct {
	mu     sync.Mutex
	now    func() time.Time
	start  time.Time
	frames int
	fps    float64
}

func NewFPSMeter() *FPSMeter {
	return &FPSMeter{now: time.Now}
}

// Frame records one presented frame and returns the current rate.
func (m *FPSMeter) Frame() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.start.IsZero() {
		m.start = now
	}
	m.frames++
	if elapsed := now.Sub(m.start); elapsed >= time.Second {
		m.fps = float64(m.frames) / elapsed.Seconds()
		m.frames = 0
		m.start = now
	}
	return m.fps
}

// FPS returns the last measured rate.
func (m *FPSMeter) FPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fps
}
