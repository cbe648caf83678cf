package render

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camera-viewer-go/internal/convert"
	"camera-viewer-go/internal/frame"
)

func rgbFrame(w, h int, px func(x, y int) (uint8, uint8, uint8)) *frame.Frame {
	f := &frame.Frame{Width: w, Height: h, Stride: w * 3, Layout: frame.LayoutRGB, Pix: make([]byte, w*h*3)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b := px(x, y)
			off := y*f.Stride + x*3
			f.Pix[off], f.Pix[off+1], f.Pix[off+2] = r, g, b
		}
	}
	return f
}

func TestBuildConvertsToRGBA(t *testing.T) {
	b := NewImageBuilder(Filters{})
	f := rgbFrame(3, 2, func(x, y int) (uint8, uint8, uint8) { return uint8(x * 10), uint8(y * 10), 7 })

	img, err := b.Build(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 3, 2), img.Bounds())
	assert.Equal(t, color.RGBA{R: 20, G: 10, B: 7, A: 255}, img.RGBAAt(2, 1))
}

func TestBuildAlternatesBuffers(t *testing.T) {
	b := NewImageBuilder(Filters{})
	f := rgbFrame(4, 4, func(x, y int) (uint8, uint8, uint8) { return 1, 2, 3 })

	first, err := b.Build(f)
	require.NoError(t, err)
	second, err := b.Build(f)
	require.NoError(t, err)
	third, err := b.Build(f)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Same(t, first, third)
}

func TestBuildRejectsBadFrames(t *testing.T) {
	b := NewImageBuilder(Filters{})

	_, err := b.Build(nil)
	assert.ErrorIs(t, err, ErrBadDimensions)

	_, err = b.Build(&frame.Frame{Width: 0, Height: 2, Stride: 0, Layout: frame.LayoutRGB})
	assert.ErrorIs(t, err, ErrBadDimensions)

	short := rgbFrame(4, 4, func(x, y int) (uint8, uint8, uint8) { return 0, 0, 0 })
	short.Pix = short.Pix[:10]
	_, err = b.Build(short)
	assert.ErrorIs(t, err, ErrBadDimensions)

	_, err = b.Build(&frame.Frame{Width: 1, Height: 1, Stride: 4, Layout: frame.LayoutUnknown, Pix: make([]byte, 4)})
	assert.Error(t, err)
}

func TestBuildAcceptsEverySourceLayout(t *testing.T) {
	b := NewImageBuilder(Filters{})
	rgb := rgbFrame(4, 2, func(x, y int) (uint8, uint8, uint8) { return 200, 100, 50 })
	for _, l := range []frame.Layout{frame.LayoutRGB, frame.LayoutBGR, frame.LayoutGray, frame.LayoutRGBA} {
		converted, err := convert.Convert(rgb, l)
		require.NoError(t, err)
		img, err := b.Build(converted)
		require.NoError(t, err, l.String())
		assert.Equal(t, uint8(255), img.Pix[3])
	}
}

func TestFilters(t *testing.T) {
	t.Run("mirror", func(t *testing.T) {
		img := image.NewRGBA(image.Rect(0, 0, 3, 1))
		copy(img.Pix, []byte{1, 1, 1, 255, 2, 2, 2, 255, 3, 3, 3, 255})
		Mirror(img)
		assert.Equal(t, []byte{3, 3, 3, 255, 2, 2, 2, 255, 1, 1, 1, 255}, img.Pix)
	})

	t.Run("night", func(t *testing.T) {
		img := image.NewRGBA(image.Rect(0, 0, 2, 1))
		copy(img.Pix, []byte{100, 100, 100, 255, 255, 255, 255, 255})
		NightMode(img)
		assert.Equal(t, []byte{160, 0, 0, 255, 255, 0, 0, 255}, img.Pix)
		assert.Equal(t, color.RGBA{R: 160, A: 255}, NightModeColor(color.Gray{Y: 100}))
	})

	t.Run("pixelate", func(t *testing.T) {
		img := image.NewRGBA(image.Rect(0, 0, 3, 2))
		for i := 0; i < 6; i++ {
			img.Pix[i*4] = uint8(i * 10)
			img.Pix[i*4+3] = 255
		}
		Pixelate(img, 2)
		// Tile (0,0)-(2,2) averages 0,10,30,40; the edge tile 20,50.
		assert.Equal(t, uint8(20), img.RGBAAt(0, 0).R)
		assert.Equal(t, uint8(20), img.RGBAAt(1, 1).R)
		assert.Equal(t, uint8(35), img.RGBAAt(2, 0).R)
		assert.Equal(t, uint8(35), img.RGBAAt(2, 1).R)
	})
}

func TestBuildAppliesFilters(t *testing.T) {
	f := rgbFrame(2, 1, func(x, y int) (uint8, uint8, uint8) {
		if x == 0 {
			return 100, 100, 100
		}
		return 0, 0, 0
	})
	b := NewImageBuilder(Filters{Mirror: true, Night: true})
	img, err := b.Build(f)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{A: 255}, img.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{R: 160, A: 255}, img.RGBAAt(1, 0))

	got := b.Update(func(fl *Filters) { fl.Night = false })
	assert.False(t, got.Night)
	assert.True(t, b.Filters().Mirror)
}

func TestOverlayAndPlaceholder(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 40))
	Overlay(img, 14.5, "Focus")
	lit := 0
	for i := 0; i < len(img.Pix); i += 4 {
		if img.Pix[i] == 255 && img.Pix[i+1] == 255 && img.Pix[i+2] == 0 {
			lit++
		}
	}
	assert.Positive(t, lit)

	card := Placeholder(120, 60, "Avatar mode")
	assert.Equal(t, cardBack, card.RGBAAt(0, 0))
	white := false
	for y := 0; y < 60 && !white; y++ {
		for x := 0; x < 120; x++ {
			if card.RGBAAt(x, y) == cardText {
				white = true
				break
			}
		}
	}
	assert.True(t, white)
}

func TestFPSMeter(t *testing.T) {
	clock := time.Unix(0, 0)
	m := NewFPSMeter()
	m.now = func() time.Time { return clock }

	for i := 0; i < 10; i++ {
		m.Frame()
		clock = clock.Add(100 * time.Millisecond)
	}
	assert.InDelta(t, 11.0, m.Frame(), 0.01)
	assert.InDelta(t, 11.0, m.FPS(), 0.01)
}

type stubReceiver struct{ frames []*frame.Frame }

func (r *stubReceiver) Receive() (*frame.Frame, bool) {
	if len(r.frames) == 0 {
		return nil, false
	}
	f := r.frames[0]
	r.frames = r.frames[1:]
	return f, true
}

type countingAdapter struct{ presented int }

func (a *countingAdapter) Present(f *frame.Frame) error {
	a.presented++
	f.Release()
	return nil
}

func TestTick(t *testing.T) {
	rx := &stubReceiver{frames: []*frame.Frame{rgbFrame(1, 1, func(x, y int) (uint8, uint8, uint8) { return 0, 0, 0 })}}
	a := &countingAdapter{}

	ok, err := Tick(rx, a)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Tick(rx, a)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, a.presented)
}
