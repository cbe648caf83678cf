package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camera-viewer-go/internal/frame"
)

func rgbFrame(w, h, stride int) *frame.Frame {
	pix := make([]byte, stride*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := y*stride + x*3
			pix[o] = uint8(10 * (x + 1))
			pix[o+1] = uint8(20 * (y + 1))
			pix[o+2] = uint8(x + y)
		}
		// Padding bytes must never reach the output.
		for p := w * 3; p < stride; p++ {
			pix[y*stride+p] = 0xEE
		}
	}
	return &frame.Frame{Width: w, Height: h, Stride: stride, Layout: frame.LayoutRGB, Pix: pix}
}

func TestRGBToBGRSwapsAndStripsPadding(t *testing.T) {
	src := rgbFrame(3, 2, 12)

	out, err := Convert(src, frame.LayoutBGR)
	require.NoError(t, err)
	assert.Equal(t, 9, out.Stride)
	require.Len(t, out.Pix, 18)
	require.NoError(t, out.Validate())

	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			i := y*src.Stride + x*3
			o := y*out.Stride + x*3
			assert.Equal(t, src.Pix[i+2], out.Pix[o])
			assert.Equal(t, src.Pix[i+1], out.Pix[o+1])
			assert.Equal(t, src.Pix[i], out.Pix[o+2])
		}
	}
	assert.NotContains(t, out.Pix, byte(0xEE))
}

func TestSameLayoutNormalizesStride(t *testing.T) {
	src := rgbFrame(2, 3, 8)
	out, err := Convert(src, frame.LayoutRGB)
	require.NoError(t, err)
	assert.Equal(t, 6, out.Stride)
	for y := 0; y < 3; y++ {
		assert.Equal(t, src.Pix[y*8:y*8+6], out.Pix[y*6:(y+1)*6])
	}
}

func TestGrayUsesBT601(t *testing.T) {
	src := &frame.Frame{
		Width: 3, Height: 1, Stride: 9, Layout: frame.LayoutRGB,
		Pix: []byte{255, 0, 0, 0, 255, 0, 0, 0, 255},
	}
	out, err := Convert(src, frame.LayoutGray)
	require.NoError(t, err)
	assert.Equal(t, []byte{76, 149, 29}, out.Pix)

	bgr := &frame.Frame{
		Width: 1, Height: 1, Stride: 3, Layout: frame.LayoutBGR,
		Pix: []byte{0, 0, 255},
	}
	out, err = Convert(bgr, frame.LayoutGray)
	require.NoError(t, err)
	assert.Equal(t, []byte{76}, out.Pix)
}

func TestGrayExpandsToRGBA(t *testing.T) {
	src := &frame.Frame{Width: 2, Height: 1, Stride: 2, Layout: frame.LayoutGray, Pix: []byte{7, 200}}
	out, err := Convert(src, frame.LayoutRGBA)
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 7, 7, 255, 200, 200, 200, 255}, out.Pix)
}

func TestBGRAToRGBKeepsColorDropsAlpha(t *testing.T) {
	src := &frame.Frame{Width: 1, Height: 1, Stride: 4, Layout: frame.LayoutBGRA, Pix: []byte{1, 2, 3, 4}}
	out, err := Convert(src, frame.LayoutRGB)
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 2, 1}, out.Pix)

	out, err = Convert(src, frame.LayoutRGBA)
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 2, 1, 4}, out.Pix)
}

func TestYUYV(t *testing.T) {
	// Black then white sharing neutral chroma, then an odd trailing pixel.
	src := &frame.Frame{
		Width: 3, Height: 1, Stride: 8, Layout: frame.LayoutYUYV,
		Pix: []byte{16, 128, 235, 128, 81, 90, 0, 240},
	}

	out, err := Convert(src, frame.LayoutRGB)
	require.NoError(t, err)
	require.Len(t, out.Pix, 9)
	assert.Equal(t, []byte{0, 0, 0}, out.Pix[0:3])
	assert.Equal(t, []byte{255, 255, 255}, out.Pix[3:6])
	// BT.601 red (Y=81, U=90, V=240).
	assert.InDelta(t, 255, int(out.Pix[6]), 2)
	assert.InDelta(t, 0, int(out.Pix[7]), 2)
	assert.InDelta(t, 0, int(out.Pix[8]), 2)

	gray, err := Convert(src, frame.LayoutGray)
	require.NoError(t, err)
	assert.Equal(t, []byte{16, 235, 81}, gray.Pix)
}

func TestConvertIsDeterministic(t *testing.T) {
	src := rgbFrame(17, 9, 17*3+5)
	for _, target := range []frame.Layout{frame.LayoutRGB, frame.LayoutBGR, frame.LayoutGray, frame.LayoutRGBA} {
		t.Run(target.String(), func(t *testing.T) {
			a := make([]byte, Size(17, 9, target))
			b := make([]byte, Size(17, 9, target))
			for i := range b {
				b[i] = 0x5A
			}
			na, err := Into(a, src, target)
			require.NoError(t, err)
			nb, err := Into(b, src, target)
			require.NoError(t, err)
			assert.Equal(t, na, nb)
			assert.Equal(t, a[:na], b[:nb])
		})
	}
}

func TestUnsupportedLayouts(t *testing.T) {
	src := rgbFrame(2, 2, 6)
	for _, target := range []frame.Layout{frame.LayoutYUYV, frame.LayoutBGRA, frame.LayoutUnknown} {
		_, err := Convert(src, target)
		assert.ErrorIs(t, err, ErrUnsupportedLayout, target.String())
	}

	unknown := &frame.Frame{Width: 1, Height: 1, Stride: 1, Pix: []byte{0}}
	_, err := Convert(unknown, frame.LayoutRGB)
	assert.ErrorIs(t, err, ErrUnsupportedLayout)

	assert.True(t, Supported(frame.LayoutYUYV, frame.LayoutBGR))
	assert.False(t, Supported(frame.LayoutRGB, frame.LayoutYUYV))
}

func TestIntoRejectsShortBufferAndBadFrames(t *testing.T) {
	src := rgbFrame(4, 4, 12)
	_, err := Into(make([]byte, 10), src, frame.LayoutRGB)
	assert.ErrorIs(t, err, ErrShortBuffer)

	src.Pix = src.Pix[:20]
	_, err = Into(make([]byte, 48), src, frame.LayoutRGB)
	assert.ErrorIs(t, err, frame.ErrInvalidFrame)
}

func TestIntoWritesPoolSlot(t *testing.T) {
	pool, err := frame.NewPool(2, 0)
	require.NoError(t, err)
	slot, err := pool.TryAcquire()
	require.NoError(t, err)

	src := rgbFrame(5, 5, 15)
	n, err := Into(slot.Bytes(Size(5, 5, frame.LayoutGray)), src, frame.LayoutGray)
	require.NoError(t, err)
	f := slot.Frame(5, 5, 5, frame.LayoutGray)
	assert.Len(t, f.Pix, n)
	assert.NoError(t, f.Validate())

	f.Release()
	assert.Equal(t, 0, pool.InUse())
}
