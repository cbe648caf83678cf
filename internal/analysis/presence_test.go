package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camera-viewer-go/internal/frame"
)

func grayFrame(w, h int, px func(x, y int) uint8) *frame.Frame {
	f := &frame.Frame{Width: w, Height: h, Stride: w, Layout: frame.LayoutGray, Pix: make([]byte, w*h)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			f.Pix[y*w+x] = px(x, y)
		}
	}
	return f
}

func flat(v uint8) func(x, y int) uint8 { return func(int, int) uint8 { return v } }

func newTestAnalyzer() (*Analyzer, *time.Time) {
	clock := time.Unix(100, 0)
	a := NewAnalyzer(500 * time.Millisecond)
	a.now = func() time.Time { return clock }
	return a, &clock
}

func TestPresenceClassification(t *testing.T) {
	a, clock := newTestAnalyzer()

	r, ok := a.Analyze(grayFrame(160, 120, flat(10)))
	require.True(t, ok)
	assert.Equal(t, PresenceAway, r.Presence)
	assert.Equal(t, 10, r.Brightness)

	*clock = clock.Add(time.Second)
	r, ok = a.Analyze(grayFrame(160, 120, flat(120)))
	require.True(t, ok)
	assert.Equal(t, PresenceCollaborate, r.Presence)
	assert.InDelta(t, 1.0, r.Motion, 1e-9)

	*clock = clock.Add(time.Second)
	r, ok = a.Analyze(grayFrame(160, 120, flat(125)))
	require.True(t, ok)
	assert.Equal(t, PresenceFocus, r.Presence)
	assert.Zero(t, r.Motion)
}

func TestPresenceSmallMotionStaysFocus(t *testing.T) {
	a, clock := newTestAnalyzer()
	a.Analyze(grayFrame(100, 100, flat(100)))

	// 5% of the patch changes.
	*clock = clock.Add(time.Second)
	r, _ := a.Analyze(grayFrame(100, 100, func(x, y int) uint8 {
		if y < 5 {
			return 200
		}
		return 100
	}))
	assert.InDelta(t, 0.05, r.Motion, 1e-9)
	assert.Equal(t, PresenceFocus, r.Presence)
}

func TestAnalyzerRespectsInterval(t *testing.T) {
	a, clock := newTestAnalyzer()
	first, ok := a.Analyze(grayFrame(50, 50, flat(10)))
	require.True(t, ok)

	*clock = clock.Add(100 * time.Millisecond)
	r, ok := a.Analyze(grayFrame(50, 50, flat(200)))
	assert.False(t, ok)
	assert.Equal(t, first, r)
	assert.Equal(t, first, a.Last())
}

func TestAnalyzerSamplesCenteredPatch(t *testing.T) {
	a, _ := newTestAnalyzer()
	// Bright only inside the centered 100x100 patch of a 300x300 frame.
	r, ok := a.Analyze(grayFrame(300, 300, func(x, y int) uint8 {
		if x >= 100 && x < 200 && y >= 100 && y < 200 {
			return 90
		}
		return 0
	}))
	require.True(t, ok)
	assert.Equal(t, 90, r.Brightness)
}

func TestAnalyzerLayouts(t *testing.T) {
	rgba := &frame.Frame{Width: 2, Height: 1, Stride: 8, Layout: frame.LayoutRGBA,
		Pix: []byte{30, 60, 90, 255, 30, 60, 90, 255}}
	yuyv := &frame.Frame{Width: 2, Height: 1, Stride: 4, Layout: frame.LayoutYUYV,
		Pix: []byte{70, 128, 70, 128}}

	for _, f := range []*frame.Frame{rgba, yuyv} {
		a, _ := newTestAnalyzer()
		r, ok := a.Analyze(f)
		require.True(t, ok, f.Layout.String())
		assert.Equal(t, PresenceFocus, r.Presence)
	}

	a, _ := newTestAnalyzer()
	_, ok := a.Analyze(&frame.Frame{Width: 4, Height: 4, Stride: 4, Layout: frame.LayoutGray, Pix: make([]byte, 3)})
	assert.False(t, ok)
}
