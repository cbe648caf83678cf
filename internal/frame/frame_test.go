package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLayout(t *testing.T) {
	tests := []struct {
		in   string
		want Layout
	}{
		{"RGB", LayoutRGB},
		{"bgr", LayoutBGR},
		{" Gray ", LayoutGray},
		{"grey", LayoutGray},
		{"rgba", LayoutRGBA},
		{"BGRA", LayoutBGRA},
		{"yuyv422", LayoutYUYV},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLayout(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseLayout("cmyk")
	assert.ErrorIs(t, err, ErrUnknownLayout)
}

func TestLayoutTextRoundTrip(t *testing.T) {
	var l Layout
	require.NoError(t, l.UnmarshalText([]byte("BGR")))
	assert.Equal(t, LayoutBGR, l)

	text, err := l.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "bgr", string(text))
}

func TestMinStride(t *testing.T) {
	assert.Equal(t, 30, LayoutRGB.MinStride(10))
	assert.Equal(t, 10, LayoutGray.MinStride(10))
	assert.Equal(t, 40, LayoutBGRA.MinStride(10))
	assert.Equal(t, 20, LayoutYUYV.MinStride(10))
	assert.Equal(t, 24, LayoutYUYV.MinStride(11))
}

func TestValidate(t *testing.T) {
	ok := &Frame{Width: 2, Height: 2, Stride: 8, Layout: LayoutRGB, Pix: make([]byte, 16)}
	assert.NoError(t, ok.Validate())

	short := &Frame{Width: 2, Height: 2, Stride: 6, Layout: LayoutRGB, Pix: make([]byte, 11)}
	assert.ErrorIs(t, short.Validate(), ErrInvalidFrame)

	narrow := &Frame{Width: 4, Height: 1, Stride: 6, Layout: LayoutRGB, Pix: make([]byte, 6)}
	assert.ErrorIs(t, narrow.Validate(), ErrInvalidFrame)

	unknown := &Frame{Width: 1, Height: 1, Stride: 1, Pix: make([]byte, 1)}
	assert.ErrorIs(t, unknown.Validate(), ErrUnknownLayout)
}

func TestReshapeReusesCapacity(t *testing.T) {
	f := &Frame{}
	f.Reshape(4, 4, 12, LayoutRGB)
	require.Len(t, f.Pix, 48)
	first := &f.Pix[0]

	f.Reshape(2, 2, 6, LayoutRGB)
	assert.Len(t, f.Pix, 12)
	assert.Same(t, first, &f.Pix[0])
}
