// Package frame holds the pixel buffer model shared by every pipeline stage
// and the fixed-size slot pool that backs it.
package frame

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Layout tags the byte order and color model of a frame's pixels.
type Layout uint8

const (
	LayoutUnknown Layout = iota
	LayoutRGB
	LayoutBGR
	LayoutGray
	LayoutRGBA
	LayoutBGRA
	// LayoutYUYV is packed 4:2:2, two pixels per Y0 U Y1 V quad.
	LayoutYUYV
)

var layoutNames = map[Layout]string{
	LayoutUnknown: "unknown",
	LayoutRGB:     "rgb",
	LayoutBGR:     "bgr",
	LayoutGray:    "gray",
	LayoutRGBA:    "rgba",
	LayoutBGRA:    "bgra",
	LayoutYUYV:    "yuyv",
}

var ErrUnknownLayout = errors.New("frame: unknown layout")

// ErrInvalidFrame is returned by Validate for frames whose geometry does not
// match their buffer.
var ErrInvalidFrame = errors.New("frame: invalid geometry")

func (l Layout) String() string {
	if name, ok := layoutNames[l]; ok {
		return name
	}
	return fmt.Sprintf("layout(%d)", uint8(l))
}

// BytesPerPixel returns the average bytes per pixel, 2 for YUYV.
func (l Layout) BytesPerPixel() int {
	switch l {
	case LayoutGray:
		return 1
	case LayoutYUYV:
		return 2
	case LayoutRGB, LayoutBGR:
		return 3
	case LayoutRGBA, LayoutBGRA:
		return 4
	default:
		return 0
	}
}

// MinStride is the smallest row length in bytes that holds width pixels.
func (l Layout) MinStride(width int) int {
	if l == LayoutYUYV {
		return ((width + 1) / 2) * 4
	}
	return width * l.BytesPerPixel()
}

// ParseLayout accepts layout names in any case, e.g. "BGR" or "gray".
func ParseLayout(s string) (Layout, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	switch key {
	case "grey", "grayscale", "mono":
		return LayoutGray, nil
	case "yuyv422", "yuy2":
		return LayoutYUYV, nil
	}
	for l, name := range layoutNames {
		if l != LayoutUnknown && name == key {
			return l, nil
		}
	}
	return LayoutUnknown, fmt.Errorf("%w: %q", ErrUnknownLayout, s)
}

// MarshalText implements encoding.TextMarshaler.
func (l Layout) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so layouts can be read
// straight from TOML and environment variables.
func (l *Layout) UnmarshalText(text []byte) error {
	parsed, err := ParseLayout(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Frame is one captured or converted image. Once a Frame is handed to the
// next stage its pixels are not written again.
type Frame struct {
	Width  int
	Height int
	Stride int
	Layout Layout
	Pix    []byte

	Seq        uint64
	CapturedAt time.Time

	slot *Slot
	gen  uint64
}

// Validate checks that Pix holds exactly Stride*Height bytes and that each
// row fits Width pixels.
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil frame", ErrInvalidFrame)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidFrame, f.Width, f.Height)
	}
	if f.Layout.BytesPerPixel() == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownLayout, f.Layout)
	}
	if f.Stride < f.Layout.MinStride(f.Width) {
		return fmt.Errorf("%w: stride %d < %d for %d px %s",
			ErrInvalidFrame, f.Stride, f.Layout.MinStride(f.Width), f.Width, f.Layout)
	}
	if len(f.Pix) != f.Stride*f.Height {
		return fmt.Errorf("%w: %d bytes, want %d", ErrInvalidFrame, len(f.Pix), f.Stride*f.Height)
	}
	return nil
}

// Row returns the bytes of row y including stride padding.
func (f *Frame) Row(y int) []byte {
	return f.Pix[y*f.Stride : (y+1)*f.Stride]
}

// Release hands the backing slot back to its pool. It is safe to call more
// than once and on frames that are not pooled. A handle whose slot has since
// been handed out again releases nothing.
func (f *Frame) Release() {
	if f == nil || f.slot == nil {
		return
	}
	s := f.slot
	f.slot = nil
	s.pool.release(s, f.gen)
}

// Reshape resizes f in place to the given geometry, reusing Pix capacity.
// It is used by sources that own their raw buffers.
func (f *Frame) Reshape(width, height, stride int, layout Layout) {
	n := stride * height
	if cap(f.Pix) < n {
		f.Pix = make([]byte, n)
	}
	f.Pix = f.Pix[:n]
	f.Width = width
	f.Height = height
	f.Stride = stride
	f.Layout = layout
}
