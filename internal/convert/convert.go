// Package convert reorders and normalizes pixel buffers between frame
// layouts. Every function here is pure: output depends only on the input
// frame and target layout.
package convert

import (
	"errors"
	"fmt"

	"camera-viewer-go/internal/frame"
)

var (
	ErrUnsupportedLayout = errors.New("convert: unsupported layout")
	ErrShortBuffer       = errors.New("convert: destination buffer too small")
)

// IsTarget reports whether l can be produced by the converter.
func IsTarget(l frame.Layout) bool {
	switch l {
	case frame.LayoutRGB, frame.LayoutBGR, frame.LayoutGray, frame.LayoutRGBA:
		return true
	}
	return false
}

// IsSource reports whether frames in layout l can be read.
func IsSource(l frame.Layout) bool {
	switch l {
	case frame.LayoutRGB, frame.LayoutBGR, frame.LayoutGray,
		frame.LayoutRGBA, frame.LayoutBGRA, frame.LayoutYUYV:
		return true
	}
	return false
}

// Supported reports whether src has a defined mapping to target.
func Supported(src, target frame.Layout) bool {
	return IsSource(src) && IsTarget(target)
}

// Size returns the packed byte size of a width x height image in layout l.
func Size(width, height int, l frame.Layout) int {
	return l.MinStride(width) * height
}

// Into converts src into dst as a tightly packed image in the target layout
// and returns the number of bytes written.
func Into(dst []byte, src *frame.Frame, target frame.Layout) (int, error) {
	if !Supported(src.Layout, target) {
		return 0, fmt.Errorf("%w: %s -> %s", ErrUnsupportedLayout, src.Layout, target)
	}
	if err := src.Validate(); err != nil {
		return 0, err
	}

	outStride := target.MinStride(src.Width)
	n := outStride * src.Height
	if len(dst) < n {
		return 0, fmt.Errorf("%w: have %d, need %d", ErrShortBuffer, len(dst), n)
	}

	rowBytes := src.Layout.MinStride(src.Width)
	for y := 0; y < src.Height; y++ {
		in := src.Pix[y*src.Stride : y*src.Stride+rowBytes]
		out := dst[y*outStride : (y+1)*outStride]
		convertRow(out, in, src.Width, src.Layout, target)
	}
	return n, nil
}

// Convert allocates a new frame holding src in the target layout. The
// result carries src's sequence number and capture time.
func Convert(src *frame.Frame, target frame.Layout) (*frame.Frame, error) {
	if !Supported(src.Layout, target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrUnsupportedLayout, src.Layout, target)
	}
	buf := make([]byte, Size(src.Width, src.Height, target))
	if _, err := Into(buf, src, target); err != nil {
		return nil, err
	}
	return &frame.Frame{
		Width:      src.Width,
		Height:     src.Height,
		Stride:     target.MinStride(src.Width),
		Layout:     target,
		Pix:        buf,
		Seq:        src.Seq,
		CapturedAt: src.CapturedAt,
	}, nil
}

func convertRow(out, in []byte, width int, from, to frame.Layout) {
	if from == to {
		copy(out, in)
		return
	}

	switch from {
	case frame.LayoutYUYV:
		yuyvRow(out, in, width, to)
		return
	case frame.LayoutGray:
		grayRow(out, in, width, to)
		return
	}

	// Packed RGB family: pull channels by offset.
	bpp := from.BytesPerPixel()
	ri, bi := 0, 2
	if from == frame.LayoutBGR || from == frame.LayoutBGRA {
		ri, bi = 2, 0
	}
	hasAlpha := from == frame.LayoutRGBA || from == frame.LayoutBGRA

	switch to {
	case frame.LayoutGray:
		for x, i := 0, 0; x < width; x, i = x+1, i+bpp {
			out[x] = luma(in[i+ri], in[i+1], in[i+bi])
		}
	case frame.LayoutRGB, frame.LayoutBGR:
		oR, oB := 0, 2
		if to == frame.LayoutBGR {
			oR, oB = 2, 0
		}
		for x, i, o := 0, 0, 0; x < width; x, i, o = x+1, i+bpp, o+3 {
			out[o+oR] = in[i+ri]
			out[o+1] = in[i+1]
			out[o+oB] = in[i+bi]
		}
	case frame.LayoutRGBA:
		for x, i, o := 0, 0, 0; x < width; x, i, o = x+1, i+bpp, o+4 {
			out[o] = in[i+ri]
			out[o+1] = in[i+1]
			out[o+2] = in[i+bi]
			if hasAlpha {
				out[o+3] = in[i+3]
			} else {
				out[o+3] = 0xff
			}
		}
	}
}

func grayRow(out, in []byte, width int, to frame.Layout) {
	switch to {
	case frame.LayoutRGB, frame.LayoutBGR:
		for x, o := 0, 0; x < width; x, o = x+1, o+3 {
			v := in[x]
			out[o], out[o+1], out[o+2] = v, v, v
		}
	case frame.LayoutRGBA:
		for x, o := 0, 0; x < width; x, o = x+1, o+4 {
			v := in[x]
			out[o], out[o+1], out[o+2], out[o+3] = v, v, v, 0xff
		}
	}
}

// luma is integer ITU-R BT.601.
func luma(r, g, b uint8) uint8 {
	return uint8((299*uint32(r) + 587*uint32(g) + 114*uint32(b)) / 1000)
}
