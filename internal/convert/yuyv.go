package convert

import "camera-viewer-go/internal/frame"

// yuyvRow expands one packed 4:2:2 row. For odd widths the second pixel of
// the last quad is ignored.
func yuyvRow(out, in []byte, width int, to frame.Layout) {
	if to == frame.LayoutGray {
		for x := 0; x < width; x++ {
			out[x] = in[x*2]
		}
		return
	}

	bpp := to.BytesPerPixel()
	oR, oB := 0, 2
	if to == frame.LayoutBGR {
		oR, oB = 2, 0
	}

	for x := 0; x < width; x += 2 {
		q := x * 2
		y0, u, y1, v := in[q], in[q+1], in[q+2], in[q+3]

		o := x * bpp
		r, g, b := yuvToRGB(y0, u, v)
		out[o+oR], out[o+1], out[o+oB] = r, g, b
		if bpp == 4 {
			out[o+3] = 0xff
		}

		if x+1 >= width {
			break
		}
		o += bpp
		r, g, b = yuvToRGB(y1, u, v)
		out[o+oR], out[o+1], out[o+oB] = r, g, b
		if bpp == 4 {
			out[o+3] = 0xff
		}
	}
}

// yuvToRGB uses the integer BT.601 studio-swing transform.
func yuvToRGB(y, u, v uint8) (r, g, b uint8) {
	c := int32(y) - 16
	d := int32(u) - 128
	e := int32(v) - 128

	r = clamp((298*c + 409*e + 128) >> 8)
	g = clamp((298*c - 100*d - 208*e + 128) >> 8)
	b = clamp((298*c + 516*d + 128) >> 8)
	return
}

func clamp(v int32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
