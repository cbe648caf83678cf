package render

import (
	"image"
	"image/color"
)

// =============================================================================
// Night Mode Filter
// =============================================================================
// Red-tinted, brightness-enhanced rendering for dark rooms.
//   1. Convert pixel to grayscale luminance (BT.601)
//   2. Apply 1.6x brightness boost (clamped to 255)
//   3. Map result to red channel only (R = boosted, G = 0, B = 0)
// =============================================================================

// nightModeLUT maps a grayscale value to its boosted value.
var nightModeLUT [256]uint8

func init() {
	for i := 0; i < 256; i++ {
		v := float64(i) * 1.6
		if v > 255 {
			v = 255
		}
		nightModeLUT[i] = uint8(v)
	}
}

func luma(r, g, b uint8) uint8 {
	return uint8((299*uint32(r) + 587*uint32(g) + 114*uint32(b)) / 1000)
}

// NightMode rewrites img in place as a red-tinted night image.
func NightMode(img *image.RGBA) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for y := 0; y < h; y++ {
		off := y * img.Stride
		for x := 0; x < w; x++ {
			p := img.Pix[off : off+4 : off+4]
			p[0] = nightModeLUT[luma(p[0], p[1], p[2])]
			p[1] = 0
			p[2] = 0
			p[3] = 255
			off += 4
		}
	}
}

// NightModeColor returns the night-mode equivalent of a single color. The
// Fyne viewer tints its tile backgrounds and text with it.
func NightModeColor(c color.Color) color.RGBA {
	r, g, b, _ := c.RGBA()
	return color.RGBA{R: nightModeLUT[luma(uint8(r>>8), uint8(g>>8), uint8(b>>8))], A: 255}
}

// Mirror flips img horizontally in place (selfie view).
func Mirror(img *image.RGBA) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for l, r := 0, (w-1)*4; l < r; l, r = l+4, r-4 {
			row[l], row[r] = row[r], row[l]
			row[l+1], row[r+1] = row[r+1], row[l+1]
			row[l+2], row[r+2] = row[r+2], row[l+2]
			row[l+3], row[r+3] = row[r+3], row[l+3]
		}
	}
}

// DefaultPixelateBlock is the privacy block edge in pixels.
const DefaultPixelateBlock = 10

// Pixelate replaces every block x block tile of img with its average
// color. Edge tiles are averaged over the pixels they actually cover.
func Pixelate(img *image.RGBA, block int) {
	if block < 2 {
		return
	}
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for by := 0; by < h; by += block {
		ey := min(by+block, h)
		for bx := 0; bx < w; bx += block {
			ex := min(bx+block, w)

			var sr, sg, sb, sa, n uint32
			for y := by; y < ey; y++ {
				off := y*img.Stride + bx*4
				for x := bx; x < ex; x++ {
					sr += uint32(img.Pix[off])
					sg += uint32(img.Pix[off+1])
					sb += uint32(img.Pix[off+2])
					sa += uint32(img.Pix[off+3])
					n++
					off += 4
				}
			}
			avg := [4]uint8{uint8(sr / n), uint8(sg / n), uint8(sb / n), uint8(sa / n)}

			for y := by; y < ey; y++ {
				off := y*img.Stride + bx*4
				for x := bx; x < ex; x++ {
					copy(img.Pix[off:off+4], avg[:])
					off += 4
				}
			}
		}
	}
}
