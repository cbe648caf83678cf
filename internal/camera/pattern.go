package camera

import (
	"fmt"
	"sync"
	"time"

	"camera-viewer-go/internal/frame"
)

// PatternDevice synthesizes scenes so the viewer runs without hardware.
// The scene depends on the device index: 0 sky, 1 field, 2 urban, anything
// else a moving gradient.
type PatternDevice struct {
	width    int
	height   int
	layout   frame.Layout
	padding  int
	interval time.Duration
	faults   func(n uint64) error

	mu     sync.Mutex
	index  int
	open   bool
	frames uint64
	last   time.Time
}

// PatternOption configures a PatternDevice.
type PatternOption func(*PatternDevice)

// WithPatternSize sets the frame geometry.
func WithPatternSize(width, height int) PatternOption {
	return func(d *PatternDevice) {
		d.width = width
		d.height = height
	}
}

// WithPatternLayout sets the native layout the device emits.
func WithPatternLayout(l frame.Layout) PatternOption {
	return func(d *PatternDevice) { d.layout = l }
}

// WithPatternPadding adds bytes of padding to every row, like hardware
// with aligned strides.
func WithPatternPadding(n int) PatternOption {
	return func(d *PatternDevice) { d.padding = n }
}

// WithPatternFPS paces Grab to a camera-like cadence.
func WithPatternFPS(fps int) PatternOption {
	return func(d *PatternDevice) {
		if fps > 0 {
			d.interval = time.Second / time.Duration(fps)
		}
	}
}

// WithPatternFaults injects an error for grab number n (1-based). A nil
// return produces a normal frame.
func WithPatternFaults(fn func(n uint64) error) PatternOption {
	return func(d *PatternDevice) { d.faults = fn }
}

func NewPatternDevice(opts ...PatternOption) *PatternDevice {
	d := &PatternDevice{
		width:  640,
		height: 480,
		layout: frame.LayoutRGB,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *PatternDevice) Name() string {
	return fmt.Sprintf("pattern:%d", d.index)
}

func (d *PatternDevice) Open(deviceIndex int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if deviceIndex < 0 {
		return fmt.Errorf("%w: pattern index %d", ErrDeviceUnavailable, deviceIndex)
	}
	switch d.layout {
	case frame.LayoutRGB, frame.LayoutBGR, frame.LayoutGray,
		frame.LayoutRGBA, frame.LayoutBGRA, frame.LayoutYUYV:
	default:
		return fmt.Errorf("%w: pattern cannot emit %s", ErrDeviceUnavailable, d.layout)
	}
	d.index = deviceIndex
	d.open = true
	d.frames = 0
	d.last = time.Time{}
	return nil
}

func (d *PatternDevice) Close() error {
	d.mu.Lock()
	d.open = false
	d.mu.Unlock()
	return nil
}

// Grab renders the next scene into dst.
func (d *PatternDevice) Grab(dst *frame.Frame) error {
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return ErrDeviceDisconnected
	}
	d.frames++
	n := d.frames
	wait := time.Duration(0)
	if d.interval > 0 && !d.last.IsZero() {
		wait = d.interval - time.Since(d.last)
	}
	d.mu.Unlock()

	if wait > 0 {
		time.Sleep(wait)
	}

	if d.faults != nil {
		if err := d.faults(n); err != nil {
			return err
		}
	}

	stride := d.layout.MinStride(d.width) + d.padding
	dst.Reshape(d.width, d.height, stride, d.layout)
	d.render(dst, int(n))

	d.mu.Lock()
	d.last = time.Now()
	d.mu.Unlock()
	dst.CapturedAt = time.Now()
	return nil
}

func (d *PatternDevice) render(dst *frame.Frame, frameNum int) {
	w, h := dst.Width, dst.Height
	// Blinking block in the corner shows the feed is live.
	blink := (frameNum/15)%2 == 0

	for y := 0; y < h; y++ {
		row := dst.Row(y)
		for x := 0; x < w; x += 2 {
			r0, g0, b0 := d.scenePixel(x, y, w, h, frameNum, blink)
			r1, g1, b1 := r0, g0, b0
			if x+1 < w {
				r1, g1, b1 = d.scenePixel(x+1, y, w, h, frameNum, blink)
			}
			if dst.Layout == frame.LayoutYUYV {
				putYUYV(row, x, r0, g0, b0, r1, g1, b1)
				continue
			}
			putPixel(row, x, dst.Layout, r0, g0, b0)
			if x+1 < w {
				putPixel(row, x+1, dst.Layout, r1, g1, b1)
			}
		}
	}
}

func (d *PatternDevice) scenePixel(x, y, w, h, frameNum int, blink bool) (r, g, b uint8) {
	switch d.index {
	case 0: // sky with drifting clouds
		gradient := float64(y) / float64(h)
		r = uint8(135 * (1 - gradient))
		g = uint8(206 * (1 - gradient))
		b = uint8(250 * (1 - gradient))
		if (x+frameNum)%80 < 20 && y%60 < 15 {
			white := uint8(200 + frameNum%55)
			r, g, b = white, white, white
		}
	case 1: // field with moving markers
		r = uint8(50 + frameNum%30)
		g = uint8(120 + frameNum%40)
		b = 50
		if (x+2*frameNum)%100 < 10 && y%100 < 10 {
			r, g, b = 255, 100, 100
		}
	case 2: // urban grid
		gray := uint8(128 + frameNum%80)
		r, g, b = gray, gray, gray
		if (x%40 < 5 || y%30 < 3) && x+y > 200 {
			r, g, b = 180, 180, 200
		}
	default:
		r = uint8((x + frameNum) % 256)
		g = uint8((y + frameNum/2) % 256)
		b = uint8((x + y + frameNum/3) % 256)
	}

	if blink && x < 50 && y < 20 {
		r, g, b = 255, 255, 255
	}
	return r, g, b
}

func putPixel(row []byte, x int, l frame.Layout, r, g, b uint8) {
	switch l {
	case frame.LayoutRGB:
		o := x * 3
		row[o], row[o+1], row[o+2] = r, g, b
	case frame.LayoutBGR:
		o := x * 3
		row[o], row[o+1], row[o+2] = b, g, r
	case frame.LayoutRGBA:
		o := x * 4
		row[o], row[o+1], row[o+2], row[o+3] = r, g, b, 0xff
	case frame.LayoutBGRA:
		o := x * 4
		row[o], row[o+1], row[o+2], row[o+3] = b, g, r, 0xff
	case frame.LayoutGray:
		row[x] = uint8((299*uint32(r) + 587*uint32(g) + 114*uint32(b)) / 1000)
	}
}

// putYUYV encodes a pixel pair with BT.601 studio-swing coefficients,
// taking chroma from the first pixel.
func putYUYV(row []byte, x int, r0, g0, b0, r1, g1, b1 uint8) {
	o := x * 2
	row[o] = rgbToY(r0, g0, b0)
	row[o+1] = rgbToU(r0, g0, b0)
	row[o+2] = rgbToY(r1, g1, b1)
	row[o+3] = rgbToV(r0, g0, b0)
}

func rgbToY(r, g, b uint8) uint8 {
	return uint8(((66*int32(r) + 129*int32(g) + 25*int32(b) + 128) >> 8) + 16)
}

func rgbToU(r, g, b uint8) uint8 {
	return uint8(((-38*int32(r) - 74*int32(g) + 112*int32(b) + 128) >> 8) + 128)
}

func rgbToV(r, g, b uint8) uint8 {
	return uint8(((112*int32(r) - 94*int32(g) - 18*int32(b) + 128) >> 8) + 128)
}
