package render

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"camera-viewer-go/internal/convert"
	"camera-viewer-go/internal/frame"
)

// Filters selects the in-place effects applied to every built image.
type Filters struct {
	Mirror  bool
	Night   bool
	Privacy bool
	// Block is the privacy tile size; 0 means DefaultPixelateBlock.
	Block int
}

// ImageBuilder converts frames into *image.RGBA. It alternates between two
// buffers so the image returned by the previous Build, which the toolkit
// may still be painting, is never written by the next one. Build is
// called from a single goroutine; the filters may change from any.
type ImageBuilder struct {
	mu      sync.Mutex
	filters Filters

	bufs [2]*image.RGBA
	next int
}

func NewImageBuilder(f Filters) *ImageBuilder {
	return &ImageBuilder{filters: f}
}

// SetFilters replaces the active filters. Safe to call from any goroutine.
func (b *ImageBuilder) SetFilters(f Filters) {
	b.mu.Lock()
	b.filters = f
	b.mu.Unlock()
}

func (b *ImageBuilder) Filters() Filters {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filters
}

// Update applies fn to the active filters.
func (b *ImageBuilder) Update(fn func(*Filters)) Filters {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.filters)
	return b.filters
}

// Build writes f into the back buffer, applies the filters and returns
// it. It does not release f. Frames that cannot be displayed fail with
// ErrBadDimensions (or convert.ErrUnsupportedLayout) and leave both
// buffers as they were.
func (b *ImageBuilder) Build(f *frame.Frame) (*image.RGBA, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrBadDimensions)
	}
	if err := f.Validate(); err != nil {
		if errors.Is(err, frame.ErrInvalidFrame) {
			return nil, fmt.Errorf("%w: %v", ErrBadDimensions, err)
		}
		return nil, err
	}
	if !convert.IsSource(f.Layout) {
		return nil, fmt.Errorf("%w: %s", convert.ErrUnsupportedLayout, f.Layout)
	}

	b.mu.Lock()
	filters := b.filters
	b.mu.Unlock()

	dst := b.back(f.Width, f.Height)
	if _, err := convert.Into(dst.Pix, f, frame.LayoutRGBA); err != nil {
		return nil, err
	}

	if filters.Mirror {
		Mirror(dst)
	}
	if filters.Privacy {
		block := filters.Block
		if block == 0 {
			block = DefaultPixelateBlock
		}
		Pixelate(dst, block)
	}
	if filters.Night {
		NightMode(dst)
	}

	b.next ^= 1
	return dst, nil
}

// back returns the buffer the next Build writes, sized to w x h and
// reusing its capacity when possible.
func (b *ImageBuilder) back(w, h int) *image.RGBA {
	dst := b.bufs[b.next]
	need := w * h * 4
	if dst != nil && cap(dst.Pix) >= need {
		dst.Pix = dst.Pix[:need]
		dst.Stride = w * 4
		dst.Rect = image.Rect(0, 0, w, h)
		return dst
	}
	dst = image.NewRGBA(image.Rect(0, 0, w, h))
	b.bufs[b.next] = dst
	return dst
}
