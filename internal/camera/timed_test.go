package camera

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camera-viewer-go/internal/frame"
)

// fakeDevice answers each Grab from a scripted step.
type fakeDevice struct {
	openErr error
	steps   chan func(dst *frame.Frame) error
	grabs   atomic.Int32
	closed  atomic.Bool
	unblock chan struct{}
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		steps:   make(chan func(dst *frame.Frame) error, 16),
		unblock: make(chan struct{}),
	}
}

func (d *fakeDevice) Name() string   { return "fake" }
func (d *fakeDevice) Open(int) error { return d.openErr }

func (d *fakeDevice) Close() error {
	d.closed.Store(true)
	close(d.unblock)
	return nil
}

func (d *fakeDevice) Grab(dst *frame.Frame) error {
	d.grabs.Add(1)
	select {
	case step := <-d.steps:
		return step(dst)
	case <-d.unblock:
		return ErrDeviceDisconnected
	}
}

func fill(dst *frame.Frame) error {
	dst.Reshape(4, 2, 4, frame.LayoutGray)
	for i := range dst.Pix {
		dst.Pix[i] = byte(i)
	}
	return nil
}

func partial(dst *frame.Frame) error { return ErrPartialFrame }

func TestTimedSourceReadsFrames(t *testing.T) {
	dev := newFakeDevice()
	src := NewTimedSource(dev, 200*time.Millisecond, nil)
	require.NoError(t, src.Open(0))
	defer src.Close()

	dev.steps <- fill
	dev.steps <- fill

	f, err := src.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.Seq)
	assert.NoError(t, f.Validate())
	assert.False(t, f.CapturedAt.IsZero())

	f, err = src.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f.Seq)
}

func TestTimedSourceOpenFailureIsUnavailable(t *testing.T) {
	dev := newFakeDevice()
	dev.openErr = errors.New("no such device")
	src := NewTimedSource(dev, 50*time.Millisecond, nil)

	err := src.Open(3)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)

	_, err = src.ReadFrame()
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestTimedSourceTimeoutReusesPendingGrab(t *testing.T) {
	dev := newFakeDevice()
	src := NewTimedSource(dev, 30*time.Millisecond, nil)
	require.NoError(t, src.Open(0))
	defer src.Close()

	start := time.Now()
	_, err := src.ReadFrame()
	require.ErrorIs(t, err, ErrCaptureTimeout)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, int32(1), dev.grabs.Load())

	// The stuck grab completes; the next read must pick it up instead of
	// starting another one.
	dev.steps <- fill
	f, err := src.ReadFrame()
	require.NoError(t, err)
	assert.NoError(t, f.Validate())
	assert.Equal(t, int32(1), dev.grabs.Load())
	assert.Equal(t, uint64(1), src.Timeouts())
}

func TestTimedSourceRetriesPartialOnce(t *testing.T) {
	dev := newFakeDevice()
	src := NewTimedSource(dev, 200*time.Millisecond, nil)
	require.NoError(t, src.Open(0))
	defer src.Close()

	dev.steps <- partial
	dev.steps <- fill
	f, err := src.ReadFrame()
	require.NoError(t, err)
	assert.NoError(t, f.Validate())
	assert.Equal(t, int32(2), dev.grabs.Load())

	dev.steps <- partial
	dev.steps <- partial
	_, err = src.ReadFrame()
	assert.ErrorIs(t, err, ErrCaptureTimeout)
	assert.Equal(t, int32(4), dev.grabs.Load())
	assert.Equal(t, uint64(3), src.Partials())
}

func TestTimedSourceTreatsShortBufferAsPartial(t *testing.T) {
	dev := newFakeDevice()
	src := NewTimedSource(dev, 200*time.Millisecond, nil)
	require.NoError(t, src.Open(0))
	defer src.Close()

	short := func(dst *frame.Frame) error {
		dst.Reshape(4, 2, 4, frame.LayoutGray)
		dst.Pix = dst.Pix[:5]
		return nil
	}
	dev.steps <- short
	dev.steps <- short
	_, err := src.ReadFrame()
	assert.ErrorIs(t, err, ErrCaptureTimeout)
}

func TestTimedSourceDisconnect(t *testing.T) {
	dev := newFakeDevice()
	src := NewTimedSource(dev, 200*time.Millisecond, nil)
	require.NoError(t, src.Open(0))
	defer src.Close()

	dev.steps <- func(*frame.Frame) error { return ErrDeviceDisconnected }
	_, err := src.ReadFrame()
	assert.ErrorIs(t, err, ErrDeviceDisconnected)
}

func TestTimedSourceCloseUnblocksAndIsIdempotent(t *testing.T) {
	dev := newFakeDevice()
	src := NewTimedSource(dev, 20*time.Millisecond, nil)
	require.NoError(t, src.Open(0))

	_, err := src.ReadFrame()
	require.ErrorIs(t, err, ErrCaptureTimeout)

	require.NoError(t, src.Close())
	assert.True(t, dev.closed.Load())
	require.NoError(t, src.Close())

	_, err = src.ReadFrame()
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestTimedSourceWithPatternDevice(t *testing.T) {
	dev := NewPatternDevice(WithPatternSize(32, 16), WithPatternLayout(frame.LayoutYUYV), WithPatternPadding(8))
	src := NewTimedSource(dev, 100*time.Millisecond, nil)
	require.NoError(t, src.Open(1))
	defer src.Close()

	f, err := src.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, frame.LayoutYUYV, f.Layout)
	assert.Equal(t, 32*2+8, f.Stride)
	assert.NoError(t, f.Validate())
}

// stuckDevice blocks its first Grab until release is closed, ignoring Close.
// Later grabs fill dst right away. Close blocks while holdClose is open.
type stuckDevice struct {
	grabs     atomic.Int32
	release   chan struct{}
	holdClose chan struct{}
}

func newStuckDevice() *stuckDevice {
	hold := make(chan struct{})
	close(hold)
	return &stuckDevice{release: make(chan struct{}), holdClose: hold}
}

func (d *stuckDevice) Name() string   { return "stuck" }
func (d *stuckDevice) Open(int) error { return nil }

func (d *stuckDevice) Close() error {
	<-d.holdClose
	return nil
}

func (d *stuckDevice) Grab(dst *frame.Frame) error {
	if d.grabs.Add(1) == 1 {
		<-d.release
		dst.Reshape(4, 2, 4, frame.LayoutGray)
		for i := range dst.Pix {
			dst.Pix[i] = 0xEE
		}
		return nil
	}
	return fill(dst)
}

func TestTimedSourceReopenWhileGrabStuck(t *testing.T) {
	dev := newStuckDevice()
	src := NewTimedSource(dev, 20*time.Millisecond, nil)
	require.NoError(t, src.Open(0))

	_, err := src.ReadFrame()
	require.ErrorIs(t, err, ErrCaptureTimeout)

	start := time.Now()
	require.NoError(t, src.Close())
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	require.NoError(t, src.Open(0))
	defer src.Close()

	// The abandoned grab finishes while the new goroutine is reading.
	close(dev.release)
	for i := 0; i < 50; i++ {
		f, err := src.ReadFrame()
		require.NoError(t, err)
		require.NoError(t, f.Validate())
		for j, b := range f.Pix {
			require.Equal(t, byte(j), b, "frame %d byte %d", i, j)
		}
	}
}

func TestTimedSourceCloseIsBoundedWhenDeviceHangs(t *testing.T) {
	dev := newStuckDevice()
	close(dev.release)
	dev.holdClose = make(chan struct{})
	src := NewTimedSource(dev, 20*time.Millisecond, nil)
	require.NoError(t, src.Open(0))

	start := time.Now()
	err := src.Close()
	assert.ErrorIs(t, err, ErrCloseTimeout)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	err = src.Open(0)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)

	close(dev.holdClose)
	require.Eventually(t, func() bool { return src.Open(0) == nil }, time.Second, 5*time.Millisecond)
	require.NoError(t, src.Close())
}
