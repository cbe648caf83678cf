// Package camera provides frame sources: a timeout-bounded Source contract
// and the device backends that feed it.
package camera

import (
	"errors"

	"camera-viewer-go/internal/frame"
)

var (
	// ErrDeviceUnavailable is returned by Open when the device cannot be
	// opened at all.
	ErrDeviceUnavailable = errors.New("camera: device unavailable")
	// ErrDeviceDisconnected means an open device stopped producing data for
	// good.
	ErrDeviceDisconnected = errors.New("camera: device disconnected")
	// ErrCaptureTimeout means no complete frame arrived in time. The next
	// read may succeed.
	ErrCaptureTimeout = errors.New("camera: capture timeout")
	// ErrPartialFrame is reported by devices for short or corrupt reads.
	// Sources retry it once before reporting ErrCaptureTimeout.
	ErrPartialFrame = errors.New("camera: partial frame")

	// ErrCloseTimeout means the device did not finish closing within the
	// read timeout. The source refuses to reopen until it does.
	ErrCloseTimeout = errors.New("camera: device close timed out")

	ErrNotOpen     = errors.New("camera: source not open")
	ErrAlreadyOpen = errors.New("camera: source already open")
)

// Source is the capture-side view of a camera. A Source is driven by a
// single goroutine.
type Source interface {
	// Open acquires the device. It fails with ErrDeviceUnavailable.
	Open(deviceIndex int) error
	// ReadFrame returns the next complete frame. The frame belongs to the
	// source and stays valid until the next ReadFrame or Close. It fails
	// with ErrCaptureTimeout or ErrDeviceDisconnected.
	ReadFrame() (*frame.Frame, error)
	// Close releases the device. Calling Close on a closed source is a
	// no-op.
	Close() error
	Name() string
}

// Device is the blocking, backend-specific half of a Source. Grab fills dst
// with one frame, reusing dst.Pix capacity, and may block as long as the
// hardware does.
type Device interface {
	Open(deviceIndex int) error
	Grab(dst *frame.Frame) error
	Close() error
	Name() string
}
