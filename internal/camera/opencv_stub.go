//go:build !opencv

package camera

import (
	"fmt"

	"camera-viewer-go/internal/frame"
)

// opencvStub stands in for the OpenCV backend in builds without the
// opencv tag.
type opencvStub struct{}

func NewOpenCVDevice(Options) Device { return opencvStub{} }

func (opencvStub) Name() string { return "opencv" }

func (opencvStub) Open(int) error {
	return fmt.Errorf("%w: opencv backend not built (use -tags opencv)", ErrDeviceUnavailable)
}

func (opencvStub) Grab(*frame.Frame) error { return ErrDeviceDisconnected }

func (opencvStub) Close() error { return nil }
