//go:build opencv

package camera

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"camera-viewer-go/internal/frame"
	"camera-viewer-go/internal/helpers"
)

// OpenCVDevice captures through OpenCV's VideoCapture. Frames arrive as
// BGR mats and are copied out without conversion.
type OpenCVDevice struct {
	opts   Options
	logger *zap.Logger

	mu    sync.Mutex
	vc    *gocv.VideoCapture
	mat   gocv.Mat
	index int
}

func NewOpenCVDevice(opts Options) Device {
	opts = opts.withDefaults()
	return &OpenCVDevice{opts: opts, logger: opts.Logger.Named("opencv")}
}

func (d *OpenCVDevice) Name() string {
	return fmt.Sprintf("opencv:%d", d.index)
}

func (d *OpenCVDevice) Open(deviceIndex int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	helpers.KillDeviceHolders(DevicePath(deviceIndex), d.opts.KillDeviceHolders, d.logger)

	vc, err := gocv.OpenVideoCapture(deviceIndex)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return fmt.Errorf("%w: camera %d did not open", ErrDeviceUnavailable, deviceIndex)
	}

	vc.Set(gocv.VideoCaptureFrameWidth, float64(d.opts.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(d.opts.Height))
	vc.Set(gocv.VideoCaptureFPS, float64(d.opts.FPS))

	d.vc = vc
	d.mat = gocv.NewMat()
	d.index = deviceIndex
	d.logger.Info("camera opened",
		zap.Int("index", deviceIndex),
		zap.Float64("width", vc.Get(gocv.VideoCaptureFrameWidth)),
		zap.Float64("height", vc.Get(gocv.VideoCaptureFrameHeight)))
	return nil
}

func (d *OpenCVDevice) Grab(dst *frame.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.vc == nil {
		return ErrDeviceDisconnected
	}

	if ok := d.vc.Read(&d.mat); !ok {
		return fmt.Errorf("%w: read failed", ErrDeviceDisconnected)
	}
	if d.mat.Empty() {
		return fmt.Errorf("%w: empty mat", ErrPartialFrame)
	}

	var layout frame.Layout
	switch d.mat.Channels() {
	case 1:
		layout = frame.LayoutGray
	case 3:
		layout = frame.LayoutBGR
	case 4:
		layout = frame.LayoutBGRA
	default:
		return fmt.Errorf("%w: %d channels", ErrPartialFrame, d.mat.Channels())
	}

	data, err := d.mat.DataPtrUint8()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPartialFrame, err)
	}
	rows, cols, step := d.mat.Rows(), d.mat.Cols(), d.mat.Step()
	if len(data) < step*rows {
		return fmt.Errorf("%w: mat holds %d bytes, want %d", ErrPartialFrame, len(data), step*rows)
	}

	dst.Reshape(cols, rows, step, layout)
	copy(dst.Pix, data)
	return nil
}

func (d *OpenCVDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.vc == nil {
		return nil
	}
	err := d.vc.Close()
	d.mat.Close()
	d.vc = nil
	d.logger.Info("camera closed", zap.Int("index", d.index))
	return err
}
