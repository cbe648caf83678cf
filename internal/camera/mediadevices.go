package camera

import (
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/camera" // registers the camera driver
	"github.com/pion/mediadevices/pkg/prop"
	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"camera-viewer-go/internal/frame"
)

// imageReader is the raw frame reader of a mediadevices video track.
// release hands the driver buffer back and must be called once per frame.
type imageReader interface {
	Read() (img image.Image, release func(), err error)
}

// MediaDevice captures through the pion/mediadevices camera driver.
type MediaDevice struct {
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	track  mediadevices.Track
	reader imageReader
	label  string
}

func NewMediaDevice(opts Options) *MediaDevice {
	opts = opts.withDefaults()
	return &MediaDevice{opts: opts, logger: opts.Logger.Named("mediadevices")}
}

func (d *MediaDevice) Name() string {
	if d.label == "" {
		return "mediadevices"
	}
	return "mediadevices:" + d.label
}

// videoInputs returns the camera devices the driver knows about, in
// enumeration order.
func videoInputs() []mediadevices.MediaDeviceInfo {
	var inputs []mediadevices.MediaDeviceInfo
	for _, info := range mediadevices.EnumerateDevices() {
		if info.Kind == mediadevices.VideoInput {
			inputs = append(inputs, info)
		}
	}
	return inputs
}

// ListMediaDevices describes the cameras visible to the mediadevices
// driver. Index i is the value to pass to Open.
func ListMediaDevices() []Camera {
	inputs := videoInputs()
	cams := make([]Camera, 0, len(inputs))
	for _, info := range inputs {
		cams = append(cams, Camera{
			DeviceID:  info.DeviceID,
			Name:      info.Label,
			Available: true,
		})
	}
	return cams
}

func (d *MediaDevice) Open(deviceIndex int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	inputs := videoInputs()
	if deviceIndex < 0 || deviceIndex >= len(inputs) {
		return fmt.Errorf("%w: index %d, %d cameras found", ErrDeviceUnavailable, deviceIndex, len(inputs))
	}
	info := inputs[deviceIndex]

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.DeviceID = prop.String(info.DeviceID)
			c.Width = prop.Int(d.opts.Width)
			c.Height = prop.Int(d.opts.Height)
			c.FrameRate = prop.Float(float32(d.opts.FPS))
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, info.Label, err)
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return fmt.Errorf("%w: %s: no video track", ErrDeviceUnavailable, info.Label)
	}
	vt, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		tracks[0].Close()
		return fmt.Errorf("%w: %s: unexpected track type %T", ErrDeviceUnavailable, info.Label, tracks[0])
	}

	d.track = vt
	// false: raw frames, no transform chain.
	d.reader = vt.NewReader(false)
	d.label = info.Label
	d.logger.Info("camera opened", zap.String("label", info.Label), zap.String("id", info.DeviceID))
	return nil
}

func (d *MediaDevice) Grab(dst *frame.Frame) error {
	d.mu.Lock()
	reader := d.reader
	d.mu.Unlock()
	if reader == nil {
		return ErrDeviceDisconnected
	}

	img, release, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %v", ErrDeviceDisconnected, err)
		}
		return fmt.Errorf("%w: %v", ErrPartialFrame, err)
	}
	defer release()

	b := img.Bounds()
	if b.Empty() {
		return fmt.Errorf("%w: empty image", ErrPartialFrame)
	}
	dst.Reshape(b.Dx(), b.Dy(), b.Dx()*4, frame.LayoutRGBA)
	canvas := &image.RGBA{Pix: dst.Pix, Stride: dst.Stride, Rect: image.Rect(0, 0, b.Dx(), b.Dy())}
	draw.Draw(canvas, canvas.Rect, img, b.Min, draw.Src)
	return nil
}

func (d *MediaDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.track == nil {
		return nil
	}
	err := d.track.Close()
	d.track = nil
	d.reader = nil
	d.logger.Info("camera closed", zap.String("label", d.label))
	return err
}
