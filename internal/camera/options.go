package camera

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"camera-viewer-go/internal/frame"
)

// Backend names a Device implementation.
type Backend string

const (
	BackendPattern      Backend = "pattern"
	BackendFFmpeg       Backend = "ffmpeg"
	BackendMediaDevices Backend = "mediadevices"
	BackendOpenCV       Backend = "opencv"
)

// Backends lists every backend name NewSource accepts.
var Backends = []Backend{BackendPattern, BackendFFmpeg, BackendMediaDevices, BackendOpenCV}

func ParseBackend(s string) (Backend, error) {
	b := Backend(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Backends {
		if b == known {
			return b, nil
		}
	}
	return "", fmt.Errorf("camera: unknown backend %q", s)
}

// Options are the capture settings shared by all backends.
type Options struct {
	Width  int
	Height int
	FPS    int
	// Format is the ffmpeg input format, "mjpeg" or "yuyv".
	Format string
	// Timeout bounds one ReadFrame.
	Timeout time.Duration
	// KillDeviceHolders terminates other processes holding the V4L2 node
	// before opening it.
	KillDeviceHolders bool
	// PatternLayout is the native layout of the pattern backend.
	PatternLayout frame.Layout
	Logger        *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = 640
	}
	if o.Height <= 0 {
		o.Height = 480
	}
	if o.FPS <= 0 {
		o.FPS = 15
	}
	if o.Format == "" {
		o.Format = "mjpeg"
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.PatternLayout == frame.LayoutUnknown {
		o.PatternLayout = frame.LayoutRGB
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// NewDevice builds the Device for a backend.
func NewDevice(b Backend, opts Options) (Device, error) {
	opts = opts.withDefaults()
	switch b {
	case BackendPattern, "":
		return NewPatternDevice(
			WithPatternSize(opts.Width, opts.Height),
			WithPatternLayout(opts.PatternLayout),
			WithPatternFPS(opts.FPS),
		), nil
	case BackendFFmpeg:
		return NewFFmpegDevice(opts), nil
	case BackendMediaDevices:
		return NewMediaDevice(opts), nil
	case BackendOpenCV:
		return NewOpenCVDevice(opts), nil
	default:
		return nil, fmt.Errorf("camera: unknown backend %q", b)
	}
}

// NewSource builds a timeout-bounded Source for a backend.
func NewSource(b Backend, opts Options) (Source, error) {
	opts = opts.withDefaults()
	dev, err := NewDevice(b, opts)
	if err != nil {
		return nil, err
	}
	return NewTimedSource(dev, opts.Timeout, opts.Logger), nil
}
