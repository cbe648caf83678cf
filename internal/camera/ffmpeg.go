package camera

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"camera-viewer-go/internal/frame"
	"camera-viewer-go/internal/helpers"
)

// FFmpegDevice captures from a V4L2 device through an ffmpeg child process.
// Format "mjpeg" pipes JPEG images and decodes them to RGBA; "yuyv" pipes
// raw YUYV frames that go to the converter untouched.
type FFmpegDevice struct {
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	scanner *mjpegScanner
	path    string
	frames  atomic.Uint64
}

func NewFFmpegDevice(opts Options) *FFmpegDevice {
	opts = opts.withDefaults()
	return &FFmpegDevice{
		opts:   opts,
		logger: opts.Logger.Named("ffmpeg"),
	}
}

func (d *FFmpegDevice) Name() string {
	if d.path == "" {
		return "ffmpeg"
	}
	return "ffmpeg:" + d.path
}

// Args builds the ffmpeg command line for the given device path.
func (d *FFmpegDevice) Args(devicePath string) []string {
	videoSize := fmt.Sprintf("%dx%d", d.opts.Width, d.opts.Height)
	args := []string{"-hide_banner", "-loglevel", "error",
		"-thread_queue_size", "512", "-probesize", "32", "-analyzeduration", "0",
		"-f", "v4l2"}

	switch d.opts.Format {
	case "yuyv":
		args = append(args, "-input_format", "yuyv422")
	default:
		args = append(args, "-input_format", "mjpeg")
	}
	args = append(args,
		"-video_size", videoSize,
		"-framerate", strconv.Itoa(d.opts.FPS),
		"-i", devicePath)

	if d.opts.Format == "yuyv" {
		return append(args, "-f", "rawvideo", "-pix_fmt", "yuyv422", "-")
	}
	return append(args, "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-")
}

func (d *FFmpegDevice) Open(deviceIndex int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	path := DevicePath(deviceIndex)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, path, err)
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("%w: ffmpeg not found: %v", ErrDeviceUnavailable, err)
	}

	helpers.KillDeviceHolders(path, d.opts.KillDeviceHolders, d.logger)

	args := d.Args(path)
	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %v", ErrDeviceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start ffmpeg: %v", ErrDeviceUnavailable, err)
	}

	d.cmd = cmd
	d.stdout = stdout
	d.path = path
	d.frames.Store(0)
	if d.opts.Format != "yuyv" {
		maxFrame := d.opts.Width * d.opts.Height * 3
		d.scanner = newMJPEGScanner(stdout, maxFrame, d.opts.Timeout)
	}

	d.logger.Info("ffmpeg started",
		zap.String("device", path),
		zap.Int("pid", cmd.Process.Pid),
		zap.String("format", d.opts.Format),
		zap.Int("width", d.opts.Width),
		zap.Int("height", d.opts.Height),
		zap.Int("fps", d.opts.FPS))
	return nil
}

func (d *FFmpegDevice) Grab(dst *frame.Frame) error {
	d.mu.Lock()
	stdout, scanner := d.stdout, d.scanner
	d.mu.Unlock()
	if stdout == nil {
		return ErrDeviceDisconnected
	}

	var err error
	if scanner == nil {
		err = d.grabRaw(stdout, dst)
	} else {
		err = d.grabJPEG(scanner, dst)
	}
	if err != nil {
		return err
	}

	n := d.frames.Add(1)
	if n%150 == 1 {
		d.logger.Debug("frame",
			zap.Uint64("n", n),
			zap.Int("width", dst.Width),
			zap.Int("height", dst.Height),
			zap.Stringer("layout", dst.Layout))
	}
	return nil
}

func (d *FFmpegDevice) grabRaw(r io.Reader, dst *frame.Frame) error {
	stride := frame.LayoutYUYV.MinStride(d.opts.Width)
	dst.Reshape(d.opts.Width, d.opts.Height, stride, frame.LayoutYUYV)
	if _, err := io.ReadFull(r, dst.Pix); err != nil {
		return streamError(err)
	}
	return nil
}

func (d *FFmpegDevice) grabJPEG(s *mjpegScanner, dst *frame.Frame) error {
	data, err := s.Next()
	if err != nil {
		if errors.Is(err, ErrPartialFrame) {
			return err
		}
		return streamError(err)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: decode jpeg: %v", ErrPartialFrame, err)
	}

	b := img.Bounds()
	dst.Reshape(b.Dx(), b.Dy(), b.Dx()*4, frame.LayoutRGBA)
	canvas := &image.RGBA{Pix: dst.Pix, Stride: dst.Stride, Rect: image.Rect(0, 0, b.Dx(), b.Dy())}
	draw.Draw(canvas, canvas.Rect, img, b.Min, draw.Src)
	return nil
}

func streamError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrDeviceDisconnected, err)
	}
	return err
}

// Close kills ffmpeg and reaps it.
func (d *FFmpegDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd == nil {
		return nil
	}

	cmd := d.cmd
	d.cmd = nil
	d.stdout = nil
	d.scanner = nil

	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	// Always reap, or the process lingers as a zombie.
	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()
	select {
	case <-waitErr:
	case <-time.After(2 * time.Second):
		d.logger.Warn("ffmpeg did not exit after kill", zap.String("device", d.path))
	}
	d.logger.Info("ffmpeg stopped", zap.String("device", d.path), zap.Uint64("frames", d.frames.Load()))
	return nil
}
