package camera

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"camera-viewer-go/internal/frame"
)

// DefaultTimeout bounds a single ReadFrame when none is configured.
const DefaultTimeout = 500 * time.Millisecond

type grabResult struct {
	f   *frame.Frame
	err error
}

// TimedSource turns a blocking Device into a Source whose reads are bounded
// by a timeout. Grabs run on a helper goroutine; a grab still running when a
// read times out is picked up by the next read instead of being issued twice.
type TimedSource struct {
	dev     Device
	timeout time.Duration
	logger  *zap.Logger

	raw     *frame.Frame
	reqs    chan *frame.Frame
	results chan grabResult
	quit    chan struct{}
	done    chan struct{}
	pending bool
	open    bool
	seq     uint64
	// closing is closed once a device Close that outlived Close returns.
	closing chan struct{}

	timeouts atomic.Uint64
	partials atomic.Uint64
}

// NewTimedSource wraps dev. A non-positive timeout selects DefaultTimeout.
func NewTimedSource(dev Device, timeout time.Duration, logger *zap.Logger) *TimedSource {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimedSource{
		dev:     dev,
		timeout: timeout,
		logger:  logger.Named("source").With(zap.String("device", dev.Name())),
		raw:     &frame.Frame{},
	}
}

func (s *TimedSource) Name() string { return s.dev.Name() }

// Timeout returns the per-read bound.
func (s *TimedSource) Timeout() time.Duration { return s.timeout }

// Open opens the device and starts the grab goroutine.
func (s *TimedSource) Open(deviceIndex int) error {
	if s.open {
		return ErrAlreadyOpen
	}
	if s.closing != nil {
		select {
		case <-s.closing:
			s.closing = nil
		default:
			return fmt.Errorf("%w: previous close still in progress", ErrDeviceUnavailable)
		}
	}
	if s.done != nil {
		select {
		case <-s.done:
		default:
			// The old grab goroutine is still inside Grab and owns s.raw.
			s.raw = &frame.Frame{}
		}
	}
	if err := s.dev.Open(deviceIndex); err != nil {
		if !errors.Is(err, ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		return err
	}

	s.reqs = make(chan *frame.Frame)
	s.results = make(chan grabResult, 1)
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	s.pending = false
	s.open = true

	go s.grabLoop(s.reqs, s.results, s.quit, s.done)

	s.logger.Info("device opened", zap.Int("index", deviceIndex), zap.Duration("timeout", s.timeout))
	return nil
}

func (s *TimedSource) grabLoop(reqs <-chan *frame.Frame, results chan<- grabResult, quit, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-quit:
			return
		case buf := <-reqs:
			err := s.dev.Grab(buf)
			// results has room for the one outstanding grab.
			results <- grabResult{f: buf, err: err}
		}
	}
}

// ReadFrame implements Source. A partial frame is retried once within the
// same deadline and then reported as ErrCaptureTimeout.
func (s *TimedSource) ReadFrame() (*frame.Frame, error) {
	if !s.open {
		return nil, ErrNotOpen
	}

	deadline := time.NewTimer(s.timeout)
	defer deadline.Stop()

	retried := false
	for {
		if !s.pending {
			s.raw.CapturedAt = time.Time{}
			select {
			case s.reqs <- s.raw:
				s.pending = true
			case <-s.done:
				return nil, ErrDeviceDisconnected
			case <-deadline.C:
				s.timeouts.Add(1)
				return nil, ErrCaptureTimeout
			}
		}

		select {
		case r := <-s.results:
			s.pending = false
			err := r.err
			if err == nil {
				if verr := r.f.Validate(); verr != nil {
					if errors.Is(verr, frame.ErrInvalidFrame) {
						err = fmt.Errorf("%w: %v", ErrPartialFrame, verr)
					} else {
						err = verr
					}
				}
			}
			if err == nil {
				s.seq++
				r.f.Seq = s.seq
				if r.f.CapturedAt.IsZero() {
					r.f.CapturedAt = time.Now()
				}
				return r.f, nil
			}
			if errors.Is(err, ErrPartialFrame) {
				s.partials.Add(1)
				if !retried {
					retried = true
					s.logger.Debug("partial frame, retrying", zap.Error(err))
					continue
				}
				s.timeouts.Add(1)
				return nil, fmt.Errorf("%w: partial frame after retry", ErrCaptureTimeout)
			}
			return nil, err

		case <-deadline.C:
			s.timeouts.Add(1)
			return nil, ErrCaptureTimeout
		}
	}
}

// Close stops the grab goroutine and closes the device. Both are bounded by
// one timeout; a device Close still running after that keeps the source
// from reopening until it returns.
func (s *TimedSource) Close() error {
	if !s.open {
		return nil
	}
	s.open = false
	close(s.quit)

	closed := make(chan struct{})
	var closeErr error
	go func() {
		closeErr = s.dev.Close()
		close(closed)
	}()

	expired := time.After(s.timeout)
	var err error
	select {
	case <-closed:
		err = closeErr
		select {
		case <-s.done:
		case <-expired:
			s.logger.Warn("grab goroutine still blocked in device read after close")
		}
	case <-expired:
		s.closing = closed
		s.logger.Warn("device close still blocked", zap.Duration("timeout", s.timeout))
		err = fmt.Errorf("%w after %s", ErrCloseTimeout, s.timeout)
	}

	s.logger.Info("device closed",
		zap.Uint64("timeouts", s.timeouts.Load()),
		zap.Uint64("partials", s.partials.Load()))
	return err
}

// Timeouts returns how many reads ended in ErrCaptureTimeout.
func (s *TimedSource) Timeouts() uint64 { return s.timeouts.Load() }

// Partials returns how many partial frames the device reported.
func (s *TimedSource) Partials() uint64 { return s.partials.Load() }
