package camera

import (
	"bytes"
	"fmt"
	"io"
	"time"
)

// mjpegScanner splits an image2pipe MJPEG stream into JPEG images by
// scanning for SOI (FFD8) and EOI (FFD9) markers.
type mjpegScanner struct {
	r            io.Reader
	readBuf      []byte
	data         []byte
	consumed     int
	frameTimeout time.Duration
	maxFrame     int
}

func newMJPEGScanner(r io.Reader, maxFrame int, frameTimeout time.Duration) *mjpegScanner {
	if maxFrame < 200000 {
		maxFrame = 200000
	}
	return &mjpegScanner{
		r:            r,
		readBuf:      make([]byte, 8192),
		data:         make([]byte, 0, 65536),
		frameTimeout: frameTimeout,
		maxFrame:     maxFrame,
	}
}

var (
	soiMarker = []byte{0xFF, 0xD8}
	eoiMarker = []byte{0xFF, 0xD9}
)

// Next returns the next complete JPEG. The slice is only valid until the
// following call. Stream errors are returned as is; a frame that takes too
// long or grows past maxFrame yields ErrPartialFrame.
func (s *mjpegScanner) Next() ([]byte, error) {
	if s.consumed > 0 {
		s.data = append(s.data[:0], s.data[s.consumed:]...)
		s.consumed = 0
	}
	start := time.Now()

	for {
		if soi := bytes.Index(s.data, soiMarker); soi >= 0 {
			if soi > 0 {
				s.data = append(s.data[:0], s.data[soi:]...)
			}
			if eoi := bytes.Index(s.data[2:], eoiMarker); eoi >= 0 {
				end := 2 + eoi + len(eoiMarker)
				s.consumed = end
				return s.data[:end], nil
			}
		} else if len(s.data) > 1 {
			// Keep the last byte in case it starts a marker.
			s.data = append(s.data[:0], s.data[len(s.data)-1])
		}

		if len(s.data) > s.maxFrame {
			s.data = s.data[:0]
			return nil, fmt.Errorf("%w: jpeg exceeds %d bytes", ErrPartialFrame, s.maxFrame)
		}
		if s.frameTimeout > 0 && time.Since(start) > s.frameTimeout {
			return nil, fmt.Errorf("%w: no complete jpeg within %s", ErrPartialFrame, s.frameTimeout)
		}

		n, err := s.r.Read(s.readBuf)
		s.data = append(s.data, s.readBuf[:n]...)
		if err != nil {
			return nil, err
		}
	}
}
