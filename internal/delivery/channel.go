// Package delivery hands converted frames from the capture goroutine to the
// render loop through a single-slot mailbox that keeps only the newest frame.
package delivery

import (
	"errors"
	"sync"

	"camera-viewer-go/internal/frame"
)

var ErrClosed = errors.New("delivery: channel closed")

// Stats is a snapshot of channel counters.
type Stats struct {
	Sent     uint64
	Received uint64
	// Replaced counts frames that were overwritten before anyone received
	// them.
	Replaced uint64
	Occupied bool
	Closed   bool
}

// Channel is a one-frame mailbox. Send never blocks and replaces any frame
// still waiting; Receive never blocks.
type Channel struct {
	mu     sync.Mutex
	held   *frame.Frame
	closed bool

	sent     uint64
	received uint64
	replaced uint64
}

func New() *Channel {
	return &Channel{}
}

// Send stores f as the newest frame. A frame still waiting is released back
// to its pool and replaced is true. After Close, f is released and ErrClosed
// returned.
func (c *Channel) Send(f *frame.Frame) (replaced bool, err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		f.Release()
		return false, ErrClosed
	}
	old := c.held
	c.held = f
	c.sent++
	if old != nil {
		c.replaced++
	}
	c.mu.Unlock()

	if old != nil {
		old.Release()
		return true, nil
	}
	return false, nil
}

// Receive takes the waiting frame, if any. The caller owns it and must
// Release it.
func (c *Channel) Receive() (*frame.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.held
	if f == nil {
		return nil, false
	}
	c.held = nil
	c.received++
	return f, true
}

// Close drops any waiting frame. Receive reports empty from then on.
// Close is idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	old := c.held
	c.held = nil
	c.mu.Unlock()

	if old != nil {
		old.Release()
	}
}

func (c *Channel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Sent:     c.sent,
		Received: c.received,
		Replaced: c.replaced,
		Occupied: c.held != nil,
		Closed:   c.closed,
	}
}
