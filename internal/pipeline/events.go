package pipeline

import (
	"fmt"
	"time"
)

// EventKind classifies a status event from the capture side.
type EventKind int

const (
	EventStarted EventKind = iota
	EventStopped
	// EventDisconnected is emitted when the device goes away mid-run. An
	// EventStopped follows once teardown completes.
	EventDisconnected
	// EventError reports a fatal non-device failure, such as a frame the
	// converter cannot map. An EventStopped follows.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one status report. Err is set for EventDisconnected and
// EventError, and on EventStopped when teardown itself failed.
type Event struct {
	Kind    EventKind
	Err     error
	Session string
	At      time.Time
}

func (e Event) String() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

// emit queues e without blocking. When the buffer is full the oldest
// queued event is discarded.
func (p *Pipeline) emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	for {
		select {
		case p.events <- e:
			return
		default:
		}
		select {
		case <-p.events:
			p.eventsDropped.Add(1)
		default:
		}
	}
}
