// Package render turns delivered frames into toolkit images. The toolkit
// specific adapters live in internal/ui (Fyne) and internal/term (tcell);
// this package holds the contract and the shared image work.
package render

import (
	"errors"

	"camera-viewer-go/internal/frame"
)

// ErrBadDimensions means a frame cannot be displayed as delivered: zero
// size, or a buffer that does not match its geometry.
var ErrBadDimensions = errors.New("render: bad frame dimensions")

// Adapter paints frames. Present runs on the UI goroutine, must not block
// or touch the device, and always releases f, also on error. On error the
// previously shown image stays up.
type Adapter interface {
	Present(f *frame.Frame) error
}

// Receiver is the render side of the delivery channel.
type Receiver interface {
	Receive() (*frame.Frame, bool)
}

// Tick polls rx once and presents the waiting frame, if any. When nothing
// is waiting the adapter is not called and the previous image stays.
func Tick(rx Receiver, a Adapter) (presented bool, err error) {
	f, ok := rx.Receive()
	if !ok {
		return false, nil
	}
	return true, a.Present(f)
}
