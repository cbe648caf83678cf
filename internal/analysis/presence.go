// Package analysis classifies what the person in front of the camera is
// doing from cheap brightness and motion statistics.
package analysis

import (
	"sync"
	"time"

	"camera-viewer-go/internal/frame"
)

// Presence is the classified user state.
type Presence int

const (
	PresenceUnknown Presence = iota
	// PresenceAway: the patch is dark, nobody in front of the camera.
	PresenceAway
	// PresenceFocus: lit but still.
	PresenceFocus
	// PresenceCollaborate: lots of motion.
	PresenceCollaborate
)

func (p Presence) String() string {
	switch p {
	case PresenceAway:
		return "Away"
	case PresenceFocus:
		return "Focus"
	case PresenceCollaborate:
		return "Collaborate"
	default:
		return "Unknown"
	}
}

const (
	PatchSize = 100
	// DarkThreshold is the average brightness below which the user is away.
	DarkThreshold = 30
	// MotionDelta is the per-pixel brightness change that counts as motion.
	MotionDelta = 30
	// MotionRatio is the share of moving pixels above which the user is
	// collaborating.
	MotionRatio = 0.1
)

// Result is one analysis sample.
type Result struct {
	Presence   Presence
	Brightness int
	Motion     float64
	At         time.Time
}

// Analyzer samples a centered patch of each analyzed frame and compares
// it with the previous sample. The previous patch buffer is allocated once.
type Analyzer struct {
	mu       sync.Mutex
	interval time.Duration
	now      func() time.Time

	prev  []uint8
	cur   []uint8
	prevN int // pixels in prev; 0 before the first sample
	last  Result
}

// NewAnalyzer returns an analyzer that does real work at most once per
// interval; calls in between return the last result.
func NewAnalyzer(interval time.Duration) *Analyzer {
	return &Analyzer{
		interval: interval,
		now:      time.Now,
		prev:     make([]uint8, PatchSize*PatchSize),
		cur:      make([]uint8, PatchSize*PatchSize),
	}
}

// Last returns the most recent result.
func (a *Analyzer) Last() Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Analyze classifies f, or returns the last result when the interval has
// not elapsed. The second result reports whether f was analyzed. f is
// read, never retained.
func (a *Analyzer) Analyze(f *frame.Frame) (Result, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if !a.last.At.IsZero() && now.Sub(a.last.At) < a.interval {
		return a.last, false
	}
	if f == nil || f.Validate() != nil {
		return a.last, false
	}

	n, total := a.sample(f)
	if n == 0 {
		return a.last, false
	}

	moving := 0
	if a.prevN == n {
		for i := 0; i < n; i++ {
			d := int(a.cur[i]) - int(a.prev[i])
			if d > MotionDelta || d < -MotionDelta {
				moving++
			}
		}
	}
	a.prev, a.cur = a.cur, a.prev
	a.prevN = n

	r := Result{
		Brightness: total / n,
		Motion:     float64(moving) / float64(n),
		At:         now,
	}
	switch {
	case r.Brightness < DarkThreshold:
		r.Presence = PresenceAway
	case r.Motion > MotionRatio:
		r.Presence = PresenceCollaborate
	default:
		r.Presence = PresenceFocus
	}
	a.last = r
	return r, true
}

// sample copies the brightness of the centered patch into a.cur and
// returns the pixel count and brightness sum. Frames smaller than the
// patch are sampled whole.
func (a *Analyzer) sample(f *frame.Frame) (n, total int) {
	pw, ph := min(PatchSize, f.Width), min(PatchSize, f.Height)
	x0 := (f.Width - pw) / 2
	y0 := (f.Height - ph) / 2

	for y := y0; y < y0+ph; y++ {
		row := f.Row(y)
		for x := x0; x < x0+pw; x++ {
			v := brightness(row, x, f.Layout)
			a.cur[n] = v
			total += int(v)
			n++
		}
	}
	return n, total
}

// brightness is the plain channel average of pixel x in row.
func brightness(row []byte, x int, l frame.Layout) uint8 {
	switch l {
	case frame.LayoutGray:
		return row[x]
	case frame.LayoutYUYV:
		return row[x*2]
	case frame.LayoutRGB, frame.LayoutBGR:
		p := row[x*3:]
		return uint8((int(p[0]) + int(p[1]) + int(p[2])) / 3)
	case frame.LayoutRGBA, frame.LayoutBGRA:
		p := row[x*4:]
		return uint8((int(p[0]) + int(p[1]) + int(p[2])) / 3)
	}
	return 0
}
