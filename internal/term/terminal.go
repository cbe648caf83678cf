// Package term renders the camera into a terminal with tcell. Each cell
// shows two vertically stacked pixels using the upper half block glyph.
package term

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"

	"camera-viewer-go/internal/analysis"
	"camera-viewer-go/internal/frame"
	"camera-viewer-go/internal/metrics"
	"camera-viewer-go/internal/pipeline"
	"camera-viewer-go/internal/render"
)

const (
	upperHalf    = '▀'
	defaultUIFPS = 10
	help         = "m mirror  n night  p privacy  a avatar  r restart  q quit"
)

var statusStyle = tcell.StyleDefault.
	Foreground(tcell.NewRGBColor(255, 255, 0)).
	Background(tcell.NewRGBColor(0, 0, 0))

// Options configures a Terminal.
type Options struct {
	// UIFPS is the refresh tick rate; 0 means 10.
	UIFPS            int
	Filters          render.Filters
	Avatar           bool
	AnalysisInterval time.Duration
	OnRestart        func()
	Logger           *zap.Logger
	Metrics          *metrics.Metrics
}

// Terminal implements render.Adapter on a tcell screen.
type Terminal struct {
	screen tcell.Screen
	opts   Options
	logger *zap.Logger

	builder  *render.ImageBuilder
	meter    *render.FPSMeter
	analyzer *analysis.Analyzer

	avatar atomic.Bool

	mu       sync.Mutex
	status   string
	presence string
	fps      float64

	// Only touched from Present.
	scaled       *image.RGBA
	card         *image.RGBA
	cardPresence analysis.Presence

	quit      chan struct{}
	quitOnce  sync.Once
	closeOnce sync.Once
}

// New initializes screen and returns a renderer drawing on it. Close
// restores the terminal.
func New(screen tcell.Screen, opts Options) (*Terminal, error) {
	if opts.UIFPS <= 0 {
		opts.UIFPS = defaultUIFPS
	}
	if opts.AnalysisInterval <= 0 {
		opts.AnalysisInterval = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if err := screen.Init(); err != nil {
		return nil, fmt.Errorf("init terminal: %w", err)
	}
	screen.HideCursor()
	screen.Clear()

	t := &Terminal{
		screen:   screen,
		opts:     opts,
		logger:   opts.Logger.Named("term"),
		builder:  render.NewImageBuilder(opts.Filters),
		meter:    render.NewFPSMeter(),
		analyzer: analysis.NewAnalyzer(opts.AnalysisInterval),
		status:   "waiting for camera",
		presence: analysis.PresenceUnknown.String(),
		quit:     make(chan struct{}),
	}
	t.avatar.Store(opts.Avatar)
	t.drawStatus()
	screen.Show()
	return t, nil
}

// NewScreen opens the controlling terminal.
func NewScreen() (tcell.Screen, error) {
	s, err := tcell.NewScreen()
	if err != nil {
		return nil, fmt.Errorf("open terminal: %w", err)
	}
	return s, nil
}

// Present scales the frame to the screen and draws it. f is always
// released.
func (t *Terminal) Present(f *frame.Frame) (err error) {
	defer f.Release()
	defer func() { t.opts.Metrics.ObservePresent(err) }()

	res, analyzed := t.analyzer.Analyze(f)
	img, err := t.builder.Build(f)
	if err != nil {
		return err
	}
	fps := t.meter.Frame()

	var src image.Image = img
	if t.avatar.Load() {
		src = t.avatarCard(img.Rect.Dx(), img.Rect.Dy(), res.Presence)
	}

	cols, rows := t.screen.Size()
	rows-- // status line
	if cols <= 0 || rows <= 0 {
		return nil
	}
	dst := t.target(cols, rows*2)
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	for y := 0; y < rows; y++ {
		top := dst.Pix[(2*y)*dst.Stride:]
		bottom := dst.Pix[(2*y+1)*dst.Stride:]
		for x := 0; x < cols; x++ {
			o := x * 4
			style := tcell.StyleDefault.
				Foreground(tcell.NewRGBColor(int32(top[o]), int32(top[o+1]), int32(top[o+2]))).
				Background(tcell.NewRGBColor(int32(bottom[o]), int32(bottom[o+1]), int32(bottom[o+2])))
			t.screen.SetContent(x, y, upperHalf, nil, style)
		}
	}

	t.mu.Lock()
	t.fps = fps
	if analyzed {
		t.presence = res.Presence.String()
	}
	t.mu.Unlock()

	t.drawStatus()
	t.screen.Show()
	return nil
}

// avatarCard is rebuilt only when the size or the presence changes.
func (t *Terminal) avatarCard(w, h int, p analysis.Presence) *image.RGBA {
	if t.card == nil || t.card.Rect.Dx() != w || t.card.Rect.Dy() != h || t.cardPresence != p {
		t.card = render.Placeholder(w, h, "Avatar mode", p.String())
		t.cardPresence = p
	}
	return t.card
}

// target returns the reusable scale buffer sized w x h.
func (t *Terminal) target(w, h int) *image.RGBA {
	if t.scaled == nil || t.scaled.Rect.Dx() != w || t.scaled.Rect.Dy() != h {
		t.scaled = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	return t.scaled
}

func (t *Terminal) drawStatus() {
	t.mu.Lock()
	line := fmt.Sprintf(" %.1f FPS | %s | %s | %s", t.fps, t.status, t.presence, help)
	t.mu.Unlock()

	cols, rows := t.screen.Size()
	if rows <= 0 {
		return
	}
	y := rows - 1
	x := 0
	for _, r := range line {
		if x >= cols {
			break
		}
		t.screen.SetContent(x, y, r, nil, statusStyle)
		x++
	}
	for ; x < cols; x++ {
		t.screen.SetContent(x, y, ' ', nil, statusStyle)
	}
}

// OnEvent reflects a pipeline event in the status line. It is meant to be
// passed to pipeline.WithListener.
func (t *Terminal) OnEvent(e pipeline.Event) {
	t.mu.Lock()
	switch e.Kind {
	case pipeline.EventStarted:
		t.status = "running"
	case pipeline.EventStopped:
		if e.Err != nil || t.status == "running" {
			t.status = e.String()
		}
	default:
		t.status = e.String()
	}
	t.mu.Unlock()

	t.drawStatus()
	t.screen.Show()
}

// Run polls rx at the UI rate and handles keys until q, Esc or Ctrl-C is
// pressed or ctx ends. The terminal is restored before Run returns.
func (t *Terminal) Run(ctx context.Context, rx render.Receiver) {
	defer t.Close()

	go t.pollEvents()

	ticker := time.NewTicker(time.Second / time.Duration(t.opts.UIFPS))
	defer ticker.Stop()

	t.logger.Info("terminal renderer running", zap.Int("ui_fps", t.opts.UIFPS))
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.quit:
			return
		case <-ticker.C:
		}
		if _, err := render.Tick(rx, t); err != nil {
			t.logger.Debug("present failed", zap.Error(err))
		}
	}
}

// pollEvents exits when Close finalizes the screen.
func (t *Terminal) pollEvents() {
	for {
		switch ev := t.screen.PollEvent().(type) {
		case nil:
			return
		case *tcell.EventResize:
			t.screen.Sync()
			t.drawStatus()
			t.screen.Show()
		case *tcell.EventKey:
			t.handleKey(ev)
		}
	}
}

func (t *Terminal) handleKey(ev *tcell.EventKey) {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		t.requestQuit()
		return
	case tcell.KeyRune:
	default:
		return
	}

	switch ev.Rune() {
	case 'q':
		t.requestQuit()
	case 'm':
		f := t.builder.Update(func(f *render.Filters) { f.Mirror = !f.Mirror })
		t.logger.Info("mirror toggled", zap.Bool("on", f.Mirror))
	case 'n':
		f := t.builder.Update(func(f *render.Filters) { f.Night = !f.Night })
		t.logger.Info("night mode toggled", zap.Bool("on", f.Night))
	case 'p':
		f := t.builder.Update(func(f *render.Filters) { f.Privacy = !f.Privacy })
		t.logger.Info("privacy toggled", zap.Bool("on", f.Privacy))
	case 'a':
		on := !t.avatar.Load()
		t.avatar.Store(on)
		t.logger.Info("avatar toggled", zap.Bool("on", on))
	case 'r':
		if t.opts.OnRestart != nil {
			t.logger.Info("restart requested")
			go t.opts.OnRestart()
		}
	}
}

func (t *Terminal) requestQuit() {
	t.quitOnce.Do(func() { close(t.quit) })
}

// Close restores the terminal. Safe to call more than once.
func (t *Terminal) Close() {
	t.closeOnce.Do(func() {
		t.requestQuit()
		t.screen.Fini()
	})
}
