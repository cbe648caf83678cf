// Package ui is the windowed renderer: a Fyne window with the camera view
// and a control panel.
package ui

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"go.uber.org/zap"

	"camera-viewer-go/internal/analysis"
	"camera-viewer-go/internal/frame"
	"camera-viewer-go/internal/metrics"
	"camera-viewer-go/internal/pipeline"
	"camera-viewer-go/internal/render"
)

const defaultUIFPS = 20

// Options configures a Viewer.
type Options struct {
	Title      string
	Fullscreen bool
	// UIFPS is the refresh tick rate; 0 means 20.
	UIFPS            int
	Filters          render.Filters
	Overlay          bool
	Avatar           bool
	AnalysisInterval time.Duration
	// OnRestart is called from the Restart button on its own goroutine.
	OnRestart func()
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Viewer implements render.Adapter on top of a Fyne window.
type Viewer struct {
	app    fyne.App
	window fyne.Window
	opts   Options
	logger *zap.Logger

	builder  *render.ImageBuilder
	meter    *render.FPSMeter
	analyzer *analysis.Analyzer

	image *canvas.Image
	view  *TappableImage
	panel *ControlPanel
	grid  *fyne.Container

	avatar   atomic.Bool
	overlay  atomic.Bool
	expanded atomic.Bool

	// Only touched from Present.
	card         *image.RGBA
	cardPresence analysis.Presence
	presented    uint64

	closeOnce sync.Once
}

// NewViewer builds the window on app. The window is not shown until Run.
func NewViewer(app fyne.App, opts Options) *Viewer {
	if opts.Title == "" {
		opts.Title = "Camera Viewer"
	}
	if opts.UIFPS <= 0 {
		opts.UIFPS = defaultUIFPS
	}
	if opts.AnalysisInterval <= 0 {
		opts.AnalysisInterval = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	v := &Viewer{
		app:      app,
		window:   app.NewWindow(opts.Title),
		opts:     opts,
		logger:   opts.Logger.Named("ui"),
		builder:  render.NewImageBuilder(opts.Filters),
		meter:    render.NewFPSMeter(),
		analyzer: analysis.NewAnalyzer(opts.AnalysisInterval),
	}
	v.avatar.Store(opts.Avatar)
	v.overlay.Store(opts.Overlay)

	v.image = canvas.NewImageFromImage(render.Placeholder(640, 480, "Waiting for camera..."))
	v.image.FillMode = canvas.ImageFillContain

	v.view = NewTappableImage(v.image, v.toggleExpanded, func() { v.toggleMirror() }, v.logger)
	v.panel = NewControlPanel(PanelActions{
		Restart:       v.restart,
		Exit:          v.Close,
		ToggleMirror:  v.toggleMirror,
		ToggleNight:   v.toggleNight,
		TogglePrivacy: v.togglePrivacy,
		ToggleAvatar:  v.toggleAvatar,
	}, v.panelState())
	v.setNight(opts.Filters.Night)

	v.grid = container.New(fillGridLayout{}, v.view, v.panel)
	v.window.SetContent(v.grid)
	v.window.Resize(fyne.NewSize(800, 480))
	v.window.SetFullScreen(opts.Fullscreen)
	v.window.Canvas().SetOnTypedKey(v.typedKey)
	return v
}

// Present builds the image for f, applies the filters and overlay and
// swaps it into the canvas. f is always released.
func (v *Viewer) Present(f *frame.Frame) (err error) {
	defer f.Release()
	defer func() { v.opts.Metrics.ObservePresent(err) }()

	res, analyzed := v.analyzer.Analyze(f)
	img, err := v.builder.Build(f)
	if err != nil {
		return err
	}
	fps := v.meter.Frame()

	var shown image.Image = img
	if v.avatar.Load() {
		shown = v.avatarCard(img.Rect.Dx(), img.Rect.Dy(), res.Presence)
	} else if v.overlay.Load() {
		render.Overlay(img, fps, res.Presence.String())
	}

	v.image.Image = shown
	v.image.Refresh()
	if analyzed {
		v.panel.SetPresence(res.Presence.String())
	}

	v.presented++
	if v.presented%300 == 1 {
		v.logger.Debug("presenting",
			zap.Uint64("frames", v.presented),
			zap.Float64("fps", fps),
			zap.Int("width", img.Rect.Dx()),
			zap.Int("height", img.Rect.Dy()))
	}
	return nil
}

// avatarCard stands in for the camera image. It is rebuilt only when the
// size or the presence changes.
func (v *Viewer) avatarCard(w, h int, p analysis.Presence) *image.RGBA {
	if v.card == nil || v.card.Rect.Dx() != w || v.card.Rect.Dy() != h || v.cardPresence != p {
		v.card = render.Placeholder(w, h, "Avatar mode", p.String())
		v.cardPresence = p
	}
	return v.card
}

// OnEvent reflects a pipeline event in the status line. It is meant to be
// passed to pipeline.WithListener.
func (v *Viewer) OnEvent(e pipeline.Event) {
	switch e.Kind {
	case pipeline.EventStarted:
		v.view.SetOffline("")
		v.panel.SetStatus(fmt.Sprintf("running (%s)", shortSession(e.Session)))
	case pipeline.EventDisconnected:
		v.view.SetOffline("Disconnected")
		v.panel.SetStatus("disconnected")
	case pipeline.EventError:
		v.view.SetOffline("Capture error")
		v.panel.SetStatus(e.String())
	case pipeline.EventStopped:
		// Keep the more specific message of a preceding disconnect or error.
		if v.view.Offline() == "" {
			v.view.SetOffline("Stopped")
			v.panel.SetStatus("stopped")
		}
		if e.Err != nil {
			v.panel.SetStatus(e.String())
		}
	}
}

func shortSession(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Run shows the window and polls rx at the UI rate until the window is
// closed, Exit is pressed or ctx ends. It must be called from the main
// goroutine.
func (v *Viewer) Run(ctx context.Context, rx render.Receiver) {
	ctx, cancel := context.WithCancel(ctx)

	go v.refreshLoop(ctx, rx)
	go func() {
		<-ctx.Done()
		v.Close()
	}()

	v.logger.Info("window open", zap.Int("ui_fps", v.opts.UIFPS))
	v.window.ShowAndRun()

	// The event loop is gone; Close must not call Quit again.
	v.closeOnce.Do(func() {})
	cancel()
}

func (v *Viewer) refreshLoop(ctx context.Context, rx render.Receiver) {
	ticker := time.NewTicker(time.Second / time.Duration(v.opts.UIFPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := render.Tick(rx, v); err != nil {
			v.logger.Debug("present failed", zap.Error(err))
		}
	}
}

// Close quits the Fyne application. Safe to call more than once.
func (v *Viewer) Close() {
	v.closeOnce.Do(func() {
		v.logger.Info("closing window")
		v.app.Quit()
	})
}

func (v *Viewer) restart() {
	if v.opts.OnRestart == nil {
		return
	}
	v.logger.Info("restart requested")
	v.panel.SetStatus("restarting")
	go v.opts.OnRestart()
}

func (v *Viewer) toggleExpanded() {
	if v.expanded.Load() {
		v.expanded.Store(false)
		v.panel.Show()
	} else {
		v.expanded.Store(true)
		v.panel.Hide()
	}
	v.grid.Refresh()
}

func (v *Viewer) toggleMirror() bool {
	f := v.builder.Update(func(f *render.Filters) { f.Mirror = !f.Mirror })
	v.logger.Info("mirror toggled", zap.Bool("on", f.Mirror))
	return f.Mirror
}

func (v *Viewer) toggleNight() bool {
	f := v.builder.Update(func(f *render.Filters) { f.Night = !f.Night })
	v.logger.Info("night mode toggled", zap.Bool("on", f.Night))
	v.setNight(f.Night)
	return f.Night
}

func (v *Viewer) setNight(on bool) {
	v.view.SetNight(on)
	v.panel.SetNight(on)
}

func (v *Viewer) togglePrivacy() bool {
	f := v.builder.Update(func(f *render.Filters) { f.Privacy = !f.Privacy })
	v.logger.Info("privacy toggled", zap.Bool("on", f.Privacy))
	return f.Privacy
}

func (v *Viewer) toggleAvatar() bool {
	on := !v.avatar.Load()
	v.avatar.Store(on)
	v.logger.Info("avatar toggled", zap.Bool("on", on))
	return on
}

func (v *Viewer) panelState() PanelState {
	f := v.builder.Filters()
	return PanelState{Mirror: f.Mirror, Night: f.Night, Privacy: f.Privacy, Avatar: v.avatar.Load()}
}

// typedKey mirrors the terminal renderer's shortcuts.
func (v *Viewer) typedKey(ev *fyne.KeyEvent) {
	switch ev.Name {
	case fyne.KeyQ, fyne.KeyEscape:
		v.Close()
		return
	case fyne.KeyM:
		v.toggleMirror()
	case fyne.KeyN:
		v.toggleNight()
	case fyne.KeyP:
		v.togglePrivacy()
	case fyne.KeyA:
		v.toggleAvatar()
	case fyne.KeyF:
		v.toggleExpanded()
		return
	default:
		return
	}
	v.panel.SetState(v.panelState())
}
