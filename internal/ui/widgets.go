package ui

import (
	"image/color"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/widget"
	"go.uber.org/zap"

	"camera-viewer-go/internal/render"
)

const longPressDelay = 500 * time.Millisecond

var (
	viewBackground  = color.RGBA{25, 25, 25, 255}
	panelBackground = color.RGBA{50, 50, 55, 255}
	offlineText     = color.RGBA{180, 180, 180, 255}
)

// pressTracker turns mouse and touch input into exactly one tap or one
// long press per gesture.
type pressTracker struct {
	mu             sync.Mutex
	timer          *time.Timer
	longPressFired bool
	tapHandled     bool
}

func (p *pressTracker) down(onLong func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.longPressFired = false
	p.tapHandled = false
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(longPressDelay, func() {
		p.mu.Lock()
		p.longPressFired = true
		p.tapHandled = true
		p.mu.Unlock()
		if onLong != nil {
			onLong()
		}
	})
}

// claimTap reports whether the caller should fire the tap handler. MouseUp
// and Tapped both arrive for one click; only the first one wins.
func (p *pressTracker) claimTap(stopTimer bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if stopTimer && p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.longPressFired || p.tapHandled {
		return false
	}
	p.tapHandled = true
	return true
}

// TappableImage shows the camera image with an offline message on top.
// Tap and long press (or right click) call the given handlers.
type TappableImage struct {
	widget.BaseWidget
	image   *canvas.Image
	bg      *canvas.Rectangle
	offline *canvas.Text

	onTap     func()
	onLongTap func()
	press     pressTracker
	logger    *zap.Logger
}

func NewTappableImage(img *canvas.Image, onTap, onLongTap func(), logger *zap.Logger) *TappableImage {
	t := &TappableImage{
		image:     img,
		bg:        canvas.NewRectangle(viewBackground),
		onTap:     onTap,
		onLongTap: onLongTap,
		logger:    logger,
	}
	t.offline = canvas.NewText("", offlineText)
	t.offline.TextSize = 18
	t.offline.Alignment = fyne.TextAlignCenter
	t.offline.Hidden = true

	t.ExtendBaseWidget(t)
	return t
}

func (t *TappableImage) CreateRenderer() fyne.WidgetRenderer {
	c := container.NewStack(t.bg, t.image, container.NewCenter(t.offline))
	return widget.NewSimpleRenderer(c)
}

// SetOffline hides the image behind msg. An empty msg shows the image.
func (t *TappableImage) SetOffline(msg string) {
	t.offline.Text = msg
	t.offline.Hidden = msg == ""
	t.image.Hidden = msg != ""
	t.offline.Refresh()
	t.image.Refresh()
}

// SetNight tints the tile background and offline text for night mode.
func (t *TappableImage) SetNight(on bool) {
	t.bg.FillColor = nightTint(viewBackground, on)
	t.offline.Color = nightTint(offlineText, on)
	t.bg.Refresh()
	t.offline.Refresh()
}

// Offline returns the message currently shown, if any.
func (t *TappableImage) Offline() string {
	if t.offline.Hidden {
		return ""
	}
	return t.offline.Text
}

func (t *TappableImage) MouseDown(_ *desktop.MouseEvent) {
	t.press.down(func() {
		t.logger.Debug("long press")
		if t.onLongTap != nil {
			t.onLongTap()
		}
	})
}

func (t *TappableImage) MouseUp(_ *desktop.MouseEvent) {
	if t.press.claimTap(true) && t.onTap != nil {
		t.onTap()
	}
}

// Tapped handles touch input on devices without mouse events.
func (t *TappableImage) Tapped(_ *fyne.PointEvent) {
	if t.press.claimTap(false) && t.onTap != nil {
		t.onTap()
	}
}

func (t *TappableImage) TappedSecondary(_ *fyne.PointEvent) {
	if t.onLongTap != nil {
		t.onLongTap()
	}
}

// PanelActions are the handlers behind the control panel buttons. Each
// toggle returns the new state so the button label can follow it.
type PanelActions struct {
	Restart       func()
	Exit          func()
	ToggleMirror  func() bool
	ToggleNight   func() bool
	TogglePrivacy func() bool
	ToggleAvatar  func() bool
}

// ControlPanel is the side tile with the filter toggles and the capture
// status.
type ControlPanel struct {
	widget.BaseWidget
	bg      *canvas.Rectangle
	content *fyne.Container

	restartBtn *widget.Button
	mirrorBtn  *widget.Button
	nightBtn   *widget.Button
	privacyBtn *widget.Button
	avatarBtn  *widget.Button
	exitBtn    *widget.Button

	status   *widget.Label
	presence *widget.Label
}

func NewControlPanel(actions PanelActions, initial PanelState) *ControlPanel {
	p := &ControlPanel{
		bg:       canvas.NewRectangle(panelBackground),
		status:   widget.NewLabel("Capture: stopped"),
		presence: widget.NewLabel("Presence: Unknown"),
	}

	p.restartBtn = widget.NewButton("Restart", func() {
		if actions.Restart != nil {
			actions.Restart()
		}
	})
	p.mirrorBtn = toggleButton("Mirror", initial.Mirror, actions.ToggleMirror)
	p.nightBtn = toggleButton("Nightmode", initial.Night, actions.ToggleNight)
	p.privacyBtn = toggleButton("Privacy", initial.Privacy, actions.TogglePrivacy)
	p.avatarBtn = toggleButton("Avatar", initial.Avatar, actions.ToggleAvatar)
	p.exitBtn = widget.NewButton("Exit", func() {
		if actions.Exit != nil {
			actions.Exit()
		}
	})

	p.content = container.NewCenter(container.NewVBox(
		p.status,
		p.presence,
		p.restartBtn,
		p.mirrorBtn,
		p.nightBtn,
		p.privacyBtn,
		p.avatarBtn,
		p.exitBtn,
	))
	p.ExtendBaseWidget(p)
	return p
}

// PanelState is the toggle state shown on the panel buttons.
type PanelState struct {
	Mirror, Night, Privacy, Avatar bool
}

// SetState relabels the toggle buttons, e.g. after a keyboard shortcut.
func (p *ControlPanel) SetState(s PanelState) {
	p.mirrorBtn.SetText(toggleLabel("Mirror", s.Mirror))
	p.nightBtn.SetText(toggleLabel("Nightmode", s.Night))
	p.privacyBtn.SetText(toggleLabel("Privacy", s.Privacy))
	p.avatarBtn.SetText(toggleLabel("Avatar", s.Avatar))
}

func (p *ControlPanel) SetNight(on bool) {
	p.bg.FillColor = nightTint(panelBackground, on)
	p.bg.Refresh()
}

func (p *ControlPanel) SetStatus(text string) {
	p.status.SetText("Capture: " + text)
}

func (p *ControlPanel) SetPresence(text string) {
	p.presence.SetText("Presence: " + text)
}

func (p *ControlPanel) CreateRenderer() fyne.WidgetRenderer {
	return widget.NewSimpleRenderer(container.NewStack(p.bg, p.content))
}

func toggleButton(name string, on bool, toggle func() bool) *widget.Button {
	var b *widget.Button
	b = widget.NewButton(toggleLabel(name, on), func() {
		if toggle != nil {
			b.SetText(toggleLabel(name, toggle()))
		}
	})
	return b
}

func toggleLabel(name string, on bool) string {
	if on {
		return name + ": On"
	}
	return name + ": Off"
}

func nightTint(c color.RGBA, on bool) color.Color {
	if on {
		return render.NightModeColor(c)
	}
	return c
}
