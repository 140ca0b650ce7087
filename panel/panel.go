// Package panel is the ControlPanel: a bubbletea program that edits the
// ParameterStore, starts and cancels capture sessions, and schedules the
// animation loop with tea.Tick so a tick never overlaps the previous one.
package panel

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/teranos/turntable"
	"github.com/teranos/turntable/capture"
	"github.com/teranos/turntable/params"
)

// Target frame count range offered by the panel.
const (
	TargetMin  = 50
	TargetMax  = 1000
	TargetStep = 50
)

// Lock disables the capture controls while a session runs. It implements
// capture.Controls.
type Lock struct {
	disabled atomic.Bool
}

// DisableCaptureControls locks the start and target controls.
func (l *Lock) DisableCaptureControls() { l.disabled.Store(true) }

// EnableCaptureControls unlocks them.
func (l *Lock) EnableCaptureControls() { l.disabled.Store(false) }

// Disabled reports whether capture controls are locked.
func (l *Lock) Disabled() bool { return l.disabled.Load() }

// field is an adjustable parameter, cycled with tab and changed with
// left/right.
type field int

const (
	fieldRotationX field = iota
	fieldRotationY
	fieldRotationZ
	fieldScaleChance
	fieldScaleSmall
	fieldScaleMedium
	fieldScaleBig
	fieldCanvasWidth
	fieldCanvasHeight
	fieldBackground
	fieldCameraFOV
	fieldCameraAspect
	fieldCameraX
	fieldCameraY
	fieldCameraZ
	fieldCount
)

var fieldNames = [fieldCount]string{
	"rotation x", "rotation y", "rotation z",
	"scale chance", "scale small", "scale medium", "scale big",
	"width", "height", "background",
	"fov", "aspect", "position x", "position y", "position z",
}

func (f field) String() string {
	if f < 0 || f >= fieldCount {
		return "?"
	}
	return fieldNames[f]
}

// Adjustment steps and bounds.
const (
	rotationStep = 0.005
	rotationMax  = 1.0
	chanceStep   = 0.05
	scaleStep    = 0.1
	scaleMin     = 0.1
	canvasStep   = 10
	canvasMin    = 100
	canvasMax    = 4096
	fovStep      = 5
	fovMin       = 10
	fovMax       = 100
	aspectStep   = 0.1
	aspectMin    = 0.5
	aspectMax    = 4
	positionStep = 0.1
	positionMax  = 5
)

// scaleMax bounds each scale slot.
var scaleMax = [3]float64{2, 3, 5}

// palette is the set of static background colors the panel cycles through.
var palette = []uint32{0xffffff, 0x000000, 0xff0000, 0x00ff00, 0x0000ff, 0x808080}

// tickMsg drives one loop iteration.
type tickMsg time.Time

// Model is the bubbletea model of the panel.
type Model struct {
	ctx      context.Context
	loop     *turntable.Loop
	lock     *Lock
	interval time.Duration
	logger   *slog.Logger

	autoStart        bool
	exitAfterCapture bool
	sawCapture       bool

	focus  field
	status capture.Status
	ticks  uint64
	flash  string
	width  int

	quitting bool
}

// Option configures a Model.
type Option func(*Model)

// WithInterval sets the time between loop ticks.
func WithInterval(d time.Duration) Option {
	return func(m *Model) { m.interval = d }
}

// WithLogger sets the panel logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Model) { m.logger = l }
}

// WithAutoStart requests a capture as soon as the panel starts.
func WithAutoStart(on bool) Option {
	return func(m *Model) { m.autoStart = on }
}

// WithExitAfterCapture quits the program once a session has finished.
func WithExitAfterCapture(on bool) Option {
	return func(m *Model) { m.exitAfterCapture = on }
}

// New creates the panel for a loop. lock must be the Controls the loop's
// capture session was built with.
func New(ctx context.Context, loop *turntable.Loop, lock *Lock, opts ...Option) Model {
	m := Model{
		ctx:      ctx,
		loop:     loop,
		lock:     lock,
		interval: time.Second / 60,
		logger:   slog.Default(),
		focus:    fieldRotationY,
	}
	for _, o := range opts {
		o(&m)
	}
	m.status = loop.Session().Status()
	return m
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init starts the tick schedule.
func (m Model) Init() tea.Cmd {
	if m.autoStart {
		m.loop.Store().RequestCapture()
	}
	return m.tick()
}

// Update handles ticks and keys.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		if m.quitting {
			return m, nil
		}
		m.loop.Tick(m.ctx)
		m.ticks = m.loop.Ticks()
		m.status = m.loop.Session().Status()

		if m.status.State != capture.Idle {
			m.sawCapture = true
		} else if m.exitAfterCapture && m.sawCapture {
			m.quitting = true
			m.logger.Info("panel: capture finished, exiting", "saved", m.status.LastSaved)
			return m, tea.Quit
		}
		return m, m.tick()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	store := m.loop.Store()

	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "c":
		switch {
		case m.lock.Disabled():
			m.flash = "capture already running"
		case store.RequestCapture():
			m.flash = fmt.Sprintf("capture requested: %d frames", store.TargetFrameCount())
		default:
			m.flash = "capture already requested"
		}

	case "x":
		if m.loop.Session().Cancel() {
			m.flash = "capture cancelled"
		} else {
			m.flash = "nothing to cancel"
		}

	case "+", "=":
		m.stepTarget(TargetStep)
	case "-", "_":
		m.stepTarget(-TargetStep)

	case "b":
		store.SetUseRandomBackground(!store.UseRandomBackground())
	case "n":
		store.SetDisplayNormals(!store.Snapshot().DisplayNormals)
	case "h":
		store.SetUseHDRLighting(!store.Snapshot().UseHDRLighting)

	case "tab", "down":
		m.focus = (m.focus + 1) % fieldCount
	case "shift+tab", "up":
		m.focus = (m.focus + fieldCount - 1) % fieldCount
	case "right", "l":
		m.adjust(1)
	case "left":
		m.adjust(-1)

	case "r":
		store.ResetModel()
		m.flash = "model reset"
	case "v":
		store.ResetCanvas()
		m.flash = "canvas reset"
	case "k":
		store.ResetCamera()
		m.flash = "camera reset"
	}
	return m, nil
}

func (m *Model) stepTarget(delta int) {
	store := m.loop.Store()
	if m.lock.Disabled() || store.CaptureRequested() {
		m.flash = "target locked while capturing"
		return
	}
	n := int(store.TargetFrameCount()) + delta
	n = max(TargetMin, min(TargetMax, n))
	if store.TrySetTargetFrameCount(uint(n)) {
		m.flash = fmt.Sprintf("target %d", n)
	}
}

// adjust moves the focused field one step in dir.
func (m *Model) adjust(dir float64) {
	store := m.loop.Store()
	switch m.focus {
	case fieldRotationX, fieldRotationY, fieldRotationZ:
		a := store.Angle()
		axis := []*float64{&a.X, &a.Y, &a.Z}[m.focus-fieldRotationX]
		*axis = clamp(*axis+dir*rotationStep, 0, rotationMax)
		store.SetAngle(a)
	case fieldScaleChance:
		store.SetScaleChangeChance(store.ScaleChangeChance() + dir*chanceStep)
	case fieldScaleSmall, fieldScaleMedium, fieldScaleBig:
		slot := params.ScaleSmall + int(m.focus-fieldScaleSmall)
		v := store.ScaleOptions()[slot] + dir*scaleStep
		store.SetScaleOption(slot, clamp(v, scaleMin, scaleMax[slot]))
	case fieldCanvasWidth, fieldCanvasHeight:
		w, h := store.CanvasSize()
		if m.focus == fieldCanvasWidth {
			w = stepSize(w, dir)
		} else {
			h = stepSize(h, dir)
		}
		store.SetCanvasSize(w, h)
	case fieldBackground:
		store.SetBackgroundImage("")
		store.SetBackgroundColor(nextColor(store.BackgroundColor(), int(dir)))
	case fieldCameraFOV, fieldCameraAspect, fieldCameraX, fieldCameraY, fieldCameraZ:
		c := store.Camera()
		switch m.focus {
		case fieldCameraFOV:
			c.FOV = clamp(c.FOV+dir*fovStep, fovMin, fovMax)
		case fieldCameraAspect:
			if c.Aspect == 0 {
				w, h := store.CanvasSize()
				c.Aspect = float64(w) / float64(max(h, 1))
			}
			c.Aspect = clamp(c.Aspect+dir*aspectStep, aspectMin, aspectMax)
		default:
			axis := []*float64{&c.Position.X, &c.Position.Y, &c.Position.Z}[m.focus-fieldCameraX]
			*axis = clamp(*axis+dir*positionStep, -positionMax, positionMax)
		}
		store.SetCamera(c)
	}
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}

func stepSize(n uint, dir float64) uint {
	return uint(clamp(float64(n)+dir*canvasStep, canvasMin, canvasMax))
}

// nextColor moves dir places through the palette from rgb. A color outside
// the palette moves to its first entry.
func nextColor(rgb uint32, dir int) uint32 {
	for i, c := range palette {
		if c == rgb {
			return palette[(i+dir+len(palette))%len(palette)]
		}
	}
	return palette[0]
}

// Status returns the capture status seen at the last tick.
func (m Model) Status() capture.Status { return m.status }

// Ticks returns the loop tick count seen at the last tick.
func (m Model) Ticks() uint64 { return m.ticks }

// Flash returns the last feedback message.
func (m Model) Flash() string { return m.flash }

// Focus returns the name of the focused field.
func (m Model) Focus() string { return m.focus.String() }
