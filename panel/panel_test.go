package panel

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/turntable"
	"github.com/teranos/turntable/capture"
	"github.com/teranos/turntable/collector"
	"github.com/teranos/turntable/mutate"
	"github.com/teranos/turntable/scene"
)

type gateUploader struct {
	gate chan struct{}
}

func (u *gateUploader) UploadFrame(ctx context.Context, _, _ string) error {
	if u.gate == nil {
		return nil
	}
	select {
	case <-u.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type zipArchiver struct{}

func (zipArchiver) FetchArchive(_ context.Context, id string) (*collector.Archive, error) {
	return &collector.Archive{Filename: id + ".zip", Data: []byte("PK")}, nil
}

type listSaver struct {
	mu    sync.Mutex
	saved []string
}

func (s *listSaver) Save(name string, _ []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, name)
	return "downloads/" + name, nil
}

func (s *listSaver) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.saved...)
}

type fixture struct {
	loop  *turntable.Loop
	lock  *Lock
	saver *listSaver
}

func newFixture(t *testing.T, target uint, uploader capture.Uploader) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := turntable.DefaultConfig()
	cfg.Capture.Target = target
	cfg.Capture.MaxInFlight = 2
	cfg.Canvas = turntable.CanvasConfig{Width: 16, Height: 16}

	f := &fixture{lock: &Lock{}, saver: &listSaver{}}
	store := cfg.NewStore(logger)
	raster := scene.NewRaster(16, 16, scene.WithRasterLogger(logger))
	session := capture.New(capture.Deps{
		Store:    store,
		Scene:    raster,
		Uploader: uploader,
		Archiver: zipArchiver{},
		Saver:    f.saver,
		Controls: f.lock,
	}, capture.WithLogger(logger), capture.WithConfig(cfg.SessionConfig()))

	engine := mutate.New(mutate.WithRand(rand.New(rand.NewPCG(3, 4))), mutate.WithLogger(logger))
	f.loop = turntable.NewLoop(store, raster, engine, session, turntable.WithLoopLogger(logger))
	t.Cleanup(session.Wait)
	return f
}

func (f *fixture) model(opts ...Option) Model {
	opts = append([]Option{WithInterval(time.Millisecond)}, opts...)
	return New(context.Background(), f.loop, f.lock, opts...)
}

func press(t *testing.T, m Model, key string) Model {
	t.Helper()
	var msg tea.KeyMsg
	switch key {
	case "tab":
		msg = tea.KeyMsg{Type: tea.KeyTab}
	case "right":
		msg = tea.KeyMsg{Type: tea.KeyRight}
	case "left":
		msg = tea.KeyMsg{Type: tea.KeyLeft}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func TestModel_TargetSteps(t *testing.T) {
	f := newFixture(t, 50, &gateUploader{})
	m := f.model()
	store := f.loop.Store()

	m = press(t, m, "-")
	assert.Equal(t, uint(TargetMin), store.TargetFrameCount(), "lower bound")

	m = press(t, m, "+")
	assert.Equal(t, uint(100), store.TargetFrameCount())
	assert.Equal(t, "target 100", m.Flash())

	require.True(t, store.TrySetTargetFrameCount(TargetMax))
	press(t, m, "+")
	assert.Equal(t, uint(TargetMax), store.TargetFrameCount(), "upper bound")
}

func TestModel_TargetLockedWhileCapturing(t *testing.T) {
	f := newFixture(t, 50, &gateUploader{})
	m := f.model()
	store := f.loop.Store()

	f.lock.DisableCaptureControls()
	m = press(t, m, "+")
	assert.Equal(t, uint(50), store.TargetFrameCount())
	assert.Equal(t, "target locked while capturing", m.Flash())

	m = press(t, m, "c")
	assert.False(t, store.CaptureRequested(), "start is disabled too")
	assert.Equal(t, "capture already running", m.Flash())
}

func TestModel_StartRequestsCapture(t *testing.T) {
	f := newFixture(t, 50, &gateUploader{})
	m := f.model()

	m = press(t, m, "c")
	assert.True(t, f.loop.Store().CaptureRequested())
	assert.Equal(t, "capture requested: 50 frames", m.Flash())

	m = press(t, m, "c")
	assert.Equal(t, "capture already requested", m.Flash())

	m = press(t, m, "+")
	assert.Equal(t, uint(50), f.loop.Store().TargetFrameCount(), "requested capture locks the target")
}

func TestModel_AdjustFocusedField(t *testing.T) {
	f := newFixture(t, 50, &gateUploader{})
	m := f.model()
	store := f.loop.Store()

	assert.Equal(t, "rotation y", m.Focus())
	before := store.Angle().Y
	m = press(t, m, "right")
	assert.InDelta(t, before+0.005, store.Angle().Y, 1e-9)

	m = press(t, m, "tab")
	assert.Equal(t, "rotation z", m.Focus())
	m = press(t, m, "right")
	assert.InDelta(t, 0.005, store.Angle().Z, 1e-9)
	m = press(t, m, "left")
	m = press(t, m, "left")
	assert.Zero(t, store.Angle().Z, "rotation does not go negative")

	m = press(t, m, "tab")
	assert.Equal(t, "scale chance", m.Focus())
	m = press(t, m, "right")
	m = press(t, m, "right")
	assert.InDelta(t, 0.10, store.ScaleChangeChance(), 1e-9)
	m = press(t, m, "left")
	assert.InDelta(t, 0.05, store.ScaleChangeChance(), 1e-9)

	m = press(t, m, "tab")
	m = press(t, m, "tab")
	assert.Equal(t, "scale medium", m.Focus())
	press(t, m, "right")
	assert.InDelta(t, 1.1, store.ScaleOptions()[1], 1e-9)
}

func focusOn(t *testing.T, m Model, name string) Model {
	t.Helper()
	for i := 0; i < int(fieldCount); i++ {
		if m.Focus() == name {
			return m
		}
		m = press(t, m, "tab")
	}
	require.Equal(t, name, m.Focus())
	return m
}

func TestModel_AdjustCanvas(t *testing.T) {
	f := newFixture(t, 50, &gateUploader{})
	m := f.model()
	store := f.loop.Store()
	store.SetCanvasSize(640, 480)

	m = press(t, focusOn(t, m, "width"), "right")
	w, h := store.CanvasSize()
	assert.Equal(t, uint(650), w)
	assert.Equal(t, uint(480), h)

	m = focusOn(t, m, "height")
	for i := 0; i < 50; i++ {
		m = press(t, m, "left")
	}
	_, h = store.CanvasSize()
	assert.Equal(t, uint(canvasMin), h)

	store.SetBackgroundImage("studio.hdr")
	m = press(t, focusOn(t, m, "background"), "right")
	assert.Equal(t, uint32(0x00ff00), store.BackgroundColor())
	assert.Empty(t, store.BackgroundImage(), "picking a color drops the static image")
	m = press(t, m, "left")
	assert.Equal(t, uint32(0xff0000), store.BackgroundColor())

	m = press(t, m, "v")
	w, h = store.CanvasSize()
	assert.Equal(t, uint(16), w)
	assert.Equal(t, uint(16), h)
	assert.Equal(t, "canvas reset", m.Flash())
}

func TestModel_AdjustCamera(t *testing.T) {
	f := newFixture(t, 50, &gateUploader{})
	m := f.model()
	store := f.loop.Store()
	defaults := store.Camera()

	m = press(t, focusOn(t, m, "fov"), "right")
	assert.InDelta(t, defaults.FOV+fovStep, store.Camera().FOV, 1e-9)

	store.SetCanvasSize(400, 200)
	m = press(t, focusOn(t, m, "aspect"), "right")
	assert.InDelta(t, 2.1, store.Camera().Aspect, 1e-9, "auto aspect starts from the canvas")

	m = press(t, focusOn(t, m, "position x"), "right")
	assert.InDelta(t, defaults.Position.X+positionStep, store.Camera().Position.X, 1e-9)
	m = press(t, focusOn(t, m, "position z"), "left")
	assert.InDelta(t, defaults.Position.Z-positionStep, store.Camera().Position.Z, 1e-9)

	view := ansi.Strip(m.View())
	assert.Contains(t, view, "Camera")
	assert.Contains(t, view, "aspect        2.1")

	m = press(t, m, "k")
	assert.Equal(t, defaults, store.Camera())
	assert.Equal(t, "camera reset", m.Flash())
}

func TestNextColor(t *testing.T) {
	assert.Equal(t, palette[1], nextColor(palette[0], 1))
	assert.Equal(t, palette[len(palette)-1], nextColor(palette[0], -1))
	assert.Equal(t, palette[0], nextColor(0x123456, 1), "unknown colors restart the palette")
}

func TestModel_TogglesAndResets(t *testing.T) {
	f := newFixture(t, 50, &gateUploader{})
	m := f.model()
	store := f.loop.Store()

	m = press(t, m, "b")
	m = press(t, m, "n")
	m = press(t, m, "h")
	v := store.Snapshot()
	assert.True(t, v.UseRandomBackground)
	assert.True(t, v.DisplayNormals)
	assert.False(t, v.UseHDRLighting)

	m = press(t, m, "right")
	m = press(t, m, "r")
	assert.Equal(t, store.Defaults().Angle, store.Angle())
	assert.Equal(t, "model reset", m.Flash())

	press(t, m, "v")
	assert.False(t, store.UseRandomBackground())
	assert.True(t, store.Snapshot().UseHDRLighting)
}

func TestModel_ViewShowsSections(t *testing.T) {
	f := newFixture(t, 50, &gateUploader{})
	view := ansi.Strip(f.model().View())

	for _, want := range []string{"Screenshot", "Model", "Canvas", "Camera", "Debug", "state    idle", "target 50", "#ff0000", "loading model"} {
		assert.Contains(t, view, want)
	}
}

func TestPanel_HeadlessCaptureCycle(t *testing.T) {
	f := newFixture(t, 3, &gateUploader{})
	m := f.model(WithAutoStart(true), WithExitAfterCapture(true))

	d := newDirector(t, m)
	require.True(t, d.finished(), "the program exits after the capture")
	f.loop.Session().Wait()

	require.Len(t, f.saver.names(), 1)
	assert.False(t, f.lock.Disabled())
	assert.False(t, f.loop.Store().CaptureRequested())
	assert.Equal(t, capture.Idle, f.loop.Session().Status().State)
}

func TestPanel_ControlsDisabledDuringCapture(t *testing.T) {
	up := &gateUploader{gate: make(chan struct{})}
	defer close(up.gate)
	f := newFixture(t, 50, up)

	d := newDirector(t, f.model())
	d.waitFor("first tick", func(m Model) bool { return m.Ticks() > 0 })

	d.press("c").waitFor("capturing", func(m Model) bool {
		return m.Status().State == capture.Capturing
	})
	assert.True(t, f.lock.Disabled())

	d.press("+").waitForText("target locked while capturing")
	assert.Equal(t, uint(50), f.loop.Store().TargetFrameCount())

	d.press("x").waitFor("idle", func(m Model) bool {
		return m.Status().State == capture.Idle
	})
	assert.False(t, f.lock.Disabled())
	assert.False(t, f.loop.Store().CaptureRequested())
	assert.Empty(t, f.saver.names(), "a cancelled session is not downloaded")

	d.press("+").waitForText("target 100")
}
