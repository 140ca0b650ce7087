package turntable

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/teranos/turntable/capture"
	"github.com/teranos/turntable/mutate"
	"github.com/teranos/turntable/params"
	"github.com/teranos/turntable/scene"
)

// Loop is the AnimationLoop. Each Tick runs, in order: parameter sync,
// MutationEngine, CaptureSession (only while a capture is requested) and
// render. Tick must be called from one goroutine at a time; the caller
// schedules the next tick after the previous one returns.
//
// Example:
//
//	loop := turntable.NewLoop(store, raster, engine, session)
//	for range time.Tick(cfg.TickInterval()) {
//		loop.Tick(ctx)
//	}
type Loop struct {
	store   *params.Store
	scene   scene.Adapter
	engine  *mutate.Engine
	session *capture.Session
	logger  *slog.Logger

	ticks atomic.Uint64

	// last static background applied, to avoid repainting every tick
	static        staticBackground
	staticApplied bool
}

type staticBackground struct {
	image string
	color uint32
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLoopLogger sets the loop logger.
func WithLoopLogger(l *slog.Logger) LoopOption {
	return func(lp *Loop) { lp.logger = l }
}

// NewLoop wires the loop. The store is shared with the control panel; the
// engine and session are owned by the loop.
func NewLoop(store *params.Store, adapter scene.Adapter, engine *mutate.Engine, session *capture.Session, opts ...LoopOption) *Loop {
	l := &Loop{
		store:   store,
		scene:   adapter,
		engine:  engine,
		session: session,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Tick runs one loop iteration. It never blocks on the network.
func (l *Loop) Tick(ctx context.Context) {
	l.sync()

	l.engine.Tick(l.store, l.scene)

	if l.store.CaptureRequested() {
		l.session.Tick(ctx)
	}

	if err := l.scene.Render(); err != nil {
		l.logger.Warn("loop: render failed", "tick", l.ticks.Load(), "error", err)
	}
	l.ticks.Add(1)
}

// sync pushes panel-owned parameters into the scene.
func (l *Loop) sync() {
	w, h := l.store.CanvasSize()
	l.scene.Resize(int(w), int(h))
	l.scene.SetView(l.store.View())

	if l.store.UseRandomBackground() {
		l.staticApplied = false
		return
	}
	want := staticBackground{image: l.store.BackgroundImage(), color: l.store.BackgroundColor()}
	if l.staticApplied && want == l.static {
		return
	}
	l.static, l.staticApplied = want, true

	if want.image != "" {
		err := l.scene.SetBackground(want.image)
		if err == nil {
			return
		}
		l.logger.Warn("loop: static background unavailable, using color",
			"name", want.image, "error", err)
	}
	l.scene.SetBackgroundColor(want.color)
}

// Ticks returns how many ticks have completed.
func (l *Loop) Ticks() uint64 { return l.ticks.Load() }

// Store returns the shared ParameterStore.
func (l *Loop) Store() *params.Store { return l.store }

// Session returns the loop's capture session.
func (l *Loop) Session() *capture.Session { return l.session }

// Scene returns the scene the loop renders.
func (l *Loop) Scene() scene.Adapter { return l.scene }
