// Package mutate applies the per-tick procedural changes to the scene:
// accumulating rotation, random rescaling and random backgrounds.
package mutate

import (
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/teranos/turntable/params"
	"github.com/teranos/turntable/scene"
)

// colorChance is the probability that a random background is a flat color
// rather than an image from the pool.
const colorChance = 0.5

// Rand is the randomness source of an Engine; *rand.Rand satisfies it.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

// Target is the part of the scene an Engine mutates.
type Target interface {
	Model() scene.Model
	SetBackgroundColor(rgb uint32)
	SetBackground(name string) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithRand replaces the randomness source.
func WithRand(r Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// WithPool sets the pool image backgrounds are drawn from.
func WithPool(p *BackgroundPool) Option {
	return func(e *Engine) { e.pool = p }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine is the MutationEngine. It is not safe for concurrent use; the
// animation loop owns it.
type Engine struct {
	rng    Rand
	pool   *BackgroundPool
	logger *slog.Logger
}

// New creates an engine seeded from the clock.
func New(opts ...Option) *Engine {
	seed := uint64(time.Now().UnixNano())
	e := &Engine{
		rng:    rand.New(rand.NewPCG(seed, seed>>1|1)),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Tick applies one round of mutations. Every step is a no-op when the
// scene has nothing to act on.
func (e *Engine) Tick(store *params.Store, target Target) {
	if model := target.Model(); model != nil {
		model.SetRotation(model.Rotation().Add(store.Angle()))

		if e.rng.Float64() < store.ScaleChangeChance() {
			options := store.ScaleOptions()
			model.SetScale(options[e.rng.IntN(len(options))])
		}
	}

	if store.UseRandomBackground() {
		e.randomBackground(target)
	}
}

func (e *Engine) randomBackground(target Target) {
	if e.rng.Float64() < colorChance || e.pool == nil {
		target.SetBackgroundColor(e.randomColor())
		return
	}

	name, ok := e.pool.Pick(e.rng)
	if !ok {
		target.SetBackgroundColor(e.randomColor())
		return
	}
	if err := target.SetBackground(name); err != nil {
		e.logger.Debug("mutate: background unavailable", "name", name, "error", err)
		target.SetBackgroundColor(e.randomColor())
	}
}

func (e *Engine) randomColor() uint32 {
	return uint32(e.rng.IntN(1 << 24))
}
