package mutate

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/turntable/params"
	"github.com/teranos/turntable/scene"
)

type fakeModel struct {
	rotation scene.Vec3
	scale    float64
	scales   int
}

func (m *fakeModel) Name() string { return "fake" }
func (m *fakeModel) Rotation() scene.Vec3 { return m.rotation }
func (m *fakeModel) SetRotation(v scene.Vec3) { m.rotation = v }
func (m *fakeModel) Scale() float64 { return m.scale }
func (m *fakeModel) SetScale(s float64) { m.scale = s; m.scales++ }

type fakeTarget struct {
	model       *fakeModel
	colors      []uint32
	backgrounds []string
	missing     map[string]bool
}

func (t *fakeTarget) Model() scene.Model {
	if t.model == nil {
		return nil
	}
	return t.model
}

func (t *fakeTarget) SetBackgroundColor(rgb uint32) { t.colors = append(t.colors, rgb) }

func (t *fakeTarget) SetBackground(name string) error {
	if t.missing[name] {
		return errors.New("not loaded")
	}
	t.backgrounds = append(t.backgrounds, name)
	return nil
}

func newStore(chance float64) *params.Store {
	return params.NewStore(params.Values{
		Angle:             scene.Vec3{X: 0.01, Y: 0.02},
		ScaleOptions:      [3]float64{0.5, 1.0, 1.5},
		ScaleChangeChance: chance,
		TargetFrameCount:  50,
	})
}

func seeded() *rand.Rand { return rand.New(rand.NewPCG(7, 11)) }

func TestEngine_RotationAccumulates(t *testing.T) {
	e := New(WithRand(seeded()))
	target := &fakeTarget{model: &fakeModel{scale: 1}}
	store := newStore(0)

	for i := 0; i < 100; i++ {
		e.Tick(store, target)
	}
	assert.InDelta(t, 1.0, target.model.rotation.X, 1e-9)
	assert.InDelta(t, 2.0, target.model.rotation.Y, 1e-9)
	assert.Equal(t, 0.0, target.model.rotation.Z)
}

func TestEngine_ZeroChanceNeverRescales(t *testing.T) {
	e := New(WithRand(seeded()))
	target := &fakeTarget{model: &fakeModel{scale: 1.25}}
	store := newStore(0)

	for i := 0; i < 1000; i++ {
		e.Tick(store, target)
	}
	assert.Equal(t, 1.25, target.model.scale)
	assert.Equal(t, 0, target.model.scales)
}

func TestEngine_FullChanceAlwaysRescales(t *testing.T) {
	e := New(WithRand(seeded()))
	target := &fakeTarget{model: &fakeModel{scale: 1.25}}
	store := newStore(1)
	options := store.ScaleOptions()

	seen := map[float64]bool{}
	for i := 0; i < 300; i++ {
		e.Tick(store, target)
		assert.Contains(t, options[:], target.model.scale)
		seen[target.model.scale] = true
	}
	assert.Equal(t, 300, target.model.scales)
	assert.Len(t, seen, 3, "every option should come up eventually")
}

func TestEngine_NoModelIsNoOp(t *testing.T) {
	e := New(WithRand(seeded()))
	target := &fakeTarget{}
	store := newStore(1)

	assert.NotPanics(t, func() { e.Tick(store, target) })
	assert.Empty(t, target.colors)
}

func TestEngine_RandomBackgrounds(t *testing.T) {
	pool := NewBackgroundPool(nil)
	pool.Add("sky.jpg")
	pool.Add("room.png")

	e := New(WithRand(seeded()), WithPool(pool))
	target := &fakeTarget{}
	store := newStore(0)

	e.Tick(store, target)
	assert.Empty(t, target.colors, "random backgrounds are off by default")
	assert.Empty(t, target.backgrounds)

	store.SetUseRandomBackground(true)
	for i := 0; i < 400; i++ {
		e.Tick(store, target)
	}
	assert.Equal(t, 400, len(target.colors)+len(target.backgrounds))
	assert.InDelta(t, 200, len(target.colors), 60)
	for _, c := range target.colors {
		assert.Less(t, c, uint32(1<<24))
	}
	for _, b := range target.backgrounds {
		assert.True(t, b == "sky.jpg" || b == "room.png")
	}
}

func TestEngine_EmptyPoolFallsBackToColor(t *testing.T) {
	e := New(WithRand(seeded()), WithPool(NewBackgroundPool(nil)))
	target := &fakeTarget{}
	store := newStore(0)
	store.SetUseRandomBackground(true)

	for i := 0; i < 50; i++ {
		e.Tick(store, target)
	}
	assert.Len(t, target.colors, 50)
}

func TestEngine_UnloadedBackgroundFallsBackToColor(t *testing.T) {
	pool := NewBackgroundPool(nil)
	pool.Add("gone.png")
	e := New(WithRand(seeded()), WithPool(pool))
	target := &fakeTarget{missing: map[string]bool{"gone.png": true}}
	store := newStore(0)
	store.SetUseRandomBackground(true)

	for i := 0; i < 50; i++ {
		e.Tick(store, target)
	}
	assert.Len(t, target.colors, 50)
	assert.Empty(t, target.backgrounds)
}

type fakeSource struct {
	mu    sync.Mutex
	names []string
	i     int
	data  map[string][]byte
	err   error
}

func (s *fakeSource) RandomBackground(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	n := s.names[s.i%len(s.names)]
	s.i++
	return n, nil
}

func (s *fakeSource) Background(_ context.Context, name string) ([]byte, error) {
	d, ok := s.data[name]
	if !ok {
		return nil, errors.New("not found")
	}
	return d, nil
}

type fakeLoader struct {
	loaded []string
}

func (l *fakeLoader) LoadBackground(name string, data []byte) error {
	if string(data) == "hdr" {
		return scene.ErrUnsupportedBackground
	}
	l.loaded = append(l.loaded, name)
	return nil
}

func TestBackgroundPool_Prefetch(t *testing.T) {
	src := &fakeSource{
		names: []string{"sky.jpg", "sky.jpg", "env.hdr", "room.png", "model.glb"},
		data: map[string][]byte{
			"sky.jpg":  []byte("jpg"),
			"env.hdr":  []byte("hdr"),
			"room.png": []byte("png"),
		},
	}
	loader := &fakeLoader{}
	pool := NewBackgroundPool(nil)

	added, err := pool.Prefetch(context.Background(), src, loader, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, []string{"sky.jpg", "room.png"}, loader.loaded)
	assert.Equal(t, 2, pool.Len())
	assert.True(t, pool.Has("room.png"))
	assert.False(t, pool.Has("env.hdr"))
}

func TestBackgroundPool_PrefetchErrors(t *testing.T) {
	pool := NewBackgroundPool(nil)

	added, err := pool.Prefetch(context.Background(), &fakeSource{err: errors.New("offline")}, &fakeLoader{}, 3)
	assert.Equal(t, 0, added)
	assert.ErrorContains(t, err, "offline")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pool.Prefetch(ctx, &fakeSource{names: []string{"a.png"}}, &fakeLoader{}, 3)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackgroundPool_Pick(t *testing.T) {
	pool := NewBackgroundPool(nil)
	_, ok := pool.Pick(seeded())
	assert.False(t, ok)

	pool.Add("a.png")
	pool.Add("a.png")
	assert.Equal(t, 1, pool.Len())

	name, ok := pool.Pick(seeded())
	assert.True(t, ok)
	assert.Equal(t, "a.png", name)
}
