// Package params holds the mutable viewer configuration shared by the
// control panel, the mutation engine and the capture session.
package params

import (
	"log/slog"
	"sync"

	"github.com/teranos/turntable/scene"
)

// Scale slots in ScaleOptions.
const (
	ScaleSmall = iota
	ScaleMedium
	ScaleBig
)

// Values is a plain copy of every parameter, used for defaults and reads
// that need a consistent view of several fields.
type Values struct {
	Angle             scene.Vec3
	ScaleOptions      [3]float64
	ScaleChangeChance float64

	UseRandomBackground bool
	BackgroundColor     uint32
	BackgroundImage     string
	UseHDRLighting      bool
	DisplayNormals      bool

	CaptureRequested bool
	TargetFrameCount uint

	CanvasWidth, CanvasHeight uint
	Camera                    scene.Camera
}

// Store is the ParameterStore. All accessors are safe for concurrent use:
// the animation loop reads it every tick while upload and finalize
// continuations clear the capture request from their own goroutines.
type Store struct {
	mu       sync.RWMutex
	v        Values
	defaults Values
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used to report rejected changes.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates a store initialized from defaults. The defaults are kept
// for the Reset methods; CaptureRequested in defaults is ignored.
func NewStore(defaults Values, opts ...Option) *Store {
	defaults.CaptureRequested = false
	defaults.ScaleChangeChance = clamp01(defaults.ScaleChangeChance)

	s := &Store{v: defaults, defaults: defaults, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Snapshot returns a copy of every parameter.
func (s *Store) Snapshot() Values {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v
}

// Defaults returns the values the store was created with.
func (s *Store) Defaults() Values {
	return s.defaults
}

// Angle returns the per-tick rotation increment.
func (s *Store) Angle() scene.Vec3 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.Angle
}

// SetAngle sets the per-tick rotation increment.
func (s *Store) SetAngle(a scene.Vec3) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Angle = a
}

// ScaleOptions returns the SMALL/MEDIUM/BIG scale candidates.
func (s *Store) ScaleOptions() [3]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.ScaleOptions
}

// SetScaleOption replaces one scale candidate; out of range slots are ignored.
func (s *Store) SetScaleOption(slot int, value float64) {
	if slot < ScaleSmall || slot > ScaleBig {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.ScaleOptions[slot] = value
}

// ScaleChangeChance returns the per-tick probability of a new scale.
func (s *Store) ScaleChangeChance() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.ScaleChangeChance
}

// SetScaleChangeChance sets the per-tick probability, clamped to [0, 1].
func (s *Store) SetScaleChangeChance(p float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.ScaleChangeChance = clamp01(p)
}

// UseRandomBackground reports whether the background may change every tick.
func (s *Store) UseRandomBackground() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.UseRandomBackground
}

// SetUseRandomBackground toggles per-tick background changes.
func (s *Store) SetUseRandomBackground(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.UseRandomBackground = on
}

// BackgroundColor returns the background color shown when random backgrounds are off.
func (s *Store) BackgroundColor() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.BackgroundColor
}

// SetBackgroundColor sets the static background color.
func (s *Store) SetBackgroundColor(rgb uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.BackgroundColor = rgb & 0xffffff
}

// BackgroundImage returns the name of the static background image, empty
// when the static background is a flat color.
func (s *Store) BackgroundImage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.BackgroundImage
}

// SetBackgroundImage selects a loaded background image as the static
// background; an empty name falls back to BackgroundColor.
func (s *Store) SetBackgroundImage(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.BackgroundImage = name
}

// SetUseHDRLighting toggles environment lighting.
func (s *Store) SetUseHDRLighting(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.UseHDRLighting = on
}

// SetDisplayNormals toggles normal-direction shading.
func (s *Store) SetDisplayNormals(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.DisplayNormals = on
}

// CaptureRequested reports the user's intent to capture.
func (s *Store) CaptureRequested() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.CaptureRequested
}

// RequestCapture sets the capture request and reports whether it flipped
// from false to true.
func (s *Store) RequestCapture() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.v.CaptureRequested {
		return false
	}
	s.v.CaptureRequested = true
	return true
}

// ClearCaptureRequest clears the capture request.
func (s *Store) ClearCaptureRequest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.CaptureRequested = false
}

// TargetFrameCount returns how many frames a session captures.
func (s *Store) TargetFrameCount() uint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.TargetFrameCount
}

// TrySetTargetFrameCount changes the target frame count. It is a no-op
// returning false while a capture is requested, or when n is zero.
func (s *Store) TrySetTargetFrameCount(n uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.v.CaptureRequested {
		s.logger.Warn("params: target frame count is locked while capturing",
			"requested", n, "current", s.v.TargetFrameCount)
		return false
	}
	if n == 0 {
		return false
	}
	s.v.TargetFrameCount = n
	return true
}

// CanvasSize returns the canvas size in pixels.
func (s *Store) CanvasSize() (uint, uint) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.CanvasWidth, s.v.CanvasHeight
}

// SetCanvasSize sets the canvas size in pixels.
func (s *Store) SetCanvasSize(width, height uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.CanvasWidth, s.v.CanvasHeight = width, height
}

// Camera returns the camera settings.
func (s *Store) Camera() scene.Camera {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.Camera
}

// SetCamera replaces the camera settings.
func (s *Store) SetCamera(c scene.Camera) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Camera = c
}

// View derives the renderer view settings.
func (s *Store) View() scene.View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scene.View{
		Camera:         s.v.Camera,
		DisplayNormals: s.v.DisplayNormals,
		EnvLighting:    s.v.UseHDRLighting,
	}
}

// ResetModel restores angle, scales and scale chance.
func (s *Store) ResetModel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Angle = s.defaults.Angle
	s.v.ScaleOptions = s.defaults.ScaleOptions
	s.v.ScaleChangeChance = s.defaults.ScaleChangeChance
}

// ResetCanvas restores canvas size, background and lighting settings.
func (s *Store) ResetCanvas() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.CanvasWidth = s.defaults.CanvasWidth
	s.v.CanvasHeight = s.defaults.CanvasHeight
	s.v.BackgroundColor = s.defaults.BackgroundColor
	s.v.BackgroundImage = s.defaults.BackgroundImage
	s.v.UseRandomBackground = s.defaults.UseRandomBackground
	s.v.UseHDRLighting = s.defaults.UseHDRLighting
}

// ResetCamera restores the camera.
func (s *Store) ResetCamera() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Camera = s.defaults.Camera
}

func clamp01(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}
