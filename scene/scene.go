// Package scene defines the narrow surface the viewer uses to talk to a 3D
// renderer, and ships Raster, a headless software implementation of it.
//
// The rest of the viewer never touches meshes, materials or lights. It loads
// a model and backgrounds by name, nudges the bound model's transform, picks
// a background, and asks for a rendered frame.
package scene

import (
	"errors"
	"image"
)

// ErrNoModel is returned by operations that need a bound model.
var ErrNoModel = errors.New("scene: no model loaded")

// Vec3 is a three component vector used for rotations and positions.
type Vec3 struct {
	X, Y, Z float64
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

// Model is the transform handle of the loaded model.
type Model interface {
	Name() string
	// Rotation returns the accumulated Euler rotation in radians (XYZ order).
	Rotation() Vec3
	SetRotation(Vec3)
	// Scale returns the uniform scale factor.
	Scale() float64
	SetScale(float64)
}

// Camera describes the perspective camera. A zero Aspect means "follow the
// canvas aspect ratio".
type Camera struct {
	FOV      float64 // vertical field of view in degrees
	Aspect   float64
	Position Vec3
	Target   Vec3
}

// View holds per-frame presentation settings pushed by the animation loop.
type View struct {
	Camera         Camera
	DisplayNormals bool
	EnvLighting    bool
}

// Adapter is the renderer collaborator.
//
// Implementations must tolerate LoadModel and LoadBackground being called from
// an asset goroutine while the animation loop renders.
type Adapter interface {
	// LoadModel replaces the bound model with the one decoded from data.
	LoadModel(name string, data []byte) error
	// LoadBackground decodes data and caches it under name without showing it.
	LoadBackground(name string, data []byte) error
	// SetBackground shows a previously loaded background.
	SetBackground(name string) error
	// SetBackgroundColor shows a flat 24-bit RGB color.
	SetBackgroundColor(rgb uint32)
	Resize(width, height int)
	SetView(View)
	Render() error
	// Snapshot returns a copy of the last rendered frame.
	Snapshot() (image.Image, error)
	// Model returns the bound model, or nil when none is loaded.
	Model() Model
}
