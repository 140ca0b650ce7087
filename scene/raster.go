package scene

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sync"

	"github.com/chewxy/math32"
	"golang.org/x/image/draw"
)

const nearPlane = 0.05

// RasterOption configures a Raster.
type RasterOption func(*Raster)

// WithRasterLogger sets the logger used for asset events.
func WithRasterLogger(l *slog.Logger) RasterOption {
	return func(r *Raster) { r.logger = l }
}

// WithPlaceholder sets the caption drawn while no model is bound.
func WithPlaceholder(caption string) RasterOption {
	return func(r *Raster) { r.placeholder = caption }
}

// Raster is a headless, single-light, z-buffered triangle renderer.
//
// It stands in for the browser's WebGL canvas: frames are rendered into an
// RGBA buffer that stays valid between renders, so Snapshot always returns
// what the last Render drew.
type Raster struct {
	mu sync.Mutex

	frame    *image.RGBA
	depth    []float32
	rendered bool

	model *meshModel

	bgColor     color.RGBA
	background  image.Image
	backgrounds map[string]image.Image

	view        View
	placeholder string
	logger      *slog.Logger
}

// NewRaster creates a renderer with a canvas of the given size.
func NewRaster(width, height int, opts ...RasterOption) *Raster {
	r := &Raster{
		bgColor:     color.RGBA{0xff, 0, 0, 0xff},
		backgrounds: make(map[string]image.Image),
		placeholder: "loading model",
		logger:      slog.Default(),
		view: View{
			Camera: Camera{
				FOV:      45,
				Position: Vec3{-1.8, 0.6, 2.7},
				Target:   Vec3{0, 0, -0.2},
			},
			EnvLighting: true,
		},
	}
	for _, o := range opts {
		o(r)
	}
	r.resizeLocked(width, height)
	return r
}

// LoadModel decodes a GLB/GLTF payload and binds it as the current model.
// The new model starts with zero rotation and unit scale.
func (r *Raster) LoadModel(name string, data []byte) error {
	mesh, err := DecodeMesh(data)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.model = &meshModel{name: name, mesh: mesh, scale: 1}
	r.rendered = false
	r.mu.Unlock()

	r.logger.Info("scene: model loaded", "name", name, "triangles", mesh.TriangleCount())
	return nil
}

// LoadBackground decodes and caches a background image.
func (r *Raster) LoadBackground(name string, data []byte) error {
	img, err := DecodeBackground(name, data)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.backgrounds[name] = img
	r.mu.Unlock()

	r.logger.Debug("scene: background cached", "name", name)
	return nil
}

// SetBackground shows a cached background.
func (r *Raster) SetBackground(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	img, ok := r.backgrounds[name]
	if !ok {
		return fmt.Errorf("scene: background %q not loaded", name)
	}
	r.background = img
	return nil
}

// SetBackgroundColor shows a flat color; the top byte of rgb is ignored.
func (r *Raster) SetBackgroundColor(rgb uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.background = nil
	r.bgColor = color.RGBA{uint8(rgb >> 16), uint8(rgb >> 8), uint8(rgb), 0xff}
}

// BackgroundColor returns the flat color currently shown, and false when an
// image background is active.
func (r *Raster) BackgroundColor() (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.background != nil {
		return 0, false
	}
	return uint32(r.bgColor.R)<<16 | uint32(r.bgColor.G)<<8 | uint32(r.bgColor.B), true
}

// Resize changes the canvas size. Non-positive sizes are clamped to 1.
func (r *Raster) Resize(width, height int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resizeLocked(width, height)
}

func (r *Raster) resizeLocked(width, height int) {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	if r.frame != nil && r.frame.Bounds().Dx() == width && r.frame.Bounds().Dy() == height {
		return
	}
	r.frame = image.NewRGBA(image.Rect(0, 0, width, height))
	r.depth = make([]float32, width*height)
	r.rendered = false
}

// Size returns the canvas size.
func (r *Raster) Size() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.frame.Bounds()
	return b.Dx(), b.Dy()
}

// SetView applies camera and shading settings for the next Render.
func (r *Raster) SetView(v View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.view = v
}

// Model returns the bound model or nil.
func (r *Raster) Model() Model {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.model == nil {
		return nil
	}
	return r.model
}

// Render draws the background and the bound model into the canvas.
func (r *Raster) Render() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renderLocked()
	return nil
}

// Snapshot copies the last rendered frame, rendering first if the canvas has
// never been drawn at its current size.
func (r *Raster) Snapshot() (image.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.rendered {
		r.renderLocked()
	}
	out := image.NewRGBA(r.frame.Bounds())
	copy(out.Pix, r.frame.Pix)
	return out, nil
}

func (r *Raster) renderLocked() {
	bounds := r.frame.Bounds()
	if r.background != nil {
		draw.ApproxBiLinear.Scale(r.frame, bounds, r.background, r.background.Bounds(), draw.Src, nil)
	} else {
		draw.Draw(r.frame, bounds, image.NewUniform(r.bgColor), image.Point{}, draw.Src)
	}

	inf := math32.Inf(1)
	for i := range r.depth {
		r.depth[i] = inf
	}
	r.rendered = true

	if r.model == nil {
		if r.placeholder != "" {
			stamp(r.frame, r.placeholder, contrast(r.bgColor))
		}
		return
	}

	rot, scale := r.model.transform()
	cam := newProjector(r.view.Camera, bounds.Dx(), bounds.Dy())
	light := normalize3([3]float32{0.5, 0.8, 0.6})
	ambient := float32(0.35)
	if !r.view.EnvLighting {
		ambient = 0.2
	}

	for _, tri := range r.model.mesh.Triangles {
		var world [3][3]float32
		for i, v := range tri {
			world[i] = rot.apply([3]float32{v[0] * scale, v[1] * scale, v[2] * scale})
		}
		n := normalize3(cross3(sub3(world[1], world[0]), sub3(world[2], world[0])))

		var shade color.RGBA
		if r.view.DisplayNormals {
			shade = color.RGBA{
				uint8((n[0]*0.5 + 0.5) * 255),
				uint8((n[1]*0.5 + 0.5) * 255),
				uint8((n[2]*0.5 + 0.5) * 255),
				0xff,
			}
		} else {
			intensity := ambient + (1-ambient)*math32.Abs(dot3(n, light))
			shade = color.RGBA{
				uint8(math32.Min(255, 212*intensity)),
				uint8(math32.Min(255, 175*intensity)),
				uint8(math32.Min(255, 55+80*intensity)),
				0xff,
			}
		}

		var screen [3][3]float32
		visible := true
		for i, p := range world {
			s, ok := cam.project(p)
			if !ok {
				visible = false
				break
			}
			screen[i] = s
		}
		if visible {
			r.fillTriangle(screen, shade)
		}
	}
}

// fillTriangle rasterizes a screen-space triangle (x, y, depth) with a
// depth test.
func (r *Raster) fillTriangle(t [3][3]float32, c color.RGBA) {
	w, h := r.frame.Bounds().Dx(), r.frame.Bounds().Dy()

	minX := int(math32.Max(0, math32.Floor(math32.Min(t[0][0], math32.Min(t[1][0], t[2][0])))))
	maxX := int(math32.Min(float32(w-1), math32.Ceil(math32.Max(t[0][0], math32.Max(t[1][0], t[2][0])))))
	minY := int(math32.Max(0, math32.Floor(math32.Min(t[0][1], math32.Min(t[1][1], t[2][1])))))
	maxY := int(math32.Min(float32(h-1), math32.Ceil(math32.Max(t[0][1], math32.Max(t[1][1], t[2][1])))))

	area := edge(t[0], t[1], t[2][0], t[2][1])
	if area == 0 {
		return
	}

	for y := minY; y <= maxY; y++ {
		py := float32(y) + 0.5
		for x := minX; x <= maxX; x++ {
			px := float32(x) + 0.5
			w0 := edge(t[1], t[2], px, py) / area
			w1 := edge(t[2], t[0], px, py) / area
			w2 := edge(t[0], t[1], px, py) / area
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			z := w0*t[0][2] + w1*t[1][2] + w2*t[2][2]
			i := y*w + x
			if z >= r.depth[i] {
				continue
			}
			r.depth[i] = z
			r.frame.SetRGBA(x, y, c)
		}
	}
}

func edge(a, b [3]float32, px, py float32) float32 {
	return (b[0]-a[0])*(py-a[1]) - (b[1]-a[1])*(px-a[0])
}

type meshModel struct {
	mu       sync.Mutex
	name     string
	mesh     *Mesh
	rotation Vec3
	scale    float64
}

func (m *meshModel) Name() string { return m.name }

func (m *meshModel) Rotation() Vec3 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rotation
}

func (m *meshModel) SetRotation(v Vec3) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rotation = v
}

func (m *meshModel) Scale() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scale
}

func (m *meshModel) SetScale(s float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scale = s
}

func (m *meshModel) transform() (rotation, float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return newRotation(m.rotation), float32(m.scale)
}

// rotation is a 3x3 matrix for Euler angles in XYZ order (Rx * Ry * Rz).
type rotation [3][3]float32

func newRotation(e Vec3) rotation {
	sx, cx := math32.Sincos(float32(e.X))
	sy, cy := math32.Sincos(float32(e.Y))
	sz, cz := math32.Sincos(float32(e.Z))

	return rotation{
		{cy * cz, -cy * sz, sy},
		{cx*sz + sx*sy*cz, cx*cz - sx*sy*sz, -sx * cy},
		{sx*sz - cx*sy*cz, sx*cz + cx*sy*sz, cx * cy},
	}
}

func (m rotation) apply(v [3]float32) [3]float32 {
	return [3]float32{
		m[0][0]*v[0] + m[0][1]*v[1] + m[0][2]*v[2],
		m[1][0]*v[0] + m[1][1]*v[1] + m[1][2]*v[2],
		m[2][0]*v[0] + m[2][1]*v[1] + m[2][2]*v[2],
	}
}

// projector maps world points to screen space through a look-at camera.
type projector struct {
	eye, right, up, forward [3]float32
	focal, aspect           float32
	width, height           float32
}

func newProjector(c Camera, width, height int) projector {
	eye := [3]float32{float32(c.Position.X), float32(c.Position.Y), float32(c.Position.Z)}
	target := [3]float32{float32(c.Target.X), float32(c.Target.Y), float32(c.Target.Z)}

	forward := normalize3(sub3(target, eye))
	right := normalize3(cross3(forward, [3]float32{0, 1, 0}))
	up := cross3(right, forward)

	fov := float32(c.FOV)
	if fov <= 0 {
		fov = 45
	}
	aspect := float32(c.Aspect)
	if aspect <= 0 {
		aspect = float32(width) / float32(height)
	}

	return projector{
		eye:     eye,
		right:   right,
		up:      up,
		forward: forward,
		focal:   1 / math32.Tan(fov*math32.Pi/360),
		aspect:  aspect,
		width:   float32(width),
		height:  float32(height),
	}
}

func (p projector) project(v [3]float32) ([3]float32, bool) {
	d := sub3(v, p.eye)
	z := dot3(d, p.forward)
	if z < nearPlane {
		return [3]float32{}, false
	}
	x := dot3(d, p.right) * p.focal / (p.aspect * z)
	y := dot3(d, p.up) * p.focal / z

	return [3]float32{
		(x + 1) / 2 * p.width,
		(1 - y) / 2 * p.height,
		z,
	}, true
}

func sub3(a, b [3]float32) [3]float32 {
	return [3]float32{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func dot3(a, b [3]float32) float32 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func cross3(a, b [3]float32) [3]float32 {
	return [3]float32{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func normalize3(v [3]float32) [3]float32 {
	l := math32.Sqrt(dot3(v, v))
	if l == 0 {
		return v
	}
	return [3]float32{v[0] / l, v[1] / l, v[2] / l}
}
