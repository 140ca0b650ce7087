package scene

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cubeGLB builds a binary glTF document holding a single cube mesh.
func cubeGLB(t *testing.T) []byte {
	t.Helper()

	doc := gltf.NewDocument()
	positions := [][3]float32{
		{-1, -1, -1}, {1, -1, -1}, {1, 1, -1}, {-1, 1, -1},
		{-1, -1, 1}, {1, -1, 1}, {1, 1, 1}, {-1, 1, 1},
	}
	indices := []uint16{
		0, 1, 2, 0, 2, 3,
		4, 6, 5, 4, 7, 6,
		0, 4, 5, 0, 5, 1,
		3, 2, 6, 3, 6, 7,
		1, 5, 6, 1, 6, 2,
		0, 3, 7, 0, 7, 4,
	}
	pos := modeler.WritePosition(doc, positions)
	idx := modeler.WriteIndices(doc, indices)
	doc.Meshes = []*gltf.Mesh{{
		Name: "cube",
		Primitives: []*gltf.Primitive{{
			Indices:    gltf.Index(idx),
			Attributes: map[string]int{gltf.POSITION: pos},
		}},
	}}

	var buf bytes.Buffer
	enc := gltf.NewEncoder(&buf)
	enc.AsBinary = true
	require.NoError(t, enc.Encode(doc))
	return buf.Bytes()
}

func pngBytes(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// difference returns the fraction of pixels that differ between two frames;
// frames of different sizes are entirely different.
func difference(a, b image.Image) float64 {
	if a.Bounds() != b.Bounds() {
		return 1
	}
	bounds := a.Bounds()
	total := bounds.Dx() * bounds.Dy()
	diff := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if a.At(x, y) != b.At(x, y) {
				diff++
			}
		}
	}
	return float64(diff) / float64(total)
}

func coverage(img image.Image, bg color.RGBA) int {
	n := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if color.RGBAModel.Convert(img.At(x, y)) != bg {
				n++
			}
		}
	}
	return n
}

func TestRaster_PlaceholderWithoutModel(t *testing.T) {
	r := NewRaster(120, 80)
	r.SetBackgroundColor(0x102030)

	assert.Nil(t, r.Model())

	img, err := r.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 120, 80), img.Bounds())

	bg := color.RGBA{0x10, 0x20, 0x30, 0xff}
	assert.Equal(t, bg, color.RGBAModel.Convert(img.At(0, 0)))
	assert.Greater(t, coverage(img, bg), 0, "caption should be stamped on the canvas")
}

func TestRaster_LoadModelAndRender(t *testing.T) {
	r := NewRaster(96, 96)
	r.SetBackgroundColor(0x000000)
	require.NoError(t, r.LoadModel("cube.glb", cubeGLB(t)))

	model := r.Model()
	require.NotNil(t, model)
	assert.Equal(t, "cube.glb", model.Name())
	assert.Equal(t, 1.0, model.Scale())
	assert.Equal(t, Vec3{}, model.Rotation())

	require.NoError(t, r.Render())
	img, err := r.Snapshot()
	require.NoError(t, err)

	black := color.RGBA{0, 0, 0, 0xff}
	assert.NotEqual(t, black, color.RGBAModel.Convert(img.At(48, 48)), "model should cover the canvas center")
	assert.Equal(t, black, color.RGBAModel.Convert(img.At(0, 0)))
}

func TestRaster_TransformChangesFrame(t *testing.T) {
	r := NewRaster(96, 96)
	r.SetBackgroundColor(0x000000)
	require.NoError(t, r.LoadModel("cube.glb", cubeGLB(t)))

	require.NoError(t, r.Render())
	before, _ := r.Snapshot()

	r.Model().SetRotation(Vec3{Y: 0.7})
	require.NoError(t, r.Render())
	rotated, _ := r.Snapshot()
	assert.Greater(t, difference(before, rotated), 0.0)

	black := color.RGBA{0, 0, 0, 0xff}
	r.Model().SetScale(0.2)
	require.NoError(t, r.Render())
	small, _ := r.Snapshot()
	assert.Less(t, coverage(small, black), coverage(rotated, black))
}

func TestRaster_SnapshotIsACopy(t *testing.T) {
	r := NewRaster(32, 32)
	r.SetBackgroundColor(0x00ff00)
	first, _ := r.Snapshot()

	r.SetBackgroundColor(0x0000ff)
	require.NoError(t, r.Render())

	assert.Equal(t, color.RGBA{0, 0xff, 0, 0xff}, color.RGBAModel.Convert(first.At(1, 1)))
}

func TestRaster_DisplayNormals(t *testing.T) {
	r := NewRaster(64, 64)
	r.SetBackgroundColor(0)
	require.NoError(t, r.LoadModel("cube.glb", cubeGLB(t)))

	require.NoError(t, r.Render())
	shaded, _ := r.Snapshot()

	r.SetView(View{
		Camera:         Camera{FOV: 45, Position: Vec3{-1.8, 0.6, 2.7}, Target: Vec3{0, 0, -0.2}},
		DisplayNormals: true,
	})
	require.NoError(t, r.Render())
	normals, _ := r.Snapshot()

	assert.Greater(t, difference(shaded, normals), 0.0)
}

func TestRaster_Backgrounds(t *testing.T) {
	r := NewRaster(16, 16)

	require.NoError(t, r.LoadBackground("sky.png", pngBytes(t, color.RGBA{1, 2, 3, 0xff})))
	require.NoError(t, r.SetBackground("sky.png"))
	_, isColor := r.BackgroundColor()
	assert.False(t, isColor)

	require.NoError(t, r.Render())
	img, _ := r.Snapshot()
	assert.Equal(t, color.RGBA{1, 2, 3, 0xff}, color.RGBAModel.Convert(img.At(8, 8)))

	assert.Error(t, r.SetBackground("missing.png"))

	err := r.LoadBackground("royal_esplanade_1k.hdr", []byte("#?RADIANCE"))
	assert.ErrorIs(t, err, ErrUnsupportedBackground)

	r.SetBackgroundColor(0xabcdef)
	rgb, isColor := r.BackgroundColor()
	assert.True(t, isColor)
	assert.Equal(t, uint32(0xabcdef), rgb)
}

func TestRaster_Resize(t *testing.T) {
	r := NewRaster(10, 10)
	r.Resize(40, 20)
	w, h := r.Size()
	assert.Equal(t, 40, w)
	assert.Equal(t, 20, h)

	img, _ := r.Snapshot()
	assert.Equal(t, image.Rect(0, 0, 40, 20), img.Bounds())

	r.Resize(0, -3)
	w, h = r.Size()
	assert.Equal(t, 1, w)
	assert.Equal(t, 1, h)
}

func TestDecodeMesh(t *testing.T) {
	mesh, err := DecodeMesh(cubeGLB(t))
	require.NoError(t, err)
	assert.Equal(t, 12, mesh.TriangleCount())

	for _, tri := range mesh.Triangles {
		for _, v := range tri {
			assert.LessOrEqual(t, v[0]*v[0]+v[1]*v[1]+v[2]*v[2], float32(1.0001), "mesh is fitted in the unit sphere")
		}
	}

	_, err = DecodeMesh([]byte("not a model"))
	assert.Error(t, err)
}

func TestIsBackgroundName(t *testing.T) {
	assert.True(t, IsBackgroundName("sky.jpg"))
	assert.True(t, IsBackgroundName("room.HDR"))
	assert.False(t, IsBackgroundName("ring.glb"))
	assert.False(t, IsBackgroundName("noext"))
}
