package params

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teranos/turntable/scene"
)

func testValues() Values {
	return Values{
		Angle:             scene.Vec3{Y: 0.02},
		ScaleOptions:      [3]float64{0.5, 1.0, 1.5},
		ScaleChangeChance: 0.1,
		BackgroundColor:   0xff0000,
		UseHDRLighting:    true,
		TargetFrameCount:  50,
		CanvasWidth:       500,
		CanvasHeight:      500,
		Camera:            scene.Camera{FOV: 45, Position: scene.Vec3{X: -1.8, Y: 0.6, Z: 2.7}},
	}
}

func TestStore_TargetLockedWhileCapturing(t *testing.T) {
	s := NewStore(testValues())

	assert.True(t, s.TrySetTargetFrameCount(100))
	assert.Equal(t, uint(100), s.TargetFrameCount())

	assert.True(t, s.RequestCapture())
	assert.False(t, s.TrySetTargetFrameCount(200), "target is immutable while capturing")
	assert.Equal(t, uint(100), s.TargetFrameCount())

	s.ClearCaptureRequest()
	assert.True(t, s.TrySetTargetFrameCount(200))
	assert.Equal(t, uint(200), s.TargetFrameCount())

	assert.False(t, s.TrySetTargetFrameCount(0))
}

func TestStore_RequestCaptureIsEdge(t *testing.T) {
	s := NewStore(testValues())

	assert.False(t, s.CaptureRequested())
	assert.True(t, s.RequestCapture())
	assert.False(t, s.RequestCapture(), "second request does not flip the flag")
	assert.True(t, s.CaptureRequested())
}

func TestStore_DefaultsNeverStartCapturing(t *testing.T) {
	v := testValues()
	v.CaptureRequested = true
	s := NewStore(v)
	assert.False(t, s.CaptureRequested())
}

func TestStore_ScaleChance(t *testing.T) {
	s := NewStore(testValues())

	s.SetScaleChangeChance(1.5)
	assert.Equal(t, 1.0, s.ScaleChangeChance())
	s.SetScaleChangeChance(-1)
	assert.Equal(t, 0.0, s.ScaleChangeChance())
}

func TestStore_ScaleOptions(t *testing.T) {
	s := NewStore(testValues())

	s.SetScaleOption(ScaleBig, 3)
	s.SetScaleOption(7, 9)
	assert.Equal(t, [3]float64{0.5, 1.0, 3}, s.ScaleOptions())
}

func TestStore_Resets(t *testing.T) {
	s := NewStore(testValues())

	s.SetAngle(scene.Vec3{X: 1})
	s.SetScaleOption(ScaleSmall, 0.1)
	s.SetCanvasSize(100, 200)
	s.SetBackgroundColor(0x123456)
	s.SetUseRandomBackground(true)
	s.SetCamera(scene.Camera{FOV: 90})

	s.ResetModel()
	assert.Equal(t, scene.Vec3{Y: 0.02}, s.Angle())
	assert.Equal(t, [3]float64{0.5, 1.0, 1.5}, s.ScaleOptions())

	s.ResetCanvas()
	w, h := s.CanvasSize()
	assert.Equal(t, uint(500), w)
	assert.Equal(t, uint(500), h)
	assert.Equal(t, uint32(0xff0000), s.BackgroundColor())
	assert.False(t, s.UseRandomBackground())

	assert.Equal(t, 90.0, s.Camera().FOV)
	s.ResetCamera()
	assert.Equal(t, 45.0, s.Camera().FOV)
}

func TestStore_View(t *testing.T) {
	s := NewStore(testValues())
	s.SetDisplayNormals(true)
	s.SetUseHDRLighting(false)

	v := s.View()
	assert.True(t, v.DisplayNormals)
	assert.False(t, v.EnvLighting)
	assert.Equal(t, 45.0, v.Camera.FOV)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := NewStore(testValues())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.RequestCapture()
			s.ClearCaptureRequest()
		}()
		go func() {
			defer wg.Done()
			_ = s.Snapshot()
			s.TrySetTargetFrameCount(60)
		}()
	}
	wg.Wait()
}
