// Package turntable wires the viewer together: configuration, the parameter
// store, the mutation engine, the capture session and the animation loop
// that ticks them in a fixed order.
package turntable

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teranos/turntable/capture"
	"github.com/teranos/turntable/params"
	"github.com/teranos/turntable/scene"
)

// Config is the top-level viewer configuration.
type Config struct {
	API         string        `yaml:"api"`
	FPS         int           `yaml:"fps"`
	Model       string        `yaml:"model"`
	Background  string        `yaml:"background"`
	DownloadDir string        `yaml:"download_dir"`
	Prefetch    int           `yaml:"prefetch"` // random backgrounds fetched at startup
	Capture     CaptureConfig `yaml:"capture"`
	Params      ParamsConfig  `yaml:"params"`
	Canvas      CanvasConfig  `yaml:"canvas"`
	Camera      CameraConfig  `yaml:"camera"`
	Log         LogConfig     `yaml:"log"`
}

// CaptureConfig controls capture sessions.
type CaptureConfig struct {
	Target          uint          `yaml:"target"`
	MaxInFlight     int           `yaml:"max_in_flight"` // 0 = unbounded
	JPEGQuality     int           `yaml:"jpeg_quality"`
	UploadTimeout   time.Duration `yaml:"upload_timeout"`
	FinalizeTimeout time.Duration `yaml:"finalize_timeout"`
	AutoStart       bool          `yaml:"auto_start"`
}

// ParamsConfig seeds the mutation parameters.
type ParamsConfig struct {
	Angle             [3]float64 `yaml:"angle"`
	Scales            [3]float64 `yaml:"scales"`
	ScaleChangeChance float64    `yaml:"scale_change_chance"`
	RandomBackground  bool       `yaml:"random_background"`
	BackgroundColor   uint32     `yaml:"background_color"`
	HDRLighting       bool       `yaml:"hdr_lighting"`
	DisplayNormals    bool       `yaml:"display_normals"`
}

// CanvasConfig is the render target size.
type CanvasConfig struct {
	Width  uint `yaml:"width"`
	Height uint `yaml:"height"`
}

// CameraConfig positions the camera.
type CameraConfig struct {
	FOV      float64    `yaml:"fov"`
	Position [3]float64 `yaml:"position"`
	Target   [3]float64 `yaml:"target"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// DefaultConfig returns the configuration the viewer starts with when no
// file is given.
func DefaultConfig() Config {
	session := capture.DefaultConfig()
	return Config{
		API:         "http://localhost:8000/api",
		FPS:         60,
		Model:       "DEFAULT_MODEL",
		DownloadDir: "downloads",
		Prefetch:    8,
		Capture: CaptureConfig{
			Target:          50,
			MaxInFlight:     session.MaxInFlight,
			JPEGQuality:     session.JPEGQuality,
			UploadTimeout:   session.UploadTimeout,
			FinalizeTimeout: session.FinalizeTimeout,
		},
		Params: ParamsConfig{
			Angle:           [3]float64{0, 0.02, 0},
			Scales:          [3]float64{0.5, 1.0, 1.5},
			BackgroundColor: 0xff0000,
			HDRLighting:     true,
		},
		Canvas: CanvasConfig{Width: 500, Height: 500},
		Camera: CameraConfig{
			FOV:      45,
			Position: [3]float64{-1.8, 0.6, 2.7},
			Target:   [3]float64{0, 0, -0.2},
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig reads a YAML file over DefaultConfig. Keys absent from the file
// keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.API == "" {
		errs = append(errs, errors.New("api is required"))
	}
	if c.FPS <= 0 || c.FPS > 240 {
		errs = append(errs, fmt.Errorf("fps %d out of range 1..240", c.FPS))
	}
	if c.Capture.Target == 0 {
		errs = append(errs, errors.New("capture.target must be positive"))
	}
	if c.Capture.MaxInFlight < 0 {
		errs = append(errs, errors.New("capture.max_in_flight must not be negative"))
	}
	if c.Params.ScaleChangeChance < 0 || c.Params.ScaleChangeChance > 1 {
		errs = append(errs, fmt.Errorf("params.scale_change_chance %v out of range 0..1", c.Params.ScaleChangeChance))
	}
	if c.Params.BackgroundColor > 0xffffff {
		errs = append(errs, fmt.Errorf("params.background_color %#x is not a 24-bit color", c.Params.BackgroundColor))
	}
	if c.Canvas.Width == 0 || c.Canvas.Height == 0 {
		errs = append(errs, errors.New("canvas size must be positive"))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// TickInterval is the time between loop ticks.
func (c Config) TickInterval() time.Duration {
	if c.FPS <= 0 {
		return time.Second / 60
	}
	return time.Second / time.Duration(c.FPS)
}

// Values converts the configuration into ParameterStore defaults.
func (c Config) Values() params.Values {
	p := c.Params
	return params.Values{
		Angle:               vec(p.Angle),
		ScaleOptions:        p.Scales,
		ScaleChangeChance:   p.ScaleChangeChance,
		UseRandomBackground: p.RandomBackground,
		BackgroundColor:     p.BackgroundColor,
		BackgroundImage:     c.Background,
		UseHDRLighting:      p.HDRLighting,
		DisplayNormals:      p.DisplayNormals,
		TargetFrameCount:    c.Capture.Target,
		CanvasWidth:         c.Canvas.Width,
		CanvasHeight:        c.Canvas.Height,
		Camera: scene.Camera{
			FOV:      c.Camera.FOV,
			Position: vec(c.Camera.Position),
			Target:   vec(c.Camera.Target),
		},
	}
}

// NewStore creates the ParameterStore seeded from the configuration.
func (c Config) NewStore(logger *slog.Logger) *params.Store {
	return params.NewStore(c.Values(), params.WithLogger(logger))
}

// SessionConfig returns the capture session settings.
func (c Config) SessionConfig() capture.Config {
	return capture.Config{
		MaxInFlight:     c.Capture.MaxInFlight,
		JPEGQuality:     c.Capture.JPEGQuality,
		UploadTimeout:   c.Capture.UploadTimeout,
		FinalizeTimeout: c.Capture.FinalizeTimeout,
	}
}

// NewLogger builds the slog logger described by the log section.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level %q: want debug, info, warn or error", s)
	}
}

func vec(a [3]float64) scene.Vec3 {
	return scene.Vec3{X: a[0], Y: a[1], Z: a[2]}
}
