// turntable - headless model viewer with frame capture
//
// Renders a GLB model on a turntable, mutates rotation, scale and background
// every tick, and on request captures a session of frames to the collector,
// then downloads the packaged archive.
//
// Controls:
//
//	c      - Start a capture session
//	x      - Cancel the running session
//	+/-    - Change the target frame count (50..1000)
//	tab    - Cycle the adjustable field
//	←/→    - Adjust the focused field
//	b/n/h  - Toggle random background, normals, HDR lighting
//	r/v/k  - Reset model, canvas, camera
//	q      - Quit
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teranos/turntable"
	"github.com/teranos/turntable/capture"
	"github.com/teranos/turntable/collector"
	"github.com/teranos/turntable/download"
	"github.com/teranos/turntable/mutate"
	"github.com/teranos/turntable/panel"
	"github.com/teranos/turntable/scene"
	"github.com/teranos/turntable/trip"
)

type flags struct {
	config      string
	api         string
	fps         int
	target      uint
	downloadDir string
	model       string
	headless    bool
	capture     bool
	logLevel    string
	logFormat   string
	logFile     string
}

func main() {
	var f flags

	cmd := &cobra.Command{
		Use:   "turntable",
		Short: "Model viewer with frame capture",
		Long: `turntable renders a model on a turntable and captures sessions of frames.

Frames are uploaded to the collector as they are rendered. When the target
count is reached the packaged archive is downloaded and the session resets.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, f)
		},
	}
	addFlags(cmd, &f)

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "List models uploaded to the collector",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			names, err := collector.New(cfg.API).Models(cmd.Context())
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}

	uploadCmd := &cobra.Command{
		Use:   "upload <file.glb|image|file.zip>",
		Short: "Upload a model, a background or a zip of backgrounds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()
			return collector.New(cfg.API).UploadAsset(cmd.Context(), filepath.Base(args[0]), file)
		},
	}
	cmd.AddCommand(modelsCmd, uploadCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func addFlags(cmd *cobra.Command, f *flags) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.config, "config", "", "YAML configuration file")
	pf.StringVar(&f.api, "api", "", "Collector API base URL")
	pf.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&f.logFormat, "log-format", "", "Log format (text, json)")

	fl := cmd.Flags()
	fl.IntVar(&f.fps, "fps", 0, "Loop ticks per second")
	fl.UintVar(&f.target, "target", 0, "Frames per capture session")
	fl.StringVar(&f.downloadDir, "download-dir", "", "Directory archives are saved to")
	fl.StringVar(&f.model, "model", "", "Model name to load from the collector")
	fl.BoolVar(&f.headless, "headless", false, "Run without the terminal panel")
	fl.BoolVar(&f.capture, "capture", false, "Start a capture session immediately; with --headless, exit when it is saved")
	fl.StringVar(&f.logFile, "log-file", "", "Write logs to this file (the panel owns the terminal)")
}

// loadConfig reads the config file, if any, and applies flags that were set.
func loadConfig(cmd *cobra.Command, f flags) (turntable.Config, error) {
	cfg := turntable.DefaultConfig()
	if f.config != "" {
		var err error
		if cfg, err = turntable.LoadConfig(f.config); err != nil {
			return cfg, err
		}
	}

	changed := cmd.Flags().Changed
	if changed("api") {
		cfg.API = f.api
	}
	if changed("fps") {
		cfg.FPS = f.fps
	}
	if changed("target") {
		cfg.Capture.Target = f.target
	}
	if changed("download-dir") {
		cfg.DownloadDir = f.downloadDir
	}
	if changed("model") {
		cfg.Model = f.model
	}
	if changed("capture") {
		cfg.Capture.AutoStart = f.capture
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg turntable.Config, f flags) error {
	var logOut io.Writer = os.Stderr
	switch {
	case f.logFile != "":
		file, err := os.OpenFile(f.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer file.Close()
		logOut = file
	case !f.headless:
		logOut = io.Discard
	}
	logger := cfg.NewLogger(logOut)
	slog.SetDefault(logger)

	client := collector.New(cfg.API, collector.WithLogger(logger))
	raster := scene.NewRaster(int(cfg.Canvas.Width), int(cfg.Canvas.Height), scene.WithRasterLogger(logger))
	assets := trip.NewHandler("assets")
	loadAssets(ctx, cfg, client, raster, assets, logger)

	pool := mutate.NewBackgroundPool(logger)
	go func() {
		n, err := pool.Prefetch(ctx, client, raster, cfg.Prefetch)
		if err != nil {
			assets.Record(trip.FromError(trip.KindAsset, trip.Stumble, err, trip.Context{"prefetch": cfg.Prefetch}))
			logger.Warn("turntable: no random backgrounds, using colors", "error", err)
			return
		}
		logger.Info("turntable: random backgrounds ready", "count", n)
	}()

	saver, err := download.NewOS(cfg.DownloadDir, download.WithLogger(logger))
	if err != nil {
		return err
	}

	lock := &panel.Lock{}
	store := cfg.NewStore(logger)
	session := capture.New(capture.Deps{
		Store:    store,
		Scene:    raster,
		Uploader: client,
		Archiver: client,
		Saver:    saver,
		Controls: lock,
	}, capture.WithLogger(logger), capture.WithConfig(cfg.SessionConfig()))

	engine := mutate.New(mutate.WithPool(pool), mutate.WithLogger(logger))
	loop := turntable.NewLoop(store, raster, engine, session, turntable.WithLoopLogger(logger))

	m := panel.New(ctx, loop, lock,
		panel.WithInterval(cfg.TickInterval()),
		panel.WithLogger(logger),
		panel.WithAutoStart(cfg.Capture.AutoStart),
		panel.WithExitAfterCapture(f.headless && cfg.Capture.AutoStart),
	)

	logger.Info("turntable: starting",
		"api", cfg.API, "model", cfg.Model, "fps", cfg.FPS,
		"target", cfg.Capture.Target, "headless", f.headless)

	final, err := panel.Run(ctx, m, f.headless, os.Stdout)
	if err != nil {
		return err
	}
	st := final.Status()
	logger.Info("turntable: stopped", "ticks", final.Ticks(), "last_saved", st.LastSaved)
	for _, t := range session.Trips() {
		level := slog.LevelWarn
		if t.CanRecover() {
			level = slog.LevelDebug
		}
		logger.Log(context.Background(), level, "turntable: trip", "trip", t.Error(), "frame", t.Frame)
	}
	if len(session.Trips()) > 0 {
		logger.Info("turntable: capture report", "report", session.Report())
	}
	for _, t := range assets.GetTrips() {
		if t.IsFall() {
			logger.Error("turntable: ran without its model", "trip", t.Error())
		}
	}
	if assets.HasTrips() || assets.HasStumbles() {
		logger.Warn("turntable: asset report", "report", assets.DetailedReport())
	}
	return nil
}

// loadAssets binds the configured model and static background. A missing
// model is a Fall and a missing background an Error; both are recorded in
// assets and the viewer keeps rendering its placeholder.
func loadAssets(ctx context.Context, cfg turntable.Config, client *collector.Client, raster *scene.Raster, assets *trip.Handler, logger *slog.Logger) {
	if cfg.Model != "" {
		data, err := client.Model(ctx, cfg.Model)
		if err == nil {
			err = raster.LoadModel(cfg.Model, data)
		}
		if err != nil {
			t := trip.NewFall(trip.KindAsset, err.Error(), trip.Context{"model": cfg.Model})
			assets.Record(t)
			logger.Error("turntable: model unavailable", "model", cfg.Model, "error", err)
		}
	}
	if cfg.Background != "" {
		data, err := client.Background(ctx, cfg.Background)
		if err == nil {
			err = raster.LoadBackground(cfg.Background, data)
		}
		if err != nil {
			assets.Record(trip.FromError(trip.KindAsset, trip.Error, err, trip.Context{"background": cfg.Background}))
			logger.Warn("turntable: background unavailable", "background", cfg.Background, "error", err)
		}
	}
}
