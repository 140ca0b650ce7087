// collector - frame collection server for turntable
//
// Stores uploaded frames per session folder, packages a folder as a zip on
// request and serves models and backgrounds.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hack-pad/hackpadfs"
	osfs "github.com/hack-pad/hackpadfs/os"
	"github.com/spf13/cobra"

	"github.com/teranos/turntable/collector/stash"
)

type flags struct {
	addr              string
	root              string
	index             string
	defaultModel      string
	defaultBackground string
	logLevel          string
	logFormat         string
}

func main() {
	var f flags

	cmd := &cobra.Command{
		Use:          "collector",
		Short:        "Frame collection server",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.addr, "addr", ":8000", "Listen address")
	fl.StringVar(&f.root, "root", "data", "Directory holding out/, models/ and backgrounds/")
	fl.StringVar(&f.index, "index", "", "SQLite frame index (default <root>/frames.db)")
	fl.StringVar(&f.defaultModel, "default-model", "assets/default.glb", "DEFAULT_MODEL path inside root")
	fl.StringVar(&f.defaultBackground, "default-background", "assets/default.hdr", "DEFAULT_BACKGROUND path inside root")
	fl.StringVar(&f.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	fl.StringVar(&f.logFormat, "log-format", "text", "Log format (text, json)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, f flags) error {
	logger := newLogger(f.logLevel, f.logFormat)
	slog.SetDefault(logger)

	fsys, err := rootFS(f.root)
	if err != nil {
		return err
	}

	indexPath := f.index
	if indexPath == "" {
		indexPath = filepath.Join(f.root, "frames.db")
	}
	index, err := stash.OpenIndex(indexPath)
	if err != nil {
		return err
	}
	defer index.Close()

	srv := stash.New(fsys, index,
		stash.WithLogger(logger),
		stash.WithDefaults(f.defaultModel, f.defaultBackground),
	)

	httpSrv := &http.Server{
		Addr:              f.addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("collector: listening", "addr", f.addr, "root", f.root, "index", indexPath)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("collector: shutting down")
	return httpSrv.Shutdown(shutdownCtx)
}

// rootFS returns a hackpadfs view of dir on the host filesystem, creating it
// if needed.
func rootFS(dir string) (hackpadfs.FS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create root: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("root: %w", err)
	}
	rel := strings.TrimPrefix(filepath.ToSlash(abs), "/")
	if rel == "" {
		return osfs.NewFS(), nil
	}
	sub, err := osfs.NewFS().Sub(rel)
	if err != nil {
		return nil, fmt.Errorf("root %s: %w", dir, err)
	}
	fsys, ok := sub.(hackpadfs.FS)
	if !ok {
		return nil, fmt.Errorf("root %s: unexpected filesystem %T", dir, sub)
	}
	return fsys, nil
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
