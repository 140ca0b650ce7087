package mutate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/teranos/turntable/scene"
)

// BackgroundSource lists and serves remote backgrounds.
type BackgroundSource interface {
	RandomBackground(ctx context.Context) (string, error)
	Background(ctx context.Context, name string) ([]byte, error)
}

// BackgroundLoader decodes a background into the scene's cache.
type BackgroundLoader interface {
	LoadBackground(name string, data []byte) error
}

// BackgroundPool holds the names of backgrounds already decoded into the
// scene, so the engine can switch to one without touching the network.
type BackgroundPool struct {
	mu     sync.RWMutex
	names  []string
	logger *slog.Logger
}

// NewBackgroundPool creates an empty pool.
func NewBackgroundPool(logger *slog.Logger) *BackgroundPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &BackgroundPool{logger: logger}
}

// Add records a loaded background. Duplicates are ignored.
func (p *BackgroundPool) Add(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !slices.Contains(p.names, name) {
		p.names = append(p.names, name)
	}
}

// Has reports whether name is in the pool.
func (p *BackgroundPool) Has(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Contains(p.names, name)
}

// Len returns the number of pooled backgrounds.
func (p *BackgroundPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.names)
}

// Pick returns a uniformly chosen background, or false when the pool is empty.
func (p *BackgroundPool) Pick(rng Rand) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.names) == 0 {
		return "", false
	}
	return p.names[rng.IntN(len(p.names))], true
}

// Prefetch asks src for up to attempts random backgrounds, loads the new
// ones into loader and adds them to the pool. Backgrounds the scene cannot
// decode are skipped. It returns how many were added.
func (p *BackgroundPool) Prefetch(ctx context.Context, src BackgroundSource, loader BackgroundLoader, attempts int) (int, error) {
	var errs []error
	added := 0

	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return added, err
		}

		name, err := src.RandomBackground(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if p.Has(name) {
			continue
		}
		if !scene.IsBackgroundName(name) {
			p.logger.Debug("mutate: skipping non-background asset", "name", name)
			continue
		}

		data, err := src.Background(ctx, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := loader.LoadBackground(name, data); err != nil {
			if errors.Is(err, scene.ErrUnsupportedBackground) {
				p.logger.Debug("mutate: background format not rendered", "name", name)
				continue
			}
			errs = append(errs, fmt.Errorf("mutate: load %s: %w", name, err))
			continue
		}

		p.Add(name)
		added++
		p.logger.Debug("mutate: background pooled", "name", name)
	}

	if added == 0 && len(errs) > 0 {
		return 0, errors.Join(errs...)
	}
	return added, nil
}
