// Package download stores finalized capture archives, the way a browser
// saves a downloaded file: into a directory, without overwriting, adding a
// " (n)" suffix when the name is taken.
package download

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hack-pad/hackpadfs"
	osfs "github.com/hack-pad/hackpadfs/os"
)

const fallbackName = "archive.zip"

// maxSuffix bounds the search for a free " (n)" name.
const maxSuffix = 1000

// Saver writes archives into a directory of a hackpadfs filesystem.
type Saver struct {
	fs     hackpadfs.FS
	dir    string
	osRoot string
	logger *slog.Logger

	mu sync.Mutex
}

// Option configures a Saver.
type Option func(*Saver)

// WithLogger sets the saver logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Saver) { s.logger = l }
}

// New creates a saver writing into dir of fsys. dir uses io/fs path syntax:
// slash separated, no leading slash, "." for the root.
func New(fsys hackpadfs.FS, dir string, opts ...Option) *Saver {
	s := &Saver{fs: fsys, dir: path.Clean(dir), logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewOS creates a saver writing into a directory of the host filesystem.
func NewOS(dir string, opts ...Option) (*Saver, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	rel := strings.TrimPrefix(filepath.ToSlash(abs), "/")
	if rel == "" {
		rel = "."
	}
	s := New(osfs.NewFS(), rel, opts...)
	s.osRoot = "/"
	return s, nil
}

// Dir returns the target directory as passed to New.
func (s *Saver) Dir() string { return s.dir }

// Save writes data under a sanitized, unused variant of name and returns the
// written path. Host filesystem paths are returned in OS form.
func (s *Saver) Save(name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := hackpadfs.MkdirAll(s.fs, s.dir, 0o755); err != nil {
		return "", fmt.Errorf("download: create %s: %w", s.dir, err)
	}

	target, err := s.freeName(Sanitize(name))
	if err != nil {
		return "", err
	}
	if err := hackpadfs.WriteFullFile(s.fs, target, data, 0o644); err != nil {
		return "", fmt.Errorf("download: write %s: %w", target, err)
	}

	out := target
	if s.osRoot != "" {
		out = filepath.FromSlash(s.osRoot + target)
	}
	s.logger.Info("download: saved", "path", out, "bytes", len(data))
	return out, nil
}

func (s *Saver) freeName(name string) (string, error) {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i <= maxSuffix; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		p := path.Join(s.dir, candidate)
		_, err := hackpadfs.Stat(s.fs, p)
		if errors.Is(err, hackpadfs.ErrNotExist) {
			return p, nil
		}
		if err != nil {
			return "", fmt.Errorf("download: stat %s: %w", p, err)
		}
	}
	return "", fmt.Errorf("download: no free name for %s in %s", name, s.dir)
}

// Sanitize reduces a server supplied filename to a safe base name.
func Sanitize(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(name)

	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7f:
			return -1
		case strings.ContainsRune(`<>:"|?*`, r):
			return '_'
		}
		return r
	}, name)
	name = strings.TrimSpace(name)

	if name == "" || name == "." || name == ".." || name == "/" {
		return fallbackName
	}
	return name
}
