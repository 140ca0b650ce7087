// Package stash is a reference implementation of the HTTP collaborator the
// viewer talks to: it stores uploaded frames per session folder, packages a
// folder as a zip on request and serves models and backgrounds.
package stash

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hack-pad/hackpadfs"

	"github.com/teranos/turntable/collector"
)

// Directory layout inside the stash filesystem.
const (
	FramesDir      = "out"
	ModelsDir      = "models"
	BackgroundsDir = "backgrounds"
)

// maxUploadBytes bounds asset uploads and frame bodies.
const maxUploadBytes = 256 << 20

// Server serves the collaborator API.
type Server struct {
	fs     hackpadfs.FS
	index  *Index
	logger *slog.Logger
	now    func() time.Time

	defaultModel      string
	defaultBackground string

	mu  sync.Mutex // guards rng and frame naming
	rng *rand.Rand
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithClock replaces time.Now, used to name frames.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithDefaults sets the files served for DEFAULT_MODEL and
// DEFAULT_BACKGROUND, as paths inside the stash filesystem.
func WithDefaults(model, background string) Option {
	return func(s *Server) {
		s.defaultModel = model
		s.defaultBackground = background
	}
}

// WithRand sets the source used by /randombg.
func WithRand(r *rand.Rand) Option {
	return func(s *Server) { s.rng = r }
}

// New creates a server storing files in fsys and indexing frames in index.
func New(fsys hackpadfs.FS, index *Index, opts ...Option) *Server {
	s := &Server{
		fs:     fsys,
		index:  index,
		logger: slog.Default(),
		now:    time.Now,
		rng:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the full router with the API mounted at /api.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(allowOrigins)

	r.Mount("/api", s.Routes())
	return r
}

// Routes returns the API routes without the /api prefix.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/screen/", s.handleScreen)
	r.Get("/zip/{folder}", s.handleZip)
	r.Get("/sessions", s.handleSessions)
	r.Get("/sessions/{folder}", s.handleSession)
	r.Get("/models", s.handleModels)
	r.Get("/models/{name}", s.handleModel)
	r.Get("/backgrounds/{name}", s.handleBackground)
	r.Get("/randombg", s.handleRandomBackground)
	r.Post("/uploader/", s.handleUpload)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("stash: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// allowOrigins lets a browser viewer served from another origin call the API.
func allowOrigins(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		h.Set("Access-Control-Expose-Headers", "Content-Disposition")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type screenRequest struct {
	InputData  string `json:"input_data"`
	FolderName string `json:"folder_name"`
}

// decodeScreen accepts the request object or the same object encoded once
// more as a JSON string.
func decodeScreen(body io.Reader) (screenRequest, error) {
	var req screenRequest
	var raw json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return req, err
	}
	if len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return req, err
		}
		raw = json.RawMessage(inner)
	}
	err := json.Unmarshal(raw, &req)
	return req, err
}

func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request) {
	req, err := decodeScreen(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	folder, ok := cleanName(req.FolderName)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Invalid folder name")
		return
	}
	data, err := decodeFrame(req.InputData)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid image data")
		return
	}

	frame, err := s.storeFrame(folder, data)
	if err != nil {
		s.logger.Error("stash: store frame failed", "folder", folder, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Could not store frame")
		return
	}
	if err := s.index.RecordFrame(r.Context(), frame); err != nil {
		s.logger.Warn("stash: index frame failed", "folder", folder, "file", frame.Filename, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"filename": frame.Filename})
}

// storeFrame writes data as <unix nanos>.jpeg in the folder, bumping the
// timestamp until the name is free.
func (s *Server) storeFrame(folder string, data []byte) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := path.Join(FramesDir, folder)
	if err := hackpadfs.MkdirAll(s.fs, dir, 0o755); err != nil {
		return Frame{}, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	at := s.now()
	for {
		name := fmt.Sprintf("%d.jpeg", at.UnixNano())
		p := path.Join(dir, name)
		_, err := hackpadfs.Stat(s.fs, p)
		if err == nil {
			at = at.Add(time.Nanosecond)
			continue
		}
		if !errors.Is(err, hackpadfs.ErrNotExist) {
			return Frame{}, fmt.Errorf("stat %s: %w", p, err)
		}
		if err := hackpadfs.WriteFullFile(s.fs, p, data, 0o644); err != nil {
			return Frame{}, fmt.Errorf("write %s: %w", p, err)
		}
		return Frame{Folder: folder, Filename: name, Size: int64(len(data)), CreatedAt: at}, nil
	}
}

func (s *Server) handleZip(w http.ResponseWriter, r *http.Request) {
	folder, ok := cleanName(chi.URLParam(r, "folder"))
	if !ok {
		writeMessage(w, http.StatusNotFound, "Folder not found")
		return
	}
	names, err := s.listFiles(path.Join(FramesDir, folder))
	if errors.Is(err, hackpadfs.ErrNotExist) {
		writeMessage(w, http.StatusNotFound, "Folder not found")
		return
	}
	if err != nil {
		s.logger.Error("stash: list folder failed", "folder", folder, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Could not read folder")
		return
	}

	data, err := s.packageFolder(folder, names)
	if err != nil {
		s.logger.Error("stash: package folder failed", "folder", folder, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Could not package folder")
		return
	}
	if err := s.index.MarkPackaged(r.Context(), folder, len(names)); err != nil {
		s.logger.Warn("stash: mark packaged failed", "folder", folder, "error", err)
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", contentDisposition(folder+".zip"))
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
	s.logger.Info("stash: archive served", "folder", folder, "frames", len(names), "bytes", len(data))
}

type sessionSummary struct {
	Folder   string `json:"folder"`
	Frames   int    `json:"frames"`
	Bytes    int64  `json:"bytes"`
	Packaged bool   `json:"packaged"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	stats, err := s.index.Folders(r.Context())
	if err != nil {
		s.logger.Error("stash: list sessions failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, "Could not list sessions")
		return
	}
	out := make([]sessionSummary, 0, len(stats))
	for _, st := range stats {
		out = append(out, sessionSummary(st))
	}
	writeJSON(w, http.StatusOK, out)
}

type frameSummary struct {
	Filename  string    `json:"filename"`
	Bytes     int64     `json:"bytes"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	folder, ok := cleanName(chi.URLParam(r, "folder"))
	if !ok {
		writeMessage(w, http.StatusNotFound, "Folder not found")
		return
	}
	frames, err := s.index.Frames(r.Context(), folder)
	if err != nil {
		s.logger.Error("stash: list frames failed", "folder", folder, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Could not list frames")
		return
	}
	if len(frames) == 0 {
		writeMessage(w, http.StatusNotFound, "Folder not found")
		return
	}
	out := make([]frameSummary, 0, len(frames))
	for _, f := range frames {
		out = append(out, frameSummary{Filename: f.Filename, Bytes: f.Size, CreatedAt: f.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	names, err := s.listFiles(ModelsDir)
	if err != nil && !errors.Is(err, hackpadfs.ErrNotExist) {
		s.logger.Error("stash: list models failed", "error", err)
		writeJSON(w, http.StatusOK, "ERROR")
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	s.serveAsset(w, chi.URLParam(r, "name"), collector.DefaultModel, s.defaultModel, ModelsDir, "Model not found")
}

func (s *Server) handleBackground(w http.ResponseWriter, r *http.Request) {
	s.serveAsset(w, chi.URLParam(r, "name"), collector.DefaultBackground, s.defaultBackground, BackgroundsDir, "Background not found")
}

func (s *Server) serveAsset(w http.ResponseWriter, name, defaultName, defaultPath, dir, missing string) {
	var p string
	if name == defaultName {
		p = defaultPath
	} else if clean, ok := cleanName(name); ok {
		p = path.Join(dir, clean)
	}
	if p == "" {
		writeMessage(w, http.StatusNotFound, missing)
		return
	}

	data, err := hackpadfs.ReadFile(s.fs, p)
	if errors.Is(err, hackpadfs.ErrNotExist) || errors.Is(err, hackpadfs.ErrIsDir) {
		writeMessage(w, http.StatusNotFound, missing)
		return
	}
	if err != nil {
		s.logger.Error("stash: read asset failed", "path", p, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Could not read file")
		return
	}
	w.Header().Set("Content-Type", contentType(p))
	w.Header().Set("Content-Disposition", contentDisposition(path.Base(p)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleRandomBackground(w http.ResponseWriter, r *http.Request) {
	names, err := s.listFiles(BackgroundsDir)
	if err != nil || len(names) == 0 {
		if err != nil && !errors.Is(err, hackpadfs.ErrNotExist) {
			s.logger.Error("stash: list backgrounds failed", "error", err)
		}
		writeJSON(w, http.StatusOK, "ERROR")
		return
	}
	s.mu.Lock()
	name := names[s.rng.IntN(len(names))]
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, name)
}

// listFiles returns the regular file names of dir, sorted.
func (s *Server) listFiles(dir string) ([]string, error) {
	entries, err := hackpadfs.ReadDir(s.fs, dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// cleanName accepts a single path element.
func cleanName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", false
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return "", false
		}
	}
	return name, true
}

func contentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".glb":
		return "model/gltf-binary"
	case ".gltf":
		return "model/gltf+json"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".zip":
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"message": msg})
}
