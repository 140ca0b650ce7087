// Package capture implements the capture session: a state machine that turns
// animation ticks into uploaded frames and, once enough frames have been
// acknowledged, retrieves the packaged archive and saves it locally.
//
// The session is ticked from a single goroutine. Uploads and the finalize
// step run on their own goroutines and report back through completion
// handlers that take the session mutex, so the frame counter only ever
// changes in a completion handler, never in Tick.
package capture

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/turntable/collector"
	"github.com/teranos/turntable/params"
	"github.com/teranos/turntable/trip"
)

// State of a capture session.
type State int

const (
	Idle State = iota
	Capturing
	Finalizing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Finalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Snapshotter produces a still of the current canvas.
type Snapshotter interface {
	Snapshot() (image.Image, error)
}

// Uploader sends one encoded frame under a session id.
type Uploader interface {
	UploadFrame(ctx context.Context, sessionID, dataURL string) error
}

// Archiver retrieves the packaged frames of a session.
type Archiver interface {
	FetchArchive(ctx context.Context, sessionID string) (*collector.Archive, error)
}

// Saver stores a retrieved archive and returns where it went.
type Saver interface {
	Save(name string, data []byte) (string, error)
}

// Controls is the part of the control panel a session locks while it runs.
// Its methods are called with the session lock held and must not call back
// into the Session.
type Controls interface {
	DisableCaptureControls()
	EnableCaptureControls()
}

// Config tunes a Session.
type Config struct {
	// MaxInFlight caps concurrent uploads; 0 means unbounded.
	MaxInFlight int
	// JPEGQuality is the frame encoding quality, 1..100.
	JPEGQuality int
	// UploadTimeout bounds one frame upload; 0 means no timeout.
	UploadTimeout time.Duration
	// FinalizeTimeout bounds archive retrieval; 0 means no timeout.
	FinalizeTimeout time.Duration
}

// DefaultConfig returns the session defaults.
func DefaultConfig() Config {
	return Config{
		MaxInFlight:     8,
		JPEGQuality:     90,
		UploadTimeout:   30 * time.Second,
		FinalizeTimeout: 2 * time.Minute,
	}
}

// Deps are the collaborators a session drives.
type Deps struct {
	Store    *params.Store
	Scene    Snapshotter
	Uploader Uploader
	Archiver Archiver
	Saver    Saver
	Controls Controls
}

// Status is a point-in-time view of a session.
type Status struct {
	State     State
	SessionID string
	Uploaded  uint
	InFlight  int
	Issued    uint
	Failed    uint
	Target    uint
	LastSaved string
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithConfig replaces the default Config.
func WithConfig(c Config) Option {
	return func(s *Session) { s.cfg = c }
}

// WithIDFunc replaces the session id generator.
func WithIDFunc(f func() string) Option {
	return func(s *Session) { s.newID = f }
}

// Session is the capture state machine. One Session is owned by one loop.
type Session struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	newID  func() string

	mu         sync.Mutex
	state      State
	id         string
	generation uint64
	uploaded   uint
	inFlight   int
	issued     uint
	failed     uint
	lastSaved  string
	ctx        context.Context
	cancel     context.CancelFunc
	trips      *trip.Handler

	wg sync.WaitGroup
}

// New creates an idle session.
func New(deps Deps, opts ...Option) *Session {
	s := &Session{
		deps:   deps,
		cfg:    DefaultConfig(),
		logger: slog.Default(),
		newID:  uuid.NewString,
		trips:  trip.NewHandler("capture"),
	}
	for _, o := range opts {
		o(s)
	}
	s.id = s.newID()
	return s
}

// Tick runs one session step. It never blocks on the network.
//
//   - Idle with a pending capture request: start a session, then capture.
//   - Capturing: finalize once the acknowledged count reaches the target,
//     otherwise snapshot and issue one upload unless MaxInFlight is reached.
//   - Finalizing: nothing; the finalize goroutine returns the session to Idle.
func (s *Session) Tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	if s.state == Idle {
		if !s.deps.Store.CaptureRequested() {
			s.mu.Unlock()
			return
		}
		s.beginLocked()
	}

	var finalize bool
	var frame *pending
	if s.state == Capturing {
		finalize, frame = s.captureLocked()
	}
	generation := s.generation
	s.mu.Unlock()

	if frame != nil {
		s.wg.Add(1)
		go s.upload(frame)
	}
	if finalize {
		s.wg.Add(1)
		go s.finalize(generation)
	}
}

type pending struct {
	generation uint64
	sessionID  string
	seq        uint
	img        image.Image
	ctx        context.Context
}

func (s *Session) beginLocked() {
	s.generation++
	s.id = s.newID()
	s.uploaded = 0
	s.inFlight = 0
	s.issued = 0
	s.failed = 0
	s.state = Capturing
	s.trips.Reset()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	if s.deps.Controls != nil {
		s.deps.Controls.DisableCaptureControls()
	}

	s.logger.Info("capture: session started",
		"session", s.id, "target", s.deps.Store.TargetFrameCount())
}

func (s *Session) captureLocked() (bool, *pending) {
	target := s.deps.Store.TargetFrameCount()
	if s.uploaded >= target {
		s.state = Finalizing
		s.logger.Info("capture: target reached, finalizing",
			"session", s.id, "uploaded", s.uploaded, "issued", s.issued)
		return true, nil
	}

	if s.cfg.MaxInFlight > 0 && s.inFlight >= s.cfg.MaxInFlight {
		s.logger.Debug("capture: in-flight cap reached, skipping frame",
			"session", s.id, "in_flight", s.inFlight)
		return false, nil
	}

	img, err := s.deps.Scene.Snapshot()
	if err != nil {
		s.failed++
		s.trips.Record(trip.FromError(trip.KindSnapshot, trip.Stumble, err,
			trip.Context{"session": s.id}))
		s.logger.Warn("capture: snapshot failed", "session", s.id, "error", err)
		return false, nil
	}

	s.issued++
	s.inFlight++
	return false, &pending{
		generation: s.generation,
		sessionID:  s.id,
		seq:        s.issued,
		img:        img,
		ctx:        s.ctx,
	}
}

func (s *Session) upload(p *pending) {
	defer s.wg.Done()

	dataURL, err := EncodeDataURL(p.img, s.cfg.JPEGQuality)
	if err != nil {
		s.complete(p, trip.KindEncode, err)
		return
	}

	ctx := p.ctx
	if s.cfg.UploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.UploadTimeout)
		defer cancel()
	}
	s.complete(p, trip.KindUpload, s.deps.Uploader.UploadFrame(ctx, p.sessionID, dataURL))
}

// complete is the upload completion handler. Completions belonging to a
// cancelled or finished session are ignored.
func (s *Session) complete(p *pending, kind string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.generation != s.generation {
		s.logger.Debug("capture: stale upload completion ignored",
			"session", p.sessionID, "frame", p.seq)
		return
	}
	s.inFlight--

	if err != nil {
		s.failed++
		s.trips.Record(trip.FromError(kind, trip.Stumble, err,
			trip.Context{"session": p.sessionID}).WithFrame(int(p.seq)))
		s.logger.Warn("capture: frame lost", "session", p.sessionID, "frame", p.seq, "error", err)
		return
	}
	s.uploaded++
	s.logger.Debug("capture: frame acknowledged",
		"session", p.sessionID, "frame", p.seq, "uploaded", s.uploaded)
}

func (s *Session) finalize(generation uint64) {
	defer s.wg.Done()

	s.mu.Lock()
	id, base := s.id, s.ctx
	s.mu.Unlock()

	saved, err := s.fetchAndSave(base, id)
	if err != nil {
		s.mu.Lock()
		if generation == s.generation {
			s.trips.Record(trip.FromError(trip.KindFinalize, trip.Error, err,
				trip.Context{"session": id}))
		}
		s.mu.Unlock()
		s.logger.Error("capture: finalize failed", "session", id, "error", err)
	}
	s.finish(generation, saved)
}

func (s *Session) fetchAndSave(ctx context.Context, id string) (string, error) {
	if s.cfg.FinalizeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.FinalizeTimeout)
		defer cancel()
	}

	archive, err := s.deps.Archiver.FetchArchive(ctx, id)
	if err != nil {
		return "", err
	}
	path, err := s.deps.Saver.Save(archive.Filename, archive.Data)
	if err != nil {
		return "", fmt.Errorf("capture: save %s: %w", archive.Filename, err)
	}
	s.logger.Info("capture: archive saved", "session", id, "path", path, "bytes", len(archive.Data))
	return path, nil
}

// finish returns the session to Idle whatever the finalize outcome was.
func (s *Session) finish(generation uint64, saved string) {
	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		return
	}
	summary := s.trips.Summary()
	oldID := s.id
	if saved != "" {
		s.lastSaved = saved
	}
	s.resetLocked()
	s.mu.Unlock()

	s.logger.Info("capture: session finished", "session", oldID, "trips", summary)
}

// resetLocked destroys the current session: the generation moves on so late
// completions are ignored, the request is cleared, a fresh id is minted and
// the capture controls are unlocked.
func (s *Session) resetLocked() {
	s.generation++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.deps.Store.ClearCaptureRequest()
	s.state = Idle
	s.id = s.newID()
	s.uploaded = 0
	s.inFlight = 0
	if s.deps.Controls != nil {
		s.deps.Controls.EnableCaptureControls()
	}
}

// Cancel abandons a Capturing session without finalizing. In-flight uploads
// are cancelled and their completions ignored. It reports whether a session
// was cancelled; a Finalizing session runs to completion.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	if s.state != Capturing {
		s.mu.Unlock()
		return false
	}
	oldID, uploaded := s.id, s.uploaded
	s.resetLocked()
	s.mu.Unlock()

	s.logger.Info("capture: session cancelled", "session", oldID, "uploaded", uploaded)
	return true
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:     s.state,
		SessionID: s.id,
		Uploaded:  s.uploaded,
		InFlight:  s.inFlight,
		Issued:    s.issued,
		Failed:    s.failed,
		Target:    s.deps.Store.TargetFrameCount(),
		LastSaved: s.lastSaved,
	}
}

// Trips returns the failures recorded for the current or last session,
// lost frames included.
func (s *Session) Trips() []*trip.Trip {
	return s.trips.All()
}

// Report returns a multi-line report of the current or last session's
// failures.
func (s *Session) Report() string {
	return s.trips.DetailedReport()
}

// Wait blocks until every upload and finalize goroutine has returned.
func (s *Session) Wait() {
	s.wg.Wait()
}
