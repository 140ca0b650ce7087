// Package collector talks to the HTTP collaborator that stores captured
// frames, packages them into archives, and serves models and backgrounds.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

var (
	// ErrRejected is returned when the collaborator answers with its
	// {"message": ...} error shape instead of an acknowledgment.
	ErrRejected = errors.New("collector: request rejected")
	// ErrNotFound is returned for missing folders, models and backgrounds.
	ErrNotFound = errors.New("collector: not found")
	// ErrNoFilename is returned when an archive response carries no usable
	// Content-Disposition filename.
	ErrNoFilename = errors.New("collector: no filename in content disposition")
)

// Asset names the collaborator resolves to its bundled defaults.
const (
	DefaultModel      = "DEFAULT_MODEL"
	DefaultBackground = "DEFAULT_BACKGROUND"
)

const maxErrorBody = 512

// Archive is a packaged session as returned by GET /zip/{id}.
type Archive struct {
	Filename string
	Data     []byte
}

// Client is the HTTP collaborator client. Its methods are safe for
// concurrent use; uploads are issued from many goroutines at once.
type Client struct {
	base   string
	http   *http.Client
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the API rooted at baseURL, e.g.
// "http://localhost:8000/api".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   http.DefaultClient,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.base }

type screenRequest struct {
	InputData  string `json:"input_data"`
	FolderName string `json:"folder_name"`
}

// UploadFrame posts one encoded frame under the session folder. It returns
// nil only for a 2xx JSON acknowledgment.
func (c *Client) UploadFrame(ctx context.Context, sessionID, dataURL string) error {
	body, err := json.Marshal(screenRequest{InputData: dataURL, FolderName: sessionID})
	if err != nil {
		return fmt.Errorf("collector: upload: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/screen/", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("collector: upload: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("collector: upload: %w", err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return fmt.Errorf("collector: upload: %w", err)
	}

	var ack map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return fmt.Errorf("collector: upload: decode ack: %w", err)
	}
	if msg, rejected := rejection(ack); rejected {
		return fmt.Errorf("%w: %s", ErrRejected, msg)
	}
	return nil
}

// FetchArchive retrieves the packaged frames of a session.
func (c *Client) FetchArchive(ctx context.Context, sessionID string) (*Archive, error) {
	resp, err := c.get(ctx, "/zip/"+url.PathEscape(sessionID))
	if err != nil {
		return nil, fmt.Errorf("collector: archive: %w", err)
	}
	defer resp.Body.Close()

	if err := payloadError(resp); err != nil {
		return nil, fmt.Errorf("collector: archive %s: %w", sessionID, err)
	}

	name, err := ParseContentDisposition(resp.Header.Get("Content-Disposition"))
	if err != nil {
		return nil, fmt.Errorf("collector: archive %s: %w", sessionID, err)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("collector: archive %s: read: %w", sessionID, err)
	}

	c.logger.Debug("collector: archive fetched", "session", sessionID, "filename", name, "bytes", len(data))
	return &Archive{Filename: name, Data: data}, nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	return c.http.Do(req)
}

// statusError maps non-2xx responses to errors.
func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSpace(string(body)))
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// payloadError is statusError for binary endpoints: a JSON body where a file
// was expected is the collaborator's error shape.
func payloadError(resp *http.Response) error {
	if err := statusError(resp); err != nil {
		return err
	}
	if !isJSON(resp) {
		return nil
	}
	var body map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&body); err != nil {
		return fmt.Errorf("%w: unexpected json body", ErrRejected)
	}
	msg, _ := rejection(body)
	if strings.Contains(strings.ToLower(msg), "not found") {
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	}
	return fmt.Errorf("%w: %s", ErrRejected, msg)
}

// rejection reports whether a decoded body is a bare {"message": ...}.
func rejection(body map[string]any) (string, bool) {
	msg, ok := body["message"]
	if !ok || len(body) != 1 {
		return "", false
	}
	s, _ := msg.(string)
	return s, true
}

func isJSON(resp *http.Response) bool {
	mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}
