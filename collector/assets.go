package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
)

// errorSentinel is what the collaborator answers on listing endpoints when
// there is nothing to list.
const errorSentinel = "ERROR"

// Models lists uploaded model names.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	resp, err := c.get(ctx, "/models")
	if err != nil {
		return nil, fmt.Errorf("collector: models: %w", err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return nil, fmt.Errorf("collector: models: %w", err)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("collector: models: decode: %w", err)
	}

	var names []string
	if err := json.Unmarshal(raw, &names); err == nil {
		return names, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s == errorSentinel {
		return nil, nil
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err == nil {
		if msg, ok := rejection(body); ok {
			return nil, fmt.Errorf("collector: models: %w: %s", ErrRejected, msg)
		}
	}
	return nil, fmt.Errorf("collector: models: unexpected body %s", raw)
}

// Model downloads a model by name; DefaultModel selects the bundled one.
func (c *Client) Model(ctx context.Context, name string) ([]byte, error) {
	return c.file(ctx, "/models/", name)
}

// Background downloads a background by name; DefaultBackground selects the
// bundled environment map.
func (c *Client) Background(ctx context.Context, name string) ([]byte, error) {
	return c.file(ctx, "/backgrounds/", name)
}

func (c *Client) file(ctx context.Context, prefix, name string) ([]byte, error) {
	resp, err := c.get(ctx, prefix+url.PathEscape(name))
	if err != nil {
		return nil, fmt.Errorf("collector: fetch %s: %w", name, err)
	}
	defer resp.Body.Close()

	if err := payloadError(resp); err != nil {
		return nil, fmt.Errorf("collector: fetch %s: %w", name, err)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("collector: fetch %s: %w", name, err)
	}
	return data, nil
}

// RandomBackground asks the collaborator for the name of a random uploaded
// background. It returns ErrNotFound when none are available.
func (c *Client) RandomBackground(ctx context.Context) (string, error) {
	resp, err := c.get(ctx, "/randombg")
	if err != nil {
		return "", fmt.Errorf("collector: randombg: %w", err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return "", fmt.Errorf("collector: randombg: %w", err)
	}

	var name string
	if err := json.NewDecoder(resp.Body).Decode(&name); err != nil {
		return "", fmt.Errorf("collector: randombg: decode: %w", err)
	}
	if name == "" || name == errorSentinel {
		return "", fmt.Errorf("collector: randombg: %w", ErrNotFound)
	}
	return name, nil
}

// UploadAsset sends a model, background or zip of backgrounds as the "file"
// field of a multipart form. The collaborator answers success with a
// 303 redirect, which is not followed.
func (c *Client) UploadAsset(ctx context.Context, filename string, r io.Reader) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("collector: upload asset: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("collector: upload asset: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("collector: upload asset: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/uploader/", &buf)
	if err != nil {
		return fmt.Errorf("collector: upload asset: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	hc := *c.http
	hc.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("collector: upload asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusSeeOther {
		c.logger.Info("collector: asset uploaded", "filename", filename)
		return nil
	}
	if err := statusError(resp); err != nil {
		return fmt.Errorf("collector: upload asset: %w", err)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("collector: upload asset: decode: %w", err)
	}
	if msg, rejected := rejection(body); rejected {
		return fmt.Errorf("collector: upload asset: %w: %s", ErrRejected, msg)
	}
	c.logger.Info("collector: asset uploaded", "filename", filename)
	return nil
}
