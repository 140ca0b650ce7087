package stash

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/hack-pad/hackpadfs"

	"github.com/teranos/turntable/capture"
)

// Asset extensions the uploader accepts.
var (
	modelExts      = map[string]bool{".glb": true}
	backgroundExts = map[string]bool{
		".hdr": true, ".hdri": true, ".png": true, ".jpg": true,
		".jpeg": true, ".gif": true, ".bmp": true,
	}
)

func decodeFrame(dataURL string) ([]byte, error) {
	data, err := capture.DecodeDataURL(dataURL)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty frame")
	}
	return data, nil
}

// packageFolder zips the named frames of a session folder, flat, in order.
func (s *Server) packageFolder(folder string, names []string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	dir := path.Join(FramesDir, folder)

	for _, name := range names {
		data, err := hackpadfs.ReadFile(s.fs, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		// frames are already JPEG-compressed
		f, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		if err != nil {
			return nil, fmt.Errorf("zip %s: %w", name, err)
		}
		if _, err := f.Write(data); err != nil {
			return nil, fmt.Errorf("zip %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip close: %w", err)
	}
	return buf.Bytes(), nil
}

// contentDisposition builds an attachment header. Non-ASCII names use the
// RFC 5987 extended form.
func contentDisposition(name string) string {
	ascii := true
	for i := 0; i < len(name); i++ {
		if name[i] >= 0x80 || name[i] == '"' || name[i] == '\\' {
			ascii = false
			break
		}
	}
	if ascii {
		return fmt.Sprintf(`attachment; filename="%s"`, name)
	}
	return "attachment; filename*=utf-8''" + url.PathEscape(name)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Missing file")
		return
	}
	defer file.Close()

	name, ok := cleanName(path.Base(strings.ReplaceAll(header.Filename, `\`, "/")))
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Invalid file name")
		return
	}
	ext := strings.ToLower(path.Ext(name))
	if ext != ".zip" && !modelExts[ext] && !backgroundExts[ext] {
		writeMessage(w, http.StatusBadRequest, "File extension not supported")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Could not read file")
		return
	}

	switch {
	case ext == ".zip":
		n, err := s.unpackBackgrounds(data)
		if err != nil {
			s.logger.Warn("stash: unpack backgrounds failed", "file", name, "error", err)
			writeMessage(w, http.StatusBadRequest, "Invalid zip file")
			return
		}
		s.logger.Info("stash: backgrounds unpacked", "file", name, "count", n)
	case modelExts[ext]:
		err = s.writeAsset(ModelsDir, name, data)
	default:
		err = s.writeAsset(BackgroundsDir, name, data)
	}
	if err != nil {
		s.logger.Error("stash: store asset failed", "file", name, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Could not store file")
		return
	}
	http.Redirect(w, r, "/index.html", http.StatusSeeOther)
}

func (s *Server) writeAsset(dir, name string, data []byte) error {
	if err := hackpadfs.MkdirAll(s.fs, dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	p := path.Join(dir, name)
	if err := hackpadfs.WriteFullFile(s.fs, p, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	s.logger.Info("stash: asset stored", "path", p, "bytes", len(data))
	return nil
}

// unpackBackgrounds extracts the background images of a zip, flattened into
// the backgrounds directory. Other entries are skipped.
func (s *Server) unpackBackgrounds(data []byte) (int, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name, ok := cleanName(path.Base(f.Name))
		if !ok || !backgroundExts[strings.ToLower(path.Ext(name))] {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return n, fmt.Errorf("open %s: %w", f.Name, err)
		}
		body, err := io.ReadAll(io.LimitReader(rc, maxUploadBytes))
		rc.Close()
		if err != nil {
			return n, fmt.Errorf("read %s: %w", f.Name, err)
		}
		if err := s.writeAsset(BackgroundsDir, name, body); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
