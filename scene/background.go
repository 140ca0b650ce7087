package scene

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"path"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedBackground is returned for background formats the raster
// cannot decode, such as HDR environment maps.
var ErrUnsupportedBackground = errors.New("scene: unsupported background format")

var backgroundExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}

// IsBackgroundName reports whether name looks like a background resource the
// collaborator would serve, including the HDR formats this package cannot show.
func IsBackgroundName(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	return backgroundExtensions[ext] || ext == ".hdr" || ext == ".hdri"
}

// DecodeBackground decodes an image background by its file extension.
func DecodeBackground(name string, data []byte) (image.Image, error) {
	ext := strings.ToLower(path.Ext(name))
	if !backgroundExtensions[ext] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackground, ext)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("scene: decode background %q: %w", name, err)
	}
	return img, nil
}
