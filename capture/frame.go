package capture

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"strings"
)

const dataURLPrefix = "data:image/jpeg;base64,"

// EncodeDataURL encodes a frame as a base64 JPEG data URL, the form the
// collaborator expects in input_data.
func EncodeDataURL(img image.Image, quality int) (string, error) {
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("capture: encode frame: %w", err)
	}

	out := make([]byte, len(dataURLPrefix)+base64.StdEncoding.EncodedLen(buf.Len()))
	copy(out, dataURLPrefix)
	base64.StdEncoding.Encode(out[len(dataURLPrefix):], buf.Bytes())
	return string(out), nil
}

// DecodeDataURL reverses EncodeDataURL. Anything up to and including the
// first comma is treated as the data URL header; a bare base64 payload is
// accepted as well.
func DecodeDataURL(s string) ([]byte, error) {
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("capture: decode frame: %w", err)
	}
	return data, nil
}
