package collector

import (
	"net/url"
	"strings"
)

// ParseContentDisposition extracts the filename from a Content-Disposition
// value. filename* wins over filename. Surrounding quotes are stripped and a
// utf-8'' prefix (either case) marks a percent-encoded value.
//
//	attachment; filename="session123.zip"   -> session123.zip
//	attachment; filename=utf-8''sess%C3%A3o.zip -> sessão.zip
func ParseContentDisposition(value string) (string, error) {
	var plain, extended string
	for _, part := range strings.Split(value, ";") {
		key, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "filename":
			plain = strings.TrimSpace(val)
		case "filename*":
			extended = strings.TrimSpace(val)
		}
	}

	raw := extended
	if raw == "" {
		raw = plain
	}
	if raw == "" {
		return "", ErrNoFilename
	}

	name := unquote(raw)
	if len(name) >= 7 && strings.EqualFold(name[:7], "utf-8''") {
		decoded, err := url.PathUnescape(name[7:])
		if err != nil {
			return "", err
		}
		name = decoded
	}
	name = unquote(name)
	if name == "" {
		return "", ErrNoFilename
	}
	return name, nil
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
		return strings.ReplaceAll(s, `\"`, `"`)
	}
	return s
}
