package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContentDisposition(t *testing.T) {
	cases := []struct {
		name  string
		value string
		want  string
	}{
		{"quoted", `attachment; filename="session123.zip"`, "session123.zip"},
		{"utf8 raw", `attachment; filename=utf-8''sessão.zip`, "sessão.zip"},
		{"utf8 escaped", `attachment; filename=utf-8''sess%C3%A3o.zip`, "sessão.zip"},
		{"utf8 upper", `attachment; filename=UTF-8''a%20b.zip`, "a b.zip"},
		{"bare", `attachment; filename=frames.zip`, "frames.zip"},
		{"extended wins", `attachment; filename="fallback.zip"; filename*=utf-8''sess%C3%A3o.zip`, "sessão.zip"},
		{"no disposition type", `filename="x.zip"`, "x.zip"},
		{"extra spaces", `attachment ;  filename = "y.zip" `, "y.zip"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseContentDisposition(tc.value)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseContentDisposition_Errors(t *testing.T) {
	_, err := ParseContentDisposition("attachment")
	assert.ErrorIs(t, err, ErrNoFilename)

	_, err = ParseContentDisposition("")
	assert.ErrorIs(t, err, ErrNoFilename)

	_, err = ParseContentDisposition(`attachment; filename=""`)
	assert.ErrorIs(t, err, ErrNoFilename)

	_, err = ParseContentDisposition(`attachment; filename=utf-8''bad%zz.zip`)
	assert.Error(t, err)
}
