package scene

import (
	"image"
	"image/color"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// stamp draws a short caption centered on dst, one line per '\n'.
func stamp(dst *image.RGBA, caption string, fg color.Color) {
	face := basicfont.Face7x13
	lines := strings.Split(caption, "\n")
	lineHeight := face.Metrics().Height.Ceil()

	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(fg),
		Face: face,
	}

	b := dst.Bounds()
	top := b.Min.Y + (b.Dy()-lineHeight*len(lines))/2 + face.Metrics().Ascent.Ceil()

	for i, line := range lines {
		width := drawer.MeasureString(line).Ceil()
		x := b.Min.X + (b.Dx()-width)/2
		y := top + i*lineHeight
		drawer.Dot = fixed.P(x, y)
		drawer.DrawString(line)
	}
}

// contrast returns black or white, whichever reads better over c.
func contrast(c color.RGBA) color.RGBA {
	luma := 0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)
	if luma > 140 {
		return color.RGBA{0, 0, 0, 255}
	}
	return color.RGBA{255, 255, 255, 255}
}
