package overlay

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
)

type Style struct {
	Color     color.Color
	LineWidth float64
}

// DefaultStyle matches the red 2px border used by the mobile client.
var DefaultStyle = Style{
	Color:     color.RGBA{R: 255, A: 255},
	LineWidth: 2,
}

// Draw paints outlines onto a copy of img. Outlines are expected in the
// pixel space of img, whose bounds start at the origin.
func Draw(img image.Image, outlines []Outline, style Style) image.Image {
	dc := gg.NewContextForImage(img)
	dc.SetColor(style.Color)
	dc.SetLineWidth(style.LineWidth)

	for _, o := range outlines {
		dc.DrawRectangle(o.Left, o.Top, o.Width, o.Height)
		dc.Stroke()
	}
	return dc.Image()
}
