// Package overlay maps detector-space boxes onto screen-space outlines and
// paints them on captured stills.
package overlay

import (
	"math"

	"PaperDetection/internal/entity"
)

// DefaultModelInput is the square input resolution of the paper detector.
var DefaultModelInput = entity.Size{Width: 640, Height: 640}

type Scale struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NewScale returns screen/model on each axis. A degenerate model size maps
// to a scale of 1 so boxes are drawn unscaled instead of vanishing.
func NewScale(screen, model entity.Size) Scale {
	s := Scale{X: 1, Y: 1}
	if model.Width > 0 {
		s.X = screen.Width / model.Width
	}
	if model.Height > 0 {
		s.Y = screen.Height / model.Height
	}
	return s
}

type Outline struct {
	Left   float64  `json:"left"`
	Top    float64  `json:"top"`
	Width  float64  `json:"width"`
	Height float64  `json:"height"`
	Score  *float64 `json:"score,omitempty"`
}

// Project applies the scale to a single box without any clean-up.
func Project(b entity.BoundingBox, s Scale) Outline {
	return Outline{
		Left:   b.XMin * s.X,
		Top:    b.YMin * s.Y,
		Width:  (b.XMax - b.XMin) * s.X,
		Height: (b.YMax - b.YMin) * s.Y,
		Score:  b.Score,
	}
}

// Render produces one outline per box. Inverted boxes are normalized,
// outlines are clamped to bounds, and boxes lying entirely off screen or
// carrying non-finite coordinates are dropped. A zero bounds disables
// clamping.
func Render(boxes entity.BoxList, s Scale, bounds entity.Size) []Outline {
	out := make([]Outline, 0, len(boxes))
	for _, b := range boxes {
		if !finite(b) {
			continue
		}
		o := Project(b.Normalized(), s)
		if bounds.Width > 0 && bounds.Height > 0 {
			var ok bool
			if o, ok = clamp(o, bounds); !ok {
				continue
			}
		}
		out = append(out, o)
	}
	return out
}

func clamp(o Outline, bounds entity.Size) (Outline, bool) {
	left := math.Max(o.Left, 0)
	top := math.Max(o.Top, 0)
	right := math.Min(o.Left+o.Width, bounds.Width)
	bottom := math.Min(o.Top+o.Height, bounds.Height)

	if right < left || bottom < top {
		return Outline{}, false
	}

	o.Left, o.Top = left, top
	o.Width, o.Height = right-left, bottom-top
	return o, true
}

func finite(b entity.BoundingBox) bool {
	for _, v := range [...]float64{b.XMin, b.YMin, b.XMax, b.YMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
