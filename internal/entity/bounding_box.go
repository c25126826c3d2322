package entity

// BoundingBox is expressed in detector-space pixels (the model input resolution).
type BoundingBox struct {
	XMin  float64  `json:"x_min"`
	YMin  float64  `json:"y_min"`
	XMax  float64  `json:"x_max"`
	YMax  float64  `json:"y_max"`
	Score *float64 `json:"score,omitempty"`
}

func (b BoundingBox) Ordered() bool {
	return b.XMin <= b.XMax && b.YMin <= b.YMax
}

// Normalized swaps inverted coordinates so that min <= max on both axes.
func (b BoundingBox) Normalized() BoundingBox {
	if b.XMin > b.XMax {
		b.XMin, b.XMax = b.XMax, b.XMin
	}
	if b.YMin > b.YMax {
		b.YMin, b.YMax = b.YMax, b.YMin
	}
	return b
}

type BoxList []BoundingBox

func (l BoxList) Clone() BoxList {
	if l == nil {
		return nil
	}
	out := make(BoxList, len(l))
	copy(out, l)
	return out
}

// Detection is one accepted detector response tied to the tick that produced it.
type Detection struct {
	Seq     uint64  `json:"seq"`
	FrameID string  `json:"frame_id"`
	Boxes   BoxList `json:"boxes"`
}
