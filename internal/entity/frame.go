package entity

import "time"

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Frame is a captured still. Payload holds the JPEG bytes, Base64 the same
// bytes in the encoding the detector expects.
type Frame struct {
	ID         string    `json:"id"`
	Seq        uint64    `json:"seq"`
	URI        string    `json:"uri"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	CapturedAt time.Time `json:"captured_at"`
	Payload    []byte    `json:"-"`
	Base64     string    `json:"-"`
}
