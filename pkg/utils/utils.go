package utils

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"image"
	"io"
	"math"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/oklog/ulid/v2"
)

var ErrEmptyImage = errors.New("empty image payload")

type IUtils interface {
	NewULIDFromTimestamp(t time.Time) (string, error)
	EncodeJPEG(img image.Image, quality float64) ([]byte, error)
	ReencodeJPEG(data []byte, quality float64) ([]byte, image.Image, error)
	DecodeImage(data []byte) (image.Image, error)
	EncodeBase64(data []byte) string
}

type utils struct {
	mu      sync.Mutex
	entropy io.Reader
}

func New() IUtils {
	return &utils{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func (u *utils) NewULIDFromTimestamp(t time.Time) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t), u.entropy)
	if err != nil {
		return "", err
	}

	return id.String(), nil
}

// JPEGQuality maps a 0..1 capture quality onto the 1..100 JPEG scale.
// Out of range values fall back to 0.5.
func JPEGQuality(quality float64) int {
	if math.IsNaN(quality) || quality <= 0 || quality > 1 {
		quality = 0.5
	}
	q := int(math.Round(quality * 100))
	if q < 1 {
		q = 1
	}
	return q
}

func (u *utils) EncodeJPEG(img image.Image, quality float64) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(JPEGQuality(quality))); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (u *utils) DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
}

func (u *utils) ReencodeJPEG(data []byte, quality float64) ([]byte, image.Image, error) {
	img, err := u.DecodeImage(data)
	if err != nil {
		return nil, nil, err
	}

	out, err := u.EncodeJPEG(img, quality)
	if err != nil {
		return nil, nil, err
	}

	return out, img, nil
}

func (u *utils) EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
