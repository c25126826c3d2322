package camera

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"PaperDetection/internal/entity"
	"PaperDetection/pkg/utils"
)

const (
	SourceSnapshot  = "snapshot"
	SourceWebSocket = "websocket"
	SourceFile      = "file"
)

var (
	ErrNoFrame           = errors.New("camera has not produced a frame yet")
	ErrCameraUnavailable = errors.New("camera unavailable")
	ErrUnknownSource     = errors.New("unknown camera source")
)

// Camera is the hardware seam of a screen: it answers the permission
// question once and hands out stills on demand.
type Camera interface {
	RequestPermission(ctx context.Context) (entity.PermissionState, error)
	Capture(ctx context.Context, quality float64) (entity.Frame, error)
	Close() error
}

// New builds the camera selected by CAMERA_SOURCE.
func New(log *logrus.Logger, u utils.IUtils) (Camera, error) {
	source := os.Getenv("CAMERA_SOURCE")
	if source == "" {
		source = SourceSnapshot
	}

	switch source {
	case SourceSnapshot:
		return NewSnapshotCamera(os.Getenv("CAMERA_URL"), timeoutFromEnv(log), log, u), nil
	case SourceWebSocket:
		return NewWebSocketCamera(os.Getenv("CAMERA_URL"), log, u), nil
	case SourceFile:
		return NewFileCamera(os.Getenv("CAMERA_PATH"), log, u), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
}

func timeoutFromEnv(log *logrus.Logger) time.Duration {
	raw := os.Getenv("CAMERA_TIMEOUT")
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Warnf("invalid CAMERA_TIMEOUT %q, using default", raw)
		return 0
	}
	return d
}

func encodeFrame(u utils.IUtils, raw []byte, quality float64) (entity.Frame, error) {
	payload, img, err := u.ReencodeJPEG(raw, quality)
	if err != nil {
		return entity.Frame{}, fmt.Errorf("encode frame: %w", err)
	}

	now := time.Now()
	id, err := u.NewULIDFromTimestamp(now)
	if err != nil {
		return entity.Frame{}, fmt.Errorf("frame id: %w", err)
	}

	bounds := img.Bounds()
	return entity.Frame{
		ID:         id,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		CapturedAt: now,
		Payload:    payload,
		Base64:     u.EncodeBase64(payload),
	}, nil
}
