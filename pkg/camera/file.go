package camera

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/sirupsen/logrus"

	"PaperDetection/internal/entity"
	"PaperDetection/pkg/utils"
)

// fileCamera re-reads an image from disk on every capture. Useful for local
// runs against a detector without camera hardware.
type fileCamera struct {
	path  string
	log   *logrus.Logger
	utils utils.IUtils
}

func NewFileCamera(path string, log *logrus.Logger, u utils.IUtils) Camera {
	return &fileCamera{
		path:  path,
		log:   log,
		utils: u,
	}
}

func (c *fileCamera) RequestPermission(ctx context.Context) (entity.PermissionState, error) {
	f, err := os.Open(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			c.log.WithField("path", c.path).Warn("Camera file is not readable")
			return entity.PermissionDenied, nil
		}
		return entity.PermissionDenied, fmt.Errorf("%w: %w", ErrCameraUnavailable, err)
	}
	_ = f.Close()
	return entity.PermissionGranted, nil
}

func (c *fileCamera) Capture(ctx context.Context, quality float64) (entity.Frame, error) {
	if err := ctx.Err(); err != nil {
		return entity.Frame{}, err
	}

	raw, err := os.ReadFile(c.path)
	if err != nil {
		return entity.Frame{}, fmt.Errorf("%w: %w", ErrCameraUnavailable, err)
	}

	return encodeFrame(c.utils, raw, quality)
}

func (c *fileCamera) Close() error {
	return nil
}
