package camera

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"PaperDetection/internal/entity"
	"PaperDetection/pkg/utils"
)

const defaultSnapshotTimeout = 5 * time.Second

// snapshotCamera polls an IP camera that serves a single JPEG per GET.
type snapshotCamera struct {
	url     string
	timeout time.Duration
	log     *logrus.Logger
	utils   utils.IUtils
}

func NewSnapshotCamera(url string, timeout time.Duration, log *logrus.Logger, u utils.IUtils) Camera {
	if timeout <= 0 {
		timeout = defaultSnapshotTimeout
	}
	return &snapshotCamera{
		url:     url,
		timeout: timeout,
		log:     log,
		utils:   u,
	}
}

func (c *snapshotCamera) RequestPermission(ctx context.Context) (entity.PermissionState, error) {
	code, _, err := c.fetch(ctx)
	if err != nil {
		return entity.PermissionDenied, err
	}

	switch {
	case code == fiber.StatusUnauthorized || code == fiber.StatusForbidden:
		c.log.WithFields(logrus.Fields{
			"url":    c.url,
			"status": code,
		}).Warn("Camera refused access")
		return entity.PermissionDenied, nil
	case code >= fiber.StatusOK && code < fiber.StatusMultipleChoices:
		return entity.PermissionGranted, nil
	default:
		return entity.PermissionDenied, fmt.Errorf("%w: status %d", ErrCameraUnavailable, code)
	}
}

func (c *snapshotCamera) Capture(ctx context.Context, quality float64) (entity.Frame, error) {
	code, body, err := c.fetch(ctx)
	if err != nil {
		return entity.Frame{}, err
	}
	if code < fiber.StatusOK || code >= fiber.StatusMultipleChoices {
		return entity.Frame{}, fmt.Errorf("%w: status %d", ErrCameraUnavailable, code)
	}

	return encodeFrame(c.utils, body, quality)
}

func (c *snapshotCamera) Close() error {
	return nil
}

func (c *snapshotCamera) fetch(ctx context.Context) (int, []byte, error) {
	if c.url == "" {
		return 0, nil, fmt.Errorf("%w: CAMERA_URL not configured", ErrCameraUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	agent := fiber.Get(c.url)
	agent.Timeout(timeout)

	done := make(chan fetchResult, 1)
	go func() {
		code, body, errs := agent.Bytes()
		done <- fetchResult{code: code, body: body, errs: errs}
	}()

	select {
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case res := <-done:
		if len(res.errs) > 0 {
			return 0, nil, fmt.Errorf("%w: %w", ErrCameraUnavailable, errors.Join(res.errs...))
		}
		return res.code, res.body, nil
	}
}

type fetchResult struct {
	code int
	body []byte
	errs []error
}
