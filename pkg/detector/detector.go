package detector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"PaperDetection/internal/entity"
)

const (
	predictPath    = "/predict"
	defaultURL     = "http://127.0.0.1:5000"
	defaultTimeout = 10 * time.Second
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrUnexpectedStatus  = errors.New("detector returned unexpected status")
	ErrMalformedResponse = errors.New("malformed detector response")
	ErrMalformedBox      = errors.New("malformed bounding box")
	ErrEmptyImage        = errors.New("empty image payload")
)

type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("detector returned status %d: %s", e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}

type IDetector interface {
	Detect(ctx context.Context, base64Image string) (entity.BoxList, error)
}

type Config struct {
	Endpoint string
	Timeout  time.Duration
}

type detectorClient struct {
	url     string
	timeout time.Duration
	log     *logrus.Logger
}

func New(log *logrus.Logger) IDetector {
	cfg := Config{
		Endpoint: os.Getenv("DETECTOR_URL"),
	}
	if raw := os.Getenv("DETECTOR_TIMEOUT"); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			log.Warnf("invalid DETECTOR_TIMEOUT %q, using %s", raw, defaultTimeout)
		} else {
			cfg.Timeout = timeout
		}
	}
	return NewClient(cfg, log)
}

func NewClient(cfg Config, log *logrus.Logger) IDetector {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = defaultURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &detectorClient{
		url:     endpoint + predictPath,
		timeout: timeout,
		log:     log,
	}
}

type agentResult struct {
	code int
	body []byte
	errs []error
}

type predictRequest struct {
	Image string `json:"image"`
}

type predictResponse struct {
	Boxes  *[]jsoniter.RawMessage `json:"boxes"`
	Scores []float64              `json:"scores,omitempty"`
}

func (c *detectorClient) Detect(ctx context.Context, base64Image string) (entity.BoxList, error) {
	if base64Image == "" {
		return nil, ErrEmptyImage
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	agent := fiber.Post(c.url)
	agent.JSONEncoder(json.Marshal)
	agent.JSON(predictRequest{Image: base64Image})
	agent.Timeout(timeout)

	c.log.WithFields(logrus.Fields{
		"url":          c.url,
		"payload_size": len(base64Image),
	}).Debug("Sending frame to detector")

	// The agent cannot be cancelled; stop waiting on ctx and let the
	// request run out its own timeout.
	done := make(chan agentResult, 1)
	go func() {
		code, body, errs := agent.Bytes()
		done <- agentResult{code: code, body: body, errs: errs}
	}()

	var res agentResult
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-done:
	}

	code, body := res.code, res.body
	if len(res.errs) > 0 {
		return nil, fmt.Errorf("detector request failed: %w", errors.Join(res.errs...))
	}
	if code < fiber.StatusOK || code >= fiber.StatusMultipleChoices {
		return nil, &StatusError{Code: code, Body: truncate(string(body), 256)}
	}

	boxes, err := ParseResponse(body)
	if err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"boxes": len(boxes),
	}).Debug("Received detector response")

	return boxes, nil
}

// ParseResponse converts a raw /predict body into a BoxList. Every entry of
// "boxes" must be an array of exactly four numbers. Inverted coordinates are
// accepted; ordering is the renderer's concern.
func ParseResponse(body []byte) (entity.BoxList, error) {
	var resp predictResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if resp.Boxes == nil {
		return nil, fmt.Errorf("%w: missing boxes field", ErrMalformedResponse)
	}

	raw := *resp.Boxes
	boxes := make(entity.BoxList, 0, len(raw))
	for i, entry := range raw {
		var coords []float64
		if err := json.Unmarshal(entry, &coords); err != nil {
			return nil, fmt.Errorf("%w at index %d: %v", ErrMalformedBox, i, err)
		}
		if len(coords) != 4 {
			return nil, fmt.Errorf("%w at index %d: want 4 coordinates, got %d", ErrMalformedBox, i, len(coords))
		}

		box := entity.BoundingBox{
			XMin: coords[0],
			YMin: coords[1],
			XMax: coords[2],
			YMax: coords[3],
		}
		if len(resp.Scores) == len(raw) {
			score := resp.Scores[i]
			box.Score = &score
		}
		boxes = append(boxes, box)
	}

	return boxes, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
