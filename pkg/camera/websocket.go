package camera

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"PaperDetection/internal/entity"
	"PaperDetection/pkg/utils"
)

// webSocketCamera subscribes to a stream of JPEG frames (binary messages, or
// base64 text messages) and keeps only the latest one.
type webSocketCamera struct {
	url          string
	log          *logrus.Logger
	utils        utils.IUtils
	conn         *websocket.Conn
	latest       []byte
	closed       bool
	mu           sync.Mutex
	dialMu       sync.Mutex
	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func NewWebSocketCamera(url string, log *logrus.Logger, u utils.IUtils) Camera {
	return &webSocketCamera{
		url:          url,
		log:          log,
		utils:        u,
		pingInterval: 30 * time.Second,
		readTimeout:  60 * time.Second,
		writeTimeout: 5 * time.Second,
	}
}

func (c *webSocketCamera) RequestPermission(ctx context.Context) (entity.PermissionState, error) {
	err := c.connect(ctx)
	if err == nil {
		return entity.PermissionGranted, nil
	}

	var handshake *handshakeError
	if errors.As(err, &handshake) && (handshake.status == http.StatusUnauthorized || handshake.status == http.StatusForbidden) {
		c.log.WithFields(logrus.Fields{
			"url":    c.url,
			"status": handshake.status,
		}).Warn("Camera stream refused access")
		return entity.PermissionDenied, nil
	}
	return entity.PermissionDenied, err
}

func (c *webSocketCamera) Capture(ctx context.Context, quality float64) (entity.Frame, error) {
	if err := c.connect(ctx); err != nil {
		return entity.Frame{}, err
	}

	c.mu.Lock()
	raw := c.latest
	c.mu.Unlock()

	if raw == nil {
		return entity.Frame{}, ErrNoFrame
	}

	return encodeFrame(c.utils, raw, quality)
}

func (c *webSocketCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

type handshakeError struct {
	status int
	err    error
}

func (e *handshakeError) Error() string {
	return fmt.Sprintf("camera handshake failed with status %d: %v", e.status, e.err)
}

func (e *handshakeError) Unwrap() error {
	return e.err
}

// connect dials the stream unless a connection is already open. Concurrent
// callers share one dial.
func (c *webSocketCamera) connect(ctx context.Context) error {
	if c.url == "" {
		return fmt.Errorf("%w: CAMERA_URL not configured", ErrCameraUnavailable)
	}

	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	connected, closed := c.conn != nil, c.closed
	c.mu.Unlock()

	if closed {
		return fmt.Errorf("%w: camera closed", ErrCameraUnavailable)
	}
	if connected {
		return nil
	}

	c.log.WithField("url", c.url).Info("Connecting to camera stream")

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, resp, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if resp != nil {
			return &handshakeError{status: resp.StatusCode, err: err}
		}
		return fmt.Errorf("%w: %w", ErrCameraUnavailable, err)
	}

	conn.SetPingHandler(func(appData string) error {
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.writeTimeout))
		if err != nil {
			c.log.Errorf("Error sending pong to camera: %v", err)
		}
		return nil
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("%w: camera closed", ErrCameraUnavailable)
	}
	c.conn = conn
	c.mu.Unlock()

	go c.readFrames(conn)
	go c.keepAlive(conn)

	return nil
}

func (c *webSocketCamera) readFrames(conn *websocket.Conn) {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			c.drop(conn, err)
			return
		}

		messageType, message, err := conn.ReadMessage()
		if err != nil {
			c.drop(conn, err)
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			c.store(message)
		case websocket.TextMessage:
			decoded, err := base64.StdEncoding.DecodeString(string(message))
			if err != nil {
				c.log.Warnf("Discarding non-base64 text frame from camera: %v", err)
				continue
			}
			c.store(decoded)
		}
	}
}

func (c *webSocketCamera) store(frame []byte) {
	c.mu.Lock()
	c.latest = frame
	c.mu.Unlock()
}

func (c *webSocketCamera) keepAlive(conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		current := c.conn
		c.mu.Unlock()

		if current != conn {
			return
		}

		err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(c.writeTimeout))
		if err != nil {
			c.drop(conn, err)
			return
		}
	}
}

// drop forgets conn if it is still the active connection. The next capture
// reconnects on demand.
func (c *webSocketCamera) drop(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != conn {
		return
	}
	if websocket.IsUnexpectedCloseError(cause, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		c.log.Errorf("Camera stream error: %v", cause)
	} else {
		c.log.Info("Camera stream closed")
	}
	c.conn = nil
	conn.Close()
}
