package camera

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PaperDetection/internal/entity"
	"PaperDetection/pkg/log"
	"PaperDetection/pkg/utils"
)

func testImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func assertJPEGFrame(t *testing.T, frame entity.Frame, w, h int) {
	t.Helper()
	assert.NotEmpty(t, frame.ID)
	assert.Equal(t, w, frame.Width)
	assert.Equal(t, h, frame.Height)
	require.True(t, len(frame.Payload) > 2)
	assert.Equal(t, []byte{0xFF, 0xD8}, frame.Payload[:2], "payload should be a JPEG")
	assert.Equal(t, base64.StdEncoding.EncodeToString(frame.Payload), frame.Base64)
	assert.False(t, frame.CapturedAt.IsZero())
}

func TestFileCamera_CaptureReencodesToJPEG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paper.png")
	require.NoError(t, os.WriteFile(path, testImage(t, 16, 12), 0o644))

	cam := NewFileCamera(path, log.NewTestLogger(), utils.New())

	state, err := cam.RequestPermission(context.Background())
	require.NoError(t, err)
	assert.Equal(t, entity.PermissionGranted, state)

	frame, err := cam.Capture(context.Background(), 0.5)
	require.NoError(t, err)
	assertJPEGFrame(t, frame, 16, 12)
}

func TestFileCamera_MissingFileIsDenied(t *testing.T) {
	cam := NewFileCamera(filepath.Join(t.TempDir(), "missing.jpg"), log.NewTestLogger(), utils.New())

	state, err := cam.RequestPermission(context.Background())
	assert.Error(t, err)
	assert.Equal(t, entity.PermissionDenied, state)

	_, err = cam.Capture(context.Background(), 0.5)
	assert.ErrorIs(t, err, ErrCameraUnavailable)
}

func TestSnapshotCamera(t *testing.T) {
	payload := testImage(t, 20, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(payload)
		case "/locked":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	t.Cleanup(srv.Close)

	t.Run("granted", func(t *testing.T) {
		cam := NewSnapshotCamera(srv.URL+"/ok", time.Second, log.NewTestLogger(), utils.New())
		state, err := cam.RequestPermission(context.Background())
		require.NoError(t, err)
		assert.Equal(t, entity.PermissionGranted, state)

		frame, err := cam.Capture(context.Background(), 0.8)
		require.NoError(t, err)
		assertJPEGFrame(t, frame, 20, 10)
	})

	t.Run("unauthorized is denied", func(t *testing.T) {
		cam := NewSnapshotCamera(srv.URL+"/locked", time.Second, log.NewTestLogger(), utils.New())
		state, err := cam.RequestPermission(context.Background())
		require.NoError(t, err)
		assert.Equal(t, entity.PermissionDenied, state)
	})

	t.Run("server error", func(t *testing.T) {
		cam := NewSnapshotCamera(srv.URL+"/broken", time.Second, log.NewTestLogger(), utils.New())
		state, err := cam.RequestPermission(context.Background())
		assert.ErrorIs(t, err, ErrCameraUnavailable)
		assert.Equal(t, entity.PermissionDenied, state)

		_, err = cam.Capture(context.Background(), 0.5)
		assert.ErrorIs(t, err, ErrCameraUnavailable)
	})

	t.Run("not configured", func(t *testing.T) {
		cam := NewSnapshotCamera("", time.Second, log.NewTestLogger(), utils.New())
		_, err := cam.Capture(context.Background(), 0.5)
		assert.ErrorIs(t, err, ErrCameraUnavailable)
	})
}

func TestWebSocketCamera_KeepsLatestFrame(t *testing.T) {
	first := testImage(t, 8, 8)
	second := testImage(t, 24, 16)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.BinaryMessage, first)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(base64.StdEncoding.EncodeToString(second)))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	cam := NewWebSocketCamera("ws"+strings.TrimPrefix(srv.URL, "http"), log.NewTestLogger(), utils.New())
	t.Cleanup(func() { _ = cam.Close() })

	state, err := cam.RequestPermission(context.Background())
	require.NoError(t, err)
	assert.Equal(t, entity.PermissionGranted, state)

	var frame entity.Frame
	require.Eventually(t, func() bool {
		frame, err = cam.Capture(context.Background(), 0.5)
		return err == nil && frame.Width == 24
	}, 2*time.Second, 10*time.Millisecond)
	assertJPEGFrame(t, frame, 24, 16)
}

func TestWebSocketCamera_ForbiddenHandshakeIsDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	cam := NewWebSocketCamera("ws"+strings.TrimPrefix(srv.URL, "http"), log.NewTestLogger(), utils.New())
	state, err := cam.RequestPermission(context.Background())
	require.NoError(t, err)
	assert.Equal(t, entity.PermissionDenied, state)
}

func TestWebSocketCamera_ConcurrentCapturesShareOneDial(t *testing.T) {
	frame := testImage(t, 8, 8)

	var open, dials atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		time.Sleep(100 * time.Millisecond)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		open.Add(1)
		defer func() {
			open.Add(-1)
			conn.Close()
		}()
		_ = conn.WriteMessage(websocket.BinaryMessage, frame)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	cam := NewWebSocketCamera("ws"+strings.TrimPrefix(srv.URL, "http"), log.NewTestLogger(), utils.New())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cam.Capture(context.Background(), 0.5)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), dials.Load())
	require.Eventually(t, func() bool { return open.Load() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, cam.Close())
	require.Eventually(t, func() bool { return open.Load() == 0 }, 2*time.Second, 10*time.Millisecond)

	_, err := cam.Capture(context.Background(), 0.5)
	assert.ErrorIs(t, err, ErrCameraUnavailable)
	assert.Equal(t, int32(1), dials.Load(), "a closed camera does not redial")
}

func TestNew_UnknownSource(t *testing.T) {
	t.Setenv("CAMERA_SOURCE", "carrier-pigeon")
	_, err := New(log.NewTestLogger(), utils.New())
	assert.ErrorIs(t, err, ErrUnknownSource)
}
