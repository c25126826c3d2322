package middleware

import (
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contextPkg "PaperDetection/pkg/context"
	"PaperDetection/pkg/log"
)

func TestMain(m *testing.M) {
	// Keep the shared logger off disk and quiet; hooks still see every entry.
	os.Setenv("APP_ENV", "test")
	os.Setenv("LOG_LEVEL", "debug")
	log.NewLogger().SetOutput(io.Discard)
	os.Exit(m.Run())
}

func TestLoggingMiddleware(t *testing.T) {
	hook := logtest.NewLocal(log.NewLogger())
	mw := New(log.NewTestLogger())

	app := fiber.New()
	app.Use(mw.NewRequestIDMiddleware(), mw.NewLoggingMiddleware())
	app.Get("/ok", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Get("/missing", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNotFound) })
	app.Get("/boom", func(c *fiber.Ctx) error { return errors.New("boom") })

	tests := []struct {
		path   string
		status int
		level  logrus.Level
	}{
		{path: "/ok", status: fiber.StatusOK, level: logrus.InfoLevel},
		{path: "/missing", status: fiber.StatusNotFound, level: logrus.WarnLevel},
		{path: "/boom", status: fiber.StatusInternalServerError, level: logrus.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			hook.Reset()
			resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, tt.path, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			entry := hook.LastEntry()
			require.NotNil(t, entry)
			assert.Equal(t, tt.level, entry.Level)
			assert.Equal(t, tt.status, entry.Data["status"])
			assert.Equal(t, tt.path, entry.Data["path"])
			assert.Equal(t, resp.Header.Get(RequestIDKey), entry.Data["request_id"])
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	mw := New(log.NewTestLogger())

	app := fiber.New()
	app.Use(mw.NewRequestIDMiddleware())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(mw.GetRequestID(c) + "|" + contextPkg.GetRequestID(c.UserContext()))
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
	require.NoError(t, err)
	generated := resp.Header.Get(RequestIDKey)
	assert.Len(t, generated, 26, "ULID")

	req := httptest.NewRequest(fiber.MethodGet, "/", nil)
	req.Header.Set(RequestIDKey, "client-id")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "client-id", resp.Header.Get(RequestIDKey))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "client-id|client-id", string(body))
}

func TestRateLimiter(t *testing.T) {
	m := &middleware{
		rateLimitter: newRateLimiter(0, 2),
		log:          log.NewTestLogger(),
	}

	app := fiber.New()
	app.Get("/", m.NewRateLimiter, func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
}

func TestTokenMiddleware_DisabledWithoutSecret(t *testing.T) {
	t.Setenv(AccessTokenSecret, "")
	mw := New(log.NewTestLogger())

	app := fiber.New()
	app.Post("/", mw.NewTokenMiddleware, func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}
