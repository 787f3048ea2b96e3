package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallybook/tallybook/internal/logging"
)

type testApp struct {
	app   *fiber.App
	mr    *miniredis.Miniredis
	calls int
}

func setupTestApp(t *testing.T) *testApp {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	ta := &testApp{app: fiber.New(), mr: mr}
	ta.app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	ta.app.Post("/transfers", func(c *fiber.Ctx) error {
		ta.calls++
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"call": ta.calls})
	})
	ta.app.Post("/unavailable", func(c *fiber.Ctx) error {
		ta.calls++
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "storage unavailable"})
	})
	ta.app.Post("/rejected", func(c *fiber.Ctx) error {
		ta.calls++
		return fiber.NewError(fiber.StatusUnprocessableEntity, "insufficient funds")
	})
	return ta
}

func (ta *testApp) post(t *testing.T, path, key string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	resp, err := ta.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	ta := setupTestApp(t)
	status, _ := ta.post(t, "/transfers", "")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Zero(t, ta.calls)
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	ta := setupTestApp(t)

	status, payload := ta.post(t, "/transfers", "abc123")
	require.Equal(t, fiber.StatusCreated, status)

	status, cached := ta.post(t, "/transfers", "abc123")
	assert.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, payload, cached)
	assert.Equal(t, 1, ta.calls)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(cached), &decoded))

	// A different key runs the handler again.
	status, _ = ta.post(t, "/transfers", "def456")
	assert.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, 2, ta.calls)
}

func TestIdempotencyRejectsInFlightDuplicate(t *testing.T) {
	ta := setupTestApp(t)
	require.NoError(t, ta.mr.Set(idempotencyPrefix+"POST:/transfers:busy", inProgressMarker))

	status, _ := ta.post(t, "/transfers", "busy")
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Zero(t, ta.calls)
}

func TestIdempotencyReleasesKeyOnFailure(t *testing.T) {
	ta := setupTestApp(t)

	status, _ := ta.post(t, "/unavailable", "retry-me")
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	status, _ = ta.post(t, "/unavailable", "retry-me")
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, 2, ta.calls)

	status, _ = ta.post(t, "/rejected", "retry-me")
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	assert.False(t, ta.mr.Exists(idempotencyPrefix+"POST:/rejected:retry-me"))
}

func TestIdempotencyMarksReplays(t *testing.T) {
	ta := setupTestApp(t)

	send := func() *http.Response {
		req := httptest.NewRequest(fiber.MethodPost, "/transfers", strings.NewReader("{}"))
		req.Header.Set(idempotencyKeyHeader, "mark-me")
		resp, err := ta.app.Test(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	first := send()
	assert.Empty(t, first.Header.Get(idempotencyReplayedHeader))

	second := send()
	assert.Equal(t, fiber.StatusCreated, second.StatusCode)
	assert.Equal(t, "true", second.Header.Get(idempotencyReplayedHeader))
	assert.Equal(t, fiber.MIMEApplicationJSON, second.Header.Get(fiber.HeaderContentType))
	assert.Equal(t, 1, ta.calls)
}

func TestIdempotencyRejectsOversizedKey(t *testing.T) {
	ta := setupTestApp(t)
	status, _ := ta.post(t, "/transfers", strings.Repeat("k", maxIdempotencyKeyLen+1))
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Zero(t, ta.calls)
}

func TestIdempotencyStoreOutageIsUnavailable(t *testing.T) {
	ta := setupTestApp(t)
	ta.mr.Close()

	status, _ := ta.post(t, "/transfers", "no-redis")
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Zero(t, ta.calls)
}
