package middleware

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallybook/tallybook/internal/logging"
)

func TestTransferRateLimitPerSourceWallet(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	app := fiber.New()
	app.Post("/transfers", TransferRateLimit(cache, 2, logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})

	send := func(source string) int {
		req := httptest.NewRequest(fiber.MethodPost, "/transfers", strings.NewReader(`{"source_wallet_id":"`+source+`"}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusCreated, send("wallet-a"))
	assert.Equal(t, fiber.StatusCreated, send("wallet-a"))
	assert.Equal(t, fiber.StatusTooManyRequests, send("wallet-a"))
	assert.Equal(t, fiber.StatusCreated, send("wallet-b"))

	mr.FastForward(61 * time.Second)
	assert.Equal(t, fiber.StatusCreated, send("wallet-a"))
}

func TestTransferRateLimitIsPerActor(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	mallory, alice := uuid.New(), uuid.New()
	app := fiber.New()
	app.Post("/transfers",
		func(c *fiber.Ctx) error {
			if id, err := uuid.Parse(c.Get("X-Actor")); err == nil {
				c.Locals(ActorLocal, id)
			}
			return c.Next()
		},
		TransferRateLimit(cache, 1, logging.Discard()),
		func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusCreated) },
	)

	send := func(actor uuid.UUID) int {
		req := httptest.NewRequest(fiber.MethodPost, "/transfers", strings.NewReader(`{"source_wallet_id":"alice-wallet"}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		req.Header.Set("X-Actor", actor.String())
		resp, err := app.Test(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	// exhausting the budget while naming alice's wallet leaves hers intact
	assert.Equal(t, fiber.StatusCreated, send(mallory))
	assert.Equal(t, fiber.StatusTooManyRequests, send(mallory))
	assert.Equal(t, fiber.StatusCreated, send(alice))
	assert.True(t, mr.Exists("rl:transfer:actor:"+alice.String()+":wallet:alice-wallet"))
}

func TestTransferRateLimitWithoutRedis(t *testing.T) {
	app := fiber.New()
	app.Post("/transfers", TransferRateLimit(nil, 1, logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})
	for range 3 {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/transfers", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	}
}
