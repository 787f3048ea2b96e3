package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const transferRateLimitPrefix = "rl:transfer:"

// TransferRateLimit caps transfers per caller and source wallet per minute
// using Redis counters. The caller is the authenticated actor, or the client
// IP for system-initiated requests, so nobody can spend another caller's
// budget by naming their wallet. Must run after ActorAuth.
func TransferRateLimit(cache *redis.Client, maxPerMin int, logger *slog.Logger) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 60
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next() // no-op without Redis
		}
		key := transferRateLimitKey(c)

		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			logger.Warn("transfer rate limit unavailable", slog.Any("error", err))
			return c.Next() // fail-open on cache errors
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many transfers from this wallet, try again later")
		}
		return c.Next()
	}
}

func transferRateLimitKey(c *fiber.Ctx) string {
	caller := "ip:" + c.IP()
	if actor := Actor(c); actor != nil {
		caller = "actor:" + actor.String()
	}

	var req struct {
		SourceWalletID string `json:"source_wallet_id"`
	}
	_ = c.BodyParser(&req)
	if source := strings.TrimSpace(req.SourceWalletID); source != "" {
		return transferRateLimitPrefix + caller + ":wallet:" + source
	}
	return transferRateLimitPrefix + caller
}
