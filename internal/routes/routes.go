package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/tallybook/tallybook/internal/config"
	"github.com/tallybook/tallybook/internal/ledger"
	"github.com/tallybook/tallybook/internal/logging"
	"github.com/tallybook/tallybook/internal/middleware"
	"github.com/tallybook/tallybook/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg     config.Config
	Logger  *slog.Logger
	Cache   *redis.Client
	Wallets *wallet.Service
	Engine  *ledger.Engine
	// Ping reports whether the ledger storage is reachable.
	Ping func(context.Context) error
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Wallets == nil || d.Engine == nil {
		return fmt.Errorf("wallet service and ledger engine are required")
	}
	if !d.Cfg.IsDevelopment() && d.Cache == nil {
		return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID(d.Logger))
	// Plain text access log: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	protected := api.Group("", middleware.ActorAuth(d.Cfg.JWTSecret))
	RegisterWalletRoutes(protected, wallet.NewHandler(d.Wallets))
	RegisterLedgerRoutes(protected, ledger.NewHandler(d.Engine), transferGuards(d)...)

	return nil
}

// transferGuards returns the middlewares placed in front of POST /transfers.
// Without Redis neither idempotency nor rate limiting is enforced.
func transferGuards(d Deps) []fiber.Handler {
	if d.Cache == nil {
		d.Logger.Warn("redis not configured, transfers run without idempotency or rate limiting")
		return nil
	}
	return []fiber.Handler{
		middleware.TransferRateLimit(d.Cache, d.Cfg.TransferRateLimitPerMinute, d.Logger),
		middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger),
	}
}
