package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/tallybook/tallybook/internal/auth"
)

// ActorLocal is the fiber.Ctx local holding the authenticated actor's uuid.UUID.
const ActorLocal = "actor_id"

// ActorAuth validates HS256 bearer tokens and stores the subject under
// ActorLocal. With an empty secret every request is treated as
// system-initiated and no actor is recorded.
func ActorAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return c.Next()
		}
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		actor, err := auth.ParseActorToken(strings.TrimSpace(authz[len("Bearer "):]), secret)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}
		c.Locals(ActorLocal, actor)
		return c.Next()
	}
}

// Actor returns the authenticated actor, or nil for system-initiated requests.
func Actor(c *fiber.Ctx) *uuid.UUID {
	actor, ok := c.Locals(ActorLocal).(uuid.UUID)
	if !ok {
		return nil
	}
	return &actor
}
