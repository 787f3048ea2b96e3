package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyHeader      = "Idempotency-Key"
	idempotencyReplayedHeader = "Idempotency-Replayed"
	idempotencyPrefix         = "idempotency:v1:"
	inProgressMarker          = "__in_progress__"
	maxIdempotencyKeyLen      = 255
	replayStoreTimeout        = 2 * time.Second
)

var errInFlight = errors.New("idempotency: request in flight")

// replay is the part of a response a retry gets back.
type replay struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
}

// replayStore keeps one entry per (method, path, key): the in-progress marker
// while the first request runs, then the finished replay until ttl expires.
type replayStore struct {
	cache  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// Redis calls run on a detached context so a client hanging up mid-request
// cannot leave a reservation behind.
func (s replayStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), replayStoreTimeout)
}

// lookup returns the stored replay, nil when the key is unused, or
// errInFlight while another request holds it.
func (s replayStore) lookup(key string) (*replay, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	raw, err := s.cache.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, err
	case string(raw) == inProgressMarker:
		return nil, errInFlight
	}

	var r replay
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s replayStore) reserve(key string) error {
	ctx, cancel := s.ctx()
	defer cancel()

	ok, err := s.cache.SetNX(ctx, key, inProgressMarker, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return errInFlight
	}
	return nil
}

func (s replayStore) release(key string) {
	ctx, cancel := s.ctx()
	defer cancel()

	if err := s.cache.Del(ctx, key).Err(); err != nil {
		s.logger.Warn("idempotency key release failed", slog.String("key", key), slog.Any("error", err))
	}
}

func (s replayStore) save(key string, r replay) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	ctx, cancel := s.ctx()
	defer cancel()
	return s.cache.Set(ctx, key, payload, s.ttl).Err()
}

// Idempotency makes unsafe requests replayable. The first completed response
// for an Idempotency-Key on a route is stored in Redis and returned for every
// retry, so a retried transfer never moves money twice. Server failures
// release the key so the client may retry; rejections are replayed like
// successes.
func Idempotency(cache *redis.Client, ttl time.Duration, logger *slog.Logger) fiber.Handler {
	store := replayStore{cache: cache, ttl: ttl, logger: logger}

	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		header := c.Get(idempotencyKeyHeader)
		switch {
		case header == "":
			return fiber.NewError(fiber.StatusBadRequest, "missing Idempotency-Key header")
		case len(header) > maxIdempotencyKeyLen:
			return fiber.NewError(fiber.StatusBadRequest, "Idempotency-Key header too long")
		}
		key := idempotencyPrefix + c.Method() + ":" + c.Path() + ":" + header

		prev, err := store.lookup(key)
		if err == nil && prev == nil {
			err = store.reserve(key)
		}
		switch {
		case errors.Is(err, errInFlight):
			return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
		case err != nil:
			logger.Error("idempotency store failed", slog.String("key", header), slog.Any("error", err))
			return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency store unavailable")
		case prev != nil:
			if prev.ContentType != "" {
				c.Set(fiber.HeaderContentType, prev.ContentType)
			}
			c.Set(idempotencyReplayedHeader, "true")
			return c.Status(prev.Status).Send(prev.Body)
		}

		if err := c.Next(); err != nil {
			// fiber.Error rejections are answered by the error handler after
			// this returns, so they are not stored and the key is freed.
			store.release(key)
			return err
		}

		resp := c.Response()
		if resp.StatusCode() >= fiber.StatusInternalServerError {
			store.release(key)
			return nil
		}

		done := replay{
			Status:      resp.StatusCode(),
			ContentType: string(resp.Header.ContentType()),
			Body:        append([]byte(nil), resp.Body()...),
		}
		if err := store.save(key, done); err != nil {
			logger.Error("idempotent response not persisted", slog.String("key", header), slog.Any("error", err))
			store.release(key)
		}
		return nil
	}
}
