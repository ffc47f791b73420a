package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/Melodex/app/controllers"
	"github.com/ManuelReschke/Melodex/internal/pkg/env"
)

// NewLimiterStorage shares the rate limit counters between instances via
// Redis, using database 2 (the cache uses its own database).
func NewLimiterStorage(cacheClient *goredis.Client) fiber.Storage {
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: env.GetEnvInt("LIMITER_DB", 2),
		Reset:    false,
	})
}

// newLimiter keys requests by profile or client address. Storage may be nil
// for the in-process store.
func newLimiter(storage fiber.Storage) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:          env.GetEnvInt("API_RATE_LIMIT", 120),
		Expiration:   env.GetEnvDuration("API_RATE_WINDOW", time.Minute),
		KeyGenerator: controllers.ClientKey,
		Storage:      storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "too many requests"})
		},
	})
}
