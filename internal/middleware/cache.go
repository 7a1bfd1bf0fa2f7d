package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cache"
)

// ResponseCache keeps successful GET responses of read-only report routes
// for ttl, keyed by path and query string
func ResponseCache(ttl time.Duration) fiber.Handler {
	return cache.New(cache.Config{
		Expiration:   ttl,
		CacheControl: false,
		CacheHeader:  "X-Cache",
		Next: func(c *fiber.Ctx) bool {
			return ttl <= 0 || c.Method() != fiber.MethodGet || c.Query("refresh") == "1"
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return string(GetCurrentRole(c)) + ":" + c.OriginalURL()
		},
	})
}
