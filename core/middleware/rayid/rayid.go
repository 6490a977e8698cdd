package rayid

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	// Header is the request and response header carrying the ray ID.
	Header = "X-Ray-ID"
	// LocalKey is the fiber local holding the ray ID.
	LocalKey = "ray_id"
)

// New returns a middleware that tags every request with a ray ID. An
// incoming X-Ray-ID header is kept so callers can correlate their own logs.
func New() fiber.Handler {
	return func(c *fiber.Ctx) error {
		rid := c.Get(Header)
		if rid == "" || len(rid) > 64 {
			rid = uuid.NewString()
		}
		c.Locals(LocalKey, rid)
		c.Set(Header, rid)
		return c.Next()
	}
}

// FromCtx returns the request's ray ID, or "".
func FromCtx(c *fiber.Ctx) string {
	rid, _ := c.Locals(LocalKey).(string)
	return rid
}
