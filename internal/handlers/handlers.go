package handlers

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

// VisitorCookie holds the anonymous visitor id that scopes the visitor store
// and the beacon window.
const VisitorCookie = "pr_vid"

// visitorID returns the visitor id of the request, issuing a new one when the
// cookie is missing or malformed.
func visitorID(c fiber.Ctx, secure bool, ttl time.Duration) string {
	if id, err := uuid.Parse(c.Cookies(VisitorCookie)); err == nil {
		return id.String()
	}

	id := uuid.NewString()
	c.Cookie(&fiber.Cookie{
		Name:     VisitorCookie,
		Value:    id,
		Path:     "/",
		Expires:  time.Now().Add(ttl),
		HTTPOnly: true,
		Secure:   secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return id
}

// noStore marks the response as uncacheable; evaluated pages depend on the
// visitor.
func noStore(c fiber.Ctx) {
	c.Set(fiber.HeaderCacheControl, "no-store")
}
