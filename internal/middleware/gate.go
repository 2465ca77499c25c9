package middleware

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"pagerouter/internal/config"
	"pagerouter/internal/metrics"
	"pagerouter/internal/models"
	"pagerouter/internal/validation"
)

// SetChecker reports set membership. *redis.Client satisfies it.
type SetChecker interface {
	IsMember(ctx context.Context, key, member string) (bool, error)
}

// denySetTimeout bounds the dynamic deny-list lookup of a request.
const denySetTimeout = 250 * time.Millisecond

// Gate turns away denied visitors before any page logic runs.
type Gate struct {
	deny     map[string]struct{}
	geo      []config.GeoRule
	fallback string
	set      SetChecker
	setKey   string
	logger   *slog.Logger
}

// NewGate creates the access gate. set may be nil when Redis is not configured.
func NewGate(cfg config.GateConfig, set SetChecker) *Gate {
	g := &Gate{
		deny:     make(map[string]struct{}, len(cfg.DenyIPs)),
		fallback: cfg.FallbackURL,
		set:      set,
		setKey:   cfg.RedisSet,
		logger:   slog.Default().With("component", "gate"),
	}
	for _, ip := range cfg.DenyIPs {
		if canon := validation.ParseClientIP(ip); canon != "" {
			g.deny[canon] = struct{}{}
		}
	}
	for _, r := range cfg.Geo {
		g.geo = append(g.geo, config.GeoRule{
			Country: strings.ToUpper(strings.TrimSpace(r.Country)),
			Region:  strings.ToUpper(strings.TrimSpace(r.Region)),
		})
	}
	return g
}

// Handler is the fiber middleware.
func (g *Gate) Handler(c fiber.Ctx) error {
	reason := g.Check(c)
	if reason == "" {
		return c.Next()
	}

	metrics.RecordGateDenial(reason)
	if g.fallback == "" {
		return fiber.ErrForbidden
	}
	return c.Redirect().Status(fiber.StatusFound).To(g.fallback)
}

// Check returns the denial reason for the request, or "" to let it through.
func (g *Gate) Check(c fiber.Ctx) string {
	ip := ClientIP(c)
	if canon := validation.ParseClientIP(ip); canon != "" {
		ip = canon
	}

	if _, ok := g.deny[ip]; ok {
		return models.DenyListed
	}
	if g.inDenySet(c.Context(), ip) {
		return models.DenyDynamic
	}

	country := strings.ToUpper(strings.TrimSpace(c.Get("CF-IPCountry")))
	region := strings.ToUpper(strings.TrimSpace(c.Get("CF-Region")))
	for _, r := range g.geo {
		if r.Country == country && r.Region == region {
			return models.DenyGeo
		}
	}
	return ""
}

// inDenySet fails open: lookup errors let the request through.
func (g *Gate) inDenySet(ctx context.Context, ip string) bool {
	if g.set == nil || g.setKey == "" || ip == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, denySetTimeout)
	defer cancel()

	ok, err := g.set.IsMember(ctx, g.setKey, ip)
	if err != nil {
		g.logger.Warn("deny set lookup failed", "key", g.setKey, "error", err)
		return false
	}
	return ok
}

// ClientIP returns the visitor address: CF-Connecting-IP, then the first
// X-Forwarded-For entry, then X-Real-IP, then the remote address.
func ClientIP(c fiber.Ctx) string {
	if ip := strings.TrimSpace(c.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if xff := c.Get(fiber.HeaderXForwardedFor); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(c.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if ip := c.IP(); ip != "" {
		return ip
	}
	return "0.0.0.0"
}
