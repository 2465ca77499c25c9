package handlers

import (
	"context"

	"github.com/gofiber/fiber/v3"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// ProbeHandler handles Kubernetes health probe endpoints.
type ProbeHandler struct {
	checks map[string]HealthCheck
}

// NewProbeHandler creates a new probe handler. checks maps dependency names
// (database, redis) to their health checks; optional dependencies that are
// not configured are simply left out.
func NewProbeHandler(checks map[string]HealthCheck) *ProbeHandler {
	return &ProbeHandler{checks: checks}
}

// Liveness handles the /healthz endpoint for Kubernetes liveness probes.
// Returns 200 OK if the application is running.
func (h *ProbeHandler) Liveness(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
	})
}

// Readiness handles the /readyz endpoint for Kubernetes readiness probes.
// Returns 200 OK if every configured dependency is reachable.
func (h *ProbeHandler) Readiness(c fiber.Ctx) error {
	for name, check := range h.checks {
		if err := check(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "error",
				"error":  name + " unavailable",
			})
		}
	}

	return c.JSON(fiber.Map{
		"status": "ok",
	})
}
