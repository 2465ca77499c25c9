package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v3"

	"pagerouter/internal/metrics"
	"pagerouter/internal/middleware"
	"pagerouter/internal/visitlog"
)

// VisitHandler records visitor pings in the visit log.
type VisitHandler struct {
	log *visitlog.Logger
}

// NewVisitHandler creates a new visit handler.
func NewVisitHandler(log *visitlog.Logger) *VisitHandler {
	return &VisitHandler{log: log}
}

// Record handles any method on /ipc. It always answers 204; logging
// failures are never surfaced to the visitor.
func (h *VisitHandler) Record(c fiber.Ctx) error {
	var body []byte
	switch c.Method() {
	case fiber.MethodPost, fiber.MethodPut, fiber.MethodPatch:
		body = c.Body()
	}

	rec := h.log.NewRecord(visitlog.Record{
		IP:        middleware.ClientIP(c),
		Host:      c.Host(),
		Path:      c.OriginalURL(),
		UA:        c.Get(fiber.HeaderUserAgent),
		Ref:       c.Get(fiber.HeaderReferer),
		CFCountry: c.Get("CF-IPCountry"),
		CFRegion:  c.Get("CF-Region"),
	}, body)

	logged, err := h.log.Log(rec)
	if err != nil {
		slog.Debug("visit log write failed", "error", err)
	}
	metrics.RecordVisit(logged)

	return c.SendStatus(fiber.StatusNoContent)
}
