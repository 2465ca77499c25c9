package server

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/static"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pagerouter/internal/db"
	"pagerouter/internal/engine"
	"pagerouter/internal/handlers"
	"pagerouter/internal/middleware"
	"pagerouter/internal/persist"
	"pagerouter/internal/redis"
	"pagerouter/internal/visitlog"
)

// Deps are the shared backends routes are wired to. Any of them may be nil.
type Deps struct {
	DB      *db.DB
	Redis   *redis.Client
	Storage persist.Storage
	Visits  *visitlog.Logger
}

// RegisterRoutes registers all application routes.
func (s *Server) RegisterRoutes(deps Deps) error {
	if info, err := os.Stat(s.Cfg.ContentDir); err != nil || !info.IsDir() {
		return fmt.Errorf("content directory %q is not readable", s.Cfg.ContentDir)
	}

	// Probes and metrics
	checks := make(map[string]handlers.HealthCheck)
	if deps.DB != nil {
		checks["database"] = deps.DB.Ping
	}
	if deps.Redis != nil {
		checks["redis"] = deps.Redis.Health
	}
	probeHandler := handlers.NewProbeHandler(checks)
	s.App.Get("/healthz", probeHandler.Liveness)
	s.App.Get("/readyz", probeHandler.Readiness)
	s.App.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Visit logger, callable cross-origin from landing pages
	if deps.Visits != nil {
		visitHandler := handlers.NewVisitHandler(deps.Visits)
		s.App.All("/ipc", s.corsMiddleware(), visitHandler.Record)
	}

	// Access gate in front of every page namespace
	var denySet middleware.SetChecker
	if deps.Redis != nil {
		denySet = deps.Redis
	}
	gateCfg := s.YAML.GateSettings()
	gateHandler := func(c fiber.Ctx) error { return c.Next() }
	if !gateCfg.Disabled {
		gateHandler = middleware.NewGate(gateCfg, denySet).Handler
	}

	s.Pages = handlers.NewPageHandler(handlers.PageOptions{
		ContentDir: s.Cfg.ContentDir,
		Storage:    deps.Storage,
		VisitorTTL: s.Cfg.VisitorTTL,
		Settle:     s.YAML.SettleTime(),
		Secure:     s.Cfg.SecureCookies(),
	})

	seen := make(map[string]string)
	for _, p := range s.YAML.EngineProfiles() {
		compiled := engine.Compile(p)
		root := "/" + compiled.Mapper().Root()
		if other, ok := seen[root]; ok {
			log.Printf("Profile %s: root %s already served by %s, skipping", p.Name, root, other)
			continue
		}
		seen[root] = p.Name

		serve := s.Pages.Serve(compiled)
		s.App.Get(root, gateHandler, serve)
		s.App.Get(root+"/*", gateHandler, serve)
		log.Printf("Profile %s: serving %s (loader=%v, tracking=%v)", p.Name, root, p.Loader, p.Tracking)
	}

	// Everything else in the content directory is plain static content
	s.App.Get("/*", static.New(s.Cfg.ContentDir))

	return nil
}

func (s *Server) corsMiddleware() fiber.Handler {
	if s.Cfg.CORSOrigins == "" {
		return cors.New(cors.Config{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		})
	}
	return cors.New(cors.Config{
		AllowOrigins:     strings.Split(s.Cfg.CORSOrigins, ","),
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           86400,
	})
}
