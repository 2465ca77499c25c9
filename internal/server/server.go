package server

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/encryptcookie"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/template/html/v3"

	"pagerouter/internal/config"
	"pagerouter/internal/handlers"
	"pagerouter/internal/middleware"
)

// Server is the page host: the fiber app plus the configuration it was
// built from.
type Server struct {
	App  *fiber.App
	Cfg  *config.Config
	YAML *config.YAMLConfig

	// Pages is set by RegisterRoutes.
	Pages *handlers.PageHandler
}

// New builds the fiber app with the global middleware chain. limiterStorage
// may be nil, in which case rate limits are kept in memory.
func New(cfg *config.Config, yc *config.YAMLConfig, limiterStorage fiber.Storage) *Server {
	views := html.New(cfg.ViewsDir, ".html")
	views.Reload(cfg.IsDev())

	app := fiber.New(fiber.Config{
		Views:        views,
		ViewsLayout:  "layouts/main",
		ErrorHandler: renderError,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	// Every cookie is encrypted, including the engine's selection cookies.
	app.Use(encryptcookie.New(encryptcookie.Config{
		Key: deriveEncryptionKey(cfg.CookieSecret),
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimitMax,
		Expiration: time.Minute,
		Storage:    limiterStorage,
		KeyGenerator: func(c fiber.Ctx) string {
			return middleware.ClientIP(c)
		},
		LimitReached: func(c fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).SendString("Too many requests. Please try again later.")
		},
	}))

	return &Server{App: app, Cfg: cfg, YAML: yc}
}

// renderError renders views/error.html for any handler error.
func renderError(c fiber.Ctx, err error) error {
	code, message := fiber.StatusInternalServerError, "Internal Server Error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code, message = fe.Code, fe.Message
	}
	return c.Status(code).Render("error", fiber.Map{
		"Title":   "Error",
		"Code":    code,
		"Message": message,
	})
}

// Start listens on the configured address until Shutdown is called.
func (s *Server) Start() error {
	lc, err := s.listenConfig()
	if err != nil {
		return err
	}
	return s.App.Listen(s.Cfg.ServerAddr, lc)
}

func (s *Server) listenConfig() (fiber.ListenConfig, error) {
	lc := fiber.ListenConfig{DisableStartupMessage: !s.Cfg.IsDev()}
	if !s.Cfg.TLSEnabled {
		return lc, nil
	}

	tlsConfig, err := buildTLSConfig(s.Cfg)
	if err != nil {
		return lc, err
	}
	lc.CertFile = s.Cfg.TLSCertFile
	lc.CertKeyFile = s.Cfg.TLSKeyFile
	lc.TLSConfigFunc = func(tc *tls.Config) { *tc = *tlsConfig }

	mode := "TLS"
	if s.Cfg.IsMTLSEnabled() {
		mode = "mTLS"
	}
	log.Printf("Serving pages with %s on %s", mode, s.Cfg.ServerAddr)
	return lc, nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown() error {
	return s.App.Shutdown()
}

// deriveEncryptionKey turns the cookie secret into the 32-byte base64 key
// encryptcookie expects.
func deriveEncryptionKey(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// buildTLSConfig requires client certificates signed by TLSCAFile when one is
// configured.
func buildTLSConfig(cfg *config.Config) (*tls.Config, error) {
	tc := &tls.Config{MinVersion: tls.VersionTLS12}
	if !cfg.IsMTLSEnabled() {
		return tc, nil
	}

	pem, err := os.ReadFile(cfg.TLSCAFile)
	if err != nil {
		return nil, fmt.Errorf("read client CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("parse client CA %s: no certificates found", cfg.TLSCAFile)
	}
	tc.ClientCAs = pool
	tc.ClientAuth = tls.RequireAndVerifyClientCert
	return tc, nil
}
