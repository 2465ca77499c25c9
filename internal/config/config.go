package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Visitor store backends.
const (
	VisitorStoreMemory = "memory"
	VisitorStoreRedis  = "redis"
	VisitorStoreNone   = "none"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Environment
	Env string // "development", "production", etc.

	// Server
	ServerAddr string
	BaseURL    string

	// Content
	ContentDir string // campaign pages, served under /<profile root>
	ViewsDir   string
	LogDir     string // visit log files

	// Database (optional attribution ledger; empty disables it)
	DatabaseURL string

	// Redis backs the visitor store, the rate limiter and the gate deny set
	RedisURL     string
	VisitorStore string // memory, redis or none
	VisitorTTL   time.Duration

	// TLS/mTLS
	TLSEnabled  bool
	TLSCertFile string
	TLSKeyFile  string
	TLSCAFile   string // CA for verifying client certs (mTLS)

	// Cookies
	CookieSecret string // Used to derive the cookie encryption key (min 32 chars)

	// CORS for the visit endpoint
	CORSOrigins string // Comma-separated allowed origins

	// Rate limiting
	RateLimitMax int

	// ConfigFile is the optional YAML file with profiles and gate rules.
	ConfigFile string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	cfg := &Config{
		Env:          getEnv("ENV", "development"),
		ServerAddr:   getEnv("SERVER_ADDR", ":3000"),
		BaseURL:      getEnv("BASE_URL", "http://localhost:3000"),
		ContentDir:   getEnv("CONTENT_DIR", "./public"),
		ViewsDir:     getEnv("VIEWS_DIR", "./views"),
		LogDir:       getEnv("LOG_DIR", "./logs"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		RedisURL:     getEnv("REDIS_URL", ""),
		VisitorStore: strings.ToLower(getEnv("VISITOR_STORE", "")),
		VisitorTTL:   getDuration("VISITOR_TTL", 30*24*time.Hour),
		TLSEnabled:   getEnv("TLS_ENABLED", "") != "",
		TLSCertFile:  getEnv("TLS_CERT_FILE", ""),
		TLSKeyFile:   getEnv("TLS_KEY_FILE", ""),
		TLSCAFile:    getEnv("TLS_CA_FILE", ""),
		CookieSecret: getEnv("COOKIE_SECRET", "change-me-in-production-min-32-chars"),
		CORSOrigins:  getEnv("CORS_ORIGINS", ""),
		RateLimitMax: getInt("RATE_LIMIT_MAX", 100),
		ConfigFile:   getEnv("CONFIG_FILE", "config.yaml"),
	}

	if cfg.VisitorStore == "" {
		cfg.VisitorStore = VisitorStoreMemory
		if cfg.RedisURL != "" {
			cfg.VisitorStore = VisitorStoreRedis
		}
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func getInt(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// IsDev returns true if the environment is set to development.
func (c *Config) IsDev() bool {
	return c.Env == "development" || c.Env == "dev"
}

// IsMTLSEnabled returns true if mTLS is configured with a CA file.
func (c *Config) IsMTLSEnabled() bool {
	return c.TLSEnabled && c.TLSCAFile != ""
}

// LedgerEnabled reports whether beacon fires are recorded in PostgreSQL.
func (c *Config) LedgerEnabled() bool {
	return c.DatabaseURL != ""
}

// SecureCookies reports whether cookies should carry the Secure flag.
func (c *Config) SecureCookies() bool {
	return c.TLSEnabled || !c.IsDev()
}
