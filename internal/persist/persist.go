// Package persist is the persistence adapter of the variant engine: uniform
// reads and writes over a durable keyed store and a cookie jar, either of
// which may be missing or broken.
package persist

import (
	"errors"
	"log/slog"
	"strings"
	"time"
)

// ErrUnavailable is returned by stores that are disabled or unreachable.
var ErrUnavailable = errors.New("store unavailable")

// CookieTTL is the lifetime of every cookie the engine writes.
const CookieTTL = 30 * 24 * time.Hour

// KeyedStore is a string key/value store. Get returns "" and no error for a
// missing key.
type KeyedStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
}

// Cookie is a cookie to be written.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  time.Time
	SameSite string
}

// CookieJar reads and writes cookies for the current page.
type CookieJar interface {
	Cookie(name string) (string, bool)
	SetCookie(c Cookie)
}

// WriteOptions tunes how Adapter.Write lays down its cookies.
type WriteOptions struct {
	// Host is the current host (www. already stripped). When it has a parent
	// domain that still contains a dot, a second cookie is set there.
	Host     string
	SameSite string
}

// Adapter reads durable store first and cookies second; writes go to both.
type Adapter struct {
	durable KeyedStore
	cookies CookieJar
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithClock sets the time source used for cookie expiry.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// NewAdapter builds an adapter. Either backend may be nil.
func NewAdapter(durable KeyedStore, cookies CookieJar, opts ...Option) *Adapter {
	a := &Adapter{
		durable: durable,
		cookies: cookies,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Read returns the stored value for key. Backend failures read as absent.
func (a *Adapter) Read(key string) (string, bool) {
	if a.durable != nil {
		v, err := a.durable.Get(key)
		if err != nil {
			a.logger.Debug("durable store read failed", "key", key, "error", err)
		} else if v != "" {
			return v, true
		}
	}
	if a.cookies != nil {
		if v, ok := a.cookies.Cookie(key); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// ReadValid returns the first value for key that passes valid, checking the
// durable store before cookies.
func (a *Adapter) ReadValid(key string, valid func(string) bool) (string, bool) {
	if a.durable != nil {
		v, err := a.durable.Get(key)
		if err != nil {
			a.logger.Debug("durable store read failed", "key", key, "error", err)
		} else if v != "" && valid(v) {
			return v, true
		}
	}
	if a.cookies != nil {
		if v, ok := a.cookies.Cookie(key); ok && v != "" && valid(v) {
			return v, true
		}
	}
	return "", false
}

// Write stores value under key in both backends.
func (a *Adapter) Write(key, value string, opts WriteOptions) {
	if a.durable != nil {
		if err := a.durable.Set(key, value); err != nil {
			a.logger.Debug("durable store write failed", "key", key, "error", err)
		}
	}
	if a.cookies == nil {
		return
	}

	expires := a.now().Add(CookieTTL)
	a.cookies.SetCookie(Cookie{
		Name:     key,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		SameSite: opts.SameSite,
	})
	if parent := ParentDomain(opts.Host); parent != "" {
		a.cookies.SetCookie(Cookie{
			Name:     key,
			Value:    value,
			Domain:   "." + parent,
			Path:     "/",
			Expires:  expires,
			SameSite: opts.SameSite,
		})
	}
}

// ParentDomain drops the first label of host. It returns "" when the result
// would be a bare top-level domain, since browsers reject such cookies.
func ParentDomain(host string) string {
	i := strings.IndexByte(host, '.')
	if i < 0 {
		return ""
	}
	parent := host[i+1:]
	if !strings.Contains(parent, ".") {
		return ""
	}
	return parent
}
