package persist

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
)

// Storage is the byte-level store shape shared by gofiber storage drivers
// (github.com/gofiber/storage/redis/v3 among them) and MemoryStorage.
type Storage interface {
	Get(key string) ([]byte, error)
	Set(key string, val []byte, exp time.Duration) error
	Delete(key string) error
}

// StorageStore adapts a Storage to KeyedStore under a key prefix, typically
// one prefix per visitor.
type StorageStore struct {
	storage Storage
	prefix  string
	ttl     time.Duration
}

// NewStorageStore scopes storage to prefix. Entries expire after ttl; zero
// keeps them until deleted.
func NewStorageStore(storage Storage, prefix string, ttl time.Duration) *StorageStore {
	return &StorageStore{storage: storage, prefix: prefix, ttl: ttl}
}

func (s *StorageStore) Get(key string) (string, error) {
	if s.storage == nil {
		return "", ErrUnavailable
	}
	b, err := s.storage.Get(s.prefix + key)
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return string(b), nil
}

func (s *StorageStore) Set(key, value string) error {
	if s.storage == nil {
		return ErrUnavailable
	}
	if err := s.storage.Set(s.prefix+key, []byte(value), s.ttl); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *StorageStore) Remove(key string) error {
	if s.storage == nil {
		return ErrUnavailable
	}
	if err := s.storage.Delete(s.prefix + key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// FiberJar is a CookieJar over a fiber request/response pair. Cookies written
// during the request are visible to later reads in the same request.
type FiberJar struct {
	c       fiber.Ctx
	secure  bool
	written map[string]string
}

// NewFiberJar wraps c. secure marks written cookies Secure.
func NewFiberJar(c fiber.Ctx, secure bool) *FiberJar {
	return &FiberJar{c: c, secure: secure, written: make(map[string]string)}
}

func (j *FiberJar) Cookie(name string) (string, bool) {
	if v, ok := j.written[name]; ok {
		return v, true
	}
	v := j.c.Cookies(name)
	return v, v != ""
}

// SetCookie emits a Set-Cookie header. The response keeps one cookie per
// name, so a parent-domain write replaces the host-only one; the parent
// domain cookie still reaches the current host.
func (j *FiberJar) SetCookie(ck Cookie) {
	sameSite := ck.SameSite
	if sameSite == "" {
		sameSite = fiber.CookieSameSiteLaxMode
	}
	j.c.Cookie(&fiber.Cookie{
		Name:     ck.Name,
		Value:    ck.Value,
		Domain:   ck.Domain,
		Path:     ck.Path,
		Expires:  ck.Expires,
		SameSite: sameSite,
		Secure:   j.secure,
	})
	j.written[ck.Name] = ck.Value
}
