package persist

import (
	"sync"
	"time"
)

// MemoryStore is an in-process KeyedStore.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *MemoryStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// DisabledStore fails every operation, like storage blocked by the browser
// or a full quota.
type DisabledStore struct{}

func (DisabledStore) Get(string) (string, error) { return "", ErrUnavailable }
func (DisabledStore) Set(string, string) error   { return ErrUnavailable }
func (DisabledStore) Remove(string) error        { return ErrUnavailable }

// MemoryJar is a CookieJar held in memory. Domains are recorded but not
// used for lookup.
type MemoryJar struct {
	mu      sync.Mutex
	values  map[string]string
	Written []Cookie
}

// NewMemoryJar creates a jar seeded with name/value pairs.
func NewMemoryJar(seed map[string]string) *MemoryJar {
	j := &MemoryJar{values: make(map[string]string)}
	for k, v := range seed {
		j.values[k] = v
	}
	return j
}

func (j *MemoryJar) Cookie(name string) (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	v, ok := j.values[name]
	return v, ok
}

func (j *MemoryJar) SetCookie(c Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.values[c.Name] = c.Value
	j.Written = append(j.Written, c)
}

type memoryEntry struct {
	val     []byte
	expires time.Time
}

// MemoryStorage is an in-process Storage with per-key expiry.
type MemoryStorage struct {
	mu   sync.Mutex
	data map[string]memoryEntry
	now  func() time.Time
}

// NewMemoryStorage creates an empty storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryStorage) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.data, key)
		return nil, nil
	}
	return e.val, nil
}

func (m *MemoryStorage) Set(key string, val []byte, exp time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{val: append([]byte(nil), val...)}
	if exp > 0 {
		e.expires = m.now().Add(exp)
	}
	m.data[key] = e
	return nil
}

func (m *MemoryStorage) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (m *MemoryStorage) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for k, e := range m.data {
		if !e.expires.IsZero() && !now.Before(e.expires) {
			delete(m.data, k)
			n++
		}
	}
	return n
}
