package beacon

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Window is the beacon state shared by every page evaluation of one visitor:
// the in-memory fired map and the cross-instance throttle.
type Window struct {
	mu    sync.Mutex
	fired map[string]time.Time
	lim   *rate.Limiter
}

// NewWindow creates a window allowing one fire per throttle interval.
func NewWindow(throttle time.Duration) *Window {
	if throttle <= 0 {
		throttle = DefaultThrottle
	}
	return &Window{
		fired: make(map[string]time.Time),
		lim:   rate.NewLimiter(rate.Every(throttle), 1),
	}
}

// Throttled reports whether a fire at now would come too soon after the
// previous fire of any key.
func (w *Window) Throttled(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lim.TokensAt(now) < 1
}

// LastFired returns when key last fired in this window.
func (w *Window) LastFired(key string) (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ts, ok := w.fired[key]
	return ts, ok
}

// Remember records ts as the fire time of key without touching the throttle.
func (w *Window) Remember(key string, ts time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fired[key] = ts
}

// Forget drops key.
func (w *Window) Forget(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.fired, key)
}

// Mark records a fire of key at now and consumes the throttle.
func (w *Window) Mark(key string, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fired[key] = now
	w.lim.AllowN(now, 1)
}

// Registry keeps one Window per visitor and evicts idle ones.
type Registry struct {
	mu       sync.Mutex
	entries  map[string]*registryEntry
	throttle time.Duration
	idleTTL  time.Duration
	now      func() time.Time
}

type registryEntry struct {
	win      *Window
	lastSeen time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithIdleTTL sets how long an unused window is kept.
func WithIdleTTL(d time.Duration) RegistryOption {
	return func(r *Registry) { r.idleTTL = d }
}

// WithRegistryClock sets the time source used for idle tracking.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a registry whose windows throttle at throttle.
func NewRegistry(throttle time.Duration, opts ...RegistryOption) *Registry {
	r := &Registry{
		entries:  make(map[string]*registryEntry),
		throttle: throttle,
		idleTTL:  30 * time.Minute,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Len returns the number of live windows.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Get returns the window of visitor, creating it on first use.
func (r *Registry) Get(visitor string) *Window {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if ent, ok := r.entries[visitor]; ok {
		ent.lastSeen = now
		return ent.win
	}
	win := NewWindow(r.throttle)
	r.entries[visitor] = &registryEntry{win: win, lastSeen: now}
	return win
}

// Cleanup evicts windows idle for longer than the idle TTL and returns how
// many it removed.
func (r *Registry) Cleanup() int {
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for k, ent := range r.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(r.entries, k)
			n++
		}
	}
	return n
}
