package jobs

import (
	"context"
	"log"
	"time"

	"pagerouter/internal/visitlog"
)

// Sweeper drops expired entries from an in-process store.
type Sweeper interface {
	Sweep() int
}

// WindowCleaner evicts idle beacon windows. *beacon.Registry satisfies it.
type WindowCleaner interface {
	Cleanup() int
}

// Stats counts what one janitor run removed.
type Stats struct {
	Indexes int
	Windows int
	Entries int
}

// Janitor periodically removes stale visit indexes, idle beacon windows and
// expired visitor store entries.
type Janitor struct {
	interval time.Duration
	visits   *visitlog.Logger
	windows  WindowCleaner
	store    Sweeper
}

// NewJanitor creates a janitor. Any of visits, windows and store may be nil.
func NewJanitor(interval time.Duration, visits *visitlog.Logger, windows WindowCleaner, store Sweeper) *Janitor {
	return &Janitor{
		interval: interval,
		visits:   visits,
		windows:  windows,
		store:    store,
	}
}

// Start begins the background cleanup loop. It returns when ctx is done.
func (j *Janitor) Start(ctx context.Context) {
	log.Printf("Janitor started (interval: %v)", j.interval)

	// Run immediately on start
	j.RunOnce()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Janitor stopped")
			return
		case <-ticker.C:
			j.RunOnce()
		}
	}
}

// RunOnce performs a single cleanup pass.
func (j *Janitor) RunOnce() Stats {
	var s Stats

	if j.visits != nil {
		n, err := j.visits.CleanupIndexes()
		if err != nil {
			log.Printf("Janitor: failed to clean visit indexes: %v", err)
		}
		s.Indexes = n
	}
	if j.windows != nil {
		s.Windows = j.windows.Cleanup()
	}
	if j.store != nil {
		s.Entries = j.store.Sweep()
	}

	if s.Indexes+s.Windows+s.Entries > 0 {
		log.Printf("Janitor: removed %d indexes, %d beacon windows, %d store entries", s.Indexes, s.Windows, s.Entries)
	}
	return s
}
