package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultSweepInterval is the fallback interval for the background sweeper.
const DefaultSweepInterval = time.Minute

// Config holds store configuration.
type Config struct {
	// SweepInterval is how often the background sweeper purges expired
	// entries. Expired entries are also dropped lazily on read, so the
	// sweep only bounds memory held by keys that are never read again.
	// Zero or negative disables the sweeper.
	SweepInterval time.Duration
}

// DefaultConfig returns a default store configuration.
func DefaultConfig() Config {
	return Config{
		SweepInterval: DefaultSweepInterval,
	}
}

// Stats is a point-in-time snapshot of store statistics.
type Stats struct {
	// Keys is the number of live entries.
	Keys int `json:"keys"`

	// Hits is the number of Get calls that returned a live entry.
	Hits uint64 `json:"hits"`

	// Misses is the number of Get calls that found no live entry.
	Misses uint64 `json:"misses"`
}

type entry struct {
	value     any
	expiresAt time.Time
}

// Store is an in-memory key/value store with per-entry TTL.
//
// Each Store owns its sweeper goroutine; call Close to stop it.
// All operations are safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	hits    uint64
	misses  uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	logger zerolog.Logger
}

// New creates a store and starts its background sweeper.
func New(cfg Config) *Store {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Store{
		entries: make(map[string]entry),
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.With().Str("component", "cache-store").Logger(),
	}

	if cfg.SweepInterval > 0 {
		s.wg.Add(1)
		go s.sweep(cfg.SweepInterval)
	}

	return s
}

// Close stops the background sweeper. It is safe to call multiple times
// and does not discard stored entries.
func (s *Store) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
	return nil
}

// Set inserts or replaces the entry for key and resets its expiry to
// now+ttl. A key maps to at most one live entry.
func (s *Store) Set(key string, value any, ttl time.Duration) {
	s.mu.Lock()
	s.entries[key] = entry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	CacheKeys.Set(float64(len(s.entries)))
	s.mu.Unlock()
}

// Get returns the live value for key. An expired entry that the sweeper
// has not reached yet counts as absent and is dropped. Every call
// increments either the hit or the miss counter.
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		s.misses++
		CacheMisses.Inc()
		return nil, false
	}
	if !e.expiresAt.After(time.Now()) {
		delete(s.entries, key)
		CacheKeys.Set(float64(len(s.entries)))
		s.misses++
		CacheMisses.Inc()
		return nil, false
	}

	s.hits++
	CacheHits.Inc()
	return e.value, true
}

// Has reports whether a live entry exists for key. Unlike Get it does
// not touch the hit/miss counters.
func (s *Store) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	return ok && e.expiresAt.After(time.Now())
}

// Peek returns the live value and expiry for key without touching the
// hit/miss counters. Meant for inspection endpoints.
func (s *Store) Peek(key string) (any, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !e.expiresAt.After(time.Now()) {
		return nil, time.Time{}, false
	}
	return e.value, e.expiresAt, true
}

// Delete removes the entry for key if present.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return false
	}
	delete(s.entries, key)
	CacheKeys.Set(float64(len(s.entries)))
	return true
}

// Keys returns all currently live keys in unspecified order.
func (s *Store) Keys() []string {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.entries))
	for key, e := range s.entries {
		if e.expiresAt.After(now) {
			keys = append(keys, key)
		}
	}
	return keys
}

// ExpiresAt returns the expiry timestamp for a live entry.
func (s *Store) ExpiresAt(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !e.expiresAt.After(time.Now()) {
		return time.Time{}, false
	}
	return e.expiresAt, true
}

// Flush removes every entry. Counters are kept.
func (s *Store) Flush() {
	s.mu.Lock()
	s.entries = make(map[string]entry)
	CacheKeys.Set(0)
	s.mu.Unlock()
}

// DeleteMatching removes every entry whose key contains substr as a
// plain substring and returns the number removed.
func (s *Store) DeleteMatching(substr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.entries {
		if strings.Contains(key, substr) {
			delete(s.entries, key)
			removed++
		}
	}
	if removed > 0 {
		CacheKeys.Set(float64(len(s.entries)))
	}
	return removed
}

// Stats returns a snapshot of the store statistics. Inspecting stats
// does not move the hit/miss counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := 0
	now := time.Now()
	for _, e := range s.entries {
		if e.expiresAt.After(now) {
			live++
		}
	}
	return Stats{
		Keys:   live,
		Hits:   s.hits,
		Misses: s.misses,
	}
}

// sweep periodically purges expired entries.
func (s *Store) sweep(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			purged := 0

			s.mu.Lock()
			for key, e := range s.entries {
				if !e.expiresAt.After(now) {
					delete(s.entries, key)
					purged++
				}
			}
			CacheKeys.Set(float64(len(s.entries)))
			s.mu.Unlock()

			if purged > 0 {
				SweepPurged.Add(float64(purged))
				s.logger.Debug().
					Int("purged", purged).
					Msg("Cache sweep purged expired entries")
			}
		}
	}
}
