package cache

import (
	"github.com/rs/zerolog/log"
)

// Invalidate removes every cache entry and pending operation whose key
// contains pattern as a plain substring (no glob or regex semantics).
// It returns the number of cache entries removed; forgotten in-flight
// operations are logged but not counted, since their leaders still
// deliver results to already-attached waiters.
func Invalidate(store *Store, flight *Flight, pattern string) int {
	removed := store.DeleteMatching(pattern)
	forgotten := flight.ForgetMatching(pattern)

	log.Info().
		Str("pattern", pattern).
		Int("entries_removed", removed).
		Int("operations_forgotten", forgotten).
		Msg("Cache invalidated by pattern")

	return removed
}

// InvalidateAll empties both the store and the pending registry.
func InvalidateAll(store *Store, flight *Flight) {
	store.Flush()
	flight.Reset()

	log.Info().Msg("Cache fully invalidated")
}
