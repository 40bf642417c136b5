package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/tripdeck/booking-api/pkg/cache"
)

// adminKeys lists all live cache keys.
func (s *Server) adminKeys(w http.ResponseWriter, r *http.Request) {
	keys := s.store.Keys()
	sort.Strings(keys)
	writeJSON(w, http.StatusOK, map[string]any{
		"keys":  keys,
		"count": len(keys),
	})
}

// adminGetEntry returns a single cache entry by key. Inspection does not
// move the hit/miss counters.
func (s *Server) adminGetEntry(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeJSONError(w, http.StatusBadRequest, "key parameter is required")
		return
	}

	value, expiresAt, ok := s.store.Peek(key)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "no entry for key")
		return
	}

	entry := map[string]any{
		"key":        key,
		"expires_at": expiresAt.Format(time.RFC3339),
	}
	if resp, isResponse := value.(*cache.Response); isResponse {
		entry["status_code"] = resp.StatusCode
		entry["body"] = json.RawMessage(resp.Body)
	}
	writeJSON(w, http.StatusOK, entry)
}

// adminDeleteEntry removes a single cache entry by key.
func (s *Server) adminDeleteEntry(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeJSONError(w, http.StatusBadRequest, "key parameter is required")
		return
	}

	if !s.store.Delete(key) {
		writeJSONError(w, http.StatusNotFound, "no entry for key")
		return
	}
	s.logger.Info().Str("key", key).Msg("Cache entry deleted by admin")
	writeJSON(w, http.StatusOK, map[string]string{"deleted": key})
}

// adminInvalidate removes every cached entry and pending operation whose
// key contains the given pattern as a substring.
func (s *Server) adminInvalidate(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		writeJSONError(w, http.StatusBadRequest, "pattern parameter is required")
		return
	}

	invalidated := cache.Invalidate(s.store, s.flight, pattern)
	writeJSON(w, http.StatusOK, map[string]any{
		"pattern":     pattern,
		"invalidated": invalidated,
	})
}

// adminFlush clears the whole cache and pending-operation registry.
func (s *Server) adminFlush(w http.ResponseWriter, r *http.Request) {
	cache.InvalidateAll(s.store, s.flight)
	s.logger.Info().Msg("Cache flushed by admin")
	writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

// adminStats reports cache and coalescing statistics.
func (s *Server) adminStats(w http.ResponseWriter, r *http.Request) {
	stats := s.store.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"keys":      stats.Keys,
		"hits":      stats.Hits,
		"misses":    stats.Misses,
		"in_flight": s.flight.Len(),
	})
}

// health is a liveness probe.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ready reports whether the server can do useful work: Redis must be
// reachable for rate limit state, and the upstream budget is included
// for operators.
func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.redis.Ping(ctx).Err(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"redis":  err.Error(),
		})
		return
	}

	payload := map[string]any{
		"status": "ready",
		"redis":  "ok",
	}
	if state, err := s.upstream.RateLimitState(ctx); err == nil {
		payload["upstream_budget"] = state
	}
	writeJSON(w, http.StatusOK, payload)
}
