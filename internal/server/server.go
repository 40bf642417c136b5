// Package server wires the HTTP API: hotel endpoints behind the caching
// middlewares, admin endpoints for cache inspection and invalidation,
// and health/readiness/metrics probes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tripdeck/booking-api/pkg/cache"
	"github.com/tripdeck/booking-api/pkg/logging"
	"github.com/tripdeck/booking-api/pkg/metrics"
	"github.com/tripdeck/booking-api/pkg/pagination"
	"github.com/tripdeck/booking-api/pkg/upstream"
)

// Prometheus metrics for the HTTP surface.
var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_http_requests_total",
		Help: "Total number of HTTP requests served",
	}, []string{"pattern", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "booking_http_request_duration_seconds",
		Help:    "Duration of served HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"pattern"})
)

// Config holds the server configuration.
type Config struct {
	// CacheTTL is how long memoized responses stay valid.
	CacheTTL time.Duration

	// WaitTimeout bounds how long coalesced followers wait for a leader.
	WaitTimeout time.Duration

	// SweepInterval is the cache store's background sweep interval.
	SweepInterval time.Duration

	// Pagination controls parallel page fetching for hotel listings.
	Pagination pagination.Config
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		CacheTTL:      cache.DefaultTTL,
		WaitTimeout:   cache.DefaultWaitTimeout,
		SweepInterval: cache.DefaultSweepInterval,
		Pagination:    pagination.DefaultConfig(),
	}
}

// Server is the booking API HTTP server.
type Server struct {
	upstream *upstream.Client
	redis    *redis.Client
	store    *cache.Store
	flight   *cache.Flight
	config   Config
	logger   zerolog.Logger
	mux      *http.ServeMux
}

// New creates a server with its own cache store and pending-operation
// registry. Call Close to stop the store's sweeper.
func New(upstreamClient *upstream.Client, redisClient *redis.Client, config Config) *Server {
	s := &Server{
		upstream: upstreamClient,
		redis:    redisClient,
		store:    cache.New(cache.Config{SweepInterval: config.SweepInterval}),
		flight:   cache.NewFlight(),
		config:   config,
		logger:   logging.NewLogger("server"),
	}
	s.mux = s.routes()
	return s
}

// Close stops the cache store's background sweeper.
func (s *Server) Close() error {
	return s.store.Close()
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

func (s *Server) routes() *http.ServeMux {
	cached := cache.Cached(s.store, cache.WithTTL(s.config.CacheTTL))
	coalesced := cache.Coalesced(s.store, s.flight,
		cache.WithTTL(s.config.CacheTTL),
		cache.WithWaitTimeout(s.config.WaitTimeout))

	mux := http.NewServeMux()

	// Hotel listings and details change rarely; plain caching is enough.
	// Prices are the expensive upstream calls and the ones hit by request
	// storms, so they get single-flight coalescing on top.
	mux.Handle("GET /hotels", s.wrap(cached(s.listHotels)))
	mux.Handle("GET /hotels/prices", s.wrap(coalesced(s.hotelPrices)))
	mux.Handle("GET /hotels/{id}", s.wrap(cached(s.hotelDetails)))
	mux.Handle("GET /hotels/{id}/price", s.wrap(coalesced(s.hotelPrice)))

	mux.HandleFunc("GET /admin/cache/keys", s.adminKeys)
	mux.HandleFunc("GET /admin/cache/entries", s.adminGetEntry)
	mux.HandleFunc("DELETE /admin/cache/entries", s.adminDeleteEntry)
	mux.HandleFunc("POST /admin/cache/invalidate", s.adminInvalidate)
	mux.HandleFunc("POST /admin/cache/flush", s.adminFlush)
	mux.HandleFunc("GET /admin/cache/stats", s.adminStats)

	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("GET /ready", s.ready)
	mux.Handle("GET /metrics", metrics.Handler())

	return mux
}

// wrap adapts a cache.Handler to an http.HandlerFunc, mapping handler
// errors to HTTP statuses.
func (s *Server) wrap(h cache.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := h(r.Context(), cache.FromHTTP(r))
		if err != nil {
			status := http.StatusBadGateway
			switch {
			case errors.Is(err, cache.ErrProcessingTimeout):
				status = http.StatusGatewayTimeout
			case errors.Is(err, upstream.ErrBudgetExhausted):
				status = http.StatusServiceUnavailable
				w.Header().Set("Retry-After", "60")
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				status = http.StatusGatewayTimeout
			}

			s.logger.Error().
				Err(err).
				Str("path", r.URL.Path).
				Int("status", status).
				Msg("Request failed")
			writeJSONError(w, status, err.Error())
			return
		}

		for name, values := range resp.Header {
			for _, v := range values {
				w.Header().Add(name, v)
			}
		}
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(resp.StatusCode)
		w.Write(resp.Body)
	}
}

// statusRecorder captures the response status for access logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// logRequests records an access log line and HTTP metrics per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(pattern, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(pattern).Observe(duration.Seconds())

		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", duration).
			Msg("Request handled")
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
