// Package upstream implements the HTTP client for the third-party
// hotel-pricing API. It layers rate limit gating, error classification
// and retry with exponential backoff on top of plain HTTP, and reports
// request metrics to Prometheus.
//
// Payloads are passed through as raw JSON bytes. The client never
// decodes hotel data; callers (and the cache in front of them) see the
// upstream body byte for byte.
package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tripdeck/booking-api/pkg/logging"
	"github.com/tripdeck/booking-api/pkg/ratelimit"
)

// Prometheus metrics for upstream requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_upstream_requests_total",
		Help: "Total number of requests sent to the upstream hotel API",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "booking_upstream_request_duration_seconds",
		Help:    "Duration of upstream hotel API requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_upstream_errors_total",
		Help: "Total number of upstream hotel API errors by class",
	}, []string{"error_class"})
)

// ErrorClass categorizes upstream failures for retry decisions.
type ErrorClass string

const (
	// ErrorClassClient covers 4xx responses except 429. Not retryable.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer covers 5xx responses. Retryable.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit covers 429 responses. Retryable with long backoff.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork covers transport failures. Retryable.
	ErrorClassNetwork ErrorClass = "network"
)

// classifyStatus maps an HTTP status code to an error class.
func classifyStatus(statusCode int) ErrorClass {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case statusCode >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}

// Config holds the upstream client configuration.
type Config struct {
	// BaseURL is the upstream hotel API root, e.g. https://api.example.com.
	BaseURL string

	// Redis backs the shared rate limit state.
	Redis *redis.Client

	// APIKey is sent as a bearer token when non-empty.
	APIKey string

	// Timeout bounds a single HTTP round trip.
	Timeout time.Duration
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig(redisClient *redis.Client, baseURL string) Config {
	return Config{
		BaseURL: baseURL,
		Redis:   redisClient,
		Timeout: 10 * time.Second,
	}
}

// Result is a raw upstream response. Body is the unmodified payload.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client is the rate-limit-aware hotel API client.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Tracker
	config     Config
	logger     zerolog.Logger
}

// New creates an upstream client from the given config.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("upstream base URL is required")
	}
	if config.Redis == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	logger := logging.NewLogger("upstream")

	return &Client{
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    ratelimit.NewTracker(config.Redis, logger),
		config:     config,
		logger:     logger,
	}, nil
}

// SetHTTPClient replaces the underlying HTTP client. Intended for tests.
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	c.httpClient = httpClient
}

// Get performs a rate-limited, retried GET against the upstream API.
// path is relative to the base URL; query may be nil.
//
// Transport failures, 5xx and 429 responses are retried per their error
// class. Other 4xx responses are returned to the caller as a Result so
// upstream client errors stay visible end to end.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Result, error) {
	endpoint := path
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	allowed, err := c.limiter.ShouldAllowRequest(ctx)
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		errorsTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
		return nil, ErrBudgetExhausted
	}

	requestURL := strings.TrimSuffix(c.config.BaseURL, "/") + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var result *Result
	retryErr := retryWithBackoff(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return &APIError{ErrorClass: ErrorClassClient, Message: "build request", Err: err}
		}
		req.Header.Set("Accept", "application/json")
		if c.config.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			return &APIError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
		}
		defer resp.Body.Close()

		// Budget headers arrive on every response, including errors.
		if err := c.limiter.UpdateFromHeaders(ctx, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit state from headers")
		}

		requestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()

		if resp.StatusCode >= 400 {
			errorClass := classifyStatus(resp.StatusCode)
			errorsTotal.WithLabelValues(string(errorClass)).Inc()

			if shouldRetry(errorClass) {
				io.Copy(io.Discard, resp.Body)
				return &APIError{
					StatusCode: resp.StatusCode,
					ErrorClass: errorClass,
					Message:    http.StatusText(resp.StatusCode),
				}
			}
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			return &APIError{ErrorClass: ErrorClassNetwork, Message: "read response body", Err: err}
		}

		result = &Result{
			StatusCode: resp.StatusCode,
			Header:     resp.Header.Clone(),
			Body:       body,
		}
		return nil
	})
	if retryErr != nil {
		c.logger.Error().
			Err(retryErr).
			Str("endpoint", endpoint).
			Msg("Upstream request failed")
		return nil, retryErr
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Int("status", result.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Upstream request completed")

	return result, nil
}

// SearchHotels fetches the hotel listing for a destination. A page of 0
// requests the upstream default (first) page.
func (c *Client) SearchHotels(ctx context.Context, destination string, page int) (*Result, error) {
	query := url.Values{"destination": {destination}}
	if page > 0 {
		query.Set("page", fmt.Sprintf("%d", page))
	}
	return c.Get(ctx, "/api/hotels", query)
}

// HotelPrices fetches current prices for all hotels in a destination.
// This is the most expensive upstream call and the primary coalescing
// target.
func (c *Client) HotelPrices(ctx context.Context, destination string) (*Result, error) {
	return c.Get(ctx, "/api/prices", url.Values{"destination": {destination}})
}

// Hotel fetches static details for a single hotel.
func (c *Client) Hotel(ctx context.Context, hotelID string) (*Result, error) {
	return c.Get(ctx, "/api/hotels/"+url.PathEscape(hotelID), nil)
}

// HotelPrice fetches the current price for a single hotel in a destination.
func (c *Client) HotelPrice(ctx context.Context, hotelID, destination string) (*Result, error) {
	path := "/api/hotels/" + url.PathEscape(hotelID) + "/price"
	return c.Get(ctx, path, url.Values{"destination": {destination}})
}

// RateLimitState exposes the current upstream budget for health reporting.
func (c *Client) RateLimitState(ctx context.Context) (*ratelimit.State, error) {
	return c.limiter.GetState(ctx)
}
