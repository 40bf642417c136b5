package upstream

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry behavior.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_upstream_retries_total",
		Help: "Total number of retry attempts against the upstream API",
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_upstream_retry_exhausted_total",
		Help: "Total number of operations that exhausted all retry attempts",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "booking_upstream_retry_backoff_seconds",
		Help:    "Backoff durations applied between retry attempts",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})
)

// RetryConfig controls retry behavior per error class.
type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns sensible retry settings for transient errors.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    200 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryConfigForErrorClass tunes retry behavior to the error class.
// Rate limit errors back off much longer to let the budget recover.
func RetryConfigForErrorClass(errorClass ErrorClass) RetryConfig {
	cfg := DefaultRetryConfig()
	switch errorClass {
	case ErrorClassRateLimit:
		cfg.InitialBackoff = 2 * time.Second
		cfg.MaxBackoff = 30 * time.Second
	case ErrorClassNetwork:
		cfg.MaxAttempts = 4
	}
	return cfg
}

// addJitter adds up to 25% random jitter so retrying clients do not
// synchronize. Backoffs too small to quarter are returned unchanged.
func addJitter(backoff time.Duration) time.Duration {
	quarter := int64(backoff) / 4
	if quarter <= 0 {
		return backoff
	}
	return backoff + time.Duration(rand.Int63n(quarter))
}

// retryWithBackoff runs fn until it succeeds, returns a non-retryable
// error, or attempts are exhausted. Backoff grows exponentially with
// jitter and is capped at MaxBackoff.
func retryWithBackoff(ctx context.Context, fn func() error) error {
	var lastErr error

	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		errorClass := classifyError(lastErr)
		if !shouldRetry(errorClass) {
			return lastErr
		}

		cfg := RetryConfigForErrorClass(errorClass)
		attempt++
		if attempt >= cfg.MaxAttempts {
			retryExhaustedTotal.WithLabelValues(string(errorClass)).Inc()
			return fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, attempt, lastErr)
		}

		backoff := cfg.InitialBackoff
		for i := 1; i < attempt; i++ {
			backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		}
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
		backoff = addJitter(backoff)

		retriesTotal.WithLabelValues(string(errorClass)).Inc()
		retryBackoffSeconds.Observe(backoff.Seconds())

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
