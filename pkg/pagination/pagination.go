// Package pagination fetches multi-page upstream listings concurrently.
// The upstream hotel API reports the page count of a listing in the
// X-Total-Pages response header; the first page is fetched alone to learn
// the count, then the remaining pages are fetched in parallel with a
// bounded worker group.
package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/tripdeck/booking-api/pkg/upstream"
)

// TotalPagesHeader carries the page count of a paginated upstream listing.
const TotalPagesHeader = "X-Total-Pages"

// DefaultMaxConcurrency bounds parallel page fetches.
const DefaultMaxConcurrency = 4

// Prometheus metrics for page fetching.
var (
	pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "booking_pagination_pages_fetched_total",
		Help: "Total number of listing pages fetched from the upstream API",
	})

	listingsTotal = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "booking_pagination_pages_per_listing",
		Help:    "Number of pages per fetched listing",
		Buckets: []float64{1, 2, 4, 8, 16, 32},
	})
)

// FetchFunc fetches a single page of a listing. Pages are 1-based.
type FetchFunc func(ctx context.Context, page int) (*upstream.Result, error)

// Config controls parallel page fetching.
type Config struct {
	MaxConcurrency int
}

// DefaultConfig returns the default pagination settings.
func DefaultConfig() Config {
	return Config{MaxConcurrency: DefaultMaxConcurrency}
}

// FetchAll fetches every page of a listing and returns the raw page
// bodies in page order. The first failing page cancels the remaining
// fetches.
func FetchAll(ctx context.Context, fetch FetchFunc, config Config) ([][]byte, error) {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultMaxConcurrency
	}

	first, err := fetch(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("fetch page 1: %w", err)
	}
	if first.StatusCode >= 400 {
		return nil, fmt.Errorf("page 1 returned status %d", first.StatusCode)
	}
	pagesFetchedTotal.Inc()

	total := totalPages(first.Header)
	listingsTotal.Observe(float64(total))

	bodies := make([][]byte, total)
	bodies[0] = first.Body
	if total == 1 {
		return bodies, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(config.MaxConcurrency)

	for page := 2; page <= total; page++ {
		g.Go(func() error {
			result, err := fetch(gctx, page)
			if err != nil {
				return fmt.Errorf("fetch page %d: %w", page, err)
			}
			if result.StatusCode >= 400 {
				return fmt.Errorf("page %d returned status %d", page, result.StatusCode)
			}
			pagesFetchedTotal.Inc()
			bodies[page-1] = result.Body
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bodies, nil
}

// MergeArrays concatenates page bodies that each hold a JSON array into
// a single JSON array.
func MergeArrays(bodies [][]byte) ([]byte, error) {
	merged := make([]json.RawMessage, 0, len(bodies)*16)
	for i, body := range bodies {
		var page []json.RawMessage
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("parse page %d as JSON array: %w", i+1, err)
		}
		merged = append(merged, page...)
	}
	return json.Marshal(merged)
}

// totalPages parses the page count header, defaulting to a single page.
func totalPages(header http.Header) int {
	value := header.Get(TotalPagesHeader)
	if value == "" {
		return 1
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return 1
	}
	return n
}
