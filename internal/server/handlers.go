package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tripdeck/booking-api/pkg/cache"
	"github.com/tripdeck/booking-api/pkg/pagination"
	"github.com/tripdeck/booking-api/pkg/upstream"
)

// listHotels serves the hotel listing for a destination. Multi-page
// upstream listings are fetched in parallel and merged into one array,
// so the cache holds the complete listing under a single key.
func (s *Server) listHotels(ctx context.Context, req *cache.Request) (*cache.Response, error) {
	destination, resp := requireDestination(req)
	if resp != nil {
		return resp, nil
	}

	fetch := func(ctx context.Context, page int) (*upstream.Result, error) {
		return s.upstream.SearchHotels(ctx, destination, page)
	}

	bodies, err := pagination.FetchAll(ctx, fetch, s.config.Pagination)
	if err != nil {
		return nil, fmt.Errorf("fetch hotel listing: %w", err)
	}

	merged, err := pagination.MergeArrays(bodies)
	if err != nil {
		return nil, fmt.Errorf("merge hotel listing pages: %w", err)
	}
	return jsonResponse(http.StatusOK, merged), nil
}

// hotelPrices serves current prices for every hotel in a destination.
func (s *Server) hotelPrices(ctx context.Context, req *cache.Request) (*cache.Response, error) {
	destination, resp := requireDestination(req)
	if resp != nil {
		return resp, nil
	}

	result, err := s.upstream.HotelPrices(ctx, destination)
	if err != nil {
		return nil, err
	}
	return resultResponse(result), nil
}

// hotelDetails serves static details for a single hotel.
func (s *Server) hotelDetails(ctx context.Context, req *cache.Request) (*cache.Response, error) {
	result, err := s.upstream.Hotel(ctx, hotelIDFromPath(req.Path))
	if err != nil {
		return nil, err
	}
	return resultResponse(result), nil
}

// hotelPrice serves the current price for a single hotel.
func (s *Server) hotelPrice(ctx context.Context, req *cache.Request) (*cache.Response, error) {
	destination, resp := requireDestination(req)
	if resp != nil {
		return resp, nil
	}

	result, err := s.upstream.HotelPrice(ctx, hotelIDFromPath(req.Path), destination)
	if err != nil {
		return nil, err
	}
	return resultResponse(result), nil
}

// hotelIDFromPath extracts the hotel id from /hotels/{id} and
// /hotels/{id}/price request paths.
func hotelIDFromPath(path string) string {
	id := strings.TrimPrefix(path, "/hotels/")
	return strings.TrimSuffix(id, "/price")
}

// requireDestination parses the destination query parameter. A missing
// parameter yields a 400 response, which the caching middlewares will
// not memoize.
func requireDestination(req *cache.Request) (string, *cache.Response) {
	query, err := url.ParseQuery(req.RawQuery)
	if err != nil {
		return "", jsonResponse(http.StatusBadRequest, []byte(`{"error":"malformed query string"}`))
	}
	destination := query.Get("destination")
	if destination == "" {
		return "", jsonResponse(http.StatusBadRequest, []byte(`{"error":"destination parameter is required"}`))
	}
	return destination, nil
}

// resultResponse converts an upstream result into a cacheable response,
// keeping the upstream status and raw body.
func resultResponse(result *upstream.Result) *cache.Response {
	header := http.Header{}
	if ct := result.Header.Get("Content-Type"); ct != "" {
		header.Set("Content-Type", ct)
	}
	return &cache.Response{
		StatusCode: result.StatusCode,
		Header:     header,
		Body:       result.Body,
	}
}

func jsonResponse(status int, body []byte) *cache.Response {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return &cache.Response{
		StatusCode: status,
		Header:     header,
		Body:       body,
	}
}
