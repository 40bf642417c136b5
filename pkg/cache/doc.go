// Package cache provides in-process response caching for the booking API,
// shielding the upstream hotel-pricing service from duplicate polling.
//
// It has three parts:
//
//   - Store: an in-memory key/value store with per-entry TTL, a background
//     sweep that purges expired entries, and hit/miss statistics.
//   - Cached: a handler middleware that memoizes successful responses by
//     request key. Concurrent misses for the same key are not coordinated.
//   - Coalesced: the same memoization contract plus single-flight request
//     coalescing. Concurrent misses for one key share a single handler
//     invocation tracked in a Flight registry.
//
// # Basic Usage
//
//	store := cache.New(cache.DefaultConfig())
//	defer store.Close()
//	flight := cache.NewFlight()
//
//	prices := cache.Coalesced(store, flight)(func(ctx context.Context, req *cache.Request) (*cache.Response, error) {
//		result, err := client.HotelPrices(ctx, destination(req))
//		if err != nil {
//			return nil, err
//		}
//		return &cache.Response{StatusCode: result.StatusCode, Body: result.Body}, nil
//	})
//
// # Keys
//
// The cache key is the request path plus the raw query string, verbatim.
// Parameter order and case are significant: /hotels?a=1&b=2 and
// /hotels?b=2&a=1 are distinct keys.
//
// # Coalescing
//
// The first request that misses for a key becomes the leader and runs the
// handler. Requests arriving while the leader is in flight become followers
// and wait for the leader's result, bounded by the wait timeout. A follower
// whose wait times out, or whose leader failed, takes over the key and runs
// the handler itself. The leader enforces a safety timeout of twice the wait
// timeout; past it the in-flight operation is force-rejected with
// ErrProcessingTimeout and the registry entry is cleared, so no follower can
// be stuck behind a handler that never completes. The leader's own caller
// keeps waiting, bounded by its context, and receives the handler's
// eventual result; a late success is still written to the store.
//
// Failures are never cached, in either middleware. Followers receive the
// leader's response only after it has been written to the store.
//
// # Metrics
//
// The package exports Prometheus metrics:
//
//   - booking_cache_hits_total - Store hits
//   - booking_cache_misses_total - Store misses
//   - booking_cache_keys - Live keys in the store
//   - booking_cache_sweep_purged_total - Entries removed by the sweeper
//   - booking_cache_leaders_total - Coalesced requests that ran the handler
//   - booking_cache_coalesced_total - Followers served a leader's result
//   - booking_cache_follower_timeouts_total - Follower waits that timed out
//   - booking_cache_safety_timeouts_total - Force-rejected operations
//   - booking_cache_inflight_operations - Currently registered operations
package cache
