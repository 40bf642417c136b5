package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultTTL is how long memoized responses stay valid.
	DefaultTTL = 600 * time.Second

	// DefaultWaitTimeout bounds how long a follower waits for a leader's
	// result before taking over the key. The leader's safety timeout is
	// twice this value.
	DefaultWaitTimeout = 5 * time.Second
)

type config struct {
	ttl         time.Duration
	waitTimeout time.Duration
}

// Option configures the caching middlewares.
type Option func(*config)

func applyOptions(opts []Option) config {
	cfg := config{
		ttl:         DefaultTTL,
		waitTimeout: DefaultWaitTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithTTL sets how long memoized responses stay valid.
// Defaults to DefaultTTL.
func WithTTL(d time.Duration) Option {
	return func(c *config) { c.ttl = d }
}

// WithWaitTimeout sets the follower wait bound for Coalesced.
// Defaults to DefaultWaitTimeout. Cached ignores it.
func WithWaitTimeout(d time.Duration) Option {
	return func(c *config) { c.waitTimeout = d }
}

// Cached memoizes a handler's successful responses by request key.
//
// A hit short-circuits without invoking the handler. On a miss the
// handler runs and a success response is stored before it is returned.
// Handler errors and error-status responses are never cached. Concurrent
// misses for the same key are not coordinated: the handler may run more
// than once and the last write wins.
func Cached(store *Store, opts ...Option) Middleware {
	cfg := applyOptions(opts)

	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (*Response, error) {
			if req.Bypass {
				return next(ctx, req)
			}

			key := req.Key()
			if v, ok := store.Get(key); ok {
				return v.(*Response), nil
			}

			resp, err := next(ctx, req)
			if err != nil {
				return nil, err
			}
			if resp.OK() {
				store.Set(key, resp, cfg.ttl)
			}
			return resp, nil
		}
	}
}

// Coalesced memoizes like Cached and additionally coalesces concurrent
// misses for the same key into a single handler invocation.
//
// The first request to miss becomes the leader: it registers an in-flight
// operation, runs the handler, writes a success response to the store,
// resolves the operation and removes it from the registry. Requests that
// miss while the operation is registered become followers and wait for
// the leader's result, bounded by the wait timeout. A follower whose wait
// expires, or whose leader failed, takes over the key and leads a new
// invocation; it never inherits the old leader's error. The leader
// enforces a safety timeout of twice the wait timeout: when it fires the
// operation is force-rejected with ErrProcessingTimeout and unregistered,
// so no follower can be stuck behind a handler that does not complete.
// The leader's own caller keeps waiting, bounded by its context, and
// receives the handler's genuine outcome; a late success is still
// written to the store.
func Coalesced(store *Store, flight *Flight, opts ...Option) Middleware {
	cfg := applyOptions(opts)
	logger := log.With().Str("component", "cache-coalesce").Logger()

	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (*Response, error) {
			if req.Bypass {
				return next(ctx, req)
			}

			key := req.Key()
			if v, ok := store.Get(key); ok {
				return v.(*Response), nil
			}

			op, leader := flight.begin(key)
			for !leader {
				timer := time.NewTimer(cfg.waitTimeout)
				select {
				case <-op.done:
					timer.Stop()
					if resp, err := op.result(); err == nil {
						// The leader stored the response before
						// resolving; serve it as a hit.
						FlightCoalesced.Inc()
						return resp, nil
					}
					// Leader failed; claim the key ourselves.
				case <-timer.C:
					FlightFollowerTimeouts.Inc()
					logger.Debug().
						Str("key", key).
						Dur("wait_timeout", cfg.waitTimeout).
						Msg("Follower wait timed out, taking over key")
				case <-ctx.Done():
					timer.Stop()
					return nil, ctx.Err()
				}
				op, leader = flight.takeover(key, op)
			}

			FlightLeaders.Inc()
			return lead(ctx, next, req, key, op, store, flight, cfg)
		}
	}
}

type outcome struct {
	resp *Response
	err  error
}

// lead runs the handler as the leader for key, settling op and removing
// it from the registry on every path. The store write for a success
// response happens inside the resolve commit, before any follower can
// observe the settled operation. Past the safety timeout the operation
// is settled for its followers, but the leader's caller still gets the
// handler's own result.
func lead(ctx context.Context, next Handler, req *Request, key string, op *operation, store *Store, flight *Flight, cfg config) (*Response, error) {
	results := make(chan outcome, 1)
	go func() {
		resp, err := next(ctx, req)
		results <- outcome{resp: resp, err: err}
	}()

	safety := time.NewTimer(2 * cfg.waitTimeout)
	defer safety.Stop()

	select {
	case out := <-results:
		defer flight.finish(key, op)
		if out.err != nil {
			op.reject(out.err)
			return nil, out.err
		}
		if !out.resp.OK() {
			// The caller gets the error response verbatim; followers
			// are released to run their own invocation.
			op.reject(fmt.Errorf("handler returned status %d", out.resp.StatusCode))
			return out.resp, nil
		}
		op.resolve(out.resp, func() {
			store.Set(key, out.resp, cfg.ttl)
		})
		return out.resp, nil

	case <-safety.C:
		// The handler missed the safety window. Release followers to
		// run their own invocation and clear the registry entry, but
		// keep waiting for the handler: its outcome still belongs to
		// the leader's caller, and a late success is still cached.
		FlightSafetyTimeouts.Inc()
		op.reject(ErrProcessingTimeout)
		flight.finish(key, op)

		select {
		case out := <-results:
			if out.err != nil {
				return nil, out.err
			}
			if !out.resp.OK() {
				return out.resp, nil
			}
			store.Set(key, out.resp, cfg.ttl)
			return out.resp, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
