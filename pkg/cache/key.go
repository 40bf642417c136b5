package cache

import (
	"context"
	"net/http"
)

// BypassHeader marks a request that must skip the cache entirely:
// no store read, no store write, no coalescing.
const BypassHeader = "X-Cache-Bypass"

// Request is the cache-relevant view of an incoming request.
type Request struct {
	// Path is the request path (e.g. "/hotels").
	Path string

	// RawQuery is the query string exactly as received, without the "?".
	RawQuery string

	// Bypass disables all caching behavior for this request.
	Bypass bool
}

// Key returns the cache key for this request.
func (r *Request) Key() string {
	return Key(r.Path, r.RawQuery)
}

// Key builds a cache key from a path and a raw query string.
// The query is taken verbatim: parameter order and case are significant,
// so /hotels?a=1&b=2 and /hotels?b=2&a=1 map to different entries.
func Key(path, rawQuery string) string {
	if rawQuery == "" {
		return path
	}
	return path + "?" + rawQuery
}

// FromHTTP derives a Request from an incoming HTTP request.
// The bypass flag is read from the BypassHeader header.
func FromHTTP(req *http.Request) *Request {
	return &Request{
		Path:     req.URL.Path,
		RawQuery: req.URL.RawQuery,
		Bypass:   req.Header.Get(BypassHeader) != "",
	}
}

// Response is a materialized handler response suitable for caching.
type Response struct {
	// StatusCode is the HTTP status code of the response.
	StatusCode int

	// Header holds the response headers, may be nil.
	Header http.Header

	// Body is the raw response payload. Cached responses are served
	// byte-identical to the response produced by the handler.
	Body []byte
}

// OK reports whether the response is a success for caching purposes.
// Error responses are never cached.
func (r *Response) OK() bool {
	return r.StatusCode < 400
}

// Handler produces a response for a request. It is the unit both
// middlewares wrap. Handlers signal failure through the error return;
// an error-status Response with a nil error is delivered to the caller
// but treated as not cacheable.
type Handler func(ctx context.Context, req *Request) (*Response, error)

// Middleware decorates a Handler.
type Middleware func(Handler) Handler
