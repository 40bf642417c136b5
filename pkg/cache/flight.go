package cache

import (
	"errors"
	"strings"
	"sync"
)

// ErrProcessingTimeout is returned to callers still attached to an
// in-flight operation whose handler did not complete within the safety
// timeout (twice the wait timeout).
var ErrProcessingTimeout = errors.New("request processing timed out")

// operation is a single in-flight handler invocation that followers for
// the same key can await. It settles exactly once: either resolved with a
// response or rejected with an error.
type operation struct {
	done chan struct{}

	mu      sync.Mutex
	settled bool
	resp    *Response
	err     error
}

func newOperation() *operation {
	return &operation{done: make(chan struct{})}
}

// resolve settles the operation with a response. commit runs before the
// settlement becomes observable, so followers never see a resolved
// operation whose result has not been written to the store yet.
// Returns false if the operation was already settled.
func (o *operation) resolve(resp *Response, commit func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.settled {
		return false
	}
	if commit != nil {
		commit()
	}
	o.resp = resp
	o.settled = true
	close(o.done)
	return true
}

// reject settles the operation with an error, releasing all waiters.
func (o *operation) reject(err error) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.settled {
		return false
	}
	o.err = err
	o.settled = true
	close(o.done)
	return true
}

// result reads the settled outcome. Only valid after done is closed.
func (o *operation) result() (*Response, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.resp, o.err
}

// Flight is the per-key registry of in-flight operations used by the
// Coalesced middleware. At most one operation is registered per key at
// any instant; it is removed as soon as it settles.
type Flight struct {
	mu  sync.Mutex
	ops map[string]*operation
}

// NewFlight creates an empty registry.
func NewFlight() *Flight {
	return &Flight{ops: make(map[string]*operation)}
}

// begin returns the operation registered for key. leader is true when the
// caller created the operation and owns its settlement and removal.
func (f *Flight) begin(key string) (op *operation, leader bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if op, ok := f.ops[key]; ok {
		return op, false
	}
	op = newOperation()
	f.ops[key] = op
	FlightInFlight.Set(float64(len(f.ops)))
	return op, true
}

// takeover replaces a stale operation with a fresh one. The caller
// becomes the leader only if stale is still the registered operation or
// the key is vacant; otherwise another caller got there first and the
// current operation is returned to follow.
func (f *Flight) takeover(key string, stale *operation) (op *operation, leader bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cur, ok := f.ops[key]; ok && cur != stale {
		return cur, false
	}
	op = newOperation()
	f.ops[key] = op
	FlightInFlight.Set(float64(len(f.ops)))
	return op, true
}

// finish removes op from the registry if it is still the one registered
// for key. A later epoch's operation is left untouched.
func (f *Flight) finish(key string, op *operation) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cur, ok := f.ops[key]; ok && cur == op {
		delete(f.ops, key)
		FlightInFlight.Set(float64(len(f.ops)))
	}
}

// Forget removes the operation for key, if any. Waiters already attached
// keep waiting for the original leader's outcome; new requests start a
// fresh operation.
func (f *Flight) Forget(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.ops[key]; !ok {
		return false
	}
	delete(f.ops, key)
	FlightInFlight.Set(float64(len(f.ops)))
	return true
}

// ForgetMatching removes every operation whose key contains substr as a
// plain substring and returns the number removed.
func (f *Flight) ForgetMatching(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed := 0
	for key := range f.ops {
		if strings.Contains(key, substr) {
			delete(f.ops, key)
			removed++
		}
	}
	if removed > 0 {
		FlightInFlight.Set(float64(len(f.ops)))
	}
	return removed
}

// Reset removes every registered operation.
func (f *Flight) Reset() {
	f.mu.Lock()
	f.ops = make(map[string]*operation)
	FlightInFlight.Set(0)
	f.mu.Unlock()
}

// Len returns the number of currently registered operations.
func (f *Flight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ops)
}
