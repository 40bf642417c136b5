package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testRequest() *Request {
	return &Request{Path: "/hotels", RawQuery: "destination_id=WD0M"}
}

func okResponse(body string) *Response {
	return &Response{StatusCode: 200, Body: []byte(body)}
}

func TestCached_HitShortCircuits(t *testing.T) {
	s := newTestStore(t, DefaultConfig())

	var calls int32
	h := Cached(s)(func(ctx context.Context, req *Request) (*Response, error) {
		atomic.AddInt32(&calls, 1)
		return okResponse(`{"hotels":[]}`), nil
	})

	first, err := h(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	second, err := h(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("handler ran %d times, want 1", got)
	}
	if string(first.Body) != string(second.Body) {
		t.Errorf("cached body differs: %q vs %q", first.Body, second.Body)
	}
}

func TestCached_MissStoresWithTTL(t *testing.T) {
	s := newTestStore(t, DefaultConfig())

	h := Cached(s, WithTTL(30*time.Second))(func(ctx context.Context, req *Request) (*Response, error) {
		return okResponse("fresh"), nil
	})

	if _, err := h(context.Background(), testRequest()); err != nil {
		t.Fatalf("call failed: %v", err)
	}

	key := testRequest().Key()
	if !s.Has(key) {
		t.Fatal("miss should populate the store")
	}
	exp, _ := s.ExpiresAt(key)
	if until := time.Until(exp); until > 31*time.Second || until < 25*time.Second {
		t.Errorf("entry TTL = %v, want ~30s", until)
	}
}

// Failures are deliberately not cached on either middleware path, so a
// transient upstream error never gets pinned for the full TTL.
func TestCached_FailuresNotCached(t *testing.T) {
	s := newTestStore(t, DefaultConfig())

	t.Run("handler error", func(t *testing.T) {
		h := Cached(s)(func(ctx context.Context, req *Request) (*Response, error) {
			return nil, errors.New("upstream unreachable")
		})
		if _, err := h(context.Background(), testRequest()); err == nil {
			t.Fatal("expected handler error to propagate")
		}
		if s.Has(testRequest().Key()) {
			t.Error("handler error must not be cached")
		}
	})

	t.Run("error status", func(t *testing.T) {
		h := Cached(s)(func(ctx context.Context, req *Request) (*Response, error) {
			return &Response{StatusCode: 502, Body: []byte("bad gateway")}, nil
		})
		resp, err := h(context.Background(), testRequest())
		if err != nil {
			t.Fatalf("error status should pass through, got err %v", err)
		}
		if resp.StatusCode != 502 {
			t.Errorf("status = %d, want 502", resp.StatusCode)
		}
		if s.Has(testRequest().Key()) {
			t.Error("error-status response must not be cached")
		}
	})
}

func TestCached_BypassSkipsReadAndWrite(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	s.Set(testRequest().Key(), okResponse("stale"), time.Minute)
	before := s.Stats()

	var calls int32
	h := Cached(s)(func(ctx context.Context, req *Request) (*Response, error) {
		atomic.AddInt32(&calls, 1)
		return okResponse("fresh"), nil
	})

	req := testRequest()
	req.Bypass = true
	resp, err := h(context.Background(), req)
	if err != nil {
		t.Fatalf("bypass call failed: %v", err)
	}

	if atomic.LoadInt32(&calls) != 1 {
		t.Error("bypass must invoke the handler")
	}
	if string(resp.Body) != "fresh" {
		t.Errorf("bypass served %q, want fresh handler result", resp.Body)
	}

	// No read: hit/miss counters untouched. No write: stored value intact.
	if after := s.Stats(); after.Hits != before.Hits || after.Misses != before.Misses {
		t.Errorf("bypass touched counters: before %+v, after %+v", before, after)
	}
	v, _ := s.Get(testRequest().Key())
	if string(v.(*Response).Body) != "stale" {
		t.Error("bypass must not overwrite the stored entry")
	}
}

// The non-atomic middleware makes no promise about concurrent misses:
// two requests that both miss run the handler twice. The scenario is
// fully gated so the double invocation is deterministic here, but in
// production it merely may happen.
func TestCached_ConcurrentMissesRunHandlerTwice(t *testing.T) {
	s := newTestStore(t, DefaultConfig())

	var calls int32
	entered := make(chan struct{}, 2)
	release := make(chan struct{})

	h := Cached(s)(func(ctx context.Context, req *Request) (*Response, error) {
		atomic.AddInt32(&calls, 1)
		entered <- struct{}{}
		<-release
		return okResponse("v"), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h(context.Background(), testRequest()); err != nil {
				t.Errorf("call failed: %v", err)
			}
		}()
	}

	for i := 0; i < 2; i++ {
		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			t.Fatal("both requests should enter the handler before either completes")
		}
	}
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("handler ran %d times, want 2 (no coalescing)", got)
	}
}

func TestCoalesced_SingleFlight(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	f := NewFlight()

	var n int32
	h := Coalesced(s, f)(func(ctx context.Context, req *Request) (*Response, error) {
		count := atomic.AddInt32(&n, 1)
		time.Sleep(100 * time.Millisecond)
		return okResponse(fmt.Sprintf(`{"count":%d}`, count)), nil
	})

	const callers = 3
	bodies := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := h(context.Background(), testRequest())
			if err != nil {
				t.Errorf("caller %d failed: %v", i, err)
				return
			}
			bodies[i] = string(resp.Body)
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&n); got != 1 {
		t.Errorf("handler ran %d times for %d concurrent callers, want 1", got, callers)
	}
	for i, body := range bodies {
		if body != `{"count":1}` {
			t.Errorf("caller %d got %q, want {\"count\":1}", i, body)
		}
	}
	if f.Len() != 0 {
		t.Errorf("registry holds %d operations after completion, want 0", f.Len())
	}
}

func TestCoalesced_FollowerTimeoutBecomesLeader(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	f := NewFlight()

	var starts []time.Time
	var mu sync.Mutex

	h := Coalesced(s, f, WithWaitTimeout(50*time.Millisecond))(func(ctx context.Context, req *Request) (*Response, error) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		time.Sleep(200 * time.Millisecond)
		return okResponse("slow"), nil
	})

	begin := time.Now()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		resp, err := h(context.Background(), testRequest())
		if err != nil {
			t.Errorf("leader failed: %v", err)
		} else if string(resp.Body) != "slow" {
			t.Errorf("leader got %q, want a real result", resp.Body)
		}
	}()
	time.Sleep(10 * time.Millisecond)
	go func() {
		defer wg.Done()
		resp, err := h(context.Background(), testRequest())
		if err != nil {
			t.Errorf("follower failed: %v", err)
		} else if string(resp.Body) != "slow" {
			t.Errorf("follower got %q, want a real result", resp.Body)
		}
	}()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(starts) != 2 {
		t.Fatalf("handler ran %d times, want 2 (follower promoted)", len(starts))
	}

	// The follower arrived ~10ms in and waited at most ~50ms before its
	// own invocation, so the second start must be well before the leader
	// completes at ~200ms.
	secondStart := starts[1].Sub(begin)
	if secondStart < 55*time.Millisecond {
		t.Errorf("second invocation started %v in, before the wait timeout could fire", secondStart)
	}
	if secondStart > 150*time.Millisecond {
		t.Errorf("second invocation started %v in, follower blocked past the wait timeout", secondStart)
	}
}

// The safety timeout settles the shared operation so followers never
// stay parked behind a slow handler, but the leader's own caller still
// receives the handler's genuine result once it arrives.
func TestCoalesced_SafetyTimeoutReleasesFollowersNotLeader(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	f := NewFlight()

	var n int32
	h := Coalesced(s, f, WithWaitTimeout(40*time.Millisecond))(func(ctx context.Context, req *Request) (*Response, error) {
		count := atomic.AddInt32(&n, 1)
		time.Sleep(150 * time.Millisecond) // past the 80ms safety window
		return okResponse(fmt.Sprintf("result-%d", count)), nil
	})

	start := time.Now()
	var wg sync.WaitGroup
	resps := make([]*Response, 2)
	errs := make([]error, 2)
	durations := make([]time.Duration, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		resps[0], errs[0] = h(context.Background(), testRequest())
		durations[0] = time.Since(start)
	}()
	time.Sleep(10 * time.Millisecond)
	go func() {
		defer wg.Done()
		resps[1], errs[1] = h(context.Background(), testRequest())
		durations[1] = time.Since(start)
	}()
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d got %v, want the handler's own result", i, err)
		}
	}
	if string(resps[0].Body) != "result-1" {
		t.Errorf("leader got %q, want its invocation's result", resps[0].Body)
	}
	if string(resps[1].Body) != "result-2" {
		t.Errorf("promoted follower got %q, want its own invocation's result", resps[1].Body)
	}
	// The leader rides out the full handler latency rather than being cut
	// off at the 80ms safety mark.
	if durations[0] < 140*time.Millisecond {
		t.Errorf("leader returned after %v, before its handler completed", durations[0])
	}
	if got := atomic.LoadInt32(&n); got != 2 {
		t.Errorf("handler ran %d times, want 2 (follower promoted)", got)
	}
	if f.Len() != 0 {
		t.Errorf("registry holds %d operations after completion, want 0", f.Len())
	}
	// Late successes are still cached.
	if !s.Has(testRequest().Key()) {
		t.Error("late success must still be written to the store")
	}
}

// A handler that genuinely never completes is bounded only by the
// caller's context; the registry entry is still cleared by the safety
// timeout so new requests are not blocked.
func TestCoalesced_StuckHandlerBoundedByContext(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	f := NewFlight()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	h := Coalesced(s, f, WithWaitTimeout(40*time.Millisecond))(func(ctx context.Context, req *Request) (*Response, error) {
		<-release // never completes during the test
		return okResponse("late"), nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := h(ctx, testRequest())
	elapsed := time.Since(start)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
	// Not released at the 80ms safety mark, only at the caller's deadline.
	if elapsed < 190*time.Millisecond {
		t.Errorf("released after %v, want the context deadline", elapsed)
	}
	if f.Len() != 0 {
		t.Errorf("registry holds %d operations, want 0 after the safety timeout", f.Len())
	}
	if s.Has(testRequest().Key()) {
		t.Error("nothing must be cached for a handler that never completed")
	}
}

func TestCoalesced_LeaderFailureReleasesFollowersPromptly(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	f := NewFlight()

	var calls int32
	h := Coalesced(s, f, WithWaitTimeout(2*time.Second))(func(ctx context.Context, req *Request) (*Response, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			time.Sleep(30 * time.Millisecond)
			return nil, errors.New("upstream hiccup")
		}
		return okResponse("recovered"), nil
	})

	var wg sync.WaitGroup
	var leaderErr error
	var followerResp *Response
	var followerErr error
	var followerDone time.Duration

	start := time.Now()
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, leaderErr = h(context.Background(), testRequest())
	}()
	time.Sleep(10 * time.Millisecond)
	go func() {
		defer wg.Done()
		followerResp, followerErr = h(context.Background(), testRequest())
		followerDone = time.Since(start)
	}()
	wg.Wait()

	if leaderErr == nil {
		t.Error("leader must receive the handler error verbatim")
	}
	if followerErr != nil {
		t.Fatalf("promoted follower failed: %v", followerErr)
	}
	if string(followerResp.Body) != "recovered" {
		t.Errorf("follower got %q, want its own fresh result", followerResp.Body)
	}
	// Released by the rejection, long before the 2s wait timeout.
	if followerDone > 500*time.Millisecond {
		t.Errorf("follower took %v, rejection should release it promptly", followerDone)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("handler ran %d times, want 2", got)
	}
}

func TestCoalesced_ErrorStatusPassesThroughUncached(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	f := NewFlight()

	var calls int32
	h := Coalesced(s, f)(func(ctx context.Context, req *Request) (*Response, error) {
		atomic.AddInt32(&calls, 1)
		return &Response{StatusCode: 502, Body: []byte("bad gateway")}, nil
	})

	for i := 0; i < 2; i++ {
		resp, err := h(context.Background(), testRequest())
		if err != nil {
			t.Fatalf("call %d: error status should pass through, got %v", i, err)
		}
		if resp.StatusCode != 502 {
			t.Errorf("call %d: status = %d, want 502", i, resp.StatusCode)
		}
	}

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("handler ran %d times, want 2 (failures are not memoized)", got)
	}
	if s.Has(testRequest().Key()) {
		t.Error("error-status response must not be cached")
	}
	if f.Len() != 0 {
		t.Errorf("registry holds %d operations, want 0", f.Len())
	}
}

func TestCoalesced_BypassSkipsStoreAndRegistry(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	f := NewFlight()
	s.Set(testRequest().Key(), okResponse("stale"), time.Minute)
	before := s.Stats()

	var registered int
	h := Coalesced(s, f)(func(ctx context.Context, req *Request) (*Response, error) {
		registered = f.Len()
		return okResponse("fresh"), nil
	})

	req := testRequest()
	req.Bypass = true
	resp, err := h(context.Background(), req)
	if err != nil {
		t.Fatalf("bypass call failed: %v", err)
	}

	if string(resp.Body) != "fresh" {
		t.Errorf("bypass served %q, want handler result", resp.Body)
	}
	if registered != 0 {
		t.Error("bypass must not register an in-flight operation")
	}
	if after := s.Stats(); after.Hits != before.Hits || after.Misses != before.Misses {
		t.Error("bypass must not read the store")
	}
	v, _ := s.Get(testRequest().Key())
	if string(v.(*Response).Body) != "stale" {
		t.Error("bypass must not write the store")
	}
}

func TestCoalesced_HitShortCircuits(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	f := NewFlight()
	s.Set(testRequest().Key(), okResponse("cached"), time.Minute)

	var calls int32
	h := Coalesced(s, f)(func(ctx context.Context, req *Request) (*Response, error) {
		atomic.AddInt32(&calls, 1)
		return okResponse("fresh"), nil
	})

	resp, err := h(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if string(resp.Body) != "cached" {
		t.Errorf("got %q, want cached value", resp.Body)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("hit must not invoke the handler")
	}
}

func TestCoalesced_ContextCancelledWhileFollowing(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	f := NewFlight()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	h := Coalesced(s, f, WithWaitTimeout(5*time.Second))(func(ctx context.Context, req *Request) (*Response, error) {
		<-release
		return okResponse("late"), nil
	})

	go h(context.Background(), testRequest()) // leader, parked

	time.Sleep(20 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := h(ctx, testRequest())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled follower got %v, want context.Canceled", err)
	}
}
