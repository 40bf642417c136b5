package cache

import (
	"errors"
	"testing"
	"time"
)

func TestFlight_BeginLeaderAndFollower(t *testing.T) {
	f := NewFlight()

	op1, leader := f.begin("k")
	if !leader {
		t.Fatal("first begin should lead")
	}

	op2, leader := f.begin("k")
	if leader {
		t.Fatal("second begin for same key should follow")
	}
	if op1 != op2 {
		t.Error("follower should receive the leader's operation")
	}

	if _, leader := f.begin("other"); !leader {
		t.Error("begin for a different key should lead")
	}
	if f.Len() != 2 {
		t.Errorf("Len = %d, want 2", f.Len())
	}
}

func TestFlight_FinishRemovesOnlyCurrent(t *testing.T) {
	f := NewFlight()

	op, _ := f.begin("k")
	f.finish("k", op)
	if f.Len() != 0 {
		t.Fatal("finish should remove the registered operation")
	}

	// A stale finish must not clobber a newer epoch.
	next, _ := f.begin("k")
	f.finish("k", op)
	if f.Len() != 1 {
		t.Error("finish with a stale operation must leave the current one")
	}
	f.finish("k", next)
	if f.Len() != 0 {
		t.Error("finish with the current operation should remove it")
	}
}

func TestFlight_Takeover(t *testing.T) {
	f := NewFlight()

	stale, _ := f.begin("k")

	// First takeover wins and leads a new epoch.
	fresh, leader := f.takeover("k", stale)
	if !leader {
		t.Fatal("takeover of the registered operation should lead")
	}
	if fresh == stale {
		t.Fatal("takeover must install a fresh operation")
	}

	// A second caller still holding the stale operation loses the race
	// and follows the fresh epoch instead.
	cur, leader := f.takeover("k", stale)
	if leader {
		t.Error("losing takeover should follow")
	}
	if cur != fresh {
		t.Error("losing takeover should receive the current operation")
	}

	// Takeover of a vacant key leads.
	f.finish("k", fresh)
	if _, leader := f.takeover("k", fresh); !leader {
		t.Error("takeover of a vacant key should lead")
	}
}

func TestOperation_ResolveCommitsBeforeRelease(t *testing.T) {
	op := newOperation()
	committed := false

	done := make(chan struct{})
	go func() {
		<-op.done
		close(done)
	}()

	resp := &Response{StatusCode: 200, Body: []byte("ok")}
	if !op.resolve(resp, func() { committed = true }) {
		t.Fatal("first resolve should settle")
	}
	if !committed {
		t.Fatal("commit must run during resolve")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter was not released")
	}

	got, err := op.result()
	if err != nil || got != resp {
		t.Errorf("result = %v, %v; want resp, nil", got, err)
	}

	// Settling twice is a no-op.
	if op.resolve(resp, nil) {
		t.Error("second resolve should report already settled")
	}
	if op.reject(errors.New("late")) {
		t.Error("reject after resolve should report already settled")
	}
}

func TestOperation_Reject(t *testing.T) {
	op := newOperation()
	want := errors.New("upstream exploded")

	if !op.reject(want) {
		t.Fatal("first reject should settle")
	}

	select {
	case <-op.done:
	case <-time.After(time.Second):
		t.Fatal("reject must release waiters")
	}

	if _, err := op.result(); !errors.Is(err, want) {
		t.Errorf("result err = %v, want %v", err, want)
	}
}

func TestFlight_ForgetMatching(t *testing.T) {
	f := NewFlight()

	f.begin("/hotels?destination_id=WD0M")
	f.begin("/hotels/prices?destination_id=WD0M")
	f.begin("/hotels?destination_id=A6Dz")

	if removed := f.ForgetMatching("WD0M"); removed != 2 {
		t.Errorf("ForgetMatching removed %d, want 2", removed)
	}
	if f.Len() != 1 {
		t.Errorf("Len after ForgetMatching = %d, want 1", f.Len())
	}

	f.Reset()
	if f.Len() != 0 {
		t.Error("Reset should empty the registry")
	}
}

func TestFlight_ForgetAllowsNewLeader(t *testing.T) {
	f := NewFlight()

	old, _ := f.begin("k")
	if !f.Forget("k") {
		t.Fatal("Forget of registered key should report true")
	}
	if f.Forget("k") {
		t.Error("Forget of vacant key should report false")
	}

	// The forgotten operation still settles for its waiters, but a new
	// request leads a fresh epoch immediately.
	if _, leader := f.begin("k"); !leader {
		t.Error("begin after Forget should lead")
	}
	old.resolve(&Response{StatusCode: 200}, nil)
}
