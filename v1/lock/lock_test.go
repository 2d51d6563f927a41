package lock

import (
	"testing"
	"time"

	"github.com/mirkobrombin/go-lockstep/v1/clock"
)

func TestWindowTryAcquireOwnerAndRelease(t *testing.T) {
	c := clock.NewManual(time.Unix(0, 0))
	w := NewWindow(DefaultTTL, WithClock(c))
	if !w.TryAcquire("a") {
		t.Fatal("expected free window to be acquired")
	}
	if !w.TryAcquire("a") {
		t.Fatal("owner must pass while holding the window")
	}
	if w.TryAcquire("b") {
		t.Fatal("expected window held by a")
	}
	if owner, ok := w.Owner(); !ok || owner != "a" {
		t.Fatalf("unexpected owner %q held %v", owner, ok)
	}
	if w.Release("b") {
		t.Fatal("non-owner must not release")
	}
	if !w.Release("a") {
		t.Fatal("owner release failed")
	}
	if !w.TryAcquire("b") {
		t.Fatal("expected window re-acquired after release")
	}
}

func TestWindowExpiresAfterTTL(t *testing.T) {
	c := clock.NewManual(time.Unix(0, 0))
	var released []string
	w := NewWindow(DefaultTTL, WithClock(c), WithReleaseHook(func(o string) { released = append(released, o) }))
	w.TryAcquire("a")

	c.Advance(DefaultTTL - time.Millisecond)
	if w.TryAcquire("b") {
		t.Fatal("window expired early")
	}
	c.Advance(time.Millisecond)
	if _, ok := w.Owner(); ok {
		t.Fatal("window should be free after ttl")
	}
	if len(released) != 1 || released[0] != "a" {
		t.Fatalf("unexpected release hook calls %v", released)
	}
	if !w.TryAcquire("b") {
		t.Fatal("expected b to acquire after expiry")
	}
}

func TestWindowNotRearmedBySameOrigin(t *testing.T) {
	c := clock.NewManual(time.Unix(0, 0))
	w := NewWindow(DefaultTTL, WithClock(c))
	w.TryAcquire("a")
	c.Advance(60 * time.Millisecond)
	w.TryAcquire("a")
	c.Advance(40 * time.Millisecond)
	if _, ok := w.Owner(); ok {
		t.Fatal("same-origin acquisition must not extend the window")
	}
}

func TestWindowStaleTimerDoesNotClearNewOwner(t *testing.T) {
	c := clock.NewManual(time.Unix(0, 0))
	w := NewWindow(DefaultTTL, WithClock(c))
	w.TryAcquire("a")
	w.Release("a")
	c.Advance(50 * time.Millisecond)
	w.TryAcquire("b")
	c.Advance(50 * time.Millisecond)
	if owner, ok := w.Owner(); !ok || owner != "b" {
		t.Fatalf("expected b to keep the window, got %q %v", owner, ok)
	}
	c.Advance(50 * time.Millisecond)
	if _, ok := w.Owner(); ok {
		t.Fatal("expected b's window to expire")
	}
}

func TestWindowZeroTTLHoldsUntilRelease(t *testing.T) {
	c := clock.NewManual(time.Unix(0, 0))
	w := NewWindow(0, WithClock(c))
	w.TryAcquire("a")
	c.Advance(time.Hour)
	if _, ok := w.Owner(); !ok {
		t.Fatal("zero ttl window must not expire")
	}
	w.Stop()
	if _, ok := w.Owner(); ok {
		t.Fatal("stop must free the window")
	}
}
