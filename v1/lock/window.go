package lock

import (
	"sync"
	"time"

	"github.com/mirkobrombin/go-lockstep/v1/clock"
)

// DefaultTTL is how long an origin keeps the window after acquiring it.
const DefaultTTL = 100 * time.Millisecond

// Window is an owner-aware lock with automatic release.
type Window struct {
	mu    sync.Mutex
	clock clock.Clock
	ttl   time.Duration

	owner string
	held  bool
	gen   uint64
	timer clock.Timer

	onRelease func(owner string)
}

// Option configures a Window.
type Option func(*Window)

// WithClock schedules the release on c instead of the wall clock.
func WithClock(c clock.Clock) Option {
	return func(w *Window) {
		if c != nil {
			w.clock = c
		}
	}
}

// WithReleaseHook registers fn to run after the window expires or is released.
// fn runs outside the window mutex.
func WithReleaseHook(fn func(owner string)) Option {
	return func(w *Window) { w.onRelease = fn }
}

// NewWindow returns a window that is held for ttl after each acquisition.
// A non-positive ttl keeps the window until Release is called.
func NewWindow(ttl time.Duration, opts ...Option) *Window {
	w := &Window{clock: clock.New(), ttl: ttl}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// TryAcquire reports whether origin may propagate now. A free window is taken
// by origin; a window already held by origin stays as is and is not re-armed.
func (w *Window) TryAcquire(origin string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.held {
		return w.owner == origin
	}
	w.held = true
	w.owner = origin
	w.gen++
	if w.ttl > 0 {
		gen := w.gen
		w.timer = w.clock.AfterFunc(w.ttl, func() { w.expire(gen) })
	}
	return true
}

// Owner returns the current holder, if any.
func (w *Window) Owner() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.owner, w.held
}

// Release frees the window early if origin holds it.
func (w *Window) Release(origin string) bool {
	w.mu.Lock()
	if !w.held || w.owner != origin {
		w.mu.Unlock()
		return false
	}
	if w.timer != nil {
		w.timer.Cancel()
		w.timer = nil
	}
	w.clear()
	w.mu.Unlock()
	w.notify(origin)
	return true
}

// Stop cancels a pending release and frees the window without running the hook.
func (w *Window) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Cancel()
		w.timer = nil
	}
	w.clear()
}

func (w *Window) expire(gen uint64) {
	w.mu.Lock()
	if !w.held || w.gen != gen {
		w.mu.Unlock()
		return
	}
	owner := w.owner
	w.timer = nil
	w.clear()
	w.mu.Unlock()
	w.notify(owner)
}

func (w *Window) clear() {
	w.held = false
	w.owner = ""
}

func (w *Window) notify(owner string) {
	if w.onRelease != nil {
		w.onRelease(owner)
	}
}
