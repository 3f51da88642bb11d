package engine

import (
	"sync"
	"time"
)

// SlidingWindow admits at most limit calls in any rolling window of the
// configured duration. Timestamps older than the window are purged before
// every inspection. The purge-check-record sequence runs under one lock, so a
// window can be shared by concurrent callers without overshooting the limit.
type SlidingWindow struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu           sync.Mutex
	events       []time.Time
	backoffUntil time.Time
}

// WindowOption configures a SlidingWindow.
type WindowOption func(*SlidingWindow)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock func() time.Time) WindowOption {
	return func(w *SlidingWindow) {
		if clock != nil {
			w.clock = clock
		}
	}
}

// NewSlidingWindow constructs a limiter allowing limit calls per window.
// A limit below one is raised to one and a non-positive window falls back to a minute.
func NewSlidingWindow(limit int, window time.Duration, opts ...WindowOption) *SlidingWindow {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	w := &SlidingWindow{
		limit:  limit,
		window: window,
		clock:  func() time.Time { return time.Now().UTC() },
		events: make([]time.Time, 0, limit),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Allow is the admission check. It records the call and returns true when
// fewer than limit calls remain in the window; otherwise it returns false and
// leaves the window untouched.
func (w *SlidingWindow) Allow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock()
	w.purge(now)
	if now.Before(w.backoffUntil) {
		return false
	}
	if len(w.events) >= w.limit {
		return false
	}
	w.events = append(w.events, now)
	return true
}

// Remaining returns how many calls would be admitted right now, without recording one.
func (w *SlidingWindow) Remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock()
	w.purge(now)
	if now.Before(w.backoffUntil) {
		return 0
	}
	remaining := w.limit - len(w.events)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RetryAfter returns how long until the next call would be admitted. It is
// zero when a slot is free.
func (w *SlidingWindow) RetryAfter() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock()
	w.purge(now)

	var wait time.Duration
	if now.Before(w.backoffUntil) {
		wait = w.backoffUntil.Sub(now)
	}
	if len(w.events) >= w.limit {
		// events are ordered, so the oldest one frees the next slot
		if free := w.events[0].Add(w.window).Sub(now); free > wait {
			wait = free
		}
	}
	return wait
}

// Backoff rejects every call until the given instant, on top of the window.
// An earlier deadline than the current one is ignored.
func (w *SlidingWindow) Backoff(until time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if until.After(w.backoffUntil) {
		w.backoffUntil = until
	}
}

// BackoffUntil reports the active server-imposed backoff deadline, if any.
func (w *SlidingWindow) BackoffUntil() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.clock().Before(w.backoffUntil) {
		return w.backoffUntil, true
	}
	return time.Time{}, false
}

// Limit returns the maximum number of calls per window.
func (w *SlidingWindow) Limit() int {
	return w.limit
}

// Window returns the rolling window length.
func (w *SlidingWindow) Window() time.Duration {
	return w.window
}

// purge drops timestamps that have aged out. Callers must hold mu.
func (w *SlidingWindow) purge(now time.Time) {
	cutoff := 0
	for cutoff < len(w.events) && now.Sub(w.events[cutoff]) >= w.window {
		cutoff++
	}
	if cutoff == 0 {
		return
	}
	kept := copy(w.events, w.events[cutoff:])
	w.events = w.events[:kept]
}
