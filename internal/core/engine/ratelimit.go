package engine

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/riskledger/riskledger/internal/core"
)

// Registry hands out one SlidingWindow per outbound endpoint (host).
// Server-imposed backoffs are persisted through Store so they survive restarts.
type Registry struct {
	Store  BackoffStore
	Limits map[string]RateLimit
	Clock  func() time.Time
	Margin float64

	mu      sync.Mutex
	windows map[string]*SlidingWindow
}

// RateLimit represents a rate limit window.
type RateLimit struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// BackoffStore stores per-endpoint backoff state.
type BackoffStore interface {
	GetRateLimit(ctx context.Context, endpoint string) (*core.RateLimitState, error)
	UpdateRateLimit(ctx context.Context, endpoint string, state *core.RateLimitState) error
}

// EndpointStatus is a point-in-time view of one endpoint's window.
type EndpointStatus struct {
	Endpoint     string        `json:"endpoint"`
	Limit        int           `json:"limit"`
	Window       time.Duration `json:"window"`
	Remaining    int           `json:"remaining"`
	RetryAfter   time.Duration `json:"retry_after"`
	BackoffUntil *time.Time    `json:"backoff_until,omitempty"`
}

// DefaultLimits provides conservative defaults per endpoint.
var DefaultLimits = map[string]RateLimit{
	"attack-taxii.mitre.org":    {RequestsPerWindow: 10, WindowDuration: time.Minute},
	"cti-taxii.mitre.org":       {RequestsPerWindow: 10, WindowDuration: time.Minute},
	"raw.githubusercontent.com": {RequestsPerWindow: 60, WindowDuration: time.Minute},
}

// NewRegistry creates a registry over the default limits.
func NewRegistry(store BackoffStore) *Registry {
	return &Registry{Store: store}
}

// Limiter returns the window for an endpoint, creating it on first use.
// A persisted backoff is applied before the window is published.
// A store failure still yields a usable window alongside the error.
func (r *Registry) Limiter(ctx context.Context, endpoint string) (*SlidingWindow, error) {
	endpoint = normalizeEndpoint(endpoint)

	r.mu.Lock()
	if w, ok := r.windows[endpoint]; ok {
		r.mu.Unlock()
		return w, nil
	}
	r.mu.Unlock()

	var (
		backoffUntil *time.Time
		loadErr      error
	)
	if r.Store != nil {
		state, err := r.Store.GetRateLimit(ctx, endpoint)
		if err != nil {
			loadErr = err
		} else if state != nil {
			backoffUntil = state.BackoffUntil
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.windows == nil {
		r.windows = make(map[string]*SlidingWindow)
	}
	// Another caller may have published while the store was read.
	if w, ok := r.windows[endpoint]; ok {
		if backoffUntil != nil {
			w.Backoff(*backoffUntil)
		}
		return w, nil
	}

	limit := r.getLimit(endpoint)
	w := NewSlidingWindow(limit.RequestsPerWindow, limit.WindowDuration, WithClock(r.now))
	if backoffUntil != nil {
		w.Backoff(*backoffUntil)
	}
	r.windows[endpoint] = w
	return w, loadErr
}

// Record429 applies a backoff window from a 429 response and persists it.
func (r *Registry) Record429(ctx context.Context, endpoint string, retryAfter time.Duration) error {
	w, err := r.Limiter(ctx, endpoint)
	if err != nil {
		return err
	}

	now := r.now()
	state := &core.RateLimitState{Last429At: &now}
	if retryAfter > 0 {
		until := now.Add(retryAfter)
		state.BackoffUntil = &until
		w.Backoff(until)
	}

	if r.Store == nil {
		return nil
	}
	return r.Store.UpdateRateLimit(ctx, normalizeEndpoint(endpoint), state)
}

// Snapshot reports the state of every endpoint window created so far.
func (r *Registry) Snapshot() []EndpointStatus {
	r.mu.Lock()
	endpoints := make([]string, 0, len(r.windows))
	windows := make(map[string]*SlidingWindow, len(r.windows))
	for endpoint, w := range r.windows {
		endpoints = append(endpoints, endpoint)
		windows[endpoint] = w
	}
	r.mu.Unlock()

	sort.Strings(endpoints)
	statuses := make([]EndpointStatus, 0, len(endpoints))
	for _, endpoint := range endpoints {
		w := windows[endpoint]
		status := EndpointStatus{
			Endpoint:   endpoint,
			Limit:      w.Limit(),
			Window:     w.Window(),
			Remaining:  w.Remaining(),
			RetryAfter: w.RetryAfter(),
		}
		if until, ok := w.BackoffUntil(); ok {
			status.BackoffUntil = &until
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// ApplyOverrides merges per-endpoint request overrides (per minute).
// Windows already handed out keep their limits.
func (r *Registry) ApplyOverrides(overrides map[string]int) {
	if r == nil || len(overrides) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Limits == nil {
		r.Limits = make(map[string]RateLimit, len(DefaultLimits))
		for key, limit := range DefaultLimits {
			r.Limits[key] = limit
		}
	}

	for endpoint, value := range overrides {
		endpoint = normalizeEndpoint(endpoint)
		if endpoint == "" || value <= 0 {
			continue
		}
		r.Limits[endpoint] = RateLimit{
			RequestsPerWindow: value,
			WindowDuration:    time.Minute,
		}
	}
}

// ApplySafetyMargin adjusts the effective request limits by a ratio (0-1].
func (r *Registry) ApplySafetyMargin(margin float64) {
	if r == nil {
		return
	}
	if margin <= 0 || margin > 1 {
		return
	}
	r.Margin = margin
}

func (r *Registry) getLimit(endpoint string) RateLimit {
	limits := r.Limits
	if limits == nil {
		limits = DefaultLimits
	}

	if limit, ok := limits[endpoint]; ok {
		return r.applyMargin(limit)
	}

	return r.applyMargin(RateLimit{RequestsPerWindow: 30, WindowDuration: time.Minute})
}

func (r *Registry) now() time.Time {
	if r != nil && r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}

func (r *Registry) applyMargin(limit RateLimit) RateLimit {
	if r.Margin <= 0 || r.Margin > 1 {
		return limit
	}
	adjusted := int(math.Floor(float64(limit.RequestsPerWindow) * r.Margin))
	if adjusted < 1 {
		adjusted = 1
	}
	limit.RequestsPerWindow = adjusted
	return limit
}

func normalizeEndpoint(endpoint string) string {
	return strings.ToLower(strings.TrimSpace(endpoint))
}
