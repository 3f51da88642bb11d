package core

import "time"

// RateLimitState captures the persisted per-endpoint backoff imposed by a
// remote server (HTTP 429). Admission counting itself is in-memory.
type RateLimitState struct {
	BackoffUntil *time.Time `json:"backoff_until,omitempty"`
	Last429At    *time.Time `json:"last_429_at,omitempty"`
}
