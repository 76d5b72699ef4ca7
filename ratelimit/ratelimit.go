// Package ratelimit caps meter-event dispatch per billing customer. It
// protects the ingestion API's own limits and bounds the damage of a caller
// stuck in a retry loop. Uses a sliding window over events-per-minute.
// Supports both in-memory (single instance) and Redis (distributed) backends.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter reports whether another dispatch is allowed for a customer.
// A denied dispatch does not consume window capacity.
type RateLimiter interface {
	Allow(ctx context.Context, customerID string, limit int) (bool, error)
}

// InMemoryRateLimiter implements per-customer windows in process memory.
type InMemoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count   int
	resetAt time.Time
}

func NewInMemoryRateLimiter() *InMemoryRateLimiter {
	return &InMemoryRateLimiter{
		windows: make(map[string]*window),
	}
}

func (r *InMemoryRateLimiter) Allow(ctx context.Context, customerID string, limit int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	w, ok := r.windows[customerID]
	if !ok || now.After(w.resetAt) {
		w = &window{resetAt: now.Add(time.Minute)}
		r.windows[customerID] = w
	}

	if w.count >= limit {
		return false, nil
	}

	w.count++
	return true, nil
}
