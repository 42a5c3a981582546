package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// LowRemaining is the remaining count at or below which a budget is low
const LowRemaining = 5

// Status is the server-reported request budget for an endpoint
type Status struct {
	Remaining int
	Limit     int
	Reset     time.Time
	// Known is false when the response carried no rate-limit headers
	Known bool
}

// Exhausted reports whether no requests remain
func (s Status) Exhausted() bool {
	return s.Known && s.Remaining <= 0
}

// Low reports whether the budget is at or below LowRemaining
func (s Status) Low() bool {
	return s.Known && s.Remaining <= LowRemaining
}

// FromHeaders reads x-rate-limit-remaining, x-rate-limit-limit and
// x-rate-limit-reset (unix seconds). Missing or malformed headers leave
// Known false.
func FromHeaders(h http.Header) Status {
	remaining, err1 := strconv.Atoi(h.Get("x-rate-limit-remaining"))
	limit, err2 := strconv.Atoi(h.Get("x-rate-limit-limit"))
	reset, err3 := strconv.ParseInt(h.Get("x-rate-limit-reset"), 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return Status{}
	}
	return Status{
		Remaining: remaining,
		Limit:     limit,
		Reset:     time.Unix(reset, 0),
		Known:     true,
	}
}

// Limiter defines the interface for client-side rate limiting
type Limiter interface {
	// Allow checks if a request is allowed under the current rate limit
	Allow() bool
	// Wait blocks until the rate limit allows another request or ctx is done
	Wait(ctx context.Context) error
	// Reset resets the rate limiter state
	Reset()
}

// SlidingWindow implements a sliding window rate limiter
type SlidingWindow struct {
	windowSize  time.Duration
	maxRequests int
	requests    []time.Time
	now         func() time.Time
	mu          sync.Mutex
}

// NewSlidingWindow creates a new sliding window rate limiter. A maxRequests
// of zero or less disables limiting.
func NewSlidingWindow(maxRequests int, windowSize time.Duration) *SlidingWindow {
	return &SlidingWindow{
		windowSize:  windowSize,
		maxRequests: maxRequests,
		now:         time.Now,
	}
}

// Allow checks if a request can proceed
func (sw *SlidingWindow) Allow() bool {
	_, ok := sw.reserve()
	return ok
}

// reserve records a request if allowed, else returns how long until the
// oldest request leaves the window
func (sw *SlidingWindow) reserve() (time.Duration, bool) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.maxRequests <= 0 {
		return 0, true
	}

	now := sw.now()
	sw.cleanOldRequests(now)

	if len(sw.requests) < sw.maxRequests {
		sw.requests = append(sw.requests, now)
		return 0, true
	}
	return sw.windowSize - now.Sub(sw.requests[0]), false
}

// Wait blocks until a request is allowed
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		wait, ok := sw.reserve()
		if ok {
			return nil
		}
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Reset clears all recorded requests
func (sw *SlidingWindow) Reset() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.requests = sw.requests[:0]
}

// cleanOldRequests removes requests outside the sliding window
func (sw *SlidingWindow) cleanOldRequests(now time.Time) {
	cutoff := now.Add(-sw.windowSize)

	i := 0
	for i < len(sw.requests) && !sw.requests[i].After(cutoff) {
		i++
	}

	if i > 0 {
		sw.requests = append(sw.requests[:0], sw.requests[i:]...)
	}
}
