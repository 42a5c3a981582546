package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff computes the pause before retry number attempt (1-based)
type Backoff interface {
	Delay(attempt int) time.Duration
}

// Exponential doubles the delay after every failed attempt, starting at
// Base and never exceeding Max. Jitter spreads each delay by up to that
// fraction in either direction.
type Exponential struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

// DefaultExponential starts at one second and caps at thirty
func DefaultExponential() *Exponential {
	return &Exponential{Base: time.Second, Max: 30 * time.Second, Jitter: 0.1}
}

func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt <= 0 || e.Base <= 0 {
		return 0
	}

	d := e.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if e.Max > 0 && d >= e.Max {
			d = e.Max
			break
		}
	}
	if e.Max > 0 && d > e.Max {
		d = e.Max
	}

	if e.Jitter > 0 {
		spread := float64(d) * e.Jitter
		d += time.Duration(spread * (2*rand.Float64() - 1))
	}
	return max(d, 0)
}

// Constant waits the same amount before every retry
type Constant time.Duration

func (c Constant) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return time.Duration(c)
}

// sleep pauses for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
