package scheduler

import (
	"math"
	"time"
)

// Backoff computes the delay before retry n. n is 1 for the first retry.
type Backoff interface {
	Delay(n int) time.Duration
}

// Fixed waits the same delay before every retry.
type Fixed struct {
	Interval time.Duration
}

func (f Fixed) Delay(int) time.Duration { return f.Interval }

// Exponential doubles the delay on each retry, capped at Max.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

func (e Exponential) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(n-1)))
	if e.Max > 0 && (d > e.Max || d <= 0) {
		return e.Max
	}
	return d
}

// NewBackoff returns Exponential for "exponential" and Fixed otherwise.
func NewBackoff(kind string, delay, maxDelay time.Duration) Backoff {
	if kind == "exponential" {
		return Exponential{Initial: delay, Max: maxDelay}
	}
	return Fixed{Interval: delay}
}
