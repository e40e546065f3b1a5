// Package ratelimit throttles tracker ingest with a token bucket whose
// rate can be swapped at runtime by a config reload.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter is a reloadable token-bucket limiter. A zero rate disables
// limiting entirely.
type Limiter struct {
	mu  sync.RWMutex
	lim *rate.Limiter
}

// New creates a Limiter with the given initial rate.
func New(rps float64, burst int) *Limiter {
	l := &Limiter{}
	l.Set(rps, burst)
	return l
}

// Set replaces the limit. Zero or negative rps removes it. A
// non-positive burst defaults to one second's worth of tokens.
func (l *Limiter) Set(rps float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rps <= 0 {
		l.lim = nil
		return
	}
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	l.lim = rate.NewLimiter(rate.Limit(rps), burst)
}

// Allow reports whether one more request may pass.
func (l *Limiter) Allow() bool {
	l.mu.RLock()
	lim := l.lim
	l.mu.RUnlock()

	if lim == nil {
		return true
	}
	return lim.Allow()
}
