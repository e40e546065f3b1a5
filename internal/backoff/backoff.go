// Package backoff implements the full-jitter delay generator used
// between delivery retries.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Generator produces full-jitter backoff delays bounded by [Min, Max].
// The ceiling grows by a factor of three per step, so concurrent
// failing batches spread out instead of retrying in lockstep.
type Generator struct {
	Min time.Duration
	Max time.Duration
}

// Next returns the wait that should follow an attempt whose wait was
// last. Pass Min for the first attempt. The result is uniformly
// sampled from [Min, 3*last) and capped at Max.
func (g Generator) Next(last time.Duration) time.Duration {
	raw := g.Min + time.Duration(rand.Float64()*float64(3*last-g.Min))
	if raw > g.Max {
		return g.Max
	}
	return raw
}
