package alerts

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes exponential retry delays with jitter.
type Backoff struct {
	Initial    time.Duration `yaml:"initial"`    // default: 500ms
	Max        time.Duration `yaml:"max"`        // default: 10s
	Multiplier float64       `yaml:"multiplier"` // default: 2.0
	Jitter     float64       `yaml:"jitter"`     // 0-1, default: 0.1
}

// DefaultBackoff returns the delivery retry defaults.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    500 * time.Millisecond,
		Max:        10 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

func (b *Backoff) setDefaults() {
	d := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Multiplier < 1 {
		b.Multiplier = d.Multiplier
	}
	if b.Jitter < 0 || b.Jitter > 1 {
		b.Jitter = d.Jitter
	}
}

// Delay returns the wait before retry number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	// initial * multiplier^attempt, capped at max
	delay := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt))
	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}

	// delay * (1 + random(-jitter, +jitter))
	if b.Jitter > 0 {
		jitterRange := delay * b.Jitter
		delay += (rand.Float64()*2 - 1) * jitterRange
	}

	if delay < 0 {
		delay = float64(b.Initial)
	}
	return time.Duration(delay)
}
