package local

import (
	"math/rand"
	"time"
)

// BackoffConfig defines dial retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// DefaultBackoff keeps retries short; a local agent is either there or not.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 50 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     time.Second,
		Jitter:       true,
	}
}

// localDelayCap bounds retries when MaxDelay is unset. A local agent that
// has not bound its socket within a second is not starting.
const localDelayCap = time.Second

// NextBackoffDelay returns the wait before dial attempt N+1 (attempt is
// 1-based). The delay grows by Multiplier per failed attempt and never
// exceeds the cap; jitter only shortens it, down to half, so a retry loop
// never waits longer than the configured ceiling.
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	limit := cfg.MaxDelay
	if limit <= 0 {
		limit = max(localDelayCap, cfg.InitialDelay)
	}
	mult := max(cfg.Multiplier, 1.0)

	delay := cfg.InitialDelay
	for i := 1; i < attempt && delay < limit; i++ {
		next := time.Duration(float64(delay) * mult)
		if next <= delay {
			break
		}
		delay = next
	}
	delay = min(delay, limit)

	if cfg.Jitter && attempt > 1 {
		f := 0.75
		if rng != nil {
			f = 0.5 + rng.Float64()/2
		}
		delay = time.Duration(float64(delay) * f)
	}
	return delay
}
