package publisher

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy computes publish retry delays: exponential backoff with
// additive jitter, clamped at MaxInterval. The random source is injected
// so tests can pin the jitter.
type RetryPolicy struct {
	InitialInterval time.Duration
	Multiplier      float64
	Jitter          time.Duration
	MaxInterval     time.Duration
}

// Delay returns the backoff before attempt retryCount (1-based):
// initial * multiplier^(retryCount-1) + uniform(0, jitter), clamped.
func (p RetryPolicy) Delay(retryCount int, rnd *rand.Rand) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}

	backoff := float64(p.InitialInterval) * math.Pow(p.Multiplier, float64(retryCount-1))
	if backoff > float64(p.MaxInterval) || backoff < 0 {
		backoff = float64(p.MaxInterval)
	}

	delay := time.Duration(backoff)
	if p.Jitter > 0 {
		delay += time.Duration(rnd.Int63n(int64(p.Jitter)))
	}
	if delay > p.MaxInterval {
		delay = p.MaxInterval
	}
	return delay
}
