package retry

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/marcelsud/webhook-dispatch/webhook"
)

// JitterFraction is the upper bound of the random delay added to a backoff
const JitterFraction = 0.1

/* Scheduler computes exponential backoff with jitter.
 * Clock and random source are injected so tests can pin both.
 */
type Scheduler struct {
	Clock webhook.Clock
	Rand  func() float64 // uniform in [0, 1)
}

func NewScheduler(clock webhook.Clock, random func() float64) *Scheduler {
	if clock == nil {
		clock = webhook.SystemClock{}
	}
	if random == nil {
		random = rand.Float64
	}
	return &Scheduler{Clock: clock, Rand: random}
}

// Delay returns the wait after the given number of attempts already made.
// Attempt 1 waits InitialDelay, each later attempt multiplies it, capped at
// MaxDelay, plus up to 10% jitter.
func (s *Scheduler) Delay(attempt int, policy webhook.RetryPolicy) time.Duration {
	base := BaseDelay(attempt, policy)
	jitter := time.Duration(float64(base) * JitterFraction * s.Rand())
	return base + jitter
}

// NextRetryTime is the instant at which the next attempt becomes due
func (s *Scheduler) NextRetryTime(attempt int, policy webhook.RetryPolicy) time.Time {
	return s.Clock.Now().Add(s.Delay(attempt, policy))
}

// BaseDelay is the backoff without jitter
func BaseDelay(attempt int, policy webhook.RetryPolicy) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(policy.InitialDelay) * math.Pow(policy.BackoffMultiplier, float64(attempt-1))
	if delay > float64(policy.MaxDelay) || math.IsInf(delay, 1) || math.IsNaN(delay) {
		return policy.MaxDelay
	}
	return time.Duration(delay)
}
