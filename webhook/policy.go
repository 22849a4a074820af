package webhook

import (
	"encoding/json"
	"fmt"
	"time"
)

// RetryPolicy controls how often and how fast a delivery is retried,
// and whether the destination is protected by a circuit breaker.
type RetryPolicy struct {
	MaxRetries              int
	InitialDelay            time.Duration
	MaxDelay                time.Duration
	BackoffMultiplier       float64
	EnableCircuitBreaker    bool
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

// DefaultRetryPolicy returns the policy used when neither the caller nor
// the subscriber template overrides it.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:              3,
		InitialDelay:            1 * time.Second,
		MaxDelay:                30 * time.Second,
		BackoffMultiplier:       2,
		EnableCircuitBreaker:    true,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   60 * time.Second,
	}
}

// Validate checks the policy invariants
func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative (got %d)", p.MaxRetries)
	}
	if p.InitialDelay <= 0 {
		return fmt.Errorf("initial_delay must be positive (got %s)", p.InitialDelay)
	}
	if p.InitialDelay > p.MaxDelay {
		return fmt.Errorf("initial_delay (%s) cannot exceed max_delay (%s)", p.InitialDelay, p.MaxDelay)
	}
	if p.BackoffMultiplier <= 1 {
		return fmt.Errorf("backoff_multiplier must be greater than 1 (got %g)", p.BackoffMultiplier)
	}
	if p.EnableCircuitBreaker {
		if p.CircuitBreakerThreshold < 1 {
			return fmt.Errorf("circuit_breaker_threshold must be at least 1 (got %d)", p.CircuitBreakerThreshold)
		}
		if p.CircuitBreakerTimeout <= 0 {
			return fmt.Errorf("circuit_breaker_timeout must be positive (got %s)", p.CircuitBreakerTimeout)
		}
	}
	return nil
}

// retryPolicyJSON is the wire form of RetryPolicy, durations in milliseconds
type retryPolicyJSON struct {
	MaxRetries              int     `json:"max_retries"`
	InitialDelay            int64   `json:"initial_delay"`
	MaxDelay                int64   `json:"max_delay"`
	BackoffMultiplier       float64 `json:"backoff_multiplier"`
	EnableCircuitBreaker    bool    `json:"enable_circuit_breaker"`
	CircuitBreakerThreshold int     `json:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   int64   `json:"circuit_breaker_timeout"`
}

// MarshalJSON encodes the policy with millisecond durations
func (p RetryPolicy) MarshalJSON() ([]byte, error) {
	return json.Marshal(retryPolicyJSON{
		MaxRetries:              p.MaxRetries,
		InitialDelay:            p.InitialDelay.Milliseconds(),
		MaxDelay:                p.MaxDelay.Milliseconds(),
		BackoffMultiplier:       p.BackoffMultiplier,
		EnableCircuitBreaker:    p.EnableCircuitBreaker,
		CircuitBreakerThreshold: p.CircuitBreakerThreshold,
		CircuitBreakerTimeout:   p.CircuitBreakerTimeout.Milliseconds(),
	})
}

// UnmarshalJSON decodes a policy with millisecond durations
func (p *RetryPolicy) UnmarshalJSON(data []byte) error {
	var aux retryPolicyJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("unmarshaling retry policy: %w", err)
	}
	*p = RetryPolicy{
		MaxRetries:              aux.MaxRetries,
		InitialDelay:            time.Duration(aux.InitialDelay) * time.Millisecond,
		MaxDelay:                time.Duration(aux.MaxDelay) * time.Millisecond,
		BackoffMultiplier:       aux.BackoffMultiplier,
		EnableCircuitBreaker:    aux.EnableCircuitBreaker,
		CircuitBreakerThreshold: aux.CircuitBreakerThreshold,
		CircuitBreakerTimeout:   time.Duration(aux.CircuitBreakerTimeout) * time.Millisecond,
	}
	return nil
}
