package domain

import "time"

// RecoveryState is the per-guild connect bookkeeping mutated on every
// attempt and result. CircuitBreakerOpen implies a non-zero
// CircuitBreakerOpenAt; a success resets ConsecutiveFailures and closes
// the breaker.
type RecoveryState struct {
	ConsecutiveFailures  int       `json:"consecutiveFailures"`
	LastFailure          time.Time `json:"lastFailure,omitempty"`
	CircuitBreakerOpen   bool      `json:"circuitBreakerOpen"`
	CircuitBreakerOpenAt time.Time `json:"circuitBreakerOpenAt,omitempty"`
	TotalRetries         int       `json:"totalRetries"`
}
