// Package breaker builds the circuit breakers that guard calls to backing stores.
package breaker

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

const (
	minRequests      = 5
	failureRatio     = 0.6
	countingInterval = 10 * time.Second
	openTimeout      = 30 * time.Second
)

// StateObserver is notified on every state transition.
type StateObserver func(component string, to gobreaker.State)

// New returns a breaker that opens when at least 60% of 5 or more requests in
// a 10s window fail, and probes again after 30s.
func New(component string, observe StateObserver) *gobreaker.CircuitBreaker {
	return NewWithSettings(component, openTimeout, observe)
}

// NewWithSettings is New with a custom open timeout.
func NewWithSettings(component string, timeout time.Duration, observe StateObserver) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        component,
		MaxRequests: 1,
		Interval:    countingInterval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= minRequests && float64(counts.TotalFailures)/float64(counts.Requests) >= failureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
			if observe != nil {
				observe(name, to)
			}
		},
	})
}

// StateValue maps a state to the gauge value used in metrics.
func StateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
