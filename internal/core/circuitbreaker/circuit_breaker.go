// Package circuitbreaker wraps sony/gobreaker for the reputation backend.
// Repeated lookup failures open the breaker so a misbehaving external
// service is not hammered by every new job.
package circuitbreaker

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

// New creates a breaker that trips after 60% failures across at least three
// requests, and probes again after the cooldown.
func New(name string, cooldown time.Duration) *CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "name", name,
				"from", from.String(), "to", to.String())
		},
	}
	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn under breaker protection.
func (cb *CircuitBreaker) Execute(fn func() (string, error)) (string, error) {
	result, err := cb.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", ErrCircuitOpen
		}
		return "", err
	}
	return result.(string), nil
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() gobreaker.State {
	return cb.cb.State()
}
