package gateway

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/sony/gobreaker"
)

// BreakerSettings configures the failure-rate window of the circuit breaker.
type BreakerSettings struct {
	Name         string
	MinRequests  uint32
	FailureRatio float64
	Window       time.Duration
	OpenTimeout  time.Duration
	HalfOpenMax  uint32
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:         "payment-gateway",
		MinRequests:  5,
		FailureRatio: 0.5,
		Window:       60 * time.Second,
		OpenTimeout:  30 * time.Second,
		HalfOpenMax:  1,
	}
}

// Breaker wraps gateway calls in a closed/open/half-open state machine.
// Declines count as successful calls because the gateway answered.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

func NewBreaker(s BreakerSettings) *Breaker {
	return &Breaker{cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.HalfOpenMax,
		Interval:    s.Window,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= s.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			_, declined := IsDeclined(err)
			return declined
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("[Gateway] circuit %s: %s -> %s", name, from, to)
		},
	})}
}

// Execute runs fn unless the circuit is open.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// State returns the current state name.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
