// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package mcircuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while the breaker rejects calls without reaching
// the protected dependency.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State mirrors the three breaker states plus an unknown fallback.
type State int8

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
	StateUnknown
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Counts is a snapshot of the breaker's request bookkeeping.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// StateChangeEvent describes one breaker transition.
type StateChangeEvent struct {
	ServiceName string
	FromState   State
	ToState     State
	Counts      Counts
}

// StateChangeListener receives breaker transitions, typically to feed metrics
// or structured logs.
type StateChangeListener interface {
	OnCircuitBreakerStateChange(event StateChangeEvent)
}

// Settings configures a CircuitBreaker.
type Settings struct {
	// Name identifies the protected dependency in events.
	Name string
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit.
	FailureThreshold uint32
	// OpenDuration is how long the circuit stays fully open before allowing
	// half-open probes.
	OpenDuration time.Duration
	// HalfOpenProbes is the number of probe requests permitted (and required
	// to succeed) in half-open before the circuit closes again.
	HalfOpenProbes uint32
	// Listener, when set, observes every state transition.
	Listener StateChangeListener
	// IsFailure, when set, decides which errors count against the breaker.
	// Errors it rejects (validation, authorization) pass through without
	// moving the failure counter.
	IsFailure func(err error) bool
}

// CircuitBreaker is a thin facade over sony/gobreaker exposing our state and
// error taxonomy. It keeps its own Counts snapshot: the wrapped breaker
// holds its lock while notifying listeners, so its counters cannot be read
// from inside a transition.
type CircuitBreaker struct {
	breaker *gobreaker.CircuitBreaker

	mu     sync.Mutex
	counts Counts
}

// New builds a CircuitBreaker from the given settings.
func New(settings Settings) *CircuitBreaker {
	threshold := settings.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	probes := settings.HalfOpenProbes
	if probes == 0 {
		probes = 1
	}

	cb := &CircuitBreaker{}

	cb.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: probes,
		Timeout:     settings.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if settings.Listener == nil {
				return
			}

			settings.Listener.OnCircuitBreakerStateChange(StateChangeEvent{
				ServiceName: name,
				FromState:   convertState(from),
				ToState:     convertState(to),
				Counts:      cb.Counts(),
			})
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}

			if settings.IsFailure != nil {
				return !settings.IsFailure(err)
			}

			return false
		},
	})

	return cb
}

// Execute runs fn through the breaker. While the circuit is open, or while
// half-open probe slots are exhausted, it fails fast with ErrCircuitOpen.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	var failure bool

	_, err := cb.breaker.Execute(func() (any, error) {
		opErr := fn()
		failure = opErr != nil

		return nil, opErr
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}

	cb.record(failure)

	return err
}

func (cb *CircuitBreaker) record(failure bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.counts.Requests++

	if failure {
		cb.counts.TotalFailures++
		cb.counts.ConsecutiveFailures++
		cb.counts.ConsecutiveSuccesses = 0

		return
	}

	cb.counts.TotalSuccesses++
	cb.counts.ConsecutiveSuccesses++
	cb.counts.ConsecutiveFailures = 0
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() State {
	return convertState(cb.breaker.State())
}

// Counts returns the facade's bookkeeping snapshot.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.counts
}

func convertState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateUnknown
	}
}
