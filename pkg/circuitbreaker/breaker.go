// Package circuitbreaker pauses execution on chains that keep failing.
package circuitbreaker

import (
	"sort"
	"sync"
	"time"

	"github.com/speedrun-hq/speedrun-resolver/pkg/config"
	"github.com/speedrun-hq/speedrun-resolver/pkg/logger"
)

// CircuitBreaker implements the circuit breaker pattern for one chain
type CircuitBreaker struct {
	chainID       int
	enabled       bool
	failureCount  int
	failureWindow time.Duration
	failThreshold int
	resetTimeout  time.Duration
	lastFailure   time.Time
	tripped       bool
	tripTime      time.Time
	now           func() time.Time
	logger        logger.Logger
	mu            sync.Mutex
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(chainID int, cfg config.CircuitBreakerConfig, log logger.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		chainID:       chainID,
		enabled:       cfg.Enabled,
		failThreshold: cfg.Threshold,
		failureWindow: cfg.WindowDuration,
		resetTimeout:  cfg.ResetTimeout,
		now:           time.Now,
		logger:        log,
	}
}

// RecordFailure records a failure and trips the circuit if threshold is reached
func (cb *CircuitBreaker) RecordFailure() bool {
	if !cb.enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()

	if cb.tripped {
		if now.Sub(cb.tripTime) <= cb.resetTimeout {
			return true
		}
		cb.logger.NoticeWithChain(cb.chainID, "Circuit breaker: attempting to reset after timeout")
		cb.tripped = false
		cb.failureCount = 0
	}

	if now.Sub(cb.lastFailure) > cb.failureWindow {
		cb.failureCount = 0
	}

	cb.failureCount++
	cb.lastFailure = now

	if cb.failureCount >= cb.failThreshold {
		cb.tripped = true
		cb.tripTime = now
		cb.logger.ErrorWithChain(cb.chainID, "Circuit breaker tripped: %d failures in %s", cb.failureCount, cb.failureWindow)
		return true
	}
	return false
}

// RecordSuccess clears the failure streak of a closed circuit
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.tripped {
		cb.failureCount = 0
	}
}

// IsOpen returns true if the circuit is open (tripped)
func (cb *CircuitBreaker) IsOpen() bool {
	if !cb.enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	// half-open after the reset timeout: the next intent is let through
	if cb.tripped && cb.now().Sub(cb.tripTime) > cb.resetTimeout {
		cb.tripped = false
		cb.failureCount = 0
		return false
	}
	return cb.tripped
}

// Reset manually resets the circuit breaker
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.tripped = false
	cb.failureCount = 0
	cb.logger.NoticeWithChain(cb.chainID, "Circuit breaker reset")
}

// State is a snapshot for status reporting
type State struct {
	Open          bool      `json:"open"`
	FailureCount  int       `json:"failure_count"`
	FailThreshold int       `json:"fail_threshold"`
	LastFailure   time.Time `json:"last_failure,omitempty"`
	TripTime      time.Time `json:"trip_time,omitempty"`
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() State {
	open := cb.IsOpen()
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return State{
		Open:          open,
		FailureCount:  cb.failureCount,
		FailThreshold: cb.failThreshold,
		LastFailure:   cb.lastFailure,
		TripTime:      cb.tripTime,
	}
}

// IsEnabled returns true if the circuit breaker is enabled
func (cb *CircuitBreaker) IsEnabled() bool {
	return cb.enabled
}

// Set holds one breaker per chain
type Set struct {
	breakers map[int]*CircuitBreaker
}

// NewSet creates breakers for chainIDs sharing one configuration
func NewSet(cfg config.CircuitBreakerConfig, chainIDs []int, log logger.Logger) *Set {
	s := &Set{breakers: make(map[int]*CircuitBreaker, len(chainIDs))}
	for _, id := range chainIDs {
		s.breakers[id] = NewCircuitBreaker(id, cfg, log)
	}
	return s
}

// Get returns the breaker of a chain
func (s *Set) Get(chainID int) (*CircuitBreaker, bool) {
	cb, ok := s.breakers[chainID]
	return cb, ok
}

// IsOpen reports whether execution on chainID is paused. Unknown chains are never paused.
func (s *Set) IsOpen(chainID int) bool {
	cb, ok := s.breakers[chainID]
	return ok && cb.IsOpen()
}

func (s *Set) RecordFailure(chainID int) bool {
	if cb, ok := s.breakers[chainID]; ok {
		return cb.RecordFailure()
	}
	return false
}

func (s *Set) RecordSuccess(chainID int) {
	if cb, ok := s.breakers[chainID]; ok {
		cb.RecordSuccess()
	}
}

// Reset closes the breaker of chainID; false when there is none
func (s *Set) Reset(chainID int) bool {
	cb, ok := s.breakers[chainID]
	if ok {
		cb.Reset()
	}
	return ok
}

// ChainIDs lists the chains with a breaker in ascending order
func (s *Set) ChainIDs() []int {
	ids := make([]int, 0, len(s.breakers))
	for id := range s.breakers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
