// Package fabric implements the executor's connectivity layer: the broker
// request/reply socket pool, the unsolicited broker push listener, the
// control-channel websocket client, and the control-plane REST client.
// All three transports share the same connection state machine and
// reconnect/backoff behavior.
package fabric

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// ConnState is one state of a transport's connection lifecycle.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
	StateError        ConnState = "error"
)

// BackoffPolicy configures the reconnect backoff used by StateMachine.
type BackoffPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoffPolicy is the backoff used by every transport unless
// overridden: 1s initial, 2x multiplier, capped at 30s.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{Initial: time.Second, Max: 30 * time.Second, Multiplier: 2.0}
}

// Delay returns the backoff delay for the given zero-indexed attempt.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	d := float64(p.Initial)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
	}
	if d > float64(p.Max) {
		return p.Max
	}
	return time.Duration(d)
}

// StateMachine tracks a transport's connection state and drives its
// reconnect loop. One StateMachine instance backs each of the three
// transports (broker socket pool member, push listener, control channel).
type StateMachine struct {
	mu          sync.RWMutex
	state       ConnState
	backoff     BackoffPolicy
	attempts    int
	isRetrying  bool
	logger      *zap.Logger
	name        string
	onStateChange func(ConnState)
}

// NewStateMachine creates a state machine in the Disconnected state.
func NewStateMachine(logger *zap.Logger, name string, backoff BackoffPolicy) *StateMachine {
	return &StateMachine{
		state:   StateDisconnected,
		backoff: backoff,
		logger:  logger.Named(name),
		name:    name,
	}
}

// OnStateChange registers a callback fired whenever the state transitions.
func (s *StateMachine) OnStateChange(fn func(ConnState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = fn
}

// State returns the current connection state.
func (s *StateMachine) State() ConnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *StateMachine) setState(state ConnState) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	cb := s.onStateChange
	s.mu.Unlock()

	if prev != state {
		s.logger.Debug("connection state changed", zap.String("from", string(prev)), zap.String("to", string(state)))
		if cb != nil {
			cb(state)
		}
	}
}

// MarkConnecting transitions to Connecting.
func (s *StateMachine) MarkConnecting() { s.setState(StateConnecting) }

// MarkConnected transitions to Connected and resets the retry counter.
func (s *StateMachine) MarkConnected() {
	s.mu.Lock()
	s.attempts = 0
	s.mu.Unlock()
	s.setState(StateConnected)
}

// MarkError transitions to Error.
func (s *StateMachine) MarkError(err error) {
	if err != nil {
		s.logger.Warn("transport error", zap.Error(err))
	}
	s.setState(StateError)
}

// MarkDisconnected transitions to Disconnected.
func (s *StateMachine) MarkDisconnected() { s.setState(StateDisconnected) }

// BeginRetryLoop runs fn in a loop with exponential backoff until it
// succeeds or stopCh is closed. Guarded by isRetrying so a transport never
// runs two overlapping retry loops concurrently (spec §9 "Coroutine
// control flow").
func (s *StateMachine) BeginRetryLoop(stopCh <-chan struct{}, fn func() error) {
	s.mu.Lock()
	if s.isRetrying {
		s.mu.Unlock()
		return
	}
	s.isRetrying = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isRetrying = false
		s.mu.Unlock()
	}()

	s.setState(StateReconnecting)

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		s.mu.Lock()
		attempt := s.attempts
		s.attempts++
		s.mu.Unlock()

		if err := fn(); err == nil {
			s.MarkConnected()
			return
		} else {
			s.logger.Warn("reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		}

		delay := s.backoff.Delay(attempt)
		select {
		case <-stopCh:
			return
		case <-time.After(delay):
		}
	}
}
