package fabric

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestBackoffPolicyDelay(t *testing.T) {
	p := BackoffPolicy{Initial: time.Second, Max: 10 * time.Second, Multiplier: 2.0}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second}, // clamped
		{10, 10 * time.Second},
	}
	for _, c := range cases {
		if got := p.Delay(c.attempt); got != c.want {
			t.Errorf("Delay(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestStateMachineTransitions(t *testing.T) {
	sm := NewStateMachine(zap.NewNop(), "test", DefaultBackoffPolicy())
	if sm.State() != StateDisconnected {
		t.Fatalf("initial state = %v, want Disconnected", sm.State())
	}

	var seen []ConnState
	sm.OnStateChange(func(s ConnState) { seen = append(seen, s) })

	sm.MarkConnecting()
	sm.MarkConnected()
	sm.MarkError(nil)
	sm.MarkDisconnected()

	want := []ConnState{StateConnecting, StateConnected, StateError, StateDisconnected}
	if len(seen) != len(want) {
		t.Fatalf("got %d transitions, want %d: %v", len(seen), len(want), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, seen[i], want[i])
		}
	}
}

func TestStateMachineRetryLoopConverges(t *testing.T) {
	sm := NewStateMachine(zap.NewNop(), "test", BackoffPolicy{Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2})
	stopCh := make(chan struct{})
	defer close(stopCh)

	attempts := 0
	done := make(chan struct{})
	go func() {
		sm.BeginRetryLoop(stopCh, func() error {
			attempts++
			if attempts < 3 {
				return errRetry
			}
			return nil
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("retry loop did not converge in time")
	}

	if sm.State() != StateConnected {
		t.Fatalf("state = %v, want Connected", sm.State())
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

type retryErr struct{}

func (retryErr) Error() string { return "retry" }

var errRetry = retryErr{}
