package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/atlas-desktop/trade-executor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeREST struct {
	err   error
	calls int
}

func (f *fakeREST) Heartbeat(ctx context.Context, payload types.HeartbeatPayload) (types.HeartbeatResponse, error) {
	f.calls++
	if f.err != nil {
		return types.HeartbeatResponse{}, f.err
	}
	return types.HeartbeatResponse{Status: "online"}, nil
}

type fakePush struct {
	sendErr      error
	sendCalls    int
	reconnectErr error
	reconnects   int
}

func (f *fakePush) Send(payload any) error {
	f.sendCalls++
	return f.sendErr
}

func (f *fakePush) Reconnect(ctx context.Context) error {
	f.reconnects++
	return f.reconnectErr
}

type fakeBrokerReconnector struct {
	reconnects int
}

func (f *fakeBrokerReconnector) Reconnect(ctx context.Context) error {
	f.reconnects++
	return nil
}

func TestHeartbeatTickSucceedsViaREST(t *testing.T) {
	rest := &fakeREST{}
	push := &fakePush{}
	loop := NewLoop(zap.NewNop(), LoopConfig{
		ExecutorID: "exec-1",
		REST:       rest,
		Push:       push,
		Collector:  NewCollector("", ""),
	})

	loop.tick(context.Background())
	assert.Equal(t, 1, rest.calls)
	assert.Equal(t, 0, push.sendCalls)
	assert.Equal(t, 0, loop.MissedCount())
}

func TestHeartbeatFallsBackToPushOnRESTFailure(t *testing.T) {
	rest := &fakeREST{err: errors.New("rest down")}
	push := &fakePush{}
	loop := NewLoop(zap.NewNop(), LoopConfig{
		ExecutorID: "exec-1",
		REST:       rest,
		Push:       push,
		Collector:  NewCollector("", ""),
	})

	loop.tick(context.Background())
	assert.Equal(t, 1, push.sendCalls)
	assert.Equal(t, 0, loop.MissedCount())
}

func TestHeartbeatRecoversAfterThreeConsecutiveFailures(t *testing.T) {
	rest := &fakeREST{err: errors.New("rest down")}
	push := &fakePush{sendErr: errors.New("push down")}
	broker := &fakeBrokerReconnector{}
	loop := NewLoop(zap.NewNop(), LoopConfig{
		ExecutorID: "exec-1",
		REST:       rest,
		Push:       push,
		Broker:     broker,
		Collector:  NewCollector("", ""),
	})

	loop.tick(context.Background())
	loop.tick(context.Background())
	assert.Equal(t, 0, push.reconnects)

	loop.tick(context.Background())
	require.Equal(t, 3, loop.MissedCount())
	assert.Equal(t, 1, push.reconnects)
	assert.Equal(t, 1, broker.reconnects)
}

func TestResetMissedCountZeroesCounter(t *testing.T) {
	rest := &fakeREST{err: errors.New("rest down")}
	push := &fakePush{sendErr: errors.New("push down")}
	loop := NewLoop(zap.NewNop(), LoopConfig{ExecutorID: "exec-1", REST: rest, Push: push, Collector: NewCollector("", "")})

	loop.tick(context.Background())
	require.Equal(t, 1, loop.MissedCount())
	loop.ResetMissedCount()
	assert.Equal(t, 0, loop.MissedCount())
}
