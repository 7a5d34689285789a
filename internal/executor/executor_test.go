package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/atlas-desktop/trade-executor/internal/dispatch"
	"github.com/atlas-desktop/trade-executor/internal/position"
	"github.com/atlas-desktop/trade-executor/internal/risk"
	"github.com/atlas-desktop/trade-executor/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBrokerClient struct {
	mu    sync.Mutex
	calls []types.BrokerCommand
	resp  types.BrokerResponse
}

func (f *fakeBrokerClient) Send(ctx context.Context, cmd types.BrokerCommand, params map[string]any) (types.BrokerResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()
	return f.resp, nil
}

func (f *fakeBrokerClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeBrokerSnapshot struct {
	positions []types.Position
}

func (f fakeBrokerSnapshot) Positions(ctx context.Context) ([]types.Position, error) {
	return f.positions, nil
}

func approvedState() risk.AccountState {
	return risk.AccountState{
		Account:         types.AccountInfo{Balance: decimal.NewFromInt(10000), Equity: decimal.NewFromInt(10000)},
		StartingBalance: decimal.NewFromInt(10000),
		PeakBalance:     decimal.NewFromInt(10000),
		FreeMargin:      decimal.NewFromInt(9000),
	}
}

func newTestDispatcher(broker *fakeBrokerClient) *dispatch.Dispatcher {
	gk := risk.NewGatekeeper(zap.NewNop(), types.DemoRiskLimits(), risk.NewCorrelationCache(time.Minute))
	return dispatch.New(zap.NewNop(), dispatch.Config{
		Broker:       broker,
		Gatekeeper:   gk,
		AccountState: approvedState,
		RetryDelay:   time.Millisecond,
	})
}

// TestCommandLoopProcessesInArrivalOrder enqueues five start-strategy
// commands through enqueueCommand and asserts that the single command
// loop processes every one of them into the strategy store (spec §5
// "Commands from the control channel are processed in arrival order per
// executor").
func TestCommandLoopProcessesInArrivalOrder(t *testing.T) {
	e := New(zap.NewNop(), Config{ExecutorID: "exec-1"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.commandLoop(ctx)

	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		e.enqueueCommand(types.Command{
			ID:       id,
			Command:  types.CommandStartStrategy,
			Strategy: &types.Strategy{ID: id},
		})
	}

	require.Eventually(t, func() bool {
		return len(e.strategies.All()) == 5
	}, time.Second, time.Millisecond)
}

func TestHandleStartAndStopStrategy(t *testing.T) {
	e := New(zap.NewNop(), Config{ExecutorID: "exec-1"})
	strat := &types.Strategy{ID: "s1", Symbols: []string{"EURUSD"}}

	require.NoError(t, e.handleStartStrategy(context.Background(), strat))
	_, ok := e.strategies.Get("s1")
	assert.True(t, ok)

	require.NoError(t, e.handleStopStrategy(context.Background(), "s1", false))
	_, ok = e.strategies.Get("s1")
	assert.False(t, ok)
}

func TestHandleStopStrategyClosesOpenPositions(t *testing.T) {
	broker := &fakeBrokerClient{resp: types.BrokerResponse{Status: types.BrokerStatusOK}}
	dispatcher := newTestDispatcher(broker)
	registry := position.NewRegistry(zap.NewNop(), fakeBrokerSnapshot{positions: []types.Position{
		{Ticket: 1, Symbol: "EURUSD", Volume: decimal.NewFromFloat(0.1), Comment: "s1"},
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go registry.Run(ctx, time.Millisecond)
	require.Eventually(t, func() bool { return len(registry.All()) == 1 }, time.Second, time.Millisecond)

	e := New(zap.NewNop(), Config{ExecutorID: "exec-1", Dispatcher: dispatcher, Positions: registry})
	require.NoError(t, e.handleStopStrategy(context.Background(), "s1", true))
	assert.Equal(t, 1, broker.callCount())
}

func TestHandleEmergencyStopBlocksDispatch(t *testing.T) {
	broker := &fakeBrokerClient{resp: types.BrokerResponse{Status: types.BrokerStatusOK}}
	dispatcher := newTestDispatcher(broker)
	e := New(zap.NewNop(), Config{ExecutorID: "exec-1", Dispatcher: dispatcher})

	strat := &types.Strategy{ID: "s1", Symbols: []string{"EURUSD"}}
	require.NoError(t, e.handleStartStrategy(context.Background(), strat))

	require.NoError(t, e.handleEmergencyStop(context.Background(), "operator request"))
	assert.True(t, dispatcher.IsEmergencyStopped())

	result := types.EvaluationResult{StrategyID: "s1", Symbol: "EURUSD", Action: types.ActionBuy, Size: decimal.NewFromFloat(0.1)}
	err := dispatcher.HandleEvaluation(context.Background(), result)
	assert.Error(t, err)
}

func TestEvaluateExitsPersistsStateAcrossTicksAndDispatches(t *testing.T) {
	broker := &fakeBrokerClient{resp: types.BrokerResponse{Status: types.BrokerStatusOK}}
	dispatcher := newTestDispatcher(broker)
	registry := position.NewRegistry(zap.NewNop(), fakeBrokerSnapshot{positions: []types.Position{
		{
			Ticket:       7,
			Symbol:       "EURUSD",
			Side:         types.SideBuy,
			Volume:       decimal.NewFromFloat(1.0),
			OpenPrice:    decimal.NewFromFloat(1.1000),
			CurrentPrice: decimal.NewFromFloat(1.1050),
			StopLoss:     decimal.NewFromFloat(1.0950),
			Profit:       decimal.NewFromInt(50),
			Comment:      "s1",
		},
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go registry.Run(ctx, time.Millisecond)
	require.Eventually(t, func() bool { return len(registry.All()) == 1 }, time.Second, time.Millisecond)

	exitMgr := position.NewExitManager(zap.NewNop(), nil, nil)
	e := New(zap.NewNop(), Config{
		ExecutorID:  "exec-1",
		Dispatcher:  dispatcher,
		Positions:   registry,
		ExitManager: exitMgr,
	})

	strat := &types.Strategy{
		ID:      "s1",
		Symbols: []string{"EURUSD"},
		SmartExit: &types.SmartExitSpec{
			BreakevenActivationProfit: decimal.NewFromInt(10),
		},
	}
	require.NoError(t, e.handleStartStrategy(context.Background(), strat))

	e.evaluateExits(context.Background())
	assert.Equal(t, 1, broker.callCount())

	// A second tick must not re-fire the breakeven move now that the
	// registry's live record remembers it happened.
	e.evaluateExits(context.Background())
	assert.Equal(t, 1, broker.callCount())
}

func TestEvaluateExitsSkipsWhenRegistryPaused(t *testing.T) {
	broker := &fakeBrokerClient{resp: types.BrokerResponse{Status: types.BrokerStatusOK}}
	dispatcher := newTestDispatcher(broker)

	registry := position.NewRegistry(zap.NewNop(), failingBrokerSnapshot{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	registry.Run(ctx, 2*time.Millisecond)
	require.True(t, registry.Paused())

	exitMgr := position.NewExitManager(zap.NewNop(), nil, nil)
	e := New(zap.NewNop(), Config{ExecutorID: "exec-1", Dispatcher: dispatcher, Positions: registry, ExitManager: exitMgr})
	e.evaluateExits(context.Background())
	assert.Equal(t, 0, broker.callCount())
}

type failingBrokerSnapshot struct{}

func (failingBrokerSnapshot) Positions(ctx context.Context) ([]types.Position, error) {
	return nil, assert.AnError
}
