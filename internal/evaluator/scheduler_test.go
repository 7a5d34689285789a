package evaluator

import (
	"sync"
	"testing"
	"time"

	"github.com/atlas-desktop/trade-executor/internal/sizing"
	"github.com/atlas-desktop/trade-executor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestScheduler(t *testing.T, strat *types.Strategy) (*Scheduler, *[]types.EvaluationResult, *sync.Mutex) {
	t.Helper()
	md := NewMarketDataClient(zap.NewNop())
	for _, b := range fillBars(100, 1.1000) {
		md.AppendBar("EURUSD", types.TimeframeM1, b)
	}
	ev := New(zap.NewNop(), Config{
		MarketData:      md,
		Symbols:         NewSymbolMapper(nil),
		IndicatorEngine: &fakeIndicatorEngine{},
		Positions:       fakePositionLookup{open: false},
		Account:         fakeAccountProvider{},
		Sizer:           sizing.NewSizer(zap.NewNop()),
	})

	var results []types.EvaluationResult
	var mu sync.Mutex
	sched := NewScheduler(zap.NewNop(), ev, SchedulerConfig{Concurrency: 4}, func(r types.EvaluationResult, err error) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	})
	return sched, &results, &mu
}

// TestNonOverlapGuardRejectsSecondAcquire exercises the atomicBool
// compare-and-swap the scheduler's run loop relies on: a tick already
// in flight must block a second acquire and bump the dropped counter
// (spec §5 "ticks do not overlap").
func TestNonOverlapGuardRejectsSecondAcquire(t *testing.T) {
	strat := testStrategy()
	timer := &strategyTimer{strategy: strat, stopCh: make(chan struct{})}

	require.True(t, timer.inFlight.compareAndSwap(false, true))
	require.False(t, timer.inFlight.compareAndSwap(false, true))
	timer.incrementDropped()
	assert.Equal(t, int64(1), timer.DroppedTicks())

	timer.inFlight.set(false)
	require.True(t, timer.inFlight.compareAndSwap(false, true))
}

func TestSchedulerTickClearsInFlightAfterSymbolsComplete(t *testing.T) {
	strat := testStrategy()
	strat.Symbols = []string{"EURUSD"}

	sched, results, mu := newTestScheduler(t, strat)
	sched.Start()
	defer sched.Stop()

	timer := &strategyTimer{strategy: strat, stopCh: make(chan struct{})}
	timer.inFlight.set(true)

	sched.tick(strat, &timer.inFlight)

	require.Eventually(t, func() bool {
		return !timer.inFlight.get()
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	n := len(*results)
	mu.Unlock()
	assert.Equal(t, 1, n)
}

func TestSchedulerDroppedTicksUnknownStrategyIsZero(t *testing.T) {
	sched := NewScheduler(zap.NewNop(), nil, SchedulerConfig{}, nil)
	assert.Equal(t, int64(0), sched.DroppedTicks("missing"))
}
