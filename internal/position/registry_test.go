package position

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atlas-desktop/trade-executor/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBroker struct {
	snapshots [][]types.Position
	call      int
	err       error
}

func (f *fakeBroker) Positions(ctx context.Context) ([]types.Position, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.call >= len(f.snapshots) {
		return f.snapshots[len(f.snapshots)-1], nil
	}
	snap := f.snapshots[f.call]
	f.call++
	return snap, nil
}

func pos(ticket int64, strategyID, symbol string, profit float64) types.Position {
	return types.Position{
		Ticket:       ticket,
		Symbol:       symbol,
		Side:         types.SideBuy,
		Volume:       decimal.NewFromFloat(0.1),
		OpenPrice:    decimal.NewFromFloat(1.1000),
		CurrentPrice: decimal.NewFromFloat(1.1010),
		Profit:       decimal.NewFromFloat(profit),
		Comment:      strategyID,
	}
}

func TestRegistrySyncInsertsNewPositions(t *testing.T) {
	broker := &fakeBroker{snapshots: [][]types.Position{{pos(1, "s1", "EURUSD", 5)}}}
	r := NewRegistry(zap.NewNop(), broker)
	r.sync(context.Background())

	rec, ok := r.Get(1)
	require.True(t, ok)
	assert.Equal(t, "s1", rec.StrategyID)
	assert.True(t, r.HasOpenPosition("s1", "EURUSD"))
}

func TestRegistrySyncMarksClosedAndEmitsEvent(t *testing.T) {
	broker := &fakeBroker{snapshots: [][]types.Position{
		{pos(1, "s1", "EURUSD", 5)},
		{},
	}}
	r := NewRegistry(zap.NewNop(), broker)
	r.sync(context.Background())
	r.sync(context.Background())

	_, ok := r.Get(1)
	assert.False(t, ok)

	select {
	case evt := <-r.ClosedEvents():
		assert.Equal(t, int64(1), evt.Ticket)
	case <-time.After(time.Second):
		t.Fatal("expected a closed event")
	}
}

func TestRegistryPreservesFirstSeenAcrossSyncs(t *testing.T) {
	broker := &fakeBroker{snapshots: [][]types.Position{
		{pos(1, "s1", "EURUSD", 5)},
		{pos(1, "s1", "EURUSD", 8)},
	}}
	r := NewRegistry(zap.NewNop(), broker)
	r.sync(context.Background())
	first, _ := r.Get(1)
	r.sync(context.Background())
	second, _ := r.Get(1)

	assert.Equal(t, first.FirstSeen, second.FirstSeen)
	assert.True(t, second.Position.Profit.Equal(decimal.NewFromFloat(8)))
}

func TestRegistryClearsAfterThreeConsecutiveFailures(t *testing.T) {
	broker := &fakeBroker{err: errors.New("boom")}
	r := NewRegistry(zap.NewNop(), broker)

	// Seed one position via a direct broker with no error first.
	good := &fakeBroker{snapshots: [][]types.Position{{pos(1, "s1", "EURUSD", 5)}}}
	r.broker = good
	r.sync(context.Background())
	_, ok := r.Get(1)
	require.True(t, ok)

	r.broker = broker
	r.sync(context.Background())
	r.sync(context.Background())
	assert.False(t, r.Paused())
	r.sync(context.Background())

	assert.True(t, r.Paused())
	assert.Empty(t, r.All())
}

func TestRegistryQueriesProfitableLosingAndSummary(t *testing.T) {
	broker := &fakeBroker{snapshots: [][]types.Position{{
		pos(1, "s1", "EURUSD", 10),
		pos(2, "s1", "GBPUSD", -5),
		pos(3, "s2", "EURUSD", 3),
	}}}
	r := NewRegistry(zap.NewNop(), broker)
	r.sync(context.Background())

	assert.Len(t, r.Profitable(), 2)
	assert.Len(t, r.Losing(), 1)
	assert.Len(t, r.ByStrategy("s1"), 2)
	assert.Len(t, r.BySymbol("EURUSD"), 2)

	summary := r.Summary()
	assert.Equal(t, 3, summary.TotalPositions)
	assert.True(t, summary.TotalPnL.Equal(decimal.NewFromFloat(8)))
	assert.True(t, summary.PnLByStrategy["s1"].Equal(decimal.NewFromFloat(5)))
	assert.True(t, summary.PnLBySymbol["EURUSD"].Equal(decimal.NewFromFloat(13)))
}
