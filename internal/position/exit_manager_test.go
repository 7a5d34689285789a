package position

import (
	"testing"
	"time"

	"github.com/atlas-desktop/trade-executor/internal/indicators"
	"github.com/atlas-desktop/trade-executor/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBars struct {
	bars []types.Bar
}

func (f fakeBars) Bars(symbol string, timeframe types.Timeframe, want int) ([]types.Bar, bool) {
	if len(f.bars) < want {
		return f.bars, false
	}
	return f.bars[len(f.bars)-want:], true
}

type fakeIndicators struct {
	atr decimal.Decimal
}

func (f fakeIndicators) Compute(symbol, timeframe, name string, bars []types.Bar, params map[string]any) (indicators.Series, error) {
	return indicators.Series{f.atr}, nil
}

func buyPosition(ticket int64) types.Position {
	return types.Position{
		Ticket:       ticket,
		Symbol:       "EURUSD",
		Side:         types.SideBuy,
		Volume:       decimal.NewFromFloat(1.0),
		OpenPrice:    decimal.NewFromFloat(1.1000),
		CurrentPrice: decimal.NewFromFloat(1.1050),
		StopLoss:     decimal.NewFromFloat(1.0950),
		Profit:       decimal.NewFromFloat(50),
	}
}

func TestEvaluatePartialExitPipsFiresOnceAndAccumulatesPct(t *testing.T) {
	mgr := NewExitManager(zap.NewNop(), fakeBars{}, fakeIndicators{})
	strat := &types.Strategy{
		Timeframe: types.TimeframeM1,
		SmartExit: &types.SmartExitSpec{
			PartialExits: []types.PartialExitLevel{
				{Trigger: types.TriggerPips, Value: decimal.NewFromInt(30), Percentage: decimal.NewFromInt(50)},
			},
		},
	}
	rec := &PositionRecord{Position: buyPosition(1), FirstSeen: time.Now(), exit: exitState{firedLevels: map[int]bool{}}}

	decisions := mgr.Evaluate(strat, rec, time.Now())
	require.Len(t, decisions, 2)
	assert.Equal(t, exitClose, decisions[0].Action)
	assert.True(t, decisions[0].Volume.Equal(decimal.NewFromFloat(0.5)))
	assert.Equal(t, exitModify, decisions[1].Action)
	assert.True(t, rec.exit.exitedPct.Equal(decimal.NewFromInt(50)))

	// Second tick: level already fired, no further decision from this rule.
	decisions = mgr.Evaluate(strat, rec, time.Now())
	for _, d := range decisions {
		assert.NotEqual(t, "partial exit: pips", d.Reason)
	}
}

func TestPartialExitCapsAtMaxTotalExitPct(t *testing.T) {
	mgr := NewExitManager(zap.NewNop(), fakeBars{}, fakeIndicators{})
	strat := &types.Strategy{
		Timeframe: types.TimeframeM1,
		SmartExit: &types.SmartExitSpec{
			MaxTotalExitPct: decimal.NewFromInt(30),
			PartialExits: []types.PartialExitLevel{
				{Trigger: types.TriggerPips, Value: decimal.NewFromInt(10), Percentage: decimal.NewFromInt(50)},
			},
		},
	}
	rec := &PositionRecord{Position: buyPosition(1), FirstSeen: time.Now(), exit: exitState{firedLevels: map[int]bool{}}}

	decisions := mgr.Evaluate(strat, rec, time.Now())
	require.Len(t, decisions, 2)
	assert.True(t, decisions[0].Volume.Equal(decimal.NewFromFloat(0.3)))
	assert.Equal(t, exitModify, decisions[1].Action)
	assert.True(t, rec.exit.exitedPct.Equal(decimal.NewFromInt(30)))
}

func TestBreakevenMovesAfterQuarterExited(t *testing.T) {
	mgr := NewExitManager(zap.NewNop(), fakeBars{}, fakeIndicators{})
	strat := &types.Strategy{
		Timeframe: types.TimeframeM1,
		SmartExit: &types.SmartExitSpec{
			BreakevenLockPips: decimal.NewFromInt(2),
		},
	}
	rec := &PositionRecord{
		Position: buyPosition(1),
		FirstSeen: time.Now(),
		exit:      exitState{firedLevels: map[int]bool{}, exitedPct: decimal.NewFromInt(30)},
	}

	decisions := mgr.Evaluate(strat, rec, time.Now())
	require.Len(t, decisions, 1)
	assert.Equal(t, exitModify, decisions[0].Action)
	assert.True(t, decisions[0].NewSL.GreaterThan(rec.Position.OpenPrice))
	assert.True(t, rec.exit.breakevenMoved)
}

func TestTrailingStopOnlyTightens(t *testing.T) {
	mgr := NewExitManager(zap.NewNop(), fakeBars{}, fakeIndicators{})
	strat := &types.Strategy{
		Timeframe: types.TimeframeM1,
		SmartExit: &types.SmartExitSpec{
			TrailingActivationProfit: decimal.NewFromInt(10),
			TrailingDistancePips:     decimal.NewFromInt(20),
		},
	}
	rec := &PositionRecord{
		Position:  buyPosition(1),
		FirstSeen: time.Now(),
		exit:      exitState{firedLevels: map[int]bool{}, hasTrailingSL: true, trailingSL: decimal.NewFromFloat(1.1030)},
	}

	// Candidate trail = 1.1050 - 0.0020 = 1.1030, equal to current -> no tighten.
	decisions := mgr.Evaluate(strat, rec, time.Now())
	assert.Empty(t, decisions)

	rec.Position.CurrentPrice = decimal.NewFromFloat(1.1080)
	decisions = mgr.Evaluate(strat, rec, time.Now())
	require.Len(t, decisions, 1)
	assert.True(t, decisions[0].NewSL.GreaterThan(decimal.NewFromFloat(1.1030)))
}

func TestTimeBasedExitClosesFullyAndSupersedesOthers(t *testing.T) {
	mgr := NewExitManager(zap.NewNop(), fakeBars{}, fakeIndicators{})
	strat := &types.Strategy{
		Timeframe: types.TimeframeM1,
		SmartExit: &types.SmartExitSpec{
			MaxHoldingMinutes: 10,
			PartialExits: []types.PartialExitLevel{
				{Trigger: types.TriggerPips, Value: decimal.NewFromInt(1), Percentage: decimal.NewFromInt(50)},
			},
		},
	}
	rec := &PositionRecord{
		Position:  buyPosition(1),
		FirstSeen: time.Now().Add(-20 * time.Minute),
		exit:      exitState{firedLevels: map[int]bool{}},
	}

	decisions := mgr.Evaluate(strat, rec, time.Now())
	require.Len(t, decisions, 1)
	assert.Equal(t, exitClose, decisions[0].Action)
	assert.True(t, decisions[0].Volume.IsZero())
}

func TestSwingStopUsesRecentLows(t *testing.T) {
	bars := fakeBars{bars: []types.Bar{
		{Low: decimal.NewFromFloat(1.0940), High: decimal.NewFromFloat(1.1010)},
		{Low: decimal.NewFromFloat(1.0920), High: decimal.NewFromFloat(1.1030)},
		{Low: decimal.NewFromFloat(1.0960), High: decimal.NewFromFloat(1.1005)},
	}}
	mgr := NewExitManager(zap.NewNop(), bars, fakeIndicators{})
	strat := &types.Strategy{
		Timeframe: types.TimeframeM1,
		SmartExit: &types.SmartExitSpec{SwingLookbackBars: 3},
	}
	rec := &PositionRecord{Position: buyPosition(1), FirstSeen: time.Now(), exit: exitState{firedLevels: map[int]bool{}}}
	rec.Position.StopLoss = decimal.NewFromFloat(1.0900)

	decisions := mgr.Evaluate(strat, rec, time.Now())
	require.Len(t, decisions, 1)
	assert.True(t, decisions[0].NewSL.Equal(decimal.NewFromFloat(1.0920)))
}
