package strategy

import (
	"testing"

	"github.com/atlas-desktop/trade-executor/internal/indicators"
	"github.com/atlas-desktop/trade-executor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDirectionExplicit(t *testing.T) {
	rule := types.DirectionRule{Kind: types.DirectionExplicit, ExplicitSide: types.SideSell}
	side, err := ResolveDirection(rule, nil, nil, EvalContext{})
	require.NoError(t, err)
	assert.Equal(t, types.SideSell, side)
}

func TestResolveDirectionFirstConditionGT(t *testing.T) {
	rule := types.DirectionRule{Kind: types.DirectionFirstCondition}
	conditions := []types.Condition{{Indicator: "rsi", Operator: types.OpGT}}
	side, err := ResolveDirection(rule, conditions, nil, EvalContext{})
	require.NoError(t, err)
	assert.Equal(t, types.SideBuy, side)
}

func TestResolveDirectionFirstConditionLT(t *testing.T) {
	rule := types.DirectionRule{Kind: types.DirectionFirstCondition}
	conditions := []types.Condition{{Indicator: "rsi", Operator: types.OpLT}}
	side, err := ResolveDirection(rule, conditions, nil, EvalContext{})
	require.NoError(t, err)
	assert.Equal(t, types.SideSell, side)
}

func TestResolveDirectionRSIHeuristicBullish(t *testing.T) {
	engine := &fakeEngine{series: map[string]indicators.Series{"rsi": {d(65)}}}
	ctx := EvalContext{Symbol: "EURUSD", Timeframe: "M15", Bars: makeTestBars(5), Engine: engine}
	rule := types.DirectionRule{Kind: types.DirectionRSIHeuristic}
	conditions := []types.Condition{{Indicator: "rsi", Operator: types.OpGT}}

	side, err := ResolveDirection(rule, conditions, nil, ctx)
	require.NoError(t, err)
	assert.Equal(t, types.SideBuy, side)
}

func TestResolveDirectionRSIHeuristicBearish(t *testing.T) {
	engine := &fakeEngine{series: map[string]indicators.Series{"rsi": {d(35)}}}
	ctx := EvalContext{Symbol: "EURUSD", Timeframe: "M15", Bars: makeTestBars(5), Engine: engine}
	rule := types.DirectionRule{Kind: types.DirectionRSIHeuristic}
	conditions := []types.Condition{{Indicator: "rsi", Operator: types.OpLT}}

	side, err := ResolveDirection(rule, conditions, nil, ctx)
	require.NoError(t, err)
	assert.Equal(t, types.SideSell, side)
}

func TestResolveDirectionRSIHeuristicFallsBackWithoutRSICondition(t *testing.T) {
	rule := types.DirectionRule{Kind: types.DirectionRSIHeuristic}
	conditions := []types.Condition{{Indicator: "macd", Operator: types.OpCrossesBelow}}
	side, err := ResolveDirection(rule, conditions, nil, EvalContext{})
	require.NoError(t, err)
	assert.Equal(t, types.SideSell, side)
}
