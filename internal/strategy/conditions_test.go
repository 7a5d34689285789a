package strategy

import (
	"testing"

	"github.com/atlas-desktop/trade-executor/internal/indicators"
	"github.com/atlas-desktop/trade-executor/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine returns a pre-scripted series per indicator name, ignoring
// bars/params, so condition logic can be tested without real indicator
// math.
type fakeEngine struct {
	series map[string]indicators.Series
}

func (f *fakeEngine) Compute(symbol, timeframe, name string, bars []types.Bar, params map[string]any) (indicators.Series, error) {
	s, ok := f.series[name]
	if !ok {
		return nil, indicators.ErrUnknownIndicator{Name: name}
	}
	return s, nil
}

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func makeTestBars(n int) []types.Bar {
	bars := make([]types.Bar, n)
	for i := range bars {
		bars[i] = types.Bar{Close: d(1.1000)}
	}
	return bars
}

func TestEvaluateGreaterThanLiteral(t *testing.T) {
	engine := &fakeEngine{series: map[string]indicators.Series{"rsi": {d(72)}}}
	ctx := EvalContext{Symbol: "EURUSD", Timeframe: "M15", Bars: makeTestBars(5), Engine: engine}
	lit := d(70)
	cond := types.Condition{Indicator: "rsi", Operator: types.OpGT, Operand: types.Operand{Literal: &lit}}

	result, err := Evaluate(cond, ctx)
	require.NoError(t, err)
	assert.True(t, result.Met)
}

func TestEvaluateBetween(t *testing.T) {
	engine := &fakeEngine{series: map[string]indicators.Series{"rsi": {d(50)}}}
	ctx := EvalContext{Symbol: "EURUSD", Timeframe: "M15", Bars: makeTestBars(5), Engine: engine}
	lower := d(30)
	upper := d(70)
	cond := types.Condition{Indicator: "rsi", Operator: types.OpBetween, Operand: types.Operand{Literal: &lower, UpperBound: &upper}}

	result, err := Evaluate(cond, ctx)
	require.NoError(t, err)
	assert.True(t, result.Met)
}

func TestEvaluateCrossesAbove(t *testing.T) {
	engine := &fakeEngine{series: map[string]indicators.Series{
		"ema_fast": {d(1.0990), d(1.1010)}, // was below, now above
		"ema_slow": {d(1.1000), d(1.1000)},
	}}
	ctx := EvalContext{Symbol: "EURUSD", Timeframe: "M15", Bars: makeTestBars(5), Engine: engine}
	cond := types.Condition{
		Indicator: "ema_fast",
		Operator:  types.OpCrossesAbove,
		Operand:   types.Operand{IndicatorRef: "ema_slow"},
	}

	result, err := Evaluate(cond, ctx)
	require.NoError(t, err)
	assert.True(t, result.Met)
}

func TestEvaluateCrossesBelowNotMet(t *testing.T) {
	engine := &fakeEngine{series: map[string]indicators.Series{
		"ema_fast": {d(1.1010), d(1.1020)}, // still rising, no cross
		"ema_slow": {d(1.1000), d(1.1000)},
	}}
	ctx := EvalContext{Symbol: "EURUSD", Timeframe: "M15", Bars: makeTestBars(5), Engine: engine}
	cond := types.Condition{
		Indicator: "ema_fast",
		Operator:  types.OpCrossesBelow,
		Operand:   types.Operand{IndicatorRef: "ema_slow"},
	}

	result, err := Evaluate(cond, ctx)
	require.NoError(t, err)
	assert.False(t, result.Met)
}

func TestEvaluateSetANDRequiresAll(t *testing.T) {
	engine := &fakeEngine{series: map[string]indicators.Series{"rsi": {d(72)}, "adx": {d(10)}}}
	ctx := EvalContext{Symbol: "EURUSD", Timeframe: "M15", Bars: makeTestBars(5), Engine: engine}
	rsiLit, adxLit := d(70), d(25)
	conditions := []types.Condition{
		{Indicator: "rsi", Operator: types.OpGT, Operand: types.Operand{Literal: &rsiLit}},
		{Indicator: "adx", Operator: types.OpGT, Operand: types.Operand{Literal: &adxLit}},
	}

	met, results, confidence, err := EvaluateSet(conditions, types.CombinatorAND, ctx)
	require.NoError(t, err)
	assert.False(t, met) // adx condition fails
	assert.Len(t, results, 2)
	assert.Equal(t, 50, confidence)
}

func TestEvaluateSetORPassesOnAny(t *testing.T) {
	engine := &fakeEngine{series: map[string]indicators.Series{"rsi": {d(72)}, "adx": {d(10)}}}
	ctx := EvalContext{Symbol: "EURUSD", Timeframe: "M15", Bars: makeTestBars(5), Engine: engine}
	rsiLit, adxLit := d(70), d(25)
	conditions := []types.Condition{
		{Indicator: "rsi", Operator: types.OpGT, Operand: types.Operand{Literal: &rsiLit}},
		{Indicator: "adx", Operator: types.OpGT, Operand: types.Operand{Literal: &adxLit}},
	}

	met, _, confidence, err := EvaluateSet(conditions, types.CombinatorOR, ctx)
	require.NoError(t, err)
	assert.True(t, met)
	assert.Equal(t, 50, confidence)
}

func TestEvaluateUnknownIndicatorErrors(t *testing.T) {
	engine := &fakeEngine{series: map[string]indicators.Series{}}
	ctx := EvalContext{Symbol: "EURUSD", Timeframe: "M15", Bars: makeTestBars(5), Engine: engine}
	lit := d(70)
	cond := types.Condition{Indicator: "nonsense", Operator: types.OpGT, Operand: types.Operand{Literal: &lit}}

	_, err := Evaluate(cond, ctx)
	assert.Error(t, err)
}
