package strategy

import (
	"fmt"

	"github.com/atlas-desktop/trade-executor/internal/indicators"
	"github.com/atlas-desktop/trade-executor/pkg/types"
	"github.com/shopspring/decimal"
)

// IndicatorEngine is the subset of indicators.CachedEngine the condition
// evaluator needs. Satisfied by *indicators.CachedEngine in production and
// by a fake in tests.
type IndicatorEngine interface {
	Compute(symbol, timeframe, name string, bars []types.Bar, params map[string]any) (indicators.Series, error)
}

// EvalContext carries the per-tick inputs a condition needs beyond the
// condition itself: which symbol/timeframe the bars belong to (for cache
// keys) and the indicator engine to resolve values through.
type EvalContext struct {
	Symbol    string
	Timeframe string
	Bars      []types.Bar
	Engine    IndicatorEngine
}

// resolveSeries computes the indicator series named by indicator/params,
// applying lookbackOffset by trimming that many trailing bars before the
// caller reads Last().
func (c EvalContext) resolveSeries(indicatorName string, params map[string]any, lookbackOffset int) (indicators.Series, error) {
	bars := c.Bars
	if lookbackOffset > 0 {
		if lookbackOffset >= len(bars) {
			return nil, fmt.Errorf("strategy: lookbackOffset %d exceeds available bars (%d)", lookbackOffset, len(bars))
		}
		bars = bars[:len(bars)-lookbackOffset]
	}
	return c.Engine.Compute(c.Symbol, c.Timeframe, indicatorName, bars, params)
}

// resolveOperand evaluates an Operand to its current decimal value. An
// indicator-ref operand reuses the same bar window and lookback as the
// owning condition so "RSI crosses above SMA" compares values from the
// same bar.
func (c EvalContext) resolveOperand(op types.Operand, lookbackOffset int) (decimal.Decimal, error) {
	if op.Literal != nil {
		return *op.Literal, nil
	}
	if op.IndicatorRef == "" {
		return decimal.Zero, fmt.Errorf("strategy: operand has neither a literal nor an indicatorRef")
	}
	series, err := c.resolveSeries(op.IndicatorRef, op.IndicatorParams, lookbackOffset)
	if err != nil {
		return decimal.Zero, err
	}
	return series.Last(), nil
}

// Evaluate evaluates a single Condition against ctx, returning its
// met/not-met verdict and a human-readable reason.
func Evaluate(cond types.Condition, ctx EvalContext) (types.ConditionResult, error) {
	series, err := ctx.resolveSeries(cond.Indicator, cond.Params, cond.LookbackOffset)
	if err != nil {
		return types.ConditionResult{}, err
	}
	if len(series) == 0 {
		return types.ConditionResult{}, fmt.Errorf("strategy: indicator %q produced an empty series", cond.Indicator)
	}
	current := series.Last()

	switch cond.Operator {
	case types.OpCrossesAbove, types.OpCrossesBelow:
		return evalCross(cond, ctx, series)
	case types.OpBetween:
		lower, err := ctx.resolveOperand(cond.Operand, cond.LookbackOffset)
		if err != nil {
			return types.ConditionResult{}, err
		}
		if cond.Operand.UpperBound == nil {
			return types.ConditionResult{}, fmt.Errorf("strategy: between operator requires an upperBound")
		}
		met := current.GreaterThanOrEqual(lower) && current.LessThanOrEqual(*cond.Operand.UpperBound)
		return types.ConditionResult{
			Met:    met,
			Reason: fmt.Sprintf("%s=%s between [%s,%s]: %v", cond.Indicator, current, lower, cond.Operand.UpperBound, met),
		}, nil
	default:
		operand, err := ctx.resolveOperand(cond.Operand, cond.LookbackOffset)
		if err != nil {
			return types.ConditionResult{}, err
		}
		met, err := compare(cond.Operator, current, operand)
		if err != nil {
			return types.ConditionResult{}, err
		}
		return types.ConditionResult{
			Met:    met,
			Reason: fmt.Sprintf("%s=%s %s %s: %v", cond.Indicator, current, cond.Operator, operand, met),
		}, nil
	}
}

func compare(op types.Operator, lhs, rhs decimal.Decimal) (bool, error) {
	switch op {
	case types.OpGT:
		return lhs.GreaterThan(rhs), nil
	case types.OpGTE:
		return lhs.GreaterThanOrEqual(rhs), nil
	case types.OpLT:
		return lhs.LessThan(rhs), nil
	case types.OpLTE:
		return lhs.LessThanOrEqual(rhs), nil
	case types.OpEQ:
		return lhs.Equal(rhs), nil
	default:
		return false, fmt.Errorf("strategy: unsupported operator %q", op)
	}
}

// evalCross needs two consecutive points of both sides to detect a
// crossing: met iff lhs was on the opposite side of rhs one bar ago and is
// on the target side now.
func evalCross(cond types.Condition, ctx EvalContext, series indicators.Series) (types.ConditionResult, error) {
	if len(series) < 2 {
		return types.ConditionResult{Met: false, Reason: fmt.Sprintf("%s: insufficient history to detect a cross", cond.Indicator)}, nil
	}
	currLHS := series[len(series)-1]
	prevLHS := series[len(series)-2]

	currRHS, prevRHS, err := resolveOperandSeries(cond.Operand, ctx, cond.LookbackOffset, len(series))
	if err != nil {
		return types.ConditionResult{}, err
	}

	var met bool
	switch cond.Operator {
	case types.OpCrossesAbove:
		met = prevLHS.LessThanOrEqual(prevRHS) && currLHS.GreaterThan(currRHS)
	case types.OpCrossesBelow:
		met = prevLHS.GreaterThanOrEqual(prevRHS) && currLHS.LessThan(currRHS)
	}
	return types.ConditionResult{
		Met:    met,
		Reason: fmt.Sprintf("%s %s %s: %v (prev %s vs %s, now %s vs %s)", cond.Indicator, cond.Operator, describeOperand(cond.Operand), met, prevLHS, prevRHS, currLHS, currRHS),
	}, nil
}

// resolveOperandSeries returns the previous and current value of the
// Operand's right-hand side, aligned to the same bar count as the
// left-hand indicator series.
func resolveOperandSeries(op types.Operand, ctx EvalContext, lookbackOffset, seriesLen int) (curr, prev decimal.Decimal, err error) {
	if op.Literal != nil {
		return *op.Literal, *op.Literal, nil
	}
	rhsSeries, err := ctx.resolveSeries(op.IndicatorRef, op.IndicatorParams, lookbackOffset)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if len(rhsSeries) < 2 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("strategy: operand indicator %q has insufficient history for a cross", op.IndicatorRef)
	}
	return rhsSeries[len(rhsSeries)-1], rhsSeries[len(rhsSeries)-2], nil
}

func describeOperand(op types.Operand) string {
	if op.Literal != nil {
		return op.Literal.String()
	}
	return op.IndicatorRef
}

// EvaluateSet evaluates every condition in conditions against ctx and
// folds the results with combinator, returning the overall verdict,
// per-condition results (for the reason list), and a 0-100 confidence
// computed as met/total.
func EvaluateSet(conditions []types.Condition, combinator types.Combinator, ctx EvalContext) (bool, []types.ConditionResult, int, error) {
	if len(conditions) == 0 {
		return false, nil, 0, nil
	}

	results := make([]types.ConditionResult, len(conditions))
	met := 0
	for i, cond := range conditions {
		r, err := Evaluate(cond, ctx)
		if err != nil {
			return false, nil, 0, fmt.Errorf("strategy: evaluating condition %d (%s): %w", i, cond.Indicator, err)
		}
		results[i] = r
		if r.Met {
			met++
		}
	}

	var overall bool
	switch combinator {
	case types.CombinatorOR:
		overall = met > 0
	default: // AND
		overall = met == len(conditions)
	}

	confidence := (met * 100) / len(conditions)
	return overall, results, confidence, nil
}
