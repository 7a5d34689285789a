package strategy

import (
	"fmt"

	"github.com/atlas-desktop/trade-executor/pkg/types"
	"github.com/shopspring/decimal"
)

const defaultATRPeriod = 14

var hundred = decimal.NewFromInt(100)

// ComputeStopLoss resolves a StopLossSpec to an absolute price, given the
// entry price and trade side. ATR-based specs consult the indicator
// engine for ATR(period); everything else is arithmetic on entry.
func ComputeStopLoss(spec *types.StopLossSpec, side types.Side, entry decimal.Decimal, ctx EvalContext) (decimal.Decimal, error) {
	if spec == nil {
		return decimal.Zero, nil
	}
	var price decimal.Decimal
	switch spec.Kind {
	case types.SLFixedPips:
		distance := pipsToPrice(spec.Value, ctx.Symbol)
		price = applyDistance(entry, distance, side, true)
	case types.SLATR:
		distance, err := atrDistance(spec.Multiplier, spec.Period, ctx)
		if err != nil {
			return decimal.Zero, err
		}
		price = applyDistance(entry, distance, side, true)
	case types.SLPercent:
		distance := entry.Mul(spec.Value).Div(hundred)
		price = applyDistance(entry, distance, side, true)
	case types.SLPrice:
		price = spec.Value
	default:
		return decimal.Zero, fmt.Errorf("strategy: unknown stop-loss kind %q", spec.Kind)
	}
	return clampPips(price, entry, ctx.Symbol, spec.MinPips, spec.MaxPips, side, true), nil
}

// ComputeTakeProfit resolves a TakeProfitSpec to an absolute price. The
// ratio variant needs the already-computed SL distance.
func ComputeTakeProfit(spec *types.TakeProfitSpec, side types.Side, entry, stopLoss decimal.Decimal, ctx EvalContext) (decimal.Decimal, error) {
	if spec == nil {
		return decimal.Zero, nil
	}
	var price decimal.Decimal
	switch spec.Kind {
	case types.TPFixedPips:
		distance := pipsToPrice(spec.Value, ctx.Symbol)
		price = applyDistance(entry, distance, side, false)
	case types.TPATR:
		distance, err := atrDistance(spec.Multiplier, spec.Period, ctx)
		if err != nil {
			return decimal.Zero, err
		}
		price = applyDistance(entry, distance, side, false)
	case types.TPPercent:
		distance := entry.Mul(spec.Value).Div(hundred)
		price = applyDistance(entry, distance, side, false)
	case types.TPPrice:
		price = spec.Value
	case types.TPRatio:
		if stopLoss.IsZero() {
			return decimal.Zero, fmt.Errorf("strategy: ratio take-profit requires a computed stop-loss")
		}
		slDistance := entry.Sub(stopLoss).Abs()
		distance := slDistance.Mul(spec.Value)
		price = applyDistance(entry, distance, side, false)
	default:
		return decimal.Zero, fmt.Errorf("strategy: unknown take-profit kind %q", spec.Kind)
	}
	return clampPips(price, entry, ctx.Symbol, spec.MinPips, spec.MaxPips, side, false), nil
}

// applyDistance places a price distance on the correct side of entry:
// BUY stop-losses sit below entry and take-profits sit above; SELL is the
// mirror image (spec §4.2.3).
func applyDistance(entry, distance decimal.Decimal, side types.Side, isStopLoss bool) decimal.Decimal {
	below := (side == types.SideBuy && isStopLoss) || (side == types.SideSell && !isStopLoss)
	if below {
		return entry.Sub(distance)
	}
	return entry.Add(distance)
}

func atrDistance(multiplier decimal.Decimal, period int, ctx EvalContext) (decimal.Decimal, error) {
	if period <= 0 {
		period = defaultATRPeriod
	}
	series, err := ctx.Engine.Compute(ctx.Symbol, ctx.Timeframe, "atr", ctx.Bars, map[string]any{"period": period})
	if err != nil {
		return decimal.Zero, err
	}
	if len(series) == 0 {
		return decimal.Zero, fmt.Errorf("strategy: atr series is empty")
	}
	return series.Last().Mul(multiplier), nil
}

func pipsToPrice(pips decimal.Decimal, symbol string) decimal.Decimal {
	return PipsToPrice(pips, symbol)
}

// PipsToPrice converts a pip distance to an absolute price distance for
// symbol. Exported for the Smart Exit Manager, which places stops at a
// pip distance from entry/current price.
func PipsToPrice(pips decimal.Decimal, symbol string) decimal.Decimal {
	return pips.Mul(pointSize(symbol)).Mul(decimal.NewFromInt(10))
}

// PriceToPips converts an absolute price distance to pips for symbol.
// Exported for the position sizer, which needs the SL distance in pips
// rather than price units.
func PriceToPips(distance decimal.Decimal, symbol string) decimal.Decimal {
	pipValue := pointSize(symbol).Mul(decimal.NewFromInt(10))
	if pipValue.IsZero() {
		return decimal.Zero
	}
	return distance.Abs().Div(pipValue)
}

// clampPips enforces the spec's min/max pip clamps by comparing the
// resulting distance from entry, not the absolute price.
func clampPips(price, entry decimal.Decimal, symbol string, minPips, maxPips *decimal.Decimal, side types.Side, isStopLoss bool) decimal.Decimal {
	if minPips == nil && maxPips == nil {
		return price
	}
	distance := entry.Sub(price).Abs()
	point := pointSize(symbol)
	pipValue := point.Mul(decimal.NewFromInt(10))
	distancePips := distance.Div(pipValue)

	clamped := distancePips
	if minPips != nil && clamped.LessThan(*minPips) {
		clamped = *minPips
	}
	if maxPips != nil && clamped.GreaterThan(*maxPips) {
		clamped = *maxPips
	}
	if clamped.Equal(distancePips) {
		return price
	}
	return applyDistance(entry, clamped.Mul(pipValue), side, isStopLoss)
}
