// Package sizing computes lot sizes from a strategy's PositionSizingSpec,
// an account snapshot, and (where relevant) ATR/volatility context.
package sizing

import (
	"fmt"

	"github.com/atlas-desktop/trade-executor/pkg/types"
	"github.com/atlas-desktop/trade-executor/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Inputs bundles everything a sizing variant might need. Not every field
// is used by every variant.
type Inputs struct {
	Account      types.AccountInfo
	Profile      types.AccountProfile
	SLPips       decimal.Decimal
	PipValue     decimal.Decimal // currency value of one pip per standard lot
	ATR          decimal.Decimal
	MeanATR      decimal.Decimal // mean ATR over the sizing spec's lookback
}

// Sizer turns a PositionSizingSpec into a concrete lot size.
type Sizer struct {
	logger *zap.Logger
}

// NewSizer builds a position sizer.
func NewSizer(logger *zap.Logger) *Sizer {
	return &Sizer{logger: logger.Named("sizing")}
}

// Size computes the lot size for spec given inputs, clamping to
// [MinLot, MaxLot], rounding to 0.01, and applying the live-account ×0.5
// safety reduction (spec §4.2.4).
func (s *Sizer) Size(spec types.PositionSizingSpec, in Inputs) (decimal.Decimal, error) {
	var lots decimal.Decimal
	var err error

	switch spec.Kind {
	case types.SizeFixedLot:
		lots = spec.Size
	case types.SizePercentageRisk:
		lots, err = percentageRisk(spec, in)
	case types.SizeATRBased:
		lots, err = atrBased(spec, in)
	case types.SizeVolatilityBased:
		lots, err = volatilityBased(spec, in)
	case types.SizeKelly:
		lots, err = kelly(spec)
	case types.SizeAccountEquity:
		lots = accountEquity(spec, in)
	default:
		return decimal.Zero, fmt.Errorf("unknown sizing kind %q", spec.Kind)
	}
	if err != nil {
		return decimal.Zero, err
	}

	if in.Profile == types.ProfileLive {
		lots = lots.Mul(decimal.NewFromFloat(0.5))
	}

	minLot := spec.MinLot
	maxLot := spec.MaxLot
	if maxLot.IsZero() {
		maxLot = decimal.NewFromInt(100)
	}
	lots = utils.ClampDecimal(lots, minLot, maxLot)
	return utils.RoundLot(lots), nil
}

func percentageRisk(spec types.PositionSizingSpec, in Inputs) (decimal.Decimal, error) {
	if in.SLPips.IsZero() || in.PipValue.IsZero() {
		return decimal.Zero, fmt.Errorf("percentage_risk sizing requires non-zero SL pips and pip value")
	}
	riskAmount := in.Account.Balance.Mul(spec.Pct).Div(decimal.NewFromInt(100))
	return riskAmount.Div(in.SLPips.Mul(in.PipValue)), nil
}

func atrBased(spec types.PositionSizingSpec, in Inputs) (decimal.Decimal, error) {
	if in.PipValue.IsZero() {
		return decimal.Zero, fmt.Errorf("atr_based sizing requires non-zero pip value")
	}
	slDistance := in.ATR.Mul(spec.Multiplier)
	riskAmount := in.Account.Balance.Mul(spec.RiskPct).Div(decimal.NewFromInt(100))
	lots := riskAmount.Div(slDistance.Mul(in.PipValue))

	if spec.VolatilityAdjust && !in.MeanATR.IsZero() {
		ratio := in.ATR.Div(in.MeanATR)
		switch {
		case ratio.GreaterThan(decimal.NewFromFloat(1.5)):
			lots = lots.Mul(decimal.NewFromFloat(0.7))
		case ratio.LessThan(decimal.NewFromFloat(0.7)):
			lots = lots.Mul(decimal.NewFromFloat(1.2))
		}
	}
	return lots, nil
}

func volatilityBased(spec types.PositionSizingSpec, in Inputs) (decimal.Decimal, error) {
	if in.MeanATR.IsZero() {
		return spec.Base, nil
	}
	ratio := in.ATR.Div(in.MeanATR)
	adjustment := decimal.NewFromInt(1).Sub(ratio.Sub(decimal.NewFromInt(1)).Mul(spec.Factor))
	return spec.Base.Mul(adjustment), nil
}

// kelly applies the fractional-Kelly formula f=(p*b-q)/b, clamped to
// [0, 0.25], multiplied by the strategy's safety fraction.
func kelly(spec types.PositionSizingSpec) (decimal.Decimal, error) {
	if spec.AvgLoss.IsZero() {
		return decimal.Zero, fmt.Errorf("kelly sizing requires non-zero average loss")
	}
	p := spec.WinRate
	q := decimal.NewFromInt(1).Sub(p)
	b := spec.AvgWin.Div(spec.AvgLoss)
	if b.IsZero() {
		return decimal.Zero, fmt.Errorf("kelly sizing requires non-zero win/loss ratio")
	}

	f := p.Mul(b).Sub(q).Div(b)
	f = utils.ClampDecimal(f, decimal.Zero, decimal.NewFromFloat(0.25))

	fraction := spec.KellyFraction
	if fraction.IsZero() {
		fraction = decimal.NewFromFloat(0.25)
	}
	return f.Mul(fraction), nil
}

func accountEquity(spec types.PositionSizingSpec, in Inputs) decimal.Decimal {
	return in.Account.Equity.Mul(spec.Pct).Div(decimal.NewFromInt(100))
}
