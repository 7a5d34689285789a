package strategy

import (
	"fmt"

	"github.com/atlas-desktop/trade-executor/pkg/types"
	"github.com/shopspring/decimal"
)

// midlineRSI is the neutral RSI value the rsi_heuristic direction rule
// splits bullish/bearish momentum around.
var midlineRSI = decimal.NewFromInt(50)

// ResolveDirection derives BUY/SELL for a strategy whose entry conditions
// just evaluated true. The source system hard-coded an RSI-keyed
// heuristic; here it's one of three explicit, deterministic rules a
// strategy schema selects (spec §9 Open Questions).
func ResolveDirection(rule types.DirectionRule, entryConditions []types.Condition, results []types.ConditionResult, ctx EvalContext) (types.Side, error) {
	switch rule.Kind {
	case types.DirectionExplicit:
		if rule.ExplicitSide == "" {
			return "", fmt.Errorf("strategy: explicit direction rule has no explicitSide configured")
		}
		return rule.ExplicitSide, nil

	case types.DirectionFirstCondition:
		if len(entryConditions) == 0 {
			return "", fmt.Errorf("strategy: first_condition_side direction rule requires at least one entry condition")
		}
		return sideFromOperator(entryConditions[0].Operator), nil

	case types.DirectionRSIHeuristic:
		for _, cond := range entryConditions {
			if cond.Indicator != "rsi" {
				continue
			}
			series, err := ctx.resolveSeries(cond.Indicator, cond.Params, cond.LookbackOffset)
			if err != nil {
				return "", err
			}
			if len(series) == 0 {
				return "", fmt.Errorf("strategy: rsi_heuristic found an empty RSI series")
			}
			if series.Last().GreaterThanOrEqual(midlineRSI) {
				return types.SideBuy, nil
			}
			return types.SideSell, nil
		}
		// No RSI condition present: fall back to the first condition's
		// comparison direction, same as first_condition_side.
		if len(entryConditions) == 0 {
			return "", fmt.Errorf("strategy: rsi_heuristic direction rule requires at least one entry condition")
		}
		return sideFromOperator(entryConditions[0].Operator), nil

	default:
		return "", fmt.Errorf("strategy: unknown direction rule kind %q", rule.Kind)
	}
}

// sideFromOperator derives BUY/SELL from a condition's comparison
// direction: ">"-family and crosses-above imply the indicator is breaking
// out upward (BUY); "<"-family and crosses-below imply the opposite.
func sideFromOperator(op types.Operator) types.Side {
	switch op {
	case types.OpLT, types.OpLTE, types.OpCrossesBelow:
		return types.SideSell
	default:
		return types.SideBuy
	}
}
