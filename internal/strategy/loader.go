package strategy

import (
	"fmt"

	"github.com/atlas-desktop/trade-executor/pkg/types"
)

// ValidationError reports a hard schema error. Per the design notes, an
// unrecognized filter or sizing kind is never silently ignored — it fails
// strategy load outright.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("strategy: invalid %s: %s", e.Field, e.Reason)
}

var validTimeframes = map[types.Timeframe]bool{
	types.TimeframeM1: true, types.TimeframeM5: true, types.TimeframeM15: true,
	types.TimeframeM30: true, types.TimeframeH1: true, types.TimeframeH4: true,
	types.TimeframeD1: true,
}

var validFilterKinds = map[types.FilterKind]bool{
	types.FilterTime: true, types.FilterSession: true, types.FilterSpread: true,
	types.FilterVolatility: true, types.FilterDayOfWeek: true, types.FilterNews: true,
}

var validSizingKinds = map[types.SizingKind]bool{
	types.SizeFixedLot: true, types.SizePercentageRisk: true, types.SizeATRBased: true,
	types.SizeVolatilityBased: true, types.SizeKelly: true, types.SizeAccountEquity: true,
}

var validStopLossKinds = map[types.StopLossKind]bool{
	types.SLFixedPips: true, types.SLATR: true, types.SLPercent: true, types.SLPrice: true,
}

var validTakeProfitKinds = map[types.TakeProfitKind]bool{
	types.TPFixedPips: true, types.TPATR: true, types.TPPercent: true, types.TPPrice: true, types.TPRatio: true,
}

var validDirectionKinds = map[types.DirectionRuleKind]bool{
	types.DirectionRSIHeuristic: true, types.DirectionFirstCondition: true, types.DirectionExplicit: true,
}

var validCombinators = map[types.Combinator]bool{types.CombinatorAND: true, types.CombinatorOR: true}

var validOperators = map[types.Operator]bool{
	types.OpGT: true, types.OpGTE: true, types.OpLT: true, types.OpLTE: true,
	types.OpEQ: true, types.OpCrossesAbove: true, types.OpCrossesBelow: true, types.OpBetween: true,
}

// Validate rejects a strategy config with any unknown tagged-variant kind,
// missing required fields, or structurally impossible combination. It is
// run once at load time (START_STRATEGY / UPDATE_STRATEGY), never per-tick.
func Validate(s *types.Strategy) error {
	if s == nil {
		return ValidationError{Field: "strategy", Reason: "nil"}
	}
	if s.ID == "" {
		return ValidationError{Field: "id", Reason: "required"}
	}
	if len(s.Symbols) == 0 {
		return ValidationError{Field: "symbols", Reason: "at least one symbol is required"}
	}
	if !validTimeframes[s.Timeframe] {
		return ValidationError{Field: "timeframe", Reason: fmt.Sprintf("unknown timeframe %q", s.Timeframe)}
	}
	if len(s.EntryConditions) > 0 && !validCombinators[s.EntryCombinator] {
		return ValidationError{Field: "entryCombinator", Reason: fmt.Sprintf("unknown combinator %q", s.EntryCombinator)}
	}
	if len(s.ExitConditions) > 0 && !validCombinators[s.ExitCombinator] {
		return ValidationError{Field: "exitCombinator", Reason: fmt.Sprintf("unknown combinator %q", s.ExitCombinator)}
	}
	for i, c := range append(append([]types.Condition{}, s.EntryConditions...), s.ExitConditions...) {
		if !validOperators[c.Operator] {
			return ValidationError{Field: "condition.operator", Reason: fmt.Sprintf("condition %d: unknown operator %q", i, c.Operator)}
		}
		if c.Operator == types.OpBetween && c.Operand.UpperBound == nil {
			return ValidationError{Field: "condition.operand", Reason: fmt.Sprintf("condition %d: between requires an upperBound", i)}
		}
		if c.Operand.Literal == nil && c.Operand.IndicatorRef == "" {
			return ValidationError{Field: "condition.operand", Reason: fmt.Sprintf("condition %d: operand needs a literal or an indicatorRef", i)}
		}
	}
	for i, f := range s.Filters {
		if !validFilterKinds[f.Kind] {
			return ValidationError{Field: "filters", Reason: fmt.Sprintf("filter %d: unknown kind %q", i, f.Kind)}
		}
	}
	if s.StopLoss != nil && !validStopLossKinds[s.StopLoss.Kind] {
		return ValidationError{Field: "stopLoss.kind", Reason: fmt.Sprintf("unknown kind %q", s.StopLoss.Kind)}
	}
	if s.TakeProfit != nil && !validTakeProfitKinds[s.TakeProfit.Kind] {
		return ValidationError{Field: "takeProfit.kind", Reason: fmt.Sprintf("unknown kind %q", s.TakeProfit.Kind)}
	}
	if !validSizingKinds[s.Sizing.Kind] {
		return ValidationError{Field: "sizing.kind", Reason: fmt.Sprintf("unknown kind %q", s.Sizing.Kind)}
	}
	if !validDirectionKinds[s.DirectionRule.Kind] {
		return ValidationError{Field: "directionRule.kind", Reason: fmt.Sprintf("unknown kind %q", s.DirectionRule.Kind)}
	}
	if s.DirectionRule.Kind == types.DirectionExplicit && s.DirectionRule.ExplicitSide == "" {
		return ValidationError{Field: "directionRule.explicitSide", Reason: "explicit direction rule requires explicitSide"}
	}
	return nil
}
