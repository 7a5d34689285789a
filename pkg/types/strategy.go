package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyStatus is the lifecycle state of a loaded strategy.
type StrategyStatus string

const (
	StrategyActive  StrategyStatus = "active"
	StrategyPaused  StrategyStatus = "paused"
	StrategyStopped StrategyStatus = "stopped"
)

// Combinator joins a list of conditions.
type Combinator string

const (
	CombinatorAND Combinator = "AND"
	CombinatorOR  Combinator = "OR"
)

// Operator compares an indicator value against an operand.
type Operator string

const (
	OpGT            Operator = ">"
	OpGTE           Operator = ">="
	OpLT            Operator = "<"
	OpLTE           Operator = "<="
	OpEQ            Operator = "=="
	OpCrossesAbove  Operator = "crosses-above"
	OpCrossesBelow  Operator = "crosses-below"
	OpBetween       Operator = "between"
)

// Operand is either a literal number or a reference to another indicator.
type Operand struct {
	Literal         *decimal.Decimal `json:"literal,omitempty"`
	IndicatorRef    string           `json:"indicatorRef,omitempty"`
	IndicatorParams map[string]any   `json:"indicatorParams,omitempty"`
	// Upper bound of the operand range, only used with OpBetween alongside
	// Literal as the lower bound.
	UpperBound *decimal.Decimal `json:"upperBound,omitempty"`
}

// Condition is one entry or exit test against a bar series.
type Condition struct {
	Indicator      string         `json:"indicator"`
	Params         map[string]any `json:"params"`
	Operator       Operator       `json:"operator"`
	Operand        Operand        `json:"operand"`
	LookbackOffset int            `json:"lookbackOffset,omitempty"`
}

// ConditionResult is the outcome of evaluating one condition.
type ConditionResult struct {
	Met    bool   `json:"met"`
	Reason string `json:"reason"`
}

// FilterKind tags the variant of a Filter.
type FilterKind string

const (
	FilterTime       FilterKind = "time"
	FilterSession    FilterKind = "session"
	FilterSpread     FilterKind = "spread"
	FilterVolatility FilterKind = "volatility"
	FilterDayOfWeek  FilterKind = "dayOfWeek"
	FilterNews       FilterKind = "news"
)

// Session is a named trading-hours window.
type Session string

const (
	SessionAsian   Session = "ASIAN"
	SessionLondon  Session = "LONDON"
	SessionNewYork Session = "NEWYORK"
)

// Filter is a tagged-variant pre-evaluation gate.
type Filter struct {
	Kind FilterKind `json:"kind"`

	// time(start,end)
	Start string `json:"start,omitempty"` // "HH:MM"
	End   string `json:"end,omitempty"`

	// session(allowed)
	AllowedSessions []Session `json:"allowedSessions,omitempty"`

	// spread(max-pips)
	MaxSpreadPips decimal.Decimal `json:"maxSpreadPips,omitempty"`

	// volatility(min?,max?)
	MinATR *decimal.Decimal `json:"minATR,omitempty"`
	MaxATR *decimal.Decimal `json:"maxATR,omitempty"`

	// dayOfWeek(allowed)
	AllowedWeekdays []time.Weekday `json:"allowedWeekdays,omitempty"`
}

// StopLossKind tags the variant of a StopLossSpec.
type StopLossKind string

const (
	SLFixedPips StopLossKind = "fixed-pips"
	SLATR       StopLossKind = "atr"
	SLPercent   StopLossKind = "percent"
	SLPrice     StopLossKind = "price"
)

// StopLossSpec describes how to derive a stop-loss distance/price.
type StopLossSpec struct {
	Kind       StopLossKind    `json:"kind"`
	Value      decimal.Decimal `json:"value"`      // pips, percent, or absolute price
	Multiplier decimal.Decimal `json:"multiplier"` // ATR multiplier
	Period     int             `json:"period"`     // ATR period, default 14
	MinPips    *decimal.Decimal `json:"minPips,omitempty"`
	MaxPips    *decimal.Decimal `json:"maxPips,omitempty"`
}

// TakeProfitKind tags the variant of a TakeProfitSpec; adds "ratio" to the
// StopLossKind set.
type TakeProfitKind string

const (
	TPFixedPips TakeProfitKind = "fixed-pips"
	TPATR       TakeProfitKind = "atr"
	TPPercent   TakeProfitKind = "percent"
	TPPrice     TakeProfitKind = "price"
	TPRatio     TakeProfitKind = "ratio" // relative to SL distance
)

// TakeProfitSpec describes how to derive a take-profit distance/price.
type TakeProfitSpec struct {
	Kind       TakeProfitKind  `json:"kind"`
	Value      decimal.Decimal `json:"value"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Period     int             `json:"period"`
	MinPips    *decimal.Decimal `json:"minPips,omitempty"`
	MaxPips    *decimal.Decimal `json:"maxPips,omitempty"`
}

// SizingKind tags the variant of a PositionSizingSpec.
type SizingKind string

const (
	SizeFixedLot        SizingKind = "fixed_lot"
	SizePercentageRisk   SizingKind = "percentage_risk"
	SizeATRBased         SizingKind = "atr_based"
	SizeVolatilityBased  SizingKind = "volatility_based"
	SizeKelly            SizingKind = "kelly"
	SizeAccountEquity     SizingKind = "account_equity"
)

// PositionSizingSpec describes how to size an order.
type PositionSizingSpec struct {
	Kind SizingKind `json:"kind"`

	// fixed_lot
	Size decimal.Decimal `json:"size,omitempty"`

	// percentage_risk / account_equity
	Pct decimal.Decimal `json:"pct,omitempty"`

	// atr_based
	Multiplier       decimal.Decimal  `json:"multiplier,omitempty"`
	RiskPct          decimal.Decimal  `json:"riskPct,omitempty"`
	MinATR           *decimal.Decimal `json:"minATR,omitempty"`
	MaxATR           *decimal.Decimal `json:"maxATR,omitempty"`
	VolatilityAdjust bool             `json:"volatilityAdjust,omitempty"`

	// volatility_based
	Base     decimal.Decimal `json:"base,omitempty"`
	Factor   decimal.Decimal `json:"factor,omitempty"`
	Lookback int             `json:"lookback,omitempty"`

	// kelly
	WinRate       decimal.Decimal `json:"winRate,omitempty"`
	AvgWin        decimal.Decimal `json:"avgWin,omitempty"`
	AvgLoss       decimal.Decimal `json:"avgLoss,omitempty"`
	KellyFraction decimal.Decimal `json:"kellyFraction,omitempty"`

	// clamps, applied to every variant's output
	MinLot decimal.Decimal `json:"minLot"`
	MaxLot decimal.Decimal `json:"maxLot"`
}

// CorrelationFilterSpec configures the correlation safety check.
type CorrelationFilterSpec struct {
	MaxCorrelation decimal.Decimal `json:"maxCorrelation"`
	LookbackBars   int             `json:"lookbackBars"`
}

// RegimeDetectionSpec enables regime-aware size scaling for a strategy.
type RegimeDetectionSpec struct {
	Enabled bool `json:"enabled"`
}

// PartialExitLevel is one rung of a smart-exit ladder.
type PartialExitTrigger string

const (
	TriggerPips  PartialExitTrigger = "pips"
	TriggerRR    PartialExitTrigger = "rr"
	TriggerATR   PartialExitTrigger = "atr"
	TriggerSwing PartialExitTrigger = "swing"
	TriggerPrice PartialExitTrigger = "price"
	TriggerTime  PartialExitTrigger = "time"
)

type PartialExitLevel struct {
	Trigger    PartialExitTrigger `json:"trigger"`
	Value      decimal.Decimal    `json:"value"`
	Percentage decimal.Decimal    `json:"percentage"` // of remaining volume
}

// SmartExitSpec configures the Smart Exit Manager for a strategy.
type SmartExitSpec struct {
	PartialExits       []PartialExitLevel `json:"partialExits,omitempty"`
	MaxTotalExitPct     decimal.Decimal    `json:"maxTotalExitPct,omitempty"`
	MaxRemainingPct     decimal.Decimal    `json:"maxRemainingPct,omitempty"`
	BreakevenAfterPct   decimal.Decimal    `json:"breakevenAfterPct,omitempty"` // move to BE after >= this much exited
	BreakevenLockPips   decimal.Decimal    `json:"breakevenLockPips,omitempty"`

	BreakevenActivationProfit decimal.Decimal `json:"breakevenActivationProfit,omitempty"`

	TrailingActivationProfit decimal.Decimal `json:"trailingActivationProfit,omitempty"`
	TrailingDistancePips     decimal.Decimal `json:"trailingDistancePips,omitempty"`

	MaxHoldingMinutes int    `json:"maxHoldingMinutes,omitempty"`
	MaxHoldingHours   int    `json:"maxHoldingHours,omitempty"`
	CloseAtUTCTime    string `json:"closeAtUTCTime,omitempty"` // "HH:MM"

	SwingLookbackBars int `json:"swingLookbackBars,omitempty"`
}

// DirectionRuleKind tags how BUY/SELL is derived when entry conditions are met.
type DirectionRuleKind string

const (
	DirectionRSIHeuristic     DirectionRuleKind = "rsi_heuristic"
	DirectionFirstCondition   DirectionRuleKind = "first_condition_side"
	DirectionExplicit         DirectionRuleKind = "explicit"
)

// DirectionRule replaces the ambiguous RSI-keyed heuristic from the source
// system with an explicit, per-strategy rule (spec §9 Open Questions).
type DirectionRule struct {
	Kind         DirectionRuleKind `json:"kind"`
	ExplicitSide Side              `json:"explicitSide,omitempty"`
}

// SessionFilterSpec restricts evaluation to specific sessions at the
// strategy level (distinct from a Filter entry, which gates per-tick).
type SessionFilterSpec struct {
	Allowed []Session `json:"allowed"`
}

// Strategy is the full strategy configuration as delivered by START_STRATEGY
// or UPDATE_STRATEGY.
type Strategy struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Symbols     []string       `json:"symbols"`
	Timeframe   Timeframe      `json:"timeframe"`

	EntryConditions   []Condition `json:"entryConditions"`
	EntryCombinator   Combinator  `json:"entryCombinator"`
	ExitConditions    []Condition `json:"exitConditions"`
	ExitCombinator    Combinator  `json:"exitCombinator"`
	Filters           []Filter    `json:"filters"`

	StopLoss   *StopLossSpec   `json:"stopLoss,omitempty"`
	TakeProfit *TakeProfitSpec `json:"takeProfit,omitempty"`
	Sizing     PositionSizingSpec `json:"sizing"`

	Correlation *CorrelationFilterSpec `json:"correlation,omitempty"`
	Regime      *RegimeDetectionSpec   `json:"regime,omitempty"`
	SmartExit   *SmartExitSpec         `json:"smartExit,omitempty"`
	Session     *SessionFilterSpec     `json:"session,omitempty"`

	DirectionRule DirectionRule `json:"directionRule"`

	Status StrategyStatus `json:"status"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep-enough copy for copy-on-write config swaps
// (UPDATE_STRATEGY atomically replaces the pointer, never mutates in place).
func (s *Strategy) Clone() *Strategy {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Symbols = append([]string(nil), s.Symbols...)
	cp.EntryConditions = append([]Condition(nil), s.EntryConditions...)
	cp.ExitConditions = append([]Condition(nil), s.ExitConditions...)
	cp.Filters = append([]Filter(nil), s.Filters...)
	return &cp
}
