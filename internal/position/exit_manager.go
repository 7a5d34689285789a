package position

import (
	"time"

	"github.com/atlas-desktop/trade-executor/internal/strategy"
	"github.com/atlas-desktop/trade-executor/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	breakevenAfterDefaultPct = 25
	atrPeriodForExits        = 14
)

var hundred = decimal.NewFromInt(100)

// ExitAction is the kind of decision the Smart Exit Manager emits.
type ExitAction string

const (
	exitModify ExitAction = "modify-position"
	exitClose  ExitAction = "close-position"
)

// ExitDecision is one modify-position or close-position event, consumed
// by the Order Dispatcher (spec §4.4 "All exit decisions are emitted as
// either modify-position{ticket,new_sl} or close-position{ticket,volume?}").
type ExitDecision struct {
	Action ExitAction
	Ticket int64
	NewSL  decimal.Decimal
	Volume decimal.Decimal // zero means close the full remaining position
	Reason string
}

// BarsProvider supplies recent bars for a symbol, used by ATR- and
// swing-point-based exit triggers.
type BarsProvider interface {
	Bars(symbol string, timeframe types.Timeframe, want int) ([]types.Bar, bool)
}

// ExitManager evaluates the Smart Exit Manager rules for every open
// position on every tick (spec §4.4 "Smart Exit Manager").
type ExitManager struct {
	logger     *zap.Logger
	bars       BarsProvider
	indicators strategy.IndicatorEngine
}

// NewExitManager builds an ExitManager.
func NewExitManager(logger *zap.Logger, bars BarsProvider, indicators strategy.IndicatorEngine) *ExitManager {
	return &ExitManager{logger: logger.Named("exit-manager"), bars: bars, indicators: indicators}
}

// Evaluate runs every configured exit rule for rec against spec.SmartExit,
// mutating rec's auxiliary exit state and returning the decisions to
// dispatch this tick, in priority order: time-based full close first (it
// supersedes everything else), then partial exits, then breakeven/
// trailing/swing stop adjustments.
func (m *ExitManager) Evaluate(s *types.Strategy, rec *PositionRecord, now time.Time) []ExitDecision {
	if s.SmartExit == nil {
		return nil
	}
	spec := s.SmartExit

	if d, ok := m.evaluateTimeBased(spec, rec, now); ok {
		return []ExitDecision{d}
	}

	var decisions []ExitDecision
	decisions = append(decisions, m.evaluatePartialExits(spec, rec, now, s.Timeframe)...)

	if d, ok := m.evaluateBreakeven(spec, rec); ok {
		decisions = append(decisions, d)
	} else if d, ok := m.evaluateTrailing(spec, rec); ok {
		decisions = append(decisions, d)
	} else if d, ok := m.evaluateSwingStop(spec, rec, s.Timeframe); ok {
		decisions = append(decisions, d)
	}

	return decisions
}

func (m *ExitManager) evaluateTimeBased(spec *types.SmartExitSpec, rec *PositionRecord, now time.Time) (ExitDecision, bool) {
	held := now.Sub(rec.FirstSeen)
	if spec.MaxHoldingMinutes > 0 && held >= time.Duration(spec.MaxHoldingMinutes)*time.Minute {
		return ExitDecision{Action: exitClose, Ticket: rec.Position.Ticket, Reason: "max_holding_minutes reached"}, true
	}
	if spec.MaxHoldingHours > 0 && held >= time.Duration(spec.MaxHoldingHours)*time.Hour {
		return ExitDecision{Action: exitClose, Ticket: rec.Position.Ticket, Reason: "max_holding_hours reached"}, true
	}
	if spec.CloseAtUTCTime != "" {
		target, err := time.Parse("15:04", spec.CloseAtUTCTime)
		if err == nil {
			nowUTC := now.UTC()
			if nowUTC.Hour() > target.Hour() || (nowUTC.Hour() == target.Hour() && nowUTC.Minute() >= target.Minute()) {
				return ExitDecision{Action: exitClose, Ticket: rec.Position.Ticket, Reason: "close_at_utc_time reached"}, true
			}
		}
	}
	return ExitDecision{}, false
}

func (m *ExitManager) evaluatePartialExits(spec *types.SmartExitSpec, rec *PositionRecord, now time.Time, timeframe types.Timeframe) []ExitDecision {
	if len(spec.PartialExits) == 0 {
		return nil
	}
	if rec.exit.firedLevels == nil {
		rec.exit.firedLevels = make(map[int]bool)
	}

	maxTotal := spec.MaxTotalExitPct
	if maxTotal.IsZero() {
		maxTotal = hundred
	}
	maxRemaining := spec.MaxRemainingPct

	var decisions []ExitDecision
	for idx, level := range spec.PartialExits {
		if rec.exit.firedLevels[idx] {
			continue
		}
		if !m.levelTriggered(level, rec, now, timeframe) {
			continue
		}

		pct := level.Percentage
		remainingBudget := maxTotal.Sub(rec.exit.exitedPct)
		if remainingBudget.LessThanOrEqual(decimal.Zero) {
			rec.exit.firedLevels[idx] = true
			continue
		}
		if pct.GreaterThan(remainingBudget) {
			pct = remainingBudget
		}

		remainingAfterExit := hundred.Sub(rec.exit.exitedPct).Sub(pct)
		if !maxRemaining.IsZero() && remainingAfterExit.LessThan(maxRemaining) {
			pct = hundred.Sub(rec.exit.exitedPct).Sub(maxRemaining)
		}
		if pct.LessThanOrEqual(decimal.Zero) {
			rec.exit.firedLevels[idx] = true
			continue
		}

		volume := rec.Position.Volume.Mul(pct).Div(hundred)
		rec.exit.exitedPct = rec.exit.exitedPct.Add(pct)
		rec.exit.firedLevels[idx] = true

		decisions = append(decisions, ExitDecision{
			Action: exitClose,
			Ticket: rec.Position.Ticket,
			Volume: volume,
			Reason: "partial exit: " + string(level.Trigger),
		})
	}
	return decisions
}

func (m *ExitManager) levelTriggered(level types.PartialExitLevel, rec *PositionRecord, now time.Time, timeframe types.Timeframe) bool {
	pos := rec.Position
	profitDistance := priceDistanceInFavor(pos)

	switch level.Trigger {
	case types.TriggerPips:
		return profitDistance.GreaterThanOrEqual(strategy.PipsToPrice(level.Value, pos.Symbol))
	case types.TriggerPrice:
		if pos.Side == types.SideBuy {
			return pos.CurrentPrice.GreaterThanOrEqual(level.Value)
		}
		return pos.CurrentPrice.LessThanOrEqual(level.Value)
	case types.TriggerRR:
		risk := riskDistance(pos)
		if risk.IsZero() {
			return false
		}
		return profitDistance.GreaterThanOrEqual(risk.Mul(level.Value))
	case types.TriggerATR:
		atr := m.atrFor(pos.Symbol, timeframe)
		if atr.IsZero() {
			return false
		}
		return profitDistance.GreaterThanOrEqual(atr.Mul(level.Value))
	case types.TriggerSwing:
		swingLevel, ok := m.swingLevel(pos.Symbol, pos.Side, int(level.Value.IntPart()), timeframe)
		if !ok {
			return false
		}
		if pos.Side == types.SideBuy {
			return pos.CurrentPrice.GreaterThanOrEqual(swingLevel)
		}
		return pos.CurrentPrice.LessThanOrEqual(swingLevel)
	case types.TriggerTime:
		elapsed := now.Sub(rec.FirstSeen)
		return elapsed >= time.Duration(level.Value.IntPart())*time.Minute
	default:
		return false
	}
}

func (m *ExitManager) evaluateBreakeven(spec *types.SmartExitSpec, rec *PositionRecord) (ExitDecision, bool) {
	if rec.exit.breakevenMoved {
		return ExitDecision{}, false
	}
	pos := rec.Position

	breakevenAfter := spec.BreakevenAfterPct
	if breakevenAfter.IsZero() {
		breakevenAfter = decimal.NewFromInt(breakevenAfterDefaultPct)
	}
	pctTrigger := rec.exit.exitedPct.GreaterThanOrEqual(breakevenAfter) && rec.exit.exitedPct.GreaterThan(decimal.Zero)
	profitTrigger := !spec.BreakevenActivationProfit.IsZero() && pos.Profit.GreaterThanOrEqual(spec.BreakevenActivationProfit)
	if !pctTrigger && !profitTrigger {
		return ExitDecision{}, false
	}

	lockPips := spec.BreakevenLockPips
	lockDistance := strategy.PipsToPrice(lockPips, pos.Symbol)
	var newSL decimal.Decimal
	if pos.Side == types.SideBuy {
		newSL = pos.OpenPrice.Add(lockDistance)
	} else {
		newSL = pos.OpenPrice.Sub(lockDistance)
	}

	rec.exit.breakevenMoved = true
	rec.exit.hasTrailingSL = true
	rec.exit.trailingSL = newSL
	return ExitDecision{Action: exitModify, Ticket: pos.Ticket, NewSL: newSL, Reason: "breakeven"}, true
}

func (m *ExitManager) evaluateTrailing(spec *types.SmartExitSpec, rec *PositionRecord) (ExitDecision, bool) {
	if spec.TrailingActivationProfit.IsZero() || spec.TrailingDistancePips.IsZero() {
		return ExitDecision{}, false
	}
	pos := rec.Position
	if pos.Profit.LessThan(spec.TrailingActivationProfit) {
		return ExitDecision{}, false
	}

	distance := strategy.PipsToPrice(spec.TrailingDistancePips, pos.Symbol)
	var candidate decimal.Decimal
	if pos.Side == types.SideBuy {
		candidate = pos.CurrentPrice.Sub(distance)
	} else {
		candidate = pos.CurrentPrice.Add(distance)
	}

	current := pos.StopLoss
	if rec.exit.hasTrailingSL {
		current = rec.exit.trailingSL
	}

	tightens := (pos.Side == types.SideBuy && (current.IsZero() || candidate.GreaterThan(current))) ||
		(pos.Side == types.SideSell && (current.IsZero() || candidate.LessThan(current)))
	if !tightens {
		return ExitDecision{}, false
	}

	rec.exit.hasTrailingSL = true
	rec.exit.trailingSL = candidate
	return ExitDecision{Action: exitModify, Ticket: pos.Ticket, NewSL: candidate, Reason: "trailing stop"}, true
}

func (m *ExitManager) evaluateSwingStop(spec *types.SmartExitSpec, rec *PositionRecord, timeframe types.Timeframe) (ExitDecision, bool) {
	if spec.SwingLookbackBars <= 0 {
		return ExitDecision{}, false
	}
	pos := rec.Position
	level, ok := m.swingLevel(pos.Symbol, pos.Side, spec.SwingLookbackBars, timeframe)
	if !ok {
		return ExitDecision{}, false
	}

	current := pos.StopLoss
	if rec.exit.hasTrailingSL {
		current = rec.exit.trailingSL
	}
	tightens := (pos.Side == types.SideBuy && (current.IsZero() || level.GreaterThan(current))) ||
		(pos.Side == types.SideSell && (current.IsZero() || level.LessThan(current)))
	if !tightens {
		return ExitDecision{}, false
	}

	rec.exit.hasTrailingSL = true
	rec.exit.trailingSL = level
	return ExitDecision{Action: exitModify, Ticket: pos.Ticket, NewSL: level, Reason: "swing-point stop"}, true
}

func (m *ExitManager) swingLevel(symbol string, side types.Side, lookback int, timeframe types.Timeframe) (decimal.Decimal, bool) {
	if m.bars == nil || lookback <= 0 {
		return decimal.Zero, false
	}
	bars, ok := m.bars.Bars(symbol, timeframe, lookback)
	if !ok || len(bars) == 0 {
		return decimal.Zero, false
	}
	if side == types.SideBuy {
		low := bars[0].Low
		for _, b := range bars[1:] {
			if b.Low.LessThan(low) {
				low = b.Low
			}
		}
		return low, true
	}
	high := bars[0].High
	for _, b := range bars[1:] {
		if b.High.GreaterThan(high) {
			high = b.High
		}
	}
	return high, true
}

func (m *ExitManager) atrFor(symbol string, timeframe types.Timeframe) decimal.Decimal {
	if m.bars == nil || m.indicators == nil {
		return decimal.Zero
	}
	bars, ok := m.bars.Bars(symbol, timeframe, atrPeriodForExits+1)
	if !ok {
		return decimal.Zero
	}
	series, err := m.indicators.Compute(symbol, string(timeframe), "atr", bars, map[string]any{"period": atrPeriodForExits})
	if err != nil || len(series) == 0 {
		return decimal.Zero
	}
	return series.Last()
}

// priceDistanceInFavor returns how far price has moved in the position's
// favor, in price units.
func priceDistanceInFavor(pos types.Position) decimal.Decimal {
	if pos.Side == types.SideBuy {
		return pos.CurrentPrice.Sub(pos.OpenPrice)
	}
	return pos.OpenPrice.Sub(pos.CurrentPrice)
}

// riskDistance returns the original entry-to-stop distance, used as the
// "R" unit for rr-based partial exit triggers.
func riskDistance(pos types.Position) decimal.Decimal {
	if pos.StopLoss.IsZero() {
		return decimal.Zero
	}
	if pos.Side == types.SideBuy {
		return pos.OpenPrice.Sub(pos.StopLoss)
	}
	return pos.StopLoss.Sub(pos.OpenPrice)
}
