package evaluator

import (
	"fmt"
	"time"

	"github.com/atlas-desktop/trade-executor/internal/regime"
	"github.com/atlas-desktop/trade-executor/internal/sizing"
	"github.com/atlas-desktop/trade-executor/internal/strategy"
	"github.com/atlas-desktop/trade-executor/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	regimeMinBars = 200
	defaultBars   = 100
	// standardPipValue is the USD pip value of one standard lot for a
	// typical major pair. The spec does not model per-account-currency
	// pip-value lookup (that's a broker/symbol-info concern out of core
	// scope); this constant is the simplifying default, documented in
	// DESIGN.md, used whenever the broker hasn't supplied a better figure.
	standardPipValue = 10
)

// PositionLookup reports whether a (strategy, symbol) pair currently has
// an open position, satisfied by internal/position.Registry. Declared
// here as a one-method interface rather than importing internal/position.
type PositionLookup interface {
	HasOpenPosition(strategyID, symbol string) bool
}

// AccountProvider supplies the live account snapshot and risk profile the
// position sizer needs.
type AccountProvider interface {
	AccountSnapshot() (types.AccountInfo, types.AccountProfile)
}

// Evaluator runs the ordered per-symbol evaluation pipeline (spec §4.2).
type Evaluator struct {
	logger *zap.Logger

	marketData *MarketDataClient
	symbols    *SymbolMapper
	indicators strategy.IndicatorEngine
	positions  PositionLookup
	account    AccountProvider
	regimes    *regime.Detector
	sizer      *sizing.Sizer
	news       strategy.NewsCheck
}

// Config bundles the Evaluator's collaborators.
type Config struct {
	MarketData      *MarketDataClient
	Symbols         *SymbolMapper
	IndicatorEngine strategy.IndicatorEngine
	Positions       PositionLookup
	Account         AccountProvider
	Regimes         *regime.Detector
	Sizer           *sizing.Sizer
	News            strategy.NewsCheck
}

// New builds an Evaluator from cfg.
func New(logger *zap.Logger, cfg Config) *Evaluator {
	return &Evaluator{
		logger:     logger.Named("evaluator"),
		marketData: cfg.MarketData,
		symbols:    cfg.Symbols,
		indicators: cfg.IndicatorEngine,
		positions:  cfg.Positions,
		account:    cfg.Account,
		regimes:    cfg.Regimes,
		sizer:      cfg.Sizer,
		news:       cfg.News,
	}
}

// EvaluateSymbol runs the full ordered pipeline for one (strategy, symbol)
// pair and returns the resulting action (spec §4.2 steps 1-9).
func (e *Evaluator) EvaluateSymbol(s *types.Strategy, symbol string) (types.EvaluationResult, error) {
	result := types.EvaluationResult{StrategyID: s.ID, Symbol: symbol, EvaluatedAt: time.Now(), Action: types.ActionWait}

	// Step 1: fetch bars; regime detection wants >=200, everything else
	// is content with 100.
	wantBars := defaultBars
	if s.Regime != nil && s.Regime.Enabled {
		wantBars = regimeMinBars
	}
	bars, ok := e.marketData.Bars(symbol, s.Timeframe, wantBars)
	if !ok {
		return result, ErrInsufficientBars{Symbol: symbol, Timeframe: s.Timeframe, Have: len(bars), Want: wantBars}
	}

	// Step 2: resolve broker symbol. The resolved name is discarded: the
	// pipeline operates on bars keyed by the strategy's declared symbol,
	// and the result (and so the dispatched order) carries that symbol.
	brokerSymbol := symbol
	if e.symbols != nil {
		brokerSymbol = e.symbols.Resolve(symbol)
	}
	_ = brokerSymbol

	evalCtx := strategy.EvalContext{
		Symbol:    symbol,
		Timeframe: string(s.Timeframe),
		Bars:      bars,
		Engine:    e.indicators,
	}

	// Step 4: filters.
	filterCtx, err := e.buildFilterContext(symbol, bars, evalCtx)
	if err != nil {
		return result, err
	}
	passed, reason, err := strategy.EvaluateFilters(s.Filters, filterCtx)
	if err != nil {
		return result, err
	}
	if !passed {
		result.Reasons = append(result.Reasons, reason)
		return result, nil
	}

	hasPosition := e.positions != nil && e.positions.HasOpenPosition(s.ID, symbol)

	// Step 6: exit conditions take priority when a position is open.
	if hasPosition && len(s.ExitConditions) > 0 {
		met, exitResults, confidence, err := strategy.EvaluateSet(s.ExitConditions, s.ExitCombinator, evalCtx)
		if err != nil {
			return result, err
		}
		result.Reasons = reasonsFrom(exitResults)
		result.Confidence = confidence
		if met {
			result.Action = types.ActionClose
			return result, nil
		}
		result.Action = types.ActionHold
		return result, nil
	}

	// Step 5/7: entry conditions, only meaningful without an open position.
	if hasPosition {
		result.Action = types.ActionHold
		return result, nil
	}

	met, entryResults, confidence, err := strategy.EvaluateSet(s.EntryConditions, s.EntryCombinator, evalCtx)
	if err != nil {
		return result, err
	}
	result.Reasons = reasonsFrom(entryResults)
	result.Confidence = confidence
	if !met {
		result.Action = types.ActionHold
		return result, nil
	}

	side, err := strategy.ResolveDirection(s.DirectionRule, s.EntryConditions, entryResults, evalCtx)
	if err != nil {
		return result, err
	}
	if side == types.SideBuy {
		result.Action = types.ActionBuy
	} else {
		result.Action = types.ActionSell
	}

	// Step 9: SL/TP/size.
	entry := bars[len(bars)-1].Close
	sl, err := strategy.ComputeStopLoss(s.StopLoss, side, entry, evalCtx)
	if err != nil {
		return result, err
	}
	tp, err := strategy.ComputeTakeProfit(s.TakeProfit, side, entry, sl, evalCtx)
	if err != nil {
		return result, err
	}
	result.StopLoss = sl
	result.TakeProfit = tp

	size, err := e.computeSize(s, side, entry, sl, bars, evalCtx)
	if err != nil {
		return result, err
	}
	result.Size = size

	return result, nil
}

func reasonsFrom(results []types.ConditionResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Reason)
	}
	return out
}

func (e *Evaluator) buildFilterContext(symbol string, bars []types.Bar, evalCtx strategy.EvalContext) (strategy.FilterContext, error) {
	ctx := strategy.FilterContext{Symbol: symbol, Now: time.Now(), News: e.news}
	if len(bars) > 0 {
		ctx.Spread = bars[len(bars)-1].Spread
	}
	if e.indicators != nil && len(bars) >= 14 {
		series, err := e.indicators.Compute(symbol, string(types.TimeframeM1), "atr", bars, map[string]any{"period": 14})
		if err == nil && len(series) > 0 {
			ctx.ATR14 = series.Last()
		}
	}
	return ctx, nil
}

// computeSize applies the strategy's sizing spec, optionally scaled by
// the detected market regime (spec §4.2.5 size multiplier table).
func (e *Evaluator) computeSize(s *types.Strategy, side types.Side, entry, sl decimal.Decimal, bars []types.Bar, evalCtx strategy.EvalContext) (decimal.Decimal, error) {
	if e.sizer == nil {
		return decimal.Zero, nil
	}
	account, profile := types.AccountInfo{}, types.AccountProfile(types.ProfileDemo)
	if e.account != nil {
		account, profile = e.account.AccountSnapshot()
	}

	slPips := strategy.PriceToPips(entry.Sub(sl), evalCtx.Symbol)
	atr, meanATR := decimal.Zero, decimal.Zero
	if e.indicators != nil {
		if series, err := e.indicators.Compute(evalCtx.Symbol, evalCtx.Timeframe, "atr", bars, map[string]any{"period": 14}); err == nil && len(series) > 0 {
			atr = series.Last()
			meanATR = atr // absent a dedicated rolling-mean-ATR series here; Regime detector computes its own
		}
	}

	size, err := e.sizer.Size(s.Sizing, sizing.Inputs{
		Account:  account,
		Profile:  profile,
		SLPips:   slPips,
		PipValue: decimal.NewFromInt(standardPipValue),
		ATR:      atr,
		MeanATR:  meanATR,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("evaluator: sizing: %w", err)
	}

	if s.Regime != nil && s.Regime.Enabled && e.regimes != nil {
		state, err := e.regimes.Classify(evalCtx.Symbol, s.Timeframe, bars)
		if err == nil {
			size = size.Mul(regime.SizeMultiplier(state.Regime))
		}
	}
	return size, nil
}
