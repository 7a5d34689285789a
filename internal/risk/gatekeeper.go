// Package risk implements the pre-trade Gatekeeper: nine named checks that
// every outgoing order must pass, plus the advanced correlation-weighted
// size reduction pass.
package risk

import (
	"sync"
	"time"

	"github.com/atlas-desktop/trade-executor/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CandidateOrder is the proposed order the Gatekeeper evaluates.
type CandidateOrder struct {
	Symbol           string
	Side             types.Side
	Volume           decimal.Decimal
	RequiredMargin   decimal.Decimal
	EstimatedExposure decimal.Decimal
}

// AccountState is the live account/portfolio snapshot the Gatekeeper
// checks against.
type AccountState struct {
	Account          types.AccountInfo
	StartingBalance  decimal.Decimal
	PeakBalance      decimal.Decimal
	DailyPnL         decimal.Decimal
	FreeMargin       decimal.Decimal
	OpenPositions    []types.Position
	CurrentExposure  decimal.Decimal
}

// Gatekeeper runs every pre-trade check in order and aggregates the
// result. Daily PnL and peak balance live here rather than as ambient
// package state (spec §9 Design Notes).
type Gatekeeper struct {
	logger *zap.Logger

	mu          sync.Mutex
	limits      types.RiskLimits
	corrCache   *CorrelationCache
	tradingHrs  TradingHoursCheck
	newsCheck   NewsCheck
}

// TradingHoursCheck reports whether a symbol is currently open for
// trading. Implementations are broker-specific; the default always
// returns true.
type TradingHoursCheck func(symbol string, now time.Time) bool

// NewsCheck reports whether high-impact news is scheduled for symbol
// within the configured window. The default always returns false.
type NewsCheck func(symbol string, now time.Time) bool

// AlwaysOpen is the default TradingHoursCheck.
func AlwaysOpen(string, time.Time) bool { return true }

// NoScheduledNews is the default NewsCheck.
func NoScheduledNews(string, time.Time) bool { return false }

// NewGatekeeper builds a Gatekeeper bound to limits.
func NewGatekeeper(logger *zap.Logger, limits types.RiskLimits, corrCache *CorrelationCache) *Gatekeeper {
	return &Gatekeeper{
		logger:     logger.Named("gatekeeper"),
		limits:     limits,
		corrCache:  corrCache,
		tradingHrs: AlwaysOpen,
		newsCheck:  NoScheduledNews,
	}
}

// SetTradingHoursCheck overrides the trading-hours predicate.
func (g *Gatekeeper) SetTradingHoursCheck(fn TradingHoursCheck) { g.tradingHrs = fn }

// SetNewsCheck overrides the news predicate.
func (g *Gatekeeper) SetNewsCheck(fn NewsCheck) { g.newsCheck = fn }

// UpdateLimits swaps the active RiskLimits preset (e.g. demo ↔ live).
func (g *Gatekeeper) UpdateLimits(limits types.RiskLimits) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limits = limits
}

// Evaluate runs all nine checks against order and state, in spec order.
// Every check runs regardless of earlier failures so the full report is
// always available; FirstFailure on the result gives the rejecting check.
func (g *Gatekeeper) Evaluate(order CandidateOrder, state AccountState) types.RiskGateResult {
	g.mu.Lock()
	limits := g.limits
	g.mu.Unlock()

	checks := []types.RiskCheck{
		checkDailyLoss(limits, state),
		checkMaxPositions(limits, state),
		checkDrawdown(limits, state),
		checkLotSize(limits, order),
		checkMargin(limits, order, state),
		g.checkTradingHours(limits, order),
		g.checkCorrelation(limits, order, state),
		checkTotalExposure(limits, order, state),
		g.checkNews(limits, order),
	}

	result := types.RiskGateResult{Approved: true, Checks: checks}
	for _, c := range checks {
		switch c.Severity {
		case types.SeverityFailed:
			result.Approved = false
		case types.SeverityWarning:
			result.Warnings = append(result.Warnings, c.Reason)
		}
	}

	if !result.Approved {
		g.logger.Warn("order rejected by gatekeeper", zap.String("symbol", order.Symbol))
	}
	return result
}

func passed(name string) types.RiskCheck {
	return types.RiskCheck{Name: name, Severity: types.SeverityPassed}
}

func failed(name, reason string) types.RiskCheck {
	return types.RiskCheck{Name: name, Severity: types.SeverityFailed, Reason: reason}
}

func warned(name, reason string) types.RiskCheck {
	return types.RiskCheck{Name: name, Severity: types.SeverityWarning, Reason: reason}
}

// checkDailyLoss: boundary values are violations (spec §8 "exactly-at-
// threshold inputs ... must fail").
func checkDailyLoss(limits types.RiskLimits, state AccountState) types.RiskCheck {
	const name = "daily_loss"
	loss := state.DailyPnL.Abs()
	if state.DailyPnL.IsNegative() && loss.GreaterThanOrEqual(limits.MaxDailyLoss) {
		return failed(name, "daily loss has reached the configured limit")
	}
	if !state.StartingBalance.IsZero() {
		lossPct := loss.Div(state.StartingBalance).Mul(decimal.NewFromInt(100))
		if state.DailyPnL.IsNegative() && lossPct.GreaterThanOrEqual(limits.MaxDailyLossPct) {
			return failed(name, "daily loss percentage has reached the configured limit")
		}
	}
	return passed(name)
}

func checkMaxPositions(limits types.RiskLimits, state AccountState) types.RiskCheck {
	const name = "max_positions"
	if len(state.OpenPositions) >= limits.MaxPositions {
		return failed(name, "maximum open position count reached")
	}
	return passed(name)
}

func checkDrawdown(limits types.RiskLimits, state AccountState) types.RiskCheck {
	const name = "drawdown"
	if state.PeakBalance.IsZero() {
		return passed(name)
	}
	drawdown := state.PeakBalance.Sub(state.Account.Equity)
	if drawdown.GreaterThanOrEqual(limits.MaxDrawdown) {
		return failed(name, "absolute drawdown limit reached")
	}
	drawdownPct := drawdown.Div(state.PeakBalance).Mul(decimal.NewFromInt(100))
	if drawdownPct.GreaterThanOrEqual(limits.MaxDrawdownPct) {
		return failed(name, "drawdown percentage limit reached")
	}
	return passed(name)
}

func checkLotSize(limits types.RiskLimits, order CandidateOrder) types.RiskCheck {
	const name = "lot_size"
	if order.Volume.GreaterThan(limits.MaxLotSize) {
		return failed(name, "order volume exceeds maximum lot size")
	}
	return passed(name)
}

// checkMargin: free_margin >= required*1.5 passes outright; [1.0,1.5) is a
// warning; below 1.0 fails.
func checkMargin(limits types.RiskLimits, order CandidateOrder, state AccountState) types.RiskCheck {
	const name = "margin"
	if !limits.RequireMarginCheck || order.RequiredMargin.IsZero() {
		return passed(name)
	}
	ratio := state.FreeMargin.Div(order.RequiredMargin)
	switch {
	case ratio.GreaterThanOrEqual(decimal.NewFromFloat(1.5)):
		return passed(name)
	case ratio.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return warned(name, "free margin is below the comfortable 1.5x buffer")
	default:
		return failed(name, "insufficient free margin for required margin")
	}
}

func (g *Gatekeeper) checkTradingHours(limits types.RiskLimits, order CandidateOrder) types.RiskCheck {
	const name = "trading_hours"
	if !limits.CheckTradingHours {
		return passed(name)
	}
	if !g.tradingHrs(order.Symbol, time.Now()) {
		return failed(name, "symbol is not currently open for trading")
	}
	return passed(name)
}

func checkTotalExposure(limits types.RiskLimits, order CandidateOrder, state AccountState) types.RiskCheck {
	const name = "total_exposure"
	projected := state.CurrentExposure.Add(order.EstimatedExposure)
	if projected.GreaterThan(limits.MaxTotalExposure) {
		return failed(name, "projected total exposure exceeds the configured limit")
	}
	return passed(name)
}

func (g *Gatekeeper) checkNews(limits types.RiskLimits, order CandidateOrder) types.RiskCheck {
	const name = "news"
	if !limits.CheckNews {
		return passed(name)
	}
	if g.newsCheck(order.Symbol, time.Now()) {
		return failed(name, "high-impact news scheduled within the configured window")
	}
	return passed(name)
}
