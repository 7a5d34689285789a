// Package dispatch turns approved evaluation signals and exit decisions
// into broker requests, gating every outgoing order through the risk
// Gatekeeper first (spec §4.1 Order Dispatcher).
package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/atlas-desktop/trade-executor/internal/position"
	"github.com/atlas-desktop/trade-executor/internal/risk"
	"github.com/atlas-desktop/trade-executor/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BrokerClient is the subset of fabric.BrokerPool the dispatcher needs.
// Declared locally so tests can fake it without a live socket pool.
type BrokerClient interface {
	Send(ctx context.Context, cmd types.BrokerCommand, params map[string]any) (types.BrokerResponse, error)
}

// AccountStateProvider supplies the live account/portfolio snapshot the
// Gatekeeper evaluates each candidate order against.
type AccountStateProvider func() risk.AccountState

// AlertSink receives a safety-alert whenever the Gatekeeper rejects an
// order (spec §4.1 "Rejection => event safety-alert, log, no order sent").
type AlertSink func(types.Alert)

// TradeReporter receives an opened/closed trade record for the control
// plane's `/api/trades` endpoint.
type TradeReporter interface {
	ReportTradeOpen(ctx context.Context, trade types.TradeReport) error
	ReportTradeClose(ctx context.Context, trade types.TradeReport) error
}

const (
	defaultRetryAttempts = 3
	defaultRetryDelay    = 500 * time.Millisecond
)

// Config bundles the Dispatcher's collaborators and retry policy.
type Config struct {
	Broker        BrokerClient
	Gatekeeper    *risk.Gatekeeper
	Positions     *position.Registry
	AccountState  AccountStateProvider
	Alerts        AlertSink
	Trades        TradeReporter
	RetryAttempts int
	RetryDelay    time.Duration
}

// Dispatcher places, closes, and modifies broker positions on behalf of
// the evaluation pipeline and the Smart Exit Manager, grounded on
// internal/execution/executor.go's kill-switch + bounded-retry Execute
// idiom, generalized from a multi-exchange adapter map to the single
// broker socket pool.
type Dispatcher struct {
	logger *zap.Logger
	cfg    Config

	emergencyStop atomic.Bool
}

// New builds a Dispatcher from cfg, applying retry defaults.
func New(logger *zap.Logger, cfg Config) *Dispatcher {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &Dispatcher{logger: logger.Named("dispatcher"), cfg: cfg}
}

// EmergencyStop sets the global flag that blocks every subsequent open,
// close and modify dispatch until Resume is called; CloseAll does not
// check the flag (spec §5 "Emergency-stop ... sets a
// global flag blocking the Order Dispatcher").
func (d *Dispatcher) EmergencyStop() {
	d.emergencyStop.Store(true)
	d.logger.Warn("emergency stop engaged, dispatch blocked")
}

// Resume clears the emergency-stop flag.
func (d *Dispatcher) Resume() {
	d.emergencyStop.Store(false)
	d.logger.Info("emergency stop cleared, dispatch resumed")
}

// IsEmergencyStopped reports the current emergency-stop state.
func (d *Dispatcher) IsEmergencyStopped() bool {
	return d.emergencyStop.Load()
}

// HandleEvaluation consumes one evaluation result from the Scheduler,
// opening or closing a position as appropriate. WAIT/HOLD results are
// ignored — only BUY/SELL/CLOSE carry a dispatch action.
func (d *Dispatcher) HandleEvaluation(ctx context.Context, result types.EvaluationResult) error {
	switch result.Action {
	case types.ActionBuy, types.ActionSell:
		return d.openPosition(ctx, result)
	case types.ActionClose:
		return d.closeByStrategySymbol(ctx, result.StrategyID, result.Symbol)
	default:
		return nil
	}
}

func (d *Dispatcher) openPosition(ctx context.Context, result types.EvaluationResult) error {
	if d.IsEmergencyStopped() {
		return fmt.Errorf("dispatch: emergency stop active, order blocked")
	}

	side := types.SideBuy
	if result.Action == types.ActionSell {
		side = types.SideSell
	}

	candidate := risk.CandidateOrder{
		Symbol:            result.Symbol,
		Side:              side,
		Volume:            result.Size,
		EstimatedExposure: result.Size.Mul(priceOrOne(result.StopLoss)),
	}

	var state risk.AccountState
	if d.cfg.AccountState != nil {
		state = d.cfg.AccountState()
	}

	gateResult := d.cfg.Gatekeeper.Evaluate(candidate, state)
	if !gateResult.Approved {
		reason := "rejected by risk gatekeeper"
		if failed, ok := gateResult.FirstFailure(); ok {
			reason = failed.Name + ": " + failed.Reason
		}
		d.logger.Warn("order rejected", zap.String("strategy_id", result.StrategyID), zap.String("symbol", result.Symbol), zap.String("reason", reason))
		d.emitAlert(types.Alert{Category: types.AlertCategorySafety, Rule: "gatekeeper-rejection", Message: reason, Timestamp: time.Now()})
		return nil
	}

	params := map[string]any{
		"symbol":  result.Symbol,
		"action":  string(side),
		"lotSize": result.Size,
		"comment": result.StrategyID,
	}
	if !result.StopLoss.IsZero() {
		params["sl"] = result.StopLoss
	}
	if !result.TakeProfit.IsZero() {
		params["tp"] = result.TakeProfit
	}

	resp, err := d.sendWithRetry(ctx, types.BrokerOpenPosition, params)
	if err != nil {
		return fmt.Errorf("dispatch: open position: %w", err)
	}

	if d.cfg.Trades != nil {
		ticket, _ := resp.Data["ticket"].(float64)
		_ = d.cfg.Trades.ReportTradeOpen(ctx, types.TradeReport{
			Ticket:     int64(ticket),
			StrategyID: result.StrategyID,
			Symbol:     result.Symbol,
			Side:       side,
			Volume:     result.Size.String(),
			OpenPrice:  result.StopLoss.String(),
			OpenedAt:   time.Now(),
		})
	}
	return nil
}

func (d *Dispatcher) closeByStrategySymbol(ctx context.Context, strategyID, symbol string) error {
	if d.cfg.Positions == nil {
		return fmt.Errorf("dispatch: no position registry configured")
	}
	matches := d.cfg.Positions.ByStrategy(strategyID)
	for _, rec := range matches {
		if rec.Position.Symbol != symbol {
			continue
		}
		return d.ClosePosition(ctx, rec.Position.Ticket, decimal.Zero)
	}
	return nil
}

// ClosePosition sends CLOSE_POSITION. A zero volume closes the full
// remaining position.
func (d *Dispatcher) ClosePosition(ctx context.Context, ticket int64, volume decimal.Decimal) error {
	if d.IsEmergencyStopped() {
		return fmt.Errorf("dispatch: emergency stop active, close blocked")
	}
	params := map[string]any{"ticket": ticket}
	if !volume.IsZero() {
		params["volume"] = volume
	}
	_, err := d.sendWithRetry(ctx, types.BrokerClosePosition, params)
	return err
}

// ModifyPosition sends MODIFY_POSITION with a new stop-loss.
func (d *Dispatcher) ModifyPosition(ctx context.Context, ticket int64, newSL decimal.Decimal) error {
	if d.IsEmergencyStopped() {
		return fmt.Errorf("dispatch: emergency stop active, modify blocked")
	}
	_, err := d.sendWithRetry(ctx, types.BrokerModifyPosition, map[string]any{"ticket": ticket, "sl": newSL})
	return err
}

// CloseAll sends CLOSE_ALL_POSITIONS. The emergency-stop handler does not
// call it, so an emergency stop leaves open positions in place.
func (d *Dispatcher) CloseAll(ctx context.Context) error {
	_, err := d.sendWithRetry(ctx, types.BrokerCloseAllPositions, nil)
	return err
}

// DispatchExit executes one Smart Exit Manager decision.
func (d *Dispatcher) DispatchExit(ctx context.Context, decision position.ExitDecision) error {
	switch decision.Action {
	case "modify-position":
		return d.ModifyPosition(ctx, decision.Ticket, decision.NewSL)
	case "close-position":
		return d.ClosePosition(ctx, decision.Ticket, decision.Volume)
	default:
		return fmt.Errorf("dispatch: unknown exit action %q", decision.Action)
	}
}

// sendWithRetry retries transient broker failures with a fixed delay
// (spec §7 "Transient network: ... retried with backoff"), mirroring
// Executor.Execute's bounded retry loop.
func (d *Dispatcher) sendWithRetry(ctx context.Context, cmd types.BrokerCommand, params map[string]any) (types.BrokerResponse, error) {
	var lastErr error
	for attempt := 0; attempt < d.cfg.RetryAttempts; attempt++ {
		resp, err := d.cfg.Broker.Send(ctx, cmd, params)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		d.logger.Warn("broker request failed, retrying",
			zap.String("command", string(cmd)), zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return types.BrokerResponse{}, ctx.Err()
		case <-time.After(d.cfg.RetryDelay):
		}
	}
	return types.BrokerResponse{}, fmt.Errorf("broker request %s failed after %d attempts: %w", cmd, d.cfg.RetryAttempts, lastErr)
}

func (d *Dispatcher) emitAlert(alert types.Alert) {
	if d.cfg.Alerts != nil {
		d.cfg.Alerts(alert)
	}
}

func priceOrOne(p decimal.Decimal) decimal.Decimal {
	if p.IsZero() {
		return decimal.NewFromInt(1)
	}
	return p
}
