// Package executor wires the evaluation pipeline, position registry,
// order dispatcher, telemetry loop, and connectivity fabric into a single
// process-scoped lifecycle: one Executor per running agent (spec's top
// level, grounded on internal/orchestrator/orchestrator.go's
// mutex-guarded running flag + sequential component Start/Stop, and
// internal/autonomous/agent.go's cooperative ticker loops).
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/trade-executor/internal/dispatch"
	"github.com/atlas-desktop/trade-executor/internal/evaluator"
	"github.com/atlas-desktop/trade-executor/internal/fabric"
	"github.com/atlas-desktop/trade-executor/internal/position"
	"github.com/atlas-desktop/trade-executor/internal/risk"
	"github.com/atlas-desktop/trade-executor/internal/telemetry"
	"github.com/atlas-desktop/trade-executor/pkg/types"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

const (
	defaultCommandQueueSize     = 256
	defaultPositionSyncInterval = 5 * time.Second
	defaultExitTickInterval     = 5 * time.Second
)

// Config bundles every collaborator the Executor threads together. Each
// field is optional except Logger/ExecutorID — a zero-value Config builds
// a usable Executor whose unwired components are simply no-ops (useful
// for focused tests of one subsystem at a time).
type Config struct {
	ExecutorID string

	Scheduler      *evaluator.Scheduler
	Dispatcher     *dispatch.Dispatcher
	Positions      *position.Registry
	ExitManager    *position.ExitManager
	Broker         *fabric.BrokerPool
	PushListener   *fabric.PushListener
	ControlChannel *fabric.ControlChannelClient
	REST           *fabric.ControlPlaneREST
	Heartbeat      *telemetry.Loop
	Alerts         *telemetry.Store
	DailyReset     *risk.DailyResetScheduler
	DailyState     *risk.DailyState

	PositionSyncInterval time.Duration
	ExitTickInterval     time.Duration
	CommandQueueSize     int
}

// Executor is the top-level process lifecycle: daily PnL, peak balance,
// and missed-heartbeat counter live on risk.DailyState threaded through
// Config rather than as ambient package state (spec §9 Design Notes).
type Executor struct {
	logger     *zap.Logger
	cfg        Config
	strategies *StrategyStore
	dispatcher *fabric.CommandDispatcher

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}

	commandQueue chan types.Command
}

// New builds an Executor from cfg, applying interval/queue-size defaults.
func New(logger *zap.Logger, cfg Config) *Executor {
	if cfg.PositionSyncInterval <= 0 {
		cfg.PositionSyncInterval = defaultPositionSyncInterval
	}
	if cfg.ExitTickInterval <= 0 {
		cfg.ExitTickInterval = defaultExitTickInterval
	}
	if cfg.CommandQueueSize <= 0 {
		cfg.CommandQueueSize = defaultCommandQueueSize
	}

	e := &Executor{
		logger:       logger.Named("executor"),
		cfg:          cfg,
		strategies:   NewStrategyStore(),
		commandQueue: make(chan types.Command, cfg.CommandQueueSize),
	}
	e.dispatcher = fabric.NewCommandDispatcher(logger, fabric.CommandHandlers{
		StartStrategy:  e.handleStartStrategy,
		StopStrategy:   e.handleStopStrategy,
		PauseStrategy:  e.handlePauseStrategy,
		ResumeStrategy: e.handleResumeStrategy,
		UpdateStrategy: e.handleUpdateStrategy,
		EmergencyStop:  e.handleEmergencyStop,
	}, e.reportCommandResult)

	if cfg.Heartbeat != nil {
		cfg.Heartbeat.SetOnPendingCommands(e.enqueueAll)
	}
	return e
}

// IsRunning reports whether Start has been called without a matching
// Stop.
func (e *Executor) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Strategies exposes the active-strategy store for status/telemetry
// reporting.
func (e *Executor) Strategies() *StrategyStore { return e.strategies }

// Start boots every wired component and begins processing commands in
// arrival order (spec §5 "Commands from the control channel are
// processed in arrival order per executor").
func (e *Executor) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("executor: already running")
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.mu.Unlock()

	e.logger.Info("starting executor", zap.String("executor_id", e.cfg.ExecutorID))

	if e.cfg.Broker != nil {
		e.cfg.Broker.Start(ctx)
	}
	if e.cfg.PushListener != nil {
		if err := e.cfg.PushListener.Start(); err != nil {
			return fmt.Errorf("executor: starting push listener: %w", err)
		}
	}
	if e.cfg.ControlChannel != nil {
		e.cfg.ControlChannel.OnCommand(e.enqueueCommand)
		if err := e.cfg.ControlChannel.Start(ctx); err != nil {
			return fmt.Errorf("executor: starting control channel: %w", err)
		}
	}
	if e.cfg.Scheduler != nil {
		e.cfg.Scheduler.Start()
	}
	if e.cfg.DailyReset != nil {
		if err := e.cfg.DailyReset.Start(); err != nil {
			return fmt.Errorf("executor: starting daily reset scheduler: %w", err)
		}
	}

	go e.commandLoop(ctx)
	if e.cfg.Positions != nil {
		go e.cfg.Positions.Run(ctx, e.cfg.PositionSyncInterval)
		go e.closedPositionLoop(ctx)
	}
	if e.cfg.ExitManager != nil {
		go e.exitLoop(ctx)
	}
	if e.cfg.Heartbeat != nil {
		go e.cfg.Heartbeat.Run(ctx)
	}

	e.logger.Info("executor started")
	return nil
}

// Stop halts every component in reverse start order, aggregating any
// shutdown errors rather than stopping early at the first one (spec §5
// "Resource discipline": every scoped handle gets a chance to clean up).
func (e *Executor) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	close(e.stopCh)
	e.mu.Unlock()

	e.logger.Info("stopping executor")

	var result *multierror.Error
	if e.cfg.Heartbeat != nil {
		e.cfg.Heartbeat.Stop()
	}
	if e.cfg.DailyReset != nil {
		e.cfg.DailyReset.Stop()
	}
	if e.cfg.Scheduler != nil {
		if err := e.cfg.Scheduler.Stop(); err != nil {
			result = multierror.Append(result, fmt.Errorf("scheduler: %w", err))
		}
	}
	if e.cfg.ControlChannel != nil {
		e.cfg.ControlChannel.Stop()
	}
	if e.cfg.PushListener != nil {
		e.cfg.PushListener.Stop()
	}
	if e.cfg.Broker != nil {
		e.cfg.Broker.Stop()
	}

	e.logger.Info("executor stopped")
	return result.ErrorOrNil()
}

func (e *Executor) reportCommandResult(ctx context.Context, result types.CommandResult) error {
	if e.cfg.REST == nil {
		return nil
	}
	return e.cfg.REST.ReportCommandResult(ctx, result)
}

func (e *Executor) enqueueCommand(cmd types.Command) {
	select {
	case e.commandQueue <- cmd:
	default:
		e.logger.Warn("command queue full, dropping command", zap.String("id", cmd.ID), zap.String("kind", string(cmd.Command)))
	}
}

func (e *Executor) enqueueAll(cmds []types.Command) {
	for _, cmd := range cmds {
		e.enqueueCommand(cmd)
	}
}

// commandLoop drains the command queue one at a time, guaranteeing
// arrival-order processing even though commands can arrive concurrently
// from the control channel push and the heartbeat's piggybacked-commands
// reply.
func (e *Executor) commandLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case cmd := <-e.commandQueue:
			e.dispatcher.Dispatch(ctx, cmd)
		}
	}
}

func (e *Executor) handleStartStrategy(ctx context.Context, strat *types.Strategy) error {
	if strat == nil {
		return fmt.Errorf("executor: start-strategy requires a strategy payload")
	}
	e.strategies.Set(strat)
	if e.cfg.Scheduler != nil {
		e.cfg.Scheduler.StartStrategy(strat)
	}
	return nil
}

func (e *Executor) handleStopStrategy(ctx context.Context, strategyID string, closePositions bool) error {
	if e.cfg.Scheduler != nil {
		e.cfg.Scheduler.StopStrategy(strategyID)
	}
	e.strategies.Delete(strategyID)

	if closePositions && e.cfg.Positions != nil && e.cfg.Dispatcher != nil {
		for _, rec := range e.cfg.Positions.ByStrategy(strategyID) {
			if err := e.cfg.Dispatcher.ClosePosition(ctx, rec.Position.Ticket, rec.Position.Volume); err != nil {
				e.logger.Warn("failed to close position on stop-strategy",
					zap.String("strategy_id", strategyID), zap.Int64("ticket", rec.Position.Ticket), zap.Error(err))
			}
		}
	}
	return nil
}

func (e *Executor) handlePauseStrategy(ctx context.Context, strategyID string) error {
	if e.cfg.Scheduler != nil {
		e.cfg.Scheduler.PauseStrategy(strategyID)
	}
	return nil
}

func (e *Executor) handleResumeStrategy(ctx context.Context, strategyID string) error {
	if e.cfg.Scheduler != nil {
		e.cfg.Scheduler.ResumeStrategy(strategyID)
	}
	return nil
}

func (e *Executor) handleUpdateStrategy(ctx context.Context, strat *types.Strategy) error {
	if strat == nil {
		return fmt.Errorf("executor: update-strategy requires a strategy payload")
	}
	e.strategies.Set(strat)
	if e.cfg.Scheduler != nil {
		e.cfg.Scheduler.StartStrategy(strat) // atomic swap: replaces the existing timer
	}
	return nil
}

// handleEmergencyStop cancels every strategy task and blocks the Order
// Dispatcher; still-executing broker requests are awaited to completion
// by sendWithRetry's own in-flight call, never interrupted here (spec §5).
func (e *Executor) handleEmergencyStop(ctx context.Context, reason string) error {
	e.logger.Warn("emergency stop received", zap.String("reason", reason))
	if e.cfg.Dispatcher != nil {
		e.cfg.Dispatcher.EmergencyStop()
	}
	if e.cfg.Scheduler != nil {
		for _, strat := range e.strategies.All() {
			e.cfg.Scheduler.StopStrategy(strat.ID)
		}
	}
	return nil
}

// closedPositionLoop reports a trade-close record for every position the
// registry observes disappearing from the broker snapshot.
func (e *Executor) closedPositionLoop(ctx context.Context) {
	events := e.cfg.Positions.ClosedEvents()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if e.cfg.REST == nil {
				continue
			}
			report := types.TradeReport{
				Ticket:     evt.Ticket,
				StrategyID: evt.StrategyID,
				Symbol:     evt.Symbol,
				ClosedAt:   evt.ClosedAt,
			}
			if err := e.cfg.REST.ReportTradeClose(ctx, report); err != nil {
				e.logger.Warn("failed to report trade close", zap.Int64("ticket", evt.Ticket), zap.Error(err))
			}
		}
	}
}

// exitLoop drives the Smart Exit Manager over every open position once
// per ExitTickInterval, dispatching whatever decisions it returns.
func (e *Executor) exitLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ExitTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.evaluateExits(ctx)
		}
	}
}

func (e *Executor) evaluateExits(ctx context.Context) {
	if e.cfg.Positions == nil || e.cfg.Positions.Paused() {
		return
	}
	now := time.Now()
	for _, rec := range e.cfg.Positions.All() {
		strat, ok := e.strategies.Get(rec.StrategyID)
		if !ok || strat.SmartExit == nil {
			continue
		}

		ticket := rec.Position.Ticket
		var decisions []position.ExitDecision
		e.cfg.Positions.Mutate(ticket, func(live *position.PositionRecord) {
			decisions = e.cfg.ExitManager.Evaluate(strat, live, now)
		})

		for _, decision := range decisions {
			if e.cfg.Dispatcher == nil {
				continue
			}
			if err := e.cfg.Dispatcher.DispatchExit(ctx, decision); err != nil {
				e.logger.Warn("exit dispatch failed", zap.Int64("ticket", ticket), zap.String("action", string(decision.Action)), zap.Error(err))
			}
		}
	}
}
