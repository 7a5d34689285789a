package fabric

import (
	"context"
	"fmt"
	"time"

	"github.com/atlas-desktop/trade-executor/pkg/types"
	"go.uber.org/zap"
)

// CommandHandlers is the set of callbacks the dispatcher routes inbound
// commands to. One method per CommandKind, so the executor wires exactly
// the handlers it needs without the dispatcher knowing their internals.
type CommandHandlers struct {
	StartStrategy   func(ctx context.Context, strategy *types.Strategy) error
	StopStrategy    func(ctx context.Context, strategyID string, closePositions bool) error
	PauseStrategy   func(ctx context.Context, strategyID string) error
	ResumeStrategy  func(ctx context.Context, strategyID string) error
	UpdateStrategy  func(ctx context.Context, strategy *types.Strategy) error
	EmergencyStop   func(ctx context.Context, reason string) error
}

// CommandDispatcher routes inbound Command frames — arriving from either
// the control channel websocket or the REST pending-commands fallback —
// to the registered handler and reports the outcome back to the control
// plane.
type CommandDispatcher struct {
	handlers CommandHandlers
	report   func(ctx context.Context, result types.CommandResult) error
	logger   *zap.Logger
}

// NewCommandDispatcher builds a dispatcher that reports outcomes via report
// (typically ControlPlaneREST.ReportCommandResult).
func NewCommandDispatcher(logger *zap.Logger, handlers CommandHandlers, report func(ctx context.Context, result types.CommandResult) error) *CommandDispatcher {
	return &CommandDispatcher{
		handlers: handlers,
		report:   report,
		logger:   logger.Named("dispatcher"),
	}
}

// Dispatch routes one inbound command and reports its result. Every kind,
// emergency stop included, is handled synchronously in the order Dispatch
// is called; there is no priority lane.
func (d *CommandDispatcher) Dispatch(ctx context.Context, cmd types.Command) {
	d.logger.Info("dispatching command", zap.String("id", cmd.ID), zap.String("kind", string(cmd.Command)))

	var err error
	switch cmd.Command {
	case types.CommandEmergencyStop:
		err = d.handlers.EmergencyStop(ctx, cmd.Reason)
	case types.CommandStartStrategy:
		err = d.handlers.StartStrategy(ctx, cmd.Strategy)
	case types.CommandStopStrategy:
		err = d.handlers.StopStrategy(ctx, cmd.StrategyID, cmd.ClosePositions)
	case types.CommandPauseStrategy:
		err = d.handlers.PauseStrategy(ctx, cmd.StrategyID)
	case types.CommandResumeStrategy:
		err = d.handlers.ResumeStrategy(ctx, cmd.StrategyID)
	case types.CommandUpdateStrategy:
		err = d.handlers.UpdateStrategy(ctx, cmd.Strategy)
	default:
		err = fmt.Errorf("unknown command kind %q", cmd.Command)
	}

	result := types.CommandResult{
		CommandID: cmd.ID,
		Timestamp: time.Now(),
		Status:    types.CommandStatusCompleted,
	}
	if err != nil {
		result.Status = types.CommandStatusFailed
		result.Result = err.Error()
		d.logger.Error("command failed", zap.String("id", cmd.ID), zap.Error(err))
	}

	if d.report == nil {
		return
	}
	if reportErr := d.report(ctx, result); reportErr != nil {
		d.logger.Warn("failed to report command result", zap.String("id", cmd.ID), zap.Error(reportErr))
	}
}
