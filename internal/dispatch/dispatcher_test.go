package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atlas-desktop/trade-executor/internal/position"
	"github.com/atlas-desktop/trade-executor/internal/risk"
	"github.com/atlas-desktop/trade-executor/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBrokerClient struct {
	calls     []types.BrokerCommand
	failUntil int
	resp      types.BrokerResponse
	err       error
}

func (f *fakeBrokerClient) Send(ctx context.Context, cmd types.BrokerCommand, params map[string]any) (types.BrokerResponse, error) {
	f.calls = append(f.calls, cmd)
	if len(f.calls) <= f.failUntil {
		return types.BrokerResponse{}, errors.New("transient broker error")
	}
	if f.err != nil {
		return types.BrokerResponse{}, f.err
	}
	return f.resp, nil
}

func newGatekeeper() *risk.Gatekeeper {
	return risk.NewGatekeeper(zap.NewNop(), types.DemoRiskLimits(), risk.NewCorrelationCache(time.Minute))
}

func approvedState() risk.AccountState {
	return risk.AccountState{
		Account:         types.AccountInfo{Balance: decimal.NewFromInt(10000), Equity: decimal.NewFromInt(10000)},
		StartingBalance: decimal.NewFromInt(10000),
		PeakBalance:     decimal.NewFromInt(10000),
		FreeMargin:      decimal.NewFromInt(9000),
	}
}

func TestHandleEvaluationOpensApprovedBuy(t *testing.T) {
	broker := &fakeBrokerClient{resp: types.BrokerResponse{Status: types.BrokerStatusOK, Data: map[string]any{"ticket": float64(42)}}}
	d := New(zap.NewNop(), Config{
		Broker:       broker,
		Gatekeeper:   newGatekeeper(),
		AccountState: approvedState,
	})

	result := types.EvaluationResult{StrategyID: "s1", Symbol: "EURUSD", Action: types.ActionBuy, Size: decimal.NewFromFloat(0.1), StopLoss: decimal.NewFromFloat(1.0950)}
	err := d.HandleEvaluation(context.Background(), result)
	require.NoError(t, err)
	require.Len(t, broker.calls, 1)
	assert.Equal(t, types.BrokerOpenPosition, broker.calls[0])
}

func TestHandleEvaluationRejectedByGatekeeperEmitsAlertNoOrder(t *testing.T) {
	broker := &fakeBrokerClient{resp: types.BrokerResponse{Status: types.BrokerStatusOK}}
	var alerts []types.Alert
	d := New(zap.NewNop(), Config{
		Broker:     broker,
		Gatekeeper: newGatekeeper(),
		AccountState: func() risk.AccountState {
			s := approvedState()
			s.DailyPnL = decimal.NewFromInt(-2000) // exceeds demo daily-loss limit
			return s
		},
		Alerts: func(a types.Alert) { alerts = append(alerts, a) },
	})

	result := types.EvaluationResult{StrategyID: "s1", Symbol: "EURUSD", Action: types.ActionBuy, Size: decimal.NewFromFloat(0.1)}
	err := d.HandleEvaluation(context.Background(), result)
	require.NoError(t, err)
	assert.Empty(t, broker.calls)
	require.Len(t, alerts, 1)
	assert.Equal(t, types.AlertCategorySafety, alerts[0].Category)
}

func TestHandleEvaluationBlockedByEmergencyStop(t *testing.T) {
	broker := &fakeBrokerClient{resp: types.BrokerResponse{Status: types.BrokerStatusOK}}
	d := New(zap.NewNop(), Config{Broker: broker, Gatekeeper: newGatekeeper(), AccountState: approvedState})
	d.EmergencyStop()

	result := types.EvaluationResult{StrategyID: "s1", Symbol: "EURUSD", Action: types.ActionBuy, Size: decimal.NewFromFloat(0.1)}
	err := d.HandleEvaluation(context.Background(), result)
	assert.Error(t, err)
	assert.Empty(t, broker.calls)
}

func TestSendWithRetryRecoversFromTransientFailure(t *testing.T) {
	broker := &fakeBrokerClient{failUntil: 2, resp: types.BrokerResponse{Status: types.BrokerStatusOK}}
	d := New(zap.NewNop(), Config{Broker: broker, Gatekeeper: newGatekeeper(), RetryDelay: time.Millisecond})
	err := d.ModifyPosition(context.Background(), 1, decimal.NewFromFloat(1.1000))
	require.NoError(t, err)
	assert.Len(t, broker.calls, 3)
}

func TestSendWithRetryGivesUpAfterMaxAttempts(t *testing.T) {
	broker := &fakeBrokerClient{failUntil: 10}
	d := New(zap.NewNop(), Config{Broker: broker, Gatekeeper: newGatekeeper(), RetryDelay: time.Millisecond, RetryAttempts: 2})
	err := d.ModifyPosition(context.Background(), 1, decimal.NewFromFloat(1.1000))
	assert.Error(t, err)
	assert.Len(t, broker.calls, 2)
}

func TestDispatchExitRoutesModifyAndClose(t *testing.T) {
	broker := &fakeBrokerClient{resp: types.BrokerResponse{Status: types.BrokerStatusOK}}
	d := New(zap.NewNop(), Config{Broker: broker, Gatekeeper: newGatekeeper(), RetryDelay: time.Millisecond})

	require.NoError(t, d.DispatchExit(context.Background(), position.ExitDecision{Action: "modify-position", Ticket: 1, NewSL: decimal.NewFromFloat(1.1)}))
	require.NoError(t, d.DispatchExit(context.Background(), position.ExitDecision{Action: "close-position", Ticket: 1}))
	require.Len(t, broker.calls, 2)
	assert.Equal(t, types.BrokerModifyPosition, broker.calls[0])
	assert.Equal(t, types.BrokerClosePosition, broker.calls[1])
}
