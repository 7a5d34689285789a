package risk

import (
	"testing"
	"time"

	"github.com/atlas-desktop/trade-executor/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func demoState() AccountState {
	return AccountState{
		Account:         types.AccountInfo{Equity: decimal.NewFromInt(10000), Balance: decimal.NewFromInt(10000)},
		StartingBalance: decimal.NewFromInt(10000),
		PeakBalance:     decimal.NewFromInt(10000),
		FreeMargin:      decimal.NewFromInt(5000),
	}
}

func TestDailyLossExactlyAtThresholdFails(t *testing.T) {
	limits := types.DemoRiskLimits()
	state := demoState()
	state.DailyPnL = limits.MaxDailyLoss.Neg() // exactly at the limit

	check := checkDailyLoss(limits, state)
	assert.Equal(t, types.SeverityFailed, check.Severity)
}

func TestDailyLossBelowThresholdPasses(t *testing.T) {
	limits := types.DemoRiskLimits()
	state := demoState()
	state.DailyPnL = limits.MaxDailyLoss.Div(decimal.NewFromInt(2)).Neg()

	check := checkDailyLoss(limits, state)
	assert.Equal(t, types.SeverityPassed, check.Severity)
}

func TestMaxPositionsBoundary(t *testing.T) {
	limits := types.DemoRiskLimits()
	state := demoState()
	for i := 0; i < limits.MaxPositions; i++ {
		state.OpenPositions = append(state.OpenPositions, types.Position{Ticket: int64(i)})
	}
	check := checkMaxPositions(limits, state)
	assert.Equal(t, types.SeverityFailed, check.Severity)
}

func TestLotSizeExceedsLimit(t *testing.T) {
	limits := types.DemoRiskLimits()
	order := CandidateOrder{Symbol: "EURUSD", Volume: limits.MaxLotSize.Add(decimal.NewFromFloat(0.01))}
	check := checkLotSize(limits, order)
	assert.Equal(t, types.SeverityFailed, check.Severity)
}

func TestMarginWarningBand(t *testing.T) {
	limits := types.DemoRiskLimits()
	order := CandidateOrder{RequiredMargin: decimal.NewFromInt(1000)}
	state := demoState()
	state.FreeMargin = decimal.NewFromInt(1200) // ratio 1.2: within [1.0,1.5)

	check := checkMargin(limits, order, state)
	assert.Equal(t, types.SeverityWarning, check.Severity)
}

func TestMarginFailsBelowOne(t *testing.T) {
	limits := types.DemoRiskLimits()
	order := CandidateOrder{RequiredMargin: decimal.NewFromInt(1000)}
	state := demoState()
	state.FreeMargin = decimal.NewFromInt(500)

	check := checkMargin(limits, order, state)
	assert.Equal(t, types.SeverityFailed, check.Severity)
}

func TestGatekeeperApprovesCleanOrder(t *testing.T) {
	gk := NewGatekeeper(zap.NewNop(), types.DemoRiskLimits(), NewCorrelationCache(time.Hour))
	order := CandidateOrder{Symbol: "EURUSD", Volume: decimal.NewFromFloat(0.1)}
	result := gk.Evaluate(order, demoState())
	assert.True(t, result.Approved)
}

func TestGatekeeperRejectsOversizedLot(t *testing.T) {
	gk := NewGatekeeper(zap.NewNop(), types.DemoRiskLimits(), NewCorrelationCache(time.Hour))
	order := CandidateOrder{Symbol: "EURUSD", Volume: decimal.NewFromInt(999)}
	result := gk.Evaluate(order, demoState())
	assert.False(t, result.Approved)
	failure, ok := result.FirstFailure()
	assert.True(t, ok)
	assert.Equal(t, "lot_size", failure.Name)
}

func TestAdjustForCorrelationTable(t *testing.T) {
	cases := []struct {
		coeff          float64
		wantMultiplier decimal.Decimal
		wantConfidence int
		wantHedge      bool
	}{
		{0.95, decimal.NewFromFloat(0.3), 60, false},
		{0.85, decimal.NewFromFloat(0.5), 75, false},
		{0.75, decimal.NewFromFloat(0.7), 85, false},
		{-0.8, decimal.NewFromInt(1), 0, true},
		{0.2, decimal.NewFromInt(1), 100, false},
	}
	for _, c := range cases {
		adj := AdjustForCorrelation(c.coeff)
		assert.True(t, adj.SizeMultiplier.Equal(c.wantMultiplier), "coeff=%v", c.coeff)
		assert.Equal(t, c.wantConfidence, adj.Confidence, "coeff=%v", c.coeff)
		assert.Equal(t, c.wantHedge, adj.IsHedge, "coeff=%v", c.coeff)
	}
}

func TestCorrelationCacheSeededStaticTable(t *testing.T) {
	cache := NewCorrelationCache(time.Hour)
	coeff, ok := cache.Get("EURUSD", "GBPUSD")
	assert.True(t, ok)
	assert.InDelta(t, 0.85, coeff, 0.001)

	// Order-independent lookup.
	coeff2, ok2 := cache.Get("GBPUSD", "EURUSD")
	assert.True(t, ok2)
	assert.Equal(t, coeff, coeff2)
}
