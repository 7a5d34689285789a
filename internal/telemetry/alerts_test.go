package telemetry

import (
	"testing"

	"github.com/atlas-desktop/trade-executor/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreFiresDailyLossRule(t *testing.T) {
	s := NewStore(nil)
	in := RuleInput{
		Limits:          types.DemoRiskLimits(),
		DailyPnL:        decimal.NewFromInt(-1500),
		StartingBalance: decimal.NewFromInt(10000),
	}
	fired := s.Evaluate(in)
	require.Len(t, fired, 1)
	assert.Equal(t, "daily-loss", fired[0].Rule)
	assert.Equal(t, types.AlertCategorySafety, fired[0].Category)
}

func TestStoreFiresResourceRules(t *testing.T) {
	s := NewStore(nil)
	in := RuleInput{
		Snapshot: SystemSnapshot{MemoryPercent: 90, DiskPercent: 85, CPUPercent: 95, NetworkLatencyMS: 1200},
	}
	fired := s.Evaluate(in)
	names := map[string]bool{}
	for _, a := range fired {
		names[a.Rule] = true
	}
	assert.True(t, names["memory-high"])
	assert.True(t, names["disk-high"])
	assert.True(t, names["cpu-high"])
	assert.True(t, names["latency-high"])
}

func TestStoreDedupsWithinWindow(t *testing.T) {
	s := NewStore(nil)
	in := RuleInput{Snapshot: SystemSnapshot{CPUPercent: 95}}

	first := s.Evaluate(in)
	require.Len(t, first, 1)

	second := s.Evaluate(in)
	assert.Empty(t, second)
}

func TestStoreAckMarksRuleAcknowledged(t *testing.T) {
	s := NewStore(nil)
	in := RuleInput{Snapshot: SystemSnapshot{CPUPercent: 95}}
	s.Evaluate(in)
	s.Ack("cpu-high")
	assert.True(t, s.Acked("cpu-high"))
}

func TestStoreErrorRateRuleIsSecurityCategory(t *testing.T) {
	s := NewStore(nil)
	in := RuleInput{ErrorRate: 0.2}
	fired := s.Evaluate(in)
	require.Len(t, fired, 1)
	assert.Equal(t, types.AlertCategorySecurity, fired[0].Category)
}
