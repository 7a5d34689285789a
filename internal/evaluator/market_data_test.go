package evaluator

import (
	"testing"

	"github.com/atlas-desktop/trade-executor/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestMarketDataClientBarsInsufficient(t *testing.T) {
	c := NewMarketDataClient(zap.NewNop())
	c.AppendBar("EURUSD", types.TimeframeM1, types.Bar{Close: decimal.NewFromFloat(1.1)})
	bars, ok := c.Bars("EURUSD", types.TimeframeM1, 5)
	assert.False(t, ok)
	assert.Len(t, bars, 1)
}

func TestMarketDataClientBarsTrimsToWindow(t *testing.T) {
	c := NewMarketDataClient(zap.NewNop())
	for i := 0; i < 10; i++ {
		c.AppendBar("EURUSD", types.TimeframeM1, types.Bar{Close: decimal.NewFromFloat(float64(i))})
	}
	bars, ok := c.Bars("EURUSD", types.TimeframeM1, 3)
	assert.True(t, ok)
	assert.Len(t, bars, 3)
	assert.True(t, bars[2].Close.Equal(decimal.NewFromFloat(9)))
}

func TestMarketDataClientHandlePush(t *testing.T) {
	c := NewMarketDataClient(zap.NewNop())
	frame := types.BrokerPushFrame{
		Action: types.PushMarketData,
		Payload: map[string]any{
			"symbol":    "EURUSD",
			"timeframe": "M1",
			"openTime":  float64(1700000000),
			"open":      1.1000,
			"high":      1.1010,
			"low":       1.0990,
			"close":     1.1005,
			"volume":    123.0,
		},
	}
	c.HandlePush(frame)
	bars, ok := c.Bars("EURUSD", types.TimeframeM1, 1)
	assert.True(t, ok)
	assert.True(t, bars[0].Close.Equal(decimal.NewFromFloat(1.1005)))
}

func TestMarketDataClientHandlePushMissingSymbolIgnored(t *testing.T) {
	c := NewMarketDataClient(zap.NewNop())
	c.HandlePush(types.BrokerPushFrame{Action: types.PushMarketData, Payload: map[string]any{}})
	_, ok := c.Bars("", types.TimeframeM1, 1)
	assert.False(t, ok)
}

func TestSymbolMapperIdentityFallback(t *testing.T) {
	m := NewSymbolMapper(nil)
	assert.Equal(t, "EURUSD", m.Resolve("EURUSD"))
}

func TestSymbolMapperResolvesMapped(t *testing.T) {
	m := NewSymbolMapper(map[string]string{"EURUSD": "EURUSD.r"})
	assert.Equal(t, "EURUSD.r", m.Resolve("EURUSD"))
	m.Set("GBPUSD", "GBPUSD.r")
	assert.Equal(t, "GBPUSD.r", m.Resolve("GBPUSD"))
}
