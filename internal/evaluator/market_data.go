// Package evaluator drives the per-(strategy,symbol) evaluation pipeline:
// one cooperative scheduler per active strategy, fanning out symbol
// evaluation under a bounded worker pool, against a rolling bar buffer fed
// by the broker's unsolicited market_data push frames.
package evaluator

import (
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/trade-executor/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxBarsPerSeries = 500

// barKey identifies a rolling bar window.
type barKey struct {
	symbol    string
	timeframe types.Timeframe
}

// MarketDataClient maintains a rolling, in-memory bar buffer per
// (symbol, timeframe), fed by the broker's unsolicited "market_data" push
// frames (spec §4.1 "a separate server socket... accepts unsolicited
// messages from the broker"). Fetching bars for evaluation is simply
// reading the tail of this buffer — the "bar cache" spec §4.2 step 1
// refers to.
type MarketDataClient struct {
	logger *zap.Logger

	mu      sync.RWMutex
	windows map[barKey][]types.Bar
}

// NewMarketDataClient builds an empty market data client.
func NewMarketDataClient(logger *zap.Logger) *MarketDataClient {
	return &MarketDataClient{
		logger:  logger.Named("market-data"),
		windows: make(map[barKey][]types.Bar),
	}
}

// marketDataPayload is the shape of a market_data push frame's payload.
type marketDataPayload struct {
	Symbol    string  `json:"symbol"`
	Timeframe string  `json:"timeframe"`
	OpenTime  int64   `json:"openTime"` // unix seconds
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Spread    float64 `json:"spread"`
}

// HandlePush decodes a market_data broker push frame and appends the bar
// to the matching rolling window. Registered against
// fabric.PushListener.On(types.PushMarketData, ...).
func (c *MarketDataClient) HandlePush(frame types.BrokerPushFrame) {
	symbol, _ := frame.Payload["symbol"].(string)
	timeframe, _ := frame.Payload["timeframe"].(string)
	if symbol == "" || timeframe == "" {
		c.logger.Warn("market_data push frame missing symbol/timeframe")
		return
	}

	bar := types.Bar{
		OpenTime: timeFromPayload(frame.Payload, "openTime"),
		Open:     decimalFromPayload(frame.Payload, "open"),
		High:     decimalFromPayload(frame.Payload, "high"),
		Low:      decimalFromPayload(frame.Payload, "low"),
		Close:    decimalFromPayload(frame.Payload, "close"),
		Volume:   decimalFromPayload(frame.Payload, "volume"),
		Spread:   decimalFromPayload(frame.Payload, "spread"),
	}
	c.AppendBar(symbol, types.Timeframe(timeframe), bar)
}

func timeFromPayload(payload map[string]any, key string) time.Time {
	v, ok := payload[key]
	if !ok {
		return time.Now()
	}
	switch n := v.(type) {
	case float64:
		return time.Unix(int64(n), 0)
	case int64:
		return time.Unix(n, 0)
	default:
		return time.Now()
	}
}

func decimalFromPayload(payload map[string]any, key string) decimal.Decimal {
	v, ok := payload[key]
	if !ok {
		return decimal.Zero
	}
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n)
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}

// AppendBar pushes a newly-closed bar onto the window for
// (symbol, timeframe), trimming to maxBarsPerSeries.
func (c *MarketDataClient) AppendBar(symbol string, timeframe types.Timeframe, bar types.Bar) {
	key := barKey{symbol: symbol, timeframe: timeframe}
	c.mu.Lock()
	defer c.mu.Unlock()
	bars := append(c.windows[key], bar)
	if len(bars) > maxBarsPerSeries {
		bars = bars[len(bars)-maxBarsPerSeries:]
	}
	c.windows[key] = bars
}

// Bars returns the last min(want, available) bars for (symbol, timeframe).
// ok is false if fewer than want bars are buffered.
func (c *MarketDataClient) Bars(symbol string, timeframe types.Timeframe, want int) ([]types.Bar, bool) {
	key := barKey{symbol: symbol, timeframe: timeframe}
	c.mu.RLock()
	defer c.mu.RUnlock()
	bars := c.windows[key]
	if len(bars) < want {
		return append([]types.Bar(nil), bars...), false
	}
	return append([]types.Bar(nil), bars[len(bars)-want:]...), true
}

// SymbolMapper translates a strategy-declared symbol to its broker-side
// symbol via a user-extensible table, falling back to identity (spec
// §4.2 step 2).
type SymbolMapper struct {
	mu    sync.RWMutex
	table map[string]string
}

// NewSymbolMapper builds a mapper seeded with table (may be nil).
func NewSymbolMapper(table map[string]string) *SymbolMapper {
	m := &SymbolMapper{table: make(map[string]string, len(table))}
	for k, v := range table {
		m.table[k] = v
	}
	return m
}

// Resolve returns the broker symbol for symbol, or symbol itself if unmapped.
func (m *SymbolMapper) Resolve(symbol string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if mapped, ok := m.table[symbol]; ok {
		return mapped
	}
	return symbol
}

// Set adds or overwrites a mapping entry.
func (m *SymbolMapper) Set(symbol, brokerSymbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table[symbol] = brokerSymbol
}

// ErrInsufficientBars is returned when fewer than the requested bar count
// is buffered for a symbol/timeframe.
type ErrInsufficientBars struct {
	Symbol    string
	Timeframe types.Timeframe
	Have      int
	Want      int
}

func (e ErrInsufficientBars) Error() string {
	return fmt.Sprintf("evaluator: %s/%s has %d bars buffered, need %d", e.Symbol, e.Timeframe, e.Have, e.Want)
}
