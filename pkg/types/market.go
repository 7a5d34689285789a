// Package types provides the shared domain model for the trade executor:
// bars, positions, account snapshots, strategies, and the broker/control
// plane wire contracts built on top of them.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe is a bar duration tag.
type Timeframe string

const (
	TimeframeM1  Timeframe = "M1"
	TimeframeM5  Timeframe = "M5"
	TimeframeM15 Timeframe = "M15"
	TimeframeM30 Timeframe = "M30"
	TimeframeH1  Timeframe = "H1"
	TimeframeH4  Timeframe = "H4"
	TimeframeD1  Timeframe = "D1"
)

// TickInterval returns the evaluation tick interval for a timeframe.
func (t Timeframe) TickInterval() time.Duration {
	switch t {
	case TimeframeM1:
		return time.Minute
	case TimeframeM5:
		return 5 * time.Minute
	case TimeframeM15:
		return 15 * time.Minute
	case TimeframeM30:
		return 30 * time.Minute
	case TimeframeH1:
		return time.Hour
	case TimeframeH4:
		return 4 * time.Hour
	case TimeframeD1:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Bar is one OHLCV candle for a symbol/timeframe.
type Bar struct {
	OpenTime time.Time       `json:"openTime"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
	Spread   decimal.Decimal `json:"spread"`
}

// Side is the trading direction of a position or order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Position is a broker-reported open position.
type Position struct {
	Ticket       int64           `json:"ticket"`
	Symbol       string          `json:"symbol"`
	Side         Side            `json:"side"`
	Volume       decimal.Decimal `json:"volume"`
	OpenPrice    decimal.Decimal `json:"openPrice"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	StopLoss     decimal.Decimal `json:"stopLoss"`
	TakeProfit   decimal.Decimal `json:"takeProfit"`
	Profit       decimal.Decimal `json:"profit"`
	OpenTime     time.Time       `json:"openTime"`
	Magic        int64           `json:"magic"`
	Comment      string          `json:"comment"`
}

// AccountInfo is a broker account snapshot.
type AccountInfo struct {
	Balance      decimal.Decimal `json:"balance"`
	Equity       decimal.Decimal `json:"equity"`
	Margin       decimal.Decimal `json:"margin"`
	FreeMargin   decimal.Decimal `json:"freeMargin"`
	MarginLevel  decimal.Decimal `json:"marginLevel"`
	Profit       decimal.Decimal `json:"profit"`
	Currency     string          `json:"currency"`
	Leverage     int             `json:"leverage"`
	IsLive       bool            `json:"isLive"`
}

// Action is the outcome of a strategy evaluation tick.
type Action string

const (
	ActionBuy   Action = "BUY"
	ActionSell  Action = "SELL"
	ActionHold  Action = "HOLD"
	ActionClose Action = "CLOSE"
	ActionWait  Action = "WAIT"
)

// EvaluationResult is the output of one (strategy, symbol) evaluation tick.
type EvaluationResult struct {
	StrategyID string          `json:"strategyId"`
	Symbol     string          `json:"symbol"`
	Action     Action          `json:"action"`
	Confidence int             `json:"confidence"` // percentage, rounded
	Reasons    []string        `json:"reasons"`
	StopLoss   decimal.Decimal `json:"stopLoss,omitempty"`
	TakeProfit decimal.Decimal `json:"takeProfit,omitempty"`
	Size       decimal.Decimal `json:"size,omitempty"`
	EvaluatedAt time.Time      `json:"evaluatedAt"`
}
