// Package regime classifies the current market regime for a symbol from
// its recent bar history, feeding a size multiplier back into position
// sizing.
package regime

import (
	"sync"
	"time"

	"github.com/atlas-desktop/trade-executor/internal/indicators"
	"github.com/atlas-desktop/trade-executor/pkg/types"
	"github.com/atlas-desktop/trade-executor/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Type is one of the six regimes the detector can report.
type Type string

const (
	HighVolatility   Type = "HIGH_VOLATILITY"
	LowVolatility    Type = "LOW_VOLATILITY"
	BullishTrending  Type = "BULLISH_TRENDING"
	BearishTrending  Type = "BEARISH_TRENDING"
	Breakout         Type = "BREAKOUT"
	Ranging          Type = "RANGING"
)

// SizeMultiplier is the position-size scaling factor applied for each
// regime (spec §4.2.5).
func SizeMultiplier(t Type) decimal.Decimal {
	switch t {
	case BullishTrending, BearishTrending:
		return decimal.NewFromFloat(1.5)
	case HighVolatility:
		return decimal.NewFromFloat(0.5)
	case LowVolatility:
		return decimal.NewFromFloat(0.8)
	case Ranging:
		return decimal.NewFromFloat(0.7)
	case Breakout:
		return decimal.NewFromFloat(1.0)
	default:
		return decimal.NewFromInt(1)
	}
}

// State is the detector's classification for one (symbol, timeframe) at a
// point in time.
type State struct {
	Regime          Type      `json:"regime"`
	Confidence      float64   `json:"confidence"`
	ADX             decimal.Decimal `json:"adx"`
	VolatilityRatio decimal.Decimal `json:"volatilityRatio"`
	PricePosition   decimal.Decimal `json:"pricePosition"`
	Recommendations []string  `json:"recommendations"`
	ClassifiedAt    time.Time `json:"classifiedAt"`
}

// minBarsRequired is the spec's "at least 200 bars" floor for EMA(200).
const minBarsRequired = 200

// Detector classifies market regime deterministically from ADX/ATR/EMA200,
// replacing the source system's HMM-based classifier (spec §9: HMM
// machinery is reference-only, not specified behavior here).
type Detector struct {
	logger *zap.Logger

	mu      sync.RWMutex
	history map[string][]State // keyed by symbol|timeframe
}

// NewDetector builds a regime detector.
func NewDetector(logger *zap.Logger) *Detector {
	return &Detector{
		logger:  logger.Named("regime"),
		history: make(map[string][]State),
	}
}

// Classify computes the regime for bars, requiring at least 200 closed
// bars. Returns ErrInsufficientBars otherwise.
func (d *Detector) Classify(symbol string, timeframe types.Timeframe, bars []types.Bar) (State, error) {
	if len(bars) < minBarsRequired {
		return State{}, ErrInsufficientBars{Have: len(bars), Want: minBarsRequired}
	}

	adxResult := indicators.ADX(bars, 14)
	atrSeries := indicators.ATR(bars, 14)
	emaSeries := indicators.EMA(bars, 200)

	last := len(bars) - 1
	adx := adxResult.ADX[last]
	plusDI := adxResult.PlusDI[last]
	minusDI := adxResult.MinusDI[last]
	atr := atrSeries[last]
	ema := emaSeries[last]
	close := bars[last].Close

	pricePos := decimal.Zero
	if !ema.IsZero() {
		pricePos = close.Sub(ema).Div(ema).Mul(decimal.NewFromInt(100))
	}

	atrWindow := []decimal.Decimal(atrSeries[last-19 : last+1])
	meanATR := utils.CalculateMean(atrWindow)
	volRatio := decimal.NewFromInt(1)
	if !meanATR.IsZero() {
		volRatio = atr.Div(meanATR)
	}

	regime, confidence, recs := classify(adx, plusDI, minusDI, pricePos, volRatio)

	state := State{
		Regime:          regime,
		Confidence:      confidence,
		ADX:             adx,
		VolatilityRatio: volRatio,
		PricePosition:   pricePos,
		Recommendations: recs,
		ClassifiedAt:    time.Now(),
	}

	key := symbol + "|" + string(timeframe)
	d.mu.Lock()
	d.history[key] = append(d.history[key], state)
	if len(d.history[key]) > 500 {
		d.history[key] = d.history[key][len(d.history[key])-500:]
	}
	d.mu.Unlock()

	return state, nil
}

// History returns the recorded classification history for (symbol,
// timeframe).
func (d *Detector) History(symbol string, timeframe types.Timeframe) []State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	key := symbol + "|" + string(timeframe)
	out := make([]State, len(d.history[key]))
	copy(out, d.history[key])
	return out
}

// thresholds from spec §4.2.5's classification table.
var (
	volHigh     = decimal.NewFromFloat(1.5)
	volLow      = decimal.NewFromFloat(0.7)
	volBreakout = decimal.NewFromFloat(0.8)
	adxTrending = decimal.NewFromInt(25)
	adxBreakoutLow  = decimal.NewFromInt(15)
	adxBreakoutHigh = decimal.NewFromInt(25)
)

func classify(adx, plusDI, minusDI, pricePos, volRatio decimal.Decimal) (Type, float64, []string) {
	switch {
	case volRatio.GreaterThanOrEqual(volHigh):
		return HighVolatility, confidenceFromDistance(volRatio, volHigh), []string{
			"reduce position size, volatility is elevated",
		}
	case volRatio.LessThan(volLow):
		return LowVolatility, confidenceFromDistance(volLow, volRatio), []string{
			"range-bound conditions, consider tighter stops",
		}
	case adx.GreaterThanOrEqual(adxTrending) && plusDI.GreaterThan(minusDI) && pricePos.IsPositive():
		return BullishTrending, confidenceFromDistance(adx, adxTrending), []string{
			"trend continuation favored to the upside",
		}
	case adx.GreaterThanOrEqual(adxTrending) && minusDI.GreaterThan(plusDI) && pricePos.IsNegative():
		return BearishTrending, confidenceFromDistance(adx, adxTrending), []string{
			"trend continuation favored to the downside",
		}
	case adx.GreaterThan(adxBreakoutLow) && adx.LessThan(adxBreakoutHigh) && volRatio.LessThan(volBreakout):
		return Breakout, 0.6, []string{
			"early trend formation, breakout may be developing",
		}
	default:
		return Ranging, 0.5, []string{
			"no clear directional edge, favor mean-reversion strategies",
		}
	}
}

// confidenceFromDistance maps how far a classifying value sits from its
// threshold into a [0.5, 1.0] confidence score: 0.5 plus the distance as a
// fraction of the threshold, saturating at 1.0 once the distance reaches
// half the threshold.
func confidenceFromDistance(value, threshold decimal.Decimal) float64 {
	diff := value.Sub(threshold).Abs()
	ratio := diff.Div(threshold.Add(decimal.NewFromFloat(0.0001))).InexactFloat64()
	confidence := 0.5 + ratio
	if confidence > 1.0 {
		confidence = 1.0
	}
	if confidence < 0.5 {
		confidence = 0.5
	}
	return confidence
}

// ErrInsufficientBars is returned when Classify is called with fewer than
// minBarsRequired bars.
type ErrInsufficientBars struct {
	Have int
	Want int
}

func (e ErrInsufficientBars) Error() string {
	return "regime: insufficient bars for classification"
}
