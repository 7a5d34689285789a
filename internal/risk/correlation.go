package risk

import (
	"math"
	"sync"
	"time"

	"github.com/atlas-desktop/trade-executor/pkg/types"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"
)

// corrPairKey canonicalizes a symbol pair so (A,B) and (B,A) share a cache
// entry.
type corrPairKey struct{ a, b string }

func newCorrPairKey(symbolA, symbolB string) corrPairKey {
	if symbolA > symbolB {
		symbolA, symbolB = symbolB, symbolA
	}
	return corrPairKey{a: symbolA, b: symbolB}
}

type corrEntry struct {
	coefficient float64
	computedAt  time.Time
}

// CorrelationCache caches pairwise Pearson correlation coefficients for
// 1 hour, seeded with a static table of well-known currency-pair
// correlations and refreshable from live log-return series (spec §4.3
// check 7).
type CorrelationCache struct {
	mu      sync.RWMutex
	entries map[corrPairKey]corrEntry
	ttl     time.Duration
}

// staticCorrelationTable seeds commonly-known major-pair correlations so
// the gatekeeper has a sane answer before any live series has been
// computed.
var staticCorrelationTable = map[corrPairKey]float64{
	newCorrPairKey("EURUSD", "GBPUSD"): 0.85,
	newCorrPairKey("EURUSD", "USDCHF"): -0.90,
	newCorrPairKey("USDJPY", "USDCHF"): 0.65,
	newCorrPairKey("AUDUSD", "NZDUSD"): 0.88,
	newCorrPairKey("EURUSD", "AUDUSD"): 0.70,
	newCorrPairKey("GBPUSD", "EURGBP"): -0.75,
}

// NewCorrelationCache builds a cache seeded with staticCorrelationTable.
func NewCorrelationCache(ttl time.Duration) *CorrelationCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	c := &CorrelationCache{entries: make(map[corrPairKey]corrEntry), ttl: ttl}
	now := time.Now()
	for k, v := range staticCorrelationTable {
		c.entries[k] = corrEntry{coefficient: v, computedAt: now}
	}
	return c
}

// Get returns the cached coefficient for (symbolA, symbolB), or false if
// absent or expired.
func (c *CorrelationCache) Get(symbolA, symbolB string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[newCorrPairKey(symbolA, symbolB)]
	if !ok || time.Since(e.computedAt) > c.ttl {
		return 0, false
	}
	return e.coefficient, true
}

// Refresh computes the Pearson correlation coefficient between two
// symbols' log-return series over the same bar window and stores it.
func (c *CorrelationCache) Refresh(symbolA, symbolB string, barsA, barsB []types.Bar) (float64, error) {
	n := len(barsA)
	if len(barsB) < n {
		n = len(barsB)
	}
	if n < 3 {
		return 0, ErrInsufficientHistory{Have: n, Want: 3}
	}

	returnsA := logReturns(barsA[len(barsA)-n:])
	returnsB := logReturns(barsB[len(barsB)-n:])

	coefficient := stat.Correlation(returnsA, returnsB, nil)

	c.mu.Lock()
	c.entries[newCorrPairKey(symbolA, symbolB)] = corrEntry{coefficient: coefficient, computedAt: time.Now()}
	c.mu.Unlock()

	return coefficient, nil
}

func logReturns(bars []types.Bar) []float64 {
	out := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		prev := bars[i-1].Close.InexactFloat64()
		curr := bars[i].Close.InexactFloat64()
		if prev <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(curr/prev))
	}
	return out
}

// ErrInsufficientHistory is returned by Refresh when too few aligned bars
// are available to compute a meaningful coefficient.
type ErrInsufficientHistory struct {
	Have int
	Want int
}

func (e ErrInsufficientHistory) Error() string {
	return "risk: insufficient bar history to compute correlation"
}

// checkCorrelation implements gatekeeper check 7: every open position's
// correlation with the candidate symbol must stay within max_correlation.
func (g *Gatekeeper) checkCorrelation(limits types.RiskLimits, order CandidateOrder, state AccountState) types.RiskCheck {
	const name = "correlation"
	if g.corrCache == nil {
		return passed(name)
	}

	maxCorr := limits.MaxCorrelation
	for _, pos := range state.OpenPositions {
		coeff, ok := g.corrCache.Get(order.Symbol, pos.Symbol)
		if !ok {
			continue
		}
		if decimal.NewFromFloat(math.Abs(coeff)).GreaterThan(maxCorr) {
			return failed(name, "correlation with an open position exceeds the configured maximum")
		}
	}
	return passed(name)
}

// CorrelationAdjustment is the weighted size reduction the correlation
// executor applies ahead of final sizing (spec §4.3 "Correlation executor
// (advanced path)").
type CorrelationAdjustment struct {
	SizeMultiplier decimal.Decimal
	Confidence     int
	IsHedge        bool
}

// AdjustForCorrelation applies the weighted correlation-size table against
// the strongest correlation observed across open positions.
func AdjustForCorrelation(coefficient float64) CorrelationAdjustment {
	abs := math.Abs(coefficient)
	switch {
	case coefficient < -0.7:
		return CorrelationAdjustment{SizeMultiplier: decimal.NewFromInt(1), Confidence: 0, IsHedge: true}
	case abs > 0.9:
		return CorrelationAdjustment{SizeMultiplier: decimal.NewFromFloat(0.3), Confidence: 60}
	case abs > 0.8:
		return CorrelationAdjustment{SizeMultiplier: decimal.NewFromFloat(0.5), Confidence: 75}
	case abs > 0.7:
		return CorrelationAdjustment{SizeMultiplier: decimal.NewFromFloat(0.7), Confidence: 85}
	default:
		return CorrelationAdjustment{SizeMultiplier: decimal.NewFromInt(1), Confidence: 100}
	}
}
