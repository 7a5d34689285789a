// Package indicators implements the executor's indicator library as pure
// functions over bar series, plus the LRU+TTL cache that sits in front of
// them. Every formula is standard technical analysis — nothing novel —
// hand-rolled rather than delegated to a third-party TA library so the
// evaluation pipeline controls exactly how each value is derived and
// rounded.
package indicators

import (
	"fmt"

	"github.com/atlas-desktop/trade-executor/pkg/types"
	"github.com/atlas-desktop/trade-executor/pkg/utils"
	"github.com/shopspring/decimal"
)

// Series is an aligned slice of indicator values, one per input bar.
// Entries before the lookback period is satisfied are not always zero:
// SMA and EMA hold partial (warm-up) values there.
type Series []decimal.Decimal

// Last returns the most recent value, or zero if the series is empty.
func (s Series) Last() decimal.Decimal {
	if len(s) == 0 {
		return decimal.Zero
	}
	return s[len(s)-1]
}

func closes(bars []types.Bar) []decimal.Decimal {
	out := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// SMA computes the simple moving average over period closes.
func SMA(bars []types.Bar, period int) Series {
	out := make(Series, len(bars))
	sma := utils.NewSMA(period)
	for i, b := range bars {
		out[i] = sma.Add(b.Close)
	}
	return out
}

// EMA computes the exponential moving average over period closes.
func EMA(bars []types.Bar, period int) Series {
	out := make(Series, len(bars))
	ema := utils.NewEMA(period)
	for i, b := range bars {
		out[i] = ema.Add(b.Close)
	}
	return out
}

// RSI computes the Wilder-smoothed relative strength index.
func RSI(bars []types.Bar, period int) Series {
	out := make(Series, len(bars))
	if len(bars) == 0 {
		return out
	}

	var avgGain, avgLoss decimal.Decimal
	for i := 1; i < len(bars); i++ {
		change := bars[i].Close.Sub(bars[i-1].Close)
		gain, loss := decimal.Zero, decimal.Zero
		if change.IsPositive() {
			gain = change
		} else {
			loss = change.Neg()
		}

		if i <= period {
			avgGain = avgGain.Add(gain)
			avgLoss = avgLoss.Add(loss)
			if i == period {
				avgGain = avgGain.Div(decimal.NewFromInt(int64(period)))
				avgLoss = avgLoss.Div(decimal.NewFromInt(int64(period)))
				out[i] = rsiFromAverages(avgGain, avgLoss)
			}
			continue
		}

		p := decimal.NewFromInt(int64(period))
		avgGain = avgGain.Mul(p.Sub(decimal.NewFromInt(1))).Add(gain).Div(p)
		avgLoss = avgLoss.Mul(p.Sub(decimal.NewFromInt(1))).Add(loss).Div(p)
		out[i] = rsiFromAverages(avgGain, avgLoss)
	}
	return out
}

func rsiFromAverages(avgGain, avgLoss decimal.Decimal) decimal.Decimal {
	if avgLoss.IsZero() {
		return decimal.NewFromInt(100)
	}
	rs := avgGain.Div(avgLoss)
	hundred := decimal.NewFromInt(100)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
}

// MACDResult carries the fast/slow EMA difference, its signal line, and
// the histogram between them.
type MACDResult struct {
	MACD      Series
	Signal    Series
	Histogram Series
}

// MACD computes fastPeriod/slowPeriod EMA difference with a signalPeriod
// EMA signal line.
func MACD(bars []types.Bar, fastPeriod, slowPeriod, signalPeriod int) MACDResult {
	fast := EMA(bars, fastPeriod)
	slow := EMA(bars, slowPeriod)

	macdLine := make(Series, len(bars))
	for i := range bars {
		macdLine[i] = fast[i].Sub(slow[i])
	}

	signalEMA := utils.NewEMA(signalPeriod)
	signal := make(Series, len(bars))
	histogram := make(Series, len(bars))
	for i, v := range macdLine {
		signal[i] = signalEMA.Add(v)
		histogram[i] = v.Sub(signal[i])
	}

	return MACDResult{MACD: macdLine, Signal: signal, Histogram: histogram}
}

// trueRange is the classic max(high-low, |high-prevClose|, |low-prevClose|).
func trueRange(curr, prev types.Bar) decimal.Decimal {
	hl := curr.High.Sub(curr.Low)
	hc := curr.High.Sub(prev.Close).Abs()
	lc := curr.Low.Sub(prev.Close).Abs()
	return utils.MaxDecimal(hl, utils.MaxDecimal(hc, lc))
}

// ATR computes the Wilder-smoothed average true range.
func ATR(bars []types.Bar, period int) Series {
	out := make(Series, len(bars))
	if len(bars) < 2 {
		return out
	}

	var atr decimal.Decimal
	p := decimal.NewFromInt(int64(period))
	for i := 1; i < len(bars); i++ {
		tr := trueRange(bars[i], bars[i-1])
		if i < period {
			atr = atr.Add(tr)
			continue
		}
		if i == period {
			atr = atr.Add(tr).Div(p)
			out[i] = atr
			continue
		}
		atr = atr.Mul(p.Sub(decimal.NewFromInt(1))).Add(tr).Div(p)
		out[i] = atr
	}
	return out
}

// BollingerBands carries the upper/middle/lower band series.
type BollingerBands struct {
	Upper  Series
	Middle Series
	Lower  Series
}

// Bollinger computes Bollinger Bands from an SMA middle band and a
// stdDevMultiplier standard-deviation envelope.
func Bollinger(bars []types.Bar, period int, stdDevMultiplier decimal.Decimal) BollingerBands {
	middle := SMA(bars, period)
	upper := make(Series, len(bars))
	lower := make(Series, len(bars))
	values := closes(bars)

	for i := range bars {
		if i+1 < period {
			continue
		}
		window := values[i+1-period : i+1]
		stdDev := utils.CalculateStdDev(window)
		band := stdDev.Mul(stdDevMultiplier)
		upper[i] = middle[i].Add(band)
		lower[i] = middle[i].Sub(band)
	}
	return BollingerBands{Upper: upper, Middle: middle, Lower: lower}
}

// Stochastic carries the %K and slowed %D series.
type Stochastic struct {
	K Series
	D Series
}

// StochasticOscillator computes %K over kPeriod bars, smoothed by slowing,
// with a dPeriod SMA of %K as %D.
func StochasticOscillator(bars []types.Bar, kPeriod, slowing, dPeriod int) Stochastic {
	rawK := make(Series, len(bars))
	for i := range bars {
		if i+1 < kPeriod {
			continue
		}
		window := bars[i+1-kPeriod : i+1]
		highest, lowest := window[0].High, window[0].Low
		for _, b := range window {
			highest = utils.MaxDecimal(highest, b.High)
			lowest = utils.MinDecimal(lowest, b.Low)
		}
		rng := highest.Sub(lowest)
		if rng.IsZero() {
			rawK[i] = decimal.NewFromInt(50)
			continue
		}
		rawK[i] = bars[i].Close.Sub(lowest).Div(rng).Mul(decimal.NewFromInt(100))
	}

	slowedK := smaOfSeries(rawK, slowing)
	d := smaOfSeries(slowedK, dPeriod)
	return Stochastic{K: slowedK, D: d}
}

func smaOfSeries(in Series, period int) Series {
	out := make(Series, len(in))
	sma := utils.NewSMA(period)
	for i, v := range in {
		out[i] = sma.Add(v)
	}
	return out
}

// DirectionalMovement carries ADX alongside its +DI/-DI components.
type DirectionalMovement struct {
	ADX    Series
	PlusDI Series
	MinusDI Series
}

// ADX computes the Wilder average directional index with its +DI/-DI
// components.
func ADX(bars []types.Bar, period int) DirectionalMovement {
	n := len(bars)
	plusDI := make(Series, n)
	minusDI := make(Series, n)
	adx := make(Series, n)
	if n < period+1 {
		return DirectionalMovement{ADX: adx, PlusDI: plusDI, MinusDI: minusDI}
	}

	p := decimal.NewFromInt(int64(period))
	var smoothedTR, smoothedPlusDM, smoothedMinusDM decimal.Decimal
	dx := make(Series, n)

	for i := 1; i < n; i++ {
		upMove := bars[i].High.Sub(bars[i-1].High)
		downMove := bars[i-1].Low.Sub(bars[i].Low)

		plusDM := decimal.Zero
		if upMove.IsPositive() && upMove.GreaterThan(downMove) {
			plusDM = upMove
		}
		minusDM := decimal.Zero
		if downMove.IsPositive() && downMove.GreaterThan(upMove) {
			minusDM = downMove
		}
		tr := trueRange(bars[i], bars[i-1])

		if i <= period {
			smoothedTR = smoothedTR.Add(tr)
			smoothedPlusDM = smoothedPlusDM.Add(plusDM)
			smoothedMinusDM = smoothedMinusDM.Add(minusDM)
			if i == period {
				plusDI[i] = safeDiv(smoothedPlusDM, smoothedTR).Mul(decimal.NewFromInt(100))
				minusDI[i] = safeDiv(smoothedMinusDM, smoothedTR).Mul(decimal.NewFromInt(100))
				dx[i] = dxFromDI(plusDI[i], minusDI[i])
			}
			continue
		}

		smoothedTR = smoothedTR.Sub(smoothedTR.Div(p)).Add(tr)
		smoothedPlusDM = smoothedPlusDM.Sub(smoothedPlusDM.Div(p)).Add(plusDM)
		smoothedMinusDM = smoothedMinusDM.Sub(smoothedMinusDM.Div(p)).Add(minusDM)

		plusDI[i] = safeDiv(smoothedPlusDM, smoothedTR).Mul(decimal.NewFromInt(100))
		minusDI[i] = safeDiv(smoothedMinusDM, smoothedTR).Mul(decimal.NewFromInt(100))
		dx[i] = dxFromDI(plusDI[i], minusDI[i])
	}

	var adxSum decimal.Decimal
	adxStart := 2 * period
	for i := period; i < n && i < adxStart; i++ {
		adxSum = adxSum.Add(dx[i])
	}
	if adxStart < n {
		adx[adxStart] = adxSum.Div(p)
		for i := adxStart + 1; i < n; i++ {
			adx[i] = adx[i-1].Mul(p.Sub(decimal.NewFromInt(1))).Add(dx[i]).Div(p)
		}
	}

	return DirectionalMovement{ADX: adx, PlusDI: plusDI, MinusDI: minusDI}
}

func dxFromDI(plusDI, minusDI decimal.Decimal) decimal.Decimal {
	sum := plusDI.Add(minusDI)
	if sum.IsZero() {
		return decimal.Zero
	}
	return plusDI.Sub(minusDI).Abs().Div(sum).Mul(decimal.NewFromInt(100))
}

func safeDiv(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.Div(b)
}

// CCI computes the commodity channel index using the standard 0.015
// constant.
func CCI(bars []types.Bar, period int) Series {
	out := make(Series, len(bars))
	constant := decimal.NewFromFloat(0.015)

	typicalPrices := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		typicalPrices[i] = b.High.Add(b.Low).Add(b.Close).Div(decimal.NewFromInt(3))
	}

	for i := range bars {
		if i+1 < period {
			continue
		}
		window := typicalPrices[i+1-period : i+1]
		mean := utils.CalculateMean(window)

		var meanDev decimal.Decimal
		for _, tp := range window {
			meanDev = meanDev.Add(tp.Sub(mean).Abs())
		}
		meanDev = meanDev.Div(decimal.NewFromInt(int64(period)))

		if meanDev.IsZero() {
			out[i] = decimal.Zero
			continue
		}
		out[i] = typicalPrices[i].Sub(mean).Div(meanDev.Mul(constant))
	}
	return out
}

// WilliamsR computes Williams %R over period bars.
func WilliamsR(bars []types.Bar, period int) Series {
	out := make(Series, len(bars))
	for i := range bars {
		if i+1 < period {
			continue
		}
		window := bars[i+1-period : i+1]
		highest, lowest := window[0].High, window[0].Low
		for _, b := range window {
			highest = utils.MaxDecimal(highest, b.High)
			lowest = utils.MinDecimal(lowest, b.Low)
		}
		rng := highest.Sub(lowest)
		if rng.IsZero() {
			out[i] = decimal.NewFromInt(-50)
			continue
		}
		out[i] = highest.Sub(bars[i].Close).Div(rng).Mul(decimal.NewFromInt(-100))
	}
	return out
}

// VWAP computes the cumulative volume-weighted average price across the
// entire supplied bar series.
func VWAP(bars []types.Bar) Series {
	out := make(Series, len(bars))
	var cumPV, cumVol decimal.Decimal
	for i, b := range bars {
		typical := b.High.Add(b.Low).Add(b.Close).Div(decimal.NewFromInt(3))
		cumPV = cumPV.Add(typical.Mul(b.Volume))
		cumVol = cumVol.Add(b.Volume)
		out[i] = safeDiv(cumPV, cumVol)
	}
	return out
}

// Ichimoku carries the five Ichimoku Kinko Hyo lines.
type Ichimoku struct {
	Tenkan  Series
	Kijun   Series
	SenkouA Series
	SenkouB Series
	Chikou  Series
}

// IchimokuCloud computes the standard 9/26/52 Ichimoku lines. The Senkou
// spans are aligned to the bar they are computed from (not displaced
// forward); the Chikou span is displaced backward by the kijun period.
func IchimokuCloud(bars []types.Bar, tenkanPeriod, kijunPeriod, senkouBPeriod int) Ichimoku {
	n := len(bars)
	tenkan := midpointSeries(bars, tenkanPeriod)
	kijun := midpointSeries(bars, kijunPeriod)
	senkouB := midpointSeries(bars, senkouBPeriod)

	senkouA := make(Series, n)
	for i := range bars {
		senkouA[i] = tenkan[i].Add(kijun[i]).Div(decimal.NewFromInt(2))
	}

	chikou := make(Series, n)
	for i := 0; i < n-kijunPeriod; i++ {
		chikou[i] = bars[i+kijunPeriod].Close
	}

	return Ichimoku{Tenkan: tenkan, Kijun: kijun, SenkouA: senkouA, SenkouB: senkouB, Chikou: chikou}
}

func midpointSeries(bars []types.Bar, period int) Series {
	out := make(Series, len(bars))
	for i := range bars {
		if i+1 < period {
			continue
		}
		window := bars[i+1-period : i+1]
		highest, lowest := window[0].High, window[0].Low
		for _, b := range window {
			highest = utils.MaxDecimal(highest, b.High)
			lowest = utils.MinDecimal(lowest, b.Low)
		}
		out[i] = highest.Add(lowest).Div(decimal.NewFromInt(2))
	}
	return out
}

// OBV computes the on-balance volume running total.
func OBV(bars []types.Bar) Series {
	out := make(Series, len(bars))
	for i := 1; i < len(bars); i++ {
		switch {
		case bars[i].Close.GreaterThan(bars[i-1].Close):
			out[i] = out[i-1].Add(bars[i].Volume)
		case bars[i].Close.LessThan(bars[i-1].Close):
			out[i] = out[i-1].Sub(bars[i].Volume)
		default:
			out[i] = out[i-1]
		}
	}
	return out
}

// VolumeSMA computes the simple moving average of bar volume.
func VolumeSMA(bars []types.Bar, period int) Series {
	out := make(Series, len(bars))
	sma := utils.NewSMA(period)
	for i, b := range bars {
		out[i] = sma.Add(b.Volume)
	}
	return out
}

// ErrUnknownIndicator is returned by Compute for an unrecognized name.
type ErrUnknownIndicator struct{ Name string }

func (e ErrUnknownIndicator) Error() string {
	return fmt.Sprintf("unknown indicator %q", e.Name)
}
