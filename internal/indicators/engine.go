package indicators

import (
	"github.com/atlas-desktop/trade-executor/pkg/types"
	"github.com/shopspring/decimal"
)

func intParam(params map[string]any, key string, def int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return def
}

func decimalParam(params map[string]any, key string, def decimal.Decimal) decimal.Decimal {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case float64:
			return decimal.NewFromFloat(n)
		case string:
			if d, err := decimal.NewFromString(n); err == nil {
				return d
			}
		}
	}
	return def
}

// Compute dispatches a (name, params) condition reference to the matching
// indicator function and returns its full aligned series. Callers that
// only need the latest value call Series.Last() on the result.
func Compute(name string, bars []types.Bar, params map[string]any) (Series, error) {
	switch name {
	case "sma":
		return SMA(bars, intParam(params, "period", 20)), nil
	case "ema":
		return EMA(bars, intParam(params, "period", 20)), nil
	case "rsi":
		return RSI(bars, intParam(params, "period", 14)), nil
	case "macd":
		r := MACD(bars, intParam(params, "fastPeriod", 12), intParam(params, "slowPeriod", 26), intParam(params, "signalPeriod", 9))
		return seriesForMACDField(r, params), nil
	case "atr":
		return ATR(bars, intParam(params, "period", 14)), nil
	case "bollinger_upper":
		b := Bollinger(bars, intParam(params, "period", 20), decimalParam(params, "stdDev", decimal.NewFromInt(2)))
		return b.Upper, nil
	case "bollinger_middle":
		b := Bollinger(bars, intParam(params, "period", 20), decimalParam(params, "stdDev", decimal.NewFromInt(2)))
		return b.Middle, nil
	case "bollinger_lower":
		b := Bollinger(bars, intParam(params, "period", 20), decimalParam(params, "stdDev", decimal.NewFromInt(2)))
		return b.Lower, nil
	case "stochastic_k":
		s := StochasticOscillator(bars, intParam(params, "kPeriod", 14), intParam(params, "slowing", 3), intParam(params, "dPeriod", 3))
		return s.K, nil
	case "stochastic_d":
		s := StochasticOscillator(bars, intParam(params, "kPeriod", 14), intParam(params, "slowing", 3), intParam(params, "dPeriod", 3))
		return s.D, nil
	case "adx":
		d := ADX(bars, intParam(params, "period", 14))
		return d.ADX, nil
	case "plus_di":
		d := ADX(bars, intParam(params, "period", 14))
		return d.PlusDI, nil
	case "minus_di":
		d := ADX(bars, intParam(params, "period", 14))
		return d.MinusDI, nil
	case "cci":
		return CCI(bars, intParam(params, "period", 20)), nil
	case "williams_r":
		return WilliamsR(bars, intParam(params, "period", 14)), nil
	case "vwap":
		return VWAP(bars), nil
	case "ichimoku_tenkan":
		ic := IchimokuCloud(bars, intParam(params, "tenkanPeriod", 9), intParam(params, "kijunPeriod", 26), intParam(params, "senkouBPeriod", 52))
		return ic.Tenkan, nil
	case "ichimoku_kijun":
		ic := IchimokuCloud(bars, intParam(params, "tenkanPeriod", 9), intParam(params, "kijunPeriod", 26), intParam(params, "senkouBPeriod", 52))
		return ic.Kijun, nil
	case "ichimoku_senkou_a":
		ic := IchimokuCloud(bars, intParam(params, "tenkanPeriod", 9), intParam(params, "kijunPeriod", 26), intParam(params, "senkouBPeriod", 52))
		return ic.SenkouA, nil
	case "ichimoku_senkou_b":
		ic := IchimokuCloud(bars, intParam(params, "tenkanPeriod", 9), intParam(params, "kijunPeriod", 26), intParam(params, "senkouBPeriod", 52))
		return ic.SenkouB, nil
	case "ichimoku_chikou":
		ic := IchimokuCloud(bars, intParam(params, "tenkanPeriod", 9), intParam(params, "kijunPeriod", 26), intParam(params, "senkouBPeriod", 52))
		return ic.Chikou, nil
	case "obv":
		return OBV(bars), nil
	case "volume_sma":
		return VolumeSMA(bars, intParam(params, "period", 20)), nil
	case "close":
		return Series(closes(bars)), nil
	default:
		return nil, ErrUnknownIndicator{Name: name}
	}
}

func seriesForMACDField(r MACDResult, params map[string]any) Series {
	field, _ := params["field"].(string)
	switch field {
	case "signal":
		return r.Signal
	case "histogram":
		return r.Histogram
	default:
		return r.MACD
	}
}
