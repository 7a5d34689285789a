package strategy

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/atlas-desktop/trade-executor/pkg/types"
	"github.com/shopspring/decimal"
)

// NewsCheck reports whether high-impact news is scheduled for symbol
// within the configured window. Mirrors internal/risk.NewsCheck's shape;
// kept as its own type so the strategy package has no dependency on risk.
type NewsCheck func(symbol string, now time.Time) bool

// NoScheduledNews is the default NewsCheck: always passes.
func NoScheduledNews(string, time.Time) bool { return false }

// FilterContext carries the per-tick facts filters gate on.
type FilterContext struct {
	Symbol string
	Now    time.Time

	// Spread, in price units (ask - bid); zero if unknown.
	Spread decimal.Decimal

	ATR14 decimal.Decimal // zero if unavailable; volatility filter passes when zero

	News NewsCheck
}

// pointSize returns the minimum price increment for symbol. JPY crosses
// quote 3 decimal digits (point = 0.001); everything else here quotes 5
// (point = 0.00001), so pip = 10*point per the glossary.
func pointSize(symbol string) decimal.Decimal {
	if strings.Contains(strings.ToUpper(symbol), "JPY") {
		return decimal.NewFromFloat(0.001)
	}
	return decimal.NewFromFloat(0.00001)
}

// sessionFor returns the trading session now falls in, by UTC hour,
// resolved in ASIAN -> LONDON -> NEWYORK priority order on overlaps.
func sessionFor(now time.Time) types.Session {
	hour := now.UTC().Hour()
	switch {
	case hour >= 0 && hour < 9:
		return types.SessionAsian
	case hour >= 8 && hour < 17:
		return types.SessionLondon
	default:
		return types.SessionNewYork
	}
}

// EvaluateFilters runs every filter in order; the first failure short-
// circuits evaluation to WAIT with its reason (spec §4.2 step 4).
func EvaluateFilters(filters []types.Filter, ctx FilterContext) (bool, string, error) {
	for _, f := range filters {
		ok, reason, err := evaluateFilter(f, ctx)
		if err != nil {
			return false, "", err
		}
		if !ok {
			return false, reason, nil
		}
	}
	return true, "", nil
}

func evaluateFilter(f types.Filter, ctx FilterContext) (bool, string, error) {
	switch f.Kind {
	case types.FilterTime:
		return evaluateTimeFilter(f, ctx.Now)
	case types.FilterSession:
		session := sessionFor(ctx.Now)
		for _, allowed := range f.AllowedSessions {
			if allowed == session {
				return true, "", nil
			}
		}
		return false, fmt.Sprintf("current session %s is not in the allowed set", session), nil
	case types.FilterSpread:
		point := pointSize(ctx.Symbol)
		spreadPips := ctx.Spread.Div(point).Div(decimal.NewFromInt(10))
		if spreadPips.GreaterThan(f.MaxSpreadPips) {
			return false, fmt.Sprintf("spread %s pips exceeds max %s", spreadPips, f.MaxSpreadPips), nil
		}
		return true, "", nil
	case types.FilterVolatility:
		if ctx.ATR14.IsZero() {
			return true, "", nil // missing data passes
		}
		if f.MinATR != nil && ctx.ATR14.LessThan(*f.MinATR) {
			return false, fmt.Sprintf("ATR %s below configured minimum %s", ctx.ATR14, f.MinATR), nil
		}
		if f.MaxATR != nil && ctx.ATR14.GreaterThan(*f.MaxATR) {
			return false, fmt.Sprintf("ATR %s above configured maximum %s", ctx.ATR14, f.MaxATR), nil
		}
		return true, "", nil
	case types.FilterDayOfWeek:
		weekday := ctx.Now.UTC().Weekday()
		for _, allowed := range f.AllowedWeekdays {
			if allowed == weekday {
				return true, "", nil
			}
		}
		return false, fmt.Sprintf("weekday %s is not in the allowed set", weekday), nil
	case types.FilterNews:
		check := ctx.News
		if check == nil {
			check = NoScheduledNews
		}
		if check(ctx.Symbol, ctx.Now) {
			return false, "high-impact news scheduled within the configured window", nil
		}
		return true, "", nil
	default:
		return false, "", fmt.Errorf("strategy: unknown filter kind %q", f.Kind)
	}
}

// evaluateTimeFilter supports overnight wraps (e.g. start=22:00, end=06:00).
func evaluateTimeFilter(f types.Filter, now time.Time) (bool, string, error) {
	start, err := parseHHMM(f.Start)
	if err != nil {
		return false, "", fmt.Errorf("strategy: time filter start: %w", err)
	}
	end, err := parseHHMM(f.End)
	if err != nil {
		return false, "", fmt.Errorf("strategy: time filter end: %w", err)
	}
	current := now.UTC().Hour()*60 + now.UTC().Minute()

	var within bool
	if start <= end {
		within = current >= start && current <= end
	} else {
		// Overnight wrap: e.g. [22:00, 06:00] means >=start OR <=end.
		within = current >= start || current <= end
	}
	if !within {
		return false, fmt.Sprintf("current time is outside the configured window [%s,%s]", f.Start, f.End), nil
	}
	return true, "", nil
}

func parseHHMM(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	return h*60 + m, nil
}
