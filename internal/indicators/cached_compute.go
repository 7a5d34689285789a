package indicators

import "github.com/atlas-desktop/trade-executor/pkg/types"

// CachedEngine computes indicator series through Cache, so repeated
// requests for the same (symbol, timeframe, indicator, params, bar-count)
// within the TTL window reuse the prior computation.
type CachedEngine struct {
	cache *Cache
}

// NewCachedEngine wraps an existing cache. Construct the cache once per
// process (spec: 1000-entry capacity, 5-minute TTL) and share it across
// every evaluation tick.
func NewCachedEngine(cache *Cache) *CachedEngine {
	return &CachedEngine{cache: cache}
}

// Compute returns the named indicator's series for bars, consulting the
// cache first and populating it on a miss.
func (e *CachedEngine) Compute(symbol, timeframe, name string, bars []types.Bar, params map[string]any) (Series, error) {
	key := CacheKey{
		Symbol:    symbol,
		Timeframe: timeframe,
		Indicator: name,
		ParamsKey: CanonicalParamsKey(params),
		BarCount:  len(bars),
	}

	if cached, ok := e.cache.Get(key); ok {
		return cached, nil
	}

	series, err := Compute(name, bars, params)
	if err != nil {
		return nil, err
	}
	e.cache.Put(key, series)
	return series, nil
}

// Stats returns the backing cache's hit/miss counters.
func (e *CachedEngine) Stats() CacheStats { return e.cache.Stats() }
