package indicators

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(2, time.Minute)

	c.Put(CacheKey{Symbol: "A", Indicator: "rsi"}, Series{decimal.NewFromInt(1)})
	c.Put(CacheKey{Symbol: "B", Indicator: "rsi"}, Series{decimal.NewFromInt(2)})

	// Touch A so B becomes the least-recently-used entry.
	_, _ = c.Get(CacheKey{Symbol: "A", Indicator: "rsi"})

	c.Put(CacheKey{Symbol: "C", Indicator: "rsi"}, Series{decimal.NewFromInt(3)})

	if _, ok := c.Get(CacheKey{Symbol: "B", Indicator: "rsi"}); ok {
		t.Fatal("expected B to be evicted as least-recently-used")
	}
	if _, ok := c.Get(CacheKey{Symbol: "A", Indicator: "rsi"}); !ok {
		t.Fatal("expected A to still be cached")
	}
	if _, ok := c.Get(CacheKey{Symbol: "C", Indicator: "rsi"}); !ok {
		t.Fatal("expected C to be cached")
	}
	assert.LessOrEqual(t, c.Len(), 2)
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	c := NewCache(10, 10*time.Millisecond)
	key := CacheKey{Symbol: "EURUSD", Indicator: "rsi"}
	c.Put(key, Series{decimal.NewFromInt(50)})

	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get(key); ok {
		t.Fatal("expected entry to have expired")
	}
}

func TestCacheInvalidateSubstring(t *testing.T) {
	c := NewCache(10, time.Minute)
	c.Put(CacheKey{Symbol: "EURUSD", Timeframe: "H1", Indicator: "rsi"}, Series{decimal.NewFromInt(1)})
	c.Put(CacheKey{Symbol: "GBPUSD", Timeframe: "H1", Indicator: "rsi"}, Series{decimal.NewFromInt(2)})

	c.InvalidateSubstring("EUR")

	if _, ok := c.Get(CacheKey{Symbol: "EURUSD", Timeframe: "H1", Indicator: "rsi"}); ok {
		t.Fatal("expected EURUSD entry to be invalidated")
	}
	if _, ok := c.Get(CacheKey{Symbol: "GBPUSD", Timeframe: "H1", Indicator: "rsi"}); !ok {
		t.Fatal("expected GBPUSD entry to remain cached")
	}
}
