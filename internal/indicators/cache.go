package indicators

import (
	"container/list"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// CacheKey is the canonical (symbol, timeframe, indicator, params,
// bar-count) cache key described in spec §4.2.2.
type CacheKey struct {
	Symbol    string
	Timeframe string
	Indicator string
	ParamsKey string
	BarCount  int
}

func canonicalParams(params map[string]any) string {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%v", params)
	}
	return string(raw)
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%s|%d", k.Symbol, k.Timeframe, k.Indicator, k.ParamsKey, k.BarCount)
}

type cacheEntry struct {
	key        CacheKey
	value      Series
	expiresAt  time.Time
	lastAccess time.Time
	elem       *list.Element
}

// CacheStats tracks hit/miss counters for observability (spec §4.2.2
// "hits and misses counted").
type CacheStats struct {
	Hits   int64
	Misses int64
}

// Cache is the LRU+TTL indicator value cache. Evicts the least-recently
// accessed entry once capacity is exceeded; entries also expire after ttl
// regardless of access pattern.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*cacheEntry
	order    *list.List // front = most recently used
	stats    CacheStats
}

// NewCache builds a cache with the given capacity and TTL. Spec defaults:
// 1000 entries, 5-minute TTL.
func NewCache(capacity int, ttl time.Duration) *Cache {
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*cacheEntry),
		order:    list.New(),
	}
}

// Get returns the cached series for key if present and unexpired.
func (c *Cache) Get(key CacheKey) (Series, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key.String()
	entry, ok := c.entries[k]
	if !ok || time.Now().After(entry.expiresAt) {
		if ok {
			c.removeLocked(entry)
		}
		c.stats.Misses++
		return nil, false
	}

	entry.lastAccess = time.Now()
	c.order.MoveToFront(entry.elem)
	c.stats.Hits++
	return entry.value, true
}

// Put stores value under key, evicting the least-recently-used entry if
// the cache is at capacity.
func (c *Cache) Put(key CacheKey, value Series) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key.String()
	if existing, ok := c.entries[k]; ok {
		c.removeLocked(existing)
	}

	entry := &cacheEntry{
		key:        key,
		value:      value,
		expiresAt:  time.Now().Add(c.ttl),
		lastAccess: time.Now(),
	}
	entry.elem = c.order.PushFront(entry)
	c.entries[k] = entry

	for len(c.entries) > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*cacheEntry))
	}
}

func (c *Cache) removeLocked(entry *cacheEntry) {
	delete(c.entries, entry.key.String())
	c.order.Remove(entry.elem)
}

// InvalidateBarCount discards the entry for (symbol,timeframe,indicator,
// params) whenever the bar count changes underneath it, per spec §4.2.2
// "when bar-count changes ... the entry is discarded".
func (c *Cache) InvalidateBarCount(symbol, timeframe, indicatorName, paramsKey string, newBarCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, entry := range c.entries {
		if entry.key.Symbol == symbol && entry.key.Timeframe == timeframe &&
			entry.key.Indicator == indicatorName && entry.key.ParamsKey == paramsKey &&
			entry.key.BarCount != newBarCount {
			delete(c.entries, k)
			c.order.Remove(entry.elem)
		}
	}
}

// InvalidateSubstring discards every entry whose symbol or timeframe
// contains substr, per spec §4.2.2 "callers may invalidate by symbol or
// timeframe substring".
func (c *Cache) InvalidateSubstring(substr string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, entry := range c.entries {
		if strings.Contains(entry.key.Symbol, substr) || strings.Contains(entry.key.Timeframe, substr) {
			delete(c.entries, k)
			c.order.Remove(entry.elem)
		}
	}
}

// Stats returns a snapshot of the hit/miss counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// CanonicalParamsKey exposes canonicalParams for callers building a
// CacheKey outside this package (the condition evaluator).
func CanonicalParamsKey(params map[string]any) string {
	return canonicalParams(params)
}
