// Package quote implements QuoteCache: an in-memory, last-write-wins map of
// symbol -> Quote, with soft/hard staleness queries. Grounded on the same
// RWMutex-map shape as internal/instrument (itself grounded on
// core.SymbolManager); QuoteCache is the mutable, high-churn counterpart.
package quote

import (
	"sync"
	"time"

	"github.com/kestrelfutures/fcore/internal/coretypes"
)

const (
	// DefaultSoftStaleMs and DefaultHardStaleMs are this package's stated
	// defaults; internal/config overrides these per deployment.
	DefaultSoftStaleMs = 3000
	DefaultHardStaleMs = 10000
)

// Cache holds the last-known top-of-book per symbol.
type Cache struct {
	mu     sync.RWMutex
	quotes map[string]coretypes.Quote
}

// New returns an empty QuoteCache.
func New() *Cache {
	return &Cache{quotes: make(map[string]coretypes.Quote)}
}

// Update replaces the quote for q.Symbol wholesale — no partial merge, no
// ordering enforced on Ts.
func (c *Cache) Update(q coretypes.Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[q.Symbol] = q
}

// Get returns the last-known quote for symbol and whether one exists.
func (c *Cache) Get(symbol string) (coretypes.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[symbol]
	return q, ok
}

// IsSoftStale reports whether now-q.Ts exceeds thresholdMs, or true if no
// quote is known at all (an absent quote is maximally stale). Soft
// staleness rejects new opens via the Liquidity gate.
func (c *Cache) IsSoftStale(symbol string, now time.Time, thresholdMs int64) bool {
	q, ok := c.Get(symbol)
	if !ok {
		return true
	}
	return now.Sub(q.Ts).Milliseconds() > thresholdMs
}

// IsHardStale reports whether now-q.Ts exceeds hardMs. Hard staleness on a
// held symbol forces Guardian into REDUCE_ONLY.
func (c *Cache) IsHardStale(symbol string, now time.Time, hardMs int64) bool {
	q, ok := c.Get(symbol)
	if !ok {
		return true
	}
	return now.Sub(q.Ts).Milliseconds() > hardMs
}

// Symbols returns every symbol this cache currently holds a quote for.
func (c *Cache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.quotes))
	for s := range c.quotes {
		out = append(out, s)
	}
	return out
}
