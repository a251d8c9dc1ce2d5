// Package instrument implements InstrumentCache: contract metadata loaded
// once at startup from a JSON bundle, published read-only to the rest of
// the core. Follows core.SymbolManager — same
// RWMutex-guarded map shape, generalized from a Market to the full
// Instrument schema.
package instrument

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kestrelfutures/fcore/internal/coretypes"
)

// Cache is a read-mostly, read-heavy map of symbol -> Instrument. Writers
// only run during Load (startup) or Put (single-symbol patch); everything
// else is concurrent reads.
type Cache struct {
	mu          sync.RWMutex
	instruments map[string]coretypes.Instrument
}

// New returns an empty cache; call Load before using it in production.
func New() *Cache {
	return &Cache{instruments: make(map[string]coretypes.Instrument)}
}

// Load reads a JSON bundle (keyed by symbol) from path and replaces the
// cache's contents atomically under the write lock. The bundle itself is
// expected to have been written tmp+rename by its out-of-scope producer;
// Load just needs to survive reading a complete file.
func (c *Cache) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("instrument: read bundle %s: %w", path, err)
	}

	var bundle map[string]coretypes.Instrument
	if err := json.Unmarshal(data, &bundle); err != nil {
		return fmt.Errorf("instrument: parse bundle %s: %w", path, err)
	}

	c.mu.Lock()
	c.instruments = bundle
	c.mu.Unlock()
	return nil
}

// Persist writes the cache's current contents to path using the same
// tmp+rename discipline the rest of this core uses for durable state, so
// that a crash mid-write never leaves readers with a torn file.
func (c *Cache) Persist(path string) error {
	c.mu.RLock()
	data, err := json.Marshal(c.instruments)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("instrument: marshal bundle: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("instrument: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("instrument: rename %s -> %s: %w", tmp, path, err)
	}
	return nil
}

// ErrUnknownSymbol is returned by Get when symbol is not in the bundle.
// This is a reported error, never a panic: cmd/coreengine's intent loop
// drops intents for unknown symbols rather than crashing. The AOE itself
// does no instrument lookup and accepts any symbol it is given.
var ErrUnknownSymbol = fmt.Errorf("instrument: unknown symbol")

// Get returns the Instrument for symbol, or ErrUnknownSymbol.
func (c *Cache) Get(symbol string) (coretypes.Instrument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	inst, ok := c.instruments[symbol]
	if !ok {
		return coretypes.Instrument{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return inst, nil
}

// ProductsOf returns every symbol belonging to the given exchange.
func (c *Cache) ProductsOf(exchange string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []string
	for sym, inst := range c.instruments {
		if inst.Exchange == exchange {
			out = append(out, sym)
		}
	}
	return out
}

// Put inserts or replaces one instrument without a full bundle reload.
// Used by tests.
func (c *Cache) Put(inst coretypes.Instrument) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instruments[inst.Symbol] = inst
}

// Count returns the number of loaded instruments.
func (c *Cache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.instruments)
}

// BundleDir is a small helper so callers loading/persisting instrument
// bundles alongside other daily artifacts can share one directory layout.
func BundleDir(base, day string) string {
	return filepath.Join(base, day)
}
