// Package position implements PositionTracker: the authoritative local
// position, trade-driven with periodic broker reconciliation. Follows
// execution.Executor.updatePosition and execution.Reconciler.RecoverPositions,
// generalized from single-sided Polymarket share positions to long/short
// futures lots with a today/yesterday split for close-today fee
// differentiation.
package position

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kestrelfutures/fcore/internal/coretypes"
)

// Trade is one unique broker fill callback applied to the tracker.
type Trade struct {
	Symbol  string
	Side    coretypes.Side
	Offset  coretypes.Offset
	Qty     int64
	Price   decimal.Decimal
	TradeID string
}

// Drift is returned by Reconcile whenever the local and broker-reported
// positions disagree; Tolerated is true when neither the long nor the
// short quantity differs by more than one unit.
type Drift struct {
	Symbol       string
	LocalLong    int64
	BrokerLong   int64
	LocalShort   int64
	BrokerShort  int64
	Tolerated    bool
}

// Store persists position snapshots so a restart reconciles against
// last-known state rather than a blank slate. Implemented by
// internal/storage; kept as an interface here so position has no database
// driver dependency of its own.
type Store interface {
	SavePosition(p coretypes.Position) error
	LoadPositions() ([]coretypes.Position, error)
}

// Tracker is the single authoritative owner of every symbol's Position. It
// must only be mutated from the event-loop goroutine; reads go through
// Snapshot, which copies under a read lock.
type Tracker struct {
	mu        sync.RWMutex
	positions map[string]*coretypes.Position
	processed map[string]struct{} // trade IDs already applied, global dedupe
	store     Store
}

// New returns an empty Tracker. store may be nil to disable persistence.
func New(store Store) *Tracker {
	return &Tracker{
		positions: make(map[string]*coretypes.Position),
		processed: make(map[string]struct{}),
		store:     store,
	}
}

// LoadFromStore restores positions from the configured Store, used at
// startup before reconciliation against the broker runs.
func (t *Tracker) LoadFromStore() error {
	if t.store == nil {
		return nil
	}
	saved, err := t.store.LoadPositions()
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range saved {
		p := saved[i]
		t.positions[p.Symbol] = &p
	}
	return nil
}

func (t *Tracker) getOrCreateLocked(symbol string) *coretypes.Position {
	p, ok := t.positions[symbol]
	if !ok {
		p = &coretypes.Position{Symbol: symbol}
		t.positions[symbol] = p
	}
	return p
}

// ApplyTrade is the primary (trade-driven) update path. Duplicate TradeIDs
// are ignored, so that for every broker Trade callback either the
// trade_id was already processed, or the position changes by exactly
// ±volume — never both, never neither.
func (t *Tracker) ApplyTrade(tr Trade) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, seen := t.processed[tr.TradeID]; seen {
		return nil
	}
	t.processed[tr.TradeID] = struct{}{}

	p := t.getOrCreateLocked(tr.Symbol)

	switch {
	case tr.Side == coretypes.Buy && tr.Offset == coretypes.Open:
		p.LongAvgPrice = weightedAvg(p.LongAvgPrice, p.LongQty, tr.Price, tr.Qty)
		p.LongQty += tr.Qty
		p.LongTodayQty += tr.Qty

	case tr.Side == coretypes.Sell && tr.Offset == coretypes.Open:
		p.ShortAvgPrice = weightedAvg(p.ShortAvgPrice, p.ShortQty, tr.Price, tr.Qty)
		p.ShortQty += tr.Qty
		p.ShortTodayQty += tr.Qty

	case tr.Side == coretypes.Sell: // CLOSE or CLOSE_TODAY of a long
		closeFIFO(&p.LongQty, &p.LongTodayQty, tr.Qty)
		p.RealisedPnL = p.RealisedPnL.Add(tr.Price.Sub(p.LongAvgPrice).Mul(decimal.NewFromInt(tr.Qty)))

	case tr.Side == coretypes.Buy: // CLOSE or CLOSE_TODAY of a short
		closeFIFO(&p.ShortQty, &p.ShortTodayQty, tr.Qty)
		p.RealisedPnL = p.RealisedPnL.Add(p.ShortAvgPrice.Sub(tr.Price).Mul(decimal.NewFromInt(tr.Qty)))
	}

	if t.store != nil {
		_ = t.store.SavePosition(*p)
	}
	return nil
}

// closeFIFO pops from today's lots first, then yesterday's. This governs
// the accounting order regardless of the CLOSE vs CLOSE_TODAY label on the
// intent — that label instead selects which fee rate applies.
func closeFIFO(totalQty, todayQty *int64, qty int64) {
	fromToday := qty
	if fromToday > *todayQty {
		fromToday = *todayQty
	}
	*todayQty -= fromToday
	*totalQty -= qty
	if *totalQty < 0 {
		*totalQty = 0
	}
	if *todayQty < 0 {
		*todayQty = 0
	}
}

func weightedAvg(avg decimal.Decimal, qty int64, price decimal.Decimal, addQty int64) decimal.Decimal {
	if qty+addQty == 0 {
		return decimal.Zero
	}
	total := avg.Mul(decimal.NewFromInt(qty)).Add(price.Mul(decimal.NewFromInt(addQty)))
	return total.Div(decimal.NewFromInt(qty + addQty))
}

// Get returns a copy of the Position for symbol (zero value if unknown).
func (t *Tracker) Get(symbol string) coretypes.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.positions[symbol]; ok {
		return *p
	}
	return coretypes.Position{Symbol: symbol}
}

// Snapshot returns a consistent, independent copy of every tracked
// position.
func (t *Tracker) Snapshot() map[string]coretypes.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]coretypes.Position, len(t.positions))
	for sym, p := range t.positions {
		out[sym] = *p
	}
	return out
}

// Reconcile compares the local position to a broker-reported snapshot and
// returns nil when they agree. Any disagreement comes back as a Drift,
// marked Tolerated when it is at most one unit, so Guardian can escalate
// the larger ones to HALTED. Each call is judged on its own: a one-unit
// drift that persists across calls is still marked Tolerated.
func (t *Tracker) Reconcile(symbol string, broker coretypes.Position, now time.Time) *Drift {
	t.mu.Lock()
	defer t.mu.Unlock()

	local := t.getOrCreateLocked(symbol)
	longDiff := abs64(local.LongQty - broker.LongQty)
	shortDiff := abs64(local.ShortQty - broker.ShortQty)

	local.LastReconcileTs = now

	if longDiff == 0 && shortDiff == 0 {
		return nil
	}

	tolerated := longDiff <= 1 && shortDiff <= 1
	return &Drift{
		Symbol:      symbol,
		LocalLong:   local.LongQty,
		BrokerLong:  broker.LongQty,
		LocalShort:  local.ShortQty,
		BrokerShort: broker.ShortQty,
		Tolerated:   tolerated,
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
