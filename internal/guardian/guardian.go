// Package guardian implements the system-level supervisor FSM: five modes
// (INIT, RUNNING, REDUCE_ONLY, HALTED, MANUAL) driven by anomaly
// detectors (quote staleness, stuck orders, position drift, leg
// imbalance, margin usage) plus manual override. Follows risk.Manager and
// risk.CircuitBreaker's tripped/cooldown shape and zerolog logging idiom,
// generalized from a single win/loss circuit breaker to a richer,
// multi-signal mode machine with an explicit REDUCE_ONLY degrade step
// between RUNNING and HALTED.
package guardian

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/kestrelfutures/fcore/internal/audit"
	"github.com/kestrelfutures/fcore/internal/coretypes"
)

// Notifier delivers Guardian alerts to an external channel. Defined here
// and implemented by internal/notify so guardian never imports a concrete
// transport — the same cycle-breaking shape risk/adapter.go uses for
// strategy.TradeApprover.
type Notifier interface {
	Alert(ctx context.Context, level, message string) error
}

// Config bundles the thresholds Guardian decides against.
type Config struct {
	ReduceOnlyCooldown time.Duration
	MarginWarningLevel decimal.Decimal
	MarginDangerLevel  decimal.Decimal
}

// Inputs is one tick's worth of observations. The process that owns
// QuoteCache/PositionTracker/AOE computes these and feeds them in —
// Guardian itself holds no subsystem reference, only the signals it needs
// to decide mode, so it never needs to import quote/position/osm.
type Inputs struct {
	Now time.Time

	StaleSymbols   []string // symbols whose held quote is hard-stale
	StuckOrders    []string // local_ids whose last update exceeds the stuck-order timeout
	PositionDrifts []string // symbols with an untolerated position drift
	LegImbalanced  bool
	MarginLevel    decimal.Decimal // current margin usage as a fraction of equity
}

// Guardian is the single authoritative owner of the system's trading mode.
type Guardian struct {
	mu sync.RWMutex

	mode       coretypes.GuardianState
	modeReason string
	modeSetAt  time.Time

	cfg      Config
	notifier Notifier
	auditLog *audit.Writer
	runID    string
}

// New builds a Guardian starting in INIT. notifier and auditLog may be nil
// (alerts and audit records are then simply skipped).
func New(cfg Config, notifier Notifier, auditLog *audit.Writer, runID string, now time.Time) *Guardian {
	return &Guardian{
		mode:      coretypes.Init,
		cfg:       cfg,
		notifier:  notifier,
		auditLog:  auditLog,
		runID:     runID,
		modeSetAt: now,
	}
}

// Mode returns the current mode.
func (g *Guardian) Mode() coretypes.GuardianState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mode
}

// Start transitions INIT -> RUNNING once startup (instrument load, quote
// warm-up, position reconciliation) has completed successfully.
func (g *Guardian) Start(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mode != coretypes.Init {
		return
	}
	g.setModeLocked(coretypes.Running, "startup complete", now)
}

// SetMode is a manual override (operator action, MANUAL mode). It bypasses
// cooldown — an operator putting the system into MANUAL or back to RUNNING
// is an explicit decision, not something Tick's hysteresis should resist.
func (g *Guardian) SetMode(mode coretypes.GuardianState, reason string, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.setModeLocked(mode, reason, now)
}

// Tick runs every detector against in and may degrade (never silently
// upgrade past the cooldown) the current mode. A MANUAL override is held
// until an operator calls SetMode again; Tick does not touch it.
func (g *Guardian) Tick(ctx context.Context, in Inputs) {
	g.mu.Lock()
	mode := g.mode
	g.mu.Unlock()

	if mode == coretypes.Manual || mode == coretypes.Halted {
		return // HALTED and MANUAL are sticky until an explicit SetMode
	}

	if len(in.PositionDrifts) > 0 {
		g.escalate(ctx, coretypes.Halted, "untolerated position drift: "+joinN(in.PositionDrifts, 5), in.Now)
		return
	}
	if !g.cfg.MarginDangerLevel.IsZero() && in.MarginLevel.GreaterThan(g.cfg.MarginDangerLevel) {
		g.escalate(ctx, coretypes.Halted, "margin usage above danger level", in.Now)
		return
	}

	degradeReasons := make([]string, 0, 4)
	if len(in.StaleSymbols) > 0 {
		degradeReasons = append(degradeReasons, "stale quotes: "+joinN(in.StaleSymbols, 5))
	}
	if len(in.StuckOrders) > 0 {
		degradeReasons = append(degradeReasons, "stuck orders: "+joinN(in.StuckOrders, 5))
	}
	if in.LegImbalanced {
		degradeReasons = append(degradeReasons, "pair leg imbalance")
	}
	if !g.cfg.MarginWarningLevel.IsZero() && in.MarginLevel.GreaterThan(g.cfg.MarginWarningLevel) {
		degradeReasons = append(degradeReasons, "margin usage above warning level")
	}

	if len(degradeReasons) > 0 {
		g.escalate(ctx, coretypes.ReduceOnly, degradeReasons[0], in.Now)
		return
	}

	g.tryRecover(ctx, in.Now)
}

// escalate moves to a more restrictive mode. Never moves to a LESS
// restrictive mode than the current one — use tryRecover for that.
func (g *Guardian) escalate(ctx context.Context, target coretypes.GuardianState, reason string, now time.Time) {
	g.mu.Lock()
	current := g.mode
	if rank(target) <= rank(current) {
		g.mu.Unlock()
		return
	}
	g.setModeLocked(target, reason, now)
	g.mu.Unlock()

	if g.notifier != nil {
		level := "warning"
		if target == coretypes.Halted {
			level = "critical"
		}
		_ = g.notifier.Alert(ctx, level, "guardian -> "+target.String()+": "+reason)
	}
}

// tryRecover moves REDUCE_ONLY back to RUNNING once every detector is
// clear AND the cooldown since the last degrade has elapsed — this
// hysteresis stops a flapping quote feed from bouncing the mode every tick.
func (g *Guardian) tryRecover(ctx context.Context, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mode != coretypes.ReduceOnly {
		return
	}
	if now.Sub(g.modeSetAt) < g.cfg.ReduceOnlyCooldown {
		return
	}
	g.setModeLocked(coretypes.Running, "cooldown elapsed, detectors clear", now)
	if g.notifier != nil {
		_ = g.notifier.Alert(ctx, "info", "guardian -> RUNNING: cooldown elapsed")
	}
}

func (g *Guardian) setModeLocked(mode coretypes.GuardianState, reason string, now time.Time) {
	prev := g.mode
	g.mode = mode
	g.modeReason = reason
	g.modeSetAt = now

	log.Info().
		Str("from", prev.String()).
		Str("to", mode.String()).
		Str("reason", reason).
		Msg("guardian mode change")

	if g.auditLog != nil {
		_ = g.auditLog.Append(coretypes.AuditEvent{
			Ts:        float64(now.UnixNano()) / 1e9,
			EventType: "guardian_mode_change",
			RunID:     g.runID,
			Fields: map[string]interface{}{
				"from":   prev.String(),
				"to":     mode.String(),
				"reason": reason,
			},
		})
	}
}

// rank orders modes by restrictiveness for escalate's monotonicity check.
func rank(s coretypes.GuardianState) int {
	switch s {
	case coretypes.Init:
		return 0
	case coretypes.Running:
		return 1
	case coretypes.ReduceOnly:
		return 2
	case coretypes.Halted, coretypes.Manual:
		return 3
	default:
		return 0
	}
}

func joinN(items []string, n int) string {
	if len(items) <= n {
		return join(items)
	}
	return join(items[:n]) + ", ..."
}

func join(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}

// FlattenPlan builds an ordered unwind of every nonzero position,
// most-aggressive leg first: CLOSE_TODAY ahead of CLOSE (today's lots
// carry no overnight margin benefit worth preserving under stress), ties
// broken by larger notional first (the leg contributing the most risk
// leaves the book soonest).
func FlattenPlan(positions map[string]coretypes.Position, instruments map[string]coretypes.Instrument, quotes map[string]coretypes.Quote) coretypes.FlattenPlan {
	var legs []coretypes.OrderIntent
	for symbol, pos := range positions {
		inst := instruments[symbol]
		q := quotes[symbol]

		if pos.LongTodayQty > 0 {
			legs = append(legs, closeIntent(symbol, coretypes.Sell, coretypes.CloseToday, pos.LongTodayQty, q))
		}
		if pos.LongQty-pos.LongTodayQty > 0 {
			legs = append(legs, closeIntent(symbol, coretypes.Sell, coretypes.Close, pos.LongQty-pos.LongTodayQty, q))
		}
		if pos.ShortTodayQty > 0 {
			legs = append(legs, closeIntent(symbol, coretypes.Buy, coretypes.CloseToday, pos.ShortTodayQty, q))
		}
		if pos.ShortQty-pos.ShortTodayQty > 0 {
			legs = append(legs, closeIntent(symbol, coretypes.Buy, coretypes.Close, pos.ShortQty-pos.ShortTodayQty, q))
		}
		_ = inst // reserved for a future tick-rounding pass on the flatten price
	}

	sort.SliceStable(legs, func(i, j int) bool {
		if legs[i].Offset != legs[j].Offset {
			return legs[i].Offset == coretypes.CloseToday
		}
		ni := legs[i].Price.Mul(decimal.NewFromInt(legs[i].Qty))
		nj := legs[j].Price.Mul(decimal.NewFromInt(legs[j].Qty))
		return ni.GreaterThan(nj)
	})

	return coretypes.FlattenPlan{Legs: legs}
}

func closeIntent(symbol string, side coretypes.Side, offset coretypes.Offset, qty int64, q coretypes.Quote) coretypes.OrderIntent {
	price := q.Last
	if side == coretypes.Sell && !q.Bid.IsZero() {
		price = q.Bid
	} else if side == coretypes.Buy && !q.Ask.IsZero() {
		price = q.Ask
	}
	return coretypes.OrderIntent{
		Symbol: symbol,
		Side:   side,
		Offset: offset,
		Price:  price,
		Qty:    qty,
		Reason: "guardian_flatten",
	}
}
