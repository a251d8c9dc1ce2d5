package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kestrelfutures/fcore/internal/coretypes"
)

// Candle is an OHLC bar used to drive SimBroker fills deterministically.
type Candle struct {
	Symbol    string
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
}

// SimBrokerConfig controls simulated fill behaviour.
type SimBrokerConfig struct {
	SlippageBps    int64 // applied to market-style (aggressive) fills
	FillOnNextOpen bool  // true: fill at next candle's open; false: fill at current close
	AutoAccept     bool  // true: PlaceOrder immediately emits RTN_ACCEPTED
}

// DefaultSimBrokerConfig is a conservative zero-slippage default.
func DefaultSimBrokerConfig() SimBrokerConfig {
	return SimBrokerConfig{SlippageBps: 0, FillOnNextOpen: true, AutoAccept: true}
}

type pendingOrder struct {
	orderRef string
	intent   coretypes.OrderIntent
}

// SimBroker is a deterministic, candle-driven reference Broker
// implementation: orders queue until ProcessCandle resolves them against
// OHLC data. Used by tests and by cmd/coreengine's paper-mode runs — never
// the default for a live broker.
type SimBroker struct {
	cfg SimBrokerConfig

	mu       sync.Mutex
	pending  map[string]pendingOrder
	cancelled map[string]bool
	seq      int64
	callbacks Callbacks
}

// NewSimBroker constructs a SimBroker.
func NewSimBroker(cfg SimBrokerConfig) *SimBroker {
	return &SimBroker{
		cfg:       cfg,
		pending:   make(map[string]pendingOrder),
		cancelled: make(map[string]bool),
	}
}

func (b *SimBroker) RegisterCallbacks(cb Callbacks) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks = cb
}

// PlaceOrder enqueues intent and returns a synchronously-assigned order
// ref. If AutoAccept is set, an RTN_ACCEPTED OrderField callback is
// delivered immediately (still "synchronous" in the sense that no candle
// needs to process for an ack — CTP-like brokers ack near-instantly).
func (b *SimBroker) PlaceOrder(ctx context.Context, intent coretypes.OrderIntent) (string, error) {
	b.mu.Lock()
	b.seq++
	orderRef := fmt.Sprintf("sim-%d", b.seq)
	b.pending[orderRef] = pendingOrder{orderRef: orderRef, intent: intent}
	cb := b.callbacks
	autoAccept := b.cfg.AutoAccept
	b.mu.Unlock()

	if autoAccept && cb != nil {
		cb.OnOrder(OrderField{OrderRef: orderRef, Status: "3"})
	}
	return orderRef, nil
}

// CancelOrder removes orderRef from the pending book and emits RTN_CANCELLED.
func (b *SimBroker) CancelOrder(ctx context.Context, orderRef string) (Ack, error) {
	b.mu.Lock()
	_, stillPending := b.pending[orderRef]
	if stillPending {
		delete(b.pending, orderRef)
		b.cancelled[orderRef] = true
	}
	cb := b.callbacks
	b.mu.Unlock()

	if !stillPending {
		return Ack{Accepted: false}, nil
	}
	if cb != nil {
		cb.OnOrder(OrderField{OrderRef: orderRef, Status: "5"})
	}
	return Ack{Accepted: true}, nil
}

func (b *SimBroker) QueryOrder(ctx context.Context, id string) (OrderSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pending[id]; ok {
		return OrderSnapshot{OrderRef: id, Status: "3"}, nil
	}
	if b.cancelled[id] {
		return OrderSnapshot{OrderRef: id, Status: "5"}, nil
	}
	return OrderSnapshot{OrderRef: id, Status: "4"}, nil
}

func (b *SimBroker) QueryPositions(ctx context.Context) ([]coretypes.Position, error) {
	return nil, nil
}

// ProcessCandle resolves every pending order that crosses c's range,
// delivering TradeField callbacks for each fill. Deterministic: the same
// candle sequence always produces the same fills, with trade IDs derived
// from the order ref and a monotonic counter rather than wall-clock time.
func (b *SimBroker) ProcessCandle(c Candle) []TradeField {
	b.mu.Lock()
	defer b.mu.Unlock()

	var fills []TradeField
	for ref, po := range b.pending {
		if po.intent.Symbol != c.Symbol {
			continue
		}
		price, ok := b.tryFillPrice(po.intent, c)
		if !ok {
			continue
		}
		b.seq++
		tradeID := fmt.Sprintf("trade-%s-%d", ref, b.seq)
		delete(b.pending, ref)

		tf := TradeField{OrderRef: ref, TradeID: tradeID, Price: price, Volume: po.intent.Qty}
		fills = append(fills, tf)
		if b.callbacks != nil {
			b.callbacks.OnTrade(tf)
		}
	}
	return fills
}

// tryFillPrice decides whether intent crosses candle c and at what price,
// applying slippage in the intent's favor-adverse direction.
func (b *SimBroker) tryFillPrice(intent coretypes.OrderIntent, c Candle) (decimal.Decimal, bool) {
	if intent.Price.IsZero() {
		// Market-style: fills at open (or close) with slippage.
		base := c.Close
		if b.cfg.FillOnNextOpen {
			base = c.Open
		}
		return applySlippage(base, intent.Side, b.cfg.SlippageBps), true
	}

	// Limit-style: fills only if the candle's range reaches the limit price.
	if intent.Side == coretypes.Buy {
		if intent.Price.GreaterThanOrEqual(c.Low) {
			return intent.Price, true
		}
		return decimal.Zero, false
	}
	if intent.Price.LessThanOrEqual(c.High) {
		return intent.Price, true
	}
	return decimal.Zero, false
}

func applySlippage(price decimal.Decimal, side coretypes.Side, bps int64) decimal.Decimal {
	if bps == 0 {
		return price
	}
	factor := decimal.NewFromInt(bps).Div(decimal.NewFromInt(10000))
	if side == coretypes.Buy {
		return price.Mul(decimal.NewFromInt(1).Add(factor))
	}
	return price.Mul(decimal.NewFromInt(1).Sub(factor))
}

var _ Broker = (*SimBroker)(nil)
