// Package osm implements the per-order finite-state machine: 14 states, a
// fixed transition table, strict vs tolerant unknown-transition handling,
// and a timeout min-heap. Follows execution.Executor's OrderState
// enum/shape (generalized from a simpler Polymarket lifecycle to the full
// CTP-style table) and other_examples' state_control_example.go for
// explicit transition-method style.
package osm

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kestrelfutures/fcore/internal/coretypes"
)

// TradeData carries one unique broker fill.
type TradeData struct {
	TradeID string
	Price   decimal.Decimal
	Volume  int64
}

// ErrUnknownTransition is returned in strict mode when (state, event) has
// no defined transition; tolerant mode logs-and-no-ops instead. Production
// runs tolerant; tests exercise strict.
var ErrUnknownTransition = fmt.Errorf("osm: unknown transition")

// Machine is the stateless transition function; OrderContext is the unit
// of state it mutates, owned and stored by the AutoOrderEngine.
type Machine struct {
	Strict bool
}

// New builds a Machine in the given mode.
func New(strict bool) *Machine {
	return &Machine{Strict: strict}
}

// table holds every defined (state, event) -> state transition; everything
// else is an error (strict) or no-op (tolerant).
var table = map[coretypes.OrderState]map[coretypes.OrderEvent]coretypes.OrderState{
	coretypes.Created: {
		coretypes.EvSubmit: coretypes.Submitting,
	},
	coretypes.Submitting: {
		coretypes.EvRtnPending:  coretypes.Pending,
		coretypes.EvRtnAccepted: coretypes.Pending,
		coretypes.EvRtnRejected: coretypes.Rejected,
		coretypes.EvRtnFilled:   coretypes.Filled,
		coretypes.EvTimeoutAck:  coretypes.Querying,
	},
	coretypes.Pending: {
		coretypes.EvRtnPartialFilled: coretypes.PartialFilled,
		coretypes.EvRtnFilled:        coretypes.Filled,
		coretypes.EvCancel:           coretypes.CancelSubmitting,
		coretypes.EvTimeoutFill:      coretypes.CancelSubmitting,
	},
	coretypes.PartialFilled: {
		coretypes.EvRtnFilled:      coretypes.Filled,
		coretypes.EvCancel:         coretypes.CancelSubmitting,
		coretypes.EvTimeoutFill:    coretypes.CancelSubmitting,
		coretypes.EvRtnNotInQueue:  coretypes.PartialCancelled, // overridden by notInQueueState when filled_qty==0
	},
	coretypes.CancelSubmitting: {
		coretypes.EvRtnCancelled:        coretypes.Cancelled,
		coretypes.EvRtnPartialCancelled: coretypes.PartialCancelled,
		coretypes.EvRtnFilled:           coretypes.Filled, // race: cancel-while-fill, fill wins
		coretypes.EvTimeoutCancel:       coretypes.Querying,
	},
	coretypes.Querying: {
		coretypes.EvQueryOK:      coretypes.RetryPending,
		coretypes.EvQueryFail:    coretypes.RetryPending, // query itself failed, same retry/give-up decision as an inconclusive answer
		coretypes.EvRtnFilled:    coretypes.Filled,       // absorb late callback
		coretypes.EvRtnCancelled: coretypes.Cancelled,    // absorb late callback
	},
	coretypes.RetryPending: {
		coretypes.EvRetry:  coretypes.Submitting,
		coretypes.EvGiveUp: coretypes.ErrorState,
	},
	coretypes.ChasePending: {
		coretypes.EvSubmit: coretypes.Submitting,
	},
}

// statesAcceptingNotInQueue are the states where RTN_NOT_IN_QUEUE is a
// meaningful event; its destination depends on filled_qty (handled in
// Apply, not the static table, because the raw broker code is ambiguous
// between "order vanished" and "remainder pulled from the book").
var statesAcceptingNotInQueue = map[coretypes.OrderState]bool{
	coretypes.Submitting:       true,
	coretypes.Pending:          true,
	coretypes.PartialFilled:    true,
	coretypes.CancelSubmitting: true,
	coretypes.Querying:         true,
}

// Apply advances ctx according to event and returns the resulting state.
// A terminal state absorbs all further events unconditionally, before the
// table is even consulted.
func (m *Machine) Apply(ctx *coretypes.OrderContext, event coretypes.OrderEvent, now time.Time) (coretypes.OrderState, error) {
	if ctx.State.IsTerminal() {
		ctx.LastUpdateTs = now
		return ctx.State, nil
	}

	if event == coretypes.EvRtnNotInQueue && statesAcceptingNotInQueue[ctx.State] {
		next := notInQueueState(ctx)
		ctx.State = next
		ctx.LastUpdateTs = now
		return next, nil
	}

	row, hasRow := table[ctx.State]
	next, ok := row[event]
	if !hasRow || !ok {
		if m.Strict {
			return ctx.State, fmt.Errorf("%w: state=%s event=%s", ErrUnknownTransition, ctx.State, event)
		}
		return ctx.State, nil
	}

	switch event {
	case coretypes.EvSubmit:
		ctx.SubmitTs = now
	case coretypes.EvRetry:
		ctx.RetryCount++
	}

	ctx.State = next
	ctx.LastUpdateTs = now
	return next, nil
}

// notInQueueState resolves the ambiguous raw status "order not in queue":
// filled_qty=0 with no prior fills is treated as ERROR, not CANCELLED, so
// a broker-side anomaly surfaces through the same escalation path as other
// terminal failures; filled_qty>0 is the unambiguous case, PARTIAL_CANCELLED.
func notInQueueState(ctx *coretypes.OrderContext) coretypes.OrderState {
	if ctx.FilledQty == 0 {
		return coretypes.ErrorState
	}
	return coretypes.PartialCancelled
}

// ApplyTrade applies one unique broker fill to ctx's accounting, derives
// whether it completes the order (EvRtnFilled) or only partially fills it
// (EvRtnPartialFilled), and runs that event through Apply. Duplicate
// TradeIDs are ignored and produce no event.
func (m *Machine) ApplyTrade(ctx *coretypes.OrderContext, trade TradeData, now time.Time) (coretypes.OrderState, error) {
	if ctx.HasProcessedTrade(trade.TradeID) {
		return ctx.State, nil
	}
	ctx.MarkTradeProcessed(trade.TradeID)

	ctx.FilledQty += trade.Volume
	ctx.FilledAmount = ctx.FilledAmount.Add(trade.Price.Mul(decimal.NewFromInt(trade.Volume)))
	if ctx.FilledQty > ctx.Intent.Qty {
		ctx.FilledQty = ctx.Intent.Qty // filled_qty <= qty, clamp a broker overfill report
	}

	event := coretypes.EvRtnPartialFilled
	if ctx.FilledQty >= ctx.Intent.Qty {
		event = coretypes.EvRtnFilled
	}
	return m.Apply(ctx, event, now)
}
