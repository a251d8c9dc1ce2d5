package coretypes

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/google/uuid"
)

// Side is the direction of an order.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// Offset distinguishes opening new exposure from closing existing exposure,
// and further distinguishes closing today's lots (often fee-differentiated).
type Offset int

const (
	Open Offset = iota
	Close
	CloseToday
)

func (o Offset) String() string {
	switch o {
	case Open:
		return "OPEN"
	case Close:
		return "CLOSE"
	case CloseToday:
		return "CLOSE_TODAY"
	default:
		return "UNKNOWN"
	}
}

// OrderIntent is an immutable request produced by the strategy layer (out of
// scope here — only its shape matters).
type OrderIntent struct {
	Symbol     string
	Side       Side
	Offset     Offset
	Price      decimal.Decimal
	Qty        int64
	Reason     string
	StrategyID string
}

// OrderState enumerates the 14 states of the per-order FSM. The last six are
// terminal: FILLED, CANCELLED, PARTIAL_CANCELLED, CANCEL_REJECTED, REJECTED,
// ERROR.
type OrderState int

const (
	Created OrderState = iota
	Submitting
	Pending
	PartialFilled
	CancelSubmitting
	Querying
	RetryPending
	ChasePending
	Filled
	Cancelled
	PartialCancelled
	CancelRejected
	Rejected
	ErrorState
)

var orderStateNames = map[OrderState]string{
	Created:          "CREATED",
	Submitting:       "SUBMITTING",
	Pending:          "PENDING",
	PartialFilled:    "PARTIAL_FILLED",
	CancelSubmitting: "CANCEL_SUBMITTING",
	Querying:         "QUERYING",
	RetryPending:     "RETRY_PENDING",
	ChasePending:     "CHASE_PENDING",
	Filled:           "FILLED",
	Cancelled:        "CANCELLED",
	PartialCancelled: "PARTIAL_CANCELLED",
	CancelRejected:   "CANCEL_REJECTED",
	Rejected:         "REJECTED",
	ErrorState:       "ERROR",
}

func (s OrderState) String() string {
	if n, ok := orderStateNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// IsTerminal reports whether s absorbs all further events.
func (s OrderState) IsTerminal() bool {
	switch s {
	case Filled, Cancelled, PartialCancelled, CancelRejected, Rejected, ErrorState:
		return true
	default:
		return false
	}
}

// OrderEvent enumerates the inputs accepted by the OSM transition function.
type OrderEvent int

const (
	EvSubmit OrderEvent = iota
	EvCancel
	EvRtnPending
	EvRtnAccepted
	EvRtnRejected
	EvRtnPartialFilled
	EvRtnFilled
	EvRtnCancelled
	EvRtnPartialCancelled
	EvRtnCancelRejected
	EvRtnNotInQueue
	EvTimeoutAck
	EvTimeoutFill
	EvTimeoutCancel
	EvQueryOK
	EvQueryFail
	EvRetry
	EvGiveUp
)

var orderEventNames = map[OrderEvent]string{
	EvSubmit:              "SUBMIT",
	EvCancel:               "CANCEL",
	EvRtnPending:           "RTN_PENDING",
	EvRtnAccepted:          "RTN_ACCEPTED",
	EvRtnRejected:          "RTN_REJECTED",
	EvRtnPartialFilled:     "RTN_PARTIAL_FILLED",
	EvRtnFilled:            "RTN_FILLED",
	EvRtnCancelled:         "RTN_CANCELLED",
	EvRtnPartialCancelled:  "RTN_PARTIAL_CANCELLED",
	EvRtnCancelRejected:    "RTN_CANCEL_REJECTED",
	EvRtnNotInQueue:        "RTN_NOT_IN_QUEUE",
	EvTimeoutAck:           "TIMEOUT_ACK",
	EvTimeoutFill:          "TIMEOUT_FILL",
	EvTimeoutCancel:        "TIMEOUT_CANCEL",
	EvQueryOK:              "QUERY_OK",
	EvQueryFail:            "QUERY_FAIL",
	EvRetry:                "RETRY",
	EvGiveUp:               "GIVE_UP",
}

func (e OrderEvent) String() string {
	if n, ok := orderEventNames[e]; ok {
		return n
	}
	return "UNKNOWN"
}

// OrderContext is the mutable, per-order record. Its State advances through
// the OSM's transition function, except that the AOE sets CHASE_PENDING
// directly in Chase; the AOE also assigns the broker/exchange echo IDs,
// the retry/chase counters and a chased order's Qty and Price directly.
type OrderContext struct {
	LocalID   uuid.UUID
	OrderRef  string // broker echo, assigned at submit
	OrderSysID string // exchange echo, assigned later
	FrontID   string
	SessionID string

	Intent OrderIntent
	State  OrderState

	FilledQty    int64
	FilledAmount decimal.Decimal // sum(price*volume) over applied trades

	ProcessedTradeIDs map[string]struct{}

	RetryCount int
	ChaseCount int

	CreateTs     time.Time
	SubmitTs     time.Time
	LastUpdateTs time.Time
}

// AvgPrice returns filled_amount/filled_qty, or zero if unfilled.
func (o *OrderContext) AvgPrice() decimal.Decimal {
	if o.FilledQty == 0 {
		return decimal.Zero
	}
	return o.FilledAmount.Div(decimal.NewFromInt(o.FilledQty))
}

// HasProcessedTrade reports whether tradeID has already been applied.
func (o *OrderContext) HasProcessedTrade(tradeID string) bool {
	_, ok := o.ProcessedTradeIDs[tradeID]
	return ok
}

// MarkTradeProcessed records tradeID as applied.
func (o *OrderContext) MarkTradeProcessed(tradeID string) {
	if o.ProcessedTradeIDs == nil {
		o.ProcessedTradeIDs = make(map[string]struct{})
	}
	o.ProcessedTradeIDs[tradeID] = struct{}{}
}
