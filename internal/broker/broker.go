// Package broker defines the opaque broker capability consumed by the
// AutoOrderEngine, plus the CTP-style status-code translation
// table. The core never imports a concrete exchange SDK — SimBroker (in
// simbroker.go) is the only concrete implementation this module ships, for
// tests and for cmd/coreengine's paper-mode runs.
package broker

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/kestrelfutures/fcore/internal/coretypes"
)

// OrderField is a broker order-status callback.
type OrderField struct {
	FrontID    string
	SessionID  string
	OrderRef   string
	OrderSysID string
	Status     string // raw broker status code, translated via StatusToEvent
	Ts         float64
}

// TradeField is a broker fill callback; TradeID must be globally unique per
// trade for the OSM's and PositionTracker's duplicate-detection to work.
type TradeField struct {
	OrderRef   string
	OrderSysID string
	TradeID    string
	Price      decimal.Decimal
	Volume     int64
	Ts         float64
}

// RspInfo is a broker rejection response (insert or action).
type RspInfo struct {
	OrderRef string
	ErrorID  int
	ErrorMsg string
}

// Ack is returned synchronously by CancelOrder.
type Ack struct {
	Accepted bool
}

// OrderSnapshot is returned by QueryOrder.
type OrderSnapshot struct {
	OrderRef   string
	OrderSysID string
	Status     string
	FilledQty  int64
}

// Callbacks is the set of handlers a Broker delivers asynchronously. AOE
// registers exactly one implementation (itself) at startup.
type Callbacks interface {
	OnOrder(OrderField)
	OnTrade(TradeField)
	OnInsertRejected(RspInfo)
	OnActionRejected(RspInfo)
	OnDisconnect()
	OnReconnect()
}

// Broker is the opaque capability the AutoOrderEngine drives.
// PlaceOrder returns a local reference synchronously; everything else
// (fills, rejections, status changes) arrives via Callbacks.
type Broker interface {
	PlaceOrder(ctx context.Context, intent coretypes.OrderIntent) (orderRef string, err error)
	CancelOrder(ctx context.Context, orderSysIDOrRef string) (Ack, error)
	QueryOrder(ctx context.Context, id string) (OrderSnapshot, error)
	QueryPositions(ctx context.Context) ([]coretypes.Position, error)
	RegisterCallbacks(Callbacks)
}

// StatusToEvent is the translation table from raw CTP-style broker status
// codes to internal OrderEvents.
var StatusToEvent = map[string]coretypes.OrderEvent{
	"a": coretypes.EvRtnPending,
	"3": coretypes.EvRtnAccepted,
	"1": coretypes.EvRtnPartialFilled,
	"0": coretypes.EvRtnFilled,
	"5": coretypes.EvRtnCancelled,
	"2": coretypes.EvRtnPartialCancelled,
	"4": coretypes.EvRtnNotInQueue,
}

// TranslateStatus maps a raw broker status to its internal event, or false
// if the code is unrecognized (caller logs and ignores in tolerant mode).
func TranslateStatus(status string) (coretypes.OrderEvent, bool) {
	ev, ok := StatusToEvent[status]
	return ev, ok
}
