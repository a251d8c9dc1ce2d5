// Package gates implements the Protection Gates chain: six ordered
// pre-trade predicates run left-to-right, first failure short-circuits and
// is audited. Follows risk.RiskGate.CanEnter
// ordered-check-with-short-circuit shape and risk.CircuitBreaker's
// breach-counting idiom for Throttle's mode-degradation escalation.
package gates

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kestrelfutures/fcore/internal/coretypes"
)

// Context is everything a gate needs to evaluate one intent. It is
// read-only from the gate's perspective; gates that need mutable bookkeeping
// (Throttle) own their own private state, not Context.
type Context struct {
	Now            time.Time
	Instrument     coretypes.Instrument
	Quote          coretypes.Quote
	HasQuote       bool
	QuoteSoftStale bool
	Position       coretypes.Position

	LastSettle      decimal.Decimal
	ProjectedMargin decimal.Decimal // margin usage after this order, as a fraction of account equity
	MarginCeiling   decimal.Decimal
	GuardianMode    coretypes.GuardianState
}

// Gate is one pre-trade predicate: (intent, ctx) -> nil | GateRejection.
type Gate interface {
	Name() string
	Check(intent coretypes.OrderIntent, ctx Context) *coretypes.GateRejection
}

// Chain runs gates left to right, returning the first rejection. Order is
// fixed: cheap checks precede expensive state-touching checks.
type Chain struct {
	gates []Gate
}

// NewChain builds the fixed-order chain: Throttle, FatFinger, LimitPrice,
// Liquidity, Margin, GuardianMode.
func NewChain(throttle *ThrottleGate, fatfinger FatFingerGate, limitprice LimitPriceGate, liquidity LiquidityGate, margin MarginGate, guardianMode GuardianModeGate) *Chain {
	return &Chain{gates: []Gate{throttle, fatfinger, limitprice, liquidity, margin, guardianMode}}
}

// Evaluate runs every gate in order and returns the first rejection, or nil
// if intent passes all six.
func (c *Chain) Evaluate(intent coretypes.OrderIntent, ctx Context) *coretypes.GateRejection {
	for _, g := range c.gates {
		if rej := g.Check(intent, ctx); rej != nil {
			rej.Gate = g.Name()
			return rej
		}
	}
	return nil
}

func reject(reason string, details map[string]interface{}) *coretypes.GateRejection {
	return &coretypes.GateRejection{Reason: reason, Details: details}
}
