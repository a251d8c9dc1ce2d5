package coretypes

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the top-of-book snapshot for a symbol. It is mutable and always
// replaced wholesale on update — there is no partial update path.
type Quote struct {
	Symbol       string
	Bid          decimal.Decimal
	Ask          decimal.Decimal
	BidVol       int64
	AskVol       int64
	Last         decimal.Decimal
	Volume       int64
	OpenInterest int64
	Ts           time.Time
}

// Mid returns the midpoint of bid/ask, used by the fat-finger gate's
// price-deviation check.
func (q Quote) Mid() decimal.Decimal {
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
}

// SpreadTicks returns (ask-bid)/tickSize, used by the liquidity gate.
func (q Quote) SpreadTicks(tickSize decimal.Decimal) decimal.Decimal {
	if tickSize.IsZero() {
		return decimal.Zero
	}
	return q.Ask.Sub(q.Bid).Div(tickSize)
}
