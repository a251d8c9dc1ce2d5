package coretypes

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the authoritative local position for one symbol. LongTodayQty
// and ShortTodayQty are tracked separately from the total because close-today
// fees often differ from close-(yesterday) fees.
type Position struct {
	Symbol string

	LongQty       int64
	LongAvgPrice  decimal.Decimal
	LongTodayQty  int64

	ShortQty      int64
	ShortAvgPrice decimal.Decimal
	ShortTodayQty int64

	RealisedPnL decimal.Decimal

	LastReconcileTs time.Time
}

// NetQty returns long minus short, used by leg-imbalance checks.
func (p Position) NetQty() int64 {
	return p.LongQty - p.ShortQty
}
