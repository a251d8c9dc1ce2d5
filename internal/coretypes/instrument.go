// Package coretypes holds the data model shared across every subsystem of the
// order-execution core: OSM, AOE, Guardian, PositionTracker, Gates and the
// Audit Log all speak these types directly, never private redefinitions of
// them, to avoid the divergence that shows up as "which struct did this field
// actually come from" bugs.
package coretypes

import "github.com/shopspring/decimal"

// FeeKind tags the shape of an Instrument's fee schedule.
type FeeKind int

const (
	FeeByRate FeeKind = iota
	FeeByLot
	FeeMixed
)

func (k FeeKind) String() string {
	switch k {
	case FeeByRate:
		return "by_rate"
	case FeeByLot:
		return "by_lot"
	case FeeMixed:
		return "mixed"
	default:
		return "unknown"
	}
}

// FeeSpec is a tagged variant: by_rate(rate), by_lot(yuan_per_lot), or mixed
// (both populated, estimator takes the max). CloseTodayRate is nullable via
// HasCloseTodayRate; when absent the open rate applies to CLOSE_TODAY too.
type FeeSpec struct {
	Kind              FeeKind
	Rate              decimal.Decimal
	YuanPerLot        decimal.Decimal
	HasCloseTodayRate bool
	CloseTodayRate    decimal.Decimal
}

// Instrument is immutable after load from the instrument bundle.
type Instrument struct {
	Symbol          string
	Product         string
	Exchange        string
	ExpireDate      string // YYYYMMDD
	TickSize        decimal.Decimal
	Multiplier      decimal.Decimal
	UpperLimitPct   decimal.Decimal
	LowerLimitPct   decimal.Decimal
	MarginRate      decimal.Decimal
	SpecMarginRate  decimal.Decimal // applies within ExpiryBlockDays of ExpireDate
	TradingSessions []Session
	MaxOrderVolume  int64
	PositionLimit   int64
	FeeSpec         FeeSpec
}

// Session is a single trading window, e.g. day or night session.
type Session struct {
	Start string // "HH:MM"
	End   string
}
