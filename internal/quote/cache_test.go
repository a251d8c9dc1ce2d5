package quote

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/kestrelfutures/fcore/internal/coretypes"
)

func TestUpdateAndGet(t *testing.T) {
	c := New()
	now := time.Now()
	c.Update(coretypes.Quote{Symbol: "rb2501", Bid: decimal.NewFromInt(4499), Ask: decimal.NewFromInt(4500), Ts: now})

	q, ok := c.Get("rb2501")
	require.True(t, ok)
	require.True(t, q.Ask.Equal(decimal.NewFromInt(4500)))
}

func TestStalenessThresholds(t *testing.T) {
	c := New()
	now := time.Now()
	c.Update(coretypes.Quote{Symbol: "rb2501", Ts: now.Add(-4 * time.Second)})

	require.True(t, c.IsSoftStale("rb2501", now, DefaultSoftStaleMs))
	require.False(t, c.IsHardStale("rb2501", now, DefaultHardStaleMs))

	c.Update(coretypes.Quote{Symbol: "rb2501", Ts: now.Add(-11 * time.Second)})
	require.True(t, c.IsHardStale("rb2501", now, DefaultHardStaleMs))
}

func TestMissingSymbolIsMaximallyStale(t *testing.T) {
	c := New()
	now := time.Now()
	require.True(t, c.IsSoftStale("unknown", now, DefaultSoftStaleMs))
	require.True(t, c.IsHardStale("unknown", now, DefaultHardStaleMs))
}
