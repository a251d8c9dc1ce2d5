package instrument

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/kestrelfutures/fcore/internal/coretypes"
)

func sampleInstrument() coretypes.Instrument {
	return coretypes.Instrument{
		Symbol:         "rb2501",
		Product:        "rb",
		Exchange:       "SHFE",
		TickSize:       decimal.NewFromInt(1),
		Multiplier:     decimal.NewFromInt(10),
		MarginRate:     decimal.NewFromFloat(0.1),
		MaxOrderVolume: 500,
		PositionLimit:  2000,
		FeeSpec: coretypes.FeeSpec{
			Kind:       coretypes.FeeByLot,
			YuanPerLot: decimal.NewFromInt(2),
		},
	}
}

func TestPersistThenLoad(t *testing.T) {
	c := New()
	c.Put(sampleInstrument())

	path := filepath.Join(t.TempDir(), "bundle.json")
	require.NoError(t, c.Persist(path))

	c2 := New()
	require.NoError(t, c2.Load(path))

	inst, err := c2.Get("rb2501")
	require.NoError(t, err)
	require.Equal(t, "SHFE", inst.Exchange)
	require.True(t, inst.Multiplier.Equal(decimal.NewFromInt(10)))
}

func TestGetUnknownSymbol(t *testing.T) {
	c := New()
	_, err := c.Get("missing")
	require.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestProductsOf(t *testing.T) {
	c := New()
	c.Put(sampleInstrument())
	c.Put(coretypes.Instrument{Symbol: "cu2502", Exchange: "SHFE"})
	c.Put(coretypes.Instrument{Symbol: "i2501", Exchange: "DCE"})

	shfe := c.ProductsOf("SHFE")
	require.ElementsMatch(t, []string{"rb2501", "cu2502"}, shfe)
}
