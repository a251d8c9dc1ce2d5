package quotefeed

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/kestrelfutures/fcore/internal/quote"
)

func TestDecodeQuoteParsesDecimalFields(t *testing.T) {
	wq := wireQuote{
		Symbol: "rb2501", Bid: "3812.0", Ask: "3813.0",
		BidVol: 120, AskVol: 95, Last: "3812.5",
		Volume: 45000, OpenInterest: 98000,
	}

	q, err := decodeQuote(wq)
	require.NoError(t, err)
	require.Equal(t, "rb2501", q.Symbol)
	require.True(t, q.Bid.Equal(decimal.NewFromFloat(3812.0)))
	require.True(t, q.Ask.Equal(decimal.NewFromFloat(3813.0)))
	require.True(t, q.Last.Equal(decimal.NewFromFloat(3812.5)))
	require.Equal(t, int64(120), q.BidVol)
	require.Equal(t, int64(95), q.AskVol)
	require.Equal(t, int64(45000), q.Volume)
	require.Equal(t, int64(98000), q.OpenInterest)
}

func TestDecodeQuoteDefaultsLastWhenAbsent(t *testing.T) {
	wq := wireQuote{Symbol: "rb2501", Bid: "3812.0", Ask: "3813.0"}

	q, err := decodeQuote(wq)
	require.NoError(t, err)
	require.True(t, q.Last.Equal(decimal.Zero))
}

func TestDecodeQuoteRejectsMalformedBid(t *testing.T) {
	wq := wireQuote{Symbol: "rb2501", Bid: "not-a-number", Ask: "3813.0"}

	_, err := decodeQuote(wq)
	require.Error(t, err)
}

func TestDispatchUpdatesCacheOnValidMessage(t *testing.T) {
	cache := quote.New()
	f := New("wss://example.invalid/feed", cache, nil)

	f.dispatch([]byte(`{"symbol":"rb2501","bid":"3812.0","ask":"3813.0","bid_vol":10,"ask_vol":12}`))

	q, ok := cache.Get("rb2501")
	require.True(t, ok)
	require.True(t, q.Bid.Equal(decimal.NewFromFloat(3812.0)))
}

func TestDispatchIgnoresMessageWithoutSymbol(t *testing.T) {
	cache := quote.New()
	f := New("wss://example.invalid/feed", cache, nil)

	f.dispatch([]byte(`{"bid":"3812.0","ask":"3813.0"}`))

	_, ok := cache.Get("")
	require.False(t, ok)
	require.Empty(t, cache.Symbols())
}

func TestDispatchIgnoresMalformedJSON(t *testing.T) {
	cache := quote.New()
	f := New("wss://example.invalid/feed", cache, nil)

	f.dispatch([]byte(`{not-json`))

	require.Empty(t, cache.Symbols())
}

func TestDispatchIgnoresMalformedPriceField(t *testing.T) {
	cache := quote.New()
	f := New("wss://example.invalid/feed", cache, nil)

	f.dispatch([]byte(`{"symbol":"rb2501","bid":"bad","ask":"3813.0"}`))

	_, ok := cache.Get("rb2501")
	require.False(t, ok)
}

func TestRestartGetsFreshUnclosedStopChannel(t *testing.T) {
	cache := quote.New()
	f := New("wss://example.invalid/feed", cache, nil)

	f.Start()
	first := f.stopCh

	f.Stop()
	select {
	case <-first:
	default:
		t.Fatal("expected Stop to close the channel Start handed out")
	}

	f.Start()
	second := f.stopCh
	require.NotEqual(t, first, second)
	select {
	case <-second:
		t.Fatal("a fresh Start should not hand out an already-closed channel")
	default:
	}
	f.Stop()
}
