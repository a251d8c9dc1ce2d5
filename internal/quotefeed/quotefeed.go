// Package quotefeed implements a concrete QuoteCache producer over a
// websocket market-data connection. The spec treats the quote feed as an
// opaque producer; this is the one concrete implementation, wired by
// cmd/coreengine.
//
// Grounded on feeds.PolymarketFeed's connect/reconnect/ping/read-loop shape,
// generalized from a Polymarket orderbook-tick distributor to a futures
// top-of-book dispatcher that writes straight into quote.Cache instead of
// fanning out to subscriber channels.
package quotefeed

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/kestrelfutures/fcore/internal/coretypes"
	"github.com/kestrelfutures/fcore/internal/quote"
)

const (
	reconnectDelay = 5 * time.Second
	pingInterval   = 30 * time.Second
)

// wireQuote is the on-wire shape this feed expects per message: a flat
// top-of-book snapshot, prices as strings to preserve decimal precision.
type wireQuote struct {
	Symbol       string `json:"symbol"`
	Bid          string `json:"bid"`
	Ask          string `json:"ask"`
	BidVol       int64  `json:"bid_vol"`
	AskVol       int64  `json:"ask_vol"`
	Last         string `json:"last"`
	Volume       int64  `json:"volume"`
	OpenInterest int64  `json:"open_interest"`
}

// Feed maintains a single websocket connection and writes every decoded
// quote into a quote.Cache. It reconnects indefinitely until Stop is
// called; after each (re)connect it sends one {"type":"subscribe",
// "symbol":...} message per symbol passed to New.
type Feed struct {
	mu      sync.Mutex
	url     string
	conn    *websocket.Conn
	running bool
	stopCh  chan struct{}

	cache   *quote.Cache
	symbols []string
}

// New builds a Feed that writes decoded quotes into cache. symbols, if
// non-empty, are subscribed to immediately after each (re)connect.
func New(url string, cache *quote.Cache, symbols []string) *Feed {
	return &Feed{
		url:     url,
		cache:   cache,
		symbols: symbols,
		stopCh:  make(chan struct{}),
	}
}

// Start begins the connect/read loop in a background goroutine. Safe to
// call again after Stop — each Start gets a fresh stop channel, since a
// closed channel can never signal a second run's goroutines, and the new
// goroutine tree closes over its own channel rather than the struct field.
func (f *Feed) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	stopCh := make(chan struct{})
	f.stopCh = stopCh
	f.mu.Unlock()

	go f.connectionLoop(stopCh)
	log.Info().Str("url", f.url).Msg("📡 quotefeed started")
}

// Stop tears down the connection and connection loop.
func (f *Feed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return
	}
	f.running = false
	close(f.stopCh)
	if f.conn != nil {
		f.conn.Close()
	}
	log.Info().Msg("quotefeed stopped")
}

func (f *Feed) connectionLoop(stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		if err := f.connect(stopCh); err != nil {
			log.Error().Err(err).Msg("quotefeed: connect failed, retrying")
			time.Sleep(reconnectDelay)
			continue
		}

		f.readLoop(stopCh)
		time.Sleep(reconnectDelay)
	}
}

func (f *Feed) connect(stopCh chan struct{}) error {
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	log.Info().Msg("🔌 quotefeed: websocket connected")

	for _, sym := range f.symbols {
		_ = conn.WriteJSON(map[string]interface{}{"type": "subscribe", "symbol": sym})
	}

	go f.pingLoop(conn, stopCh)
	return nil
}

func (f *Feed) pingLoop(conn *websocket.Conn, stopCh chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			f.mu.Lock()
			current := f.conn
			f.mu.Unlock()
			if current != conn {
				return
			}
			_ = conn.WriteMessage(websocket.PingMessage, nil)
		}
	}
}

func (f *Feed) readLoop(stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		f.mu.Lock()
		conn := f.conn
		f.mu.Unlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("quotefeed: read error")
			return
		}

		f.dispatch(message)
	}
}

func (f *Feed) dispatch(data []byte) {
	var wq wireQuote
	if err := json.Unmarshal(data, &wq); err != nil {
		log.Warn().Err(err).Msg("quotefeed: malformed message")
		return
	}
	if wq.Symbol == "" {
		return
	}

	q, err := decodeQuote(wq)
	if err != nil {
		log.Warn().Err(err).Str("symbol", wq.Symbol).Msg("quotefeed: malformed price field")
		return
	}
	f.cache.Update(q)
}

func decodeQuote(wq wireQuote) (coretypes.Quote, error) {
	bid, err := decimal.NewFromString(wq.Bid)
	if err != nil {
		return coretypes.Quote{}, err
	}
	ask, err := decimal.NewFromString(wq.Ask)
	if err != nil {
		return coretypes.Quote{}, err
	}
	last := decimal.Zero
	if wq.Last != "" {
		last, err = decimal.NewFromString(wq.Last)
		if err != nil {
			return coretypes.Quote{}, err
		}
	}

	return coretypes.Quote{
		Symbol:       wq.Symbol,
		Bid:          bid,
		Ask:          ask,
		BidVol:       wq.BidVol,
		AskVol:       wq.AskVol,
		Last:         last,
		Volume:       wq.Volume,
		OpenInterest: wq.OpenInterest,
		Ts:           time.Now(),
	}, nil
}
