package market

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"aster-volume-bot/internal/aster/ws"

	"go.uber.org/zap"
)

const quoteMaxAge = 5 * time.Second

// DepthClient is the REST fallback when the stream has no fresh quote.
type DepthClient interface {
	Depth(ctx context.Context, symbol string, limit int) (bestBid, bestAsk float64, err error)
}

type quote struct {
	bid float64
	ask float64
	at  time.Time
}

// Feed keeps the latest best bid/ask per symbol from the book-ticker stream
// and answers mid-price queries, falling back to a REST depth call.
type Feed struct {
	depth DepthClient
	ws    *ws.Client
	log   *zap.Logger

	mu     sync.RWMutex
	quotes map[string]quote

	now func() time.Time
}

func New(depth DepthClient, wsClient *ws.Client, log *zap.Logger) *Feed {
	return &Feed{
		depth:  depth,
		ws:     wsClient,
		log:    log,
		quotes: make(map[string]quote),
		now:    time.Now,
	}
}

// Start connects the stream and subscribes the symbol's book ticker. A nil
// ws client means REST-only operation.
func (f *Feed) Start(ctx context.Context, symbol string) error {
	if f.ws == nil {
		return nil
	}
	if err := f.ws.Connect(ctx); err != nil {
		return err
	}
	if err := f.ws.Subscribe(ctx, strings.ToLower(symbol)+"@bookTicker"); err != nil {
		return err
	}
	go func() {
		if err := f.ws.Run(ctx, f.handle); err != nil && ctx.Err() == nil {
			f.log.Warn("book ticker stream stopped", zap.Error(err))
		}
	}()
	return nil
}

type bookTicker struct {
	Symbol  string `json:"s"`
	BestBid string `json:"b"`
	BestAsk string `json:"a"`
}

func (f *Feed) handle(raw json.RawMessage) {
	var tick bookTicker
	if err := json.Unmarshal(raw, &tick); err != nil || tick.Symbol == "" {
		// Combined-stream frames wrap the payload in a data field.
		var wrapped struct {
			Data bookTicker `json:"data"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil || wrapped.Data.Symbol == "" {
			return
		}
		tick = wrapped.Data
	}
	bid := parseFloat(tick.BestBid)
	ask := parseFloat(tick.BestAsk)
	if bid <= 0 || ask <= 0 {
		return
	}
	f.Apply(tick.Symbol, bid, ask)
}

// Apply records a quote. Exposed for tests and the stream handler.
func (f *Feed) Apply(symbol string, bid, ask float64) {
	f.mu.Lock()
	f.quotes[symbol] = quote{bid: bid, ask: ask, at: f.now()}
	f.mu.Unlock()
}

// Mid returns the current mid price, using the stream quote when fresh and a
// REST depth query otherwise.
func (f *Feed) Mid(ctx context.Context, symbol string) (float64, error) {
	f.mu.RLock()
	q, ok := f.quotes[symbol]
	f.mu.RUnlock()
	if ok && f.now().Sub(q.at) <= quoteMaxAge {
		return (q.bid + q.ask) / 2, nil
	}
	if f.depth == nil {
		return 0, errors.New("no price source for " + symbol)
	}
	bid, ask, err := f.depth.Depth(ctx, symbol, 5)
	if err != nil {
		return 0, err
	}
	if bid <= 0 || ask <= 0 {
		return 0, errors.New("invalid order book for " + symbol)
	}
	f.Apply(symbol, bid, ask)
	return (bid + ask) / 2, nil
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
