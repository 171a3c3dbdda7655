package exec

import (
	"context"
	"errors"
	"sync"
	"testing"

	"aster-volume-bot/internal/aster/rest"

	"go.uber.org/zap"
)

type fakeAPI struct {
	mu       sync.Mutex
	requests []rest.OrderRequest
	results  []func(rest.OrderRequest) (rest.OrderResponse, error)
}

func (f *fakeAPI) PlaceOrder(ctx context.Context, req rest.OrderRequest) (rest.OrderResponse, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.results) == 0 {
		return rest.OrderResponse{OrderID: int64(len(f.requests)), Status: "FILLED", ExecutedQty: req.Quantity}, nil
	}
	next := f.results[0]
	f.results = f.results[1:]
	return next(req)
}

type memoryStore struct {
	mu    sync.Mutex
	items map[string]string
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.items[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = make(map[string]string)
	}
	m.items[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *memoryStore) Close() error { return nil }

func filled(req rest.OrderRequest) (rest.OrderResponse, error) {
	return rest.OrderResponse{OrderID: 1, Status: "FILLED", ExecutedQty: req.Quantity}, nil
}

func TestOpenSingleAttempt(t *testing.T) {
	api := &fakeAPI{results: []func(rest.OrderRequest) (rest.OrderResponse, error){
		func(rest.OrderRequest) (rest.OrderResponse, error) {
			return rest.OrderResponse{}, &rest.APIError{Status: 503, Msg: "unavailable"}
		},
	}}
	ex := New(api, nil, zap.NewNop())

	_, err := ex.Open(context.Background(), rest.OrderRequest{Symbol: "BTCUSDT", Side: rest.SideBuy, PositionSide: rest.PositionLong, Quantity: 0.1})
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(api.requests) != 1 {
		t.Fatalf("opens must never retry, got %d attempts", len(api.requests))
	}
}

func TestOpenAssignsClientOrderID(t *testing.T) {
	api := &fakeAPI{}
	ex := New(api, nil, zap.NewNop())

	resp, err := ex.Open(context.Background(), rest.OrderRequest{Symbol: "BTCUSDT", Side: rest.SideBuy, PositionSide: rest.PositionLong, Quantity: 0.1})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if !resp.Filled() {
		t.Fatalf("expected filled response")
	}
	if api.requests[0].ClientOrderID == "" {
		t.Fatalf("expected generated client order id")
	}
}

func TestOpenNotFilled(t *testing.T) {
	api := &fakeAPI{results: []func(rest.OrderRequest) (rest.OrderResponse, error){
		func(rest.OrderRequest) (rest.OrderResponse, error) {
			return rest.OrderResponse{OrderID: 9, Status: "EXPIRED"}, nil
		},
	}}
	ex := New(api, nil, zap.NewNop())

	_, err := ex.Open(context.Background(), rest.OrderRequest{Symbol: "BTCUSDT", Quantity: 0.1})
	if !errors.Is(err, ErrNotFilled) {
		t.Fatalf("expected ErrNotFilled, got %v", err)
	}
}

func TestCloseRetriesRetryableFailures(t *testing.T) {
	api := &fakeAPI{results: []func(rest.OrderRequest) (rest.OrderResponse, error){
		func(rest.OrderRequest) (rest.OrderResponse, error) {
			return rest.OrderResponse{}, &rest.APIError{Status: 503, Msg: "unavailable"}
		},
		func(rest.OrderRequest) (rest.OrderResponse, error) {
			return rest.OrderResponse{}, &rest.APIError{Status: 429, Msg: "rate limited"}
		},
		filled,
	}}
	ex := New(api, &memoryStore{}, zap.NewNop())

	resp, err := ex.Close(context.Background(), rest.OrderRequest{Symbol: "BTCUSDT", Side: rest.SideSell, PositionSide: rest.PositionLong, Quantity: 0.1})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !resp.Filled() {
		t.Fatalf("expected filled response")
	}
	if len(api.requests) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(api.requests))
	}
}

func TestCloseReusesClientOrderIDAcrossRetries(t *testing.T) {
	api := &fakeAPI{results: []func(rest.OrderRequest) (rest.OrderResponse, error){
		func(rest.OrderRequest) (rest.OrderResponse, error) {
			return rest.OrderResponse{}, &rest.APIError{Status: 500, Msg: "boom"}
		},
		filled,
	}}
	store := &memoryStore{}
	ex := New(api, store, zap.NewNop())

	_, err := ex.Close(context.Background(), rest.OrderRequest{Symbol: "BTCUSDT", Side: rest.SideSell, PositionSide: rest.PositionLong, Quantity: 0.1})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if api.requests[0].ClientOrderID != api.requests[1].ClientOrderID {
		t.Fatalf("client order id changed between attempts")
	}
	if _, ok, _ := store.Get(context.Background(), closeKey("BTCUSDT", rest.PositionLong)); ok {
		t.Fatalf("close key should be cleared after success")
	}
}

func TestCloseReusesPersistedClientOrderID(t *testing.T) {
	store := &memoryStore{}
	key := closeKey("BTCUSDT", rest.PositionShort)
	if err := store.Set(context.Background(), key, "restart-id"); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	api := &fakeAPI{}
	ex := New(api, store, zap.NewNop())

	_, err := ex.Close(context.Background(), rest.OrderRequest{Symbol: "BTCUSDT", Side: rest.SideBuy, PositionSide: rest.PositionShort, Quantity: 0.1})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if api.requests[0].ClientOrderID != "restart-id" {
		t.Fatalf("expected persisted id, got %q", api.requests[0].ClientOrderID)
	}
}

func TestCloseStopsOnNonRetryable(t *testing.T) {
	api := &fakeAPI{results: []func(rest.OrderRequest) (rest.OrderResponse, error){
		func(rest.OrderRequest) (rest.OrderResponse, error) {
			return rest.OrderResponse{}, &rest.APIError{Status: 400, Code: -2019, Msg: "margin is insufficient"}
		},
	}}
	ex := New(api, &memoryStore{}, zap.NewNop())

	_, err := ex.Close(context.Background(), rest.OrderRequest{Symbol: "BTCUSDT", Quantity: 0.1})
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(api.requests) != 1 {
		t.Fatalf("non-retryable failure must not be retried, got %d attempts", len(api.requests))
	}
}

func TestCloseExhaustsRetries(t *testing.T) {
	fail := func(rest.OrderRequest) (rest.OrderResponse, error) {
		return rest.OrderResponse{}, &rest.APIError{Status: 503, Msg: "unavailable"}
	}
	api := &fakeAPI{results: []func(rest.OrderRequest) (rest.OrderResponse, error){fail, fail, fail, fail, fail}}
	ex := New(api, &memoryStore{}, zap.NewNop())

	_, err := ex.Close(context.Background(), rest.OrderRequest{Symbol: "BTCUSDT", Quantity: 0.1})
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if len(api.requests) != closeAttempts {
		t.Fatalf("expected %d attempts, got %d", closeAttempts, len(api.requests))
	}
}
