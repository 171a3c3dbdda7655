package rest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := New(server.URL, "test-key", "test-secret", 2*time.Second, 5*time.Second, zap.NewNop())
	return client, server
}

func TestSignedRequestCarriesSignatureAndKey(t *testing.T) {
	var gotKey, gotQuery string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-MBX-APIKEY")
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`[]`))
	})

	if _, err := client.Balances(t.Context()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotKey != "test-key" {
		t.Fatalf("expected api key header, got %q", gotKey)
	}
	idx := strings.Index(gotQuery, "&signature=")
	if idx < 0 {
		t.Fatalf("expected signature in query, got %q", gotQuery)
	}
	payload, sig := gotQuery[:idx], gotQuery[idx+len("&signature="):]
	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte(payload))
	if want := hex.EncodeToString(mac.Sum(nil)); sig != want {
		t.Fatalf("signature mismatch: got %s want %s", sig, want)
	}
	if !strings.Contains(payload, "timestamp=") || !strings.Contains(payload, "recvWindow=5000") {
		t.Fatalf("expected timestamp and recvWindow in payload, got %q", payload)
	}
}

func TestAvailableBalance(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"asset":"BTC","balance":"0.5","availableBalance":"0.4"},
			{"asset":"USDT","balance":"1200.00","availableBalance":"1000.25"}
		]`))
	})
	got, err := client.AvailableBalance(t.Context(), "USDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1000.25 {
		t.Fatalf("expected 1000.25, got %v", got)
	}

	missing, err := client.AvailableBalance(t.Context(), "ETH")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if missing != 0 {
		t.Fatalf("expected 0 for missing asset, got %v", missing)
	}
}

func TestSymbolFilters(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/fapi/v1/exchangeInfo") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","filters":[
			{"filterType":"PRICE_FILTER","tickSize":"0.10"},
			{"filterType":"LOT_SIZE","stepSize":"0.001","minQty":"0.001"},
			{"filterType":"MIN_NOTIONAL","notional":"5"}
		]}]}`))
	})
	filters, err := client.SymbolFilters(t.Context(), "BTCUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filters.StepSize != 0.001 || filters.MinQty != 0.001 || filters.MinNotional != 5 || filters.TickSize != 0.1 {
		t.Fatalf("unexpected filters: %+v", filters)
	}

	if _, err := client.SymbolFilters(t.Context(), "ETHUSDT"); err == nil {
		t.Fatalf("expected error for unknown symbol")
	}
}

func TestDepthBestBidAsk(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"bids":[["50000.10","2.0"]],"asks":[["50000.30","1.5"]]}`))
	})
	bid, ask, err := client.Depth(t.Context(), "BTCUSDT", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bid != 50000.10 || ask != 50000.30 {
		t.Fatalf("unexpected book: bid=%v ask=%v", bid, ask)
	}
}

func TestPlaceOrderParsesResult(t *testing.T) {
	var gotQuery string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"orderId":42,"clientOrderId":"abc","status":"FILLED","avgPrice":"50000.5","executedQty":"0.010"}`))
	})
	resp, err := client.PlaceOrder(t.Context(), OrderRequest{
		Symbol:       "BTCUSDT",
		Side:         SideBuy,
		PositionSide: PositionLong,
		Type:         OrderTypeMarket,
		Quantity:     0.01,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.OrderID != 42 || !resp.Filled() || resp.AvgPrice != 50000.5 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if !strings.Contains(gotQuery, "positionSide=LONG") || !strings.Contains(gotQuery, "type=MARKET") {
		t.Fatalf("unexpected order query: %q", gotQuery)
	}
}

func TestPositionsSkipsFlatAndSignsQuantity(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"symbol":"BTCUSDT","positionSide":"LONG","positionAmt":"0.010","entryPrice":"50000","unRealizedProfit":"1.25"},
			{"symbol":"BTCUSDT","positionSide":"SHORT","positionAmt":"-0.010","entryPrice":"50010","unRealizedProfit":"-0.75"},
			{"symbol":"BTCUSDT","positionSide":"BOTH","positionAmt":"0.000","entryPrice":"0","unRealizedProfit":"0"}
		]`))
	})
	positions, err := client.Positions(t.Context(), "BTCUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("expected 2 legs, got %d", len(positions))
	}
	if positions[1].Side != PositionShort || positions[1].Quantity != 0.01 {
		t.Fatalf("unexpected short leg: %+v", positions[1])
	}
}

func TestAPIErrorClassification(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-2019,"msg":"Margin is insufficient."}`))
	})
	_, err := client.Balances(t.Context())
	if err == nil {
		t.Fatalf("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != -2019 || apiErr.Retryable() {
		t.Fatalf("expected non-retryable -2019, got %+v", apiErr)
	}
	if IsRetryable(err) {
		t.Fatalf("expected IsRetryable false for 400")
	}

	client2, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err = client2.Balances(t.Context())
	if !IsRetryable(err) {
		t.Fatalf("expected IsRetryable true for 503, got %v", err)
	}
}
