package rest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client talks to a Binance-futures-style exchange API. Signed endpoints get
// an HMAC-SHA256 signature over the encoded query string.
type Client struct {
	baseURL    string
	apiKey     string
	secret     []byte
	recvWindow int64
	http       *http.Client
	log        *zap.Logger
}

func New(baseURL, apiKey, apiSecret string, timeout, recvWindow time.Duration, log *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		secret:     []byte(apiSecret),
		recvWindow: recvWindow.Milliseconds(),
		http: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// SymbolFilters fetches exchangeInfo and extracts the trading filters for one
// symbol.
func (c *Client) SymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error) {
	var info struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType string `json:"filterType"`
				TickSize   string `json:"tickSize"`
				StepSize   string `json:"stepSize"`
				MinQty     string `json:"minQty"`
				Notional   string `json:"notional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", nil, false, &info); err != nil {
		return SymbolFilters{}, err
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		filters := SymbolFilters{Symbol: symbol}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				filters.TickSize = parseFloat(f.TickSize)
			case "LOT_SIZE":
				filters.StepSize = parseFloat(f.StepSize)
				filters.MinQty = parseFloat(f.MinQty)
			case "MIN_NOTIONAL":
				filters.MinNotional = parseFloat(f.Notional)
			}
		}
		if filters.StepSize == 0 || filters.MinNotional == 0 {
			return SymbolFilters{}, fmt.Errorf("incomplete filters for %s", symbol)
		}
		return filters, nil
	}
	return SymbolFilters{}, fmt.Errorf("symbol %s not found in exchange info", symbol)
}

// Depth returns the current best bid and ask from the order book.
func (c *Client) Depth(ctx context.Context, symbol string, limit int) (bestBid, bestAsk float64, err error) {
	if limit <= 0 {
		limit = 5
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))
	var book struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/depth?"+params.Encode(), nil, false, &book); err != nil {
		return 0, 0, err
	}
	if len(book.Bids) == 0 || len(book.Asks) == 0 || len(book.Bids[0]) == 0 || len(book.Asks[0]) == 0 {
		return 0, 0, errors.New("empty order book")
	}
	return parseFloat(book.Bids[0][0]), parseFloat(book.Asks[0][0]), nil
}

func (c *Client) Balances(ctx context.Context) ([]Balance, error) {
	var raw []struct {
		Asset     string `json:"asset"`
		Balance   string `json:"balance"`
		Available string `json:"availableBalance"`
	}
	if err := c.do(ctx, http.MethodGet, "/fapi/v2/balance", nil, true, &raw); err != nil {
		return nil, err
	}
	balances := make([]Balance, 0, len(raw))
	for _, b := range raw {
		balances = append(balances, Balance{
			Asset:     b.Asset,
			Balance:   parseFloat(b.Balance),
			Available: parseFloat(b.Available),
		})
	}
	return balances, nil
}

// AvailableBalance returns the free balance for one asset, zero when the
// asset is absent.
func (c *Client) AvailableBalance(ctx context.Context, asset string) (float64, error) {
	balances, err := c.Balances(ctx)
	if err != nil {
		return 0, err
	}
	for _, b := range balances {
		if b.Asset == asset {
			return b.Available, nil
		}
	}
	return 0, nil
}

// HedgeMode reports whether dual-side position mode is enabled.
func (c *Client) HedgeMode(ctx context.Context) (bool, error) {
	var result struct {
		DualSidePosition bool `json:"dualSidePosition"`
	}
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/positionSide/dual", nil, true, &result); err != nil {
		return false, err
	}
	return result.DualSidePosition, nil
}

func (c *Client) SetHedgeMode(ctx context.Context, enabled bool) error {
	params := url.Values{}
	params.Set("dualSidePosition", strconv.FormatBool(enabled))
	return c.do(ctx, http.MethodPost, "/fapi/v1/positionSide/dual", params, true, nil)
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	return c.do(ctx, http.MethodPost, "/fapi/v1/leverage", params, true, nil)
}

// PlaceOrder submits an order and asks for the RESULT response type so the
// fill price and executed quantity come back synchronously.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", req.Side)
	params.Set("positionSide", req.PositionSide)
	params.Set("type", req.Type)
	params.Set("quantity", strconv.FormatFloat(req.Quantity, 'f', -1, 64))
	params.Set("newOrderRespType", "RESULT")
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}
	var raw struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Status        string `json:"status"`
		AvgPrice      string `json:"avgPrice"`
		ExecutedQty   string `json:"executedQty"`
	}
	if err := c.do(ctx, http.MethodPost, "/fapi/v1/order", params, true, &raw); err != nil {
		return OrderResponse{}, err
	}
	return OrderResponse{
		OrderID:       raw.OrderID,
		ClientOrderID: raw.ClientOrderID,
		Status:        raw.Status,
		AvgPrice:      parseFloat(raw.AvgPrice),
		ExecutedQty:   parseFloat(raw.ExecutedQty),
	}, nil
}

// Positions returns the non-flat legs for a symbol.
func (c *Client) Positions(ctx context.Context, symbol string) ([]Position, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	var raw []struct {
		Symbol        string `json:"symbol"`
		PositionSide  string `json:"positionSide"`
		PositionAmt   string `json:"positionAmt"`
		EntryPrice    string `json:"entryPrice"`
		UnrealizedPnl string `json:"unRealizedProfit"`
	}
	if err := c.do(ctx, http.MethodGet, "/fapi/v2/positionRisk?"+params.Encode(), nil, true, &raw); err != nil {
		return nil, err
	}
	var positions []Position
	for _, p := range raw {
		amt := parseFloat(p.PositionAmt)
		if amt == 0 {
			continue
		}
		side := p.PositionSide
		if side == "" || side == "BOTH" {
			side = PositionLong
			if amt < 0 {
				side = PositionShort
			}
		}
		qty := amt
		if qty < 0 {
			qty = -qty
		}
		positions = append(positions, Position{
			Symbol:        p.Symbol,
			Side:          side,
			Quantity:      qty,
			EntryPrice:    parseFloat(p.EntryPrice),
			UnrealizedPnl: parseFloat(p.UnrealizedPnl),
		})
	}
	return positions, nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, signed bool, out any) error {
	if params == nil {
		params = url.Values{}
	}
	query := ""
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		query = path[idx+1:]
		path = path[:idx]
	}
	if query != "" {
		preset, err := url.ParseQuery(query)
		if err != nil {
			return err
		}
		for key, vals := range preset {
			for _, v := range vals {
				params.Set(key, v)
			}
		}
	}
	if signed {
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		if c.recvWindow > 0 {
			params.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
		}
	}
	encoded := params.Encode()
	if signed {
		encoded = encoded + "&signature=" + c.sign(encoded)
	}
	reqURL := c.baseURL + path
	if encoded != "" {
		reqURL = reqURL + "?" + encoded
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		httpReq.Header.Set("X-MBX-APIKEY", c.apiKey)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) sign(payload string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	apiErr := &APIError{Status: resp.StatusCode}
	var parsed struct {
		Code int64  `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		apiErr.Code = parsed.Code
		apiErr.Msg = parsed.Msg
	}
	if apiErr.Msg == "" {
		apiErr.Msg = strings.TrimSpace(string(body))
	}
	return apiErr
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
