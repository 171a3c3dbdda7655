package rest

// Sides and position sides use the exchange's wire spelling.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	PositionLong  = "LONG"
	PositionShort = "SHORT"

	OrderTypeMarket = "MARKET"
)

// SymbolFilters is the subset of exchangeInfo filters the sizing path needs.
type SymbolFilters struct {
	Symbol      string
	TickSize    float64
	StepSize    float64
	MinQty      float64
	MinNotional float64
}

type Balance struct {
	Asset     string
	Balance   float64
	Available float64
}

// Position is one leg as reported by positionRisk. Quantity is always the
// absolute size; the direction lives in Side.
type Position struct {
	Symbol        string
	Side          string
	Quantity      float64
	EntryPrice    float64
	UnrealizedPnl float64
}

type OrderRequest struct {
	Symbol        string
	Side          string
	PositionSide  string
	Type          string
	Quantity      float64
	ClientOrderID string
}

type OrderResponse struct {
	OrderID       int64
	ClientOrderID string
	Status        string
	AvgPrice      float64
	ExecutedQty   float64
}

// Filled reports whether the exchange confirmed a complete fill.
func (r OrderResponse) Filled() bool {
	return r.Status == "FILLED" && r.ExecutedQty > 0
}
