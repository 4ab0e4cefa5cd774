package broker

import "time"

// Logical endpoints used to select rate-limit policy.
const (
	EndpointAccount   = "/v2/account"
	EndpointPositions = "/v2/positions"
	EndpointOrders    = "/v2/orders"
	EndpointQuotes    = "/v2/quotes"
)

// Account is the trading account snapshot.
type Account struct {
	ID          string  `json:"id"`
	Currency    string  `json:"currency"`
	Cash        float64 `json:"cash"`
	Equity      float64 `json:"equity"`
	BuyingPower float64 `json:"buying_power"`
	PatternDay  bool    `json:"pattern_day_trader"`
}

// Position is one open position.
type Position struct {
	Symbol        string  `json:"symbol"`
	Qty           float64 `json:"qty"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPL  float64 `json:"unrealized_pl"`
}

// Quote is the latest bid/ask/last for one symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Last      float64   `json:"last"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderRequest is the payload for placing an order.
type OrderRequest struct {
	Symbol      string  `json:"symbol"`
	Qty         float64 `json:"qty"`
	Side        string  `json:"side"` // buy | sell
	Type        string  `json:"type"` // market | limit
	LimitPrice  float64 `json:"limit_price,omitempty"`
	TimeInForce string  `json:"time_in_force"` // day | gtc | ioc
}

// Order is an accepted order as reported by the provider.
type Order struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Qty         float64   `json:"qty"`
	Side        string    `json:"side"`
	Type        string    `json:"type"`
	LimitPrice  float64   `json:"limit_price,omitempty"`
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
}
