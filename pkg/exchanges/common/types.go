package common

import (
	"context"
	"time"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes basic order types.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusSubmitted OrderStatus = "SUBMITTED"
	StatusFilled    OrderStatus = "FILLED"
	StatusRejected  OrderStatus = "REJECTED"
	StatusCanceled  OrderStatus = "CANCELED"
	StatusUnknown   OrderStatus = "UNKNOWN"
)

// OrderRequest captures an order intent to be sent to an exchange.
type OrderRequest struct {
	Symbol   string
	Side     Side
	Type     OrderType
	Qty      float64
	Price    float64 // required for LIMIT
	ClientID string  // client order id, used for exchange-side idempotency
}

// OrderResult returns the exchange ack.
type OrderResult struct {
	ExchangeOrderID string
	Status          OrderStatus
	ClientID        string
}

// Ticker is a normalized market quote.
type Ticker struct {
	Symbol    string
	Price     float64
	Bid       float64
	Ask       float64
	Volume    float64
	Change24h float64 // percent, e.g. 5 means +5%
	FetchedAt time.Time
}

// Balance is one asset balance.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// Gateway is the exchange adapter contract consumed by the live engine and
// the market data provider.
type Gateway interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	GetTicker(ctx context.Context, symbol string) (Ticker, error)
	GetBalances(ctx context.Context) ([]Balance, error)
}
