package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Side of an order, matching the brokerage wire values.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// OrderRequest is a simple market order, day time-in-force.
type OrderRequest struct {
	Symbol        string
	Qty           decimal.Decimal
	Side          string
	ClientOrderID string
}

// OrderResult is the brokerage acknowledgement.
type OrderResult struct {
	OrderID  string
	Status   string
	Accepted bool
}

// Clock is the brokerage market clock.
type Clock struct {
	IsOpen    bool
	NextOpen  time.Time
	NextClose time.Time
}

// Broker is the order and pricing surface the execution manager uses.
type Broker interface {
	SubmitMarketOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	LatestPrice(ctx context.Context, symbol string) (float64, error)
	MarketClock(ctx context.Context) (Clock, error)
}
