package broker

import (
	"context"
	"fmt"
	"time"

	"quorum/internal/marketctx"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
)

// AlpacaBroker submits orders through Alpaca and doubles as the bar source
// for the market context provider. Credentials come from the standard
// APCA_API_KEY_ID / APCA_API_SECRET_KEY environment variables when the
// opts are left empty.
type AlpacaBroker struct {
	tradeClient *alpaca.Client
	mdClient    *marketdata.Client
}

var (
	_ Broker              = (*AlpacaBroker)(nil)
	_ marketctx.BarSource = (*AlpacaBroker)(nil)
)

func NewAlpacaBroker(baseURL string) *AlpacaBroker {
	return &AlpacaBroker{
		tradeClient: alpaca.NewClient(alpaca.ClientOpts{BaseURL: baseURL}),
		mdClient:    marketdata.NewClient(marketdata.ClientOpts{}),
	}
}

// acceptedOrderStatuses are the acknowledgement states that count as the
// brokerage taking the order. Anything else is treated as a rejection.
var acceptedOrderStatuses = map[string]bool{
	"new":              true,
	"accepted":         true,
	"pending_new":      true,
	"partially_filled": true,
	"filled":           true,
}

func (b *AlpacaBroker) SubmitMarketOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if req.Symbol == "" {
		return OrderResult{}, fmt.Errorf("order symbol required")
	}
	qty := req.Qty
	order, err := b.tradeClient.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          alpaca.Side(req.Side),
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		ClientOrderID: req.ClientOrderID,
	})
	if err != nil {
		return OrderResult{}, err
	}
	status := string(order.Status)
	return OrderResult{
		OrderID:  order.ID,
		Status:   status,
		Accepted: acceptedOrderStatuses[status],
	}, nil
}

func (b *AlpacaBroker) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	trade, err := b.mdClient.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{})
	if err != nil {
		return 0, err
	}
	if trade == nil {
		return 0, fmt.Errorf("no trade data for %s", symbol)
	}
	return trade.Price, nil
}

func (b *AlpacaBroker) MarketClock(ctx context.Context) (Clock, error) {
	clock, err := b.tradeClient.GetClock()
	if err != nil {
		return Clock{}, err
	}
	return Clock{
		IsOpen:    clock.IsOpen,
		NextOpen:  clock.NextOpen,
		NextClose: clock.NextClose,
	}, nil
}

// RecentBars fetches daily candles, newest last.
func (b *AlpacaBroker) RecentBars(ctx context.Context, symbol string, limit int) ([]marketctx.Bar, error) {
	if limit <= 0 {
		limit = 120
	}
	// Weekends and holidays thin out the calendar days, so over-fetch.
	start := time.Now().AddDate(0, 0, -limit*2)
	bars, err := b.mdClient.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Start:      start,
		TotalLimit: limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]marketctx.Bar, 0, len(bars))
	for _, bar := range bars {
		out = append(out, marketctx.Bar{
			Time:   bar.Timestamp,
			Open:   bar.Open,
			High:   bar.High,
			Low:    bar.Low,
			Close:  bar.Close,
			Volume: float64(bar.Volume),
		})
	}
	return out, nil
}
