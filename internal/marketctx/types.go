package marketctx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"quorum/internal/pkg/symbol"
)

// ErrDataUnavailable is returned only when no usable market data could be
// produced at all. Partial source failures degrade the context instead.
var ErrDataUnavailable = errors.New("market data unavailable")

// Bar is one OHLCV candle.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Indicators holds the derived per-symbol signals fed into prompts.
type Indicators struct {
	RSI14      float64
	MACD       float64
	MACDSignal float64
	MACDHist   float64
	SMA20      float64
	SMA50      float64
	Support    float64
	Resistance float64
}

// SymbolContext is the market view for one symbol.
type SymbolContext struct {
	Symbol     string
	Price      float64
	Indicators Indicators
	BarCount   int
}

// NewsItem is one headline from the news digest source.
type NewsItem struct {
	Headline    string
	Source      string
	PublishedAt time.Time
}

// MarketContext is the shared snapshot handed to every agent in a cycle.
type MarketContext struct {
	AsOf      time.Time
	Symbols   []SymbolContext
	News      []NewsItem
	Sentiment float64
	Mood      string
	// Degraded lists the sources that failed while building this snapshot.
	Degraded []string
}

// BarSource provides recent candles, newest last.
type BarSource interface {
	RecentBars(ctx context.Context, symbol string, limit int) ([]Bar, error)
}

// NewsSource provides a recent headline digest. Optional.
type NewsSource interface {
	Headlines(ctx context.Context, symbols []string) ([]NewsItem, error)
}

// SentimentSource provides a market mood score in [0, 100]. Optional.
type SentimentSource interface {
	Score(ctx context.Context) (float64, string, error)
}

// Summary renders the snapshot as the compact text block used in prompts.
func (mc *MarketContext) Summary() string {
	if mc == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Market snapshot %s\n", mc.AsOf.Format(time.RFC3339))
	for _, sc := range mc.Symbols {
		ind := sc.Indicators
		fmt.Fprintf(&b, "%s price=%.2f rsi14=%.1f macd=%.3f/%.3f sma20=%.2f sma50=%.2f support=%.2f resistance=%.2f\n",
			sc.Symbol, sc.Price, ind.RSI14, ind.MACD, ind.MACDSignal,
			ind.SMA20, ind.SMA50, ind.Support, ind.Resistance)
	}
	if mc.Mood != "" {
		fmt.Fprintf(&b, "Sentiment: %.0f (%s)\n", mc.Sentiment, mc.Mood)
	}
	if len(mc.News) > 0 {
		b.WriteString("Headlines:\n")
		for _, n := range mc.News {
			fmt.Fprintf(&b, "- %s (%s)\n", n.Headline, n.Source)
		}
	}
	if len(mc.Degraded) > 0 {
		fmt.Fprintf(&b, "Degraded sources: %s\n", strings.Join(mc.Degraded, ", "))
	}
	return b.String()
}

func cacheKey(symbols []string) string {
	return strings.Join(symbol.NormalizeAll(symbols), ",")
}
