package marketctx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quorum/internal/logger"

	"golang.org/x/sync/singleflight"
)

const (
	defaultTTL           = 60 * time.Second
	defaultSourceTimeout = 10 * time.Second
	defaultBarLimit      = 120
)

// Provider builds and caches the shared per-cycle market snapshot.
// Concurrent callers asking for the same symbol set share one upstream
// fetch through singleflight; the result is served from cache for TTL.
type Provider struct {
	bars      BarSource
	news      NewsSource
	sentiment SentimentSource

	ttl           time.Duration
	sourceTimeout time.Duration
	barLimit      int

	mu    sync.Mutex
	cache map[string]cacheEntry
	sf    singleflight.Group

	nowFn func() time.Time
}

type cacheEntry struct {
	ctx     *MarketContext
	fetched time.Time
}

type ProviderOption func(*Provider)

func WithTTL(ttl time.Duration) ProviderOption {
	return func(p *Provider) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

func WithSourceTimeout(d time.Duration) ProviderOption {
	return func(p *Provider) {
		if d > 0 {
			p.sourceTimeout = d
		}
	}
}

func WithBarLimit(n int) ProviderOption {
	return func(p *Provider) {
		if n > 0 {
			p.barLimit = n
		}
	}
}

// NewProvider wires the sources. bars is required; news and sentiment may
// be nil and then simply never contribute.
func NewProvider(bars BarSource, news NewsSource, sentiment SentimentSource, opts ...ProviderOption) *Provider {
	p := &Provider{
		bars:          bars,
		news:          news,
		sentiment:     sentiment,
		ttl:           defaultTTL,
		sourceTimeout: defaultSourceTimeout,
		barLimit:      defaultBarLimit,
		cache:         make(map[string]cacheEntry),
		nowFn:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// GetContext returns the snapshot for symbols, from cache when fresh.
// ErrDataUnavailable is returned only when not a single symbol could be
// priced; optional source failures are reported via Degraded.
func (p *Provider) GetContext(ctx context.Context, symbols []string) (*MarketContext, error) {
	key := cacheKey(symbols)
	if key == "" {
		return nil, fmt.Errorf("%w: no symbols requested", ErrDataUnavailable)
	}

	p.mu.Lock()
	if entry, ok := p.cache[key]; ok && p.nowFn().Sub(entry.fetched) < p.ttl {
		p.mu.Unlock()
		return entry.ctx, nil
	}
	p.mu.Unlock()

	v, err, shared := p.sf.Do(key, func() (interface{}, error) {
		mc, err := p.build(ctx, symbols)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.cache[key] = cacheEntry{ctx: mc, fetched: p.nowFn()}
		p.mu.Unlock()
		return mc, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logger.Debugf("marketctx: shared in-flight fetch for %s", key)
	}
	return v.(*MarketContext), nil
}

// Invalidate drops the cached snapshot for symbols, if any.
func (p *Provider) Invalidate(symbols []string) {
	p.mu.Lock()
	delete(p.cache, cacheKey(symbols))
	p.mu.Unlock()
}

func (p *Provider) build(ctx context.Context, symbols []string) (*MarketContext, error) {
	mc := &MarketContext{AsOf: p.nowFn()}

	for _, symbol := range symbols {
		sctx, err := p.buildSymbol(ctx, symbol)
		if err != nil {
			logger.Warnf("marketctx: bars for %s failed: %v", symbol, err)
			mc.Degraded = append(mc.Degraded, fmt.Sprintf("bars:%s", symbol))
			continue
		}
		mc.Symbols = append(mc.Symbols, sctx)
	}
	if len(mc.Symbols) == 0 {
		return nil, fmt.Errorf("%w: all bar fetches failed", ErrDataUnavailable)
	}

	if p.news != nil {
		nctx, cancel := context.WithTimeout(ctx, p.sourceTimeout)
		items, err := p.news.Headlines(nctx, symbols)
		cancel()
		if err != nil {
			logger.Warnf("marketctx: news digest failed: %v", err)
			mc.Degraded = append(mc.Degraded, "news")
		} else {
			mc.News = items
		}
	}

	if p.sentiment != nil {
		sctx, cancel := context.WithTimeout(ctx, p.sourceTimeout)
		score, mood, err := p.sentiment.Score(sctx)
		cancel()
		if err != nil {
			logger.Warnf("marketctx: sentiment failed: %v", err)
			mc.Degraded = append(mc.Degraded, "sentiment")
		} else {
			mc.Sentiment = score
			mc.Mood = mood
		}
	}

	return mc, nil
}

func (p *Provider) buildSymbol(ctx context.Context, symbol string) (SymbolContext, error) {
	bctx, cancel := context.WithTimeout(ctx, p.sourceTimeout)
	defer cancel()
	bars, err := p.bars.RecentBars(bctx, symbol, p.barLimit)
	if err != nil {
		return SymbolContext{}, err
	}
	if len(bars) == 0 {
		return SymbolContext{}, fmt.Errorf("no bars for %s", symbol)
	}
	return SymbolContext{
		Symbol:     symbol,
		Price:      bars[len(bars)-1].Close,
		Indicators: computeIndicators(bars),
		BarCount:   len(bars),
	}, nil
}
