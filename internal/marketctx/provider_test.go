package marketctx

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBars struct {
	calls atomic.Int64
	fail  map[string]bool
	delay time.Duration
}

func (f *fakeBars) RecentBars(ctx context.Context, symbol string, limit int) ([]Bar, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail[symbol] {
		return nil, errors.New("upstream down")
	}
	bars := make([]Bar, 60)
	for i := range bars {
		price := 100 + float64(i)
		bars[i] = Bar{Open: price, High: price + 1, Low: price - 1, Close: price, Volume: 1000}
	}
	return bars, nil
}

type fakeNews struct{ err error }

func (f *fakeNews) Headlines(ctx context.Context, symbols []string) ([]NewsItem, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []NewsItem{{Headline: "Fed holds rates", Source: "wire"}}, nil
}

type fakeSentiment struct{ err error }

func (f *fakeSentiment) Score(ctx context.Context) (float64, string, error) {
	if f.err != nil {
		return 0, "", f.err
	}
	return 62, "greed", nil
}

func TestGetContext_BuildsIndicators(t *testing.T) {
	p := NewProvider(&fakeBars{}, &fakeNews{}, &fakeSentiment{})
	mc, err := p.GetContext(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	require.Len(t, mc.Symbols, 1)

	sc := mc.Symbols[0]
	assert.Equal(t, "AAPL", sc.Symbol)
	assert.Equal(t, 159.0, sc.Price)
	assert.Greater(t, sc.Indicators.RSI14, 50.0)
	assert.Greater(t, sc.Indicators.SMA20, sc.Indicators.SMA50)
	assert.Equal(t, 62.0, mc.Sentiment)
	assert.Len(t, mc.News, 1)
	assert.Empty(t, mc.Degraded)
}

func TestGetContext_CachedWithinTTL(t *testing.T) {
	bars := &fakeBars{}
	p := NewProvider(bars, nil, nil, WithTTL(time.Minute))

	_, err := p.GetContext(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	_, err = p.GetContext(context.Background(), []string{"aapl "})
	require.NoError(t, err)

	assert.Equal(t, int64(1), bars.calls.Load())

	p.Invalidate([]string{"AAPL"})
	_, err = p.GetContext(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), bars.calls.Load())
}

func TestGetContext_SingleFlight(t *testing.T) {
	bars := &fakeBars{delay: 50 * time.Millisecond}
	p := NewProvider(bars, nil, nil, WithTTL(time.Minute))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.GetContext(context.Background(), []string{"AAPL"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), bars.calls.Load())
}

func TestGetContext_OptionalSourcesDegrade(t *testing.T) {
	p := NewProvider(&fakeBars{}, &fakeNews{err: errors.New("timeout")}, &fakeSentiment{err: errors.New("500")})
	mc, err := p.GetContext(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"news", "sentiment"}, mc.Degraded)
	assert.Empty(t, mc.News)
}

func TestGetContext_PartialSymbolFailureDegrades(t *testing.T) {
	bars := &fakeBars{fail: map[string]bool{"MSFT": true}}
	p := NewProvider(bars, nil, nil)
	mc, err := p.GetContext(context.Background(), []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	require.Len(t, mc.Symbols, 1)
	assert.Equal(t, "AAPL", mc.Symbols[0].Symbol)
	assert.Contains(t, mc.Degraded, "bars:MSFT")
}

func TestGetContext_AllSourcesFail(t *testing.T) {
	bars := &fakeBars{fail: map[string]bool{"AAPL": true, "MSFT": true}}
	p := NewProvider(bars, nil, nil)
	_, err := p.GetContext(context.Background(), []string{"AAPL", "MSFT"})
	assert.ErrorIs(t, err, ErrDataUnavailable)
}

func TestGetContext_NoSymbols(t *testing.T) {
	p := NewProvider(&fakeBars{}, nil, nil)
	_, err := p.GetContext(context.Background(), nil)
	assert.ErrorIs(t, err, ErrDataUnavailable)
}
