package marketctx

import (
	talib "github.com/markcheno/go-talib"
)

const (
	rsiPeriod     = 14
	macdFast      = 12
	macdSlow      = 26
	macdSignal    = 9
	smaShort      = 20
	smaLong       = 50
	rangeLookback = 20
)

// computeIndicators derives the signal set from candles, newest last.
// Indicators that need more history than available are left at zero.
func computeIndicators(bars []Bar) Indicators {
	n := len(bars)
	if n == 0 {
		return Indicators{}
	}
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
	}

	var ind Indicators
	if n > rsiPeriod {
		rsi := talib.Rsi(closes, rsiPeriod)
		ind.RSI14 = rsi[n-1]
	}
	if n >= macdSlow+macdSignal {
		macd, signal, hist := talib.Macd(closes, macdFast, macdSlow, macdSignal)
		ind.MACD = macd[n-1]
		ind.MACDSignal = signal[n-1]
		ind.MACDHist = hist[n-1]
	}
	if n >= smaShort {
		ind.SMA20 = talib.Sma(closes, smaShort)[n-1]
	}
	if n >= smaLong {
		ind.SMA50 = talib.Sma(closes, smaLong)[n-1]
	}

	lookback := rangeLookback
	if lookback > n {
		lookback = n
	}
	ind.Support = lows[n-lookback]
	ind.Resistance = highs[n-lookback]
	for _, lo := range lows[n-lookback:] {
		if lo < ind.Support {
			ind.Support = lo
		}
	}
	for _, hi := range highs[n-lookback:] {
		if hi > ind.Resistance {
			ind.Resistance = hi
		}
	}
	return ind
}
