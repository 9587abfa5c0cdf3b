package main

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trendFixture builds a steady uptrend with long upper wicks, where every
// candle in jumpAt closes above the prior channel high. Regular candles stay
// inside the channel because the wicks keep the channel above the closes.
func trendFixture(n int, jumpAt map[int]bool) []Candle {
	out := make([]Candle, n)
	px := 100.0
	for i := 0; i < n; i++ {
		prev := px
		if jumpAt[i] {
			px += 4.0
		} else {
			px += 0.5
		}
		out[i] = Candle{
			OpenTime: int64(i) * 60_000,
			Open:     prev,
			High:     px + 3.0,
			Low:      px - 0.5,
			Close:    px,
			Volume:   100 + float64(i),
		}
	}
	return out
}

// rangeFixture alternates closes around 100 with heavy volume on the down
// candles, then spikes below the lower band on the final candle.
func rangeFixture(n int) []Candle {
	out := make([]Candle, n)
	for i := 0; i < n; i++ {
		cl := 100.0 + 2.0
		vol := 50.0
		if i%2 == 1 {
			cl = 100.0 - 2.0
			vol = 1000.0
		}
		out[i] = Candle{
			OpenTime: int64(i) * 60_000,
			Open:     100,
			High:     cl + 0.5,
			Low:      cl - 0.5,
			Close:    cl,
			Volume:   vol,
		}
	}
	last := &out[n-1]
	last.Close = 96.0
	last.High = 96.5
	last.Low = 95.0
	last.Volume = 1000.0
	return out
}

func TestEvaluateTrendBreakoutLong(t *testing.T) {
	engine := NewSignalEngine(DefaultSignalConfig())
	window := trendFixture(60, map[int]bool{59: true})
	i := len(window) - 1

	sig := engine.Evaluate(window)
	require.NotNil(t, sig)
	assert.Equal(t, SideLong, sig.Side)
	assert.Equal(t, StrategyTrend, sig.Strategy)
	assert.Equal(t, window[i].Close, sig.Entry)

	atr := atrSeries(window, 14)[i]
	upper, _ := channelSeries(window, 20)
	assert.InDelta(t, upper[i]-0.5*atr, sig.StopLoss, 1e-9)
	assert.InDelta(t, sig.Entry+3.0*atr, sig.TakeProfit1, 1e-9)
	assert.InDelta(t, sig.Entry+6.0*atr, sig.TakeProfit2, 1e-9)
	assert.Less(t, sig.StopLoss, sig.Entry)
	assert.Less(t, sig.TakeProfit1, sig.TakeProfit2)
}

func TestEvaluateTrendRequiresFreshBreakout(t *testing.T) {
	engine := NewSignalEngine(DefaultSignalConfig())

	// A steady ramp without a jump never closes above the wick-dominated
	// channel, so no signal fires even though ADX is maxed out.
	window := trendFixture(60, nil)
	assert.Nil(t, engine.Evaluate(window))

	// One candle after the breakout the close is back inside the channel.
	window = trendFixture(61, map[int]bool{59: true})
	assert.Nil(t, engine.Evaluate(window))
}

func TestEvaluateRangeReversalLong(t *testing.T) {
	engine := NewSignalEngine(DefaultSignalConfig())
	window := rangeFixture(60)
	i := len(window) - 1

	sig := engine.Evaluate(window)
	require.NotNil(t, sig)
	assert.Equal(t, SideLong, sig.Side)
	assert.Equal(t, StrategyRange, sig.Strategy)
	assert.Equal(t, window[i].Close, sig.Entry)

	// Both targets collapse to the band midline in range mode.
	assert.Equal(t, sig.TakeProfit1, sig.TakeProfit2)
	mid, _, lower := bollingerSeries(closesOf(window), 20, 2.0)
	assert.InDelta(t, mid[i], sig.TakeProfit1, 1e-9)
	assert.LessOrEqual(t, window[i].Low, lower[i])

	atr := atrSeries(window, 14)[i]
	assert.InDelta(t, sig.Entry-2.0*atr, sig.StopLoss, 1e-9)
}

func TestEvaluateShortWindowYieldsNoSignal(t *testing.T) {
	engine := NewSignalEngine(DefaultSignalConfig())
	window := trendFixture(engine.Lookback()-1, map[int]bool{engine.Lookback() - 2: true})
	assert.Nil(t, engine.Evaluate(window))
}

func TestIndicatorsAreCausal(t *testing.T) {
	full := trendFixture(80, map[int]bool{59: true, 69: true})
	prefix := full[:60]

	atrFull := atrSeries(full, 14)
	atrPrefix := atrSeries(prefix, 14)
	adxFull := adxSeries(full, 14)
	adxPrefix := adxSeries(prefix, 14)
	upFull, loFull := channelSeries(full, 20)
	upPrefix, loPrefix := channelSeries(prefix, 20)
	mfiFull := mfiSeries(full, 14)
	mfiPrefix := mfiSeries(prefix, 14)

	for i := 0; i < len(prefix); i++ {
		assertSameValue(t, atrPrefix[i], atrFull[i])
		assertSameValue(t, adxPrefix[i], adxFull[i])
		assertSameValue(t, upPrefix[i], upFull[i])
		assertSameValue(t, loPrefix[i], loFull[i])
		assertSameValue(t, mfiPrefix[i], mfiFull[i])
	}
}

func TestEvaluateDoesNotMutateWindow(t *testing.T) {
	engine := NewSignalEngine(DefaultSignalConfig())
	window := trendFixture(60, map[int]bool{59: true})
	before := make([]Candle, len(window))
	copy(before, window)

	first := engine.Evaluate(window)
	second := engine.Evaluate(window)

	assert.Equal(t, before, window)
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, *first, *second)
}

func closesOf(cs []Candle) []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Close
	}
	return out
}

func assertSameValue(t *testing.T, a, b float64) {
	t.Helper()
	if math.IsNaN(a) && math.IsNaN(b) {
		return
	}
	assert.InDelta(t, a, b, 1e-12)
}
