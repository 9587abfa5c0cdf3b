package main

import "math"

// ============================================================================
// SIGNAL ENGINE - HYBRID TREND/RANGE STRATEGY
// ============================================================================

// SignalConfig holds the indicator lookbacks and regime thresholds.
type SignalConfig struct {
	DonchianWindow int
	EMAWindow      int
	ATRWindow      int
	BBWindow       int
	BBStdDev       float64
	ADXWindow      int
	MFIWindow      int

	TrendADX float64 // trend regime when ADX is above this
	RangeADX float64 // range regime when ADX is below this
}

// DefaultSignalConfig mirrors the live strategy parameters.
func DefaultSignalConfig() SignalConfig {
	return SignalConfig{
		DonchianWindow: 20,
		EMAWindow:      50,
		ATRWindow:      14,
		BBWindow:       20,
		BBStdDev:       2.0,
		ADXWindow:      14,
		MFIWindow:      14,
		TrendADX:       25,
		RangeADX:       20,
	}
}

// SignalEngine is a pure function of a candle window: no I/O, no state.
// All indicators are computed causally, so the value at index i depends only
// on candles [0..i].
type SignalEngine struct {
	cfg SignalConfig
}

func NewSignalEngine(cfg SignalConfig) *SignalEngine {
	return &SignalEngine{cfg: cfg}
}

// Lookback returns the minimum window length Evaluate needs before it can
// produce a signal. Shorter windows yield no signal (not an error).
func (se *SignalEngine) Lookback() int {
	cfg := se.cfg
	lb := cfg.DonchianWindow + 1
	for _, v := range []int{cfg.EMAWindow, cfg.BBWindow, 2 * cfg.ADXWindow, cfg.MFIWindow + 1, cfg.ATRWindow + 1} {
		if v > lb {
			lb = v
		}
	}
	return lb
}

// Evaluate inspects the most recent completed candle and returns at most one
// signal. Trend rules are checked first; the two ADX thresholds do not
// overlap, so the regimes are mutually exclusive by construction.
func (se *SignalEngine) Evaluate(window []Candle) *TradeSignal {
	cfg := se.cfg
	if len(window) < se.Lookback() {
		return nil
	}

	i := len(window) - 1
	closes := make([]float64, len(window))
	for k, c := range window {
		closes[k] = c.Close
	}

	atr := atrSeries(window, cfg.ATRWindow)
	adx := adxSeries(window, cfg.ADXWindow)
	chUpper, chLower := channelSeries(window, cfg.DonchianWindow)
	ema := emaSeries(closes, cfg.EMAWindow)
	bbMid, bbUpper, bbLower := bollingerSeries(closes, cfg.BBWindow, cfg.BBStdDev)
	mfi := mfiSeries(window, cfg.MFIWindow)

	for _, v := range []float64{atr[i], adx[i], chUpper[i], chUpper[i-1], chLower[i], chLower[i-1], ema[i], bbMid[i], bbUpper[i], bbLower[i], mfi[i]} {
		if math.IsNaN(v) {
			return nil
		}
	}

	c := window[i]
	prev := window[i-1]

	switch {
	case adx[i] > cfg.TrendADX:
		// Breakout beyond the channel built from PRIOR candles only; the
		// previous close must still have been inside it.
		longBreak := c.Close > chUpper[i] && prev.Close <= chUpper[i-1]
		shortBreak := c.Close < chLower[i] && prev.Close >= chLower[i-1]

		if longBreak && c.Close > ema[i] && mfi[i] > 50 {
			return &TradeSignal{
				Side:        SideLong,
				Strategy:    StrategyTrend,
				Entry:       c.Close,
				StopLoss:    chUpper[i] - 0.5*atr[i],
				TakeProfit1: c.Close + 3.0*atr[i],
				TakeProfit2: c.Close + 6.0*atr[i],
			}
		}
		if shortBreak && c.Close < ema[i] && mfi[i] < 50 {
			return &TradeSignal{
				Side:        SideShort,
				Strategy:    StrategyTrend,
				Entry:       c.Close,
				StopLoss:    chLower[i] + 0.5*atr[i],
				TakeProfit1: c.Close - 3.0*atr[i],
				TakeProfit2: c.Close - 6.0*atr[i],
			}
		}

	case adx[i] < cfg.RangeADX:
		// Mean reversion off the volatility bands with a money-flow extreme.
		if c.Low <= bbLower[i] && mfi[i] < 20 {
			return &TradeSignal{
				Side:        SideLong,
				Strategy:    StrategyRange,
				Entry:       c.Close,
				StopLoss:    c.Close - 2.0*atr[i],
				TakeProfit1: bbMid[i],
				TakeProfit2: bbMid[i],
			}
		}
		if c.High >= bbUpper[i] && mfi[i] > 80 {
			return &TradeSignal{
				Side:        SideShort,
				Strategy:    StrategyRange,
				Entry:       c.Close,
				StopLoss:    c.Close + 2.0*atr[i],
				TakeProfit1: bbMid[i],
				TakeProfit2: bbMid[i],
			}
		}
	}

	return nil
}

// ============================================================================
// INDICATORS (causal series; NaN during warm-up)
// ============================================================================

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func trueRange(c Candle, prevClose float64) float64 {
	tr := c.High - c.Low
	if v := math.Abs(c.High - prevClose); v > tr {
		tr = v
	}
	if v := math.Abs(c.Low - prevClose); v > tr {
		tr = v
	}
	return tr
}

// atrSeries computes the Average True Range with Wilder smoothing.
func atrSeries(cs []Candle, period int) []float64 {
	n := len(cs)
	out := nanSeries(n)
	if n < period+1 {
		return out
	}

	atr := 0.0
	for i := 1; i < n; i++ {
		tr := trueRange(cs[i], cs[i-1].Close)
		if i <= period {
			atr += tr
			if i == period {
				atr /= float64(period)
				out[i] = atr
			}
			continue
		}
		atr = (atr*float64(period-1) + tr) / float64(period)
		out[i] = atr
	}
	return out
}

// adxSeries computes the Average Directional Index (trend-strength measure)
// with Wilder smoothing of TR and the directional movements.
func adxSeries(cs []Candle, period int) []float64 {
	n := len(cs)
	out := nanSeries(n)
	if n < 2*period {
		return out
	}

	var smTR, smPlus, smMinus float64
	dx := nanSeries(n)

	for i := 1; i < n; i++ {
		tr := trueRange(cs[i], cs[i-1].Close)
		up := cs[i].High - cs[i-1].High
		down := cs[i-1].Low - cs[i].Low
		plusDM, minusDM := 0.0, 0.0
		if up > down && up > 0 {
			plusDM = up
		}
		if down > up && down > 0 {
			minusDM = down
		}

		if i <= period {
			smTR += tr
			smPlus += plusDM
			smMinus += minusDM
			if i < period {
				continue
			}
		} else {
			smTR = smTR - smTR/float64(period) + tr
			smPlus = smPlus - smPlus/float64(period) + plusDM
			smMinus = smMinus - smMinus/float64(period) + minusDM
		}

		if smTR == 0 {
			dx[i] = 0
			continue
		}
		diPlus := 100 * smPlus / smTR
		diMinus := 100 * smMinus / smTR
		if diPlus+diMinus == 0 {
			dx[i] = 0
			continue
		}
		dx[i] = 100 * math.Abs(diPlus-diMinus) / (diPlus + diMinus)
	}

	// First ADX is the plain average of the first `period` DX values, then
	// Wilder-smoothed from there.
	adx := 0.0
	count := 0
	for i := period; i < n; i++ {
		if count < period {
			adx += dx[i]
			count++
			if count == period {
				adx /= float64(period)
				out[i] = adx
			}
			continue
		}
		adx = (adx*float64(period-1) + dx[i]) / float64(period)
		out[i] = adx
	}
	return out
}

// channelSeries returns the rolling high/low channel built from the `window`
// candles BEFORE each index. Excluding the current candle keeps a close above
// the upper bound meaningful as a breakout.
func channelSeries(cs []Candle, window int) (upper, lower []float64) {
	n := len(cs)
	upper = nanSeries(n)
	lower = nanSeries(n)
	for i := window; i < n; i++ {
		hi := cs[i-window].High
		lo := cs[i-window].Low
		for k := i - window + 1; k < i; k++ {
			if cs[k].High > hi {
				hi = cs[k].High
			}
			if cs[k].Low < lo {
				lo = cs[k].Low
			}
		}
		upper[i] = hi
		lower[i] = lo
	}
	return upper, lower
}

func emaSeries(values []float64, period int) []float64 {
	n := len(values)
	out := nanSeries(n)
	if n < period {
		return out
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	ema := sum / float64(period)
	out[period-1] = ema

	k := 2.0 / float64(period+1)
	for i := period; i < n; i++ {
		ema = values[i]*k + ema*(1-k)
		out[i] = ema
	}
	return out
}

// bollingerSeries returns the volatility band mid/upper/lower over closes.
func bollingerSeries(values []float64, window int, dev float64) (mid, upper, lower []float64) {
	n := len(values)
	mid = nanSeries(n)
	upper = nanSeries(n)
	lower = nanSeries(n)

	for i := window - 1; i < n; i++ {
		sum := 0.0
		for k := i - window + 1; k <= i; k++ {
			sum += values[k]
		}
		mean := sum / float64(window)

		variance := 0.0
		for k := i - window + 1; k <= i; k++ {
			d := values[k] - mean
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(window))

		mid[i] = mean
		upper[i] = mean + dev*sd
		lower[i] = mean - dev*sd
	}
	return mid, upper, lower
}

// mfiSeries computes the Money Flow Index (volume confirmation measure).
func mfiSeries(cs []Candle, period int) []float64 {
	n := len(cs)
	out := nanSeries(n)
	if n < period+1 {
		return out
	}

	pos := make([]float64, n)
	neg := make([]float64, n)
	prevTP := (cs[0].High + cs[0].Low + cs[0].Close) / 3.0
	for i := 1; i < n; i++ {
		tp := (cs[i].High + cs[i].Low + cs[i].Close) / 3.0
		flow := tp * cs[i].Volume
		if tp > prevTP {
			pos[i] = flow
		} else if tp < prevTP {
			neg[i] = flow
		}
		prevTP = tp
	}

	for i := period; i < n; i++ {
		var posSum, negSum float64
		for k := i - period + 1; k <= i; k++ {
			posSum += pos[k]
			negSum += neg[k]
		}
		if negSum == 0 {
			out[i] = 100
			continue
		}
		out[i] = 100 - 100/(1+posSum/negSum)
	}
	return out
}
