package main

import (
	"log"
	"time"
)

// CandleTracker maintains the rolling candle window for one symbol, runs the
// signal engine on every confirmed candle, and enforces the per-symbol signal
// cooldown. Not safe for concurrent use; each symbol's tracker is fed from a
// single consumer goroutine.
type CandleTracker struct {
	symbol   string
	engine   *SignalEngine
	capacity int
	window   []Candle

	cooldown     time.Duration
	lastSignalAt time.Time

	dispatch func(TradeSignal)
	now      func() time.Time
}

// NewCandleTracker sizes the window to the engine lookback plus headroom, so
// indicator warm-up never starves evaluation.
func NewCandleTracker(symbol string, engine *SignalEngine, cooldown time.Duration, dispatch func(TradeSignal)) *CandleTracker {
	capacity := engine.Lookback() + 50
	return &CandleTracker{
		symbol:   symbol,
		engine:   engine,
		capacity: capacity,
		window:   make([]Candle, 0, capacity),
		cooldown: cooldown,
		dispatch: dispatch,
		now:      time.Now,
	}
}

// Preload seeds the window from historical candles, keeping the newest ones
// when more than capacity are supplied. No evaluation runs on preload.
func (ct *CandleTracker) Preload(candles []Candle) {
	if len(candles) > ct.capacity {
		candles = candles[len(candles)-ct.capacity:]
	}
	ct.window = append(ct.window[:0], candles...)
	log.Printf("📊 %s preloaded %d candles", ct.symbol, len(ct.window))
}

// OnCandle ingests one confirmed candle. Duplicates and out-of-order candles
// are dropped by open-time comparison.
func (ct *CandleTracker) OnCandle(c Candle) {
	if n := len(ct.window); n > 0 && c.OpenTime <= ct.window[n-1].OpenTime {
		return
	}

	ct.window = append(ct.window, c)
	if len(ct.window) > ct.capacity {
		ct.window = ct.window[1:]
	}

	sig := ct.engine.Evaluate(ct.window)
	if sig == nil {
		return
	}
	sig.Symbol = ct.symbol

	if since := ct.now().Sub(ct.lastSignalAt); !ct.lastSignalAt.IsZero() && since < ct.cooldown {
		log.Printf("⏳ %s signal suppressed, cooldown has %s left", ct.symbol, (ct.cooldown - since).Round(time.Second))
		return
	}

	// The cooldown clock restarts on emission, before dispatch runs and
	// regardless of whether the open succeeds.
	ct.lastSignalAt = ct.now()
	ct.dispatch(*sig)
}
