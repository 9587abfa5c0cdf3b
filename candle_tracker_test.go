package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerDropsDuplicateAndStaleCandles(t *testing.T) {
	engine := NewSignalEngine(DefaultSignalConfig())
	tracker := NewCandleTracker("BTCUSDT", engine, time.Minute, func(TradeSignal) {})

	tracker.OnCandle(Candle{OpenTime: 1000, Close: 100})
	tracker.OnCandle(Candle{OpenTime: 1000, Close: 101}) // duplicate open time
	tracker.OnCandle(Candle{OpenTime: 500, Close: 102})  // older than last
	tracker.OnCandle(Candle{OpenTime: 2000, Close: 103})

	require.Len(t, tracker.window, 2)
	assert.Equal(t, 100.0, tracker.window[0].Close)
	assert.Equal(t, 103.0, tracker.window[1].Close)
}

func TestTrackerEvictsOldestAtCapacity(t *testing.T) {
	engine := NewSignalEngine(DefaultSignalConfig())
	tracker := NewCandleTracker("BTCUSDT", engine, time.Minute, func(TradeSignal) {})

	for i := 0; i < tracker.capacity+10; i++ {
		tracker.OnCandle(Candle{OpenTime: int64(i), Close: float64(i)})
	}

	require.Len(t, tracker.window, tracker.capacity)
	assert.Equal(t, float64(10), tracker.window[0].Close)
}

func TestTrackerPreloadKeepsNewest(t *testing.T) {
	engine := NewSignalEngine(DefaultSignalConfig())
	tracker := NewCandleTracker("BTCUSDT", engine, time.Minute, func(TradeSignal) {})

	history := make([]Candle, tracker.capacity+20)
	for i := range history {
		history[i] = Candle{OpenTime: int64(i), Close: float64(i)}
	}
	tracker.Preload(history)

	require.Len(t, tracker.window, tracker.capacity)
	assert.Equal(t, float64(20), tracker.window[0].Close)
}

func TestTrackerCooldownSuppressesRepeatSignals(t *testing.T) {
	engine := NewSignalEngine(DefaultSignalConfig())
	var dispatched []TradeSignal
	tracker := NewCandleTracker("BTCUSDT", engine, time.Hour, func(sig TradeSignal) {
		dispatched = append(dispatched, sig)
	})

	now := time.Unix(1_700_000_000, 0)
	tracker.now = func() time.Time { return now }

	// Breakouts at 59, 69 and 79; each closes above the prior channel high.
	candles := trendFixture(80, map[int]bool{59: true, 69: true, 79: true})
	tracker.Preload(candles[:59])

	tracker.OnCandle(candles[59])
	require.Len(t, dispatched, 1)
	assert.Equal(t, "BTCUSDT", dispatched[0].Symbol)
	assert.Equal(t, SideLong, dispatched[0].Side)

	// Second breakout lands inside the cooldown window and is suppressed,
	// even though the first open may have failed downstream.
	now = now.Add(10 * time.Minute)
	for _, c := range candles[60:70] {
		tracker.OnCandle(c)
	}
	assert.Len(t, dispatched, 1)

	// Past the cooldown the next breakout dispatches again.
	now = now.Add(2 * time.Hour)
	for _, c := range candles[70:] {
		tracker.OnCandle(c)
	}
	assert.Len(t, dispatched, 2)
}
