package main

// Candle is one confirmed, fixed-duration price/volume sample. Candles are
// immutable once confirmed and strictly ordered by OpenTime.
type Candle struct {
	OpenTime int64   `json:"openTime"` // unix milliseconds
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

// SymbolCandle pairs a confirmed candle with the symbol it belongs to, for
// fan-in over a single stream channel.
type SymbolCandle struct {
	Symbol string
	Candle Candle
}

// Side of a position or signal.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the closing side for a position opened on s.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// StrategyKind classifies which rule set produced a signal.
type StrategyKind string

const (
	StrategyTrend StrategyKind = "TREND"
	StrategyRange StrategyKind = "RANGE"
)

// TradeSignal is the output of one analysis pass: at most one per candle,
// produced fresh and never mutated.
type TradeSignal struct {
	Symbol      string
	Side        Side
	Strategy    StrategyKind
	Entry       float64
	StopLoss    float64
	TakeProfit1 float64
	TakeProfit2 float64
}
