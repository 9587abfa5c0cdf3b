package main

import (
	"errors"
	"math"
)

// Sizing failures abort an open before any remote mutation.
var (
	ErrZeroRiskDistance = errors.New("sizing: entry and stop price coincide")
	ErrBelowMinimumSize = errors.New("sizing: quantity below venue minimum order size")
)

// SizePosition computes the order quantity under a triple control: risk per
// trade, margin cap, and the venue's minimum order size.
//
//	risk qty   = (balance * riskPercent/100) / |entry - stop|
//	margin qty = (balance * marginCapPercent/100 * leverage) / entry
//
// The smaller of the two is floor-quantized to the instrument's QtyStep. Pure
// function: the caller supplies the balance.
func SizePosition(balance, entry, stop, riskPercent float64, leverage int, marginCapPercent float64, rules InstrumentRules) (float64, error) {
	riskPerUnit := math.Abs(entry - stop)
	if riskPerUnit == 0 {
		return 0, ErrZeroRiskDistance
	}

	riskQty := balance * (riskPercent / 100.0) / riskPerUnit
	marginQty := balance * (marginCapPercent / 100.0) * float64(leverage) / entry

	qty := riskQty
	if marginQty < qty {
		qty = marginQty
	}

	qty = rules.FloorQty(qty)
	if qty < rules.MinOrderQty {
		return 0, ErrBelowMinimumSize
	}
	return qty, nil
}
