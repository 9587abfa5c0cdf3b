package main

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentRules are the per-symbol quantization constraints the venue
// enforces on every order.
type InstrumentRules struct {
	TickSize    float64
	QtyStep     float64
	MinOrderQty float64
}

// FloorQty quantizes qty down to an exact multiple of QtyStep.
func (r InstrumentRules) FloorQty(qty float64) float64 {
	return quantize(qty, r.QtyStep, false)
}

// PriceDown quantizes price down to the tick grid.
func (r InstrumentRules) PriceDown(price float64) float64 {
	return quantize(price, r.TickSize, false)
}

// PriceUp quantizes price up to the tick grid.
func (r InstrumentRules) PriceUp(price float64) float64 {
	return quantize(price, r.TickSize, true)
}

// PriceNearest quantizes price to the closest tick.
func (r InstrumentRules) PriceNearest(price float64) float64 {
	if r.TickSize <= 0 {
		return price
	}
	v := decimal.NewFromFloat(price)
	s := decimal.NewFromFloat(r.TickSize)
	f, _ := v.Div(s).Round(0).Mul(s).Float64()
	return f
}

// SafeStop rounds a stop price toward the side that cannot widen the loss:
// down for longs, up for shorts.
func (r InstrumentRules) SafeStop(price float64, side Side) float64 {
	if side == SideLong {
		return r.PriceDown(price)
	}
	return r.PriceUp(price)
}

// SafeTarget rounds a profit target away from entry: up for longs, down for
// shorts, so quantization never shrinks the gain.
func (r InstrumentRules) SafeTarget(price float64, side Side) float64 {
	if side == SideLong {
		return r.PriceUp(price)
	}
	return r.PriceDown(price)
}

// WithinTick reports whether a and b agree within exactly one tick. The
// tolerance is deliberately no wider; anything more would mask real
// placement errors.
func (r InstrumentRules) WithinTick(a, b float64) bool {
	diff := decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).Abs()
	return diff.Cmp(decimal.NewFromFloat(r.TickSize)) <= 0
}

func quantize(value, step float64, up bool) float64 {
	if step <= 0 {
		return value
	}
	v := decimal.NewFromFloat(value)
	s := decimal.NewFromFloat(step)
	q := v.Div(s)
	if up {
		q = q.Ceil()
	} else {
		q = q.Floor()
	}
	f, _ := q.Mul(s).Float64()
	return f
}

// ============================================================================
// RULES CACHE
// ============================================================================

type rulesEntry struct {
	rules     InstrumentRules
	fetchedAt time.Time
}

// RulesCache caches instrument rules per symbol with a time-based refresh,
// so the hot path never hammers the venue's exchange-info endpoint.
type RulesCache struct {
	gw  ExecutionGateway
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]rulesEntry
	now     func() time.Time
}

func NewRulesCache(gw ExecutionGateway, ttl time.Duration) *RulesCache {
	return &RulesCache{
		gw:      gw,
		ttl:     ttl,
		entries: make(map[string]rulesEntry),
		now:     time.Now,
	}
}

// Rules returns the cached rules for symbol, refetching on miss or expiry.
func (rc *RulesCache) Rules(ctx context.Context, symbol string) (InstrumentRules, error) {
	rc.mu.Lock()
	entry, ok := rc.entries[symbol]
	fresh := ok && rc.now().Sub(entry.fetchedAt) < rc.ttl
	rc.mu.Unlock()

	if fresh {
		return entry.rules, nil
	}

	rules, err := rc.gw.GetInstrumentRules(ctx, symbol)
	if err != nil {
		// Serve the stale entry rather than fail a live trade decision.
		if ok {
			log.Printf("⚠️ rules refresh failed for %s, serving stale: %v", symbol, err)
			return entry.rules, nil
		}
		return InstrumentRules{}, err
	}

	rc.mu.Lock()
	rc.entries[symbol] = rulesEntry{rules: rules, fetchedAt: rc.now()}
	rc.mu.Unlock()
	return rules, nil
}
