package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceQuantizationDirections(t *testing.T) {
	rules := InstrumentRules{TickSize: 0.25, QtyStep: 0.001, MinOrderQty: 0.01}

	assert.Equal(t, 101.25, rules.PriceDown(101.26))
	assert.Equal(t, 101.5, rules.PriceUp(101.26))
	assert.Equal(t, 101.25, rules.PriceDown(101.25))
	assert.Equal(t, 101.25, rules.PriceUp(101.25))
}

func TestPriceNearestSnapsToClosestTick(t *testing.T) {
	rules := InstrumentRules{TickSize: 0.25}

	assert.Equal(t, 100.25, rules.PriceNearest(100.3))
	assert.Equal(t, 100.5, rules.PriceNearest(100.4))
	assert.Equal(t, 100.25, rules.PriceNearest(100.25))
}

func TestSafeStopRoundsAgainstTheLoss(t *testing.T) {
	rules := InstrumentRules{TickSize: 0.25}

	// A long's stop rounds down, a short's rounds up. Neither direction can
	// place the stop past the intended level.
	assert.Equal(t, 99.5, rules.SafeStop(99.6, SideLong))
	assert.Equal(t, 99.75, rules.SafeStop(99.6, SideShort))

	assert.Equal(t, 105.25, rules.SafeTarget(105.1, SideLong))
	assert.Equal(t, 105.0, rules.SafeTarget(105.1, SideShort))
}

func TestFloorQtyIsExact(t *testing.T) {
	rules := InstrumentRules{QtyStep: 0.1}

	// 0.3 is not representable in binary; the decimal path must still land
	// exactly on the grid.
	assert.Equal(t, 0.3, rules.FloorQty(0.3))
	assert.Equal(t, 0.3, rules.FloorQty(0.39))
}

func TestWithinTickBoundary(t *testing.T) {
	rules := InstrumentRules{TickSize: 0.25}

	assert.True(t, rules.WithinTick(100.0, 100.0))
	assert.True(t, rules.WithinTick(100.0, 100.25))
	assert.True(t, rules.WithinTick(100.25, 100.0))
	assert.False(t, rules.WithinTick(100.0, 100.5))
}

func TestRulesCacheRefreshAndStaleFallback(t *testing.T) {
	gw := newFakeGateway()
	gw.rules = InstrumentRules{TickSize: 0.5, QtyStep: 0.001, MinOrderQty: 0.01}

	cache := NewRulesCache(gw, time.Hour)
	now := time.Unix(1_700_000_000, 0)
	cache.now = func() time.Time { return now }

	ctx := context.Background()

	r1, err := cache.Rules(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.5, r1.TickSize)
	assert.Equal(t, 1, gw.rulesCalls)

	// Fresh entry: no refetch.
	_, err = cache.Rules(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1, gw.rulesCalls)

	// Expired entry triggers a refetch.
	now = now.Add(2 * time.Hour)
	gw.rules.TickSize = 0.25
	r2, err := cache.Rules(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.25, r2.TickSize)
	assert.Equal(t, 2, gw.rulesCalls)

	// A failing refresh serves the stale entry instead of erroring.
	now = now.Add(2 * time.Hour)
	gw.rulesErr = errors.New("venue down")
	r3, err := cache.Rules(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.25, r3.TickSize)

	// With no cached entry at all the error surfaces.
	_, err = cache.Rules(ctx, "ETHUSDT")
	assert.Error(t, err)
}
