package main

import (
	"errors"
	"testing"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionalOrderTypesMatchVenueStrings(t *testing.T) {
	assert.Equal(t, futures.OrderType("STOP_MARKET"), orderTypeStopMarket)
	assert.Equal(t, futures.OrderType("TAKE_PROFIT_MARKET"), orderTypeTakeProfitMarket)
	assert.Equal(t, futures.OrderType("STOP"), orderTypeStop)
	assert.Equal(t, futures.OrderType("TAKE_PROFIT"), orderTypeTakeProfit)
}

func TestAvailableBalance(t *testing.T) {
	assets := []*futures.AccountAsset{
		{Asset: "BNB", AvailableBalance: "1.5"},
		{Asset: "USDT", AvailableBalance: "2500.75"},
	}

	val, err := availableBalance(assets, "USDT")
	require.NoError(t, err)
	assert.Equal(t, 2500.75, val)

	// A margin asset the account does not carry must fail loudly, not size
	// trades off a silent zero.
	_, err = availableBalance(assets, "BUSD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BUSD")
}

func TestClassifySortsVenueCodes(t *testing.T) {
	g := &BinanceGateway{}

	err := g.classify("order", errors.New("<APIError> code=-2019, msg=Margin is insufficient."))
	var rej *VenueRejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "-2019", rej.Code)
	assert.False(t, IsTransient(err))

	err = g.classify("klines", errors.New("read tcp: connection reset by peer"))
	assert.True(t, IsTransient(err))
}

func TestFormatStep(t *testing.T) {
	assert.Equal(t, "0.123", formatStep(0.123, 0.001))
	assert.Equal(t, "98.0", formatStep(98.0, 0.5))
	assert.Equal(t, "42", formatStep(42.0, 1))
}
