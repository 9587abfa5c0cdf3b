package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
)

// BinanceGateway implements ExecutionGateway over the USDT-margined futures
// REST API.
type BinanceGateway struct {
	client *futures.Client

	mu      sync.Mutex
	filters map[string]symbolFilters // precision data per symbol
}

type symbolFilters struct {
	TickSize float64
	StepSize float64
	MinQty   float64
}

// The futures client only enumerates LIMIT and MARKET on OrderType, so the
// conditional close types are spelled out with the venue's strings.
const (
	orderTypeStopMarket       = futures.OrderType("STOP_MARKET")
	orderTypeTakeProfitMarket = futures.OrderType("TAKE_PROFIT_MARKET")
	orderTypeStop             = futures.OrderType("STOP")
	orderTypeTakeProfit       = futures.OrderType("TAKE_PROFIT")
)

func NewBinanceGateway(apiKey, secretKey string, useTestnet bool) *BinanceGateway {
	if useTestnet {
		futures.UseTestnet = true
		log.Println("⚠️ USING FUTURES TESTNET URL")
	}
	return &BinanceGateway{
		client:  binance.NewFuturesClient(apiKey, secretKey),
		filters: make(map[string]symbolFilters),
	}
}

// Start forces one-way position mode and warms the precision cache. Both are
// best-effort; failures surface later on the first real call.
func (g *BinanceGateway) Start(ctx context.Context) {
	if err := g.client.NewChangePositionModeService().DualSide(false).Do(ctx); err != nil {
		// The venue errors when the mode is already set, which is fine.
		log.Printf("ℹ️ position mode: %v", err)
	}
	if err := g.loadExchangeInfo(ctx); err != nil {
		log.Printf("⚠️ failed to warm exchange info: %v", err)
	}
}

func (g *BinanceGateway) loadExchangeInfo(ctx context.Context) error {
	info, err := g.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return g.classify("exchangeInfo", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range info.Symbols {
		f := symbolFilters{TickSize: 0.01, StepSize: 0.001}
		for _, flt := range s.Filters {
			switch flt["filterType"] {
			case "PRICE_FILTER":
				f.TickSize, _ = strconv.ParseFloat(flt["tickSize"].(string), 64)
			case "LOT_SIZE":
				f.StepSize, _ = strconv.ParseFloat(flt["stepSize"].(string), 64)
				f.MinQty, _ = strconv.ParseFloat(flt["minQty"].(string), 64)
			}
		}
		g.filters[s.Symbol] = f
	}
	log.Printf("✅ exchange info loaded, %d symbols tracked", len(g.filters))
	return nil
}

func (g *BinanceGateway) symbolFilters(ctx context.Context, symbol string) (symbolFilters, error) {
	g.mu.Lock()
	f, ok := g.filters[symbol]
	g.mu.Unlock()
	if ok {
		return f, nil
	}
	if err := g.loadExchangeInfo(ctx); err != nil {
		return symbolFilters{}, err
	}
	g.mu.Lock()
	f, ok = g.filters[symbol]
	g.mu.Unlock()
	if !ok {
		return symbolFilters{}, &VenueRejection{Code: "-1121", Reason: "unknown symbol " + symbol}
	}
	return f, nil
}

func (g *BinanceGateway) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	klines, err := g.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, g.classify("klines", err)
	}

	out := make([]Candle, 0, len(klines))
	for _, k := range klines {
		o, _ := strconv.ParseFloat(k.Open, 64)
		h, _ := strconv.ParseFloat(k.High, 64)
		l, _ := strconv.ParseFloat(k.Low, 64)
		c, _ := strconv.ParseFloat(k.Close, 64)
		v, _ := strconv.ParseFloat(k.Volume, 64)
		out = append(out, Candle{OpenTime: k.OpenTime, Open: o, High: h, Low: l, Close: c, Volume: v})
	}
	return out, nil
}

func (g *BinanceGateway) GetBalance(ctx context.Context, asset string) (float64, error) {
	res, err := g.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, g.classify("account", err)
	}
	return availableBalance(res.Assets, asset)
}

// availableBalance picks one asset out of the account snapshot. An asset the
// account does not carry is an error so a misconfigured margin asset fails
// loudly instead of sizing every trade off a zero balance.
func availableBalance(assets []*futures.AccountAsset, asset string) (float64, error) {
	for _, a := range assets {
		if a.Asset == asset {
			val, _ := strconv.ParseFloat(a.AvailableBalance, 64)
			return val, nil
		}
	}
	return 0, fmt.Errorf("asset %s not found in the futures account", asset)
}

func (g *BinanceGateway) GetInstrumentRules(ctx context.Context, symbol string) (InstrumentRules, error) {
	f, err := g.symbolFilters(ctx, symbol)
	if err != nil {
		return InstrumentRules{}, err
	}
	return InstrumentRules{TickSize: f.TickSize, QtyStep: f.StepSize, MinOrderQty: f.MinQty}, nil
}

func (g *BinanceGateway) SetupSymbol(ctx context.Context, symbol string, leverage int) error {
	err := g.client.NewChangeMarginTypeService().Symbol(symbol).MarginType(futures.MarginTypeIsolated).Do(ctx)
	if err != nil && !strings.Contains(err.Error(), "No need to change margin type") {
		return g.classify("marginType", err)
	}
	if _, err := g.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx); err != nil {
		return g.classify("leverage", err)
	}
	return nil
}

func (g *BinanceGateway) PlaceMarketOrder(ctx context.Context, symbol string, side Side, qty float64) (string, error) {
	f, err := g.symbolFilters(ctx, symbol)
	if err != nil {
		return "", err
	}
	res, err := g.client.NewCreateOrderService().
		Symbol(symbol).
		Side(orderSide(side)).
		Type(futures.OrderTypeMarket).
		Quantity(formatStep(qty, f.StepSize)).
		Do(ctx)
	if err != nil {
		return "", g.classify("marketOrder", err)
	}
	return strconv.FormatInt(res.OrderID, 10), nil
}

func (g *BinanceGateway) PlaceReduceOnlyLimitOrder(ctx context.Context, symbol string, side Side, qty, price float64) (string, error) {
	f, err := g.symbolFilters(ctx, symbol)
	if err != nil {
		return "", err
	}
	clientID := "staged-exit-" + uuid.NewString()
	res, err := g.client.NewCreateOrderService().
		Symbol(symbol).
		Side(orderSide(side)).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Price(formatStep(price, f.TickSize)).
		Quantity(formatStep(qty, f.StepSize)).
		ReduceOnly(true).
		NewClientOrderID(clientID).
		Do(ctx)
	if err != nil {
		return "", g.classify("reduceOnlyLimit", err)
	}
	return strconv.FormatInt(res.OrderID, 10), nil
}

// SetProtectiveLevels arms close-position stop and/or take-profit conditional
// orders, triggered off mark price.
func (g *BinanceGateway) SetProtectiveLevels(ctx context.Context, symbol string, side Side, stopLoss, takeProfit float64) error {
	f, err := g.symbolFilters(ctx, symbol)
	if err != nil {
		return err
	}
	closeSide := orderSide(side.Opposite())

	if stopLoss > 0 {
		_, err := g.client.NewCreateOrderService().
			Symbol(symbol).
			Side(closeSide).
			Type(orderTypeStopMarket).
			StopPrice(formatStep(stopLoss, f.TickSize)).
			ClosePosition(true).
			WorkingType(futures.WorkingTypeMarkPrice).
			PriceProtect(true).
			Do(ctx)
		if err != nil {
			return g.classify("stopLoss", err)
		}
	}
	if takeProfit > 0 {
		_, err := g.client.NewCreateOrderService().
			Symbol(symbol).
			Side(closeSide).
			Type(orderTypeTakeProfitMarket).
			StopPrice(formatStep(takeProfit, f.TickSize)).
			ClosePosition(true).
			WorkingType(futures.WorkingTypeMarkPrice).
			PriceProtect(true).
			Do(ctx)
		if err != nil {
			return g.classify("takeProfit", err)
		}
	}
	return nil
}

// CancelProtectiveOrders cancels conditional close orders only; resting
// reduce-only limit orders are left alone.
func (g *BinanceGateway) CancelProtectiveOrders(ctx context.Context, symbol string) error {
	open, err := g.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return g.classify("listOpenOrders", err)
	}
	for _, o := range open {
		switch o.Type {
		case orderTypeStopMarket, orderTypeTakeProfitMarket, orderTypeStop, orderTypeTakeProfit:
			_, err := g.client.NewCancelOrderService().Symbol(symbol).OrderID(o.OrderID).Do(ctx)
			if err != nil && !strings.Contains(err.Error(), "Unknown order") {
				return g.classify("cancelOrder", err)
			}
		}
	}
	return nil
}

func (g *BinanceGateway) GetOpenPosition(ctx context.Context, symbol string) (*Position, error) {
	risks, err := g.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, g.classify("positionRisk", err)
	}

	var pos *Position
	for _, p := range risks {
		amt, _ := strconv.ParseFloat(p.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		side := SideLong
		if amt < 0 {
			side = SideShort
		}
		pos = &Position{
			Symbol:     symbol,
			Side:       side,
			Size:       math.Abs(amt),
			EntryPrice: entry,
		}
		break
	}
	if pos == nil {
		return nil, nil
	}

	// The armed protective levels live on the conditional close orders.
	open, err := g.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, g.classify("listOpenOrders", err)
	}
	for _, o := range open {
		trigger, _ := strconv.ParseFloat(o.StopPrice, 64)
		switch o.Type {
		case orderTypeStopMarket, orderTypeStop:
			pos.StopLoss = trigger
		case orderTypeTakeProfitMarket, orderTypeTakeProfit:
			pos.TakeProfit = trigger
		}
	}
	return pos, nil
}

func (g *BinanceGateway) GetOrderStatus(ctx context.Context, symbol, orderID string) (OrderStatus, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return OrderUnknown, fmt.Errorf("bad order id %q: %w", orderID, err)
	}
	o, err := g.client.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "-2013") { // order does not exist
			return OrderUnknown, nil
		}
		return OrderUnknown, g.classify("getOrder", err)
	}
	switch o.Status {
	case futures.OrderStatusTypeNew, futures.OrderStatusTypePartiallyFilled:
		return OrderOpen, nil
	case futures.OrderStatusTypeFilled:
		return OrderFilled, nil
	case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeExpired, futures.OrderStatusTypeRejected:
		return OrderCancelled, nil
	default:
		return OrderUnknown, nil
	}
}

// classify sorts a raw client error into the taxonomy: known business-rule
// codes become VenueRejection, everything else (network, rate limits,
// timeouts) is treated as transient and retried by the next schedule.
func (g *BinanceGateway) classify(op string, err error) error {
	msg := err.Error()
	for _, code := range []string{"-1111", "-1013", "-2019", "-2021", "-2022", "-4003", "-4164", "-5022"} {
		if strings.Contains(msg, code) {
			return &VenueRejection{Code: code, Reason: msg}
		}
	}
	return &TransientError{Op: op, Err: err}
}

func orderSide(s Side) futures.SideType {
	if s == SideLong {
		return futures.SideTypeBuy
	}
	return futures.SideTypeSell
}

// formatStep renders a value with exactly the decimals its step size allows.
func formatStep(value, step float64) string {
	return strconv.FormatFloat(value, 'f', stepPrecision(step), 64)
}

func stepPrecision(step float64) int {
	if step <= 0 {
		return 2
	}
	if step < 1 {
		return int(math.Ceil(-math.Log10(step)))
	}
	return 0
}
