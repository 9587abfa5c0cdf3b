package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	futuresStreamURL = "wss://fstream.binance.com/stream"
	testnetStreamURL = "wss://stream.binancefuture.com/stream"
)

// KlineStream pushes CONFIRMED candles for a set of symbols over a combined
// websocket subscription. Unconfirmed intra-candle updates are dropped at the
// socket.
type KlineStream struct {
	url      string
	symbols  []string
	interval string
	out      chan SymbolCandle
}

func NewKlineStream(symbols []string, interval string, useTestnet bool) *KlineStream {
	url := futuresStreamURL
	if useTestnet {
		url = testnetStreamURL
	}
	return &KlineStream{
		url:      url,
		symbols:  symbols,
		interval: interval,
		out:      make(chan SymbolCandle, 256),
	}
}

// Candles is the stream of confirmed candles. Closed when Run returns.
func (ks *KlineStream) Candles() <-chan SymbolCandle {
	return ks.out
}

// Run connects and pumps until ctx is cancelled, reconnecting on any socket
// failure after a short pause.
func (ks *KlineStream) Run(ctx context.Context) {
	defer close(ks.out)

	streams := make([]string, 0, len(ks.symbols))
	for _, s := range ks.symbols {
		streams = append(streams, fmt.Sprintf("%s@kline_%s", strings.ToLower(s), ks.interval))
	}
	url := ks.url + "?streams=" + strings.Join(streams, "/")

	for {
		if ctx.Err() != nil {
			return
		}
		if err := ks.pump(ctx, url); err != nil && ctx.Err() == nil {
			log.Printf("⚠️ kline stream dropped: %v. Reconnecting in 5s...", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

type combinedKlineMsg struct {
	Stream string `json:"stream"`
	Data   struct {
		Kline struct {
			OpenTime int64  `json:"t"`
			Open     string `json:"o"`
			High     string `json:"h"`
			Low      string `json:"l"`
			Close    string `json:"c"`
			Volume   string `json:"v"`
			Final    bool   `json:"x"`
		} `json:"k"`
		Symbol string `json:"s"`
	} `json:"data"`
}

func (ks *KlineStream) pump(ctx context.Context, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	log.Printf("✅ kline stream connected (%d symbols, %s)", len(ks.symbols), ks.interval)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var msg combinedKlineMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("⚠️ kline stream: bad frame: %v", err)
			continue
		}
		k := msg.Data.Kline
		if !k.Final {
			continue
		}

		o, _ := strconv.ParseFloat(k.Open, 64)
		h, _ := strconv.ParseFloat(k.High, 64)
		l, _ := strconv.ParseFloat(k.Low, 64)
		c, _ := strconv.ParseFloat(k.Close, 64)
		v, _ := strconv.ParseFloat(k.Volume, 64)

		sc := SymbolCandle{
			Symbol: msg.Data.Symbol,
			Candle: Candle{OpenTime: k.OpenTime, Open: o, High: h, Low: l, Close: c, Volume: v},
		}
		select {
		case ks.out <- sc:
		case <-ctx.Done():
			return nil
		}
	}
}
