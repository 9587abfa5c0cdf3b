package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"trade-warden/config"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	log.Println("🛡️ TRADE WARDEN V1 Starting...")
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	cfg := config.LoadConfig()
	if cfg.IsTestnet {
		log.Println("⚠️ TESTNET MODE")
	}
	if !cfg.EnableTrading {
		log.Println("🧪 DRY RUN: signals will be logged and dropped, no orders sent")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	notifier := NewNotificationService(cfg.TelegramToken, cfg.TelegramChatID)
	notifier.Start()

	gateway := NewBinanceGateway(cfg.BinanceAPIKey, cfg.BinanceAPISecret, cfg.IsTestnet)
	gateway.Start(ctx)

	store := NewStateStore(cfg.StatePath)
	if err := store.Load(); err != nil {
		log.Fatalf("❌ Failed to load state file: %v", err)
	}
	restored := store.Symbols()
	if len(restored) > 0 {
		log.Printf("♻️ Restored %d tracked position(s): %v", len(restored), restored)
	}

	rules := NewRulesCache(gateway, time.Hour)

	lcCfg := DefaultLifecycleConfig()
	lcCfg.Leverage = cfg.Leverage
	lcCfg.MarginCapPercent = cfg.MarginCapPercent
	lcCfg.PartialExitPercent = cfg.PartialExitPercent
	lcCfg.BalanceAsset = cfg.BalanceAsset

	controller := NewLifecycleController(gateway, rules, store, notifier, lcCfg)
	controller.MarkLoaded(restored)

	engine := NewSignalEngine(DefaultSignalConfig())
	cooldown := time.Duration(cfg.CooldownSeconds) * time.Second

	dispatch := func(sig TradeSignal) {
		mtxSignals.WithLabelValues(string(sig.Strategy), string(sig.Side)).Inc()
		log.Printf("🔔 SIGNAL %s %s (%s) entry %.6f sl %.6f tp1 %.6f tp2 %.6f",
			sig.Symbol, sig.Side, sig.Strategy, sig.Entry, sig.StopLoss, sig.TakeProfit1, sig.TakeProfit2)

		if !cfg.EnableTrading {
			log.Printf("🧪 DRY RUN: skipping execution for %s", sig.Symbol)
			notifier.Notify(fmt.Sprintf("🧪 *DRY RUN SIGNAL* %s %s (%s)\nEntry: %.6f | SL: %.6f | TP1: %.6f | TP2: %.6f",
				sig.Symbol, sig.Side, sig.Strategy, sig.Entry, sig.StopLoss, sig.TakeProfit1, sig.TakeProfit2))
			return
		}

		risk := cfg.TrendRiskPercent
		if sig.Strategy == StrategyRange {
			risk = cfg.RangeRiskPercent
		}

		if err := controller.Open(ctx, sig, risk); err != nil {
			switch {
			case errors.Is(err, ErrDuplicatePosition), errors.Is(err, ErrShuttingDown):
				log.Printf("ℹ️ %s: %v", sig.Symbol, err)
			case errors.Is(err, ErrBelowMinimumSize), errors.Is(err, ErrZeroRiskDistance):
				log.Printf("ℹ️ %s: %v", sig.Symbol, err)
			case IsTransient(err):
				log.Printf("⚠️ %s open failed on a transient error: %v", sig.Symbol, err)
			default:
				log.Printf("❌ %s open failed: %v", sig.Symbol, err)
				notifier.Notify(fmt.Sprintf("❌ Open failed for %s: %v", sig.Symbol, err))
			}
		}
	}

	// One tracker per symbol, preloaded with history so indicators are warm
	// from the first live candle.
	trackers := make(map[string]*CandleTracker, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		tracker := NewCandleTracker(symbol, engine, cooldown, dispatch)
		history, err := gateway.FetchCandles(ctx, symbol, cfg.Interval, engine.Lookback()+50)
		if err != nil {
			log.Printf("⚠️ %s history preload failed, warming from live stream: %v", symbol, err)
		} else {
			// Drop the still-forming last candle.
			if len(history) > 0 {
				history = history[:len(history)-1]
			}
			tracker.Preload(history)
		}
		trackers[symbol] = tracker
	}

	// Restored positions are reconciled before the first candle can trigger
	// an entry on them.
	controller.ReconcileAll(ctx)

	reconcileInterval := time.Duration(cfg.ReconcileIntervalSeconds) * time.Second
	go func() {
		ticker := time.NewTicker(reconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				controller.ReconcileAll(ctx)
			}
		}
	}()

	stream := NewKlineStream(cfg.Symbols, cfg.Interval, cfg.IsTestnet)
	go stream.Run(ctx)
	go func() {
		for sc := range stream.Candles() {
			if tracker, ok := trackers[sc.Symbol]; ok {
				tracker.OnCandle(sc.Candle)
			}
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		log.Printf("🌐 Server running on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ HTTP server: %v", err)
		}
	}()

	notifier.Notify(fmt.Sprintf("🚀 *BOT STARTED*\nSymbols: %v\nInterval: %s | Trading: %v", cfg.Symbols, cfg.Interval, cfg.EnableTrading))
	log.Println("✅ All systems go")

	<-ctx.Done()
	log.Println("🛑 Shutdown signal received, draining in-flight work...")
	controller.Stop()
	log.Println("✅ Lifecycle controller drained")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ HTTP shutdown: %v", err)
	}
	log.Println("👋 Bye")
}
