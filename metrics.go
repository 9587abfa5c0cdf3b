package main

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	mtxSignals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_signals_total",
		Help: "Trade signals emitted by the strategy, by strategy kind and side.",
	}, []string{"strategy", "side"})

	mtxTradesOpened = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_trades_opened_total",
		Help: "Positions successfully opened, by side.",
	}, []string{"side"})

	mtxOpenAborts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_open_aborts_total",
		Help: "Open attempts that aborted before completion, by reason.",
	}, []string{"reason"})

	mtxReconcileSweeps = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_reconcile_sweeps_total",
		Help: "Reconciliation sweeps completed.",
	})

	mtxPositionsClosed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_positions_closed_total",
		Help: "Tracked positions observed closed on the venue and untracked.",
	})

	mtxReconcileMismatch = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_reconcile_mismatch_total",
		Help: "Protective-order migrations that failed post-placement verification.",
	})

	mtxTrackedPositions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_tracked_positions",
		Help: "Positions currently tracked in the state store.",
	})
)

func init() {
	prometheus.MustRegister(
		mtxSignals,
		mtxTradesOpened,
		mtxOpenAborts,
		mtxReconcileSweeps,
		mtxPositionsClosed,
		mtxReconcileMismatch,
		mtxTrackedPositions,
	)
}
