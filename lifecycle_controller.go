package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// LifecycleConfig carries the execution knobs shared by every symbol.
type LifecycleConfig struct {
	Leverage           int
	MarginCapPercent   float64
	PartialExitPercent float64
	BalanceAsset       string

	// Entry confirmation polling after a market order.
	EntryWaitAttempts int
	EntryWaitInterval time.Duration

	// Pause before re-reading the venue to verify a protective migration.
	VerifyDelay time.Duration

	// Hard deadline for one unit of work (one Open, one symbol reconcile).
	OpTimeout time.Duration
}

func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		Leverage:           5,
		MarginCapPercent:   20,
		PartialExitPercent: 50,
		BalanceAsset:       "USDT",
		EntryWaitAttempts:  10,
		EntryWaitInterval:  time.Second,
		VerifyDelay:        2 * time.Second,
		OpTimeout:          2 * time.Minute,
	}
}

// LifecycleController owns every tracked position from entry to exit. One
// mutex per symbol serializes Open against Reconcile; different symbols
// proceed in parallel.
type LifecycleController struct {
	gw       ExecutionGateway
	rules    *RulesCache
	store    *StateStore
	notifier *NotificationService
	cfg      LifecycleConfig

	mu          sync.Mutex
	symbolLocks map[string]*sync.Mutex
	armed       map[string]bool // SetupSymbol already done this run

	// Symbols restored from disk must be reconciled once before any new
	// entry is allowed on them.
	pendingFirstPass map[string]bool

	closed atomic.Bool
	wg     sync.WaitGroup

	sleep func(context.Context, time.Duration)
}

func NewLifecycleController(gw ExecutionGateway, rules *RulesCache, store *StateStore, notifier *NotificationService, cfg LifecycleConfig) *LifecycleController {
	return &LifecycleController{
		gw:               gw,
		rules:            rules,
		store:            store,
		notifier:         notifier,
		cfg:              cfg,
		symbolLocks:      make(map[string]*sync.Mutex),
		armed:            make(map[string]bool),
		pendingFirstPass: make(map[string]bool),
		sleep:            ctxSleep,
	}
}

func ctxSleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// MarkLoaded flags symbols restored from the state file; each blocks new
// entries until its first reconciliation sweep completes.
func (lc *LifecycleController) MarkLoaded(symbols []string) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	for _, s := range symbols {
		lc.pendingFirstPass[s] = true
	}
	mtxTrackedPositions.Set(float64(len(symbols)))
}

// Stop refuses new units of work and blocks until the in-flight ones drain.
// Shutdown never cuts a unit off half-way; a market entry that already went
// out still gets its protective stop and its durable record.
func (lc *LifecycleController) Stop() {
	lc.mu.Lock()
	lc.closed.Store(true)
	lc.mu.Unlock()
	lc.wg.Wait()
}

// beginUnit registers a unit of work, refusing once shutdown has begun. The
// caller must defer lc.wg.Done() when it returns true.
func (lc *LifecycleController) beginUnit() bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.closed.Load() {
		return false
	}
	lc.wg.Add(1)
	return true
}

// opContext detaches a unit of work from the caller's cancellation, so a
// shutdown signal arriving between the entry order and the protective stop
// cannot abandon an unprotected position. The unit keeps its own deadline.
func (lc *LifecycleController) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if lc.cfg.OpTimeout > 0 {
		return context.WithTimeout(detached, lc.cfg.OpTimeout)
	}
	return context.WithCancel(detached)
}

func (lc *LifecycleController) lockFor(symbol string) *sync.Mutex {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	m, ok := lc.symbolLocks[symbol]
	if !ok {
		m = &sync.Mutex{}
		lc.symbolLocks[symbol] = m
	}
	return m
}

// ============================================================================
// OPEN
// ============================================================================

// Open turns a signal into a live, protected position. Ordering is strict:
// all sizing and duplicate checks happen before the first remote mutation,
// and the durable record is written only after every venue order is placed.
func (lc *LifecycleController) Open(ctx context.Context, sig TradeSignal, riskPercent float64) error {
	if !lc.beginUnit() {
		mtxOpenAborts.WithLabelValues("shutdown").Inc()
		return fmt.Errorf("%s: %w", sig.Symbol, ErrShuttingDown)
	}
	defer lc.wg.Done()
	ctx, cancel := lc.opContext(ctx)
	defer cancel()

	lock := lc.lockFor(sig.Symbol)
	lock.Lock()
	defer lock.Unlock()

	lc.mu.Lock()
	firstPassPending := lc.pendingFirstPass[sig.Symbol]
	lc.mu.Unlock()
	if firstPassPending {
		mtxOpenAborts.WithLabelValues("awaiting_reconcile").Inc()
		return fmt.Errorf("%s: restored state not yet reconciled: %w", sig.Symbol, ErrDuplicatePosition)
	}

	if _, tracked := lc.store.Get(sig.Symbol); tracked {
		mtxOpenAborts.WithLabelValues("duplicate").Inc()
		return fmt.Errorf("%s already tracked: %w", sig.Symbol, ErrDuplicatePosition)
	}
	pos, err := lc.gw.GetOpenPosition(ctx, sig.Symbol)
	if err != nil {
		return fmt.Errorf("pre-entry position check: %w", err)
	}
	if pos != nil {
		mtxOpenAborts.WithLabelValues("duplicate").Inc()
		return fmt.Errorf("%s has an untracked open position on the venue: %w", sig.Symbol, ErrDuplicatePosition)
	}

	if err := lc.armSymbol(ctx, sig.Symbol); err != nil {
		return err
	}

	rules, err := lc.rules.Rules(ctx, sig.Symbol)
	if err != nil {
		return fmt.Errorf("instrument rules: %w", err)
	}
	balance, err := lc.gw.GetBalance(ctx, lc.cfg.BalanceAsset)
	if err != nil {
		return fmt.Errorf("balance: %w", err)
	}

	qty, err := SizePosition(balance, sig.Entry, sig.StopLoss, riskPercent, lc.cfg.Leverage, lc.cfg.MarginCapPercent, rules)
	if err != nil {
		mtxOpenAborts.WithLabelValues("sizing").Inc()
		return fmt.Errorf("sizing %s: %w", sig.Symbol, err)
	}

	log.Printf("🎯 %s %s %s | entry ~%.6f qty %.6f sl %.6f tp1 %.6f tp2 %.6f",
		sig.Symbol, sig.Side, sig.Strategy, sig.Entry, qty, sig.StopLoss, sig.TakeProfit1, sig.TakeProfit2)

	if _, err := lc.gw.PlaceMarketOrder(ctx, sig.Symbol, sig.Side, qty); err != nil {
		mtxOpenAborts.WithLabelValues("entry_order").Inc()
		return fmt.Errorf("market entry %s: %w", sig.Symbol, err)
	}

	live, err := lc.awaitPosition(ctx, sig.Symbol)
	if err != nil {
		mtxOpenAborts.WithLabelValues("entry_unconfirmed").Inc()
		lc.notifier.Critical(fmt.Sprintf("%s: market entry sent but position never confirmed. Inspect the venue manually.", sig.Symbol))
		return err
	}

	stop := rules.SafeStop(sig.StopLoss, sig.Side)
	if err := lc.gw.SetProtectiveLevels(ctx, sig.Symbol, sig.Side, stop, 0); err != nil {
		mtxOpenAborts.WithLabelValues("stop_placement").Inc()
		lc.notifier.Critical(fmt.Sprintf("%s: position is OPEN and UNPROTECTED, stop placement failed: %v", sig.Symbol, err))
		return fmt.Errorf("stop placement %s: %w", sig.Symbol, err)
	}

	// The venue reports a raw average fill; the record keeps it on the tick
	// grid so every later price derived from it is already quantized.
	entry := rules.PriceNearest(live.EntryPrice)

	state := PositionState{
		Symbol:              sig.Symbol,
		State:               StateFullExit,
		Side:                sig.Side,
		EntryPrice:          entry,
		InitialQty:          live.Size,
		StopLossPrice:       stop,
		SecondaryTakeProfit: sig.TakeProfit2,
		LastTransition:      time.Now().UTC(),
	}

	// Stage a partial exit at the first target when the slice clears the
	// venue minimum; otherwise the whole position rides to the stop.
	stagedQty := rules.FloorQty(live.Size * lc.cfg.PartialExitPercent / 100.0)
	if stagedQty >= rules.MinOrderQty && stagedQty > 0 {
		target := rules.SafeTarget(sig.TakeProfit1, sig.Side)
		orderID, err := lc.gw.PlaceReduceOnlyLimitOrder(ctx, sig.Symbol, sig.Side.Opposite(), stagedQty, target)
		if err != nil {
			log.Printf("⚠️ %s staged exit order failed, falling back to full exit: %v", sig.Symbol, err)
		} else {
			state.State = StateStagedExit
			state.StagedExitOrderID = orderID
			log.Printf("✅ %s staged exit resting: qty %.6f @ %.6f (order %s)", sig.Symbol, stagedQty, target, orderID)
		}
	} else {
		log.Printf("ℹ️ %s partial slice %.6f below venue minimum %.6f, full position rides", sig.Symbol, stagedQty, rules.MinOrderQty)
	}

	if err := lc.store.Set(state); err != nil {
		lc.notifier.Critical(fmt.Sprintf("%s: position live but state persistence failed: %v", sig.Symbol, err))
		return fmt.Errorf("persist state %s: %w", sig.Symbol, err)
	}

	mtxTradesOpened.WithLabelValues(string(sig.Side)).Inc()
	mtxTrackedPositions.Set(float64(len(lc.store.All())))
	lc.notifier.Notify(fmt.Sprintf("📈 *OPENED* %s %s (%s)\nEntry: %.6f | Qty: %.6f\nSL: %.6f | TP2: %.6f | Mode: %s",
		sig.Symbol, sig.Side, sig.Strategy, entry, live.Size, stop, sig.TakeProfit2, state.State))
	return nil
}

func (lc *LifecycleController) armSymbol(ctx context.Context, symbol string) error {
	lc.mu.Lock()
	done := lc.armed[symbol]
	lc.mu.Unlock()
	if done {
		return nil
	}
	if err := lc.gw.SetupSymbol(ctx, symbol, lc.cfg.Leverage); err != nil {
		return fmt.Errorf("symbol setup %s: %w", symbol, err)
	}
	lc.mu.Lock()
	lc.armed[symbol] = true
	lc.mu.Unlock()
	return nil
}

// awaitPosition polls until the venue reflects the filled market order.
func (lc *LifecycleController) awaitPosition(ctx context.Context, symbol string) (*Position, error) {
	for attempt := 0; attempt < lc.cfg.EntryWaitAttempts; attempt++ {
		lc.sleep(ctx, lc.cfg.EntryWaitInterval)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		pos, err := lc.gw.GetOpenPosition(ctx, symbol)
		if err != nil {
			log.Printf("⚠️ %s entry confirmation poll failed: %v", symbol, err)
			continue
		}
		if pos != nil {
			return pos, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", symbol, ErrEntryNotConfirmed)
}

// ============================================================================
// RECONCILE
// ============================================================================

// ReconcileAll sweeps every tracked symbol once.
func (lc *LifecycleController) ReconcileAll(ctx context.Context) {
	for _, st := range lc.store.All() {
		if lc.closed.Load() || ctx.Err() != nil {
			return
		}
		if err := lc.Reconcile(ctx, st.Symbol); err != nil {
			log.Printf("⚠️ reconcile %s: %v", st.Symbol, err)
		}
	}
	mtxReconcileSweeps.Inc()
	mtxTrackedPositions.Set(float64(len(lc.store.All())))
}

// Reconcile aligns the durable record for one symbol with the venue. Every
// step is idempotent: when a cycle aborts half-way, the next cycle re-runs
// from the persisted state and converges.
func (lc *LifecycleController) Reconcile(ctx context.Context, symbol string) error {
	if !lc.beginUnit() {
		return nil
	}
	defer lc.wg.Done()
	ctx, cancel := lc.opContext(ctx)
	defer cancel()

	lock := lc.lockFor(symbol)
	lock.Lock()
	defer lock.Unlock()

	st, ok := lc.store.Get(symbol)
	if !ok {
		lc.mu.Lock()
		delete(lc.pendingFirstPass, symbol)
		lc.mu.Unlock()
		return nil
	}

	pos, err := lc.gw.GetOpenPosition(ctx, symbol)
	if err != nil {
		return fmt.Errorf("position read: %w", err)
	}

	// A coherent venue read completes the post-restart first pass; new
	// entries on this symbol unblock from here.
	lc.mu.Lock()
	delete(lc.pendingFirstPass, symbol)
	lc.mu.Unlock()
	if pos == nil {
		// Stop, target, or manual close took the position out. Leftover
		// protective orders are close-position orders and die with it.
		log.Printf("🏁 %s position closed on venue, untracking", symbol)
		if err := lc.store.Remove(symbol); err != nil {
			return fmt.Errorf("untrack: %w", err)
		}
		mtxPositionsClosed.Inc()
		lc.notifier.Notify(fmt.Sprintf("🏁 *CLOSED* %s %s (was %s)", symbol, st.Side, st.State))
		return nil
	}

	if st.State != StateStagedExit {
		return nil
	}

	status, err := lc.gw.GetOrderStatus(ctx, symbol, st.StagedExitOrderID)
	if err != nil {
		return fmt.Errorf("staged order status: %w", err)
	}
	switch status {
	case OrderOpen:
		return nil
	case OrderCancelled:
		// The staged exit vanished without filling, which means the position
		// went out through the protective stop. Untrack it.
		log.Printf("🏁 %s staged exit order cancelled, treating position as closed", symbol)
		if err := lc.store.Remove(symbol); err != nil {
			return fmt.Errorf("untrack: %w", err)
		}
		mtxPositionsClosed.Inc()
		lc.notifier.Notify(fmt.Sprintf("🏁 *CLOSED* %s %s (staged exit cancelled)", symbol, st.Side))
		return nil
	case OrderUnknown:
		log.Printf("❌ %s staged exit order %s unknown on venue, retrying next cycle", symbol, st.StagedExitOrderID)
		return nil
	}

	// Staged exit filled: migrate the remainder to breakeven.
	return lc.migrateToBreakeven(ctx, st)
}

// migrateToBreakeven cancels the old protective orders and re-arms a stop at
// entry plus the secondary target for the remaining size. The state record
// only advances after the venue confirms both levels.
func (lc *LifecycleController) migrateToBreakeven(ctx context.Context, st PositionState) error {
	symbol := st.Symbol
	log.Printf("🎉 %s first target filled, migrating stop to breakeven", symbol)

	rules, err := lc.rules.Rules(ctx, symbol)
	if err != nil {
		return fmt.Errorf("instrument rules: %w", err)
	}

	if err := lc.gw.CancelProtectiveOrders(ctx, symbol); err != nil {
		return fmt.Errorf("cancel protective orders: %w", err)
	}

	// The position can vanish between steps (stop hunt right after the
	// partial fill). Re-check before arming anything new.
	pos, err := lc.gw.GetOpenPosition(ctx, symbol)
	if err != nil {
		return fmt.Errorf("position re-check: %w", err)
	}
	if pos == nil {
		log.Printf("🏁 %s closed during migration, untracking", symbol)
		if err := lc.store.Remove(symbol); err != nil {
			return fmt.Errorf("untrack: %w", err)
		}
		mtxPositionsClosed.Inc()
		return nil
	}

	newStop := rules.SafeStop(st.EntryPrice, st.Side)
	newTarget := rules.SafeTarget(st.SecondaryTakeProfit, st.Side)
	if err := lc.gw.SetProtectiveLevels(ctx, symbol, st.Side, newStop, newTarget); err != nil {
		lc.notifier.Critical(fmt.Sprintf("%s: breakeven migration failed to place orders: %v. Retrying next cycle.", symbol, err))
		return fmt.Errorf("place migrated levels: %w", err)
	}

	lc.sleep(ctx, lc.cfg.VerifyDelay)

	verify, err := lc.gw.GetOpenPosition(ctx, symbol)
	if err != nil {
		return fmt.Errorf("verification read: %w", err)
	}
	if verify == nil {
		log.Printf("🏁 %s closed right after migration, untracking", symbol)
		if err := lc.store.Remove(symbol); err != nil {
			return fmt.Errorf("untrack: %w", err)
		}
		mtxPositionsClosed.Inc()
		return nil
	}

	if !rules.WithinTick(verify.StopLoss, newStop) || !rules.WithinTick(verify.TakeProfit, newTarget) {
		mtxReconcileMismatch.Inc()
		lc.notifier.Critical(fmt.Sprintf("%s: breakeven verification mismatch. Wanted SL %.6f / TP %.6f, venue shows SL %.6f / TP %.6f.",
			symbol, newStop, newTarget, verify.StopLoss, verify.TakeProfit))
		return fmt.Errorf("%s: migrated levels failed verification", symbol)
	}

	st.State = StateBreakevenPending
	st.StagedExitOrderID = ""
	st.StopLossPrice = newStop
	st.LastTransition = time.Now().UTC()
	if err := lc.store.Set(st); err != nil {
		return fmt.Errorf("persist breakeven state: %w", err)
	}

	lc.notifier.Notify(fmt.Sprintf("🛡️ *BREAKEVEN* %s %s\nStop moved to entry %.6f, runner targets %.6f", symbol, st.Side, newStop, newTarget))
	log.Printf("🛡️ %s now breakeven-protected: SL %.6f TP %.6f", symbol, newStop, newTarget)
	return nil
}
