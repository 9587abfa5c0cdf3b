package main

import (
	"context"
	"errors"
	"fmt"
)

// OrderStatus is the normalized terminal/non-terminal state of a venue order.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "OPEN"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderUnknown   OrderStatus = "UNKNOWN"
)

// Position is the venue's authoritative view of an open position. StopLoss
// and TakeProfit are zero when no protective order is armed.
type Position struct {
	Symbol     string
	Side       Side
	Size       float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
}

// ExecutionGateway is the capability set the lifecycle core consumes. Calls
// are blocking network I/O; none is atomic with any other, and writes may not
// be immediately visible in subsequent reads.
type ExecutionGateway interface {
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	GetBalance(ctx context.Context, asset string) (float64, error)
	GetInstrumentRules(ctx context.Context, symbol string) (InstrumentRules, error)

	// SetupSymbol arms leverage and margin mode once per symbol; "already
	// set" responses from the venue are not errors.
	SetupSymbol(ctx context.Context, symbol string, leverage int) error

	PlaceMarketOrder(ctx context.Context, symbol string, side Side, qty float64) (string, error)
	PlaceReduceOnlyLimitOrder(ctx context.Context, symbol string, side Side, qty, price float64) (string, error)

	// SetProtectiveLevels arms stop-loss and/or take-profit for the open
	// position in one call; a zero value leaves that level untouched.
	SetProtectiveLevels(ctx context.Context, symbol string, side Side, stopLoss, takeProfit float64) error
	CancelProtectiveOrders(ctx context.Context, symbol string) error

	// GetOpenPosition returns nil when the venue reports no open position.
	GetOpenPosition(ctx context.Context, symbol string) (*Position, error)
	GetOrderStatus(ctx context.Context, symbol, orderID string) (OrderStatus, error)
}

// ============================================================================
// ERROR TAXONOMY
// ============================================================================

// TransientError wraps network/rate-limit failures. The operation is simply
// retried on its next scheduled invocation; no state changes.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retry-next-cycle gateway failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// VenueRejection is a business-rule refusal from the venue (bad price,
// quantity filter, etc). The specific operation aborts; nothing is persisted.
type VenueRejection struct {
	Code   string
	Reason string
}

func (e *VenueRejection) Error() string {
	return fmt.Sprintf("venue rejected (%s): %s", e.Code, e.Reason)
}

// Lifecycle-level failures surfaced by Open().
var (
	ErrDuplicatePosition = errors.New("position already open or tracked for symbol")
	ErrEntryNotConfirmed = errors.New("market entry never appeared in venue position state")
	ErrShuttingDown      = errors.New("controller is shutting down")
)
