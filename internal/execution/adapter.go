// Package execution defines the abstract exchange adapter contract
// (spec.md §6) and the order/risk machinery built on top of it. Wire
// formats are deliberately out of scope (spec.md §1); this package
// specifies only the operations consumed.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// ErrorKind normalizes exchange-adapter failures into the taxonomy
// spec.md §6 requires so callers can branch without knowing the concrete
// exchange.
type ErrorKind string

const (
	ErrorKindTransient    ErrorKind = "TRANSIENT"
	ErrorKindRateLimited  ErrorKind = "RATE_LIMITED"
	ErrorKindRejected     ErrorKind = "REJECTED"
	ErrorKindAuthFailure  ErrorKind = "AUTH_FAILURE"
	ErrorKindNetwork      ErrorKind = "NETWORK"
)

// AdapterError wraps an adapter failure with its normalized kind, the way
// spec.md §7 requires infrastructure errors to carry structured context.
type AdapterError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *AdapterError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// NewAdapterError constructs a normalized AdapterError.
func NewAdapterError(kind ErrorKind, message string, err error) *AdapterError {
	return &AdapterError{Kind: kind, Message: message, Err: err}
}

// IsTransient reports whether err (or anything it wraps) should be
// retried with exponential backoff per spec.md §5.
func IsTransient(err error) bool {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Kind == ErrorKindTransient || ae.Kind == ErrorKindNetwork
	}
	return false
}

// IsRateLimited reports whether err signals a rate-limit response.
func IsRateLimited(err error) bool {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Kind == ErrorKindRateLimited
	}
	return false
}

// Startup-fatal sentinels (spec.md §7).
var (
	ErrConfigInvalid       = errors.New("config invalid")
	ErrCredentialsMissing  = errors.New("credentials missing")
	ErrAllocationOverflow  = errors.New("allocation overflow")
)

// Per-trade/operational sentinels (spec.md §7).
var (
	ErrOrderRejected          = errors.New("order rejected")
	ErrReconciliationMismatch = errors.New("reconciliation mismatch")
	ErrCircuitBreakerActive   = errors.New("circuit breaker active")
)

// OrderResult is returned by every order-placing adapter call.
type OrderResult struct {
	OrderID      string          `json:"orderId"`
	Symbol       string          `json:"symbol"`
	Side         types.OrderSide `json:"side"`
	Type         types.OrderType `json:"type"`
	Status       types.OrderStatus `json:"status"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	FilledQty    decimal.Decimal `json:"filledQty"`
	AvgPrice     decimal.Decimal `json:"avgPrice"`
	Commission   decimal.Decimal `json:"commission"`
	Timestamp    time.Time       `json:"timestamp"`
}

// ExchangePosition is the exchange's authoritative view of an open
// position, used for reconciliation (spec.md §4.9, §6 fetchPositions).
type ExchangePosition struct {
	Symbol     string             `json:"symbol"`
	Side       types.PositionSide `json:"side"`
	Quantity   decimal.Decimal    `json:"quantity"`
	EntryPrice decimal.Decimal    `json:"entryPrice"`
	MarkPrice  decimal.Decimal    `json:"markPrice"`
	Leverage   int                `json:"leverage"`
}

// UserEvent is a fill/cancel/liquidation notification delivered through
// subscribeUserEvents (spec.md §6).
type UserEvent struct {
	Type      string    `json:"type"` // "fill" | "cancel" | "liquidation"
	OrderID   string    `json:"orderId"`
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
}

// ExchangeAdapter is the abstract contract spec.md §6 requires every
// concrete exchange integration to satisfy. Exchange and transport
// failures are returned as normalized AdapterErrors; context and
// request-construction errors may be returned unwrapped.
type ExchangeAdapter interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	FetchAllTickers(ctx context.Context) ([]types.Ticker, error)
	FetchOHLCV(ctx context.Context, symbol string, timeframe types.Timeframe, limit int) ([]types.OHLCV, error)
	SubscribeTicker(ctx context.Context, symbol string, onUpdate func(types.Ticker)) error
	SubscribeUserEvents(ctx context.Context, onEvent func(UserEvent)) error

	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceMarketOrder(ctx context.Context, symbol string, side types.OrderSide, quantity decimal.Decimal) (*OrderResult, error)
	PlaceLimitOrder(ctx context.Context, symbol string, side types.OrderSide, quantity, price decimal.Decimal) (*OrderResult, error)
	PlaceStopMarket(ctx context.Context, symbol string, stopPrice decimal.Decimal, side types.OrderSide, quantity decimal.Decimal) (*OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CloseAllPositions(ctx context.Context, symbol string) error

	FetchPositions(ctx context.Context) ([]ExchangePosition, error)
}

// Clock abstracts wall-clock/monotonic time so tests can control day
// rollover and timeout logic deterministically (spec.md §6 "Clock").
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }
