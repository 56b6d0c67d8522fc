package execution

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// ManagedOrder wraps an order with the tracking state the lifecycle
// manager needs before it owns a confirmed Position.
type ManagedOrder struct {
	Order        *types.Order    `json:"order"`
	FilledQty    decimal.Decimal `json:"filledQty"`
	AvgFillPrice decimal.Decimal `json:"avgFillPrice"`
	Commission   decimal.Decimal `json:"commission"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`

	StopLossID   string `json:"stopLossId,omitempty"`
	TakeProfitID string `json:"takeProfitId,omitempty"`
}

// OrderUpdate is emitted whenever a tracked order's status changes.
type OrderUpdate struct {
	OrderID   string            `json:"orderId"`
	Status    types.OrderStatus `json:"status"`
	Message   string            `json:"message,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// OrderManager tracks orders placed through an ExchangeAdapter and
// reconciles them against the exchange's authoritative position view
// (spec.md §4.9, §7 ReconciliationMismatch).
type OrderManager struct {
	logger *zap.Logger

	mu     sync.RWMutex
	orders map[string]*ManagedOrder

	updates chan OrderUpdate
}

// NewOrderManager builds an OrderManager.
func NewOrderManager(logger *zap.Logger) *OrderManager {
	return &OrderManager{
		logger:  logger.Named("order-manager"),
		orders:  make(map[string]*ManagedOrder),
		updates: make(chan OrderUpdate, 1000),
	}
}

// TrackOrder registers an order placed through the adapter.
func (om *OrderManager) TrackOrder(order *types.Order) *ManagedOrder {
	om.mu.Lock()
	defer om.mu.Unlock()

	managed := &ManagedOrder{Order: order, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	om.orders[order.ID] = managed
	om.logger.Debug("tracking order",
		zap.String("orderId", order.ID), zap.String("symbol", order.Symbol), zap.String("side", string(order.Side)))
	return managed
}

// UpdateStatus updates a tracked order's status and fans out an update.
func (om *OrderManager) UpdateStatus(orderID string, status types.OrderStatus, message string) {
	om.mu.Lock()
	order, ok := om.orders[orderID]
	if ok {
		order.Order.Status = status
		order.UpdatedAt = time.Now()
	}
	om.mu.Unlock()
	if !ok {
		return
	}

	select {
	case om.updates <- OrderUpdate{OrderID: orderID, Status: status, Message: message, Timestamp: time.Now()}:
	default:
		om.logger.Warn("order update channel full, dropping update", zap.String("orderId", orderID))
	}
}

// RecordFill applies a fill to a tracked order, updating filled quantity
// and volume-weighted average price.
func (om *OrderManager) RecordFill(orderID string, price, qty, commission decimal.Decimal) {
	om.mu.Lock()
	defer om.mu.Unlock()

	order, ok := om.orders[orderID]
	if !ok {
		return
	}
	totalValue := order.AvgFillPrice.Mul(order.FilledQty).Add(price.Mul(qty))
	order.FilledQty = order.FilledQty.Add(qty)
	order.Commission = order.Commission.Add(commission)
	if !order.FilledQty.IsZero() {
		order.AvgFillPrice = totalValue.Div(order.FilledQty)
	}
	order.UpdatedAt = time.Now()

	if order.FilledQty.GreaterThanOrEqual(order.Order.Quantity) {
		order.Order.Status = types.OrderStatusFilled
	} else {
		order.Order.Status = types.OrderStatusPartiallyFilled
	}
}

// Order returns a tracked order by ID.
func (om *OrderManager) Order(orderID string) (*ManagedOrder, bool) {
	om.mu.RLock()
	defer om.mu.RUnlock()
	o, ok := om.orders[orderID]
	return o, ok
}

// Updates exposes the order-update stream.
func (om *OrderManager) Updates() <-chan OrderUpdate { return om.updates }

// LinkStopLoss associates a stop-loss order ID with its parent entry order.
func (om *OrderManager) LinkStopLoss(parentID, stopLossID string) {
	om.mu.Lock()
	defer om.mu.Unlock()
	if parent, ok := om.orders[parentID]; ok {
		parent.StopLossID = stopLossID
	}
}

// LinkTakeProfit associates a take-profit order ID with its parent entry order.
func (om *OrderManager) LinkTakeProfit(parentID, takeProfitID string) {
	om.mu.Lock()
	defer om.mu.Unlock()
	if parent, ok := om.orders[parentID]; ok {
		parent.TakeProfitID = takeProfitID
	}
}

// CleanupOldOrders drops terminal orders older than maxAge so the map does
// not grow unbounded across a long-running engine.
func (om *OrderManager) CleanupOldOrders(maxAge time.Duration) int {
	om.mu.Lock()
	defer om.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, order := range om.orders {
		terminal := order.Order.Status == types.OrderStatusFilled ||
			order.Order.Status == types.OrderStatusCancelled ||
			order.Order.Status == types.OrderStatusRejected ||
			order.Order.Status == types.OrderStatusExpired
		if terminal && order.UpdatedAt.Before(cutoff) {
			delete(om.orders, id)
			removed++
		}
	}
	return removed
}

// ReconcilePositions compares the engine's locally-tracked symbols against
// the exchange's authoritative view and returns the symbols present
// locally but absent (or zero-quantity) on the exchange — candidates for
// an EXTERNAL_CLOSE journal entry (spec.md §4.9, §7).
func ReconcilePositions(ctx context.Context, adapter ExchangeAdapter, localSymbols []string) ([]string, error) {
	remote, err := adapter.FetchPositions(ctx)
	if err != nil {
		return nil, NewAdapterError(ErrorKindTransient, "fetch positions for reconciliation", err)
	}
	open := make(map[string]bool, len(remote))
	for _, p := range remote {
		if p.Quantity.IsPositive() {
			open[p.Symbol] = true
		}
	}
	var orphaned []string
	for _, symbol := range localSymbols {
		if !open[symbol] {
			orphaned = append(orphaned, symbol)
		}
	}
	return orphaned, nil
}
