package execution

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

func TestTrackOrder_RegistersOrder(t *testing.T) {
	om := NewOrderManager(zap.NewNop())
	order := &types.Order{ID: "1", Symbol: "BTC/USDT", Quantity: decimal.NewFromInt(1)}
	om.TrackOrder(order)
	got, ok := om.Order("1")
	if !ok || got.Order.Symbol != "BTC/USDT" {
		t.Fatalf("expected tracked order, got %+v ok=%v", got, ok)
	}
}

func TestRecordFill_ComputesVolumeWeightedAvgPrice(t *testing.T) {
	om := NewOrderManager(zap.NewNop())
	om.TrackOrder(&types.Order{ID: "1", Quantity: decimal.NewFromInt(2)})

	om.RecordFill("1", decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.Zero)
	om.RecordFill("1", decimal.NewFromInt(110), decimal.NewFromInt(1), decimal.Zero)

	got, _ := om.Order("1")
	want := decimal.NewFromInt(105)
	if !got.AvgFillPrice.Equal(want) {
		t.Fatalf("expected avg fill price %s, got %s", want, got.AvgFillPrice)
	}
	if got.Order.Status != types.OrderStatusFilled {
		t.Fatalf("expected status FILLED once filled qty reaches order qty, got %s", got.Order.Status)
	}
}

func TestRecordFill_PartialFillStatus(t *testing.T) {
	om := NewOrderManager(zap.NewNop())
	om.TrackOrder(&types.Order{ID: "1", Quantity: decimal.NewFromInt(5)})
	om.RecordFill("1", decimal.NewFromInt(100), decimal.NewFromInt(2), decimal.Zero)
	got, _ := om.Order("1")
	if got.Order.Status != types.OrderStatusPartiallyFilled {
		t.Fatalf("expected PARTIALLY_FILLED, got %s", got.Order.Status)
	}
}

func TestUpdateStatus_EmitsUpdateForTrackedOrder(t *testing.T) {
	om := NewOrderManager(zap.NewNop())
	om.TrackOrder(&types.Order{ID: "1"})
	om.UpdateStatus("1", types.OrderStatusCancelled, "manual cancel")

	select {
	case u := <-om.Updates():
		if u.OrderID != "1" || u.Status != types.OrderStatusCancelled {
			t.Fatalf("unexpected update %+v", u)
		}
	case <-time.After(time.Second):
		t.Fatal("expected an update to be emitted")
	}
}

func TestUpdateStatus_IgnoresUnknownOrder(t *testing.T) {
	om := NewOrderManager(zap.NewNop())
	om.UpdateStatus("missing", types.OrderStatusCancelled, "")
	select {
	case u := <-om.Updates():
		t.Fatalf("expected no update for an untracked order, got %+v", u)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestLinkStopLossAndTakeProfit(t *testing.T) {
	om := NewOrderManager(zap.NewNop())
	om.TrackOrder(&types.Order{ID: "1"})
	om.LinkStopLoss("1", "sl-1")
	om.LinkTakeProfit("1", "tp-1")
	got, _ := om.Order("1")
	if got.StopLossID != "sl-1" || got.TakeProfitID != "tp-1" {
		t.Fatalf("expected linked ids, got %+v", got)
	}
}

func TestCleanupOldOrders_RemovesTerminalOrdersPastMaxAge(t *testing.T) {
	om := NewOrderManager(zap.NewNop())
	om.TrackOrder(&types.Order{ID: "1", Status: types.OrderStatusFilled})
	om.UpdateStatus("1", types.OrderStatusFilled, "")
	order, _ := om.Order("1")
	order.UpdatedAt = time.Now().Add(-time.Hour)

	om.TrackOrder(&types.Order{ID: "2", Status: types.OrderStatusOpen})

	removed := om.CleanupOldOrders(time.Minute)
	if removed != 1 {
		t.Fatalf("expected 1 terminal order removed, got %d", removed)
	}
	if _, ok := om.Order("1"); ok {
		t.Fatal("expected order 1 to be cleaned up")
	}
	if _, ok := om.Order("2"); !ok {
		t.Fatal("expected non-terminal order 2 to survive cleanup")
	}
}

type fakeAdapter struct {
	ExchangeAdapter
	positions []ExchangePosition
	err       error
}

func (f fakeAdapter) FetchPositions(ctx context.Context) ([]ExchangePosition, error) {
	return f.positions, f.err
}

func TestReconcilePositions_FindsOrphanedLocalSymbols(t *testing.T) {
	adapter := fakeAdapter{positions: []ExchangePosition{
		{Symbol: "BTC/USDT", Quantity: decimal.NewFromInt(1)},
		{Symbol: "ETH/USDT", Quantity: decimal.Zero},
	}}
	orphaned, err := ReconcilePositions(context.Background(), adapter, []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"})
	if err != nil {
		t.Fatal(err)
	}
	if len(orphaned) != 2 {
		t.Fatalf("expected ETH (zero qty) and SOL (absent) orphaned, got %v", orphaned)
	}
}

func TestReconcilePositions_PropagatesAdapterError(t *testing.T) {
	adapter := fakeAdapter{err: NewAdapterError(ErrorKindNetwork, "timeout", nil)}
	_, err := ReconcilePositions(context.Background(), adapter, []string{"BTC/USDT"})
	if err == nil {
		t.Fatal("expected error to propagate")
	}
}
