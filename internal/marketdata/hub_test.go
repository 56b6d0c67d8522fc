package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

type fakeAdapter struct {
	tickers    []types.Ticker
	tickersErr error
	candles    []types.OHLCV
	candlesErr error
	ohlcvCalls int
}

func (f *fakeAdapter) FetchAllTickers(ctx context.Context) ([]types.Ticker, error) {
	return f.tickers, f.tickersErr
}

func (f *fakeAdapter) FetchOHLCV(ctx context.Context, symbol string, timeframe types.Timeframe, limit int) ([]types.OHLCV, error) {
	f.ohlcvCalls++
	return f.candles, f.candlesErr
}

func TestRefreshTickers_PopulatesCache(t *testing.T) {
	adapter := &fakeAdapter{tickers: []types.Ticker{{Symbol: "BTC/USDT", Last: decimal.NewFromInt(100)}}}
	h := NewHub(zap.NewNop(), adapter)
	if _, err := h.RefreshTickers(context.Background()); err != nil {
		t.Fatal(err)
	}
	ticker, ok := h.Ticker("BTC/USDT")
	if !ok || !ticker.Last.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected cached ticker, got %+v ok=%v", ticker, ok)
	}
}

func TestTicker_MissingReturnsFalse(t *testing.T) {
	h := NewHub(zap.NewNop(), &fakeAdapter{})
	if _, ok := h.Ticker("BTC/USDT"); ok {
		t.Fatal("expected cache miss for never-fetched symbol")
	}
}

func TestTicker_ExpiredByTTLReturnsFalse(t *testing.T) {
	adapter := &fakeAdapter{tickers: []types.Ticker{{Symbol: "BTC/USDT"}}}
	h := NewHub(zap.NewNop(), adapter)
	h.priceTTL = time.Millisecond
	if _, err := h.RefreshTickers(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, ok := h.Ticker("BTC/USDT"); ok {
		t.Fatal("expected ticker to be treated as expired past TTL")
	}
}

func TestOHLCV_FetchesOnCacheMiss(t *testing.T) {
	adapter := &fakeAdapter{candles: []types.OHLCV{{Close: decimal.NewFromInt(1)}}}
	h := NewHub(zap.NewNop(), adapter)
	candles, err := h.OHLCV(context.Background(), "BTC/USDT", types.Timeframe1h, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(candles) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(candles))
	}
	if adapter.ohlcvCalls != 1 {
		t.Fatalf("expected exactly 1 adapter call, got %d", adapter.ohlcvCalls)
	}
}

func TestOHLCV_ServesFromCacheWithinTTL(t *testing.T) {
	adapter := &fakeAdapter{candles: []types.OHLCV{{Close: decimal.NewFromInt(1)}}}
	h := NewHub(zap.NewNop(), adapter)
	_, _ = h.OHLCV(context.Background(), "BTC/USDT", types.Timeframe1h, 1)
	_, _ = h.OHLCV(context.Background(), "BTC/USDT", types.Timeframe1h, 1)
	if adapter.ohlcvCalls != 1 {
		t.Fatalf("expected second call to be served from cache, got %d adapter calls", adapter.ohlcvCalls)
	}
}

func TestOHLCV_ServesStaleOnRefreshFailure(t *testing.T) {
	adapter := &fakeAdapter{candles: []types.OHLCV{{Close: decimal.NewFromInt(1)}}}
	h := NewHub(zap.NewNop(), adapter)
	h.ohlcvTTL = time.Millisecond

	if _, err := h.OHLCV(context.Background(), "BTC/USDT", types.Timeframe1h, 1); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	adapter.candlesErr = errors.New("network down")

	candles, err := h.OHLCV(context.Background(), "BTC/USDT", types.Timeframe1h, 1)
	if err != nil {
		t.Fatalf("expected stale-serve fallback, got error %v", err)
	}
	if len(candles) != 1 {
		t.Fatalf("expected stale cached candle returned, got %v", candles)
	}
}

func TestOHLCV_MissWithAdapterErrorPropagates(t *testing.T) {
	adapter := &fakeAdapter{candlesErr: errors.New("network down")}
	h := NewHub(zap.NewNop(), adapter)
	if _, err := h.OHLCV(context.Background(), "BTC/USDT", types.Timeframe1h, 1); err == nil {
		t.Fatal("expected error propagated on a cold cache miss")
	}
}

func TestEvict_RemovesEntriesPastDoubleTTL(t *testing.T) {
	adapter := &fakeAdapter{tickers: []types.Ticker{{Symbol: "BTC/USDT"}}}
	h := NewHub(zap.NewNop(), adapter)
	h.priceTTL = time.Millisecond
	_, _ = h.RefreshTickers(context.Background())
	time.Sleep(5 * time.Millisecond)
	h.Evict()
	h.mu.RLock()
	_, exists := h.tickers["BTC/USDT"]
	h.mu.RUnlock()
	if exists {
		t.Fatal("expected evicted entry removed from the backing map")
	}
}
