// Package marketdata caches ticker and OHLCV snapshots read from an
// exchange adapter, with TTL eviction, so the scanner and analyzer never
// touch the network directly (spec.md §3 "Lifecycle summary", §5 "Data hub
// caches: read-copy-update snapshots; readers never block writers").
package marketdata

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

const (
	// DefaultPriceTTL matches spec.md §3 ("prices ~60s").
	DefaultPriceTTL = 60 * time.Second
	// DefaultOHLCVTTL matches spec.md §3 ("OHLCV ~300s").
	DefaultOHLCVTTL = 300 * time.Second
)

type priceEntry struct {
	ticker    types.Ticker
	updatedAt time.Time
}

type ohlcvEntry struct {
	candles   []types.OHLCV
	updatedAt time.Time
}

type ohlcvKey struct {
	symbol    string
	timeframe types.Timeframe
}

// Adapter is the subset of the exchange adapter contract the hub pulls
// from (spec.md §6).
type Adapter interface {
	FetchAllTickers(ctx context.Context) ([]types.Ticker, error)
	FetchOHLCV(ctx context.Context, symbol string, timeframe types.Timeframe, limit int) ([]types.OHLCV, error)
}

// Hub is the read-copy-update snapshot cache shared across every engine's
// scan and monitor loops.
type Hub struct {
	logger   *zap.Logger
	adapter  Adapter
	priceTTL time.Duration
	ohlcvTTL time.Duration

	mu      sync.RWMutex
	tickers map[string]priceEntry
	ohlcv   map[ohlcvKey]ohlcvEntry
}

// NewHub constructs a Hub backed by the given adapter.
func NewHub(logger *zap.Logger, adapter Adapter) *Hub {
	return &Hub{
		logger:   logger.Named("marketdata"),
		adapter:  adapter,
		priceTTL: DefaultPriceTTL,
		ohlcvTTL: DefaultOHLCVTTL,
		tickers:  make(map[string]priceEntry),
		ohlcv:    make(map[ohlcvKey]ohlcvEntry),
	}
}

// RefreshTickers pulls a fresh ticker snapshot unconditionally, the way
// the Market Scanner needs one full snapshot per scan cycle.
func (h *Hub) RefreshTickers(ctx context.Context) ([]types.Ticker, error) {
	tickers, err := h.adapter.FetchAllTickers(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	h.mu.Lock()
	for _, t := range tickers {
		h.tickers[t.Symbol] = priceEntry{ticker: t, updatedAt: now}
	}
	h.mu.Unlock()
	return tickers, nil
}

// Ticker returns the cached ticker for symbol if it is within TTL.
func (h *Hub) Ticker(symbol string) (types.Ticker, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.tickers[symbol]
	if !ok || time.Since(e.updatedAt) > h.priceTTL {
		return types.Ticker{}, false
	}
	return e.ticker, true
}

// OHLCV returns cached candles for (symbol, timeframe), fetching from the
// adapter on a cache miss or TTL expiry.
func (h *Hub) OHLCV(ctx context.Context, symbol string, timeframe types.Timeframe, limit int) ([]types.OHLCV, error) {
	key := ohlcvKey{symbol: symbol, timeframe: timeframe}

	h.mu.RLock()
	e, ok := h.ohlcv[key]
	h.mu.RUnlock()
	if ok && time.Since(e.updatedAt) < h.ohlcvTTL && len(e.candles) >= limit {
		return e.candles, nil
	}

	candles, err := h.adapter.FetchOHLCV(ctx, symbol, timeframe, limit)
	if err != nil {
		if ok {
			h.logger.Warn("OHLCV refresh failed, serving stale cache",
				zap.String("symbol", symbol), zap.String("timeframe", string(timeframe)), zap.Error(err))
			return e.candles, nil
		}
		return nil, err
	}

	h.mu.Lock()
	h.ohlcv[key] = ohlcvEntry{candles: candles, updatedAt: time.Now()}
	h.mu.Unlock()
	return candles, nil
}

// Evict drops cache entries older than twice their TTL; intended to be called
// periodically so stale symbols are not retained indefinitely.
func (h *Hub) Evict() {
	now := time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()
	for k, e := range h.tickers {
		if now.Sub(e.updatedAt) > h.priceTTL*2 {
			delete(h.tickers, k)
		}
	}
	for k, e := range h.ohlcv {
		if now.Sub(e.updatedAt) > h.ohlcvTTL*2 {
			delete(h.ohlcv, k)
		}
	}
}

// Run periodically evicts stale cache entries until ctx is cancelled.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Evict()
		}
	}
}
