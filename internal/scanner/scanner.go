// Package scanner implements the Market Scanner (spec.md §4.4): it pulls
// one ticker snapshot, filters by quote volume and blacklist status,
// ranks survivors by a momentum score, and returns the top-N symbols for
// the analyzer to build full MarketContexts for. Per-symbol momentum
// scoring fans out across the teacher's worker pool
// (internal/workers.Pool) rather than a dedicated goroutine-per-symbol
// loop, reusing its panic-recovering worker idiom.
package scanner

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/blacklist"
	"github.com/atlas-desktop/trading-backend/internal/workers"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// TickerSource supplies the exchange-wide ticker snapshot plus the 5m
// OHLCV history momentumScore needs; marketdata.Hub satisfies both.
type TickerSource interface {
	RefreshTickers(ctx context.Context) ([]types.Ticker, error)
	OHLCV(ctx context.Context, symbol string, timeframe types.Timeframe, limit int) ([]types.OHLCV, error)
}

// momentumLookback5m is how many 5m candles are fetched per symbol: one
// current candle plus a 20-period trailing volume average (spec.md §4.4).
const momentumLookback5m = 21

// Config bounds the scanner's candidate selection.
type Config struct {
	MinQuoteVolume24h decimal.Decimal
	TopN              int
	Watchlist         []string // empty means "all symbols from the ticker snapshot"
}

// Scanner selects scan candidates for one engine cycle.
type Scanner struct {
	logger    *zap.Logger
	source    TickerSource
	blacklist *blacklist.List
	config    Config
	pool      *workers.Pool
}

// New builds a Scanner backed by its own worker pool for momentum-score
// fan-out.
func New(logger *zap.Logger, source TickerSource, bl *blacklist.List, config Config) *Scanner {
	pool := workers.NewPool(logger, workers.DefaultPoolConfig("scanner"))
	pool.Start()
	return &Scanner{
		logger:    logger.Named("scanner"),
		source:    source,
		blacklist: bl,
		config:    config,
		pool:      pool,
	}
}

// Stop releases the scanner's worker pool.
func (s *Scanner) Stop() error { return s.pool.Stop() }

// Candidate is a ranked scan result.
type Candidate struct {
	Symbol        string
	MomentumScore decimal.Decimal
	Ticker        types.Ticker
}

// Scan runs one scan cycle and returns up to TopN candidates, ranked by
// momentum score descending with symbol as the deterministic tie-break
// (spec.md §4.4).
func (s *Scanner) Scan(ctx context.Context) ([]Candidate, error) {
	tickers, err := s.source.RefreshTickers(ctx)
	if err != nil {
		return nil, err
	}

	watch := make(map[string]bool, len(s.config.Watchlist))
	for _, sym := range s.config.Watchlist {
		watch[sym] = true
	}

	var mu sync.Mutex
	var candidates []Candidate
	var wg sync.WaitGroup

	for _, t := range tickers {
		t := t
		if len(watch) > 0 && !watch[t.Symbol] {
			continue
		}
		if t.QuoteVolume24h.LessThan(s.config.MinQuoteVolume24h) {
			continue
		}
		if s.blacklist != nil && s.blacklist.IsBlacklisted(t.Symbol) {
			continue
		}

		wg.Add(1)
		submitErr := s.pool.SubmitFunc(func() error {
			defer wg.Done()
			candles, err := s.source.OHLCV(ctx, t.Symbol, types.Timeframe5m, momentumLookback5m)
			if err != nil {
				s.logger.Warn("momentum score skipped, 5m OHLCV unavailable", zap.String("symbol", t.Symbol), zap.Error(err))
				return nil
			}
			score := momentumScore(candles)
			mu.Lock()
			candidates = append(candidates, Candidate{Symbol: t.Symbol, MomentumScore: score, Ticker: t})
			mu.Unlock()
			return nil
		})
		if submitErr != nil {
			wg.Done()
			s.logger.Warn("scan task dropped, pool saturated", zap.String("symbol", t.Symbol))
		}
	}
	wg.Wait()

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].MomentumScore.Equal(candidates[j].MomentumScore) {
			return candidates[i].MomentumScore.GreaterThan(candidates[j].MomentumScore)
		}
		return candidates[i].Symbol < candidates[j].Symbol
	})

	if s.config.TopN > 0 && len(candidates) > s.config.TopN {
		candidates = candidates[:s.config.TopN]
	}
	return candidates, nil
}

// momentumScore ranks a symbol by its 5m volume ratio (current candle's
// volume over the trailing 20-period average) times the magnitude of its
// 5m price change, favoring moves that are both fresh and backed by
// above-average participation (spec.md §4.4).
func momentumScore(candles []types.OHLCV) decimal.Decimal {
	if len(candles) < 2 {
		return decimal.Zero
	}
	last := candles[len(candles)-1]
	prior := candles[len(candles)-2]
	if prior.Close.IsZero() {
		return decimal.Zero
	}

	window := candles[:len(candles)-1]
	if len(window) > 20 {
		window = window[len(window)-20:]
	}
	volSum := decimal.Zero
	for _, c := range window {
		volSum = volSum.Add(c.Volume)
	}
	volumeRatio := decimal.NewFromInt(1)
	if len(window) > 0 {
		if avgVol := volSum.Div(decimal.NewFromInt(int64(len(window)))); avgVol.IsPositive() {
			volumeRatio = last.Volume.Div(avgVol)
		}
	}

	priceChangePct := last.Close.Sub(prior.Close).Div(prior.Close).Mul(decimal.NewFromInt(100)).Abs()
	return volumeRatio.Mul(priceChangePct)
}
