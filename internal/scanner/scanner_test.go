package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/blacklist"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

type fakeTickerSource struct {
	tickers []types.Ticker
	err     error
	candles map[string][]types.OHLCV
}

func (f fakeTickerSource) RefreshTickers(ctx context.Context) ([]types.Ticker, error) {
	return f.tickers, f.err
}

func (f fakeTickerSource) OHLCV(ctx context.Context, symbol string, timeframe types.Timeframe, limit int) ([]types.OHLCV, error) {
	return f.candles[symbol], nil
}

func ticker(symbol string, quoteVol float64) types.Ticker {
	return types.Ticker{
		Symbol:         symbol,
		QuoteVolume24h: decimal.NewFromFloat(quoteVol),
	}
}

// momentumCandles builds a 5m candle window whose last candle moves
// priceChangePct off the prior close and carries volumeRatio times the
// trailing 20-period average volume, so momentumScore's output is
// deterministic in tests.
func momentumCandles(priceChangePct, volumeRatio float64) []types.OHLCV {
	out := make([]types.OHLCV, momentumLookback5m)
	baseVol := decimal.NewFromInt(100)
	for i := 0; i < momentumLookback5m-1; i++ {
		out[i] = types.OHLCV{Close: decimal.NewFromInt(100), Volume: baseVol}
	}
	out[momentumLookback5m-1] = types.OHLCV{
		Close:  decimal.NewFromFloat(100 * (1 + priceChangePct/100)),
		Volume: baseVol.Mul(decimal.NewFromFloat(volumeRatio)),
	}
	return out
}

func TestScan_FiltersByMinQuoteVolume(t *testing.T) {
	src := fakeTickerSource{tickers: []types.Ticker{
		ticker("BTC/USDT", 10_000_000),
		ticker("LOW/USDT", 1_000),
	}, candles: map[string][]types.OHLCV{
		"BTC/USDT": momentumCandles(1, 1),
		"LOW/USDT": momentumCandles(1, 1),
	}}
	s := New(zap.NewNop(), src, nil, Config{MinQuoteVolume24h: decimal.NewFromInt(1_000_000), TopN: 10})
	defer s.Stop()

	got, err := s.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Symbol != "BTC/USDT" {
		t.Fatalf("expected only BTC/USDT to survive the volume filter, got %+v", got)
	}
}

func TestScan_ExcludesBlacklistedSymbols(t *testing.T) {
	bl := blacklist.New(zap.NewNop(), time.Hour)
	bl.Add("BTC/USDT", "stop loss exit")
	src := fakeTickerSource{tickers: []types.Ticker{
		ticker("BTC/USDT", 10_000_000),
		ticker("ETH/USDT", 10_000_000),
	}, candles: map[string][]types.OHLCV{
		"BTC/USDT": momentumCandles(1, 1),
		"ETH/USDT": momentumCandles(1, 1),
	}}
	s := New(zap.NewNop(), src, bl, Config{TopN: 10})
	defer s.Stop()

	got, err := s.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range got {
		if c.Symbol == "BTC/USDT" {
			t.Fatal("blacklisted symbol should have been excluded")
		}
	}
}

func TestScan_RespectsWatchlist(t *testing.T) {
	src := fakeTickerSource{tickers: []types.Ticker{
		ticker("BTC/USDT", 10_000_000),
		ticker("ETH/USDT", 10_000_000),
	}, candles: map[string][]types.OHLCV{
		"BTC/USDT": momentumCandles(1, 1),
		"ETH/USDT": momentumCandles(1, 1),
	}}
	s := New(zap.NewNop(), src, nil, Config{TopN: 10, Watchlist: []string{"ETH/USDT"}})
	defer s.Stop()

	got, err := s.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Symbol != "ETH/USDT" {
		t.Fatalf("expected only the watchlisted symbol, got %+v", got)
	}
}

func TestScan_RanksByMomentumDescendingWithSymbolTiebreak(t *testing.T) {
	src := fakeTickerSource{tickers: []types.Ticker{
		ticker("AAA/USDT", 1_000_000),
		ticker("BBB/USDT", 1_000_000),
		ticker("CCC/USDT", 1_000_000),
	}, candles: map[string][]types.OHLCV{
		"AAA/USDT": momentumCandles(1, 1),
		"BBB/USDT": momentumCandles(10, 1),
		"CCC/USDT": momentumCandles(10, 1),
	}}
	s := New(zap.NewNop(), src, nil, Config{TopN: 10})
	defer s.Stop()

	got, err := s.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(got))
	}
	if got[0].Symbol != "BBB/USDT" || got[1].Symbol != "CCC/USDT" {
		t.Fatalf("expected BBB before CCC (symbol tiebreak on equal momentum), got %+v", got)
	}
	if got[2].Symbol != "AAA/USDT" {
		t.Fatalf("expected AAA last (lowest momentum), got %+v", got)
	}
}

func TestScan_TopNLimitsResults(t *testing.T) {
	src := fakeTickerSource{tickers: []types.Ticker{
		ticker("AAA/USDT", 1_000_000),
		ticker("BBB/USDT", 1_000_000),
		ticker("CCC/USDT", 1_000_000),
	}, candles: map[string][]types.OHLCV{
		"AAA/USDT": momentumCandles(1, 1),
		"BBB/USDT": momentumCandles(2, 1),
		"CCC/USDT": momentumCandles(3, 1),
	}}
	s := New(zap.NewNop(), src, nil, Config{TopN: 2})
	defer s.Stop()

	got, err := s.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected TopN=2 to cap results, got %d", len(got))
	}
}

func TestMomentumScore_WeightsVolumeRatioByPriceChange(t *testing.T) {
	quiet := momentumScore(momentumCandles(2, 1))
	surge := momentumScore(momentumCandles(2, 3))
	if !surge.GreaterThan(quiet) {
		t.Fatalf("expected a 3x volume surge to score higher than average volume at the same price change, got surge=%s quiet=%s", surge, quiet)
	}
}

func TestMomentumScore_TooFewCandlesIsZero(t *testing.T) {
	if got := momentumScore(nil); !got.IsZero() {
		t.Fatalf("expected zero score with no candle history, got %s", got)
	}
	if got := momentumScore([]types.OHLCV{{Close: decimal.NewFromInt(100)}}); !got.IsZero() {
		t.Fatalf("expected zero score with a single candle, got %s", got)
	}
}
