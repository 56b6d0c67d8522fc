package journal

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

func record(engine string, pnl, rMultiple float64) types.TradeRecord {
	return types.TradeRecord{
		Engine:      engine,
		Symbol:      "BTC/USDT",
		EntryTime:   time.Now().Add(-time.Hour),
		ExitTime:    time.Now(),
		RealizedPnl: decimal.NewFromFloat(pnl),
		RMultiple:   decimal.NewFromFloat(rMultiple),
	}
}

func TestRecordAndLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	j, err := New(zap.NewNop(), dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Record(record("alpha", 10, 1.5)); err != nil {
		t.Fatal(err)
	}
	if err := j.Record(record("alpha", -5, -1.0)); err != nil {
		t.Fatal(err)
	}

	reloaded, err := New(zap.NewNop(), dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := reloaded.Load("alpha"); err != nil {
		t.Fatal(err)
	}
	series := reloaded.WinLossSeries("alpha", "BTC/USDT")
	if len(series) != 2 || series[0] != 1 || series[1] != 0 {
		t.Fatalf("expected reloaded win/loss series [1 0], got %v", series)
	}
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	j, err := New(zap.NewNop(), t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Load("never-existed"); err != nil {
		t.Fatalf("expected no error loading an absent journal file, got %v", err)
	}
}

func TestWinLossSeries_MapsPositivePnlToWin(t *testing.T) {
	j, err := New(zap.NewNop(), t.TempDir(), 10)
	if err != nil {
		t.Fatal(err)
	}
	_ = j.Record(record("alpha", 5, 1))
	_ = j.Record(record("alpha", 0, 0))
	_ = j.Record(record("alpha", -3, -1))
	series := j.WinLossSeries("alpha", "BTC/USDT")
	if got, want := series, []float64{1, 0, 0}; len(got) != len(want) || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestAverageRewardRisk_NoHistoryReturnsOne(t *testing.T) {
	j, err := New(zap.NewNop(), t.TempDir(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if got := j.AverageRewardRisk("alpha", "BTC/USDT"); !got.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected neutral ratio of 1 with no history, got %s", got)
	}
}

func TestAverageRewardRisk_ComputesWinLossRatio(t *testing.T) {
	j, err := New(zap.NewNop(), t.TempDir(), 10)
	if err != nil {
		t.Fatal(err)
	}
	_ = j.Record(record("alpha", 10, 2.0))  // win, R=2
	_ = j.Record(record("alpha", -5, -1.0)) // loss, |R|=1
	got := j.AverageRewardRisk("alpha", "BTC/USDT")
	if !got.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected reward/risk ratio of 2, got %s", got)
	}
}

func TestConsecutiveLosses_CountsBackFromMostRecent(t *testing.T) {
	j, err := New(zap.NewNop(), t.TempDir(), 10)
	if err != nil {
		t.Fatal(err)
	}
	_ = j.Record(record("alpha", 10, 1))
	_ = j.Record(record("alpha", -5, -1))
	_ = j.Record(record("alpha", -3, -1))
	if got := j.ConsecutiveLosses("alpha", "BTC/USDT"); got != 2 {
		t.Fatalf("expected 2 consecutive losses, got %d", got)
	}
}

func TestConsecutiveLosses_ZeroWhenMostRecentIsAWin(t *testing.T) {
	j, err := New(zap.NewNop(), t.TempDir(), 10)
	if err != nil {
		t.Fatal(err)
	}
	_ = j.Record(record("alpha", -5, -1))
	_ = j.Record(record("alpha", 10, 1))
	if got := j.ConsecutiveLosses("alpha", "BTC/USDT"); got != 0 {
		t.Fatalf("expected 0 consecutive losses after a win, got %d", got)
	}
}

func TestWindow_BoundsInMemoryHistory(t *testing.T) {
	j, err := New(zap.NewNop(), t.TempDir(), 2)
	if err != nil {
		t.Fatal(err)
	}
	_ = j.Record(record("alpha", 1, 1))
	_ = j.Record(record("alpha", 2, 1))
	_ = j.Record(record("alpha", 3, 1))
	if got := len(j.WinLossSeries("alpha", "BTC/USDT")); got != 2 {
		t.Fatalf("expected window to bound in-memory history to 2, got %d", got)
	}
}

func recordSymbol(engine, symbol string, pnl, rMultiple float64) types.TradeRecord {
	r := record(engine, pnl, rMultiple)
	r.Symbol = symbol
	return r
}

func TestConsecutiveLosses_IsolatedPerSymbol(t *testing.T) {
	j, err := New(zap.NewNop(), t.TempDir(), 10)
	if err != nil {
		t.Fatal(err)
	}
	_ = j.Record(recordSymbol("alpha", "BTC/USDT", -5, -1))
	_ = j.Record(recordSymbol("alpha", "BTC/USDT", -3, -1))
	_ = j.Record(recordSymbol("alpha", "ETH/USDT", 10, 1))

	if got := j.ConsecutiveLosses("alpha", "BTC/USDT"); got != 2 {
		t.Fatalf("expected 2 consecutive losses on BTC/USDT, got %d", got)
	}
	if got := j.ConsecutiveLosses("alpha", "ETH/USDT"); got != 0 {
		t.Fatalf("expected a losing streak on BTC/USDT not to bleed into ETH/USDT, got %d", got)
	}
}
