package sizing

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

func TestKellyFraction_NoHistoryReturnsMax(t *testing.T) {
	s := New(zap.NewNop(), DefaultBounds())
	got := s.KellyFraction(nil, decimal.NewFromFloat(2.0))
	if !got.Equal(DefaultBounds().SizePctMax) {
		t.Fatalf("expected SizePctMax for empty history, got %s", got)
	}
}

func TestKellyFraction_ZeroRewardRiskReturnsMax(t *testing.T) {
	s := New(zap.NewNop(), DefaultBounds())
	got := s.KellyFraction([]float64{1, 0, 1}, decimal.Zero)
	if !got.Equal(DefaultBounds().SizePctMax) {
		t.Fatalf("expected SizePctMax for zero reward/risk, got %s", got)
	}
}

func TestKellyFraction_NegativeKellyClampsToZero(t *testing.T) {
	s := New(zap.NewNop(), DefaultBounds())
	// winRate 0.2, rr 1.0 -> kelly = 0.2 - 0.8/1.0 = -0.6 -> clamped to 0
	got := s.KellyFraction([]float64{1, 0, 0, 0, 0}, decimal.NewFromFloat(1.0))
	if !got.IsZero() {
		t.Fatalf("expected zero guard for negative kelly, got %s", got)
	}
}

func TestKellyFraction_HighWinRateUsesWiderFraction(t *testing.T) {
	s := New(zap.NewNop(), DefaultBounds())
	// winRate 0.6, rr 2.0 -> kelly = 0.6 - 0.4/2.0 = 0.4, fraction 0.25 -> 10
	got := s.KellyFraction([]float64{1, 1, 1, 0, 0}, decimal.NewFromFloat(2.0))
	want := decimal.NewFromFloat(10.0)
	if !got.Equal(want) {
		t.Fatalf("expected guard %s, got %s", want, got)
	}
}

func TestSize_HighConfidenceUsesTopTierSizeAndLeverage(t *testing.T) {
	s := New(zap.NewNop(), DefaultBounds())
	sizePct, lev := s.Size(SizeInput{
		Confidence:      95,
		Attenuation:     decimal.NewFromInt(1),
		WinLossSeries:   nil,
		RewardRiskRatio: decimal.NewFromFloat(2.0),
		Regime:          types.RegimeTrending,
	})
	if !sizePct.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected base 20%% for confidence 95, got %s", sizePct)
	}
	if lev != 8 {
		t.Fatalf("expected leverage tier 8 for confidence 95, got %d", lev)
	}
}

func TestSize_HighVolHalvesLeverage(t *testing.T) {
	s := New(zap.NewNop(), DefaultBounds())
	_, lev := s.Size(SizeInput{
		Confidence:      95,
		Attenuation:     decimal.NewFromInt(1),
		RewardRiskRatio: decimal.NewFromFloat(2.0),
		Regime:          types.RegimeHighVol,
	})
	if lev != 4 {
		t.Fatalf("expected leverage halved to 4 in HIGH_VOL, got %d", lev)
	}
}

func TestSize_ConsecutiveLossesHalvesLeverage(t *testing.T) {
	s := New(zap.NewNop(), DefaultBounds())
	_, lev := s.Size(SizeInput{
		Confidence:        95,
		Attenuation:       decimal.NewFromInt(1),
		RewardRiskRatio:   decimal.NewFromFloat(2.0),
		Regime:            types.RegimeTrending,
		ConsecutiveLosses: 2,
	})
	if lev != 4 {
		t.Fatalf("expected leverage halved after 2 consecutive losses, got %d", lev)
	}
}

func TestSize_ConsecutiveLossesAlsoHalvesSizePct(t *testing.T) {
	s := New(zap.NewNop(), DefaultBounds())
	sizePct, _ := s.Size(SizeInput{
		Confidence:        95,
		Attenuation:       decimal.NewFromInt(1),
		RewardRiskRatio:   decimal.NewFromFloat(2.0),
		Regime:            types.RegimeTrending,
		ConsecutiveLosses: 2,
	})
	if !sizePct.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected size halved from 20%% to 10%% after 2 consecutive losses, got %s", sizePct)
	}
}

func TestSize_KellyGuardOnlyAppliesWithTenClosedTrades(t *testing.T) {
	s := New(zap.NewNop(), DefaultBounds())
	shortHistory := []float64{0, 0, 0, 0, 0} // would guard sizing to 0 if applied
	sizePct, _ := s.Size(SizeInput{
		Confidence:      95,
		Attenuation:     decimal.NewFromInt(1),
		WinLossSeries:   shortHistory,
		RewardRiskRatio: decimal.NewFromFloat(2.0),
		Regime:          types.RegimeTrending,
	})
	if !sizePct.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected the Kelly guard to be skipped below 10 closed trades, got %s", sizePct)
	}

	longHistory := make([]float64, 10) // all losses
	sizePct, _ = s.Size(SizeInput{
		Confidence:      95,
		Attenuation:     decimal.NewFromInt(1),
		WinLossSeries:   longHistory,
		RewardRiskRatio: decimal.NewFromFloat(2.0),
		Regime:          types.RegimeTrending,
	})
	if !sizePct.Equal(DefaultBounds().SizePctMin) {
		t.Fatalf("expected the Kelly guard to clamp to the floor at 10 closed trades, got %s", sizePct)
	}
}

func TestSize_LeverageNeverBelowOne(t *testing.T) {
	s := New(zap.NewNop(), DefaultBounds())
	_, lev := s.Size(SizeInput{
		Confidence:        60,
		Attenuation:       decimal.NewFromInt(1),
		RewardRiskRatio:   decimal.NewFromFloat(2.0),
		Regime:            types.RegimeChoppy,
		ConsecutiveLosses: 3,
	})
	if lev < 1 {
		t.Fatalf("leverage must never drop below 1, got %d", lev)
	}
}

func TestSize_AttenuationReducesBaseBelowMin(t *testing.T) {
	s := New(zap.NewNop(), DefaultBounds())
	sizePct, _ := s.Size(SizeInput{
		Confidence:      60,
		Attenuation:     decimal.NewFromFloat(0.1),
		RewardRiskRatio: decimal.NewFromFloat(2.0),
		Regime:          types.RegimeSideways,
	})
	if !sizePct.Equal(DefaultBounds().SizePctMin) {
		t.Fatalf("expected heavily attenuated size to clamp at the floor, got %s", sizePct)
	}
}
