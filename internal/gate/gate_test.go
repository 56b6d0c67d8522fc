package gate

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/blacklist"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

func baseInput() Input {
	return Input{
		Proposal: types.Proposal{
			Symbol:     "BTC/USDT",
			Side:       types.PositionSideLong,
			EntryPrice: decimal.NewFromInt(100),
			Confidence: 80,
			Context: types.MarketContext{
				Symbol:          "BTC/USDT",
				ReferenceSymbol: "BTC/USDT",
				Regime:          types.RegimeTrending,
				AlignmentScore:  90,
				Views:           map[types.Timeframe]types.TimeframeView{},
			},
		},
		MaxPositions:          5,
		AvailableUsd:          decimal.NewFromInt(1000),
		CorrelationCap:        2,
		MinConfidenceTrending: 60,
		MinConfidenceOther:    65,
	}
}

func TestChain_DefaultPassesCleanProposal(t *testing.T) {
	d := Default().Evaluate(baseInput())
	if d.Verdict != VerdictPass {
		t.Fatalf("expected pass, got %+v", d)
	}
}

func TestChain_RejectShortCircuits(t *testing.T) {
	in := baseInput()
	in.Proposal.Context.Regime = types.RegimeChoppy
	d := Default().Evaluate(in)
	if d.Verdict != VerdictReject {
		t.Fatalf("expected reject, got %+v", d)
	}
	if d.FailedStage != "RegimeFilter" {
		t.Fatalf("expected RegimeFilter to report the rejection, got %q", d.FailedStage)
	}
}

func TestChain_AttenuationsMultiply(t *testing.T) {
	in := baseInput()
	in.Proposal.Confidence = 65            // clears the 60 trending threshold, still under 70: 0.5
	in.Proposal.Context.AlignmentScore = 50 // partial alignment: 0.8
	d := Default().Evaluate(in)
	if d.Verdict != VerdictAttenuated {
		t.Fatalf("expected attenuation, got %+v", d)
	}
	want := decimal.NewFromFloat(0.5).Mul(decimal.NewFromFloat(0.8))
	if !d.Multiplier.Equal(want) {
		t.Fatalf("expected multiplier %s, got %s", want, d.Multiplier)
	}
}

func TestBlacklistFilter_RejectsBlacklistedSymbol(t *testing.T) {
	bl := blacklist.New(zap.NewNop(), time.Hour)
	bl.Add("BTC/USDT", "stop loss exit")
	in := baseInput()
	in.Blacklist = bl
	d := blacklistFilter{}.Evaluate(in)
	if d.Verdict != VerdictReject {
		t.Fatalf("expected reject for blacklisted symbol, got %+v", d)
	}
}

func TestConfidenceFilter_UsesTrendingThreshold(t *testing.T) {
	in := baseInput()
	in.Proposal.Confidence = 59
	in.Proposal.Context.Regime = types.RegimeTrending
	if d := (confidenceFilter{}).Evaluate(in); d.Verdict != VerdictReject {
		t.Fatalf("59 should not clear the trending threshold of 60, got %+v", d)
	}
	in.Proposal.Confidence = 75
	if d := (confidenceFilter{}).Evaluate(in); d.Verdict != VerdictPass {
		t.Fatalf("75 should clear both the threshold and the soft-confidence band, got %+v", d)
	}
}

func TestConfidenceFilter_RejectsHighVolBelowOtherThreshold(t *testing.T) {
	in := baseInput()
	in.Proposal.Confidence = 64
	in.Proposal.Context.Regime = types.RegimeHighVol
	if d := (confidenceFilter{}).Evaluate(in); d.Verdict != VerdictReject {
		t.Fatalf("64 should not clear the non-trending threshold of 65, got %+v", d)
	}
}

func TestConfidenceFilter_AttenuatesSoftConfidenceBand(t *testing.T) {
	in := baseInput()
	in.Proposal.Confidence = 65
	in.Proposal.Context.Regime = types.RegimeTrending
	d := confidenceFilter{}.Evaluate(in)
	if d.Verdict != VerdictAttenuated || !d.Multiplier.Equal(decimal.NewFromFloat(0.5)) {
		t.Fatalf("expected 0.5x attenuation for confidence in [threshold,70), got %+v", d)
	}
}

func TestRegimeFilter_RejectsSidewaysAndChoppy(t *testing.T) {
	in := baseInput()
	in.Proposal.Context.Regime = types.RegimeSideways
	if d := (regimeFilter{}).Evaluate(in); d.Verdict != VerdictReject {
		t.Fatalf("expected SIDEWAYS to reject, got %+v", d)
	}
	in.Proposal.Context.Regime = types.RegimeChoppy
	if d := (regimeFilter{}).Evaluate(in); d.Verdict != VerdictReject {
		t.Fatalf("expected CHOPPY to reject, got %+v", d)
	}
}

func TestRegimeFilter_PassesHighVolWithNoAttenuation(t *testing.T) {
	in := baseInput()
	in.Proposal.Context.Regime = types.RegimeHighVol
	d := regimeFilter{}.Evaluate(in)
	if d.Verdict != VerdictPass {
		t.Fatalf("HIGH_VOL has no regime-filter attenuation in spec, expected plain pass, got %+v", d)
	}
}

func TestMomentumValidator_RejectsAdverseCloseForLong(t *testing.T) {
	in := baseInput()
	in.Proposal.Side = types.PositionSideLong
	in.Proposal.Context.Views[types.Timeframe1h] = types.TimeframeView{Change5Pct: decimal.NewFromFloat(-0.45)}
	d := momentumValidator{}.Evaluate(in)
	if d.Verdict != VerdictReject {
		t.Fatalf("expected reject for a long after a 0.45%% adverse close, got %+v", d)
	}
}

func TestMomentumValidator_RejectsAdverseCloseForShort(t *testing.T) {
	in := baseInput()
	in.Proposal.Side = types.PositionSideShort
	in.Proposal.Context.Views[types.Timeframe1h] = types.TimeframeView{Change5Pct: decimal.NewFromFloat(0.45)}
	d := momentumValidator{}.Evaluate(in)
	if d.Verdict != VerdictReject {
		t.Fatalf("expected reject for a short after a 0.45%% adverse rise, got %+v", d)
	}
}

func TestMomentumValidator_RejectsOverbought15mRSIForLong(t *testing.T) {
	in := baseInput()
	in.Proposal.Side = types.PositionSideLong
	in.Proposal.Context.Views[types.Timeframe15m] = types.TimeframeView{RSI14: decimal.NewFromInt(75)}
	d := momentumValidator{}.Evaluate(in)
	if d.Verdict != VerdictReject {
		t.Fatalf("expected reject for rsi15m=75 on a long, got %+v", d)
	}
}

func TestMomentumValidator_PassesWithoutAdverseSignals(t *testing.T) {
	in := baseInput()
	in.Proposal.Side = types.PositionSideLong
	in.Proposal.Context.Views[types.Timeframe1h] = types.TimeframeView{Change5Pct: decimal.NewFromFloat(0.2)}
	in.Proposal.Context.Views[types.Timeframe15m] = types.TimeframeView{RSI14: decimal.NewFromInt(55)}
	d := momentumValidator{}.Evaluate(in)
	if d.Verdict != VerdictPass {
		t.Fatalf("expected pass with no adverse momentum, got %+v", d)
	}
}

func TestMicroAligner_AddsConfidenceWhenBothMatch(t *testing.T) {
	in := baseInput()
	in.Proposal.Side = types.PositionSideLong
	in.Proposal.Context.Views[types.Timeframe1m] = types.TimeframeView{Direction: types.TrendUp}
	in.Proposal.Context.Views[types.Timeframe5m] = types.TimeframeView{Direction: types.TrendUp}
	d := microAligner{}.Evaluate(in)
	if d.Verdict != VerdictPass || d.ConfidenceDelta != 10 {
		t.Fatalf("expected pass with +10 confidence when both micro frames match, got %+v", d)
	}
}

func TestMicroAligner_RejectsWhenBothContradict(t *testing.T) {
	in := baseInput()
	in.Proposal.Side = types.PositionSideLong
	in.Proposal.Context.Views[types.Timeframe1m] = types.TimeframeView{Direction: types.TrendDown}
	in.Proposal.Context.Views[types.Timeframe5m] = types.TimeframeView{Direction: types.TrendDown}
	d := microAligner{}.Evaluate(in)
	if d.Verdict != VerdictReject {
		t.Fatalf("expected reject when both micro frames contradict, got %+v", d)
	}
}

func TestMicroAligner_PassesWhenViewsMissing(t *testing.T) {
	in := baseInput()
	d := microAligner{}.Evaluate(in)
	if d.Verdict != VerdictPass || d.ConfidenceDelta != 0 {
		t.Fatalf("expected a neutral pass when 1m/5m views are unavailable, got %+v", d)
	}
}

func TestVolumeConfirmer_RejectsBelowPointEight(t *testing.T) {
	in := baseInput()
	in.Proposal.Context.Views[types.Timeframe15m] = types.TimeframeView{VolumeRatio: decimal.NewFromFloat(0.5)}
	d := volumeConfirmer{}.Evaluate(in)
	if d.Verdict != VerdictReject {
		t.Fatalf("expected reject below 0.8 volume ratio, got %+v", d)
	}
}

func TestVolumeConfirmer_AttenuatesBelowOnePointFive(t *testing.T) {
	in := baseInput()
	in.Proposal.Context.Views[types.Timeframe15m] = types.TimeframeView{VolumeRatio: decimal.NewFromFloat(1.2)}
	d := volumeConfirmer{}.Evaluate(in)
	if d.Verdict != VerdictAttenuated || !d.Multiplier.Equal(decimal.NewFromFloat(0.6)) {
		t.Fatalf("expected 0.6x attenuation for ratio in [0.8,1.5), got %+v", d)
	}
}

func TestVolumeConfirmer_AddsConfidenceAboveTwoPointFive(t *testing.T) {
	in := baseInput()
	in.Proposal.Context.Views[types.Timeframe15m] = types.TimeframeView{VolumeRatio: decimal.NewFromFloat(3)}
	d := volumeConfirmer{}.Evaluate(in)
	if d.Verdict != VerdictPass || d.ConfidenceDelta != 10 {
		t.Fatalf("expected pass with +10 confidence above a 2.5 volume ratio, got %+v", d)
	}
}

func TestBreakoutDetector_AddsConfidenceAndTightTrailingOnVolumeSurge(t *testing.T) {
	in := baseInput()
	in.Proposal.Context.SupportResistance = types.SupportResistance{
		NearestResistance: decimal.NewFromInt(95),
		NearestSupport:    decimal.NewFromInt(80),
	}
	in.Proposal.EntryPrice = decimal.NewFromInt(100)
	in.Proposal.Context.Views[types.Timeframe15m] = types.TimeframeView{VolumeRatio: decimal.NewFromFloat(2)}
	d := breakoutDetector{}.Evaluate(in)
	if d.Verdict != VerdictPass || d.ConfidenceDelta != 15 || !d.UseTightTrailing {
		t.Fatalf("expected +15 confidence and tight trailing on a volume-confirmed breakout, got %+v", d)
	}
}

func TestDirectionAligner_RejectsBelowForty(t *testing.T) {
	in := baseInput()
	in.Proposal.Context.AlignmentScore = 39
	d := directionAligner{}.Evaluate(in)
	if d.Verdict != VerdictReject {
		t.Fatalf("expected reject below 40, got %+v", d)
	}
}

func TestExposureGate_RejectsAtMaxPositions(t *testing.T) {
	in := baseInput()
	in.OpenPositions = 5
	d := exposureGate{}.Evaluate(in)
	if d.Verdict != VerdictReject {
		t.Fatalf("expected reject at max positions, got %+v", d)
	}
}

func TestExposureGate_RejectsNoCapital(t *testing.T) {
	in := baseInput()
	in.AvailableUsd = decimal.Zero
	d := exposureGate{}.Evaluate(in)
	if d.Verdict != VerdictReject {
		t.Fatalf("expected reject with zero available capital, got %+v", d)
	}
}

func TestCorrelationGate_RejectsAtCap(t *testing.T) {
	in := baseInput()
	in.CorrelatedOpen = 2
	d := correlationGate{}.Evaluate(in)
	if d.Verdict != VerdictReject {
		t.Fatalf("expected reject at correlation cap, got %+v", d)
	}
}

func TestGlobalRiskGate_RejectsOnCircuitBreaker(t *testing.T) {
	in := baseInput()
	in.RiskBreaker = true
	in.RiskReason = "daily loss limit"
	d := globalRiskGate{}.Evaluate(in)
	if d.Verdict != VerdictReject {
		t.Fatalf("expected reject while risk breaker active, got %+v", d)
	}
}

func TestGlobalRiskGate_AttenuatesAltcoinsOnPause(t *testing.T) {
	in := baseInput()
	in.Proposal.Symbol = "ETH/USDT"
	in.Proposal.Context.PauseAltcoins = true
	d := globalRiskGate{}.Evaluate(in)
	if d.Verdict != VerdictAttenuated {
		t.Fatalf("expected attenuation for paused altcoin, got %+v", d)
	}
}

func TestGlobalRiskGate_DoesNotAttenuateReferenceSymbol(t *testing.T) {
	in := baseInput()
	in.Proposal.Symbol = in.Proposal.Context.ReferenceSymbol
	in.Proposal.Context.PauseAltcoins = true
	d := globalRiskGate{}.Evaluate(in)
	if d.Verdict != VerdictPass {
		t.Fatalf("reference symbol should not be attenuated by the altcoin pause, got %+v", d)
	}
}

func TestBreakoutDetector_PassesOnConfirmedBreakout(t *testing.T) {
	in := baseInput()
	in.Proposal.Context.SupportResistance = types.SupportResistance{
		NearestResistance: decimal.NewFromInt(95),
		NearestSupport:    decimal.NewFromInt(80),
	}
	in.Proposal.EntryPrice = decimal.NewFromInt(100)
	d := breakoutDetector{}.Evaluate(in)
	if d.Verdict != VerdictPass {
		t.Fatalf("entry above resistance should pass cleanly, got %+v", d)
	}
}

func TestBreakoutDetector_AttenuatesRangeEntry(t *testing.T) {
	in := baseInput()
	in.Proposal.Context.SupportResistance = types.SupportResistance{
		NearestResistance: decimal.NewFromInt(120),
		NearestSupport:    decimal.NewFromInt(80),
	}
	in.Proposal.EntryPrice = decimal.NewFromInt(100)
	d := breakoutDetector{}.Evaluate(in)
	if d.Verdict != VerdictAttenuated {
		t.Fatalf("entry within range should attenuate, got %+v", d)
	}
}
