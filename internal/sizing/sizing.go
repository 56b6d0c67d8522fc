// Package sizing implements the Position Sizer & Leverage Calculator
// (spec.md §4.7): a confidence-tiered base size attenuated by the gate's
// verdict and capped by a fractional-Kelly guard derived from the
// engine's trailing win rate, plus a leverage tier clamped by regime and
// loss-streak adjustments. Adapted from the teacher's Kelly-driven
// PositionSizer (internal/sizing/position_sizer.go) but replacing its
// float64 Kelly math with gonum/stat over the trade journal's win/loss
// series, and its continuous sizing curve with spec.md's exact tiers.
package sizing

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/atlas-desktop/trading-backend/pkg/utils"
)

// Bounds mirrors spec.md §4.7's hard clamps and leverage cap.
type Bounds struct {
	SizePctMin   decimal.Decimal
	SizePctMax   decimal.Decimal
	LeverageMax  int
}

// DefaultBounds returns spec.md §4.7's defaults: size clamped to
// [8%,25%], leverage hard-capped at 8x.
func DefaultBounds() Bounds {
	return Bounds{
		SizePctMin:  decimal.NewFromInt(8),
		SizePctMax:  decimal.NewFromInt(25),
		LeverageMax: 8,
	}
}

// Sizer computes AcceptedTrade sizing fields from a gated Proposal.
type Sizer struct {
	logger *zap.Logger
	bounds Bounds
}

// New builds a Sizer.
func New(logger *zap.Logger, bounds Bounds) *Sizer {
	return &Sizer{logger: logger.Named("sizer"), bounds: bounds}
}

// baseSizePct maps confidence tiers to the starting size percentage
// (spec.md §4.7): 90-100→20%, 80-89→18%, 70-79→15%, 60-69→12%.
func baseSizePct(confidence int) decimal.Decimal {
	switch {
	case confidence >= 90:
		return decimal.NewFromInt(20)
	case confidence >= 80:
		return decimal.NewFromInt(18)
	case confidence >= 70:
		return decimal.NewFromInt(15)
	default:
		return decimal.NewFromInt(12)
	}
}

// leverageTier maps confidence to the base leverage multiplier (spec.md
// §4.7): <70→3x, 70-79→5x, 80-89→6x, 90-100→8x.
func leverageTier(confidence int) int {
	switch {
	case confidence >= 90:
		return 8
	case confidence >= 80:
		return 6
	case confidence >= 70:
		return 5
	default:
		return 3
	}
}

// KellyFraction computes the fractional-Kelly size guard from a trailing
// win/loss outcome series (1 for win, 0 for loss) and the average
// reward/risk ratio, per spec.md §4.7:
//
//	kelly = winRate - (1-winRate)/rewardRiskRatio
//	guard = 0.25 * max(kelly,0) * 100   if winRate >= 0.40
//	guard = 0.15 * max(kelly,0) * 100   otherwise
//
// winLossSeries must contain at least one trade; returns the bounds'
// SizePctMax unattenuated when there is no history, since an engine with
// no track record should not be artificially starved.
func (s *Sizer) KellyFraction(winLossSeries []float64, rewardRiskRatio decimal.Decimal) decimal.Decimal {
	if len(winLossSeries) == 0 || rewardRiskRatio.IsZero() {
		return s.bounds.SizePctMax
	}
	winRate := stat.Mean(winLossSeries, nil)
	rr, _ := rewardRiskRatio.Float64()
	kelly := winRate - (1-winRate)/rr
	if kelly < 0 {
		kelly = 0
	}
	fraction := 0.15
	if winRate >= 0.40 {
		fraction = 0.25
	}
	guardPct := fraction * kelly * 100
	return decimal.NewFromFloat(guardPct)
}

// SizeInput bundles everything Size needs.
type SizeInput struct {
	Confidence        int
	Attenuation       decimal.Decimal // product of gate multipliers
	WinLossSeries     []float64
	RewardRiskRatio   decimal.Decimal
	Regime            types.Regime
	ConsecutiveLosses int
}

// minTradesForKellyGuard is spec.md §4.7's "at least 10 closed trades"
// floor below which the Kelly cap does not apply, since a short track
// record estimates win rate too noisily to cap sizing on it.
const minTradesForKellyGuard = 10

// Size computes the size percentage and leverage for a gated proposal
// (spec.md §4.7).
func (s *Sizer) Size(in SizeInput) (sizePct decimal.Decimal, leverage int) {
	base := baseSizePct(in.Confidence).Mul(in.Attenuation)

	if len(in.WinLossSeries) >= minTradesForKellyGuard {
		kellyGuard := s.KellyFraction(in.WinLossSeries, in.RewardRiskRatio)
		if base.GreaterThan(kellyGuard) {
			base = kellyGuard
		}
	}

	base = utils.ClampDecimal(base, s.bounds.SizePctMin, s.bounds.SizePctMax)

	lev := leverageTier(in.Confidence)
	if in.Regime == types.RegimeHighVol || in.Regime == types.RegimeChoppy {
		lev = lev / 2
	}
	if in.ConsecutiveLosses >= 2 {
		lev = lev / 2
		base = base.Div(decimal.NewFromInt(2))
	}
	if lev < 1 {
		lev = 1
	}
	if lev > s.bounds.LeverageMax {
		lev = s.bounds.LeverageMax
	}

	return base, lev
}
