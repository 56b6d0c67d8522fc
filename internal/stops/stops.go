// Package stops implements the Stop & Trailing Manager (spec.md §4.8):
// ATR-scaled initial stop placement, a monotone trailing-stop state
// machine activated once profit clears a regime-dependent threshold, and
// partial take-profit levels. Pure functions operating on a Position
// snapshot, called from the engine's monitor loop tick.
package stops

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/atlas-desktop/trading-backend/pkg/utils"
)

// ErrChoppyRegime signals the Stop Manager refuses to size a stop in a
// CHOPPY regime (spec.md §4.8 "CHOPPY → reject").
var ErrChoppyRegime = errors.New("stop sizing rejected: choppy regime")

// atrMultiplier maps regime to the ATR multiple used for the initial stop
// distance (spec.md §4.8).
func atrMultiplier(regime types.Regime) (decimal.Decimal, error) {
	switch regime {
	case types.RegimeTrending:
		return decimal.NewFromFloat(2.5), nil
	case types.RegimeHighVol:
		return decimal.NewFromFloat(3.0), nil
	case types.RegimeLowVol, types.RegimeSideways:
		return decimal.NewFromFloat(2.0), nil
	case types.RegimeChoppy:
		return decimal.Zero, ErrChoppyRegime
	default:
		return decimal.NewFromFloat(2.0), nil
	}
}

// InitialStop computes the stop-loss price for a new position, bounding
// the stop distance to [1%,5%] of entry price (spec.md §4.8).
func InitialStop(entry, atr decimal.Decimal, side types.PositionSide, regime types.Regime) (decimal.Decimal, error) {
	mult, err := atrMultiplier(regime)
	if err != nil {
		return decimal.Decimal{}, err
	}
	distance := mult.Mul(atr)

	minDist := entry.Mul(decimal.NewFromFloat(0.01))
	maxDist := entry.Mul(decimal.NewFromFloat(0.05))
	distance = utils.ClampDecimal(distance, minDist, maxDist)

	if side == types.PositionSideLong {
		return entry.Sub(distance), nil
	}
	return entry.Add(distance), nil
}

// trailingActivationPct returns the profit percentage that must be
// cleared before trailing engages (spec.md §4.8).
func trailingActivationPct(regime types.Regime) decimal.Decimal {
	switch regime {
	case types.RegimeTrending:
		return decimal.NewFromFloat(2.5)
	case types.RegimeSideways:
		return decimal.NewFromFloat(1.5)
	default:
		return decimal.NewFromFloat(2.0)
	}
}

// trailMultiplier returns the ATR multiple used for the trailing
// distance once active (spec.md §4.8): 1.5 normal, 1.0 once profit is
// ≥3%, 0.5 when UseTightTrailing is set.
func trailMultiplier(profitPct decimal.Decimal, useTightTrailing bool) decimal.Decimal {
	if useTightTrailing {
		return decimal.NewFromFloat(0.5)
	}
	if profitPct.GreaterThanOrEqual(decimal.NewFromInt(3)) {
		return decimal.NewFromFloat(1.0)
	}
	return decimal.NewFromFloat(1.5)
}

// profitPct returns unrealized profit as a percentage of entry price,
// signed positive regardless of side.
func profitPct(p *types.Position) decimal.Decimal {
	if p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	diff := p.CurrentPrice.Sub(p.EntryPrice)
	if p.Side == types.PositionSideShort {
		diff = diff.Neg()
	}
	return diff.Div(p.EntryPrice).Mul(decimal.NewFromInt(100))
}

// UpdateTrailing advances a position's trailing-stop state given its
// current price and ATR, mutating Position in place. The stop only ever
// moves in the position's favor (spec.md §8 P4 "trailing monotonicity").
func UpdateTrailing(p *types.Position, atr decimal.Decimal, regime types.Regime) {
	pct := profitPct(p)
	if pct.GreaterThan(p.PeakProfitPct) {
		p.PeakProfitPct = pct
	}

	if !p.TrailingActive {
		if pct.GreaterThanOrEqual(trailingActivationPct(regime)) {
			p.TrailingActive = true
			p.TrailingPeakPrice = p.CurrentPrice
		} else {
			return
		}
	}

	if p.Side == types.PositionSideLong && p.CurrentPrice.GreaterThan(p.TrailingPeakPrice) {
		p.TrailingPeakPrice = p.CurrentPrice
	}
	if p.Side == types.PositionSideShort && p.CurrentPrice.LessThan(p.TrailingPeakPrice) {
		p.TrailingPeakPrice = p.CurrentPrice
	}

	mult := trailMultiplier(pct, p.UseTightTrailing)
	distance := mult.Mul(atr)

	var candidate decimal.Decimal
	if p.Side == types.PositionSideLong {
		candidate = p.TrailingPeakPrice.Sub(distance)
		if candidate.GreaterThan(p.StopLoss) {
			p.StopLoss = candidate
		}
	} else {
		candidate = p.TrailingPeakPrice.Add(distance)
		if candidate.LessThan(p.StopLoss) || p.StopLoss.IsZero() {
			p.StopLoss = candidate
		}
	}
}

// PartialTarget is one partial take-profit level. It is due once profit
// reaches RMultiple × R, where R is the entry-to-initial-stop distance;
// the trigger is not scaled from ATR.
type PartialTarget struct {
	RMultiple decimal.Decimal
	Fraction  decimal.Decimal
	Label     string
}

// DefaultPartialTargets returns the two spec-mandated partial levels,
// using the lower bound of each configured fraction range so the sum of
// both stays comfortably under 100% of position size.
func DefaultPartialTargets() []PartialTarget {
	return []PartialTarget{
		{RMultiple: decimal.NewFromFloat(1.5), Fraction: decimal.NewFromFloat(0.25), Label: "tp1"},
		{RMultiple: decimal.NewFromFloat(2.5), Fraction: decimal.NewFromFloat(0.25), Label: "tp2"},
	}
}

// CheckPartialTargets returns the targets a position's current price has
// reached but not yet recorded a PartialExit for, in R-multiple order.
func CheckPartialTargets(p *types.Position, targets []PartialTarget) []PartialTarget {
	r := p.R()
	if r.IsZero() {
		return nil
	}
	hit := make(map[string]bool, len(p.PartialExits))
	for _, pe := range p.PartialExits {
		hit[pe.Label] = true
	}
	var due []PartialTarget
	for _, t := range targets {
		if hit[t.Label] {
			continue
		}
		targetPrice := t.RMultiple.Mul(r)
		diff := p.CurrentPrice.Sub(p.EntryPrice)
		if p.Side == types.PositionSideShort {
			diff = diff.Neg()
		}
		if diff.GreaterThanOrEqual(targetPrice) {
			due = append(due, t)
		}
	}
	return due
}
