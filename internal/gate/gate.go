// Package gate implements the Signal Quality Gate (spec.md §4.6): an
// ordered chain of filters that each pass, attenuate, or reject a
// Proposal before it reaches the sizer. Every filter is a pure function
// of its inputs so the same Proposal+MarketContext always yields the
// same Decision (spec.md §8 P7 "gate determinism").
package gate

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-backend/internal/blacklist"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// Verdict is the sum type every filter and the overall gate returns
// (spec.md §4.6, §9 redesign flag: Pass | PassWithAttenuation | Reject).
type Verdict string

const (
	VerdictPass        Verdict = "PASS"
	VerdictAttenuated  Verdict = "PASS_WITH_ATTENUATION"
	VerdictReject      Verdict = "REJECT"
)

// Decision is the outcome of one filter, or of the whole chain.
// ConfidenceDelta and UseTightTrailing accumulate across every filter the
// chain runs, not just the one that produced the final verdict, since
// MicroAligner/VolumeConfirmer/BreakoutDetector all adjust the proposal in
// ways that survive even when a later filter only attenuates.
type Decision struct {
	Verdict          Verdict
	Multiplier       decimal.Decimal // 1 for Pass, 0 for Reject; <1 for Attenuated
	Reason           string
	FailedStage      string
	ConfidenceDelta  int
	UseTightTrailing bool
}

func pass() Decision {
	return Decision{Verdict: VerdictPass, Multiplier: decimal.NewFromInt(1)}
}

func attenuate(multiplier decimal.Decimal, reason string) Decision {
	return Decision{Verdict: VerdictAttenuated, Multiplier: multiplier, Reason: reason}
}

func reject(reason string) Decision {
	return Decision{Verdict: VerdictReject, Multiplier: decimal.Zero, Reason: reason}
}

// Input bundles everything a filter needs. Filters must not mutate it.
type Input struct {
	Proposal       types.Proposal
	Blacklist      *blacklist.List
	OpenPositions  int
	MaxPositions   int
	EngineExposure decimal.Decimal
	AvailableUsd   decimal.Decimal
	CorrelatedOpen int
	CorrelationCap int
	RiskBreaker    bool
	RiskReason     string
	MinConfidenceTrending int
	MinConfidenceOther    int
}

// Filter is one ordered stage of the gate (spec.md §4.6 lists 11).
type Filter interface {
	Name() string
	Evaluate(in Input) Decision
}

// Chain runs every filter in spec.md §4.6's order, short-circuiting on
// the first Reject and multiplying attenuations together otherwise.
type Chain struct {
	filters []Filter
}

// Default builds the gate's canonical 11-filter chain in spec order:
// Blacklist, Regime, Confidence, DirectionAligner, MomentumValidator,
// MicroAligner, VolumeConfirmer, BreakoutDetector, ExposureGate,
// CorrelationGate, GlobalRiskGate.
func Default() *Chain {
	return &Chain{filters: []Filter{
		blacklistFilter{},
		regimeFilter{},
		confidenceFilter{},
		directionAligner{},
		momentumValidator{},
		microAligner{},
		volumeConfirmer{},
		breakoutDetector{},
		exposureGate{},
		correlationGate{},
		globalRiskGate{},
	}}
}

// Evaluate runs the full chain, returning the first rejection or the
// product of every attenuation multiplier applied along the way, plus the
// sum of every confidence delta and the OR of every tight-trailing flag
// raised by a non-reject filter.
func (c *Chain) Evaluate(in Input) Decision {
	total := decimal.NewFromInt(1)
	var reasons []string
	confidenceDelta := 0
	useTightTrailing := false
	for _, f := range c.filters {
		d := f.Evaluate(in)
		switch d.Verdict {
		case VerdictReject:
			d.FailedStage = f.Name()
			return d
		case VerdictAttenuated:
			total = total.Mul(d.Multiplier)
			reasons = append(reasons, fmt.Sprintf("%s:%s", f.Name(), d.Reason))
		}
		confidenceDelta += d.ConfidenceDelta
		useTightTrailing = useTightTrailing || d.UseTightTrailing
	}
	if total.LessThan(decimal.NewFromInt(1)) {
		return Decision{Verdict: VerdictAttenuated, Multiplier: total, Reason: joinReasons(reasons),
			ConfidenceDelta: confidenceDelta, UseTightTrailing: useTightTrailing}
	}
	out := pass()
	out.ConfidenceDelta = confidenceDelta
	out.UseTightTrailing = useTightTrailing
	return out
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += "; "
		}
		out += r
	}
	return out
}

// --- individual filters ---

type blacklistFilter struct{}

func (blacklistFilter) Name() string { return "BlacklistFilter" }
func (blacklistFilter) Evaluate(in Input) Decision {
	if in.Blacklist != nil && in.Blacklist.IsBlacklisted(in.Proposal.Symbol) {
		return reject("symbol blacklisted")
	}
	return pass()
}

type regimeFilter struct{}

func (regimeFilter) Name() string { return "RegimeFilter" }
func (regimeFilter) Evaluate(in Input) Decision {
	switch in.Proposal.Context.Regime {
	case types.RegimeChoppy:
		return reject("choppy regime")
	case types.RegimeSideways:
		return reject("sideways regime")
	}
	return pass()
}

type confidenceFilter struct{}

func (confidenceFilter) Name() string { return "ConfidenceFilter" }
func (confidenceFilter) Evaluate(in Input) Decision {
	// SIDEWAYS/CHOPPY never reach here; RegimeFilter already rejected them.
	// The "other" threshold applies to HIGH_VOL/LOW_VOL.
	threshold := in.MinConfidenceOther
	if in.Proposal.Context.Regime == types.RegimeTrending {
		threshold = in.MinConfidenceTrending
	}
	if in.Proposal.Confidence < threshold {
		return reject(fmt.Sprintf("confidence %d below threshold %d", in.Proposal.Confidence, threshold))
	}
	if in.Proposal.Confidence < 70 {
		return attenuate(decimal.NewFromFloat(0.5), "confidence below 70")
	}
	return pass()
}

type directionAligner struct{}

func (directionAligner) Name() string { return "DirectionAligner" }
func (directionAligner) Evaluate(in Input) Decision {
	if in.Proposal.Context.AlignmentScore < 40 {
		return reject("multi-timeframe direction conflict")
	}
	if in.Proposal.Context.AlignmentScore < 70 {
		return attenuate(decimal.NewFromFloat(0.8), "partial timeframe alignment")
	}
	return pass()
}

type momentumValidator struct{}

func (momentumValidator) Name() string { return "MomentumValidator" }
func (momentumValidator) Evaluate(in Input) Decision {
	// Base timeframe is 1h: the same frame ClassifyRegime reasons over.
	base, ok := in.Proposal.Context.Views[types.Timeframe1h]
	if ok {
		if in.Proposal.Side == types.PositionSideLong && base.Change5Pct.LessThan(decimal.NewFromFloat(-0.3)) {
			return reject(fmt.Sprintf("close fell %s%% over last 5 candles", base.Change5Pct.Abs().String()))
		}
		if in.Proposal.Side == types.PositionSideShort && base.Change5Pct.GreaterThan(decimal.NewFromFloat(0.3)) {
			return reject(fmt.Sprintf("close rose %s%% over last 5 candles", base.Change5Pct.String()))
		}
	}
	if v15m, ok := in.Proposal.Context.Views[types.Timeframe15m]; ok {
		if in.Proposal.Side == types.PositionSideLong && v15m.RSI14.GreaterThan(decimal.NewFromInt(70)) {
			return reject("rsi15m overbought for long")
		}
		if in.Proposal.Side == types.PositionSideShort && v15m.RSI14.LessThan(decimal.NewFromInt(30)) {
			return reject("rsi15m oversold for short")
		}
	}
	return pass()
}

type microAligner struct{}

func (microAligner) Name() string { return "MicroAligner" }
func (microAligner) Evaluate(in Input) Decision {
	v1m, ok1m := in.Proposal.Context.Views[types.Timeframe1m]
	v5m, ok5m := in.Proposal.Context.Views[types.Timeframe5m]
	if !ok1m || !ok5m {
		return pass()
	}
	matches1m := directionMatchesSide(v1m.Direction, in.Proposal.Side)
	matches5m := directionMatchesSide(v5m.Direction, in.Proposal.Side)
	if matches1m && matches5m {
		d := pass()
		d.ConfidenceDelta = 10
		return d
	}
	contradicts1m := directionMatchesSide(v1m.Direction, in.Proposal.Side.Opposite())
	contradicts5m := directionMatchesSide(v5m.Direction, in.Proposal.Side.Opposite())
	if contradicts1m && contradicts5m {
		return reject("1m and 5m both contradict proposal direction")
	}
	return pass()
}

func directionMatchesSide(d types.TrendDirection, side types.PositionSide) bool {
	if side == types.PositionSideLong {
		return d == types.TrendUp
	}
	return d == types.TrendDown
}

type volumeConfirmer struct{}

func (volumeConfirmer) Name() string { return "VolumeConfirmer" }
func (volumeConfirmer) Evaluate(in Input) Decision {
	view, ok := in.Proposal.Context.Views[types.Timeframe15m]
	if !ok {
		return pass()
	}
	ratio := view.VolumeRatio
	if ratio.LessThan(decimal.NewFromFloat(0.8)) {
		return reject(fmt.Sprintf("volume ratio %s below 0.8", ratio.String()))
	}
	if ratio.LessThan(decimal.NewFromFloat(1.5)) {
		return attenuate(decimal.NewFromFloat(0.6), "volume ratio below 1.5")
	}
	d := pass()
	if ratio.GreaterThan(decimal.NewFromFloat(2.5)) {
		d.ConfidenceDelta = 10
	}
	return d
}

type breakoutDetector struct{}

func (breakoutDetector) Name() string { return "BreakoutDetector" }
func (breakoutDetector) Evaluate(in Input) Decision {
	sr := in.Proposal.Context.SupportResistance
	entry := in.Proposal.EntryPrice
	view := in.Proposal.Context.Views[types.Timeframe15m]
	volumeSurge := view.VolumeRatio.GreaterThan(decimal.NewFromFloat(1.5))

	breakout := (in.Proposal.Side == types.PositionSideLong && sr.NearestResistance.IsPositive() &&
		entry.GreaterThan(sr.NearestResistance)) ||
		(in.Proposal.Side == types.PositionSideShort && sr.NearestSupport.IsPositive() &&
			entry.LessThan(sr.NearestSupport))

	if breakout && volumeSurge {
		d := pass()
		d.ConfidenceDelta = 15
		d.UseTightTrailing = true
		return d
	}
	if breakout {
		return pass()
	}
	if sr.NearestResistance.IsPositive() && sr.NearestSupport.IsPositive() {
		return attenuate(decimal.NewFromFloat(0.9), "entry within range, no confirmed breakout")
	}
	return pass()
}

type exposureGate struct{}

func (exposureGate) Name() string { return "ExposureGate" }
func (exposureGate) Evaluate(in Input) Decision {
	if in.MaxPositions > 0 && in.OpenPositions >= in.MaxPositions {
		return reject("max open positions reached")
	}
	if in.AvailableUsd.LessThanOrEqual(decimal.Zero) {
		return reject("no available capital for engine")
	}
	return pass()
}

type correlationGate struct{}

func (correlationGate) Name() string { return "CorrelationGate" }
func (correlationGate) Evaluate(in Input) Decision {
	if in.CorrelationCap > 0 && in.CorrelatedOpen >= in.CorrelationCap {
		return reject("correlation group exposure cap reached")
	}
	return pass()
}

type globalRiskGate struct{}

func (globalRiskGate) Name() string { return "GlobalRiskGate" }
func (globalRiskGate) Evaluate(in Input) Decision {
	if in.RiskBreaker {
		return reject("global risk circuit breaker active: " + in.RiskReason)
	}
	if in.Proposal.Context.PauseAltcoins && in.Proposal.Symbol != in.Proposal.Context.ReferenceSymbol {
		return attenuate(decimal.NewFromFloat(0.5), "altcoins paused on BTC weakness")
	}
	return pass()
}
