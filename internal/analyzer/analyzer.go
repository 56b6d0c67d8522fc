// Package analyzer builds the per-symbol MarketContext the Signal Quality
// Gate and sizer consume: one TimeframeView per configured timeframe, a
// deterministic regime classification, a weighted multi-timeframe
// alignment score, and the correlated-reference-symbol adjustment
// (spec.md §3, §4.5). The regime classifier replaces the teacher's HMM
// (internal/regime/detector.go) with the exact threshold rules spec.md
// §4.5 requires, since the gate-determinism property (P7) rules out a
// probabilistic model: the same candle history must always classify to
// the same regime.
package analyzer

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/indicators"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// Source supplies closed candle history; satisfied by marketdata.Hub.
type Source interface {
	OHLCV(ctx context.Context, symbol string, timeframe types.Timeframe, limit int) ([]types.OHLCV, error)
}

// Analyzer computes TimeframeViews and MarketContext for one engine's
// configured timeframe set.
type Analyzer struct {
	logger          *zap.Logger
	source          Source
	timeframes      []types.Timeframe
	referenceSymbol string
	candleLimit     int
}

// New builds an Analyzer. timeframes should be ordered from the
// confirmation (slowest) frame to the entry (fastest) frame, e.g.
// [4h, 1h, 15m].
func New(logger *zap.Logger, source Source, timeframes []types.Timeframe, referenceSymbol string) *Analyzer {
	return &Analyzer{
		logger:          logger.Named("analyzer"),
		source:          source,
		timeframes:      timeframes,
		referenceSymbol: referenceSymbol,
		candleLimit:     200,
	}
}

// BuildView computes a TimeframeView from a closed-candle series. Exposed
// standalone (not just through BuildContext) so the gate and sizer's
// tests can feed synthetic candle fixtures directly.
func BuildView(candles []types.OHLCV, timeframe types.Timeframe) types.TimeframeView {
	closes := closesOf(candles)
	view := types.TimeframeView{
		Timeframe:   timeframe,
		EMA9:        indicators.EMA(closes, 9),
		EMA21:       indicators.EMA(closes, 21),
		EMA50:       indicators.EMA(closes, 50),
		RSI14:       indicators.RSI(closes, 14),
		ATR14:       indicators.ATR(candles, 14),
		ADX14:       indicators.ADX(candles, 14),
		VolumeRatio: indicators.VolumeRatio(candles, 20),
	}
	macd := indicators.MACD(closes, 12, 26, 9)
	view.MACDLine = macd.Line
	view.MACDSignal = macd.Signal
	view.MACDHist = macd.Histogram
	if len(closes) > 0 {
		view.Close = closes[len(closes)-1]
	}
	view.Change5Pct = change5Pct(closes)
	view.Direction, view.Strength = classifyTrend(view)
	return view
}

// change5Pct is the percentage move of the close over the last 5 candles,
// feeding the gate's MomentumValidator filter.
func change5Pct(closes []decimal.Decimal) decimal.Decimal {
	if len(closes) < 6 {
		return decimal.Zero
	}
	last := closes[len(closes)-1]
	prior := closes[len(closes)-6]
	if prior.IsZero() {
		return decimal.Zero
	}
	return last.Sub(prior).Div(prior).Mul(decimal.NewFromInt(100))
}

func closesOf(candles []types.OHLCV) []decimal.Decimal {
	closes := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes
}

// classifyTrend derives direction/strength from the EMA9/EMA21/close
// relationship (spec.md §3, §4.5): UP iff ema9>ema21 and close>ema9; DOWN
// iff ema9<ema21 and close<ema21; otherwise SIDEWAYS. Strength buckets the
// EMA9/EMA21 spread relative to price: STRONG above 1%, MODERATE above
// 0.3%, otherwise WEAK.
func classifyTrend(v types.TimeframeView) (types.TrendDirection, types.TrendStrength) {
	direction := types.TrendSideways
	switch {
	case v.EMA9.GreaterThan(v.EMA21) && v.Close.GreaterThan(v.EMA9):
		direction = types.TrendUp
	case v.EMA9.LessThan(v.EMA21) && v.Close.LessThan(v.EMA21):
		direction = types.TrendDown
	}

	strength := types.TrendWeak
	if v.Close.IsPositive() {
		spreadPct := v.EMA9.Sub(v.EMA21).Abs().Div(v.Close).Mul(decimal.NewFromInt(100))
		switch {
		case spreadPct.GreaterThan(decimal.NewFromInt(1)):
			strength = types.TrendStrong
		case spreadPct.GreaterThan(decimal.NewFromFloat(0.3)):
			strength = types.TrendModerate
		}
	}
	return direction, strength
}

// BuildContext pulls candle history for every configured timeframe plus
// the reference symbol, and assembles a fully classified MarketContext
// (spec.md §4.5).
func (a *Analyzer) BuildContext(ctx context.Context, symbol string) (types.MarketContext, error) {
	views := make(map[types.Timeframe]types.TimeframeView, len(a.timeframes))
	var trendCandles []types.OHLCV

	for _, tf := range a.timeframes {
		candles, err := a.source.OHLCV(ctx, symbol, tf, a.candleLimit)
		if err != nil {
			return types.MarketContext{}, err
		}
		views[tf] = BuildView(candles, tf)
		if tf == types.Timeframe1h {
			trendCandles = candles
		}
	}
	if trendCandles == nil {
		// Fall back to whichever frame was fetched so regime classification
		// still has a candle series to reason over.
		for _, tf := range a.timeframes {
			if candles, err := a.source.OHLCV(ctx, symbol, tf, a.candleLimit); err == nil {
				trendCandles = candles
				break
			}
		}
	}

	mc := types.MarketContext{
		Symbol:          symbol,
		Views:           views,
		ReferenceSymbol: a.referenceSymbol,
	}
	mc.Regime = ClassifyRegime(trendCandles, views)
	mc.AlignmentScore = AlignmentScore(views)
	mc.SupportResistance = SupportResistance(trendCandles)

	if symbol != a.referenceSymbol {
		refCandles, err := a.source.OHLCV(ctx, a.referenceSymbol, types.Timeframe1h, a.candleLimit)
		if err == nil {
			refView := BuildView(refCandles, types.Timeframe1h)
			mc.ReferenceView = &refView
			mc.BTCAdjustment, mc.PauseAltcoins = BTCAdjustment(refView)
		}
	}
	return mc, nil
}

// ClassifyRegime applies spec.md §4.5's exact deterministic rules, in
// priority order CHOPPY > SIDEWAYS > HIGH_VOL > LOW_VOL > TRENDING.
func ClassifyRegime(candles []types.OHLCV, views map[types.Timeframe]types.TimeframeView) types.Regime {
	if len(candles) < 20 {
		return types.RegimeSideways
	}
	window := candles
	if len(window) > 20 {
		window = window[len(window)-20:]
	}

	atr14 := indicators.ATR(candles, 14)
	atrAverage := rollingATRAverage(candles, 14, 50)
	adx14 := indicators.ADX(candles, 14)

	if isChoppy(window, adx14) {
		return types.RegimeChoppy
	}
	if isSideways(window) {
		return types.RegimeSideways
	}
	if atrAverage.IsPositive() {
		if atr14.GreaterThan(atrAverage.Mul(decimal.NewFromFloat(1.5))) {
			return types.RegimeHighVol
		}
		if atr14.LessThan(atrAverage.Mul(decimal.NewFromFloat(0.5))) {
			return types.RegimeLowVol
		}
	}
	_ = views
	return types.RegimeTrending
}

// isSideways reports whether price stayed within a 2% band over the
// window (spec.md §4.5).
func isSideways(window []types.OHLCV) bool {
	high, low := window[0].High, window[0].Low
	for _, c := range window {
		if c.High.GreaterThan(high) {
			high = c.High
		}
		if c.Low.LessThan(low) {
			low = c.Low
		}
	}
	if low.IsZero() {
		return false
	}
	bandPct := high.Sub(low).Div(low).Mul(decimal.NewFromInt(100))
	return bandPct.LessThanOrEqual(decimal.NewFromInt(2))
}

// isChoppy reports >4 EMA9 crossings of price in the window, or adx14 < 15
// (spec.md §4.5).
func isChoppy(window []types.OHLCV, adx14 decimal.Decimal) bool {
	if adx14.LessThan(decimal.NewFromInt(15)) {
		return true
	}
	closes := closesOf(window)
	if len(closes) < 10 {
		return false
	}
	ema9 := indicators.EMASeries(closes, 9)
	offset := len(closes) - len(ema9)
	crossings := 0
	for i := 1; i < len(ema9); i++ {
		prevAbove := closes[offset+i-1].GreaterThan(ema9[i-1])
		nowAbove := closes[offset+i].GreaterThan(ema9[i])
		if prevAbove != nowAbove {
			crossings++
		}
	}
	return crossings > 4
}

// rollingATRAverage averages `samples` consecutive ATR(period) readings
// ending at the most recent candle.
func rollingATRAverage(candles []types.OHLCV, period, samples int) decimal.Decimal {
	minLen := period + 1
	if len(candles) < minLen+1 {
		return indicators.ATR(candles, period)
	}
	count := samples
	if count > len(candles)-minLen {
		count = len(candles) - minLen
	}
	if count <= 0 {
		return indicators.ATR(candles, period)
	}
	sum := decimal.Zero
	for i := 0; i < count; i++ {
		end := len(candles) - count + i + 1
		sum = sum.Add(indicators.ATR(candles[:end], period))
	}
	return sum.Div(decimal.NewFromInt(int64(count)))
}

// AlignmentWeights is the 4h/1h/15m weighting spec.md §4.5 uses both for
// AlignmentScore's vote and, via engine.buildProposal, for picking the
// proposal's dominant direction.
var AlignmentWeights = map[types.Timeframe]decimal.Decimal{
	types.Timeframe4h:  decimal.NewFromFloat(0.50),
	types.Timeframe1h:  decimal.NewFromFloat(0.30),
	types.Timeframe15m: decimal.NewFromFloat(0.20),
}

// AlignmentScore weighs 4h/1h/15m trend agreement per spec.md §4.5:
// 100 if all three agree, 70 if two agree, 40 otherwise; +25 bonus when
// the weighted vote unanimously favors one direction; -15 penalty when
// 1h contradicts 4h.
func AlignmentScore(views map[types.Timeframe]types.TimeframeView) int {
	v4h, ok4h := views[types.Timeframe4h]
	v1h, ok1h := views[types.Timeframe1h]
	v15m, ok15m := views[types.Timeframe15m]
	if !ok4h || !ok1h || !ok15m {
		return 40
	}

	directions := []types.TrendDirection{v4h.Direction, v1h.Direction, v15m.Direction}
	counts := map[types.TrendDirection]int{}
	for _, d := range directions {
		counts[d]++
	}
	maxAgree := 0
	for _, c := range counts {
		if c > maxAgree {
			maxAgree = c
		}
	}

	score := 40
	switch maxAgree {
	case 3:
		score = 100
	case 2:
		score = 70
	}

	if maxAgree == 3 {
		score += 25
	}
	if v1h.Direction != types.TrendSideways && v4h.Direction != types.TrendSideways && v1h.Direction != v4h.Direction {
		score -= 15
	}
	return score
}

// BTCAdjustment derives an altcoin confidence adjustment and an
// altcoin-pause flag from the reference symbol's trend (spec.md §4.5
// "BTC-correlated adjustment").
func BTCAdjustment(refView types.TimeframeView) (int, bool) {
	switch refView.Direction {
	case types.TrendDown:
		if refView.Strength == types.TrendStrong {
			return -20, true
		}
		return -10, false
	case types.TrendUp:
		if refView.Strength == types.TrendStrong {
			return 10, false
		}
		return 0, false
	default:
		return 0, false
	}
}

// SupportResistance derives the nearest support/resistance from recent
// swing highs/lows, feeding the gate's BreakoutDetector filter.
func SupportResistance(candles []types.OHLCV) types.SupportResistance {
	if len(candles) == 0 {
		return types.SupportResistance{}
	}
	window := candles
	if len(window) > 50 {
		window = window[len(window)-50:]
	}
	last := window[len(window)-1].Close
	support := window[0].Low
	resistance := window[0].High
	for _, c := range window {
		if c.Low.LessThan(support) && c.Low.LessThan(last) {
			support = c.Low
		}
		if c.High.GreaterThan(resistance) && c.High.GreaterThan(last) {
			resistance = c.High
		}
	}
	return types.SupportResistance{NearestSupport: support, NearestResistance: resistance}
}
