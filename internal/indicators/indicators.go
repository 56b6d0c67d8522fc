// Package indicators computes the technical-analysis panel consumed by the
// Multi-Timeframe Analyzer: EMA, RSI, MACD, ATR, ADX, and volume ratio.
// Every function folds over an immutable slice of closed candles and is
// pure — no suspension, no shared state — matching the concurrency
// contract in spec.md §5 ("indicator computation ... must not suspend").
package indicators

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/atlas-desktop/trading-backend/pkg/utils"
)

var (
	two      = decimal.NewFromInt(2)
	hundred  = decimal.NewFromInt(100)
	zero     = decimal.Zero
)

// EMA computes the exponential moving average series seeded with SMA(n),
// returning only the final value (spec.md §4.5: "standard exponential
// smoothing with multiplier 2/(n+1), seeded with SMA(n)").
func EMA(closes []decimal.Decimal, period int) decimal.Decimal {
	if len(closes) < period {
		return zero
	}
	sma := utils.CalculateMean(closes[:period])
	ema := sma
	multiplier := two.Div(decimal.NewFromInt(int64(period) + 1))
	for _, c := range closes[period:] {
		ema = c.Sub(ema).Mul(multiplier).Add(ema)
	}
	return ema
}

// EMASeries returns the full EMA series aligned to closes[period-1:], used
// by callers that need the EMA trajectory rather than just its last value
// (e.g. MACD's signal line).
func EMASeries(closes []decimal.Decimal, period int) []decimal.Decimal {
	if len(closes) < period {
		return nil
	}
	out := make([]decimal.Decimal, 0, len(closes)-period+1)
	sma := utils.CalculateMean(closes[:period])
	ema := sma
	out = append(out, ema)
	multiplier := two.Div(decimal.NewFromInt(int64(period) + 1))
	for _, c := range closes[period:] {
		ema = c.Sub(ema).Mul(multiplier).Add(ema)
		out = append(out, ema)
	}
	return out
}

// RSI computes Wilder's relative strength index over the trailing `period`
// closes (spec.md §4.5: "Wilder's smoothing on gains/losses").
func RSI(closes []decimal.Decimal, period int) decimal.Decimal {
	if len(closes) < period+1 {
		return decimal.NewFromInt(50)
	}
	var avgGain, avgLoss decimal.Decimal
	for i := 1; i <= period; i++ {
		delta := closes[i].Sub(closes[i-1])
		if delta.IsPositive() {
			avgGain = avgGain.Add(delta)
		} else {
			avgLoss = avgLoss.Add(delta.Abs())
		}
	}
	n := decimal.NewFromInt(int64(period))
	avgGain = avgGain.Div(n)
	avgLoss = avgLoss.Div(n)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i].Sub(closes[i-1])
		gain, loss := zero, zero
		if delta.IsPositive() {
			gain = delta
		} else {
			loss = delta.Abs()
		}
		avgGain = avgGain.Mul(n.Sub(decimal.NewFromInt(1))).Add(gain).Div(n)
		avgLoss = avgLoss.Mul(n.Sub(decimal.NewFromInt(1))).Add(loss).Div(n)
	}

	if avgLoss.IsZero() {
		return hundred
	}
	rs := avgGain.Div(avgLoss)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
}

// MACDResult is the (line, signal, histogram) triple from spec.md §3.
type MACDResult struct {
	Line      decimal.Decimal
	Signal    decimal.Decimal
	Histogram decimal.Decimal
}

// MACD computes the 12/26 EMA difference plus its 9-period EMA signal line
// (spec.md §4.5: "MACD(12,26,9) EMA difference plus 9-period EMA signal").
func MACD(closes []decimal.Decimal, fast, slow, signalPeriod int) MACDResult {
	if len(closes) < slow+signalPeriod {
		return MACDResult{}
	}
	fastSeries := EMASeries(closes, fast)
	slowSeries := EMASeries(closes, slow)
	// Align series: fastSeries starts at index fast-1, slowSeries at slow-1.
	offset := slow - fast
	macdLine := make([]decimal.Decimal, len(slowSeries))
	for i := range slowSeries {
		macdLine[i] = fastSeries[i+offset].Sub(slowSeries[i])
	}
	signalSeries := EMASeries(macdLine, signalPeriod)
	line := macdLine[len(macdLine)-1]
	signal := signalSeries[len(signalSeries)-1]
	return MACDResult{Line: line, Signal: signal, Histogram: line.Sub(signal)}
}

// trueRange computes max(high-low, |high-prevClose|, |low-prevClose|)
// (spec.md §4.5 ATR definition).
func trueRange(h, l, prevClose decimal.Decimal) decimal.Decimal {
	tr := h.Sub(l)
	if v := h.Sub(prevClose).Abs(); v.GreaterThan(tr) {
		tr = v
	}
	if v := l.Sub(prevClose).Abs(); v.GreaterThan(tr) {
		tr = v
	}
	return tr
}

// ATR computes Wilder's smoothed average true range over `period` candles.
func ATR(candles []types.OHLCV, period int) decimal.Decimal {
	if len(candles) < period+1 {
		return zero
	}
	n := decimal.NewFromInt(int64(period))
	var sum decimal.Decimal
	for i := 1; i <= period; i++ {
		sum = sum.Add(trueRange(candles[i].High, candles[i].Low, candles[i-1].Close))
	}
	atr := sum.Div(n)
	for i := period + 1; i < len(candles); i++ {
		tr := trueRange(candles[i].High, candles[i].Low, candles[i-1].Close)
		atr = atr.Mul(n.Sub(decimal.NewFromInt(1))).Add(tr).Div(n)
	}
	return atr
}

// ADX computes Wilder's average directional index over `period` candles
// (spec.md §4.5: "Wilder's directional index").
func ADX(candles []types.OHLCV, period int) decimal.Decimal {
	if len(candles) < period*2 {
		return zero
	}
	n := len(candles)
	plusDM := make([]decimal.Decimal, n)
	minusDM := make([]decimal.Decimal, n)
	tr := make([]decimal.Decimal, n)
	for i := 1; i < n; i++ {
		upMove := candles[i].High.Sub(candles[i-1].High)
		downMove := candles[i-1].Low.Sub(candles[i].Low)
		if upMove.GreaterThan(downMove) && upMove.IsPositive() {
			plusDM[i] = upMove
		}
		if downMove.GreaterThan(upMove) && downMove.IsPositive() {
			minusDM[i] = downMove
		}
		tr[i] = trueRange(candles[i].High, candles[i].Low, candles[i-1].Close)
	}

	smooth := func(series []decimal.Decimal, period int) []decimal.Decimal {
		out := make([]decimal.Decimal, len(series))
		var sum decimal.Decimal
		for i := 1; i <= period && i < len(series); i++ {
			sum = sum.Add(series[i])
		}
		out[period] = sum
		pN := decimal.NewFromInt(int64(period))
		for i := period + 1; i < len(series); i++ {
			out[i] = out[i-1].Sub(out[i-1].Div(pN)).Add(series[i])
		}
		return out
	}

	smoothedTR := smooth(tr, period)
	smoothedPlusDM := smooth(plusDM, period)
	smoothedMinusDM := smooth(minusDM, period)

	dx := make([]decimal.Decimal, n)
	for i := period; i < n; i++ {
		if smoothedTR[i].IsZero() {
			continue
		}
		plusDI := smoothedPlusDM[i].Div(smoothedTR[i]).Mul(hundred)
		minusDI := smoothedMinusDM[i].Div(smoothedTR[i]).Mul(hundred)
		sum := plusDI.Add(minusDI)
		if sum.IsZero() {
			continue
		}
		dx[i] = plusDI.Sub(minusDI).Abs().Div(sum).Mul(hundred)
	}

	start := period * 2
	if start >= n {
		start = n - 1
	}
	var adxSum decimal.Decimal
	count := 0
	for i := period; i <= start && i < n; i++ {
		adxSum = adxSum.Add(dx[i])
		count++
	}
	if count == 0 {
		return zero
	}
	adx := adxSum.Div(decimal.NewFromInt(int64(count)))
	pN := decimal.NewFromInt(int64(period))
	for i := start + 1; i < n; i++ {
		adx = adx.Mul(pN.Sub(decimal.NewFromInt(1))).Add(dx[i]).Div(pN)
	}
	return adx
}

// VolumeRatio is current volume over the mean of the last `period` closed
// candles (spec.md §4.5).
func VolumeRatio(candles []types.OHLCV, period int) decimal.Decimal {
	if len(candles) < period+1 {
		return decimal.NewFromInt(1)
	}
	window := candles[len(candles)-period-1 : len(candles)-1]
	vols := make([]decimal.Decimal, len(window))
	for i, c := range window {
		vols[i] = c.Volume
	}
	mean := utils.CalculateMean(vols)
	if mean.IsZero() {
		return decimal.NewFromInt(1)
	}
	return candles[len(candles)-1].Volume.Div(mean)
}
