// Package types provides shared type definitions for the trading backend.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType represents the type of order.
type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeLimit      OrderType = "limit"
	OrderTypeStopMarket OrderType = "stop_market"
	OrderTypeStopLoss   OrderType = "stop_loss"
	OrderTypeTakeProfit OrderType = "take_profit"
)

// OrderStatus represents the status of an order.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
)

// PositionSide is LONG or SHORT (spec.md §3 Position/Proposal).
type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// Opposite returns the mirrored side, used by stop/trailing math that is
// symmetric between LONG and SHORT.
func (s PositionSide) Opposite() PositionSide {
	if s == PositionSideLong {
		return PositionSideShort
	}
	return PositionSideLong
}

// Timeframe enumerates candle intervals consumed by the analyzer.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// TrendDirection classifies a single timeframe's EMA/price relationship.
type TrendDirection string

const (
	TrendUp       TrendDirection = "UP"
	TrendDown     TrendDirection = "DOWN"
	TrendSideways TrendDirection = "SIDEWAYS"
)

// TrendStrength buckets the EMA9/EMA21 spread relative to price.
type TrendStrength string

const (
	TrendStrong   TrendStrength = "STRONG"
	TrendModerate TrendStrength = "MODERATE"
	TrendWeak     TrendStrength = "WEAK"
)

// Regime is the qualitative market state produced by the analyzer (spec.md
// §3 MarketContext, §4.5).
type Regime string

const (
	RegimeTrending Regime = "TRENDING"
	RegimeSideways Regime = "SIDEWAYS"
	RegimeChoppy   Regime = "CHOPPY"
	RegimeHighVol  Regime = "HIGH_VOL"
	RegimeLowVol   Regime = "LOW_VOL"
)

// OHLCV is a closed (or currently-forming) candlestick. Immutable once
// closed; the most recent candle for a symbol+timeframe is mutable in the
// data hub cache.
type OHLCV struct {
	OpenTime time.Time       `json:"openTime"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
}

// Candle is an alias kept for readability at call sites that talk about the
// domain concept rather than the wire shape.
type Candle = OHLCV

// Ticker is the exchange-wide snapshot consumed by the Market Scanner
// (spec.md §6 fetchAllTickers).
type Ticker struct {
	Symbol            string          `json:"symbol"`
	Last              decimal.Decimal `json:"last"`
	QuoteVolume24h    decimal.Decimal `json:"quoteVolume24h"`
	PriceChangePct24h decimal.Decimal `json:"priceChangePct24h"`
}

// Order represents an order sent to, or acknowledged by, the exchange
// adapter.
type Order struct {
	ID           string          `json:"id"`
	Symbol       string          `json:"symbol"`
	Side         OrderSide       `json:"side"`
	Type         OrderType       `json:"type"`
	Quantity     decimal.Decimal `json:"quantity"`
	Price        decimal.Decimal `json:"price,omitempty"`
	StopPrice    decimal.Decimal `json:"stopPrice,omitempty"`
	Status       OrderStatus     `json:"status"`
	FilledQty    decimal.Decimal `json:"filledQty"`
	AvgFillPrice decimal.Decimal `json:"avgFillPrice"`
	Commission   decimal.Decimal `json:"commission"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// OrderBook is a depth snapshot used by the executor to estimate slippage.
type OrderBook struct {
	Symbol    string           `json:"symbol"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
	Timestamp time.Time        `json:"timestamp"`
}

// OrderBookLevel is one price/quantity rung of an OrderBook.
type OrderBookLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// PositionStatus is the lifecycle-manager state machine (spec.md §4.9).
type PositionStatus string

const (
	PositionPendingConfirm  PositionStatus = "PENDING_CONFIRM"
	PositionOpen            PositionStatus = "OPEN"
	PositionPartialExited   PositionStatus = "PARTIAL_EXITED"
	PositionClosed          PositionStatus = "CLOSED"
	PositionCancelled       PositionStatus = "CANCELLED"
	PositionEmergencyClosed PositionStatus = "EMERGENCY_CLOSED"
)

// ExitReason labels why a Position transitioned to CLOSED/CANCELLED.
type ExitReason string

const (
	ExitReasonStopLoss      ExitReason = "STOP_LOSS"
	ExitReasonTakeProfit    ExitReason = "TAKE_PROFIT"
	ExitReasonTrailingStop  ExitReason = "TRAILING_STOP"
	ExitReasonPartialTP     ExitReason = "PARTIAL_TP"
	ExitReasonEmergency     ExitReason = "EMERGENCY"
	ExitReasonExternalClose ExitReason = "EXTERNAL_CLOSE"
	ExitReasonConfirmFailed ExitReason = "CONFIRMATION_FAILED"
	ExitReasonManual        ExitReason = "MANUAL"
)

// TimeframeView is the derived, lazily computed indicator tuple for one
// symbol at one timeframe (spec.md §3).
type TimeframeView struct {
	Timeframe     Timeframe       `json:"timeframe"`
	EMA9          decimal.Decimal `json:"ema9"`
	EMA21         decimal.Decimal `json:"ema21"`
	EMA50         decimal.Decimal `json:"ema50"`
	RSI14         decimal.Decimal `json:"rsi14"`
	MACDLine      decimal.Decimal `json:"macdLine"`
	MACDSignal    decimal.Decimal `json:"macdSignal"`
	MACDHist      decimal.Decimal `json:"macdHist"`
	ATR14         decimal.Decimal `json:"atr14"`
	ADX14         decimal.Decimal `json:"adx14"`
	VolumeRatio   decimal.Decimal `json:"volumeRatio"`
	Close         decimal.Decimal `json:"close"`
	Change5Pct    decimal.Decimal `json:"change5Pct"`
	Direction     TrendDirection  `json:"trendDirection"`
	Strength      TrendStrength   `json:"trendStrength"`
	ComputedAt    time.Time       `json:"computedAt"`
}

// MarketContext aggregates per-timeframe views plus the correlated
// reference symbol's view (spec.md §3).
type MarketContext struct {
	Symbol            string                   `json:"symbol"`
	Views             map[Timeframe]TimeframeView `json:"views"`
	ReferenceSymbol   string                   `json:"referenceSymbol"`
	ReferenceView     *TimeframeView           `json:"referenceView,omitempty"`
	Regime            Regime                   `json:"regime"`
	AlignmentScore    int                      `json:"alignmentScore"`
	SupportResistance SupportResistance        `json:"supportResistance"`
	BTCAdjustment     int                      `json:"btcAdjustment"`
	PauseAltcoins     bool                     `json:"pauseAltcoins"`
}

// SupportResistance holds the nearest computed levels used by the gate's
// BreakoutDetector filter.
type SupportResistance struct {
	NearestSupport    decimal.Decimal `json:"nearestSupport"`
	NearestResistance decimal.Decimal `json:"nearestResistance"`
}

// Proposal is a tentative trade produced by the analyzer, before the gate
// has had a chance to accept, attenuate, or reject it (spec.md §3).
type Proposal struct {
	Symbol          string          `json:"symbol"`
	Side            PositionSide    `json:"side"`
	EntryPrice      decimal.Decimal `json:"entryPrice"`
	Confidence      int             `json:"confidence"`
	StopLoss        decimal.Decimal `json:"stopLoss"`
	TakeProfit      decimal.Decimal `json:"takeProfit"`
	ATR             decimal.Decimal `json:"atr"`
	Context         MarketContext   `json:"context"`
	UseTightTrailing bool           `json:"useTightTrailing"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// AcceptedTrade is a Proposal that passed the Signal Quality Gate,
// augmented with sizing and leverage decisions (spec.md §3).
type AcceptedTrade struct {
	Proposal
	SizePct                 decimal.Decimal `json:"sizePct"`
	SizeUsd                 decimal.Decimal `json:"sizeUsd"`
	Leverage                int             `json:"leverage"`
	EffectiveStopLossPct    decimal.Decimal `json:"effectiveStopLossPct"`
	EffectiveStopLossPrice  decimal.Decimal `json:"effectiveStopLossPrice"`
	PendingConfirmation     bool            `json:"pendingConfirmation"`
	ConfirmationDeadline    time.Time       `json:"confirmationDeadline"`
	Attenuation             decimal.Decimal `json:"attenuation"`
}

// PartialExit records one partial take-profit fill against a Position.
type PartialExit struct {
	Timestamp  time.Time       `json:"timestamp"`
	Fraction   decimal.Decimal `json:"fraction"`
	Price      decimal.Decimal `json:"price"`
	RMultiple  decimal.Decimal `json:"rMultiple"`
	Label      string          `json:"label"`
}

// Position is the on-exchange realization of an AcceptedTrade (spec.md §3).
// Invariant: RemainingFraction >= 0; for LONG, the stop is non-decreasing
// once trailing is active, dually for SHORT.
type Position struct {
	Symbol             string          `json:"symbol"`
	Engine             string          `json:"engine"`
	Side               PositionSide    `json:"side"`
	Status             PositionStatus  `json:"status"`
	EntryPrice         decimal.Decimal `json:"entryPrice"`
	Quantity           decimal.Decimal `json:"quantity"`
	Leverage           int             `json:"leverage"`
	StopLoss           decimal.Decimal `json:"stopLoss"`
	InitialStopLoss    decimal.Decimal `json:"initialStopLoss"`
	TakeProfit         decimal.Decimal `json:"takeProfit"`
	TrailingActive     bool            `json:"trailingActive"`
	TrailingPeakPrice  decimal.Decimal `json:"trailingPeakPrice"`
	PeakProfitPct      decimal.Decimal `json:"peakProfitPct"`
	PartialExits       []PartialExit   `json:"partialExits"`
	RemainingFraction  decimal.Decimal `json:"remainingFraction"`
	PeakPnl            decimal.Decimal `json:"peakPnl"`
	CurrentPrice       decimal.Decimal `json:"currentPrice"`
	UnrealizedPnL      decimal.Decimal `json:"unrealizedPnl"`
	EntryTime          time.Time       `json:"entryTime"`
	Confidence         int             `json:"confidence"`
	UseTightTrailing   bool            `json:"useTightTrailing"`
	ConfirmationDeadline time.Time     `json:"confirmationDeadline,omitempty"`
	EntryOrderID       string          `json:"entryOrderId"`
}

// R returns the initial risk in price units, |entry - initialStop|, used by
// the trade journal and partial-exit R-multiple bookkeeping.
func (p *Position) R() decimal.Decimal {
	return p.EntryPrice.Sub(p.InitialStopLoss).Abs()
}

// EngineAllocation is the Capital Allocator's output for one engine
// (spec.md §3, §4.2). Invariant: sum of AllocatedPct over enabled engines
// never exceeds 100.
type EngineAllocation struct {
	EngineName        string          `json:"engineName"`
	AllocatedPct      decimal.Decimal `json:"allocatedPct"`
	AllocatedUsd      decimal.Decimal `json:"allocatedUsd"`
	CurrentExposureUsd decimal.Decimal `json:"currentExposureUsd"`
	AvailableUsd      decimal.Decimal `json:"availableUsd"`
}

// TradeRecord is the append-only journal entry emitted when a Position
// closes (spec.md §3).
type TradeRecord struct {
	Symbol      string          `json:"symbol"`
	Engine      string          `json:"engine"`
	Side        PositionSide    `json:"side"`
	EntryTime   time.Time       `json:"entryTime"`
	ExitTime    time.Time       `json:"exitTime"`
	EntryPrice  decimal.Decimal `json:"entryPrice"`
	ExitPrice   decimal.Decimal `json:"exitPrice"`
	Quantity    decimal.Decimal `json:"quantity"`
	Leverage    int             `json:"leverage"`
	RealizedPnl decimal.Decimal `json:"realizedPnl"`
	RMultiple   decimal.Decimal `json:"rMultiple"`
	ExitReason  ExitReason      `json:"exitReason"`
}

// BlacklistEntry is a time-bounded veto of a symbol after a stop-loss exit
// (spec.md §3). Invariant: ExpiresAt > EntryTime.
type BlacklistEntry struct {
	Symbol    string    `json:"symbol"`
	EntryTime time.Time `json:"entryTime"`
	ExpiresAt time.Time `json:"expiresAt"`
	Reason    string    `json:"reason"`
}

// RiskState is the Global Risk Monitor's mutable state (spec.md §3, §4.3).
type RiskState struct {
	DailyPnl              decimal.Decimal `json:"dailyPnl"`
	PeakPortfolioValue    decimal.Decimal `json:"peakPortfolioValue"`
	CircuitBreakerActive  bool            `json:"circuitBreakerActive"`
	CircuitBreakerUntil   time.Time       `json:"circuitBreakerUntil"`
	CircuitBreakerReason  string          `json:"circuitBreakerReason"`
	DayEpoch              string          `json:"dayEpoch"`
}

// EngineStatus is the health-supervision state of one engine task
// (spec.md §3, §4.1).
type EngineStatus string

const (
	EngineStatusRunning    EngineStatus = "RUNNING"
	EngineStatusStopped    EngineStatus = "STOPPED"
	EngineStatusError      EngineStatus = "ERROR"
	EngineStatusRestarting EngineStatus = "RESTARTING"
)

// EngineHealth is the supervisor's view of one engine task.
type EngineHealth struct {
	Name          string       `json:"name"`
	Status        EngineStatus `json:"status"`
	LastHeartbeat time.Time    `json:"lastHeartbeat"`
	RestartCount  int          `json:"restartCount"`
	LastError     string       `json:"lastError,omitempty"`
}
