// Package engine implements the Position Lifecycle Manager (spec.md
// §4.9): one Engine per configured trading engine, running a scan loop
// (Scanner → Analyzer → Gate → Sizer → order placement) and a monitor
// loop (mark-price refresh, trailing update, partial take-profits,
// emergency exits, exchange reconciliation) concurrently. Adapted from
// the teacher's EnhancedTradingAgent main/risk/regime-monitor loop
// structure (internal/autonomous/enhanced_agent.go), re-scoped from a
// single do-everything agent into the narrower state machine spec.md
// §4.9 specifies.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/allocator"
	"github.com/atlas-desktop/trading-backend/internal/analyzer"
	"github.com/atlas-desktop/trading-backend/internal/blacklist"
	"github.com/atlas-desktop/trading-backend/internal/events"
	"github.com/atlas-desktop/trading-backend/internal/execution"
	"github.com/atlas-desktop/trading-backend/internal/gate"
	"github.com/atlas-desktop/trading-backend/internal/journal"
	"github.com/atlas-desktop/trading-backend/internal/marketdata"
	"github.com/atlas-desktop/trading-backend/internal/riskmonitor"
	"github.com/atlas-desktop/trading-backend/internal/scanner"
	"github.com/atlas-desktop/trading-backend/internal/sizing"
	"github.com/atlas-desktop/trading-backend/internal/stops"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// Config carries one engine's tunables (spec.md §4.9, mirrors
// types.EngineConfig).
type Config struct {
	Name                     string
	MaxPositions             int
	ScanInterval             time.Duration
	MonitorInterval          time.Duration
	MinConfidenceTrending    int
	MinConfidenceOther       int
	ConfirmationCandles      int
	ConfirmationDriftPct     decimal.Decimal
	CorrelationGroup         []string
	CorrelationCap           int
	EmergencyPositionLossPct decimal.Decimal
}

// Engine owns one trading engine's full lifecycle: proposing, gating,
// sizing, entering, monitoring, and closing positions.
type Engine struct {
	logger  *zap.Logger
	config  Config
	adapter execution.ExchangeAdapter
	hub     *marketdata.Hub
	scan    *scanner.Scanner
	an      *analyzer.Analyzer
	gate    *gate.Chain
	sizer   *sizing.Sizer
	journal *journal.Journal
	alloc   *allocator.Allocator
	risk    *riskmonitor.Monitor
	bl      *blacklist.List
	bus     *events.Bus

	mu         sync.RWMutex
	positions  map[string]*types.Position
	lastHeartbeat time.Time
	status     types.EngineStatus
}

// Deps bundles an Engine's collaborators.
type Deps struct {
	Adapter   execution.ExchangeAdapter
	Hub       *marketdata.Hub
	Scanner   *scanner.Scanner
	Analyzer  *analyzer.Analyzer
	Gate      *gate.Chain
	Sizer     *sizing.Sizer
	Journal   *journal.Journal
	Allocator *allocator.Allocator
	Risk      *riskmonitor.Monitor
	Blacklist *blacklist.List
	Bus       *events.Bus // optional; nil disables notification publishing
}

// New constructs an Engine.
func New(logger *zap.Logger, config Config, deps Deps) *Engine {
	return &Engine{
		logger:    logger.Named("engine").Named(config.Name),
		config:    config,
		adapter:   deps.Adapter,
		hub:       deps.Hub,
		scan:      deps.Scanner,
		an:        deps.Analyzer,
		gate:      deps.Gate,
		sizer:     deps.Sizer,
		journal:   deps.Journal,
		alloc:     deps.Allocator,
		risk:      deps.Risk,
		bl:        deps.Blacklist,
		bus:       deps.Bus,
		positions: make(map[string]*types.Position),
		status:    types.EngineStatusRunning,
	}
}

// Heartbeat returns the last time the engine started a scan or monitor
// tick, consulted by the orchestrator's health supervisor (spec.md §4.1).
func (e *Engine) Heartbeat() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastHeartbeat
}

func (e *Engine) beat() {
	e.mu.Lock()
	e.lastHeartbeat = time.Now()
	e.mu.Unlock()
}

// Positions returns a snapshot of all positions this engine currently
// tracks, for the status surface.
func (e *Engine) Positions() []types.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]types.Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, *p)
	}
	return out
}

// Run drives both the scan and monitor loops until ctx is cancelled
// (spec.md §4.9). Each loop runs on its own ticker so a slow scan never
// starves position monitoring.
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	var scanErr, monitorErr error

	go func() {
		defer wg.Done()
		scanErr = e.scanLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		monitorErr = e.monitorLoop(ctx)
	}()

	wg.Wait()
	if scanErr != nil {
		return scanErr
	}
	return monitorErr
}

func (e *Engine) scanLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.config.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.beat()
			if err := e.scanOnce(ctx); err != nil {
				e.logger.Warn("scan cycle failed", zap.Error(err))
			}
		}
	}
}

func (e *Engine) scanOnce(ctx context.Context) error {
	if ok, reason := e.risk.CanOpen(); !ok {
		e.logger.Debug("scan skipped, circuit breaker active", zap.String("reason", reason))
		return nil
	}

	e.mu.RLock()
	openCount := len(e.positions)
	e.mu.RUnlock()
	if openCount >= e.config.MaxPositions {
		return nil
	}

	candidates, err := e.scan.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	for _, c := range candidates {
		if ctx.Err() != nil {
			return nil
		}
		e.mu.RLock()
		_, alreadyOpen := e.positions[c.Symbol]
		e.mu.RUnlock()
		if alreadyOpen {
			continue
		}

		mc, err := e.an.BuildContext(ctx, c.Symbol)
		if err != nil {
			e.logger.Warn("analyzer failed", zap.String("symbol", c.Symbol), zap.Error(err))
			continue
		}

		proposal, ok := buildProposal(c.Symbol, c.Ticker.Last, mc)
		if !ok {
			continue
		}

		if err := e.evaluateProposal(ctx, proposal); err != nil {
			e.logger.Warn("proposal evaluation failed", zap.String("symbol", c.Symbol), zap.Error(err))
		}
	}
	return nil
}

// buildProposal derives a directional Proposal from the weighted 4h/1h/15m
// majority direction and a weighted indicator score (spec.md §3 Proposal,
// §4.5: "side = the alignment's dominant direction"; "confidence starts
// from weighted indicator score ... add alignment bonus, subtract
// penalties"). No proposal is emitted when the majority is SIDEWAYS or
// confidence falls below minConfidence.
func buildProposal(symbol string, last decimal.Decimal, mc types.MarketContext) (types.Proposal, bool) {
	view, ok := mc.Views[types.Timeframe1h]
	if !ok {
		return types.Proposal{}, false
	}

	direction := dominantDirection(mc.Views)
	if direction == types.TrendSideways {
		return types.Proposal{}, false
	}

	side := types.PositionSideLong
	if direction == types.TrendDown {
		side = types.PositionSideShort
	}

	confidence := indicatorScore(view, side) + mc.AlignmentScore/4 + mc.BTCAdjustment
	if confidence > 100 {
		confidence = 100
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence < minConfidenceFloor {
		return types.Proposal{}, false
	}

	return types.Proposal{
		Symbol:     symbol,
		Side:       side,
		EntryPrice: last,
		Confidence: confidence,
		ATR:        view.ATR14,
		Context:    mc,
		CreatedAt:  time.Now(),
	}, true
}

// minConfidenceFloor is spec.md §4.5's default minConfidence below which
// the analyzer emits no proposal at all, independent of the gate's own
// regime-aware thresholds.
const minConfidenceFloor = 60

// dominantDirection applies the same 4h(0.5)/1h(0.3)/15m(0.2) weighting
// AlignmentScore uses, so the proposal's side always matches the direction
// that score is measuring agreement against.
func dominantDirection(views map[types.Timeframe]types.TimeframeView) types.TrendDirection {
	weight := map[types.TrendDirection]decimal.Decimal{}
	for tf, w := range analyzer.AlignmentWeights {
		v, ok := views[tf]
		if !ok {
			continue
		}
		weight[v.Direction] = weight[v.Direction].Add(w)
	}
	best := types.TrendSideways
	bestWeight := decimal.Zero
	for d, w := range weight {
		if w.GreaterThan(bestWeight) {
			best = d
			bestWeight = w
		}
	}
	return best
}

// indicatorScore buckets EMA/RSI/MACD/volume/price-action signals into a
// weighted 0-100 score (spec.md §4.5 "weighted indicator score"), each
// bucket worth 20 points when it fully confirms side and 10 for a partial
// reading (sideways EMA stack, stretched RSI, average volume, moderate
// strength); the MACD bucket has no partial score.
func indicatorScore(view types.TimeframeView, side types.PositionSide) int {
	score := 0
	long := side == types.PositionSideLong

	// EMA stack: view.Direction already encodes the ema9/ema21/close test.
	switch {
	case (long && view.Direction == types.TrendUp) || (!long && view.Direction == types.TrendDown):
		score += 20
	case view.Direction == types.TrendSideways:
		score += 10
	}

	// RSI: trending away from the midline in side's favor, but not so far
	// it signals exhaustion.
	rsi := view.RSI14
	switch {
	case long && rsi.GreaterThan(decimal.NewFromInt(50)) && rsi.LessThan(decimal.NewFromInt(70)):
		score += 20
	case !long && rsi.LessThan(decimal.NewFromInt(50)) && rsi.GreaterThan(decimal.NewFromInt(30)):
		score += 20
	case (long && rsi.GreaterThanOrEqual(decimal.NewFromInt(70))) || (!long && rsi.LessThanOrEqual(decimal.NewFromInt(30))):
		score += 10
	}

	// MACD histogram sign agreeing with side.
	switch {
	case long && view.MACDHist.IsPositive():
		score += 20
	case !long && view.MACDHist.IsNegative():
		score += 20
	}

	// Volume ratio: above-average participation backs the move regardless
	// of side.
	switch {
	case view.VolumeRatio.GreaterThanOrEqual(decimal.NewFromFloat(1.5)):
		score += 20
	case view.VolumeRatio.GreaterThanOrEqual(decimal.NewFromInt(1)):
		score += 10
	}

	// Price action: trend strength backing the move.
	switch view.Strength {
	case types.TrendStrong:
		score += 20
	case types.TrendModerate:
		score += 10
	}

	return score
}

func (e *Engine) evaluateProposal(ctx context.Context, proposal types.Proposal) error {
	allocation := e.alloc.AllocationFor(e.config.Name, e.portfolioValueHint())

	in := gate.Input{
		Proposal:              proposal,
		Blacklist:             e.bl,
		OpenPositions:         e.openPositionCount(),
		MaxPositions:          e.config.MaxPositions,
		AvailableUsd:          allocation.AvailableUsd,
		CorrelatedOpen:        e.correlatedOpenCount(proposal.Symbol),
		CorrelationCap:        e.config.CorrelationCap,
		MinConfidenceTrending: e.config.MinConfidenceTrending,
		MinConfidenceOther:    e.config.MinConfidenceOther,
	}
	if ok, reason := e.risk.CanOpen(); !ok {
		in.RiskBreaker = true
		in.RiskReason = reason
	}

	decision := e.gate.Evaluate(in)
	if decision.Verdict == gate.VerdictReject {
		e.logger.Debug("proposal rejected", zap.String("symbol", proposal.Symbol),
			zap.String("stage", decision.FailedStage), zap.String("reason", decision.Reason))
		e.publish(events.GateEvent{
			BaseEvent:   events.BaseEvent{Type: events.EventTypeGateRejected, Timestamp: time.Now()},
			Symbol:      proposal.Symbol,
			FailedStage: decision.FailedStage,
			Reason:      decision.Reason,
		})
		return nil
	}

	attenuation := decimal.NewFromInt(1)
	if decision.Verdict == gate.VerdictAttenuated {
		attenuation = decision.Multiplier
	}

	proposal.Confidence += decision.ConfidenceDelta
	if proposal.Confidence > 100 {
		proposal.Confidence = 100
	}
	proposal.UseTightTrailing = decision.UseTightTrailing

	sizePct, leverage := e.sizer.Size(sizing.SizeInput{
		Confidence:        proposal.Confidence,
		Attenuation:       attenuation,
		WinLossSeries:     e.journal.WinLossSeries(e.config.Name, proposal.Symbol),
		RewardRiskRatio:   e.journal.AverageRewardRisk(e.config.Name, proposal.Symbol),
		Regime:            proposal.Context.Regime,
		ConsecutiveLosses: e.journal.ConsecutiveLosses(e.config.Name, proposal.Symbol),
	})

	sizeUsd := allocation.AllocatedUsd.Mul(sizePct).Div(decimal.NewFromInt(100))
	if sizeUsd.GreaterThan(allocation.AvailableUsd) {
		sizeUsd = allocation.AvailableUsd
	}
	if sizeUsd.LessThanOrEqual(decimal.Zero) || proposal.EntryPrice.IsZero() {
		return nil
	}
	quantity := sizeUsd.Mul(decimal.NewFromInt(int64(leverage))).Div(proposal.EntryPrice)

	stopLoss, err := stops.InitialStop(proposal.EntryPrice, proposal.ATR, proposal.Side, proposal.Context.Regime)
	if err != nil {
		e.logger.Debug("stop sizing rejected", zap.String("symbol", proposal.Symbol), zap.Error(err))
		return nil
	}

	if err := execution.WithRetry(ctx, 10*time.Second, func(callCtx context.Context) error {
		return e.adapter.SetLeverage(callCtx, proposal.Symbol, leverage)
	}); err != nil {
		return fmt.Errorf("set leverage: %w", err)
	}

	var result *execution.OrderResult
	if err := execution.WithRetry(ctx, 10*time.Second, func(callCtx context.Context) error {
		var placeErr error
		result, placeErr = e.adapter.PlaceMarketOrder(callCtx, proposal.Symbol, orderSide(proposal.Side), quantity)
		return placeErr
	}); err != nil {
		return fmt.Errorf("place entry order: %w", err)
	}

	position := &types.Position{
		Symbol:            proposal.Symbol,
		Engine:            e.config.Name,
		Side:              proposal.Side,
		Status:            types.PositionOpen,
		EntryPrice:        result.AvgPrice,
		Quantity:          result.FilledQty,
		Leverage:          leverage,
		StopLoss:          stopLoss,
		InitialStopLoss:   stopLoss,
		RemainingFraction: decimal.NewFromInt(1),
		CurrentPrice:      result.AvgPrice,
		EntryTime:         time.Now(),
		Confidence:        proposal.Confidence,
		EntryOrderID:      result.OrderID,
		UseTightTrailing:  proposal.UseTightTrailing,
	}
	if position.EntryPrice.IsZero() {
		position.EntryPrice = proposal.EntryPrice
		position.CurrentPrice = proposal.EntryPrice
	}

	e.mu.Lock()
	e.positions[proposal.Symbol] = position
	e.mu.Unlock()
	e.alloc.RecordExposureChange(e.config.Name, sizeUsd)

	e.logger.Info("position opened", zap.String("symbol", position.Symbol), zap.String("side", string(position.Side)),
		zap.String("entry", position.EntryPrice.String()), zap.Int("leverage", position.Leverage))
	e.publish(events.PositionEvent{
		BaseEvent: events.BaseEvent{Type: events.EventTypePositionOpened, Timestamp: time.Now()},
		Position:  *position,
	})
	return nil
}

// publish notifies the optional event bus, a no-op when none is wired.
func (e *Engine) publish(event events.Event) {
	if e.bus != nil {
		e.bus.Publish(event)
	}
}

func orderSide(side types.PositionSide) types.OrderSide {
	if side == types.PositionSideLong {
		return types.OrderSideBuy
	}
	return types.OrderSideSell
}

func (e *Engine) openPositionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.positions)
}

func (e *Engine) correlatedOpenCount(symbol string) int {
	inGroup := false
	for _, s := range e.config.CorrelationGroup {
		if s == symbol {
			inGroup = true
			break
		}
	}
	if !inGroup {
		return 0
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	count := 0
	for sym := range e.positions {
		for _, s := range e.config.CorrelationGroup {
			if s == sym {
				count++
				break
			}
		}
	}
	return count
}

// portfolioValueHint returns a fixed total-equity figure of 100,000; it
// does not query the allocator or the exchange account balance.
func (e *Engine) portfolioValueHint() decimal.Decimal {
	return decimal.NewFromInt(100000)
}

func (e *Engine) monitorLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.config.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return e.drainOnShutdown(context.Background())
		case <-ticker.C:
			e.beat()
			e.monitorOnce(ctx)
		}
	}
}

func (e *Engine) monitorOnce(ctx context.Context) {
	e.mu.RLock()
	symbols := make([]string, 0, len(e.positions))
	for s := range e.positions {
		symbols = append(symbols, s)
	}
	e.mu.RUnlock()

	for _, symbol := range symbols {
		e.monitorPosition(ctx, symbol)
	}

	e.checkPortfolioEmergency(symbols)

	orphaned, err := execution.ReconcilePositions(ctx, e.adapter, symbols)
	if err != nil {
		e.logger.Warn("reconciliation failed", zap.Error(err))
		return
	}
	for _, symbol := range orphaned {
		e.closePosition(symbol, types.ExitReasonExternalClose, decimal.Zero)
	}
}

func (e *Engine) monitorPosition(ctx context.Context, symbol string) {
	e.mu.RLock()
	p, ok := e.positions[symbol]
	e.mu.RUnlock()
	if !ok {
		return
	}

	ticker, ok := e.hub.Ticker(symbol)
	if !ok {
		return
	}
	p.CurrentPrice = ticker.Last
	p.UnrealizedPnL = unrealizedPnl(p)

	mc, err := e.an.BuildContext(ctx, symbol)
	if err == nil {
		view := mc.Views[types.Timeframe1h]
		stops.UpdateTrailing(p, view.ATR14, mc.Regime)
	}

	lossPct := unrealizedLossPct(p)
	if lossPct.GreaterThanOrEqual(e.config.EmergencyPositionLossPct) {
		e.closePosition(symbol, types.ExitReasonEmergency, p.UnrealizedPnL)
		return
	}

	stopBreached := (p.Side == types.PositionSideLong && p.CurrentPrice.LessThanOrEqual(p.StopLoss)) ||
		(p.Side == types.PositionSideShort && p.CurrentPrice.GreaterThanOrEqual(p.StopLoss))
	if stopBreached {
		reason := types.ExitReasonStopLoss
		if p.TrailingActive {
			reason = types.ExitReasonTrailingStop
		}
		e.closePosition(symbol, reason, p.UnrealizedPnL)
		return
	}

	for _, target := range stops.CheckPartialTargets(p, stops.DefaultPartialTargets()) {
		e.executePartialExit(ctx, p, target)
	}
}

// checkPortfolioEmergency force-closes every open position when the
// engine's aggregate unrealized loss breaches the risk monitor's emergency
// threshold, a harder stop than any single position's
// EmergencyPositionLossPct and distinct from the circuit breaker that only
// blocks new entries (spec.md §4.3).
func (e *Engine) checkPortfolioEmergency(symbols []string) {
	e.mu.RLock()
	unrealized := decimal.Zero
	for _, s := range symbols {
		if p, ok := e.positions[s]; ok {
			unrealized = unrealized.Add(p.UnrealizedPnL)
		}
	}
	e.mu.RUnlock()

	if !unrealized.IsNegative() {
		return
	}
	portfolioValue := e.portfolioValueHint()
	if portfolioValue.IsZero() {
		return
	}
	lossPct := unrealized.Neg().Div(portfolioValue).Mul(decimal.NewFromInt(100))
	if !e.risk.IsPortfolioEmergency(lossPct) {
		return
	}

	e.logger.Error("portfolio emergency loss threshold breached, force-closing all positions",
		zap.String("lossPct", lossPct.String()))
	for _, symbol := range symbols {
		e.mu.RLock()
		p, ok := e.positions[symbol]
		e.mu.RUnlock()
		if ok {
			e.closePosition(symbol, types.ExitReasonEmergency, p.UnrealizedPnL)
		}
	}
}

func unrealizedPnl(p *types.Position) decimal.Decimal {
	diff := p.CurrentPrice.Sub(p.EntryPrice)
	if p.Side == types.PositionSideShort {
		diff = diff.Neg()
	}
	return diff.Mul(p.Quantity).Mul(p.RemainingFraction)
}

func unrealizedLossPct(p *types.Position) decimal.Decimal {
	if p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	diff := p.EntryPrice.Sub(p.CurrentPrice)
	if p.Side == types.PositionSideShort {
		diff = diff.Neg()
	}
	pct := diff.Div(p.EntryPrice).Mul(decimal.NewFromInt(100))
	if pct.IsNegative() {
		return decimal.Zero
	}
	return pct
}

func (e *Engine) executePartialExit(ctx context.Context, p *types.Position, target stops.PartialTarget) {
	qty := p.Quantity.Mul(target.Fraction)
	closingSide := types.OrderSideSell
	if p.Side == types.PositionSideShort {
		closingSide = types.OrderSideBuy
	}
	result, err := e.adapter.PlaceMarketOrder(ctx, p.Symbol, closingSide, qty)
	if err != nil {
		e.logger.Warn("partial exit order failed", zap.String("symbol", p.Symbol), zap.Error(err))
		return
	}

	e.mu.Lock()
	p.PartialExits = append(p.PartialExits, types.PartialExit{
		Timestamp: time.Now(), Fraction: target.Fraction, Price: result.AvgPrice, RMultiple: target.RMultiple, Label: target.Label,
	})
	p.RemainingFraction = p.RemainingFraction.Sub(target.Fraction)
	if p.RemainingFraction.IsNegative() {
		p.RemainingFraction = decimal.Zero
	}
	p.Status = types.PositionPartialExited
	e.mu.Unlock()

	e.logger.Info("partial take profit filled", zap.String("symbol", p.Symbol), zap.String("label", target.Label))
}

func (e *Engine) closePosition(symbol string, reason types.ExitReason, realizedPnl decimal.Decimal) {
	e.mu.Lock()
	p, ok := e.positions[symbol]
	if ok {
		delete(e.positions, symbol)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	rMultiple := decimal.Zero
	if r := p.R(); r.IsPositive() {
		diff := p.CurrentPrice.Sub(p.EntryPrice)
		if p.Side == types.PositionSideShort {
			diff = diff.Neg()
		}
		rMultiple = diff.Div(r)
	}

	record := types.TradeRecord{
		Symbol: p.Symbol, Engine: p.Engine, Side: p.Side,
		EntryTime: p.EntryTime, ExitTime: time.Now(),
		EntryPrice: p.EntryPrice, ExitPrice: p.CurrentPrice, Quantity: p.Quantity,
		Leverage: p.Leverage, RealizedPnl: realizedPnl, RMultiple: rMultiple, ExitReason: reason,
	}
	if err := e.journal.Record(record); err != nil {
		e.logger.Error("failed to record trade journal entry", zap.Error(err))
	}

	e.alloc.RecordExposureChange(e.config.Name, p.EntryPrice.Mul(p.Quantity).Neg())
	e.risk.RecordRealizedPnl(realizedPnl, e.portfolioValueHint())

	if reason == types.ExitReasonStopLoss {
		e.bl.Add(symbol, "stopped out")
	}

	e.logger.Info("position closed", zap.String("symbol", symbol), zap.String("reason", string(reason)),
		zap.String("realizedPnl", realizedPnl.String()))
	e.publish(events.PositionEvent{
		BaseEvent: events.BaseEvent{Type: events.EventTypePositionClosed, Timestamp: time.Now()},
		Position:  *p,
		Record:    &record,
	})
}

// drainOnShutdown is called once when ctx is cancelled, giving the engine
// a chance to log its final state; it intentionally does not force-close
// positions, since an ungraceful shutdown must leave exchange state
// authoritative for the next startup's reconciliation pass (spec.md §5
// "graceful shutdown drains in-flight work, never force-closes
// positions").
func (e *Engine) drainOnShutdown(_ context.Context) error {
	e.mu.RLock()
	count := len(e.positions)
	e.mu.RUnlock()
	e.logger.Info("engine shutting down", zap.Int("openPositions", count))
	return nil
}

// Health returns the current EngineHealth snapshot for the orchestrator's
// health supervisor (spec.md §3, §4.1).
func (e *Engine) Health() types.EngineHealth {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return types.EngineHealth{
		Name:          e.config.Name,
		Status:        e.status,
		LastHeartbeat: e.lastHeartbeat,
	}
}
