// Package riskmonitor implements the Global Risk Monitor (spec.md §4.3): a
// single portfolio-wide circuit breaker that every engine consults before
// opening a position, adapted from the teacher's per-order RiskManager
// kill-switch idiom but re-scoped to portfolio-level daily loss and
// drawdown limits rather than per-order validation.
package riskmonitor

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// Config bounds the monitor's thresholds (spec.md §4.3, §9 "60-minute
// default cooldown").
type Config struct {
	DailyLossLimitPct        decimal.Decimal
	MaxDrawdownPct           decimal.Decimal
	CircuitBreakerCooldown   time.Duration
	EmergencyPortfolioLossPct decimal.Decimal
}

// Monitor tracks portfolio-wide daily PnL and peak value, tripping a
// circuit breaker that blocks new entries when either the daily loss
// limit or max drawdown from peak is breached (spec.md §4.3).
type Monitor struct {
	logger *zap.Logger
	config Config

	mu    sync.RWMutex
	state types.RiskState

	cronSched *cron.Cron

	alerts chan RiskAlert
}

// RiskAlert is emitted whenever the circuit breaker trips or clears, for
// the orchestrator and status surface to observe (spec.md §4.1, §4.3).
type RiskAlert struct {
	Active    bool
	Reason    string
	Until     time.Time
	Timestamp time.Time
}

// NewMonitor constructs a Monitor. dayEpoch seeds the rollover tracker,
// normally today's date in UTC ("2006-01-02").
func NewMonitor(logger *zap.Logger, config Config, startingPortfolioValue decimal.Decimal, dayEpoch string) *Monitor {
	return &Monitor{
		logger: logger.Named("risk-monitor"),
		config: config,
		state: types.RiskState{
			PeakPortfolioValue: startingPortfolioValue,
			DayEpoch:           dayEpoch,
		},
		alerts: make(chan RiskAlert, 32),
	}
}

// Alerts exposes the circuit-breaker transition stream.
func (m *Monitor) Alerts() <-chan RiskAlert { return m.alerts }

// State returns a snapshot of the monitor's current risk state.
func (m *Monitor) State() types.RiskState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// CanOpen reports whether a new position may be opened given the current
// risk state (spec.md §4.3, §4.6 GlobalRiskGate filter).
func (m *Monitor) CanOpen() (bool, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state.CircuitBreakerActive && time.Now().Before(m.state.CircuitBreakerUntil) {
		return false, m.state.CircuitBreakerReason
	}
	return true, ""
}

// Mark updates the monitor with the portfolio's current total value,
// refreshing the peak-value watermark and the drawdown check used by
// trigger evaluation. The engine's loops do not call it; callers supply
// the portfolio value.
func (m *Monitor) Mark(portfolioValue decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if portfolioValue.GreaterThan(m.state.PeakPortfolioValue) {
		m.state.PeakPortfolioValue = portfolioValue
	}

	if m.state.PeakPortfolioValue.IsZero() {
		return
	}
	drawdownPct := m.state.PeakPortfolioValue.Sub(portfolioValue).
		Div(m.state.PeakPortfolioValue).Mul(decimal.NewFromInt(100))
	if drawdownPct.GreaterThanOrEqual(m.config.MaxDrawdownPct) && !m.state.CircuitBreakerActive {
		m.trigger("max drawdown exceeded")
	}
}

// RecordRealizedPnl folds a closed trade's realized PnL into today's
// running total and checks the daily loss limit (spec.md §4.3, §8 scenario
// "daily loss limit trips mid-day").
func (m *Monitor) RecordRealizedPnl(pnl, portfolioValue decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.DailyPnl = m.state.DailyPnl.Add(pnl)
	if portfolioValue.IsZero() {
		return
	}
	lossPct := m.state.DailyPnl.Neg().Div(portfolioValue).Mul(decimal.NewFromInt(100))
	if lossPct.GreaterThanOrEqual(m.config.DailyLossLimitPct) && !m.state.CircuitBreakerActive {
		m.trigger("daily loss limit exceeded")
	}
}

// trigger activates the circuit breaker; callers must hold mu.
func (m *Monitor) trigger(reason string) {
	m.state.CircuitBreakerActive = true
	m.state.CircuitBreakerUntil = time.Now().Add(m.config.CircuitBreakerCooldown)
	m.state.CircuitBreakerReason = reason

	m.logger.Error("circuit breaker tripped",
		zap.String("reason", reason), zap.Time("until", m.state.CircuitBreakerUntil))

	select {
	case m.alerts <- RiskAlert{Active: true, Reason: reason, Until: m.state.CircuitBreakerUntil, Timestamp: time.Now()}:
	default:
		m.logger.Warn("risk alert channel full, dropping alert")
	}
}

// IsPortfolioEmergency reports whether current unrealized portfolio loss
// demands an immediate forced close of all positions, distinct from the
// softer new-entry circuit breaker (spec.md §4.3 "emergency portfolio
// loss").
func (m *Monitor) IsPortfolioEmergency(unrealizedLossPct decimal.Decimal) bool {
	return unrealizedLossPct.GreaterThanOrEqual(m.config.EmergencyPortfolioLossPct)
}

// Reset clears the circuit breaker manually (operator override).
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.CircuitBreakerActive {
		return
	}
	m.state.CircuitBreakerActive = false
	m.state.CircuitBreakerReason = ""
	m.logger.Info("circuit breaker manually reset")
	select {
	case m.alerts <- RiskAlert{Active: false, Timestamp: time.Now()}:
	default:
	}
}

// rolloverIfNeeded resets the daily PnL counter when the UTC day has
// changed; called by the cron job, and directly by tests without waiting
// on a schedule.
func (m *Monitor) rolloverIfNeeded(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	epoch := now.UTC().Format("2006-01-02")
	if epoch == m.state.DayEpoch {
		return
	}
	m.logger.Info("day rollover, resetting daily pnl",
		zap.String("previousEpoch", m.state.DayEpoch), zap.String("epoch", epoch))
	m.state.DayEpoch = epoch
	m.state.DailyPnl = decimal.Zero

	if m.state.CircuitBreakerActive {
		m.logger.Info("day rollover, clearing circuit breaker tripped by yesterday's daily loss")
		m.state.CircuitBreakerActive = false
		m.state.CircuitBreakerUntil = time.Time{}
		m.state.CircuitBreakerReason = ""
		select {
		case m.alerts <- RiskAlert{Active: false, Timestamp: now}:
		default:
		}
	}
}

// StartDayRollover schedules the UTC midnight daily-PnL reset via a cron
// job, matching the teacher's preference for cron-driven maintenance
// tasks over hand-rolled ticker loops. Call Stop to release the
// scheduler.
func (m *Monitor) StartDayRollover() error {
	m.cronSched = cron.New(cron.WithLocation(time.UTC))
	_, err := m.cronSched.AddFunc("0 0 * * *", func() {
		m.rolloverIfNeeded(time.Now())
	})
	if err != nil {
		return err
	}
	m.cronSched.Start()
	return nil
}

// Stop releases the day-rollover scheduler.
func (m *Monitor) Stop() {
	if m.cronSched != nil {
		ctx := m.cronSched.Stop()
		<-ctx.Done()
	}
}
