// Package allocator implements the Capital Allocator (spec.md §4.2): it
// splits total portfolio equity across enabled engines by configured
// percentage, redistributing a disabled engine's share proportionally
// among the rest, and tracks each engine's live USD exposure so a sizer
// can bound a proposed trade against remaining headroom.
package allocator

import (
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/execution"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// EngineSpec is the allocator's view of one configured engine.
type EngineSpec struct {
	Name       string
	Enabled    bool
	CapitalPct decimal.Decimal
}

// Allocator computes and tracks per-engine capital allocation.
type Allocator struct {
	logger *zap.Logger

	mu       sync.RWMutex
	specs    []EngineSpec
	exposure map[string]decimal.Decimal
}

// New builds an Allocator from the configured engine specs. Returns
// execution.ErrAllocationOverflow if enabled engines' CapitalPct sums
// above 100 (spec.md §4.2, §7).
func New(logger *zap.Logger, specs []EngineSpec) (*Allocator, error) {
	sum := decimal.Zero
	for _, s := range specs {
		if s.Enabled {
			sum = sum.Add(s.CapitalPct)
		}
	}
	if sum.GreaterThan(decimal.NewFromInt(100)) {
		return nil, execution.ErrAllocationOverflow
	}
	exposure := make(map[string]decimal.Decimal, len(specs))
	for _, s := range specs {
		exposure[s.Name] = decimal.Zero
	}
	return &Allocator{
		logger:   logger.Named("allocator"),
		specs:    specs,
		exposure: exposure,
	}, nil
}

// effectivePct returns engine's capital share after proportionally
// redistributing disabled engines' shares among enabled ones. Callers
// must hold mu.
func (a *Allocator) effectivePct(engine string) decimal.Decimal {
	enabledSum := decimal.Zero
	var own decimal.Decimal
	found := false
	for _, s := range a.specs {
		if !s.Enabled {
			continue
		}
		enabledSum = enabledSum.Add(s.CapitalPct)
		if s.Name == engine {
			own = s.CapitalPct
			found = true
		}
	}
	if !found || enabledSum.IsZero() {
		return decimal.Zero
	}
	// Redistribute proportionally so enabled engines always partition 100%
	// of equity, not just the configured sum.
	return own.Div(enabledSum).Mul(decimal.NewFromInt(100))
}

// AllocationFor returns engine's EngineAllocation given current total
// portfolio value (spec.md §4.2, §3 EngineAllocation).
func (a *Allocator) AllocationFor(engine string, portfolioValue decimal.Decimal) types.EngineAllocation {
	a.mu.RLock()
	defer a.mu.RUnlock()

	pct := a.effectivePct(engine)
	allocatedUsd := portfolioValue.Mul(pct).Div(decimal.NewFromInt(100))
	current := a.exposure[engine]
	available := allocatedUsd.Sub(current)
	if available.IsNegative() {
		available = decimal.Zero
	}
	return types.EngineAllocation{
		EngineName:         engine,
		AllocatedPct:       pct,
		AllocatedUsd:       allocatedUsd,
		CurrentExposureUsd: current,
		AvailableUsd:       available,
	}
}

// RecordExposureChange adjusts engine's tracked exposure by deltaUsd
// (positive on open/increase, negative on close/reduce).
func (a *Allocator) RecordExposureChange(engine string, deltaUsd decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.exposure[engine].Add(deltaUsd)
	if next.IsNegative() {
		next = decimal.Zero
	}
	a.exposure[engine] = next
}

// Exposure returns engine's current tracked exposure in USD.
func (a *Allocator) Exposure(engine string) decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.exposure[engine]
}

// SetEnabled toggles an engine's participation in capital allocation at
// runtime; the orchestrator disables an engine that exceeds MaxRestarts.
func (a *Allocator) SetEnabled(engine string, enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.specs {
		if a.specs[i].Name == engine {
			a.specs[i].Enabled = enabled
			a.logger.Info("engine allocation toggled", zap.String("engine", engine), zap.Bool("enabled", enabled))
			return
		}
	}
}
