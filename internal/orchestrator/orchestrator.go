// Package orchestrator implements the Unified Orchestrator (spec.md
// §4.1): it spawns one goroutine per enabled engine plus two
// supervisory goroutines (risk alerts, health), restarting a
// crashed engine up to MaxRestarts before marking it permanently failed,
// and drains every engine on a graceful shutdown within a grace period.
// Restructured from the teacher's TradingOrchestrator — which wired a
// PhD-research validation pipeline (regime HMM, Monte Carlo, walk-forward
// optimizer) that has no place in a live trading supervisor — down to its
// supervision idiom: a config struct, a control loop, and a state-tracked
// component registry guarded by a single mutex.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/events"
	"github.com/atlas-desktop/trading-backend/internal/riskmonitor"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// RunnableEngine is the subset of engine.Engine the orchestrator
// supervises, kept as an interface so tests can substitute a fake engine.
type RunnableEngine interface {
	Run(ctx context.Context) error
	Heartbeat() time.Time
	Health() types.EngineHealth
}

// Config bounds the orchestrator's supervision behavior (spec.md §4.1).
type Config struct {
	HeartbeatWarnSeconds    int
	HeartbeatRestartSeconds int
	MaxRestarts             int
	ShutdownGracePeriod     time.Duration
	MonitorTick             time.Duration
}

// managedEngine tracks one engine's supervision state. cancel stops the
// current run attempt only (superviseEngine installs a fresh one on every
// loop iteration), letting checkHeartbeats force a restart of one stalled
// engine without tearing down the rest of the orchestrator.
type managedEngine struct {
	name         string
	engine       RunnableEngine
	restartCount int
	status       types.EngineStatus
	lastError    string
	cancel       context.CancelFunc
}

// AllocationControl is the subset of the capital allocator the
// orchestrator needs: freeing a permanently-failed engine's capital share
// for the rest of the fleet once its restart budget is exhausted.
type AllocationControl interface {
	SetEnabled(engine string, enabled bool)
}

// Orchestrator supervises a fixed set of engines plus the global risk
// monitor, restarting crashed engines and exposing health snapshots.
type Orchestrator struct {
	logger *zap.Logger
	config Config
	risk   *riskmonitor.Monitor
	bus    *events.Bus       // optional; nil disables notification publishing
	alloc  AllocationControl // optional; nil skips capital reallocation on permanent failure

	mu      sync.RWMutex
	engines map[string]*managedEngine
}

// New builds an Orchestrator. Engines must be supplied before Run; use
// Register.
func New(logger *zap.Logger, config Config, risk *riskmonitor.Monitor) *Orchestrator {
	return &Orchestrator{
		logger:  logger.Named("orchestrator"),
		config:  config,
		risk:    risk,
		engines: make(map[string]*managedEngine),
	}
}

// SetBus wires the optional notification bus; call before Run.
func (o *Orchestrator) SetBus(bus *events.Bus) { o.bus = bus }

// SetAllocator wires the capital allocator so a permanently-failed engine
// stops reserving capital it will never trade with again; call before Run.
func (o *Orchestrator) SetAllocator(alloc AllocationControl) { o.alloc = alloc }

func (o *Orchestrator) publish(event events.Event) {
	if o.bus != nil {
		o.bus.Publish(event)
	}
}

// Register adds an engine to the supervision set. Call before Run.
func (o *Orchestrator) Register(name string, engine RunnableEngine) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.engines[name] = &managedEngine{name: name, engine: engine, status: types.EngineStatusStopped}
}

// Run spawns every registered engine plus the health and risk-alert
// supervisors, and blocks until ctx is cancelled. On cancellation it
// waits up to ShutdownGracePeriod for engines to drain before returning
// (spec.md §5 "graceful shutdown").
func (o *Orchestrator) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	o.mu.RLock()
	names := make([]string, 0, len(o.engines))
	for name := range o.engines {
		names = append(names, name)
	}
	o.mu.RUnlock()

	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			o.superviseEngine(ctx, name)
		}(name)
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		o.healthLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		o.riskAlertLoop(ctx)
	}()

	<-ctx.Done()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.logger.Info("all engines drained cleanly")
	case <-time.After(o.config.ShutdownGracePeriod):
		o.logger.Warn("shutdown grace period elapsed before all engines drained")
	}
	return nil
}

// superviseEngine runs one engine, restarting it on crash up to
// MaxRestarts (spec.md §4.1 "fault isolation"). Each run attempt gets its
// own child context derived from ctx so checkHeartbeats can force a
// restart of this one engine (by cancelling just that child) without
// touching the root context the rest of the orchestrator shares.
func (o *Orchestrator) superviseEngine(ctx context.Context, name string) {
	for {
		o.setStatus(name, types.EngineStatusRunning, "")

		me := o.managed(name)
		if me == nil {
			return
		}

		runCtx, cancel := context.WithCancel(ctx)
		o.setCancelFunc(name, cancel)
		err := me.engine.Run(runCtx)
		cancel()

		if ctx.Err() != nil {
			o.setStatus(name, types.EngineStatusStopped, "")
			return
		}
		if err == nil {
			// Run only returns nil when its context is done. The root isn't
			// cancelled, so this was checkHeartbeats forcing a restart of a
			// stalled engine (spec.md §8 P8): treat it like a crash.
			err = fmt.Errorf("heartbeat stalled past restart threshold")
		}

		o.mu.Lock()
		me.restartCount++
		restarts := me.restartCount
		o.mu.Unlock()

		if restarts > o.config.MaxRestarts {
			o.setStatus(name, types.EngineStatusError, err.Error())
			o.logger.Error("engine exceeded max restarts, giving up", zap.String("engine", name), zap.Int("restarts", restarts))
			if o.alloc != nil {
				o.alloc.SetEnabled(name, false)
			}
			return
		}

		o.setStatus(name, types.EngineStatusRestarting, err.Error())
		o.logger.Warn("engine crashed, restarting", zap.String("engine", name), zap.Int("attempt", restarts), zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(restarts) * time.Second):
		}
	}
}

func (o *Orchestrator) setStatus(name string, status types.EngineStatus, lastError string) {
	o.mu.Lock()
	me, ok := o.engines[name]
	if ok {
		me.status = status
		me.lastError = lastError
	}
	o.mu.Unlock()
	if ok {
		o.publish(events.EngineHealthEvent{
			BaseEvent: events.BaseEvent{Type: events.EventTypeEngineHealth, Timestamp: time.Now()},
			Health:    types.EngineHealth{Name: name, Status: status, LastError: lastError},
		})
	}
}

func (o *Orchestrator) managed(name string) *managedEngine {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.engines[name]
}

func (o *Orchestrator) setCancelFunc(name string, cancel context.CancelFunc) {
	o.mu.Lock()
	if me, ok := o.engines[name]; ok {
		me.cancel = cancel
	}
	o.mu.Unlock()
}

// healthLoop watches every engine's heartbeat, logging a warning for a
// stalled engine past HeartbeatWarnSeconds and cancelling its context past
// HeartbeatRestartSeconds so engine.Run returns and superviseEngine's
// restart path takes over (spec.md §8 P8 "heartbeat timeout"). It does
// not change the engine's status itself.
func (o *Orchestrator) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(o.config.MonitorTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.checkHeartbeats()
		}
	}
}

func (o *Orchestrator) checkHeartbeats() {
	o.mu.RLock()
	snapshot := make([]*managedEngine, 0, len(o.engines))
	for _, me := range o.engines {
		snapshot = append(snapshot, me)
	}
	o.mu.RUnlock()

	for _, me := range snapshot {
		if me.status != types.EngineStatusRunning {
			continue
		}
		age := time.Since(me.engine.Heartbeat())
		switch {
		case age > time.Duration(o.config.HeartbeatRestartSeconds)*time.Second:
			o.logger.Error("engine heartbeat stalled past restart threshold, forcing restart",
				zap.String("engine", me.name), zap.Duration("age", age))
			if me.cancel != nil {
				me.cancel()
			}
		case age > time.Duration(o.config.HeartbeatWarnSeconds)*time.Second:
			o.logger.Warn("engine heartbeat stale", zap.String("engine", me.name), zap.Duration("age", age))
		}
	}
}

// riskAlertLoop surfaces circuit-breaker transitions from the global risk
// monitor into the orchestrator's own log stream so a single log tail
// shows every supervisory decision (spec.md §4.3).
func (o *Orchestrator) riskAlertLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case alert, ok := <-o.risk.Alerts():
			if !ok {
				return
			}
			if alert.Active {
				o.logger.Error("portfolio circuit breaker active", zap.String("reason", alert.Reason), zap.Time("until", alert.Until))
			} else {
				o.logger.Info("portfolio circuit breaker cleared")
			}
			o.publish(events.RiskAlertEvent{
				BaseEvent: events.BaseEvent{Type: events.EventTypeRiskAlert, Timestamp: alert.Timestamp},
				Active:    alert.Active,
				Reason:    alert.Reason,
			})
		}
	}
}

// Health returns a snapshot of every supervised engine's health, for the
// status surface (spec.md §3 EngineHealth).
func (o *Orchestrator) Health() []types.EngineHealth {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]types.EngineHealth, 0, len(o.engines))
	for _, me := range o.engines {
		h := me.engine.Health()
		h.Status = me.status
		h.RestartCount = me.restartCount
		h.LastError = me.lastError
		out = append(out, h)
	}
	return out
}
