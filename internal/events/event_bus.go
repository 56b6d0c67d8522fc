// Package events implements a bounded, worker-pool-backed pub/sub bus
// used as the cross-cutting notification backbone between the Position
// Lifecycle Manager, the Global Risk Monitor, and the operator status
// surface. Adapted from the teacher's high-throughput EventBus
// (internal/events/event_bus.go) — the worker-pool dispatch, one buffered
// queue shared by all subscriptions, and P99 latency tracking are kept verbatim
// in shape; the event payload types are replaced wholesale with the
// domain's own (PositionEvent/RiskAlertEvent/GateEvent carrying
// types.Position/types.TradeRecord/types.RiskState) instead of the
// teacher's generic float64-keyed bar/tick/signal events, since this
// system has no independent market-data or signal-generation pipeline
// of its own to broadcast.
package events

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// EventType categorizes a published Event.
type EventType string

const (
	EventTypePositionOpened EventType = "position_opened"
	EventTypePositionClosed EventType = "position_closed"
	EventTypeGateRejected   EventType = "gate_rejected"
	EventTypeRiskAlert      EventType = "risk_alert"
	EventTypeEngineHealth   EventType = "engine_health"
)

// Event is the common interface every published event satisfies.
type Event interface {
	GetType() EventType
	GetTimestamp() time.Time
	Summary() string
}

// BaseEvent carries the fields every concrete event embeds.
type BaseEvent struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) GetType() EventType      { return e.Type }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }

// PositionEvent reports a position opening or closing.
type PositionEvent struct {
	BaseEvent
	Position types.Position  `json:"position"`
	Record   *types.TradeRecord `json:"record,omitempty"`
}

func (e PositionEvent) Summary() string {
	if e.Type == EventTypePositionClosed && e.Record != nil {
		return e.Position.Symbol + " closed, pnl=" + e.Record.RealizedPnl.String()
	}
	return e.Position.Symbol + " opened at " + e.Position.EntryPrice.String()
}

// GateEvent reports a proposal the Signal Quality Gate rejected.
type GateEvent struct {
	BaseEvent
	Symbol      string `json:"symbol"`
	FailedStage string `json:"failedStage"`
	Reason      string `json:"reason"`
}

func (e GateEvent) Summary() string { return e.Symbol + " rejected at " + e.FailedStage + ": " + e.Reason }

// RiskAlertEvent reports a circuit-breaker transition.
type RiskAlertEvent struct {
	BaseEvent
	Active bool   `json:"active"`
	Reason string `json:"reason"`
}

func (e RiskAlertEvent) Summary() string {
	if e.Active {
		return "circuit breaker tripped: " + e.Reason
	}
	return "circuit breaker cleared"
}

// EngineHealthEvent reports a supervised engine's status transition.
type EngineHealthEvent struct {
	BaseEvent
	Health types.EngineHealth `json:"health"`
}

func (e EngineHealthEvent) Summary() string { return e.Health.Name + " -> " + string(e.Health.Status) }

// EventHandler processes one published event.
type EventHandler func(event Event)

// Subscription is a handle returned by Subscribe, usable with Unsubscribe.
type Subscription struct {
	id        uint64
	eventType EventType
	all       bool
	handler   EventHandler
	active    atomic.Bool
}

// Stats summarizes the bus's dispatch activity.
type Stats struct {
	Published int64
	Dropped   int64
	P99LatencyNs int64
}

// Config bounds the bus's worker pool and per-worker queue depth.
type Config struct {
	Workers   int
	QueueSize int
}

// DefaultConfig mirrors the teacher's defaults, scaled down for a
// notification bus rather than a tick-processing pipeline.
func DefaultConfig() Config {
	return Config{Workers: 4, QueueSize: 256}
}

// Bus dispatches published events to subscribed handlers from a fixed
// worker pool, never blocking the publisher on a slow subscriber.
type Bus struct {
	logger *zap.Logger
	config Config

	queue chan Event

	mu          sync.RWMutex
	subs        map[EventType][]*Subscription
	allSubs     []*Subscription
	nextSubID   uint64

	published atomic.Int64
	dropped   atomic.Int64

	latMu   sync.Mutex
	latency []int64

	wg sync.WaitGroup
}

// New builds a Bus; call Start to begin dispatching.
func New(logger *zap.Logger, config Config) *Bus {
	if config.Workers <= 0 {
		config = DefaultConfig()
	}
	return &Bus{
		logger: logger.Named("events"),
		config: config,
		queue:  make(chan Event, config.QueueSize),
		subs:   make(map[EventType][]*Subscription),
	}
}

// Start launches the worker pool; call Stop to drain and shut down.
func (b *Bus) Start(ctx context.Context) {
	for i := 0; i < b.config.Workers; i++ {
		b.wg.Add(1)
		go b.worker(ctx)
	}
}

// Stop closes the publish queue and waits for in-flight events to drain.
func (b *Bus) Stop() {
	close(b.queue)
	b.wg.Wait()
}

func (b *Bus) worker(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-b.queue:
			if !ok {
				return
			}
			b.dispatch(event)
		}
	}
}

func (b *Bus) dispatch(event Event) {
	start := time.Now()
	b.mu.RLock()
	targets := append([]*Subscription{}, b.subs[event.GetType()]...)
	targets = append(targets, b.allSubs...)
	b.mu.RUnlock()

	for _, sub := range targets {
		if !sub.active.Load() {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked", zap.Any("recovered", r))
				}
			}()
			sub.handler(event)
		}()
	}
	b.trackLatency(time.Since(start).Nanoseconds())
}

func (b *Bus) trackLatency(ns int64) {
	b.latMu.Lock()
	defer b.latMu.Unlock()
	b.latency = append(b.latency, ns)
	if len(b.latency) > 1000 {
		b.latency = b.latency[len(b.latency)-1000:]
	}
}

// Publish enqueues event for async dispatch, dropping it (and counting
// the drop) if every worker is saturated rather than blocking the caller.
func (b *Bus) Publish(event Event) {
	select {
	case b.queue <- event:
		b.published.Add(1)
	default:
		b.dropped.Add(1)
		b.logger.Warn("event dropped, queue saturated", zap.String("type", string(event.GetType())))
	}
}

// Subscribe registers handler for events of eventType.
func (b *Bus) Subscribe(eventType EventType, handler EventHandler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSubID++
	sub := &Subscription{id: b.nextSubID, eventType: eventType, handler: handler}
	sub.active.Store(true)
	b.subs[eventType] = append(b.subs[eventType], sub)
	return sub
}

// SubscribeAll registers handler for every event type published, used by
// the status surface's recent-events feed.
func (b *Bus) SubscribeAll(handler EventHandler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSubID++
	sub := &Subscription{id: b.nextSubID, all: true, handler: handler}
	sub.active.Store(true)
	b.allSubs = append(b.allSubs, sub)
	return sub
}

// Unsubscribe deactivates sub; future events are no longer delivered to it.
func (b *Bus) Unsubscribe(sub *Subscription) { sub.active.Store(false) }

// Stats returns a snapshot of publish/drop counters and P99 latency.
func (b *Bus) Stats() Stats {
	b.latMu.Lock()
	samples := append([]int64{}, b.latency...)
	b.latMu.Unlock()
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	var p99 int64
	if len(samples) > 0 {
		idx := int(float64(len(samples)) * 0.99)
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		p99 = samples[idx]
	}
	return Stats{Published: b.published.Load(), Dropped: b.dropped.Load(), P99LatencyNs: p99}
}
