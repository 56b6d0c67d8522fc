package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/events"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

type fakeSource struct {
	health    []types.EngineHealth
	positions []types.Position
	risk      types.RiskState
}

func (f fakeSource) Health() []types.EngineHealth { return f.health }
func (f fakeSource) Positions() []types.Position  { return f.positions }
func (f fakeSource) State() types.RiskState       { return f.risk }

func TestHandleHealthz_ReturnsOK(t *testing.T) {
	s := NewServer(zap.NewNop(), "127.0.0.1:0", fakeSource{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleStatus_EncodesSnapshot(t *testing.T) {
	src := fakeSource{
		health:    []types.EngineHealth{{Name: "momentum", Status: types.EngineStatusRunning}},
		positions: []types.Position{{Symbol: "BTC/USDT"}},
		risk:      types.RiskState{DayEpoch: "2026-08-01"},
	}
	s := NewServer(zap.NewNop(), "127.0.0.1:0", src)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Engines) != 1 || snap.Engines[0].Name != "momentum" {
		t.Fatalf("expected momentum engine health in snapshot, got %+v", snap.Engines)
	}
	if len(snap.Positions) != 1 {
		t.Fatalf("expected 1 position in snapshot, got %d", len(snap.Positions))
	}
}

func TestSubscribeBus_AppendsEventSummariesToRecent(t *testing.T) {
	s := NewServer(zap.NewNop(), "127.0.0.1:0", fakeSource{})
	bus := events.New(zap.NewNop(), events.Config{Workers: 1, QueueSize: 8})
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		bus.Stop()
	}()
	bus.Start(ctx)
	s.SubscribeBus(bus)

	bus.Publish(events.PositionEvent{BaseEvent: events.BaseEvent{Type: events.EventTypePositionOpened, Timestamp: time.Now()}})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s.evMu.Lock()
		n := len(s.recent)
		s.evMu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected a published event to surface in the recent-events window")
}

func TestBroadcastTick_PushesSnapshotToWebSocketClients(t *testing.T) {
	src := fakeSource{risk: types.RiskState{DayEpoch: "2026-08-01"}}
	s := NewServer(zap.NewNop(), "127.0.0.1:0", src)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Give the upgrade handler time to register the client before ticking.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		n := len(s.clients)
		s.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.BroadcastTick()

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var got Snapshot
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("expected a broadcast snapshot over the websocket, got error: %v", err)
	}
	if got.Risk.DayEpoch != "2026-08-01" {
		t.Fatalf("expected risk state from the snapshot source, got %+v", got.Risk)
	}
}
