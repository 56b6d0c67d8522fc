// Package api exposes the operator status surface: an HTTP snapshot of
// engine health, open positions, and risk state, plus a websocket feed
// that pushes the same snapshot on a fixed interval. Adapted from the
// teacher's Server/Hub pair (internal/api/server.go, websocket.go) —
// the gorilla/mux routing, gorilla/websocket upgrade+read/write pumps,
// and channel-based broadcast idiom are kept; the backtest-control
// handlers and Trade/Signal broadcast helpers are dropped since this
// surface is read-only telemetry, not a backtest control plane.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/events"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

const recentEventsLimit = 50

// Snapshot is the full operator status payload (spec.md §3 EngineHealth,
// Position, RiskState).
type Snapshot struct {
	Engines       []types.EngineHealth `json:"engines"`
	Positions     []types.Position     `json:"positions"`
	Risk          types.RiskState      `json:"risk"`
	RecentEvents  []string             `json:"recentEvents"`
	Timestamp     time.Time            `json:"timestamp"`
}

// SnapshotSource supplies the data a Snapshot is built from.
type SnapshotSource interface {
	Health() []types.EngineHealth
	Positions() []types.Position
	State() types.RiskState
}

// Server hosts the HTTP status endpoint, the /metrics Prometheus
// endpoint, and a websocket feed that pushes a fresh Snapshot on every
// tick.
type Server struct {
	logger *zap.Logger
	source SnapshotSource
	router *mux.Router
	srv    *http.Server

	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[*websocket.Conn]bool

	evMu   sync.Mutex
	recent []string
}

// NewServer builds the status Server bound to addr (host:port).
func NewServer(logger *zap.Logger, addr string, source SnapshotSource) *Server {
	s := &Server{
		logger:   logger.Named("api"),
		source:   source,
		router:   mux.NewRouter(),
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		clients:  make(map[*websocket.Conn]bool),
	}
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", promhttp.Handler())

	handler := cors.New(cors.Options{AllowedOrigins: []string{"*"}, AllowedMethods: []string{http.MethodGet}}).Handler(s.router)
	s.srv = &http.Server{Addr: addr, Handler: handler, ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}
	return s
}

func (s *Server) snapshot() Snapshot {
	s.evMu.Lock()
	recent := append([]string{}, s.recent...)
	s.evMu.Unlock()
	return Snapshot{
		Engines:      s.source.Health(),
		Positions:    s.source.Positions(),
		Risk:         s.source.State(),
		RecentEvents: recent,
		Timestamp:    time.Now(),
	}
}

// SubscribeBus attaches the Server to bus, tailing every published event
// into a bounded recent-events window surfaced on the status snapshot.
func (s *Server) SubscribeBus(bus *events.Bus) {
	bus.SubscribeAll(func(event events.Event) {
		s.evMu.Lock()
		defer s.evMu.Unlock()
		s.recent = append(s.recent, event.Summary())
		if len(s.recent) > recentEventsLimit {
			s.recent = s.recent[len(s.recent)-recentEventsLimit:]
		}
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshot()); err != nil {
		s.logger.Warn("failed to encode status snapshot", zap.Error(err))
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	// Drain reads so the connection's control frames and close are
	// processed; the feed is push-only.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// BroadcastTick pushes a fresh Snapshot to every connected websocket
// client; Run calls it on every tick of its broadcastInterval ticker.
func (s *Server) BroadcastTick() {
	payload := s.snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		if err := conn.WriteJSON(payload); err != nil {
			s.logger.Debug("dropping websocket client after write error", zap.Error(err))
			conn.Close()
			delete(s.clients, conn)
		}
	}
}

// Run starts the status loop (periodic websocket broadcast) and blocks
// serving HTTP until ctx is cancelled.
func (s *Server) Run(ctx context.Context, broadcastInterval time.Duration) error {
	go func() {
		ticker := time.NewTicker(broadcastInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.BroadcastTick()
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status api listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
