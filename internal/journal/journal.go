// Package journal implements the Trade Journal (spec.md §3 TradeRecord):
// an append-only, crash-safe record of every closed position, persisted
// as newline-delimited JSON the way the teacher's data.Store persists
// OHLCV snapshots to disk, plus the in-memory win/loss and reward/risk
// series the Position Sizer's Kelly guard consumes.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// Journal appends TradeRecords to a per-engine JSONL file and keeps a
// bounded in-memory window for fast statistics, keyed by engine+symbol so
// a losing streak on one symbol never throttles another symbol the same
// engine trades (spec.md §4.7 "per symbol").
type Journal struct {
	logger  *zap.Logger
	dataDir string

	mu     sync.RWMutex
	recent map[string][]types.TradeRecord // engine|symbol -> trailing window
	window int
}

func seriesKey(engine, symbol string) string {
	return engine + "|" + symbol
}

// New builds a Journal rooted at dataDir, creating it if absent.
func New(logger *zap.Logger, dataDir string, window int) (*Journal, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	if window <= 0 {
		window = 200
	}
	return &Journal{
		logger:  logger.Named("journal"),
		dataDir: dataDir,
		recent:  make(map[string][]types.TradeRecord),
		window:  window,
	}, nil
}

func (j *Journal) path(engine string) string {
	return filepath.Join(j.dataDir, engine+"_trades.jsonl")
}

// Record appends a closed trade to the engine's journal file and updates
// its in-memory trailing window.
func (j *Journal) Record(record types.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path(record.Engine), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if err := enc.Encode(record); err != nil {
		return fmt.Errorf("encode trade record: %w", err)
	}

	key := seriesKey(record.Engine, record.Symbol)
	window := append(j.recent[key], record)
	if len(window) > j.window {
		window = window[len(window)-j.window:]
	}
	j.recent[key] = window

	j.logger.Info("trade recorded",
		zap.String("engine", record.Engine), zap.String("symbol", record.Symbol),
		zap.String("realizedPnl", record.RealizedPnl.String()), zap.String("rMultiple", record.RMultiple.String()))
	return nil
}

// WinLossSeries returns 1/0 outcomes for engine+symbol's trailing window,
// the input the sizer's Kelly guard needs (spec.md §4.7).
func (j *Journal) WinLossSeries(engine, symbol string) []float64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	records := j.recent[seriesKey(engine, symbol)]
	series := make([]float64, len(records))
	for i, r := range records {
		if r.RealizedPnl.IsPositive() {
			series[i] = 1
		}
	}
	return series
}

// AverageRewardRisk returns the mean R-multiple of winning trades over
// the mean R-multiple magnitude of losing trades in engine+symbol's
// trailing window, the reward/risk ratio the Kelly guard needs. Returns 1
// when there isn't enough history to estimate either side.
func (j *Journal) AverageRewardRisk(engine, symbol string) decimal.Decimal {
	j.mu.RLock()
	defer j.mu.RUnlock()
	records := j.recent[seriesKey(engine, symbol)]

	winSum, winCount := decimal.Zero, 0
	lossSum, lossCount := decimal.Zero, 0
	for _, r := range records {
		if r.RealizedPnl.IsPositive() {
			winSum = winSum.Add(r.RMultiple.Abs())
			winCount++
		} else if r.RealizedPnl.IsNegative() {
			lossSum = lossSum.Add(r.RMultiple.Abs())
			lossCount++
		}
	}
	if winCount == 0 || lossCount == 0 {
		return decimal.NewFromInt(1)
	}
	avgWin := winSum.Div(decimal.NewFromInt(int64(winCount)))
	avgLoss := lossSum.Div(decimal.NewFromInt(int64(lossCount)))
	if avgLoss.IsZero() {
		return decimal.NewFromInt(1)
	}
	return avgWin.Div(avgLoss)
}

// ConsecutiveLosses counts trailing losing trades back from the most
// recent trade in engine+symbol's window, feeding the sizer's loss-streak
// size/leverage halving (spec.md §4.7).
func (j *Journal) ConsecutiveLosses(engine, symbol string) int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	records := j.recent[seriesKey(engine, symbol)]
	count := 0
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].RealizedPnl.IsNegative() {
			count++
		} else {
			break
		}
	}
	return count
}

// Load replays engine's persisted journal file into the in-memory window,
// used at startup so a restarted engine does not lose its Kelly-guard
// history (spec.md §7 "durable state survives restart").
func (j *Journal) Load(engine string) error {
	f, err := os.Open(j.path(engine))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open journal file: %w", err)
	}
	defer f.Close()

	var records []types.TradeRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var r types.TradeRecord
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			j.logger.Warn("skipping malformed journal line", zap.Error(err))
			continue
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan journal file: %w", err)
	}

	bySymbol := make(map[string][]types.TradeRecord)
	for _, r := range records {
		bySymbol[r.Symbol] = append(bySymbol[r.Symbol], r)
	}

	j.mu.Lock()
	for symbol, window := range bySymbol {
		if len(window) > j.window {
			window = window[len(window)-j.window:]
		}
		j.recent[seriesKey(engine, symbol)] = window
	}
	j.mu.Unlock()
	return nil
}
