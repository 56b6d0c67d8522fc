// Package blacklist vetoes a symbol from re-entry for a cooldown window
// after a stop-loss exit (spec.md §3 BlacklistEntry, §4.6 BlacklistFilter).
// Reads happen on every scan cycle for every candidate symbol, so the
// table is guarded by sync.RWMutex: readers share the read lock and a
// writer recording a fresh stop-out holds the write lock only for a
// single map update, rather than the channel-actor style used elsewhere.
package blacklist

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// List tracks time-bounded symbol blacklist entries.
type List struct {
	logger   *zap.Logger
	duration time.Duration

	mu      sync.RWMutex
	entries map[string]types.BlacklistEntry

	sweeper *cron.Cron
}

// New builds a List whose entries each last duration from the moment Add
// records them.
func New(logger *zap.Logger, duration time.Duration) *List {
	return &List{
		logger:   logger.Named("blacklist"),
		duration: duration,
		entries:  make(map[string]types.BlacklistEntry),
	}
}

// Add vetoes symbol until now+duration, overwriting any existing entry
// with a fresh expiry (spec.md §8 P10 "blacklist expiry").
func (l *List) Add(symbol, reason string) {
	now := time.Now()
	entry := types.BlacklistEntry{
		Symbol:    symbol,
		EntryTime: now,
		ExpiresAt: now.Add(l.duration),
		Reason:    reason,
	}
	l.mu.Lock()
	l.entries[symbol] = entry
	l.mu.Unlock()
	l.logger.Info("symbol blacklisted", zap.String("symbol", symbol), zap.String("reason", reason), zap.Time("expiresAt", entry.ExpiresAt))
}

// IsBlacklisted reports whether symbol is currently vetoed. Expired
// entries are treated as absent without mutating state; Sweep reclaims
// them.
func (l *List) IsBlacklisted(symbol string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.entries[symbol]
	if !ok {
		return false
	}
	return time.Now().Before(entry.ExpiresAt)
}

// Entry returns the current blacklist entry for symbol, if any.
func (l *List) Entry(symbol string) (types.BlacklistEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.entries[symbol]
	if !ok || !time.Now().Before(entry.ExpiresAt) {
		return types.BlacklistEntry{}, false
	}
	return entry, true
}

// Sweep removes expired entries, keeping the map bounded across a
// long-running engine.
func (l *List) Sweep() int {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for symbol, entry := range l.entries {
		if !now.Before(entry.ExpiresAt) {
			delete(l.entries, symbol)
			removed++
		}
	}
	return removed
}

// StartSweeper schedules Sweep to run every five minutes so expired
// entries do not linger indefinitely between scan cycles.
func (l *List) StartSweeper() {
	l.sweeper = cron.New()
	_, _ = l.sweeper.AddFunc("@every 5m", func() {
		if n := l.Sweep(); n > 0 {
			l.logger.Debug("swept expired blacklist entries", zap.Int("count", n))
		}
	})
	l.sweeper.Start()
}

// Stop releases the sweeper scheduler.
func (l *List) Stop() {
	if l.sweeper != nil {
		ctx := l.sweeper.Stop()
		<-ctx.Done()
	}
}

// Snapshot returns all current (including expired, unswept) entries for
// the status surface.
func (l *List) Snapshot() []types.BlacklistEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.BlacklistEntry, 0, len(l.entries))
	for _, entry := range l.entries {
		out = append(out, entry)
	}
	return out
}
