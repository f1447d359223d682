package marketdata

import (
	"sync"
	"time"

	"github.com/wmartingleason/crypto-exchange-simulator/pkg/types"
)

// History is the bounded rolling tick window, one deque per symbol ordered
// by timestamp ascending. It is the canonical backfill source: a client that
// saw a sequence gap on the wire reconciles against this.
type History struct {
	mu      sync.RWMutex
	max     int
	entries map[string][]types.Tick
}

// NewHistory creates a history keeping at most max ticks per symbol.
func NewHistory(max int) *History {
	return &History{max: max, entries: make(map[string][]types.Tick)}
}

// Append records a tick, evicting the oldest entry once the window is full.
func (h *History) Append(tick types.Tick) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ticks := h.entries[tick.Symbol]
	if len(ticks) >= h.max {
		ticks = ticks[1:]
	}
	h.entries[tick.Symbol] = append(ticks, tick)
}

// Query returns ticks in time order, optionally bounded by [start, end]
// (zero values mean unbounded), truncated to limit.
func (h *History) Query(symbol string, start, end time.Time, limit int) []types.Tick {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []types.Tick
	for _, tick := range h.entries[symbol] {
		if !start.IsZero() && tick.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && tick.Timestamp.After(end) {
			break
		}
		out = append(out, tick)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// Len returns the number of retained ticks for a symbol.
func (h *History) Len(symbol string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries[symbol])
}
