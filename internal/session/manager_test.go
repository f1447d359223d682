package session

import (
	"io"
	"log/slog"
	"testing"

	"github.com/wmartingleason/crypto-exchange-simulator/pkg/types"
)

func newTestManager() *Manager {
	return NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegisterAndLookup(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	s := m.Register("a")
	got, ok := m.Get("a")
	if !ok || got != s {
		t.Fatal("registered session not found")
	}

	m.Unregister(s)
	if _, ok := m.Get("a"); ok {
		t.Error("unregistered session still found")
	}
}

func TestReconnectReplacesSession(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	old := m.Register("a")
	fresh := m.Register("a")

	got, _ := m.Get("a")
	if got != fresh {
		t.Fatal("newer connection must own the session slot")
	}

	// Unregistering the stale connection must not evict the new one.
	m.Unregister(old)
	if _, ok := m.Get("a"); !ok {
		t.Error("stale unregister evicted the live session")
	}
}

func TestSubscriptions(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	a := m.Register("a")
	b := m.Register("b")
	a.Subscribe(types.ChannelTicker, "BTC/USD")
	a.Subscribe(types.ChannelTrades, "BTC/USD")
	b.Subscribe(types.ChannelTicker, "BTC/USD")

	subs := m.Subscribers(types.ChannelTicker, "BTC/USD")
	if len(subs) != 2 {
		t.Fatalf("subscribers = %d, want 2", len(subs))
	}

	a.Unsubscribe(types.ChannelTicker, "BTC/USD")
	if len(m.Subscribers(types.ChannelTicker, "BTC/USD")) != 1 {
		t.Error("unsubscribe not reflected")
	}
	if len(m.Subscribers(types.ChannelTicker, "ETH/USD")) != 0 {
		t.Error("symbol filter leaked")
	}
}

func TestEnqueueBackpressure(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	s := m.Register("a")

	for i := 0; i < sendQueueSize; i++ {
		if !m.Enqueue(s, []byte("x")) {
			t.Fatalf("enqueue %d failed below capacity", i)
		}
	}
	if m.Enqueue(s, []byte("overflow")) {
		t.Error("full queue must report backpressure")
	}
}

func TestEnqueueAfterUnregisterIsSafe(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	s := m.Register("a")
	m.Unregister(s)

	if m.Enqueue(s, []byte("late")) {
		t.Error("enqueue on a closed session must report failure")
	}
}
