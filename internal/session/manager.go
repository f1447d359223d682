// Package session tracks live WebSocket sessions: who is connected, what
// they subscribed to, and the bounded outbound queue in front of each socket.
//
// Accounts and open orders are deliberately NOT here — they belong to the
// engine and survive disconnects. A session entry only mirrors the live
// connection.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/wmartingleason/crypto-exchange-simulator/pkg/types"
)

// sendQueueSize bounds the per-session outbound queue. When it overflows the
// message is dropped and the session is reported as backpressured.
const sendQueueSize = 256

type subKey struct {
	channel types.Channel
	symbol  string
}

// Session is one live WebSocket connection's state.
type Session struct {
	ID          string
	Send        chan []byte // drained by the connection's write pump
	ConnectedAt time.Time

	mu     sync.Mutex
	subs   map[subKey]bool
	closed bool
}

// Manager is the registry of live sessions. It uses its own short mutex —
// WebSocket writes happen outside the engine lock and must not contend
// with matching.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
}

// NewManager creates an empty registry.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		logger:   logger.With("component", "sessions"),
	}
}

// Register adds a session, replacing any previous connection with the same
// ID (the newer socket wins; the old queue is abandoned for its pump to
// drain and close).
func (m *Manager) Register(id string) *Session {
	s := &Session{
		ID:          id,
		Send:        make(chan []byte, sendQueueSize),
		ConnectedAt: time.Now().UTC(),
		subs:        make(map[subKey]bool),
	}

	m.mu.Lock()
	m.sessions[id] = s
	count := len(m.sessions)
	m.mu.Unlock()

	m.logger.Info("session connected", "session", id, "count", count)
	return s
}

// Unregister removes a session if it still owns the registry slot and
// closes its queue. Subscriptions die with it.
func (m *Manager) Unregister(s *Session) {
	m.mu.Lock()
	if current, ok := m.sessions[s.ID]; ok && current == s {
		delete(m.sessions, s.ID)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	// The closed flag keeps late publishers from sending on a closed queue.
	s.mu.Lock()
	s.closed = true
	close(s.Send)
	s.mu.Unlock()

	m.logger.Info("session disconnected", "session", s.ID, "count", count)
}

// Get looks up a live session by ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Subscribe adds a (channel, symbol) subscription.
func (s *Session) Subscribe(channel types.Channel, symbol string) {
	s.mu.Lock()
	s.subs[subKey{channel, symbol}] = true
	s.mu.Unlock()
}

// Unsubscribe removes a subscription.
func (s *Session) Unsubscribe(channel types.Channel, symbol string) {
	s.mu.Lock()
	delete(s.subs, subKey{channel, symbol})
	s.mu.Unlock()
}

// Subscribed reports whether the session wants this stream.
func (s *Session) Subscribed(channel types.Channel, symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[subKey{channel, symbol}]
}

// Subscribers snapshots the sessions subscribed to (channel, symbol).
func (m *Manager) Subscribers(channel types.Channel, symbol string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Session
	for _, s := range m.sessions {
		if s.Subscribed(channel, symbol) {
			out = append(out, s)
		}
	}
	return out
}

// Enqueue offers a payload to the session's outbound queue. Returns false
// when the queue is full; the caller treats the session as backpressured.
func (m *Manager) Enqueue(s *Session, payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.Send <- payload:
		return true
	default:
		m.logger.Warn("outbound queue full, dropping message", "session", s.ID)
		return false
	}
}
