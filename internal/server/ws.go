package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wmartingleason/crypto-exchange-simulator/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The simulator is a test harness; any origin may connect.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket upgrades the connection and starts the session pumps.
// The session ID comes from the X-Session-ID header or ?session= query;
// absent both, one is assigned.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("X-Session-ID")
	if sessionID == "" {
		sessionID = r.URL.Query().Get("session")
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	s.pipeline.OnConnect(sessionID)
	sess := s.sessions.Register(sessionID)

	go s.writePump(sess, conn)
	go s.readPump(sess, conn)
}

// readPump reads client frames and feeds them into the inbound failure
// chain. On disconnect the session's subscriptions and pending delayed
// messages die; its account and open orders do not.
func (s *Server) readPump(sess *session.Session, conn *websocket.Conn) {
	defer func() {
		s.sessions.Unregister(sess)
		s.pipeline.OnDisconnect(sess.ID)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", "session", sess.ID, "error", err)
			}
			return
		}
		s.processInbound(sess.ID, msg)
	}
}

// writePump drains the session queue onto the socket and keeps the
// connection alive with pings. Note a silenced session still gets pings —
// the TCP connection stays healthy, only application data stops.
func (s *Server) writePump(sess *session.Session, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-sess.Send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
