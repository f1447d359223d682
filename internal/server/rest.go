package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/wmartingleason/crypto-exchange-simulator/pkg/types"
)

// defaultRESTSession is used when a request carries no X-Session-ID header.
const defaultRESTSession = "rest-session"

const (
	pricesDefaultLimit = 500
	pricesMaxLimit     = 10000
)

// withSession resolves the caller's session and applies REST rate limiting
// before routing. 4xx responses never touch engine state.
func (s *Server) withSession(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.Header.Get("X-Session-ID")
		if sessionID == "" {
			sessionID = defaultRESTSession
		}

		if rl := s.pipeline.RestLimiter; rl != nil {
			if d := rl.Check(sessionID); !d.Allowed {
				retry := int(d.RetryAfter / time.Second)
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				writeJSON(w, http.StatusTooManyRequests, map[string]any{
					"error":           "rate limit exceeded",
					"retry_after":     retry,
					"violation_count": d.Violations,
				})
				return
			}
		}

		next(w, r, sessionID)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request, sessionID string) {
	writeJSON(w, http.StatusOK, map[string]any{"symbols": s.engine.Symbols()})
}

func (s *Server) handleTicker(w http.ResponseWriter, r *http.Request, sessionID string) {
	symbol := r.URL.Query().Get("symbol")
	tick, ok := s.publisher.LastPrice(symbol)
	if !ok {
		writeError(w, types.E(types.KindUnknownSymbol, "unknown symbol %q", symbol))
		return
	}
	writeJSON(w, http.StatusOK, tick)
}

// handlePrices serves the rolling history — the canonical backfill source
// for clients that detected a sequence gap.
func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request, sessionID string) {
	q := r.URL.Query()
	symbol := q.Get("symbol")
	if !s.engine.HasSymbol(symbol) {
		writeError(w, types.E(types.KindUnknownSymbol, "unknown symbol %q", symbol))
		return
	}

	start, err := parseTimeParam(q.Get("start"))
	if err != nil {
		writeError(w, types.E(types.KindInvalidOrder, "invalid start: %v", err))
		return
	}
	end, err := parseTimeParam(q.Get("end"))
	if err != nil {
		writeError(w, types.E(types.KindInvalidOrder, "invalid end: %v", err))
		return
	}

	limit := pricesDefaultLimit
	if raw := q.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, types.E(types.KindInvalidOrder, "invalid limit %q", raw))
			return
		}
		if limit > pricesMaxLimit {
			limit = pricesMaxLimit
		}
	}

	prices := s.history.Query(symbol, start, end, limit)
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "prices": prices})
}

type placeOrderBody struct {
	Symbol      string            `json:"symbol"`
	Side        types.Side        `json:"side"`
	OrderType   types.OrderType   `json:"order_type"`
	Price       string            `json:"price"`
	Quantity    string            `json:"quantity"`
	TimeInForce types.TimeInForce `json:"time_in_force"`
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request, sessionID string) {
	var body placeOrderBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, types.E(types.KindMalformed, "invalid JSON body"))
		return
	}

	req, err := buildPlaceRequest(body.Symbol, body.Side, body.OrderType, body.Price, body.Quantity, body.TimeInForce)
	if err != nil {
		writeError(w, err)
		return
	}

	order, err := s.engine.PlaceOrder(sessionID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request, sessionID string) {
	order, err := s.engine.GetOrder(sessionID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request, sessionID string) {
	q := r.URL.Query()
	orders := s.engine.ListOrders(sessionID, q.Get("symbol"), types.OrderStatus(q.Get("status")))
	if orders == nil {
		orders = []types.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request, sessionID string) {
	order, err := s.engine.CancelOrder(sessionID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled", "order": order})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request, sessionID string) {
	writeJSON(w, http.StatusOK, map[string]any{"balances": s.engine.Balances(sessionID)})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request, sessionID string) {
	symbol := r.URL.Query().Get("symbol")
	asset, balance, err := s.engine.Position(sessionID, symbol)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":   symbol,
		"asset":    asset,
		"free":     balance.Free,
		"locked":   balance.Locked,
		"position": balance.Total(),
	})
}

// handleFailureStats surfaces per-strategy counters and scheduler depth.
func (s *Server) handleFailureStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"strategies":        s.pipeline.StrategyStats(),
		"scheduler_pending": s.pipeline.Scheduler.Pending(),
	})
}

// parseTimeParam accepts RFC 3339 or unix milliseconds.
func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("want RFC3339 or unix milliseconds")
	}
	return t.UTC(), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps an error kind to its HTTP status and emits the JSON body.
func writeError(w http.ResponseWriter, err error) {
	kind := types.KindOf(err)
	msg := err.Error()
	if e, ok := err.(*types.Error); ok {
		msg = e.Message
	}
	writeJSON(w, statusFor(kind), map[string]any{"error": msg, "kind": kind})
}

func statusFor(kind types.Kind) int {
	switch kind {
	case types.KindUnknownSymbol, types.KindInvalidOrder, types.KindMalformed,
		types.KindFOKUnfillable, types.KindInsufficientLiquidity, types.KindUnknownMessageType:
		return http.StatusBadRequest
	case types.KindInsufficientBalance:
		return http.StatusPaymentRequired
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindForbidden:
		return http.StatusForbidden
	case types.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
