package server

import (
	"encoding/json"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/wmartingleason/crypto-exchange-simulator/internal/engine"
	"github.com/wmartingleason/crypto-exchange-simulator/pkg/types"
)

// Router dispatches inbound WebSocket frames by their "type" discriminator.
// Replies — including errors — travel back through the outbound failure
// chain like every other message.
type Router struct {
	engine *engine.Engine
	srv    *Server
	logger *slog.Logger
}

// NewRouter creates the inbound dispatcher.
func NewRouter(eng *engine.Engine, srv *Server, logger *slog.Logger) *Router {
	return &Router{engine: eng, srv: srv, logger: logger.With("component", "router")}
}

// Handle processes one post-chain inbound frame. Malformed JSON answers an
// ERROR and leaves session state untouched — corruption injected upstream
// must land here, not crash here.
func (r *Router) Handle(sessionID string, payload []byte) {
	var req types.WSRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		r.replyError(sessionID, "", types.E(types.KindMalformed, "invalid JSON frame"))
		return
	}

	switch req.Type {
	case types.MsgPlaceOrder:
		r.handlePlaceOrder(sessionID, req)
	case types.MsgCancelOrder:
		r.handleCancelOrder(sessionID, req)
	case types.MsgQueryOrder:
		r.handleQueryOrder(sessionID, req)
	case types.MsgSubscribe:
		r.handleSubscribe(sessionID, req, true)
	case types.MsgUnsubscribe:
		r.handleSubscribe(sessionID, req, false)
	case types.MsgPing:
		r.srv.sendFrame(sessionID, types.WSPong{Type: types.MsgPong, RequestID: req.RequestID})
	default:
		r.replyError(sessionID, req.RequestID,
			types.E(types.KindUnknownMessageType, "unknown message type %q", req.Type))
	}
}

func (r *Router) handlePlaceOrder(sessionID string, req types.WSRequest) {
	placeReq, err := buildPlaceRequest(req.Symbol, req.Side, req.OrderType, req.Price, req.Quantity, req.TimeInForce)
	if err != nil {
		r.replyError(sessionID, req.RequestID, err)
		return
	}

	order, err := r.engine.PlaceOrder(sessionID, placeReq)
	if err != nil {
		r.replyError(sessionID, req.RequestID, err)
		return
	}
	// The engine already emitted ORDER_UPDATE events; the direct reply is
	// the ack carrying the assigned order ID.
	r.srv.sendFrame(sessionID, types.WSOrderUpdate{Type: types.MsgOrderUpdate, Order: *order})
}

func (r *Router) handleCancelOrder(sessionID string, req types.WSRequest) {
	if req.OrderID == "" {
		r.replyError(sessionID, req.RequestID, types.E(types.KindInvalidOrder, "order_id is required"))
		return
	}
	order, err := r.engine.CancelOrder(sessionID, req.OrderID)
	if err != nil {
		r.replyError(sessionID, req.RequestID, err)
		return
	}
	r.srv.sendFrame(sessionID, types.WSOrderUpdate{Type: types.MsgOrderUpdate, Order: *order})
}

func (r *Router) handleQueryOrder(sessionID string, req types.WSRequest) {
	if req.OrderID == "" {
		r.replyError(sessionID, req.RequestID, types.E(types.KindInvalidOrder, "order_id is required"))
		return
	}
	order, err := r.engine.GetOrder(sessionID, req.OrderID)
	if err != nil {
		r.replyError(sessionID, req.RequestID, err)
		return
	}
	r.srv.sendFrame(sessionID, types.WSOrderUpdate{Type: types.MsgOrderUpdate, Order: *order})
}

func (r *Router) handleSubscribe(sessionID string, req types.WSRequest, subscribe bool) {
	if !req.Channel.Valid() {
		r.replyError(sessionID, req.RequestID,
			types.E(types.KindInvalidOrder, "unknown channel %q", req.Channel))
		return
	}
	if !r.engine.HasSymbol(req.Symbol) {
		r.replyError(sessionID, req.RequestID,
			types.E(types.KindUnknownSymbol, "unknown symbol %q", req.Symbol))
		return
	}
	sess, ok := r.srv.sessions.Get(sessionID)
	if !ok {
		return
	}
	if subscribe {
		sess.Subscribe(req.Channel, req.Symbol)
	} else {
		sess.Unsubscribe(req.Channel, req.Symbol)
	}
}

func (r *Router) replyError(sessionID, requestID string, err error) {
	kind := types.KindOf(err)
	msg := err.Error()
	if e, ok := err.(*types.Error); ok {
		msg = e.Message
	}
	r.srv.sendFrame(sessionID, types.WSError{
		Type:      types.MsgError,
		Kind:      kind,
		Message:   msg,
		RequestID: requestID,
	})
}

// buildPlaceRequest converts wire strings into an engine request. Shared by
// the WS router and the REST handler so both surfaces validate identically.
func buildPlaceRequest(symbol string, side types.Side, orderType types.OrderType, price, quantity string, tif types.TimeInForce) (engine.PlaceOrderRequest, error) {
	req := engine.PlaceOrderRequest{
		Symbol:      symbol,
		Side:        side,
		Type:        orderType,
		TimeInForce: tif,
	}

	if quantity == "" {
		return req, types.E(types.KindInvalidOrder, "quantity is required")
	}
	qty, err := decimal.NewFromString(quantity)
	if err != nil {
		return req, types.E(types.KindInvalidOrder, "invalid quantity %q", quantity)
	}
	req.Quantity = qty

	if price != "" {
		p, err := decimal.NewFromString(price)
		if err != nil {
			return req, types.E(types.KindInvalidOrder, "invalid price %q", price)
		}
		req.Price = p
	}
	return req, nil
}
