// Package server exposes the simulator over HTTP: the REST API, the /ws
// WebSocket endpoint, and the admin surface. It owns the glue between the
// engine's event stream, the market-data publisher, the failure-injection
// pipeline, and the per-session outbound queues.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wmartingleason/crypto-exchange-simulator/internal/config"
	"github.com/wmartingleason/crypto-exchange-simulator/internal/engine"
	"github.com/wmartingleason/crypto-exchange-simulator/internal/failures"
	"github.com/wmartingleason/crypto-exchange-simulator/internal/marketdata"
	"github.com/wmartingleason/crypto-exchange-simulator/internal/session"
	"github.com/wmartingleason/crypto-exchange-simulator/pkg/types"
)

// Server runs the HTTP/WebSocket surface of the simulator.
type Server struct {
	cfg       config.Config
	engine    *engine.Engine
	publisher *marketdata.Publisher
	history   *marketdata.History
	pipeline  *failures.Pipeline
	sessions  *session.Manager
	router    *Router
	server    *http.Server
	logger    *slog.Logger
}

// New wires the server. The pipeline's chains get their sinks here: outbound
// deliveries land on session queues, asynchronously released inbound
// messages land back on the router. The publisher is attached afterwards via
// SetPublisher — the server is the publisher's sink, so one of the two has
// to come up first.
func New(
	cfg config.Config,
	eng *engine.Engine,
	hist *marketdata.History,
	pipe *failures.Pipeline,
	logger *slog.Logger,
) *Server {
	s := &Server{
		cfg:      cfg,
		engine:   eng,
		history:  hist,
		pipeline: pipe,
		sessions: session.NewManager(logger),
		logger:   logger.With("component", "server"),
	}
	s.router = NewRouter(eng, s, logger)

	pipe.Outbound.SetSink(s.deliver)
	pipe.Inbound.SetSink(func(d failures.Delivery) {
		s.dispatchInbound(d.SessionID, d.Payload, d.Delay)
	})

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/symbols", s.withSession(s.handleSymbols))
	mux.HandleFunc("GET /api/v1/ticker", s.withSession(s.handleTicker))
	mux.HandleFunc("GET /api/v1/prices", s.withSession(s.handlePrices))
	mux.HandleFunc("POST /api/v1/orders", s.withSession(s.handlePlaceOrder))
	mux.HandleFunc("GET /api/v1/orders/{id}", s.withSession(s.handleGetOrder))
	mux.HandleFunc("GET /api/v1/orders", s.withSession(s.handleListOrders))
	mux.HandleFunc("DELETE /api/v1/orders/{id}", s.withSession(s.handleCancelOrder))
	mux.HandleFunc("GET /api/v1/balance", s.withSession(s.handleBalance))
	mux.HandleFunc("GET /api/v1/position", s.withSession(s.handlePosition))
	mux.HandleFunc("GET /api/v1/admin/failures", s.handleFailureStats)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	s.server = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // WebSocket upgrades share this server
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// SetPublisher attaches the market-data publisher. Must be called before
// Start.
func (s *Server) SetPublisher(pub *marketdata.Publisher) { s.publisher = pub }

// Start launches the event dispatcher, the delivery scheduler, and the HTTP
// listener. Blocks in ListenAndServe until Stop.
func (s *Server) Start(ctx context.Context) error {
	go s.pipeline.Scheduler.Run(ctx)
	go s.consumeEngineEvents(ctx)

	s.logger.Info("listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// ————————————————————————————————————————————————————————————————————————
// Outbound path: frame → failure chain → scheduler/queue → socket
// ————————————————————————————————————————————————————————————————————————

// sendFrame pushes one frame to one session through the outbound chain.
func (s *Server) sendFrame(sessionID string, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error("marshal outbound frame", "error", err)
		return
	}
	for _, d := range s.pipeline.Outbound.Process(sessionID, data) {
		s.deliver(d)
	}
}

// deliver places one post-chain message on its session queue, via the
// scheduler when the chain attached a delay.
func (s *Server) deliver(d failures.Delivery) {
	if d.Delay > 0 {
		payload := d.Payload
		sessionID := d.SessionID
		s.pipeline.Scheduler.Schedule(sessionID, d.Delay, func() {
			s.enqueue(sessionID, payload)
		})
		return
	}
	s.enqueue(d.SessionID, d.Payload)
}

func (s *Server) enqueue(sessionID string, payload []byte) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return // disconnected since the message entered the chain
	}
	if !s.sessions.Enqueue(sess, payload) {
		// Queue overflow: the client cannot keep up, treat it as throttled.
		s.pipeline.ThrottleSession(sessionID)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Inbound path: socket → failure chain → router
// ————————————————————————————————————————————————————————————————————————

// processInbound runs one raw client frame through the inbound chain and
// hands the survivors to the router.
func (s *Server) processInbound(sessionID string, raw []byte) {
	for _, d := range s.pipeline.Inbound.Process(sessionID, raw) {
		s.dispatchInbound(d.SessionID, d.Payload, d.Delay)
	}
}

func (s *Server) dispatchInbound(sessionID string, payload []byte, delay time.Duration) {
	if delay > 0 {
		s.pipeline.Scheduler.Schedule(sessionID, delay, func() {
			s.router.Handle(sessionID, payload)
		})
		return
	}
	s.router.Handle(sessionID, payload)
}

// ————————————————————————————————————————————————————————————————————————
// Engine events and market data fan-out
// ————————————————————————————————————————————————————————————————————————

// consumeEngineEvents routes engine side effects to their audiences:
// ORDER_UPDATE and FILL to the owning session, TRADE to the symbol's
// TRADES subscribers and the 24h volume accumulator.
func (s *Server) consumeEngineEvents(ctx context.Context) {
	events := s.engine.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			s.routeEngineEvent(evt)
		}
	}
}

func (s *Server) routeEngineEvent(evt engine.Event) {
	switch evt.Type {
	case engine.EventOrderUpdate:
		s.sendFrame(evt.SessionID, types.WSOrderUpdate{
			Type:  types.MsgOrderUpdate,
			Order: *evt.Order,
		})

	case engine.EventFill:
		s.sendFrame(evt.SessionID, types.WSFill{
			Type:      types.MsgFill,
			OrderID:   evt.Fill.OrderID,
			Price:     evt.Fill.Price.String(),
			Quantity:  evt.Fill.Quantity.String(),
			Timestamp: evt.Fill.Timestamp,
		})

	case engine.EventTrade:
		s.publisher.AddTradeVolume(evt.Symbol, evt.Trade.Quantity)
		frame := types.WSTrade{
			Type:          types.MsgTrade,
			Symbol:        evt.Trade.Symbol,
			Price:         evt.Trade.Price.String(),
			Quantity:      evt.Trade.Quantity.String(),
			Timestamp:     evt.Trade.Timestamp,
			AggressorSide: evt.Trade.AggressorSide,
		}
		for _, sub := range s.sessions.Subscribers(types.ChannelTrades, evt.Symbol) {
			s.sendFrame(sub.ID, frame)
		}
	}
}

// PublishTick implements marketdata.Sink: fan one tick out to the channel's
// subscribers through the outbound chain.
func (s *Server) PublishTick(channel types.Channel, tick types.Tick) {
	frame := types.WSMarketData{
		Type:       types.MsgMarketData,
		Symbol:     tick.Symbol,
		SequenceID: tick.SequenceID,
		Timestamp:  tick.Timestamp,
		Price:      tick.Price.String(),
		Bid:        tick.Bid.String(),
		Ask:        tick.Ask.String(),
		Volume24h:  tick.Volume24h.String(),
	}
	for _, sub := range s.sessions.Subscribers(channel, tick.Symbol) {
		s.sendFrame(sub.ID, frame)
	}
}

// PublishBook implements marketdata.Sink for the ORDERBOOK channel.
func (s *Server) PublishBook(snap types.BookSnapshot) {
	frame := types.WSOrderBook{
		Type:      types.MsgOrderBook,
		Symbol:    snap.Symbol,
		Bids:      snap.Bids,
		Asks:      snap.Asks,
		Timestamp: snap.Timestamp,
	}
	for _, sub := range s.sessions.Subscribers(types.ChannelOrderBook, snap.Symbol) {
		s.sendFrame(sub.ID, frame)
	}
}
