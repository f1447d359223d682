package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/wmartingleason/crypto-exchange-simulator/pkg/types"
)

// EventType discriminates engine events on the outbound stream.
type EventType string

const (
	EventOrderUpdate EventType = "ORDER_UPDATE"
	EventFill        EventType = "FILL"
	EventTrade       EventType = "TRADE"
)

// Fill is one side's view of a match, addressed to the owning session.
type Fill struct {
	SessionID string
	OrderID   string
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Timestamp time.Time
}

// Event is one observable side effect of an engine operation. ORDER_UPDATE
// and FILL events carry a SessionID and are delivered to that session's
// outbound stream; TRADE events are public and fan out to the symbol's
// TRADES channel subscribers.
type Event struct {
	Type      EventType
	SessionID string // empty for public TRADE events
	Symbol    string
	Order     *types.Order
	Fill      *Fill
	Trade     *types.Trade
}

// emit pushes an event without blocking the serial section. If the consumer
// falls behind the event is dropped with a warning; engine state is already
// consistent at this point.
func (e *Engine) emit(evt Event) {
	select {
	case e.events <- evt:
	default:
		e.logger.Warn("event channel full, dropping event", "type", evt.Type, "symbol", evt.Symbol)
	}
}

func (e *Engine) emitOrderUpdate(order *types.Order) {
	cp := *order
	e.emit(Event{
		Type:      EventOrderUpdate,
		SessionID: order.SessionID,
		Symbol:    order.Symbol,
		Order:     &cp,
	})
}

func (e *Engine) emitMatch(symbol string, taker, maker *types.Order, price, qty decimal.Decimal, ts time.Time) {
	for _, o := range []*types.Order{taker, maker} {
		e.emit(Event{
			Type:      EventFill,
			SessionID: o.SessionID,
			Symbol:    symbol,
			Fill: &Fill{
				SessionID: o.SessionID,
				OrderID:   o.ID,
				Price:     price,
				Quantity:  qty,
				Timestamp: ts,
			},
		})
	}
	e.emit(Event{
		Type:   EventTrade,
		Symbol: symbol,
		Trade: &types.Trade{
			ID:            newID(),
			Symbol:        symbol,
			Price:         price,
			Quantity:      qty,
			TakerOrderID:  taker.ID,
			MakerOrderID:  maker.ID,
			AggressorSide: taker.Side,
			Timestamp:     ts,
		},
	})
}
