// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the simulator — order and trade
// representations, account balances, market-data ticks, and the JSON frames
// spoken over the WebSocket. It has no dependencies on internal packages, so
// it can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Valid reports whether the side is one of the two known values.
func (s Side) Valid() bool { return s == BUY || s == SELL }

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == BUY {
		return SELL
	}
	return BUY
}

// OrderType enumerates the supported order kinds.
type OrderType string

const (
	LIMIT  OrderType = "LIMIT"
	MARKET OrderType = "MARKET"
)

// Valid reports whether the order type is known.
func (t OrderType) Valid() bool { return t == LIMIT || t == MARKET }

// TimeInForce controls how long a LIMIT order stays live.
// MARKET orders are implicitly IOC.
type TimeInForce string

const (
	GTC TimeInForce = "GTC" // rest on the book until filled or cancelled
	IOC TimeInForce = "IOC" // fill what crosses now, cancel the remainder
	FOK TimeInForce = "FOK" // fill entirely up-front or reject whole
)

// Valid reports whether the time-in-force is known.
func (t TimeInForce) Valid() bool { return t == GTC || t == IOC || t == FOK }

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusOpen            OrderStatus = "OPEN"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether the status is final. Terminal orders remain
// queryable but are never mutated again.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// Channel identifies a market-data subscription stream.
type Channel string

const (
	ChannelTrades     Channel = "TRADES"
	ChannelTicker     Channel = "TICKER"
	ChannelOrderBook  Channel = "ORDERBOOK"
	ChannelMarketData Channel = "MARKET_DATA"
)

// Valid reports whether the channel is one of the subscribable streams.
func (c Channel) Valid() bool {
	switch c {
	case ChannelTrades, ChannelTicker, ChannelOrderBook, ChannelMarketData:
		return true
	}
	return false
}

// ————————————————————————————————————————————————————————————————————————
// Orders and trades
// ————————————————————————————————————————————————————————————————————————

// Order is the engine's representation of a single order. Price and quantity
// are exact decimals; Sequence is the monotonic arrival counter used for FIFO
// tie-breaks within a price level.
type Order struct {
	ID             string          `json:"order_id"`
	SessionID      string          `json:"session_id"`
	Symbol         string          `json:"symbol"`
	Side           Side            `json:"side"`
	Type           OrderType       `json:"type"`
	Price          decimal.Decimal `json:"price"` // zero for MARKET
	Quantity       decimal.Decimal `json:"quantity"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	TimeInForce    TimeInForce     `json:"time_in_force"`
	Status         OrderStatus     `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Sequence       uint64          `json:"sequence"`
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Trade is one matched pair at a single price. TakerOrderID identifies the
// aggressor, MakerOrderID the resting order whose price set the trade price.
// Only the anonymous fields are serialized on the public TRADES channel.
type Trade struct {
	ID            string          `json:"trade_id"`
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
	TakerOrderID  string          `json:"-"`
	MakerOrderID  string          `json:"-"`
	AggressorSide Side            `json:"aggressor_side"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Balance is one asset's holdings for a session. Free moves to Locked when an
// order reserves it; settlement debits Locked and credits the counter asset.
type Balance struct {
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

// Total returns free + locked.
func (b Balance) Total() decimal.Decimal { return b.Free.Add(b.Locked) }

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

// Tick is one market-data observation for a symbol. SequenceID is strictly
// monotonic per (symbol, channel), starting at 1, assigned before the
// outbound failure chain.
type Tick struct {
	Symbol     string          `json:"symbol"`
	SequenceID uint64          `json:"sequence_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Price      decimal.Decimal `json:"price"`
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`
	Volume24h  decimal.Decimal `json:"volume_24h"`
}

// BookLevel is one aggregated price level of a depth snapshot.
type BookLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// BookSnapshot is a point-in-time top-N view of one symbol's book.
type BookSnapshot struct {
	Symbol    string      `json:"symbol"`
	Bids      []BookLevel `json:"bids"` // best (highest) first
	Asks      []BookLevel `json:"asks"` // best (lowest) first
	Timestamp time.Time   `json:"timestamp"`
}
