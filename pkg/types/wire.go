package types

import "time"

// These structs map 1:1 to the JSON frames spoken over /ws. Every frame
// carries a "type" discriminator; the router dispatches inbound frames on it.

// Inbound frame types (client → server).
const (
	MsgPlaceOrder  = "PLACE_ORDER"
	MsgCancelOrder = "CANCEL_ORDER"
	MsgQueryOrder  = "QUERY_ORDER"
	MsgSubscribe   = "SUBSCRIBE"
	MsgUnsubscribe = "UNSUBSCRIBE"
	MsgPing        = "PING"
)

// Outbound frame types (server → client).
const (
	MsgPong        = "PONG"
	MsgOrderUpdate = "ORDER_UPDATE"
	MsgFill        = "FILL"
	MsgMarketData  = "MARKET_DATA"
	MsgTrade       = "TRADE"
	MsgOrderBook   = "ORDERBOOK"
	MsgError       = "ERROR"
)

// WSRequest is the union of all client → server frames. Fields irrelevant to
// a given type are left empty; the router validates per type.
type WSRequest struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`

	// PLACE_ORDER
	Symbol      string      `json:"symbol,omitempty"`
	Side        Side        `json:"side,omitempty"`
	OrderType   OrderType   `json:"order_type,omitempty"`
	Price       string      `json:"price,omitempty"`
	Quantity    string      `json:"quantity,omitempty"`
	TimeInForce TimeInForce `json:"time_in_force,omitempty"`

	// CANCEL_ORDER / QUERY_ORDER
	OrderID string `json:"order_id,omitempty"`

	// SUBSCRIBE / UNSUBSCRIBE
	Channel Channel `json:"channel,omitempty"`
}

// WSPong answers a PING, echoing its request_id.
type WSPong struct {
	Type      string `json:"type"` // "PONG"
	RequestID string `json:"request_id,omitempty"`
}

// WSOrderUpdate notifies the owning session of any order status change.
type WSOrderUpdate struct {
	Type  string `json:"type"` // "ORDER_UPDATE"
	Order Order  `json:"order"`
}

// WSFill notifies the owning session of one fill on one of its orders.
type WSFill struct {
	Type      string    `json:"type"` // "FILL"
	OrderID   string    `json:"order_id"`
	Price     string    `json:"price"`
	Quantity  string    `json:"quantity"`
	Timestamp time.Time `json:"timestamp"`
}

// WSMarketData carries one tick on the MARKET_DATA or TICKER channel.
type WSMarketData struct {
	Type       string    `json:"type"` // "MARKET_DATA"
	Symbol     string    `json:"symbol"`
	SequenceID uint64    `json:"sequence_id"`
	Timestamp  time.Time `json:"timestamp"`
	Price      string    `json:"price"`
	Bid        string    `json:"bid"`
	Ask        string    `json:"ask"`
	Volume24h  string    `json:"volume_24h"`
}

// WSTrade is the anonymous public trade event on the TRADES channel.
type WSTrade struct {
	Type          string    `json:"type"` // "TRADE"
	Symbol        string    `json:"symbol"`
	Price         string    `json:"price"`
	Quantity      string    `json:"quantity"`
	Timestamp     time.Time `json:"timestamp"`
	AggressorSide Side      `json:"aggressor_side"`
}

// WSOrderBook is a depth snapshot on the ORDERBOOK channel.
type WSOrderBook struct {
	Type      string      `json:"type"` // "ORDERBOOK"
	Symbol    string      `json:"symbol"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Timestamp time.Time   `json:"timestamp"`
}

// WSError reports a request failure. RequestID is echoed when the offending
// frame carried one.
type WSError struct {
	Type      string `json:"type"` // "ERROR"
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}
