// Package engine implements the matching core: per-symbol order books,
// session accounts, and price-time-priority matching with atomic settlement.
//
// The engine is a serial section. Every book or account mutation happens
// under one mutex, which is what gives price-time priority a total order and
// makes each trade's double-ledger transfer atomic. Reads take the same lock
// and return copies, so nothing escapes that can be mutated outside it.
package engine

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wmartingleason/crypto-exchange-simulator/internal/config"
	"github.com/wmartingleason/crypto-exchange-simulator/pkg/types"
)

// quantityPrecision bounds how finely a market buy can be sliced when free
// quote runs out mid-sweep.
const quantityPrecision = 8

type symbolInfo struct {
	base  string
	quote string
}

// Engine owns all order books and accounts for the venue.
type Engine struct {
	mu sync.Mutex

	symbols        map[string]symbolInfo
	symbolList     []string
	books       map[string]*Book
	accounts    map[string]*Account
	orders      map[string]*types.Order
	defaults    map[string]decimal.Decimal
	noLiquidity string // "reject" | "cancel"

	arrival uint64 // monotonic admission counter for FIFO tie-breaks

	events chan Event
	logger *slog.Logger
}

// New builds an engine for the configured symbols. Symbols are fixed for the
// life of the process; sessions and accounts appear lazily.
func New(cfg config.ExchangeConfig, logger *slog.Logger) *Engine {
	symbols := make(map[string]symbolInfo, len(cfg.Symbols))
	books := make(map[string]*Book, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		parts := strings.SplitN(sym, "/", 2)
		symbols[sym] = symbolInfo{base: parts[0], quote: parts[1]}
		books[sym] = NewBook(sym)
	}

	defaults := make(map[string]decimal.Decimal, len(cfg.DefaultBalance))
	for asset, amount := range cfg.DefaultBalance {
		defaults[asset] = decimal.NewFromFloat(amount)
	}

	return &Engine{
		symbols:     symbols,
		symbolList:  append([]string(nil), cfg.Symbols...),
		books:       books,
		accounts:    make(map[string]*Account),
		orders:      make(map[string]*types.Order),
		defaults:    defaults,
		noLiquidity: cfg.MarketNoLiquidity,
		events:      make(chan Event, 1024),
		logger:      logger.With("component", "engine"),
	}
}

// Events returns the engine's outbound event stream.
func (e *Engine) Events() <-chan Event { return e.events }

// Symbols lists the tradeable pairs.
func (e *Engine) Symbols() []string { return append([]string(nil), e.symbolList...) }

// HasSymbol reports whether the pair trades on this venue.
func (e *Engine) HasSymbol(symbol string) bool {
	_, ok := e.symbols[symbol]
	return ok
}

func newID() string { return uuid.NewString() }

// account returns the session's account, creating it with default balances
// on first touch. Caller holds e.mu.
func (e *Engine) account(sessionID string) *Account {
	acct, ok := e.accounts[sessionID]
	if !ok {
		acct = newAccount(sessionID, e.defaults)
		e.accounts[sessionID] = acct
		e.logger.Info("account created", "session", sessionID)
	}
	return acct
}

// PlaceOrderRequest is the validated shape handlers hand to the engine.
type PlaceOrderRequest struct {
	Symbol      string
	Side        types.Side
	Type        types.OrderType
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	TimeInForce types.TimeInForce
}

func (e *Engine) validate(req PlaceOrderRequest) error {
	if !e.HasSymbol(req.Symbol) {
		return types.E(types.KindUnknownSymbol, "unknown symbol %q", req.Symbol)
	}
	if !req.Side.Valid() {
		return types.E(types.KindInvalidOrder, "invalid side %q", req.Side)
	}
	if !req.Type.Valid() {
		return types.E(types.KindInvalidOrder, "invalid order type %q", req.Type)
	}
	if !req.Quantity.IsPositive() {
		return types.E(types.KindInvalidOrder, "quantity must be > 0")
	}
	switch req.Type {
	case types.LIMIT:
		if !req.Price.IsPositive() {
			return types.E(types.KindInvalidOrder, "limit order requires price > 0")
		}
		if req.TimeInForce != "" && !req.TimeInForce.Valid() {
			return types.E(types.KindInvalidOrder, "invalid time_in_force %q", req.TimeInForce)
		}
	case types.MARKET:
		if !req.Price.IsZero() {
			return types.E(types.KindInvalidOrder, "market order must not carry a price")
		}
		if req.TimeInForce != "" && req.TimeInForce != types.IOC {
			return types.E(types.KindInvalidOrder, "market orders are implicitly IOC")
		}
	}
	return nil
}

// PlaceOrder validates, reserves, matches, and disposes of one order. The
// returned order is a copy reflecting its state after matching. A non-nil
// error always carries a types.Kind; if an order was admitted far enough to
// exist, it is returned alongside the error in its terminal state.
func (e *Engine) PlaceOrder(sessionID string, req PlaceOrderRequest) (*types.Order, error) {
	if err := e.validate(req); err != nil {
		return nil, err
	}

	tif := req.TimeInForce
	if req.Type == types.MARKET || tif == "" {
		if req.Type == types.MARKET {
			tif = types.IOC
		} else {
			tif = types.GTC
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	acct := e.account(sessionID)
	if acct.frozen {
		return nil, types.E(types.KindInternal, "account frozen after settlement fault")
	}

	info := e.symbols[req.Symbol]
	now := time.Now().UTC()
	e.arrival++
	order := &types.Order{
		ID:          newID(),
		SessionID:   sessionID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Type:        req.Type,
		Price:       req.Price,
		Quantity:    req.Quantity,
		TimeInForce: tif,
		Status:      types.StatusNew,
		CreatedAt:   now,
		UpdatedAt:   now,
		Sequence:    e.arrival,
	}

	// Reservation: atomic at admission. BUY MARKET reserves nothing and is
	// instead bounded by free quote during the sweep.
	var reserveAsset string
	var reserveAmount decimal.Decimal
	switch {
	case order.Side == types.BUY && order.Type == types.LIMIT:
		reserveAsset = info.quote
		reserveAmount = order.Price.Mul(order.Quantity)
	case order.Side == types.SELL:
		reserveAsset = info.base
		reserveAmount = order.Quantity
	}
	if reserveAsset != "" {
		if err := acct.lock(reserveAsset, reserveAmount); err != nil {
			return e.rejectLocked(order, err.(*types.Error))
		}
	}

	book := e.books[req.Symbol]

	// FOK feasibility is checked whole, up-front: either the entire quantity
	// is crossable right now or the order never touches the book.
	if order.Type == types.LIMIT && tif == types.FOK {
		if book.availableTo(order.Side, order.Price).LessThan(order.Quantity) {
			acct.unlock(reserveAsset, reserveAmount)
			return e.rejectLocked(order, types.E(types.KindFOKUnfillable,
				"cannot fill %s %s at %s in full", order.Quantity, order.Symbol, order.Price))
		}
	}

	stoppedByBalance := e.match(book, info, order, acct, now)

	return e.disposeLocked(book, info, order, acct, stoppedByBalance)
}

// match sweeps the opposite side while prices cross. Returns true if a BUY
// MARKET sweep stopped because the next step would overdraw free quote.
func (e *Engine) match(book *Book, info symbolInfo, taker *types.Order, takerAcct *Account, now time.Time) bool {
	opposite := book.side(taker.Side.Opposite())

	for taker.Remaining().IsPositive() {
		level := opposite.best()
		if level == nil {
			return false
		}
		if taker.Type == types.LIMIT && !crosses(taker.Side, taker.Price, level.price) {
			return false
		}

		maker := level.orders[0]
		price := level.price // maker price wins
		qty := decimal.Min(taker.Remaining(), maker.Remaining())

		// A market buy has no reservation; clamp the step to what free
		// quote can pay for at the maker's price.
		clamped := false
		if taker.Side == types.BUY && taker.Type == types.MARKET {
			free := takerAcct.Free(info.quote)
			affordable := free.Div(price).RoundDown(quantityPrecision)
			for affordable.IsPositive() && price.Mul(affordable).GreaterThan(free) {
				affordable = affordable.Sub(decimal.New(1, -quantityPrecision))
			}
			if affordable.LessThan(qty) {
				qty = affordable
				clamped = true
			}
			if !qty.IsPositive() {
				return true
			}
		}

		e.settle(info, taker, maker, price, qty)

		taker.FilledQuantity = taker.FilledQuantity.Add(qty)
		taker.UpdatedAt = now
		maker.FilledQuantity = maker.FilledQuantity.Add(qty)
		maker.UpdatedAt = now

		if maker.Remaining().IsZero() {
			maker.Status = types.StatusFilled
			opposite.dropExhausted()
		} else {
			maker.Status = types.StatusPartiallyFilled
		}

		e.emitMatch(taker.Symbol, taker, maker, price, qty, now)
		e.emitOrderUpdate(maker)

		if clamped {
			return true
		}
	}
	return false
}

// settle executes one trade's double-ledger transfer. The buyer pays
// price×qty quote, the seller delivers qty base; a resting or limit buyer
// reserved at its own limit, so the difference to the trade price is
// refunded to free quote.
func (e *Engine) settle(info symbolInfo, taker, maker *types.Order, price, qty decimal.Decimal) {
	var buyer, seller *types.Order
	if taker.Side == types.BUY {
		buyer, seller = taker, maker
	} else {
		buyer, seller = maker, taker
	}

	buyerAcct := e.account(buyer.SessionID)
	sellerAcct := e.account(seller.SessionID)

	cost := price.Mul(qty)

	if buyer.Type == types.MARKET {
		buyerAcct.debitFree(info.quote, cost)
	} else {
		if refund := buyer.Price.Sub(price).Mul(qty); refund.IsPositive() {
			buyerAcct.unlock(info.quote, refund)
		}
		buyerAcct.debitLocked(info.quote, cost)
	}
	buyerAcct.creditFree(info.base, qty)

	sellerAcct.debitLocked(info.base, qty)
	sellerAcct.creditFree(info.quote, cost)

	if buyerAcct.negative() || sellerAcct.negative() {
		// A negative balance after settlement is a fatal invariant
		// violation: freeze the affected sessions and keep the process up.
		buyerAcct.frozen = true
		sellerAcct.frozen = true
		e.logger.Error("settlement produced negative balance, freezing sessions",
			"buyer", buyer.SessionID, "seller", seller.SessionID,
			"symbol", info.base+"/"+info.quote, "price", price.String(), "qty", qty.String())
	}
}

// disposeLocked applies the post-loop disposition rules and files the order.
func (e *Engine) disposeLocked(book *Book, info symbolInfo, order *types.Order, acct *Account, stoppedByBalance bool) (*types.Order, error) {
	remaining := order.Remaining()

	switch {
	case remaining.IsZero():
		order.Status = types.StatusFilled

	case order.Type == types.MARKET:
		// A market sell reserved base up-front; give the unfilled part back
		// whatever the disposition. Market buys carry no reservation.
		e.releaseResidual(info, order, acct)
		if order.FilledQuantity.IsPositive() {
			order.Status = types.StatusCancelled
		} else if stoppedByBalance {
			return e.rejectLocked(order, types.E(types.KindInsufficientBalance,
				"free %s cannot cover any fill", info.quote))
		} else if e.noLiquidity == "cancel" {
			order.Status = types.StatusCancelled
		} else {
			return e.rejectLocked(order, types.E(types.KindInsufficientLiquidity,
				"no liquidity for %s %s", order.Side, order.Symbol))
		}

	case order.TimeInForce == types.IOC:
		e.releaseResidual(info, order, acct)
		order.Status = types.StatusCancelled

	default: // GTC with a remainder rests on the book
		book.Rest(order)
		if order.FilledQuantity.IsPositive() {
			order.Status = types.StatusPartiallyFilled
		} else {
			order.Status = types.StatusOpen
		}
	}

	order.UpdatedAt = time.Now().UTC()
	e.orders[order.ID] = order
	e.emitOrderUpdate(order)

	cp := *order
	return &cp, nil
}

// rejectLocked finalizes an order as REJECTED and files it for queries.
func (e *Engine) rejectLocked(order *types.Order, err *types.Error) (*types.Order, error) {
	order.Status = types.StatusRejected
	order.UpdatedAt = time.Now().UTC()
	e.orders[order.ID] = order
	e.emitOrderUpdate(order)
	cp := *order
	return &cp, err
}

// releaseResidual returns the unfilled part of a reservation to free.
func (e *Engine) releaseResidual(info symbolInfo, order *types.Order, acct *Account) {
	remaining := order.Remaining()
	if !remaining.IsPositive() {
		return
	}
	if order.Side == types.BUY && order.Type == types.LIMIT {
		acct.unlock(info.quote, order.Price.Mul(remaining))
	} else if order.Side == types.SELL {
		acct.unlock(info.base, remaining)
	}
}

// CancelOrder removes a resting order, releases its residual reservation,
// and marks it CANCELLED. Unknown, terminal, and foreign orders are all
// NOT_FOUND: a session cannot probe other sessions' order IDs.
func (e *Engine) CancelOrder(sessionID, orderID string) (*types.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[orderID]
	if !ok || order.SessionID != sessionID || order.Status.Terminal() {
		return nil, types.E(types.KindNotFound, "order %s not found", orderID)
	}

	book := e.books[order.Symbol]
	book.Remove(order)

	info := e.symbols[order.Symbol]
	e.releaseResidual(info, order, e.account(sessionID))

	order.Status = types.StatusCancelled
	order.UpdatedAt = time.Now().UTC()
	e.emitOrderUpdate(order)

	cp := *order
	return &cp, nil
}

// GetOrder returns one order. Foreign orders are FORBIDDEN, unknown NOT_FOUND.
func (e *Engine) GetOrder(sessionID, orderID string) (*types.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[orderID]
	if !ok {
		return nil, types.E(types.KindNotFound, "order %s not found", orderID)
	}
	if order.SessionID != sessionID {
		return nil, types.E(types.KindForbidden, "order %s belongs to another session", orderID)
	}
	cp := *order
	return &cp, nil
}

// ListOrders returns the session's orders, optionally filtered by symbol and
// status, newest first.
func (e *Engine) ListOrders(sessionID, symbol string, status types.OrderStatus) []types.Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []types.Order
	for _, order := range e.orders {
		if order.SessionID != sessionID {
			continue
		}
		if symbol != "" && order.Symbol != symbol {
			continue
		}
		if status != "" && order.Status != status {
			continue
		}
		out = append(out, *order)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence > out[j].Sequence })
	return out
}

// Balances returns a copy of the session's balances, creating the account on
// first touch.
func (e *Engine) Balances(sessionID string) map[string]types.Balance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account(sessionID).snapshotBalances()
}

// Position returns the session's holdings of a symbol's base asset.
func (e *Engine) Position(sessionID, symbol string) (string, types.Balance, error) {
	info, ok := e.symbols[symbol]
	if !ok {
		return "", types.Balance{}, types.E(types.KindUnknownSymbol, "unknown symbol %q", symbol)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	acct := e.account(sessionID)
	if b, ok := acct.Balances[info.base]; ok {
		return info.base, *b, nil
	}
	return info.base, types.Balance{}, nil
}

// BookSnapshot returns the top levels of a symbol's book.
func (e *Engine) BookSnapshot(symbol string, depth int) (types.BookSnapshot, error) {
	book, ok := e.books[symbol]
	if !ok {
		return types.BookSnapshot{}, types.E(types.KindUnknownSymbol, "unknown symbol %q", symbol)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return book.Snapshot(depth), nil
}
