package engine

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/wmartingleason/crypto-exchange-simulator/pkg/types"
)

// priceLevel is one price on one side of the book. Orders are appended on
// arrival, so the slice order is the FIFO fill order.
type priceLevel struct {
	price  decimal.Decimal
	orders []*types.Order
}

// depth sums the remaining quantity resting at this level.
func (l *priceLevel) depth() decimal.Decimal {
	total := decimal.Zero
	for _, o := range l.orders {
		total = total.Add(o.Remaining())
	}
	return total
}

// bookSide is a btree of price levels. The comparator determines iteration
// order: bids are sorted highest-first, asks lowest-first, so Min() is always
// the best level on either side.
type bookSide struct {
	levels *btree.BTreeG[*priceLevel]
}

func newBookSide(less func(a, b *priceLevel) bool) *bookSide {
	return &bookSide{levels: btree.NewBTreeG(less)}
}

// best returns the top level, or nil if the side is empty.
func (s *bookSide) best() *priceLevel {
	level, ok := s.levels.Min()
	if !ok {
		return nil
	}
	return level
}

// add appends an order to its price level, creating the level on demand.
func (s *bookSide) add(order *types.Order) {
	probe := &priceLevel{price: order.Price}
	if level, ok := s.levels.Get(probe); ok {
		level.orders = append(level.orders, order)
		return
	}
	probe.orders = []*types.Order{order}
	s.levels.Set(probe)
}

// remove deletes an order from its level, dropping the level when drained.
// Returns false if the order is not resting on this side.
func (s *bookSide) remove(order *types.Order) bool {
	level, ok := s.levels.Get(&priceLevel{price: order.Price})
	if !ok {
		return false
	}
	for i, o := range level.orders {
		if o.ID == order.ID {
			level.orders = append(level.orders[:i], level.orders[i+1:]...)
			if len(level.orders) == 0 {
				s.levels.Delete(level)
			}
			return true
		}
	}
	return false
}

// dropExhausted removes the top order of the best level once it is fully
// filled, deleting the level when it empties.
func (s *bookSide) dropExhausted() {
	level := s.best()
	if level == nil || len(level.orders) == 0 {
		return
	}
	level.orders = level.orders[1:]
	if len(level.orders) == 0 {
		s.levels.Delete(level)
	}
}

// Book is the per-symbol order book: price-sorted levels with FIFO queues.
// Book is not self-locking; the engine's serial section owns all access.
type Book struct {
	symbol string
	bids   *bookSide
	asks   *bookSide
}

// NewBook creates an empty book for one symbol.
func NewBook(symbol string) *Book {
	return &Book{
		symbol: symbol,
		// Bids iterate highest price first, asks lowest first.
		bids: newBookSide(func(a, b *priceLevel) bool { return a.price.GreaterThan(b.price) }),
		asks: newBookSide(func(a, b *priceLevel) bool { return a.price.LessThan(b.price) }),
	}
}

func (b *Book) side(s types.Side) *bookSide {
	if s == types.BUY {
		return b.bids
	}
	return b.asks
}

// BestBid returns the highest resting bid price.
func (b *Book) BestBid() (decimal.Decimal, bool) {
	level := b.bids.best()
	if level == nil {
		return decimal.Zero, false
	}
	return level.price, true
}

// BestAsk returns the lowest resting ask price.
func (b *Book) BestAsk() (decimal.Decimal, bool) {
	level := b.asks.best()
	if level == nil {
		return decimal.Zero, false
	}
	return level.price, true
}

// Rest places a limit order on its own side of the book.
func (b *Book) Rest(order *types.Order) {
	b.side(order.Side).add(order)
}

// Remove takes an order off the book (cancel path).
func (b *Book) Remove(order *types.Order) bool {
	return b.side(order.Side).remove(order)
}

// crosses reports whether an incoming limit price crosses a resting price.
func crosses(side types.Side, incoming, resting decimal.Decimal) bool {
	if side == types.BUY {
		return incoming.GreaterThanOrEqual(resting)
	}
	return incoming.LessThanOrEqual(resting)
}

// availableTo walks the opposite side and sums the quantity fillable by an
// order of the given side and limit. A zero limit means no price constraint
// (market order). Used for the FOK feasibility pre-check.
func (b *Book) availableTo(side types.Side, limit decimal.Decimal) decimal.Decimal {
	opposite := b.side(side.Opposite())
	total := decimal.Zero
	opposite.levels.Scan(func(level *priceLevel) bool {
		if !limit.IsZero() && !crosses(side, limit, level.price) {
			return false
		}
		total = total.Add(level.depth())
		return true
	})
	return total
}

// Snapshot returns the top maxLevels of both sides with aggregate quantities.
func (b *Book) Snapshot(maxLevels int) types.BookSnapshot {
	snap := types.BookSnapshot{
		Symbol:    b.symbol,
		Bids:      make([]types.BookLevel, 0, maxLevels),
		Asks:      make([]types.BookLevel, 0, maxLevels),
		Timestamp: time.Now().UTC(),
	}
	b.bids.levels.Scan(func(level *priceLevel) bool {
		snap.Bids = append(snap.Bids, types.BookLevel{Price: level.price, Quantity: level.depth()})
		return len(snap.Bids) < maxLevels
	})
	b.asks.levels.Scan(func(level *priceLevel) bool {
		snap.Asks = append(snap.Asks, types.BookLevel{Price: level.price, Quantity: level.depth()})
		return len(snap.Asks) < maxLevels
	})
	return snap
}
