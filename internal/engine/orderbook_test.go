package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wmartingleason/crypto-exchange-simulator/pkg/types"
)

func resting(side types.Side, price, qty string, seq uint64) *types.Order {
	return &types.Order{
		ID:        newID(),
		Symbol:    "BTC/USD",
		Side:      side,
		Type:      types.LIMIT,
		Price:     d(price),
		Quantity:  d(qty),
		Status:    types.StatusOpen,
		CreatedAt: time.Now(),
		Sequence:  seq,
	}
}

func TestBookBestIteratesCorrectly(t *testing.T) {
	t.Parallel()
	b := NewBook("BTC/USD")

	b.Rest(resting(types.BUY, "49000", "1", 1))
	b.Rest(resting(types.BUY, "50000", "1", 2))
	b.Rest(resting(types.SELL, "51000", "1", 3))
	b.Rest(resting(types.SELL, "50500", "1", 4))

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.True(t, bid.Equal(d("50000")), "highest bid on top")

	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.True(t, ask.Equal(d("50500")), "lowest ask on top")
}

func TestBookFIFOWithinLevel(t *testing.T) {
	t.Parallel()
	b := NewBook("BTC/USD")

	first := resting(types.SELL, "50000", "1", 1)
	second := resting(types.SELL, "50000", "1", 2)
	b.Rest(first)
	b.Rest(second)

	level := b.asks.best()
	require.NotNil(t, level)
	require.Len(t, level.orders, 2)
	assert.Equal(t, first.ID, level.orders[0].ID, "arrival order preserved")

	b.asks.dropExhausted()
	level = b.asks.best()
	require.NotNil(t, level)
	assert.Equal(t, second.ID, level.orders[0].ID)
}

func TestBookRemoveDrainsLevel(t *testing.T) {
	t.Parallel()
	b := NewBook("BTC/USD")

	order := resting(types.BUY, "50000", "1", 1)
	b.Rest(order)
	require.True(t, b.Remove(order))

	_, ok := b.BestBid()
	assert.False(t, ok, "empty level removed with its last order")
	assert.False(t, b.Remove(order), "second remove is a no-op")
}

func TestAvailableToRespectsLimit(t *testing.T) {
	t.Parallel()
	b := NewBook("BTC/USD")

	b.Rest(resting(types.SELL, "50000", "1", 1))
	b.Rest(resting(types.SELL, "50500", "2", 2))
	b.Rest(resting(types.SELL, "60000", "5", 3))

	assert.True(t, b.availableTo(types.BUY, d("50500")).Equal(d("3")))
	assert.True(t, b.availableTo(types.BUY, d("49000")).Equal(d("0")))
	// Zero limit = market order, the whole side counts.
	assert.True(t, b.availableTo(types.BUY, d("0")).Equal(d("8")))
}

func TestBookSnapshotDepth(t *testing.T) {
	t.Parallel()
	b := NewBook("BTC/USD")

	b.Rest(resting(types.BUY, "49000", "1", 1))
	b.Rest(resting(types.BUY, "50000", "2", 2))
	b.Rest(resting(types.BUY, "50000", "3", 3))
	b.Rest(resting(types.SELL, "51000", "4", 4))

	snap := b.Snapshot(1)
	require.Len(t, snap.Bids, 1)
	require.Len(t, snap.Asks, 1)
	assert.True(t, snap.Bids[0].Price.Equal(d("50000")))
	assert.True(t, snap.Bids[0].Quantity.Equal(d("5")), "level quantity aggregates FIFO queue")
	assert.True(t, snap.Asks[0].Quantity.Equal(d("4")))
}
