package engine

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wmartingleason/crypto-exchange-simulator/internal/config"
	"github.com/wmartingleason/crypto-exchange-simulator/pkg/types"
)

func testConfig() config.ExchangeConfig {
	return config.ExchangeConfig{
		Symbols:      []string{"BTC/USD"},
		TickInterval: time.Second,
		DefaultBalance: map[string]float64{
			"USD": 100000,
			"BTC": 10,
		},
		MarketNoLiquidity: "reject",
		BookDepth:         10,
		HistorySize:       100,
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return New(testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func limit(side types.Side, price, qty string) PlaceOrderRequest {
	return PlaceOrderRequest{
		Symbol:   "BTC/USD",
		Side:     side,
		Type:     types.LIMIT,
		Price:    d(price),
		Quantity: d(qty),
	}
}

func market(side types.Side, qty string) PlaceOrderRequest {
	return PlaceOrderRequest{
		Symbol:   "BTC/USD",
		Side:     side,
		Type:     types.MARKET,
		Quantity: d(qty),
	}
}

// drainEvents empties the event channel and returns what was there.
func drainEvents(e *Engine) []Event {
	var out []Event
	for {
		select {
		case evt := <-e.Events():
			out = append(out, evt)
		default:
			return out
		}
	}
}

func requireBalance(t *testing.T, e *Engine, session, asset, free, locked string) {
	t.Helper()
	balances := e.Balances(session)
	b := balances[asset]
	assert.True(t, b.Free.Equal(d(free)), "%s/%s free = %s, want %s", session, asset, b.Free, free)
	assert.True(t, b.Locked.Equal(d(locked)), "%s/%s locked = %s, want %s", session, asset, b.Locked, locked)
}

func TestLimitMatch(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	sell, err := e.PlaceOrder("alice", limit(types.SELL, "50000", "1"))
	require.NoError(t, err)
	require.Equal(t, types.StatusOpen, sell.Status)

	buy, err := e.PlaceOrder("bob", limit(types.BUY, "50000", "1"))
	require.NoError(t, err)
	require.Equal(t, types.StatusFilled, buy.Status)

	sellAfter, err := e.GetOrder("alice", sell.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFilled, sellAfter.Status)
	assert.True(t, sellAfter.FilledQuantity.Equal(d("1")))

	requireBalance(t, e, "alice", "USD", "150000", "0")
	requireBalance(t, e, "alice", "BTC", "9", "0")
	requireBalance(t, e, "bob", "USD", "50000", "0")
	requireBalance(t, e, "bob", "BTC", "11", "0")

	var trades int
	for _, evt := range drainEvents(e) {
		if evt.Type == EventTrade {
			trades++
			assert.True(t, evt.Trade.Price.Equal(d("50000")))
			assert.True(t, evt.Trade.Quantity.Equal(d("1")))
			assert.Equal(t, types.BUY, evt.Trade.AggressorSide)
		}
	}
	assert.Equal(t, 1, trades)
}

func TestPriceImprovementRefundsTaker(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	_, err := e.PlaceOrder("alice", limit(types.SELL, "49000", "1"))
	require.NoError(t, err)

	// Buyer reserves 50000; trade executes at the maker's 49000, so 1000
	// comes back to free quote.
	buy, err := e.PlaceOrder("bob", limit(types.BUY, "50000", "1"))
	require.NoError(t, err)
	require.Equal(t, types.StatusFilled, buy.Status)

	requireBalance(t, e, "bob", "USD", "51000", "0")
	requireBalance(t, e, "bob", "BTC", "11", "0")

	for _, evt := range drainEvents(e) {
		if evt.Type == EventTrade {
			assert.True(t, evt.Trade.Price.Equal(d("49000")), "maker price wins")
		}
	}
}

func TestPartialFillRests(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.DefaultBalance["USD"] = 200000 // room to reserve 3 × 50000
	e := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := e.PlaceOrder("alice", limit(types.SELL, "50000", "2"))
	require.NoError(t, err)

	buy, err := e.PlaceOrder("bob", limit(types.BUY, "50000", "3"))
	require.NoError(t, err)
	assert.Equal(t, types.StatusPartiallyFilled, buy.Status)
	assert.True(t, buy.FilledQuantity.Equal(d("2")))
	assert.True(t, buy.Remaining().Equal(d("1")))

	// Residual 1 BTC at 50000 stays reserved.
	requireBalance(t, e, "bob", "USD", "50000", "50000")
	requireBalance(t, e, "bob", "BTC", "12", "0")

	bid, ok := e.books["BTC/USD"].BestBid()
	require.True(t, ok)
	assert.True(t, bid.Equal(d("50000")))
}

func TestFOKUnfillableRejectsWhole(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	_, err := e.PlaceOrder("alice", limit(types.SELL, "50000", "1"))
	require.NoError(t, err)

	req := limit(types.BUY, "50000", "2")
	req.TimeInForce = types.FOK
	order, err := e.PlaceOrder("bob", req)
	require.Error(t, err)
	assert.Equal(t, types.KindFOKUnfillable, types.KindOf(err))
	require.NotNil(t, order)
	assert.Equal(t, types.StatusRejected, order.Status)
	assert.True(t, order.FilledQuantity.IsZero())

	// Book unchanged, reservation fully released.
	ask, ok := e.books["BTC/USD"].BestAsk()
	require.True(t, ok)
	assert.True(t, ask.Equal(d("50000")))
	requireBalance(t, e, "bob", "USD", "100000", "0")
}

func TestFOKFillableExecutesWhole(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.DefaultBalance["USD"] = 200000 // room to reserve 2 × 50100
	e := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := e.PlaceOrder("alice", limit(types.SELL, "50000", "1"))
	require.NoError(t, err)
	_, err = e.PlaceOrder("carol", limit(types.SELL, "50100", "1"))
	require.NoError(t, err)

	req := limit(types.BUY, "50100", "2")
	req.TimeInForce = types.FOK
	order, err := e.PlaceOrder("bob", req)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFilled, order.Status)
}

func TestIOCCancelsRemainder(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	_, err := e.PlaceOrder("alice", limit(types.SELL, "50000", "1"))
	require.NoError(t, err)

	req := limit(types.BUY, "50000", "2")
	req.TimeInForce = types.IOC
	order, err := e.PlaceOrder("bob", req)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, order.Status)
	assert.True(t, order.FilledQuantity.Equal(d("1")))

	// Remainder's reservation released; nothing rests on the bid side.
	requireBalance(t, e, "bob", "USD", "50000", "0")
	_, ok := e.books["BTC/USD"].BestBid()
	assert.False(t, ok)
}

func TestPriceTimePriority(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	first, err := e.PlaceOrder("alice", limit(types.SELL, "50000", "1"))
	require.NoError(t, err)
	second, err := e.PlaceOrder("carol", limit(types.SELL, "50000", "1"))
	require.NoError(t, err)

	_, err = e.PlaceOrder("bob", limit(types.BUY, "50000", "1"))
	require.NoError(t, err)

	firstAfter, err := e.GetOrder("alice", first.ID)
	require.NoError(t, err)
	secondAfter, err := e.GetOrder("carol", second.ID)
	require.NoError(t, err)

	assert.Equal(t, types.StatusFilled, firstAfter.Status, "earlier admission fills first")
	assert.Equal(t, types.StatusOpen, secondAfter.Status)
}

func TestBetterPricedLevelFillsFirst(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	_, err := e.PlaceOrder("alice", limit(types.SELL, "50100", "1"))
	require.NoError(t, err)
	cheap, err := e.PlaceOrder("carol", limit(types.SELL, "50000", "1"))
	require.NoError(t, err)

	buy, err := e.PlaceOrder("bob", limit(types.BUY, "50200", "1"))
	require.NoError(t, err)
	require.Equal(t, types.StatusFilled, buy.Status)

	cheapAfter, err := e.GetOrder("carol", cheap.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFilled, cheapAfter.Status)
	// Taker paid the best resting price, not its own limit.
	requireBalance(t, e, "bob", "USD", "50000", "0")
}

func TestMarketBuySweepsLevels(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	_, err := e.PlaceOrder("alice", limit(types.SELL, "50000", "1"))
	require.NoError(t, err)
	_, err = e.PlaceOrder("carol", limit(types.SELL, "50100", "0.5"))
	require.NoError(t, err)

	order, err := e.PlaceOrder("bob", market(types.BUY, "1.5"))
	require.NoError(t, err)
	assert.Equal(t, types.StatusFilled, order.Status)
	requireBalance(t, e, "bob", "BTC", "11.5", "0")
	requireBalance(t, e, "bob", "USD", "24950", "0") // 100000 − 50000 − 25050
}

func TestMarketBuyNoLiquidityRejected(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	order, err := e.PlaceOrder("bob", market(types.BUY, "1"))
	require.Error(t, err)
	assert.Equal(t, types.KindInsufficientLiquidity, types.KindOf(err))
	require.NotNil(t, order)
	assert.Equal(t, types.StatusRejected, order.Status)
}

func TestMarketBuyNoLiquidityCancelledWhenConfigured(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.MarketNoLiquidity = "cancel"
	e := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	order, err := e.PlaceOrder("bob", market(types.BUY, "1"))
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, order.Status)
	assert.True(t, order.FilledQuantity.IsZero())
}

func TestMarketBuyStopsAtFreeQuote(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	// 100000 USD free covers exactly 2 BTC at 50000.
	_, err := e.PlaceOrder("alice", limit(types.SELL, "50000", "3"))
	require.NoError(t, err)

	order, err := e.PlaceOrder("bob", market(types.BUY, "3"))
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, order.Status)
	assert.True(t, order.FilledQuantity.Equal(d("2")), "filled %s", order.FilledQuantity)
	requireBalance(t, e, "bob", "USD", "0", "0")
	requireBalance(t, e, "bob", "BTC", "12", "0")
}

func TestMarketBuyNothingAffordableRejected(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.DefaultBalance["USD"] = 0
	e := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := e.PlaceOrder("alice", limit(types.SELL, "50000", "1"))
	require.NoError(t, err)

	order, err := e.PlaceOrder("bob", market(types.BUY, "1"))
	require.Error(t, err)
	assert.Equal(t, types.KindInsufficientBalance, types.KindOf(err))
	assert.Equal(t, types.StatusRejected, order.Status)
}

func TestMarketSellPartialLiquidityReleasesReservation(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	_, err := e.PlaceOrder("alice", limit(types.BUY, "50000", "1"))
	require.NoError(t, err)

	order, err := e.PlaceOrder("bob", market(types.SELL, "3"))
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, order.Status)
	assert.True(t, order.FilledQuantity.Equal(d("1")))

	// The unfilled 2 BTC of the reservation must be free again.
	requireBalance(t, e, "bob", "BTC", "9", "0")
	requireBalance(t, e, "bob", "USD", "150000", "0")
}

func TestMarketSellRequiresBase(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	_, err := e.PlaceOrder("alice", limit(types.BUY, "50000", "1"))
	require.NoError(t, err)

	// Defaults grant 10 BTC; selling 11 must fail at reservation.
	order, err := e.PlaceOrder("bob", market(types.SELL, "11"))
	require.Error(t, err)
	assert.Equal(t, types.KindInsufficientBalance, types.KindOf(err))
	assert.Equal(t, types.StatusRejected, order.Status)
	requireBalance(t, e, "bob", "BTC", "10", "0")
}

func TestInsufficientBalanceOnLimitReservation(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	// 3 × 50000 = 150000 > the default 100000 USD.
	order, err := e.PlaceOrder("bob", limit(types.BUY, "50000", "3"))
	require.Error(t, err)
	assert.Equal(t, types.KindInsufficientBalance, types.KindOf(err))
	assert.Equal(t, types.StatusRejected, order.Status)
	requireBalance(t, e, "bob", "USD", "100000", "0")
}

func TestCancelReleasesReservation(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	order, err := e.PlaceOrder("bob", limit(types.BUY, "40000", "1"))
	require.NoError(t, err)
	requireBalance(t, e, "bob", "USD", "60000", "40000")

	cancelled, err := e.CancelOrder("bob", order.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, cancelled.Status)
	requireBalance(t, e, "bob", "USD", "100000", "0")

	_, ok := e.books["BTC/USD"].BestBid()
	assert.False(t, ok)
}

func TestCancelErrors(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	order, err := e.PlaceOrder("bob", limit(types.BUY, "40000", "1"))
	require.NoError(t, err)

	// Foreign session: NOT_FOUND, not FORBIDDEN — no probing other sessions.
	_, err = e.CancelOrder("alice", order.ID)
	assert.Equal(t, types.KindNotFound, types.KindOf(err))

	_, err = e.CancelOrder("bob", "no-such-order")
	assert.Equal(t, types.KindNotFound, types.KindOf(err))

	_, err = e.CancelOrder("bob", order.ID)
	require.NoError(t, err)
	_, err = e.CancelOrder("bob", order.ID)
	assert.Equal(t, types.KindNotFound, types.KindOf(err), "already terminal")
}

func TestGetOrderForeignIsForbidden(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	order, err := e.PlaceOrder("bob", limit(types.BUY, "40000", "1"))
	require.NoError(t, err)

	_, err = e.GetOrder("alice", order.ID)
	assert.Equal(t, types.KindForbidden, types.KindOf(err))
}

func TestValidation(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	cases := []struct {
		name string
		req  PlaceOrderRequest
		kind types.Kind
	}{
		{"unknown symbol", PlaceOrderRequest{Symbol: "DOGE/USD", Side: types.BUY, Type: types.LIMIT, Price: d("1"), Quantity: d("1")}, types.KindUnknownSymbol},
		{"bad side", PlaceOrderRequest{Symbol: "BTC/USD", Side: "HOLD", Type: types.LIMIT, Price: d("1"), Quantity: d("1")}, types.KindInvalidOrder},
		{"bad type", PlaceOrderRequest{Symbol: "BTC/USD", Side: types.BUY, Type: "STOP", Price: d("1"), Quantity: d("1")}, types.KindInvalidOrder},
		{"zero quantity", limit(types.BUY, "50000", "0"), types.KindInvalidOrder},
		{"negative quantity", limit(types.BUY, "50000", "-1"), types.KindInvalidOrder},
		{"limit without price", PlaceOrderRequest{Symbol: "BTC/USD", Side: types.BUY, Type: types.LIMIT, Quantity: d("1")}, types.KindInvalidOrder},
		{"market with price", PlaceOrderRequest{Symbol: "BTC/USD", Side: types.BUY, Type: types.MARKET, Price: d("50000"), Quantity: d("1")}, types.KindInvalidOrder},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order, err := e.PlaceOrder("bob", tc.req)
			require.Error(t, err)
			assert.Nil(t, order)
			assert.Equal(t, tc.kind, types.KindOf(err))
		})
	}
}

// TestConservation checks that for each asset the sum of free+locked across
// all sessions is unchanged by any mix of placements, fills, and cancels.
func TestConservation(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	total := func(asset string) decimal.Decimal {
		sum := decimal.Zero
		for _, session := range []string{"alice", "bob"} {
			b := e.Balances(session)[asset]
			sum = sum.Add(b.Free).Add(b.Locked)
		}
		return sum
	}

	// Touch both accounts so initial grants are in.
	e.Balances("alice")
	e.Balances("bob")
	usdBefore, btcBefore := total("USD"), total("BTC")

	_, err := e.PlaceOrder("alice", limit(types.SELL, "50000", "2"))
	require.NoError(t, err)
	_, err = e.PlaceOrder("bob", limit(types.BUY, "50000", "1"))
	require.NoError(t, err)
	rest, err := e.PlaceOrder("bob", limit(types.BUY, "49000", "1"))
	require.NoError(t, err)
	_, err = e.CancelOrder("bob", rest.ID)
	require.NoError(t, err)
	_, err = e.PlaceOrder("bob", market(types.BUY, "0.5"))
	require.NoError(t, err)

	assert.True(t, total("USD").Equal(usdBefore), "USD conserved")
	assert.True(t, total("BTC").Equal(btcBefore), "BTC conserved")

	// And no balance is negative afterwards.
	for _, session := range []string{"alice", "bob"} {
		for asset, b := range e.Balances(session) {
			assert.False(t, b.Free.IsNegative(), "%s %s free", session, asset)
			assert.False(t, b.Locked.IsNegative(), "%s %s locked", session, asset)
		}
	}
}

func TestListOrdersFilters(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	_, err := e.PlaceOrder("bob", limit(types.BUY, "40000", "1"))
	require.NoError(t, err)
	cancelled, err := e.PlaceOrder("bob", limit(types.BUY, "41000", "1"))
	require.NoError(t, err)
	_, err = e.CancelOrder("bob", cancelled.ID)
	require.NoError(t, err)
	_, err = e.PlaceOrder("alice", limit(types.SELL, "60000", "1"))
	require.NoError(t, err)

	assert.Len(t, e.ListOrders("bob", "", ""), 2)
	assert.Len(t, e.ListOrders("bob", "BTC/USD", types.StatusOpen), 1)
	assert.Len(t, e.ListOrders("bob", "BTC/USD", types.StatusCancelled), 1)
	assert.Len(t, e.ListOrders("bob", "ETH/USD", ""), 0)
}

func TestPosition(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	asset, balance, err := e.Position("bob", "BTC/USD")
	require.NoError(t, err)
	assert.Equal(t, "BTC", asset)
	assert.True(t, balance.Total().Equal(d("10")))

	_, _, err = e.Position("bob", "DOGE/USD")
	assert.Equal(t, types.KindUnknownSymbol, types.KindOf(err))
}
