// probe is a smoke client for the simulator. It exercises the wire contracts
// end to end: health check, ticker read, one order round-trip over REST, and
// a MARKET_DATA subscription over WebSocket with sequence-gap detection —
// the same reconciliation a real client under test would run.
//
// Usage:
//
//	probe -addr localhost:8765 -symbol BTC/USD -ticks 20
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/wmartingleason/crypto-exchange-simulator/pkg/types"
)

func main() {
	addr := flag.String("addr", "localhost:8765", "simulator host:port")
	symbol := flag.String("symbol", "BTC/USD", "symbol to exercise")
	ticks := flag.Int("ticks", 20, "market-data frames to observe")
	sessionID := flag.String("session", "probe", "session ID to present")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	client := resty.New().
		SetBaseURL("http://"+*addr).
		SetTimeout(10*time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500*time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Session-ID", *sessionID)

	if err := run(client, logger, *addr, *symbol, *sessionID, *ticks); err != nil {
		logger.Error("probe failed", "error", err)
		os.Exit(1)
	}
}

func run(client *resty.Client, logger *slog.Logger, addr, symbol, sessionID string, ticks int) error {
	// Health
	resp, err := client.R().Get("/health")
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}
	logger.Info("health", "status", resp.StatusCode())

	// Ticker
	var tick types.Tick
	resp, err = client.R().
		SetQueryParam("symbol", symbol).
		SetResult(&tick).
		Get("/api/v1/ticker")
	if err != nil {
		return fmt.Errorf("ticker: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("ticker: status %d: %s", resp.StatusCode(), resp.String())
	}
	logger.Info("ticker", "symbol", symbol, "price", tick.Price, "seq", tick.SequenceID)

	// Order round-trip: place a deep-out-of-the-money bid, then cancel it.
	var order types.Order
	resp, err = client.R().
		SetBody(map[string]any{
			"symbol":     symbol,
			"side":       "BUY",
			"order_type": "LIMIT",
			"price":      tick.Price.Div(decimal.NewFromInt(2)).Round(2).String(),
			"quantity":   "0.01",
		}).
		SetResult(&order).
		Post("/api/v1/orders")
	if err != nil {
		return fmt.Errorf("place order: %w", err)
	}
	if resp.StatusCode() != http.StatusCreated {
		return fmt.Errorf("place order: status %d: %s", resp.StatusCode(), resp.String())
	}
	logger.Info("order placed", "order_id", order.ID, "status", order.Status)

	resp, err = client.R().Delete("/api/v1/orders/" + order.ID)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	logger.Info("order cancelled", "status", resp.StatusCode())

	// Market data over WebSocket with gap detection.
	return watchMarketData(logger, addr, symbol, sessionID, ticks)
}

// watchMarketData subscribes to MARKET_DATA and reports sequence anomalies.
// Gaps, duplicates, and reordering are expected under failure injection —
// the probe's job is to show they are detectable. It only counts and logs
// them; it does not backfill from the REST history.
func watchMarketData(logger *slog.Logger, addr, symbol, sessionID string, ticks int) error {
	header := http.Header{"X-Session-ID": []string{sessionID}}
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", header)
	if err != nil {
		return fmt.Errorf("dial ws: %w", err)
	}
	defer conn.Close()

	sub := types.WSRequest{Type: types.MsgSubscribe, Channel: types.ChannelMarketData, Symbol: symbol}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	var lastSeq uint64
	var gaps, dups, reorders int
	deadline := time.Now().Add(time.Duration(ticks*3) * time.Second)

	for received := 0; received < ticks; {
		conn.SetReadDeadline(deadline)
		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Warn("ws read ended early", "error", err, "received", received)
			break
		}

		var frame types.WSMarketData
		if err := json.Unmarshal(msg, &frame); err != nil || frame.Type != types.MsgMarketData {
			continue
		}
		received++

		switch {
		case lastSeq == 0 || frame.SequenceID == lastSeq+1:
		case frame.SequenceID == lastSeq:
			dups++
			logger.Warn("duplicate tick", "seq", frame.SequenceID)
		case frame.SequenceID < lastSeq:
			reorders++
			logger.Warn("out-of-order tick", "seq", frame.SequenceID, "last", lastSeq)
		default:
			gaps++
			logger.Warn("sequence gap", "from", lastSeq, "to", frame.SequenceID)
		}
		if frame.SequenceID > lastSeq {
			lastSeq = frame.SequenceID
		}
	}

	logger.Info("market data summary", "gaps", gaps, "duplicates", dups, "reorders", reorders, "last_seq", lastSeq)
	return nil
}
