package marketdata

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/tomb.v2"

	"github.com/wmartingleason/crypto-exchange-simulator/internal/config"
	"github.com/wmartingleason/crypto-exchange-simulator/pkg/types"
)

// Sink receives what the publisher produces. The transport layer fans the
// payloads out to subscribers through the outbound failure chain.
type Sink interface {
	PublishTick(channel types.Channel, tick types.Tick)
	PublishBook(snapshot types.BookSnapshot)
}

// BookSource supplies depth snapshots for the ORDERBOOK channel.
type BookSource interface {
	BookSnapshot(symbol string, depth int) (types.BookSnapshot, error)
}

type volumeEntry struct {
	at  time.Time
	qty decimal.Decimal
}

// Publisher drives one ticker goroutine per symbol. Each tick advances the
// price model, stamps strictly monotonic per-(symbol, channel) sequence IDs,
// appends to the rolling history, and pushes to the sink. Sequence IDs are
// assigned here, before the outbound failure chain — whatever the chain does
// to the stream afterwards is the client's problem to detect.
type Publisher struct {
	interval time.Duration
	spread   decimal.Decimal // half-spread fraction, e.g. 0.0005 for 10 bps
	depth    int
	model    PriceModel
	history  *History
	books    BookSource
	sink     Sink
	logger   *slog.Logger

	mu      sync.Mutex
	prices  map[string]decimal.Decimal
	seqs    map[string]uint64 // keyed symbol + "|" + channel
	volumes map[string][]volumeEntry

	t *tomb.Tomb
}

// NewPublisher wires a publisher for the configured symbols.
func NewPublisher(cfg config.ExchangeConfig, model PriceModel, history *History, books BookSource, sink Sink, logger *slog.Logger) *Publisher {
	prices := make(map[string]decimal.Decimal, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		if p, ok := cfg.InitialPrices[sym]; ok {
			prices[sym] = decimal.NewFromFloat(p)
		} else {
			prices[sym] = decimal.NewFromInt(100)
		}
	}

	halfSpread := decimal.NewFromInt(int64(cfg.SpreadBps)).
		Div(decimal.NewFromInt(10000)).
		Div(decimal.NewFromInt(2))

	return &Publisher{
		interval: cfg.TickInterval,
		spread:   halfSpread,
		depth:    cfg.BookDepth,
		model:    model,
		history:  history,
		books:    books,
		sink:     sink,
		logger:   logger.With("component", "publisher"),
		prices:   prices,
		seqs:     make(map[string]uint64),
		volumes:  make(map[string][]volumeEntry),
	}
}

// Start launches the per-symbol tickers under one tomb.
func (p *Publisher) Start(ctx context.Context) {
	p.t, _ = tomb.WithContext(ctx)
	for sym := range p.prices {
		sym := sym
		p.t.Go(func() error {
			p.runSymbol(sym)
			return nil
		})
	}
	p.logger.Info("publisher started", "symbols", len(p.prices), "interval", p.interval)
}

// Stop halts all tickers and waits for them.
func (p *Publisher) Stop() {
	if p.t == nil {
		return
	}
	p.t.Kill(nil)
	_ = p.t.Wait()
}

func (p *Publisher) runSymbol(symbol string) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.t.Dying():
			return
		case <-ticker.C:
			p.tick(symbol)
		}
	}
}

// nextSeq advances the (symbol, channel) sequence. Starts at 1.
func (p *Publisher) nextSeq(symbol string, channel types.Channel) uint64 {
	key := symbol + "|" + string(channel)
	p.seqs[key]++
	return p.seqs[key]
}

func (p *Publisher) tick(symbol string) {
	now := time.Now().UTC()

	p.mu.Lock()
	mid := p.model.NextPrice(p.prices[symbol])
	p.prices[symbol] = mid

	// Trailing 24h traded volume.
	cutoff := now.Add(-24 * time.Hour)
	entries := p.volumes[symbol]
	for len(entries) > 0 && entries[0].at.Before(cutoff) {
		entries = entries[1:]
	}
	p.volumes[symbol] = entries
	volume := decimal.Zero
	for _, e := range entries {
		volume = volume.Add(e.qty)
	}

	tick := types.Tick{
		Symbol:    symbol,
		Timestamp: now,
		Price:     mid,
		Bid:       mid.Mul(decimal.NewFromInt(1).Sub(p.spread)).Round(8),
		Ask:       mid.Mul(decimal.NewFromInt(1).Add(p.spread)).Round(8),
		Volume24h: volume,
	}

	mdTick := tick
	mdTick.SequenceID = p.nextSeq(symbol, types.ChannelMarketData)
	tickerTick := tick
	tickerTick.SequenceID = p.nextSeq(symbol, types.ChannelTicker)
	p.mu.Unlock()

	// The history stores the MARKET_DATA numbering; both channels advance
	// in lockstep so the values coincide.
	p.history.Append(mdTick)

	p.sink.PublishTick(types.ChannelMarketData, mdTick)
	p.sink.PublishTick(types.ChannelTicker, tickerTick)

	if p.books != nil {
		if snap, err := p.books.BookSnapshot(symbol, p.depth); err == nil {
			p.sink.PublishBook(snap)
		}
	}
}

// AddTradeVolume folds an executed trade into the symbol's 24h volume.
func (p *Publisher) AddTradeVolume(symbol string, qty decimal.Decimal) {
	p.mu.Lock()
	p.volumes[symbol] = append(p.volumes[symbol], volumeEntry{at: time.Now().UTC(), qty: qty})
	p.mu.Unlock()
}

// LastPrice returns the current mid for a symbol, for the REST ticker.
func (p *Publisher) LastPrice(symbol string) (types.Tick, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	mid, ok := p.prices[symbol]
	if !ok {
		return types.Tick{}, false
	}
	key := symbol + "|" + string(types.ChannelMarketData)
	return types.Tick{
		Symbol:     symbol,
		SequenceID: p.seqs[key],
		Timestamp:  time.Now().UTC(),
		Price:      mid,
		Bid:        mid.Mul(decimal.NewFromInt(1).Sub(p.spread)).Round(8),
		Ask:        mid.Mul(decimal.NewFromInt(1).Add(p.spread)).Round(8),
	}, true
}
