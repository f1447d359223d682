// Package marketdata generates and publishes the simulated market: a price
// process per symbol, a sequenced tick stream, and the rolling history that
// backs the REST backfill endpoint.
package marketdata

import (
	"math"
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/wmartingleason/crypto-exchange-simulator/internal/config"
)

// secondsPerYear converts tick intervals to the annualized dt the price
// model parameters are quoted in.
const secondsPerYear = 3.156e7

// PriceModel produces the next mid-price from the current one. The publisher
// consumes nothing else, so models are pluggable.
type PriceModel interface {
	NextPrice(current decimal.Decimal) decimal.Decimal
}

// GBM is geometric Brownian motion:
//
//	S_{t+dt} = S_t · exp((μ − σ²/2)·dt + σ·√dt·Z),  Z ∼ N(0,1)
//
// The walk runs in floating point and rounds to the symbol's price precision
// before the result crosses any boundary.
type GBM struct {
	mu        sync.Mutex
	drift     float64
	vol       float64
	dt        float64 // tick interval in years
	precision int32
	rng       *rand.Rand
}

// NewModel builds the configured price model. Unknown model types fall back
// to GBM, the only process the venue ships.
func NewModel(cfg config.PricingModelConfig, dtSeconds float64, precision int32, seed int64) PriceModel {
	return &GBM{
		drift:     cfg.Drift,
		vol:       cfg.Volatility,
		dt:        dtSeconds / secondsPerYear,
		precision: precision,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

func (g *GBM) NextPrice(current decimal.Decimal) decimal.Decimal {
	g.mu.Lock()
	z := g.rng.NormFloat64()
	g.mu.Unlock()

	s, _ := current.Float64()
	next := s * math.Exp((g.drift-0.5*g.vol*g.vol)*g.dt+g.vol*math.Sqrt(g.dt)*z)
	return decimal.NewFromFloat(next).Round(g.precision)
}
