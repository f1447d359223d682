package failures

import (
	"math"
	"time"
)

// Log-normal link presets. Delay in milliseconds is exp(μ + σZ), Z ∼ N(0,1).
// Unlike DelayMessage this models the link itself: most deliveries cluster
// near the median with a heavy right tail.
const (
	// stable: μ=3.8 σ=0.2, expected value ≈ 46 ms.
	stableMu    = 3.8
	stableSigma = 0.2
	// typical: μ=5.0 σ=0.3, expected value ≈ 155 ms.
	typicalMu    = 5.0
	typicalSigma = 0.3
)

// LatencyLink delays every message by a log-normal sample. It is applied
// independently to the inbound and outbound chains, so a round trip pays the
// link twice.
type LatencyLink struct {
	counters
	mu, sigma float64
	rng       *lockedRand
}

// NewLatencyLink creates a link for the named preset ("stable" or "typical").
func NewLatencyLink(mode string, rng *lockedRand) *LatencyLink {
	l := &LatencyLink{mu: typicalMu, sigma: typicalSigma, rng: rng}
	if mode == "stable" {
		l.mu, l.sigma = stableMu, stableSigma
	}
	return l
}

func (l *LatencyLink) Name() string { return "latency_link" }

func (l *LatencyLink) Apply(sessionID string, payload []byte) Outcome {
	l.applied.Add(1)
	l.delayed.Add(1)
	ms := math.Exp(l.mu + l.sigma*l.rng.NormFloat64())
	return Delayed(payload, time.Duration(ms*float64(time.Millisecond)))
}
