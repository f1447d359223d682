package failures

import (
	"github.com/wmartingleason/crypto-exchange-simulator/internal/config"
)

// Pipeline bundles everything the transport layer needs: the inbound and
// outbound chains, the delivery scheduler, and the REST rate limiter.
// Strategies are instantiated per direction so their counters stay honest.
type Pipeline struct {
	Inbound   *Chain
	Outbound  *Chain
	Scheduler *Scheduler

	// RestLimiter is nil when REST rate limiting is off.
	RestLimiter *RestRateLimiter

	throttle *Throttle
	silent   *SilentConnection
	reorders []*Reorder
}

// NewPipeline assembles the configured strategies in the declared order:
// drop, delay, latency, duplicate, reorder, corrupt, then throttle on the
// inbound side and silent-connection last on the outbound side. With the
// master switch off both chains are empty pass-throughs.
func NewPipeline(cfg config.FailuresConfig) *Pipeline {
	p := &Pipeline{Scheduler: NewScheduler()}

	if !cfg.Enabled {
		p.Inbound = NewChain("inbound")
		p.Outbound = NewChain("outbound")
		return p
	}

	rng := newRand(cfg.Seed)

	build := func() []Strategy {
		var stages []Strategy
		if cfg.Modes.DropMessages.Enabled {
			stages = append(stages, NewDropMessage(cfg.Modes.DropMessages.Probability, rng))
		}
		if cfg.Modes.DelayMessages.Enabled {
			stages = append(stages, NewDelayMessage(cfg.Modes.DelayMessages.MinMs, cfg.Modes.DelayMessages.MaxMs, rng))
		}
		if cfg.Latency.Mode != "" {
			stages = append(stages, NewLatencyLink(cfg.Latency.Mode, rng))
		}
		if cfg.Modes.Duplicate.Enabled {
			stages = append(stages, NewDuplicate(cfg.Modes.Duplicate.Probability, cfg.Modes.Duplicate.MaxCopies, rng))
		}
		if cfg.Modes.Reorder.Enabled {
			reorder := NewReorder(cfg.Modes.Reorder.BufferSize, cfg.Modes.Reorder.FlushAfter, rng)
			p.reorders = append(p.reorders, reorder)
			stages = append(stages, reorder)
		}
		if cfg.Modes.Corrupt.Enabled {
			stages = append(stages, NewCorrupt(cfg.Modes.Corrupt.Probability, rng))
		}
		return stages
	}

	inbound := build()
	if cfg.Modes.Throttle.Enabled {
		p.throttle = NewThrottle(cfg.Modes.Throttle.Capacity, cfg.Modes.Throttle.RatePerSecond)
		inbound = append(inbound, p.throttle)
	}
	p.Inbound = NewChain("inbound", inbound...)

	outbound := build()
	if cfg.Modes.SilentConnection.Enabled {
		p.silent = NewSilentConnection(
			cfg.Modes.SilentConnection.AfterMessages,
			cfg.Modes.SilentConnection.ResetOnReconnect,
		)
		outbound = append(outbound, p.silent)
	}
	p.Outbound = NewChain("outbound", outbound...)

	if cfg.Modes.RateLimit.Enabled {
		p.RestLimiter = NewRestRateLimiter(
			cfg.Modes.RateLimit.RequestsPerSec,
			cfg.Modes.RateLimit.ViolationWindow,
			cfg.Modes.RateLimit.FirstPenaltySec,
			cfg.Modes.RateLimit.SecondPenaltySec,
		)
	}

	return p
}

// OnDisconnect discards a session's pending delayed and buffered messages.
// The account and open orders are untouched; resilience testing needs the
// engine to survive disconnects.
func (p *Pipeline) OnDisconnect(sessionID string) {
	p.Scheduler.DrainSession(sessionID)
	for _, r := range p.reorders {
		r.DrainSession(sessionID)
	}
}

// OnConnect resets reconnect-sensitive state where configured.
func (p *Pipeline) OnConnect(sessionID string) {
	if p.silent != nil {
		p.silent.OnReconnect(sessionID)
	}
}

// ThrottleSession empties the session's inbound token bucket, used as
// backpressure when its outbound queue overflows.
func (p *Pipeline) ThrottleSession(sessionID string) {
	if p.throttle != nil {
		p.throttle.Penalize(sessionID)
	}
}

// StrategyStats merges both directions' counters for the admin endpoint.
func (p *Pipeline) StrategyStats() map[string]map[string]Stats {
	return map[string]map[string]Stats{
		"inbound":  p.Inbound.StrategyStats(),
		"outbound": p.Outbound.StrategyStats(),
	}
}
