// Package failures implements the failure-injection pipeline: an ordered
// chain of pluggable strategies applied to every message on the inbound and
// outbound paths.
//
// Each strategy implements one uniform transform on a raw payload: drop it,
// pass it (possibly mutated), expand it into several copies, or hold it for
// later delivery. The chain is linearisable per session — stage k sees the
// output of stage k−1, drops short-circuit the rest, and expanded messages
// run through the remaining stages independently.
//
// Injected drops, duplicates, and corruptions are not errors. They are the
// product: client systems under test must survive them.
package failures

import (
	"sync"
	"time"
)

// Outcome is the result of applying one strategy to one message.
type Outcome struct {
	Drop     bool
	Delay    time.Duration
	Payloads [][]byte
}

// Pass forwards the payload unchanged (or mutated in place).
func Pass(payload []byte) Outcome { return Outcome{Payloads: [][]byte{payload}} }

// Dropped discards the message and short-circuits the chain.
func Dropped() Outcome { return Outcome{Drop: true} }

// Expanded forwards several messages in place of one.
func Expanded(payloads ...[]byte) Outcome { return Outcome{Payloads: payloads} }

// Delayed forwards the payload after the given delay.
func Delayed(payload []byte, d time.Duration) Outcome {
	return Outcome{Payloads: [][]byte{payload}, Delay: d}
}

// Strategy is one pluggable transform. Implementations are per-session
// stateful where the behavior requires it (throttle, silent connection) and
// stateless otherwise; all must be safe for concurrent sessions.
type Strategy interface {
	Name() string
	Apply(sessionID string, payload []byte) Outcome
	Stats() Stats
}

// Delivery is one message leaving the chain: send Payload to SessionID after
// Delay (zero means immediately).
type Delivery struct {
	SessionID string
	Payload   []byte
	Delay     time.Duration
}

// asyncEmitter is implemented by strategies that hold messages back and
// release them later on their own (Reorder's timer flush). The chain wires
// emit so released messages continue through the stages downstream of the
// emitting one.
type asyncEmitter interface {
	setEmit(func(sessionID string, payloads [][]byte))
}

// Chain applies strategies in declared order.
type Chain struct {
	name   string
	stages []Strategy

	mu   sync.RWMutex
	sink func(Delivery)
}

// NewChain composes strategies in the given order.
func NewChain(name string, stages ...Strategy) *Chain {
	c := &Chain{name: name, stages: stages}
	for i, s := range stages {
		if emitter, ok := s.(asyncEmitter); ok {
			idx := i
			emitter.setEmit(func(sessionID string, payloads [][]byte) {
				c.injectAfter(idx, sessionID, payloads)
			})
		}
	}
	return c
}

// Name returns the chain's label ("inbound" / "outbound").
func (c *Chain) Name() string { return c.name }

// SetSink registers the delivery function used for asynchronously released
// messages. Must be set before traffic flows if any buffering strategy is in
// the chain.
func (c *Chain) SetSink(fn func(Delivery)) {
	c.mu.Lock()
	c.sink = fn
	c.mu.Unlock()
}

// Process runs one message through every stage and returns the surviving
// deliveries with their accumulated delays. An empty slice means the message
// was dropped (or absorbed by a buffering stage for later release).
func (c *Chain) Process(sessionID string, payload []byte) []Delivery {
	return c.processFrom(0, sessionID, payload, 0)
}

func (c *Chain) processFrom(start int, sessionID string, payload []byte, delay time.Duration) []Delivery {
	items := []Delivery{{SessionID: sessionID, Payload: payload, Delay: delay}}
	for i := start; i < len(c.stages); i++ {
		stage := c.stages[i]
		next := items[:0:0]
		for _, item := range items {
			out := stage.Apply(sessionID, item.Payload)
			if out.Drop {
				continue
			}
			for _, p := range out.Payloads {
				next = append(next, Delivery{
					SessionID: sessionID,
					Payload:   p,
					Delay:     item.Delay + out.Delay,
				})
			}
		}
		items = next
		if len(items) == 0 {
			return nil
		}
	}
	return items
}

// injectAfter feeds asynchronously released messages through the stages
// downstream of the releasing one and hands the results to the sink.
func (c *Chain) injectAfter(stageIdx int, sessionID string, payloads [][]byte) {
	c.mu.RLock()
	sink := c.sink
	c.mu.RUnlock()
	if sink == nil {
		return
	}
	for _, p := range payloads {
		for _, d := range c.processFrom(stageIdx+1, sessionID, p, 0) {
			sink(d)
		}
	}
}

// StrategyStats returns per-strategy counters keyed by strategy name.
func (c *Chain) StrategyStats() map[string]Stats {
	out := make(map[string]Stats, len(c.stages))
	for _, s := range c.stages {
		out[s.Name()] = s.Stats()
	}
	return out
}
