package failures

// DropMessage discards each message independently with probability p.
type DropMessage struct {
	counters
	p   float64
	rng *lockedRand
}

// NewDropMessage creates a Bernoulli drop strategy.
func NewDropMessage(p float64, rng *lockedRand) *DropMessage {
	return &DropMessage{p: p, rng: rng}
}

func (d *DropMessage) Name() string { return "drop_messages" }

func (d *DropMessage) Apply(sessionID string, payload []byte) Outcome {
	d.applied.Add(1)
	if d.rng.Float64() < d.p {
		d.dropped.Add(1)
		return Dropped()
	}
	d.passed.Add(1)
	return Pass(payload)
}
