package failures

// Duplicate emits extra copies of a message with probability p. The copy
// count is drawn uniformly from [2, maxCopies]; downstream stages apply
// independently to every copy, so duplicates can diverge (one delayed, one
// dropped).
type Duplicate struct {
	counters
	p         float64
	maxCopies int
	rng       *lockedRand
}

// NewDuplicate creates a duplication strategy.
func NewDuplicate(p float64, maxCopies int, rng *lockedRand) *Duplicate {
	if maxCopies < 2 {
		maxCopies = 2
	}
	return &Duplicate{p: p, maxCopies: maxCopies, rng: rng}
}

func (d *Duplicate) Name() string { return "duplicate" }

func (d *Duplicate) Apply(sessionID string, payload []byte) Outcome {
	d.applied.Add(1)
	if d.rng.Float64() >= d.p {
		d.passed.Add(1)
		return Pass(payload)
	}
	copies := 2
	if d.maxCopies > 2 {
		copies += d.rng.Intn(d.maxCopies - 1)
	}
	d.duplicated.Add(uint64(copies - 1))
	payloads := make([][]byte, copies)
	for i := range payloads {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		payloads[i] = cp
	}
	return Expanded(payloads...)
}
