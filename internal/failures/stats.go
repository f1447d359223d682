package failures

import "sync/atomic"

// Stats is a point-in-time copy of one strategy's counters, surfaced on the
// admin endpoint.
type Stats struct {
	Applied    uint64 `json:"applied"`
	Passed     uint64 `json:"passed"`
	Dropped    uint64 `json:"dropped"`
	Delayed    uint64 `json:"delayed"`
	Duplicated uint64 `json:"duplicated"`
	Corrupted  uint64 `json:"corrupted"`
	Reordered  uint64 `json:"reordered"`
}

// counters is the mutable atomic backing embedded by every strategy.
type counters struct {
	applied    atomic.Uint64
	passed     atomic.Uint64
	dropped    atomic.Uint64
	delayed    atomic.Uint64
	duplicated atomic.Uint64
	corrupted  atomic.Uint64
	reordered  atomic.Uint64
}

func (c *counters) Stats() Stats {
	return Stats{
		Applied:    c.applied.Load(),
		Passed:     c.passed.Load(),
		Dropped:    c.dropped.Load(),
		Delayed:    c.delayed.Load(),
		Duplicated: c.duplicated.Load(),
		Corrupted:  c.corrupted.Load(),
		Reordered:  c.reordered.Load(),
	}
}
