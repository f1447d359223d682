package failures

import (
	"math/rand"
	"sync"
	"time"
)

// lockedRand wraps math/rand for concurrent use by the strategies. One
// seeded source is shared by the whole pipeline so a run is reproducible
// when failures.seed is set.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// newRand creates the pipeline's randomness source. A zero seed derives one
// from the clock.
func newRand(seed int64) *lockedRand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

func (l *lockedRand) NormFloat64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.NormFloat64()
}

func (l *lockedRand) Perm(n int) []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Perm(n)
}
