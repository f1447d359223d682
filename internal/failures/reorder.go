package failures

import (
	"sync"
	"time"
)

// Reorder buffers up to bufferSize messages per session and releases them in
// a random permutation, either when the buffer fills or when a timer fires.
// Absorbed messages report Drop to the chain; the release re-enters the
// chain downstream of this stage via the emit callback.
type Reorder struct {
	counters
	bufferSize int
	flushAfter time.Duration
	rng        *lockedRand

	mu      sync.Mutex
	buffers map[string]*reorderBuffer
	emit    func(sessionID string, payloads [][]byte)
}

type reorderBuffer struct {
	payloads [][]byte
	timer    *time.Timer
}

// NewReorder creates a reordering strategy.
func NewReorder(bufferSize int, flushAfter time.Duration, rng *lockedRand) *Reorder {
	if bufferSize < 2 {
		bufferSize = 2
	}
	return &Reorder{
		bufferSize: bufferSize,
		flushAfter: flushAfter,
		rng:        rng,
		buffers:    make(map[string]*reorderBuffer),
	}
}

func (r *Reorder) Name() string { return "reorder" }

func (r *Reorder) setEmit(fn func(sessionID string, payloads [][]byte)) { r.emit = fn }

func (r *Reorder) Apply(sessionID string, payload []byte) Outcome {
	r.applied.Add(1)

	r.mu.Lock()
	buf, ok := r.buffers[sessionID]
	if !ok {
		buf = &reorderBuffer{}
		r.buffers[sessionID] = buf
	}
	buf.payloads = append(buf.payloads, payload)

	if len(buf.payloads) >= r.bufferSize {
		released := r.takeLocked(sessionID, buf)
		r.mu.Unlock()
		r.reordered.Add(uint64(len(released)))
		return Expanded(released...)
	}

	if buf.timer == nil {
		buf.timer = time.AfterFunc(r.flushAfter, func() { r.flush(sessionID) })
	}
	r.mu.Unlock()

	// Absorbed: the message leaves the chain for now and re-enters on release.
	return Dropped()
}

// takeLocked detaches and permutes the session's buffer. Caller holds r.mu.
func (r *Reorder) takeLocked(sessionID string, buf *reorderBuffer) [][]byte {
	if buf.timer != nil {
		buf.timer.Stop()
		buf.timer = nil
	}
	payloads := buf.payloads
	buf.payloads = nil
	delete(r.buffers, sessionID)

	out := make([][]byte, len(payloads))
	for i, j := range r.rng.Perm(len(payloads)) {
		out[i] = payloads[j]
	}
	return out
}

// flush releases a session's buffer on timer expiry.
func (r *Reorder) flush(sessionID string) {
	r.mu.Lock()
	buf, ok := r.buffers[sessionID]
	if !ok || len(buf.payloads) == 0 {
		r.mu.Unlock()
		return
	}
	released := r.takeLocked(sessionID, buf)
	r.mu.Unlock()

	r.reordered.Add(uint64(len(released)))
	if r.emit != nil {
		r.emit(sessionID, released)
	}
}

// DrainSession discards a disconnected session's buffered messages.
func (r *Reorder) DrainSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if buf, ok := r.buffers[sessionID]; ok {
		if buf.timer != nil {
			buf.timer.Stop()
		}
		delete(r.buffers, sessionID)
	}
}
