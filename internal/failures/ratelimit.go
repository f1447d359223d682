package failures

import (
	"sync"
	"time"
)

// RestRateLimiter enforces the REST request budget: a sliding one-second
// window per session, with escalating penalties for repeat offenders.
//
//	1st violation → 10 s mandatory wait
//	2nd violation → 60 s ban
//	3rd violation → permanent ban on that session
//
// The ladder resets only after a full violation window (default 60 s) free
// of breaches, measured from the end of the last ban — a client that starts
// bursting again the moment its ban expires keeps climbing. While a ban
// runs, every request answers 429 with the ban's remaining duration; banned
// requests do not add violations. violation_count only ever grows, so
// clients can watch it to know how deep a hole they are in.
type RestRateLimiter struct {
	budget          int
	window          time.Duration
	violationWindow time.Duration
	firstPenalty    time.Duration
	secondPenalty   time.Duration

	mu       sync.Mutex
	sessions map[string]*rateLimitState
}

type rateLimitState struct {
	requests   []time.Time // admissions inside the sliding window
	violations int         // lifetime count, non-decreasing
	strikes    int         // ladder position, reset after a clean window
	lastStrike time.Time   // end of the most recent penalty
	banUntil   time.Time
	permanent  bool
}

// Decision is the verdict for one request.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Violations int
}

// NewRestRateLimiter builds the limiter from the configured budget and
// penalty ladder.
func NewRestRateLimiter(budget, violationWindowSec, firstPenaltySec, secondPenaltySec int) *RestRateLimiter {
	return &RestRateLimiter{
		budget:          budget,
		window:          time.Second,
		violationWindow: time.Duration(violationWindowSec) * time.Second,
		firstPenalty:    time.Duration(firstPenaltySec) * time.Second,
		secondPenalty:   time.Duration(secondPenaltySec) * time.Second,
		sessions:        make(map[string]*rateLimitState),
	}
}

// Check admits or rejects one request for a session.
func (rl *RestRateLimiter) Check(sessionID string) Decision {
	return rl.checkAt(sessionID, time.Now())
}

func (rl *RestRateLimiter) checkAt(sessionID string, now time.Time) Decision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	st, ok := rl.sessions[sessionID]
	if !ok {
		st = &rateLimitState{}
		rl.sessions[sessionID] = st
	}

	if st.permanent {
		return Decision{Allowed: false, RetryAfter: rl.violationWindow, Violations: st.violations}
	}
	if now.Before(st.banUntil) {
		return Decision{
			Allowed:    false,
			RetryAfter: st.banUntil.Sub(now).Round(time.Second),
			Violations: st.violations,
		}
	}

	st.requests = pruneBefore(st.requests, now.Add(-rl.window))
	if len(st.requests) < rl.budget {
		st.requests = append(st.requests, now)
		return Decision{Allowed: true, Violations: st.violations}
	}

	// Over budget: a fresh violation. A clean window since the last
	// penalty ended forgives earlier strikes.
	if !st.lastStrike.IsZero() && now.Sub(st.lastStrike) > rl.violationWindow {
		st.strikes = 0
	}
	st.strikes++
	st.violations++

	var retry time.Duration
	switch st.strikes {
	case 1:
		retry = rl.firstPenalty
	case 2:
		retry = rl.secondPenalty
	default:
		st.permanent = true
		return Decision{Allowed: false, RetryAfter: rl.violationWindow, Violations: st.violations}
	}
	st.banUntil = now.Add(retry)
	st.lastStrike = st.banUntil

	return Decision{Allowed: false, RetryAfter: retry, Violations: st.violations}
}

// Violations reports a session's lifetime violation count.
func (rl *RestRateLimiter) Violations(sessionID string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if st, ok := rl.sessions[sessionID]; ok {
		return st.violations
	}
	return 0
}

func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	return times[i:]
}
