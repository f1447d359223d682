package failures

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSchedulerFiresInReleaseOrder(t *testing.T) {
	t.Parallel()
	s := NewScheduler()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	var mu sync.Mutex
	var fired []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			fired = append(fired, name)
			mu.Unlock()
		}
	}

	// Scheduled out of order; must fire by release time.
	s.Schedule("s", 60*time.Millisecond, record("late"))
	s.Schedule("s", 20*time.Millisecond, record("early"))
	s.Schedule("s", 40*time.Millisecond, record("mid"))

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 3 {
		t.Fatalf("fired %d entries, want 3", len(fired))
	}
	want := []string{"early", "mid", "late"}
	for i, name := range want {
		if fired[i] != name {
			t.Errorf("fired[%d] = %q, want %q", i, fired[i], name)
		}
	}
}

func TestSchedulerDrainSessionDiscardsPending(t *testing.T) {
	t.Parallel()
	s := NewScheduler()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	var mu sync.Mutex
	firedA, firedB := 0, 0

	s.Schedule("a", 50*time.Millisecond, func() { mu.Lock(); firedA++; mu.Unlock() })
	s.Schedule("b", 50*time.Millisecond, func() { mu.Lock(); firedB++; mu.Unlock() })

	// Session a disconnects before its entry is due.
	s.DrainSession("a")

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if firedA != 0 {
		t.Error("drained session's entry still fired")
	}
	if firedB != 1 {
		t.Error("draining a must not touch b's entries")
	}
}

func TestSchedulerEntriesAfterDrainStillFire(t *testing.T) {
	t.Parallel()
	s := NewScheduler()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.DrainSession("a")

	done := make(chan struct{})
	s.Schedule("a", 10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("entry scheduled after a drain (reconnect) never fired")
	}
}
