package backoff

import (
	"testing"
	"time"
)

func policy() Policy {
	return Policy{
		Window:      time.Minute,
		MaxRestarts: 3,
		Curve:       Curve{Initial: time.Second, Multiplier: 2, Max: 30 * time.Second},
	}
}

func TestOnCrashBackoffCurve(t *testing.T) {
	r := New()
	p := policy()

	decision, delay := r.OnCrash(1, p)
	if decision != Restart || delay != time.Second {
		t.Fatalf("crash 1: got %v/%v, want restart/1s", decision, delay)
	}
	decision, delay = r.OnCrash(1, p)
	if decision != Restart || delay != 2*time.Second {
		t.Fatalf("crash 2: got %v/%v, want restart/2s", decision, delay)
	}
	decision, delay = r.OnCrash(1, p)
	if decision != Restart || delay != 4*time.Second {
		t.Fatalf("crash 3: got %v/%v, want restart/4s", decision, delay)
	}
	decision, _ = r.OnCrash(1, p)
	if decision != GiveUp {
		t.Fatalf("crash 4: expected give-up, got %v", decision)
	}
}

func TestOnStableResetsConsecutiveCrashes(t *testing.T) {
	r := New()
	p := policy()

	r.OnCrash(1, p) // 1000ms
	r.OnCrash(1, p) // 2000ms
	r.OnStable(1)

	_, delay := r.OnCrash(1, p)
	if delay != time.Second {
		t.Fatalf("expected fresh curve after OnStable, got %v", delay)
	}
}

func TestWindowSlidesOnlyOnCrash(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewWithClock(func() time.Time { return clock })
	p := policy()

	for i := 0; i < 3; i++ {
		if d, _ := r.OnCrash(1, p); d != Restart {
			t.Fatalf("unexpected give-up at crash %d", i+1)
		}
	}
	decision, _ := r.OnCrash(1, p)
	if decision != GiveUp {
		t.Fatalf("expected give-up after exceeding maxRestarts, got %v", decision)
	}

	// A quiescent worker never earns free budget: advancing time without a
	// crash must not reset restartsInWindow.
	clock = clock.Add(30 * time.Second)
	decision, _ = r.OnCrash(1, p)
	if decision != GiveUp {
		t.Fatalf("expected still give-up before window elapses, got %v", decision)
	}

	// Once the full window has elapsed, a new crash starts a fresh window.
	clock = clock.Add(time.Minute + time.Second)
	decision, _ = r.OnCrash(1, p)
	if decision != Restart {
		t.Fatalf("expected restart once window elapsed, got %v", decision)
	}
}

func TestGetDelay(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewWithClock(func() time.Time { return clock })
	p := policy()
	r.OnCrash(1, p)
	if d := r.GetDelay(1); d != time.Second {
		t.Fatalf("expected 1s remaining, got %v", d)
	}
	clock = clock.Add(2 * time.Second)
	if d := r.GetDelay(1); d != 0 {
		t.Fatalf("expected 0 once elapsed, got %v", d)
	}
}

func TestResetAndResetAll(t *testing.T) {
	r := New()
	p := policy()
	r.OnCrash(1, p)
	r.OnCrash(2, p)
	r.Reset(1)
	if d := r.GetDelay(1); d != 0 {
		t.Fatalf("expected reset worker to have no pending delay, got %v", d)
	}
	r.ResetAll()
	if d := r.GetDelay(2); d != 0 {
		t.Fatalf("expected ResetAll to clear all bookkeeping, got %v", d)
	}
}
