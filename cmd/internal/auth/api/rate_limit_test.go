package authapi

import (
	"testing"
	"time"
)

func TestEvaluateWindowThrottle(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)

	failures := []time.Time{
		now.Add(-1 * time.Minute),
		now.Add(-2 * time.Minute),
		now.Add(-6 * time.Minute),
	}

	blocked, retry := evaluateWindowThrottle(now, failures, 2, 5*time.Minute)
	if !blocked {
		t.Fatalf("expected window throttle to block")
	}
	if retry != 3*time.Minute {
		t.Fatalf("expected retry=3m, got %v", retry)
	}

	blocked, retry = evaluateWindowThrottle(now, failures, 3, 5*time.Minute)
	if blocked {
		t.Fatalf("expected window throttle to allow")
	}
	if retry != 0 {
		t.Fatalf("expected retry=0, got %v", retry)
	}
}

func TestEvaluateProgressiveLockout_ShortTier(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	failures := []time.Time{
		now.Add(-30 * time.Second),
		now.Add(-1 * time.Minute),
		now.Add(-2 * time.Minute),
		now.Add(-3 * time.Minute),
		now.Add(-4 * time.Minute),
	}

	blocked, retry := evaluateProgressiveLockout(now, failures, []lockoutTier{
		{Threshold: 20, Duration: 2 * time.Hour},
		{Threshold: 10, Duration: 30 * time.Minute},
		{Threshold: 5, Duration: 5 * time.Minute},
	})
	if !blocked {
		t.Fatalf("expected short-tier lockout")
	}
	if retry != 4*time.Minute+30*time.Second {
		t.Fatalf("unexpected retry duration: %v", retry)
	}
}

func TestEvaluateProgressiveLockout_ClearsAfterDuration(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	failures := []time.Time{
		now.Add(-6 * time.Minute),
		now.Add(-7 * time.Minute),
		now.Add(-8 * time.Minute),
		now.Add(-9 * time.Minute),
		now.Add(-10 * time.Minute),
	}

	blocked, retry := evaluateProgressiveLockout(now, failures, []lockoutTier{
		{Threshold: 5, Duration: 5 * time.Minute},
	})
	if blocked {
		t.Fatalf("expected lockout to clear, retry=%v", retry)
	}
	if retry != 0 {
		t.Fatalf("expected retry=0, got %v", retry)
	}
}

func TestEvaluateProgressiveLockout_SevereTierWins(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	failures := make([]time.Time, 0, 20)
	for i := 0; i < 20; i++ {
		failures = append(failures, now.Add(-time.Duration(i+1)*time.Minute))
	}

	blocked, retry := evaluateProgressiveLockout(now, failures, []lockoutTier{
		{Threshold: 20, Duration: 2 * time.Hour},
		{Threshold: 10, Duration: 30 * time.Minute},
		{Threshold: 5, Duration: 5 * time.Minute},
	})
	if !blocked {
		t.Fatalf("expected severe-tier lockout")
	}

	want := failures[0].Add(2 * time.Hour).Sub(now)
	if retry != want {
		t.Fatalf("expected retry=%v, got %v", want, retry)
	}
}

func TestFailureLog_PrunesAndResets(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	l := newFailureLog(10 * time.Minute)

	l.record("a@example.com", now.Add(-15*time.Minute))
	l.record("a@example.com", now.Add(-5*time.Minute))
	l.record("a@example.com", now.Add(-1*time.Minute))
	l.record("", now)

	got := l.recent("a@example.com", now)
	if len(got) != 2 {
		t.Fatalf("expected 2 recent failures, got %d", len(got))
	}

	l.reset("a@example.com")
	if got := l.recent("a@example.com", now); got != nil {
		t.Fatalf("expected no failures after reset, got %v", got)
	}
	if len(l.entries) != 0 {
		t.Fatalf("expected empty map, got %d keys", len(l.entries))
	}
}

func TestFailureLog_CapsPerKey(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	l := newFailureLog(time.Hour)
	for i := 0; i < maxFailuresPerKey+10; i++ {
		l.record("ip", now.Add(time.Duration(i)*time.Second))
	}
	got := l.recent("ip", now.Add(2*time.Minute))
	if len(got) != maxFailuresPerKey {
		t.Fatalf("expected %d entries, got %d", maxFailuresPerKey, len(got))
	}
	if !got[len(got)-1].Equal(now.Add(time.Duration(maxFailuresPerKey+9) * time.Second)) {
		t.Fatalf("newest entry dropped")
	}
}
