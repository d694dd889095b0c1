package authapi

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	// maxFailuresPerKey bounds memory for a single hammered key.
	maxFailuresPerKey = 64
	// sweepThreshold triggers a pass that drops keys with no recent failures.
	sweepThreshold = 4096
)

type lockoutTier struct {
	Threshold int
	Duration  time.Duration
}

// failureLog keeps recent login failure times per key in memory. Entries older than horizon are
// dropped lazily.
type failureLog struct {
	mu      sync.Mutex
	horizon time.Duration
	entries map[string][]time.Time
}

func newFailureLog(horizon time.Duration) *failureLog {
	return &failureLog{horizon: horizon, entries: make(map[string][]time.Time)}
}

func (l *failureLog) record(key string, now time.Time) {
	if key == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	list := append(l.pruneLocked(key, now), now)
	if len(list) > maxFailuresPerKey {
		list = list[len(list)-maxFailuresPerKey:]
	}
	l.entries[key] = list

	if len(l.entries) > sweepThreshold {
		for k := range l.entries {
			if len(l.pruneLocked(k, now)) == 0 {
				delete(l.entries, k)
			}
		}
	}
}

func (l *failureLog) recent(key string, now time.Time) []time.Time {
	if key == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	list := l.pruneLocked(key, now)
	if len(list) == 0 {
		delete(l.entries, key)
		return nil
	}
	l.entries[key] = list
	return append([]time.Time(nil), list...)
}

func (l *failureLog) reset(key string) {
	l.mu.Lock()
	delete(l.entries, key)
	l.mu.Unlock()
}

// pruneLocked returns the failures for key newer than the horizon. Entries are appended in time
// order, so the kept ones are a suffix.
func (l *failureLog) pruneLocked(key string, now time.Time) []time.Time {
	list := l.entries[key]
	cut := now.Add(-l.horizon)
	i := 0
	for i < len(list) && !list[i].After(cut) {
		i++
	}
	return list[i:]
}

// evaluateWindowThrottle blocks once max failures fall inside window. The retry delay runs until
// the oldest of them leaves the window.
func evaluateWindowThrottle(now time.Time, failures []time.Time, max int, window time.Duration) (bool, time.Duration) {
	if max <= 0 || window <= 0 {
		return false, 0
	}
	cut := now.Add(-window)
	n := 0
	var oldest time.Time
	for _, f := range failures {
		if !f.After(cut) {
			continue
		}
		n++
		if oldest.IsZero() || f.Before(oldest) {
			oldest = f
		}
	}
	if n < max {
		return false, 0
	}
	return true, oldest.Add(window).Sub(now)
}

// evaluateProgressiveLockout applies the first tier whose threshold is reached by failures inside
// its duration. The lockout lasts the tier duration from the newest failure. Tiers are expected
// most severe first.
func evaluateProgressiveLockout(now time.Time, failures []time.Time, tiers []lockoutTier) (bool, time.Duration) {
	for _, t := range tiers {
		if t.Threshold <= 0 || t.Duration <= 0 {
			continue
		}
		cut := now.Add(-t.Duration)
		n := 0
		var newest time.Time
		for _, f := range failures {
			if !f.After(cut) {
				continue
			}
			n++
			if f.After(newest) {
				newest = f
			}
		}
		if n >= t.Threshold {
			if until := newest.Add(t.Duration); until.After(now) {
				return true, until.Sub(now)
			}
		}
	}
	return false, 0
}

func (h *Handler) checkLoginIPThrottle(ip net.IP, now time.Time) (bool, time.Duration) {
	if ip == nil {
		return false, 0
	}
	return evaluateWindowThrottle(now, h.ipFailures.recent(ip.String(), now), h.cfg.LoginIPMax, h.cfg.LoginIPWindow)
}

func (h *Handler) checkLoginEmailLockout(email string, now time.Time) (bool, time.Duration) {
	return evaluateProgressiveLockout(now, h.emailFailures.recent(email, now), h.cfg.lockoutTiers())
}

func (h *Handler) recordLoginFailure(ip net.IP, email string, now time.Time) {
	if ip != nil {
		h.ipFailures.record(ip.String(), now)
	}
	h.emailFailures.record(email, now)
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
