package ratelimit

import (
	"sync"
	"testing"
	"time"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter() (*Limiter, *fakeClock) {
	clk := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := New()
	l.now = clk.Now
	return l, clk
}

func TestCheckFixedWindow(t *testing.T) {
	t.Parallel()
	l, clk := newTestLimiter()
	opt := Options{Window: time.Second, Max: 3}

	for i := 1; i <= 3; i++ {
		if res := l.Check("k", opt); !res.OK {
			t.Fatalf("call %d: rejected, want allowed", i)
		}
	}
	res := l.Check("k", opt)
	if res.OK {
		t.Fatal("4th call allowed, want rejected")
	}
	if res.RetryAfterSec() <= 0 {
		t.Fatalf("RetryAfterSec = %d, want > 0", res.RetryAfterSec())
	}

	// A fully elapsed window resets the counter in place.
	clk.Advance(time.Second)
	if res := l.Check("k", opt); !res.OK {
		t.Fatal("call after window elapsed rejected, want allowed")
	}
}

func TestCheckDistinctKeys(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter()
	opt := Options{Window: time.Minute, Max: 1}

	if res := l.Check("a", opt); !res.OK {
		t.Fatal("first call on a rejected")
	}
	if res := l.Check("a", opt); res.OK {
		t.Fatal("second call on a allowed, want rejected")
	}
	if res := l.Check("b", opt); !res.OK {
		t.Fatal("call on b rejected; keys must not share counters")
	}
}

func TestLockoutPromotion(t *testing.T) {
	t.Parallel()
	l, clk := newTestLimiter()
	opt := Options{Window: time.Minute, Max: 3, Ban: 5 * time.Minute}

	for i := 1; i <= 2; i++ {
		if res := l.RecordFailure("user:1", opt); res.Locked {
			t.Fatalf("failure %d: locked early", i)
		}
	}
	res := l.RecordFailure("user:1", opt)
	if !res.Locked {
		t.Fatal("3rd failure did not lock")
	}
	if res.RetryAfter != 5*time.Minute {
		t.Fatalf("RetryAfter = %v, want 5m", res.RetryAfter)
	}

	if res := l.CheckLockout("user:1", opt); !res.Locked {
		t.Fatal("CheckLockout = unlocked during ban")
	}

	// Ban expires on its own, no explicit unlock.
	clk.Advance(5 * time.Minute)
	if res := l.CheckLockout("user:1", opt); res.Locked {
		t.Fatal("CheckLockout = locked after ban elapsed")
	}
}

func TestCheckLockoutIsReadOnly(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter()
	opt := Options{Window: time.Minute, Max: 2, Ban: time.Minute}

	for i := 0; i < 10; i++ {
		if res := l.CheckLockout("probe", opt); res.Locked {
			t.Fatal("probe locked a key without failures")
		}
	}
	// Probes must not have consumed failure budget.
	if res := l.RecordFailure("probe", opt); res.Locked {
		t.Fatal("first real failure locked the key")
	}
}

func TestClearFailuresResetsCounter(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter()
	opt := Options{Window: time.Minute, Max: 2, Ban: time.Minute}

	if res := l.RecordFailure("k", opt); res.Locked {
		t.Fatal("locked on first failure")
	}
	l.ClearFailures("k")
	if res := l.RecordFailure("k", opt); res.Locked {
		t.Fatal("locked on first failure after clear")
	}
	if res := l.RecordFailure("k", opt); !res.Locked {
		t.Fatal("not locked after reaching max")
	}
}

func TestFailureWindowIndependentOfRateWindow(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter()
	opt := Options{Window: time.Minute, Max: 2, Ban: time.Minute}

	// Exhaust the rate counter; the failure counter must be untouched.
	l.Check("k", opt)
	l.Check("k", opt)
	if res := l.Check("k", opt); res.OK {
		t.Fatal("rate counter not exhausted")
	}
	if res := l.RecordFailure("k", opt); res.Locked {
		t.Fatal("failure counter was coupled to the rate counter")
	}
}

func TestPruneDropsIdleKeysOnly(t *testing.T) {
	t.Parallel()
	l, clk := newTestLimiter()
	l.pruneEvery = 1 // prune on every access
	opt := Options{Window: time.Minute, Max: 5, Ban: 2 * time.Hour}

	l.Check("idle-a", opt)
	l.Check("idle-b", opt)
	for i := 0; i < 5; i++ {
		l.RecordFailure("banned", opt)
	}
	if got := l.Len(); got != 3 {
		t.Fatalf("Len = %d, want 3 tracked keys", got)
	}

	clk.Advance(31 * time.Minute)
	l.Check("fresh", opt)

	// The idle keys are reaped; the banned key outlives its idle period
	// because the lockout is still live state.
	if got := l.Len(); got != 2 {
		t.Fatalf("Len after prune = %d, want banned and fresh only", got)
	}
	if res := l.CheckLockout("banned", opt); !res.Locked {
		t.Fatal("prune dropped an active lockout")
	}
}

func TestCheckSurvivesPruneOfItsOwnKey(t *testing.T) {
	t.Parallel()
	l, clk := newTestLimiter()
	l.pruneEvery = 1
	opt := Options{Window: time.Minute, Max: 2}

	l.Check("k", opt)
	clk.Advance(31 * time.Minute)

	// Every access now reaps "k" as idle right after handing out its
	// entry; the increments must keep landing on the live replacement.
	if res := l.Check("k", opt); !res.OK {
		t.Fatal("first call of the new window rejected")
	}
	if res := l.Check("k", opt); !res.OK {
		t.Fatal("second call of the new window rejected")
	}
	if res := l.Check("k", opt); res.OK {
		t.Fatal("third call allowed; an increment was lost to the prune")
	}
}

func TestConcurrentSameKey(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter()
	opt := Options{Window: time.Minute, Max: 50}

	var wg sync.WaitGroup
	allowed := make([]bool, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			allowed[i] = l.Check("hot", opt).OK
		}(i)
	}
	wg.Wait()

	n := 0
	for _, ok := range allowed {
		if ok {
			n++
		}
	}
	if n != 50 {
		t.Fatalf("allowed %d calls, want exactly 50", n)
	}
}
