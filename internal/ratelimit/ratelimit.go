// Package ratelimit implements keyed fixed-window rate limiting and failure
// lockouts for abuse-sensitive operations (login, share-password checks,
// connection starts).
//
// Windows are not sliding: a window runs its full length, then the counter
// resets in place. The rate counter and the failure counter share the
// keyspace shape but are independent of each other. All state is in-memory;
// there is no I/O.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"
)

// Options parameterizes one check. Callers own their policy; the limiter
// only counts.
type Options struct {
	Window time.Duration
	Max    int
	// Ban applies to the failure counter: once Max failures land inside
	// Window, the key locks for this long.
	Ban time.Duration
}

// Result reports one probe or increment.
type Result struct {
	OK         bool
	Locked     bool
	RetryAfter time.Duration
}

// RetryAfterSec rounds up to whole seconds for HTTP Retry-After headers.
func (r Result) RetryAfterSec() int {
	if r.RetryAfter <= 0 {
		return 0
	}
	secs := int(r.RetryAfter / time.Second)
	if r.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}

type entry struct {
	mu sync.Mutex

	count       int
	windowStart time.Time

	fails       int
	failsStart  time.Time
	lockedUntil time.Time

	lastTouched time.Time

	// gone marks an entry reaped by prune. A caller that looked the entry
	// up before the reap must discard it and fetch a live one, or its
	// increment would land on a detached counter.
	gone bool
}

// Limiter holds per-key counters. The zero value is not usable; call New.
//
// Concurrency: the outer mutex only guards the map; each key carries its own
// lock so parallel requests for different keys never serialize.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry

	ops        atomic.Uint64
	pruneEvery uint64

	now func() time.Time
}

func New() *Limiter {
	return &Limiter{
		entries:    map[string]*entry{},
		pruneEvery: 512,
		now:        time.Now,
	}
}

func (l *Limiter) get(key string) *entry {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{lastTouched: l.now()}
		l.entries[key] = e
	}
	l.mu.Unlock()

	// Amortized cleanup so long uptimes don't retain dead keys.
	if l.ops.Add(1)%l.pruneEvery == 0 {
		l.prune()
	}
	return e
}

// lock returns key's entry with its lock held. An entry reaped between the
// map lookup and the lock is retired; the loop then fetches a live one.
func (l *Limiter) lock(key string) *entry {
	for {
		e := l.get(key)
		e.mu.Lock()
		if !e.gone {
			return e
		}
		e.mu.Unlock()
	}
}

// Check increments the fixed-window counter for key and reports whether the
// call is allowed. The Max+1'th call inside a window is rejected with a
// positive RetryAfter; once the window has fully elapsed the counter resets
// to zero.
func (l *Limiter) Check(key string, opt Options) Result {
	now := l.now()
	e := l.lock(key)
	defer e.mu.Unlock()
	e.lastTouched = now

	if e.windowStart.IsZero() || now.Sub(e.windowStart) >= opt.Window {
		e.windowStart = now
		e.count = 0
	}
	e.count++
	if opt.Max > 0 && e.count > opt.Max {
		return Result{OK: false, RetryAfter: e.windowStart.Add(opt.Window).Sub(now)}
	}
	return Result{OK: true}
}

// CheckLockout is a read-only probe of whether key is currently banned.
// It never mutates counters.
func (l *Limiter) CheckLockout(key string, opt Options) Result {
	now := l.now()

	l.mu.Lock()
	e, ok := l.entries[key]
	l.mu.Unlock()
	if !ok {
		return Result{OK: true}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if now.Before(e.lockedUntil) {
		return Result{Locked: true, RetryAfter: e.lockedUntil.Sub(now)}
	}
	return Result{OK: true}
}

// RecordFailure increments the failure counter for key. When the count
// within the window reaches opt.Max, the key transitions to locked for
// opt.Ban. While locked, every call reports the remaining ban time.
func (l *Limiter) RecordFailure(key string, opt Options) Result {
	now := l.now()
	e := l.lock(key)
	defer e.mu.Unlock()
	e.lastTouched = now

	if now.Before(e.lockedUntil) {
		return Result{Locked: true, RetryAfter: e.lockedUntil.Sub(now)}
	}

	if e.failsStart.IsZero() || now.Sub(e.failsStart) >= opt.Window {
		e.failsStart = now
		e.fails = 0
	}
	e.fails++
	if opt.Max > 0 && e.fails >= opt.Max {
		e.lockedUntil = now.Add(opt.Ban)
		e.fails = 0
		e.failsStart = time.Time{}
		return Result{Locked: true, RetryAfter: opt.Ban}
	}
	return Result{OK: true}
}

// ClearFailures resets the failure counter for key, typically after a
// successful authentication. An active lockout is not lifted.
func (l *Limiter) ClearFailures(key string) {
	l.mu.Lock()
	e, ok := l.entries[key]
	l.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.fails = 0
	e.failsStart = time.Time{}
	e.mu.Unlock()
}

// prune drops entries that carry no live state anymore. An entry is dead
// when its lockout has expired and it has been idle for a while; window
// staleness is judged by lastTouched because Options live with the caller.
func (l *Limiter) prune() {
	const idle = 30 * time.Minute
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, e := range l.entries {
		e.mu.Lock()
		if now.After(e.lockedUntil) && now.Sub(e.lastTouched) >= idle {
			e.gone = true
			delete(l.entries, key)
		}
		e.mu.Unlock()
	}
}

// Len reports the number of tracked keys (introspection/tests).
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
