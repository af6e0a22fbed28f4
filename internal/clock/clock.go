// Package clock provides the time source and interval gating used by the
// reconciliation and refresh loops. A virtual implementation makes the
// loops backtestable and deterministic under test.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time. Loops never call time.Now directly so a
// Virtual clock can drive them.
type Clock interface {
	Now() time.Time
}

// Wall is the real-time clock.
type Wall struct{}

// Now returns the current wall time.
func (Wall) Now() time.Time { return time.Now() }

// Virtual is a manually advanced clock for backtests and tests. It is safe
// for concurrent use.
type Virtual struct {
	mu  sync.Mutex
	now time.Time
}

// NewVirtual creates a Virtual clock starting at the given time.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

// Now returns the current virtual time.
func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// Advance moves the virtual time forward by d.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = v.now.Add(d)
}

// Set jumps the virtual time to t.
func (v *Virtual) Set(t time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = t
}

// IntervalGate collapses bursts of ticks to at most one allowed tick per
// interval bucket. The bucket is the integer quotient of the timestamp by
// the interval, so gating is independent of tick granularity: two ticks in
// the same bucket yield one poll, and a long gap still yields exactly one.
type IntervalGate struct {
	lastBucket int64
}

// NewIntervalGate creates a gate with no ticks observed yet; the first call
// to Allow always passes.
func NewIntervalGate() *IntervalGate {
	return &IntervalGate{lastBucket: -1}
}

// Allow reports whether ts falls in a later interval bucket than the last
// allowed tick, and records it if so.
func (g *IntervalGate) Allow(ts time.Time, interval time.Duration) bool {
	if interval <= 0 {
		return true
	}
	bucket := ts.UnixNano() / int64(interval)
	if bucket <= g.lastBucket {
		return false
	}
	g.lastBucket = bucket
	return true
}
