package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVirtualAdvanceAndSet(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	v := NewVirtual(start)

	assert.Equal(t, start, v.Now())

	v.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), v.Now())

	jump := start.Add(time.Hour)
	v.Set(jump)
	assert.Equal(t, jump, v.Now())
}

func TestIntervalGateFirstTickAllowed(t *testing.T) {
	g := NewIntervalGate()
	assert.True(t, g.Allow(time.Unix(0, 0), time.Second))
}

func TestIntervalGateCollapsesSameBucket(t *testing.T) {
	g := NewIntervalGate()
	base := time.Unix(100, 0)

	assert.True(t, g.Allow(base, 10*time.Second))
	assert.False(t, g.Allow(base.Add(time.Second), 10*time.Second), "same bucket")
	assert.False(t, g.Allow(base.Add(9*time.Second), 10*time.Second), "still same bucket")
	assert.True(t, g.Allow(base.Add(10*time.Second), 10*time.Second), "next bucket")
}

func TestIntervalGateLongGapSinglePoll(t *testing.T) {
	g := NewIntervalGate()
	base := time.Unix(100, 0)

	assert.True(t, g.Allow(base, time.Second))
	assert.True(t, g.Allow(base.Add(time.Hour), time.Second))
	assert.False(t, g.Allow(base.Add(time.Hour), time.Second), "gap does not bank extra polls")
}

func TestIntervalGateZeroIntervalAlwaysAllows(t *testing.T) {
	g := NewIntervalGate()
	ts := time.Unix(100, 0)
	assert.True(t, g.Allow(ts, 0))
	assert.True(t, g.Allow(ts, 0))
}

func TestIntervalGateIntervalSwitchUsesNewBuckets(t *testing.T) {
	g := NewIntervalGate()
	base := time.Unix(1000, 0)

	assert.True(t, g.Allow(base, 120*time.Second))
	// Switching to a shorter interval produces larger bucket numbers for the
	// same timestamp, so the next tick passes immediately.
	assert.True(t, g.Allow(base.Add(5*time.Second), 5*time.Second))
}
