package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(threshold int, reset time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return New(threshold, reset, WithClock(clock.Now)), clock
}

func TestOpensAfterThresholdFailures(t *testing.T) {
	b, _ := newTestBreaker(5, 30*time.Second)

	for i := 0; i < 4; i++ {
		require.True(t, b.Allow())
		b.RecordFailure()
	}
	require.Equal(t, Closed, b.State())

	require.True(t, b.Allow())
	b.RecordFailure()
	require.Equal(t, Open, b.State())
	require.False(t, b.Allow())
}

func TestSuccessResetsCounter(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	require.Equal(t, Closed, b.State())

	b.RecordFailure()
	require.Equal(t, Open, b.State())
}

func TestHalfOpenAdmitsSingleProbe(t *testing.T) {
	b, clock := newTestBreaker(1, 30*time.Second)
	b.RecordFailure()
	require.Equal(t, Open, b.State())
	require.False(t, b.Allow())

	clock.Advance(30 * time.Second)
	require.True(t, b.Allow())
	require.Equal(t, HalfOpen, b.State())
	// Only the first request after the cooldown is a probe.
	require.False(t, b.Allow())
}

func TestHalfOpenProbeSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker(1, 30*time.Second)
	b.RecordFailure()
	clock.Advance(31 * time.Second)
	require.True(t, b.Allow())

	b.RecordSuccess()
	require.Equal(t, Closed, b.State())
	require.True(t, b.Allow())

	// Counter is back at zero: a single failure below the threshold keeps
	// the breaker closed.
	b2, clock2 := newTestBreaker(2, 30*time.Second)
	b2.RecordFailure()
	b2.RecordFailure()
	clock2.Advance(31 * time.Second)
	require.True(t, b2.Allow())
	b2.RecordSuccess()
	b2.RecordFailure()
	require.Equal(t, Closed, b2.State())
}

func TestHalfOpenProbeFailureReopensAndRestartsTimer(t *testing.T) {
	b, clock := newTestBreaker(1, 30*time.Second)
	b.RecordFailure()
	clock.Advance(31 * time.Second)
	require.True(t, b.Allow())

	b.RecordFailure()
	require.Equal(t, Open, b.State())

	// The timer restarted at the probe failure, not the original opening.
	clock.Advance(29 * time.Second)
	require.False(t, b.Allow())
	clock.Advance(2 * time.Second)
	require.True(t, b.Allow())
}

func TestStateChangeHook(t *testing.T) {
	var seen []State
	b := New(1, time.Minute, WithStateChange(func(s State) { seen = append(seen, s) }))
	b.RecordFailure()
	b.RecordSuccess()
	require.Equal(t, []State{Open, Closed}, seen)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "closed", Closed.String())
	require.Equal(t, "open", Open.String())
	require.Equal(t, "half_open", HalfOpen.String())
}
