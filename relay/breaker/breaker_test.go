package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	r := NewRegistry(3, 300*time.Second)

	skip, _ := r.ShouldSkip("openrouter")
	assert.False(t, skip)

	r.RecordFailure("openrouter")
	r.RecordFailure("openrouter")
	skip, _ = r.ShouldSkip("openrouter")
	assert.False(t, skip, "below threshold stays closed")

	r.RecordFailure("openrouter")
	skip, remaining := r.ShouldSkip("openrouter")
	assert.True(t, skip)
	assert.Greater(t, remaining, time.Duration(0))
	assert.True(t, r.StateOf("openrouter").IsOpen)
}

func TestBreakerSuccessResetsConsecutiveFailures(t *testing.T) {
	r := NewRegistry(3, 300*time.Second)

	r.RecordFailure("groq")
	r.RecordFailure("groq")
	r.RecordSuccess("groq")
	r.RecordFailure("groq")
	r.RecordFailure("groq")

	skip, _ := r.ShouldSkip("groq")
	assert.False(t, skip, "success must zero the consecutive counter")
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	now := time.Unix(1000, 0)
	r := NewRegistry(1, 60*time.Second)
	r.SetNowFunc(func() time.Time { return now })

	r.RecordFailure("deepinfra")
	skip, _ := r.ShouldSkip("deepinfra")
	require.True(t, skip)

	// After recovery timeout the first caller gets the probe, the second
	// is still skipped.
	now = now.Add(61 * time.Second)
	skip, _ = r.ShouldSkip("deepinfra")
	assert.False(t, skip, "first caller probes")
	skip, _ = r.ShouldSkip("deepinfra")
	assert.True(t, skip, "only one probe in flight")

	// Failed probe re-opens with a fresh timestamp.
	r.RecordFailure("deepinfra")
	skip, remaining := r.ShouldSkip("deepinfra")
	assert.True(t, skip)
	assert.InDelta(t, float64(60*time.Second), float64(remaining), float64(time.Second))

	// Successful probe closes.
	now = now.Add(61 * time.Second)
	skip, _ = r.ShouldSkip("deepinfra")
	require.False(t, skip)
	r.RecordSuccess("deepinfra")
	skip, _ = r.ShouldSkip("deepinfra")
	assert.False(t, skip)
	assert.False(t, r.StateOf("deepinfra").IsOpen)
}

func TestBreakerReleaseProbeReturnsSlot(t *testing.T) {
	now := time.Unix(2000, 0)
	r := NewRegistry(1, 60*time.Second)
	r.SetNowFunc(func() time.Time { return now })

	r.RecordFailure("fireworks")
	now = now.Add(61 * time.Second)

	skip, _ := r.ShouldSkip("fireworks")
	require.False(t, skip, "first caller claims the probe")
	skip, _ = r.ShouldSkip("fireworks")
	require.True(t, skip, "probe in flight")

	// A caller that never reached the provider hands the slot back; the
	// breaker must not stay wedged waiting for an outcome that never comes.
	r.ReleaseProbe("fireworks")
	skip, _ = r.ShouldSkip("fireworks")
	assert.False(t, skip, "released probe is claimable again")
	assert.True(t, r.StateOf("fireworks").IsOpen, "releasing records no outcome")
}

func TestBreakerIdempotence(t *testing.T) {
	r := NewRegistry(2, 60*time.Second)

	// record_success after close is a no-op on state.
	r.RecordSuccess("novita")
	st := r.StateOf("novita")
	assert.False(t, st.IsOpen)
	assert.Equal(t, 0, st.ConsecutiveFailures)

	// record_failure in open state only updates counters, never re-opens
	// with a fresh timestamp.
	r.RecordFailure("novita")
	r.RecordFailure("novita")
	require.True(t, r.StateOf("novita").IsOpen)
	openedAt := r.StateOf("novita").LastFailureTime

	r.RecordFailure("novita")
	st = r.StateOf("novita")
	assert.True(t, st.IsOpen)
	assert.Equal(t, openedAt, st.LastFailureTime)
	assert.Equal(t, int64(3), st.TotalFailures)
}

func TestRetryAfterDeadline(t *testing.T) {
	now := time.Unix(5000, 0)
	r := NewRegistry(3, 300*time.Second)
	r.SetNowFunc(func() time.Time { return now })

	r.SetRetryAfter("alibaba", 30*time.Second)
	skip, remaining := r.ShouldSkip("alibaba")
	assert.True(t, skip)
	assert.Equal(t, 30*time.Second, remaining)

	now = now.Add(31 * time.Second)
	skip, _ = r.ShouldSkip("alibaba")
	assert.False(t, skip, "deadline elapsed")
}
