package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestTracker() *TimingTracker {
	t := NewTimingTracker()
	t.warn = 30 * time.Second
	t.error = 45 * time.Second
	t.critical = 60 * time.Second
	return t
}

func TestObserveClassifiesSeverity(t *testing.T) {
	tracker := newTestTracker()

	require.Equal(t, SeverityNone, tracker.Observe("openrouter", 2*time.Second))
	require.Equal(t, SeverityWarn, tracker.Observe("openrouter", 31*time.Second))
	require.Equal(t, SeverityError, tracker.Observe("openrouter", 46*time.Second))
	require.Equal(t, SeverityCritical, tracker.Observe("openrouter", 61*time.Second))

	snap := tracker.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, int64(4), snap[0].TotalCalls)
	require.Equal(t, int64(1), snap[0].SlowWarn)
	require.Equal(t, int64(1), snap[0].SlowError)
	require.Equal(t, int64(1), snap[0].SlowCritical)
	require.InDelta(t, 61.0, snap[0].MaxSeconds, 0.001)
}

func TestObserveThresholdBoundariesInclusive(t *testing.T) {
	tracker := newTestTracker()

	require.Equal(t, SeverityWarn, tracker.Observe("groq", 30*time.Second))
	require.Equal(t, SeverityError, tracker.Observe("groq", 45*time.Second))
	require.Equal(t, SeverityCritical, tracker.Observe("groq", 60*time.Second))
}

func TestSnapshotSortedAndAveraged(t *testing.T) {
	tracker := newTestTracker()
	fixed := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	tracker.SetNowFunc(func() time.Time { return fixed })

	tracker.Observe("zeta", 4*time.Second)
	tracker.Observe("alpha", 2*time.Second)
	tracker.Observe("alpha", 6*time.Second)

	snap := tracker.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, "alpha", snap[0].Provider)
	require.Equal(t, "zeta", snap[1].Provider)
	require.InDelta(t, 4.0, snap[0].AvgSeconds, 0.001)
	require.Equal(t, fixed, snap[0].LastCall)
}
