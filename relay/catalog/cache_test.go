package catalog

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheFreshHit(t *testing.T) {
	c := NewCache[[]string]("test", time.Hour, 2*time.Hour, nil)
	c.Set([]string{"a"})

	calls := int32(0)
	got, err := c.Get(context.Background(), func(context.Context) ([]string, error) {
		atomic.AddInt32(&calls, 1)
		return []string{"b"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got)
	assert.Zero(t, atomic.LoadInt32(&calls), "fresh hit must not fetch")
}

func TestCacheStaleServesOldDataAndRefreshesOnce(t *testing.T) {
	base := time.Now()
	now := base
	c := NewCache[[]string]("test", time.Hour, 2*time.Hour, NewRefreshPool(2))
	c.SetNowFunc(func() time.Time { return now })
	c.Set([]string{"old"})

	now = base.Add(90 * time.Minute) // past ttl, inside stale window

	calls := int32(0)
	release := make(chan struct{})
	fetch := func(context.Context) ([]string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []string{"new"}, nil
	}

	for i := 0; i < 3; i++ {
		got, err := c.Get(context.Background(), fetch)
		require.NoError(t, err)
		assert.Equal(t, []string{"old"}, got, "stale reads serve the last good data")
	}
	close(release)

	require.Eventually(t, func() bool {
		data, status := c.Peek()
		return status == StatusFresh && len(data) == 1 && data[0] == "new"
	}, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "only one background refresh may run per entry")
}

func TestCacheBeyondStaleFetchesSynchronously(t *testing.T) {
	base := time.Now()
	now := base
	c := NewCache[[]string]("test", time.Hour, 2*time.Hour, nil)
	c.SetNowFunc(func() time.Time { return now })
	c.Set([]string{"old"})

	now = base.Add(3 * time.Hour)

	got, err := c.Get(context.Background(), func(context.Context) ([]string, error) {
		return []string{"new"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, got)
}

func TestCacheFailedRefreshKeepsLastGoodData(t *testing.T) {
	base := time.Now()
	now := base
	c := NewCache[[]string]("test", time.Hour, 2*time.Hour, nil)
	c.SetNowFunc(func() time.Time { return now })
	c.Set([]string{"good"})

	now = base.Add(3 * time.Hour) // beyond the stale window

	got, err := c.Get(context.Background(), func(context.Context) ([]string, error) {
		return nil, errors.New("upstream down")
	})
	require.NoError(t, err, "failed refresh must not surface when data exists")
	assert.Equal(t, []string{"good"}, got)
}

func TestCacheColdFetchFailure(t *testing.T) {
	c := NewCache[[]string]("test", time.Hour, 2*time.Hour, nil)
	_, err := c.Get(context.Background(), func(context.Context) ([]string, error) {
		return nil, errors.New("upstream down")
	})
	require.Error(t, err)
}

func TestCacheErrorBackoff(t *testing.T) {
	base := time.Now()
	now := base
	c := NewCache[[]string]("test", time.Hour, 2*time.Hour, nil)
	c.SetNowFunc(func() time.Time { return now })

	calls := int32(0)
	fetch := func(context.Context) ([]string, error) {
		atomic.AddInt32(&calls, 1)
		return []string{"live"}, nil
	}

	// Backoff with cached data serves the data without fetching.
	c.Set([]string{"cached"})
	c.SetError("quota exceeded", 15*time.Minute)
	got, err := c.Get(context.Background(), fetch)
	require.NoError(t, err)
	assert.Equal(t, []string{"cached"}, got)
	assert.Zero(t, atomic.LoadInt32(&calls))

	// Backoff without data fails.
	c.Clear()
	c.SetError("quota exceeded", 15*time.Minute)
	_, err = c.Get(context.Background(), fetch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Zero(t, atomic.LoadInt32(&calls))

	// Backoff expiry resumes fetching.
	now = base.Add(16 * time.Minute)
	got, err = c.Get(context.Background(), fetch)
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, got)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestCachePeekStatuses(t *testing.T) {
	base := time.Now()
	now := base
	c := NewCache[int]("test", time.Hour, 2*time.Hour, nil)
	c.SetNowFunc(func() time.Time { return now })

	_, status := c.Peek()
	assert.Equal(t, StatusEmpty, status)

	c.Set(42)
	v, status := c.Peek()
	assert.Equal(t, StatusFresh, status)
	assert.Equal(t, 42, v)

	now = base.Add(90 * time.Minute)
	v, status = c.Peek()
	assert.Equal(t, StatusStale, status)
	assert.Equal(t, 42, v)

	now = base.Add(3 * time.Hour)
	_, status = c.Peek()
	assert.Equal(t, StatusEmpty, status)

	c.SetError("boom", time.Minute)
	_, status = c.Peek()
	assert.Equal(t, StatusErrorBackoff, status)
}
