package rediscache

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newCounters connects to TEST_REDIS_URL and skips when it is unset.
func newCounters(t *testing.T) *Counters {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	rdb, err := Open(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, "test-"+uuid.NewString())
}

func TestUsageCounters(t *testing.T) {
	c := newCounters(t)
	ctx := context.Background()
	start := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	n, err := c.IncrementUsageWindow(ctx, "c1", start)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = c.IncrementUsageWindow(ctx, "c1", start)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = c.UsageDayCount(ctx, "c1", "2024-05-10")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = c.IncrementUsageDay(ctx, "c1", "2024-05-10")
	require.NoError(t, err)
	n, err = c.UsageDayCount(ctx, "c1", "2024-05-10")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ttl, err := c.rdb.TTL(ctx, c.dayKey("c1", "2024-05-10")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 13*24*time.Hour)
}

func TestConcurrentIncrIsAtomic(t *testing.T) {
	c := newCounters(t)
	ctx := context.Background()

	const workers = 32
	seen := make([]int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := c.Incr(ctx, "admin:10.0.0.1", time.Minute)
			assert.NoError(t, err)
			seen[i] = n
		}(i)
	}
	wg.Wait()

	unique := map[int64]bool{}
	for _, n := range seen {
		unique[n] = true
	}
	assert.Len(t, unique, workers, fmt.Sprint(seen))
}
