package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFrozenLimiter pins the limiter's clock so refill is driven by the
// test instead of wall time. Advance the returned time to refill tokens.
func newFrozenLimiter(t *testing.T, rate float64, burst int) (*MemoryLimiter, *time.Time) {
	t.Helper()
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	m := NewMemoryLimiter(rate, burst)
	m.now = func() time.Time { return at }
	t.Cleanup(func() { require.NoError(t, m.Close()) })
	return m, &at
}

func TestMemoryLimiterBurstThenDeny(t *testing.T) {
	m, _ := newFrozenLimiter(t, 10, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := m.Allow(ctx, "agent-a")
		require.NoError(t, err)
		assert.True(t, ok, "request %d is within the burst", i)
	}

	ok, err := m.Allow(ctx, "agent-a")
	require.NoError(t, err)
	assert.False(t, ok, "burst exhausted and no time has passed")
}

func TestMemoryLimiterRefill(t *testing.T) {
	m, at := newFrozenLimiter(t, 2, 2) // 2 tokens per second
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _ := m.Allow(ctx, "agent-a")
		require.True(t, ok)
	}
	ok, _ := m.Allow(ctx, "agent-a")
	require.False(t, ok)

	*at = at.Add(time.Second)
	for i := 0; i < 2; i++ {
		ok, err := m.Allow(ctx, "agent-a")
		require.NoError(t, err)
		assert.True(t, ok, "one second at 2 rps refills 2 tokens (request %d)", i)
	}
	ok, _ = m.Allow(ctx, "agent-a")
	assert.False(t, ok)
}

func TestMemoryLimiterRefillCapsAtBurst(t *testing.T) {
	m, at := newFrozenLimiter(t, 1000, 3)
	ctx := context.Background()

	_, _ = m.Allow(ctx, "agent-a")
	*at = at.Add(time.Hour)

	// A long idle period refills to capacity, never beyond it.
	for i := 0; i < 3; i++ {
		ok, _ := m.Allow(ctx, "agent-a")
		require.True(t, ok, "request %d after idle", i)
	}
	ok, _ := m.Allow(ctx, "agent-a")
	assert.False(t, ok)
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	m, _ := newFrozenLimiter(t, 10, 1)
	ctx := context.Background()

	ok, _ := m.Allow(ctx, "agent-a")
	require.True(t, ok)
	ok, _ = m.Allow(ctx, "agent-a")
	require.False(t, ok)

	ok, err := m.Allow(ctx, "agent-b")
	require.NoError(t, err)
	assert.True(t, ok, "exhausting one key leaves others untouched")
}

func TestMemoryLimiterConcurrentSharedKey(t *testing.T) {
	m, _ := newFrozenLimiter(t, 100, 50)
	ctx := context.Background()

	var wg sync.WaitGroup
	allowed := make([]int, 10)
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				ok, err := m.Allow(ctx, "shared")
				if err != nil {
					t.Errorf("Allow: %v", err)
					return
				}
				if ok {
					allowed[idx]++
				}
			}
		}(g)
	}
	wg.Wait()

	total := 0
	for _, c := range allowed {
		total += c
	}
	assert.Equal(t, 50, total, "with a frozen clock exactly the burst is admitted")
}

func TestMemoryLimiterEvictsStaleBuckets(t *testing.T) {
	m, at := newFrozenLimiter(t, 10, 5)
	ctx := context.Background()

	_, _ = m.Allow(ctx, "idle")
	_, _ = m.Allow(ctx, "active")

	m.evictStale(at.Add(staleAfter - time.Second))
	m.mu.Lock()
	assert.Len(t, m.buckets, 2, "nothing is stale yet")
	m.mu.Unlock()

	m.evictStale(at.Add(staleAfter + time.Second))
	m.mu.Lock()
	assert.Empty(t, m.buckets)
	m.mu.Unlock()
}

func TestMemoryLimiterEvictedKeyStartsFresh(t *testing.T) {
	m, at := newFrozenLimiter(t, 10, 1)
	ctx := context.Background()

	ok, _ := m.Allow(ctx, "agent-a")
	require.True(t, ok)
	ok, _ = m.Allow(ctx, "agent-a")
	require.False(t, ok)

	m.evictStale(at.Add(staleAfter + time.Second))

	ok, err := m.Allow(ctx, "agent-a")
	require.NoError(t, err)
	assert.True(t, ok, "an evicted key gets a full bucket again")
}

func TestMemoryLimiterCloseIsIdempotent(t *testing.T) {
	m := NewMemoryLimiter(10, 5)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestNoopLimiterAlwaysAllows(t *testing.T) {
	var l NoopLimiter
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		ok, err := l.Allow(ctx, "anything")
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.NoError(t, l.Close())
}
