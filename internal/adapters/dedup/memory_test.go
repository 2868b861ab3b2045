package dedup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClaimer_Claim(t *testing.T) {
	c := NewMemoryClaimer()
	defer c.Close()
	ctx := context.Background()

	ok, err := c.Claim(ctx, "alert:a", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Claim(ctx, "alert:a", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "second claim must fail while the first is live")

	ok, err = c.Claim(ctx, "alert:b", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryClaimer_Release(t *testing.T) {
	c := NewMemoryClaimer()
	defer c.Close()
	ctx := context.Background()

	_, _ = c.Claim(ctx, "k", time.Hour)
	require.NoError(t, c.Release(ctx, "k"))

	ok, err := c.Claim(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, c.Release(ctx, "missing"))
}

func TestMemoryClaimer_expiry(t *testing.T) {
	c := NewMemoryClaimer()
	defer c.Close()
	ctx := context.Background()
	now := time.Date(2021, 5, 10, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, _ = c.Claim(ctx, "k", time.Minute)
	now = now.Add(30 * time.Second)
	ok, _ := c.Claim(ctx, "k", time.Minute)
	assert.False(t, ok)

	now = now.Add(time.Minute)
	ok, _ = c.Claim(ctx, "k", time.Minute)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	c.removeExpired()
	assert.Equal(t, 0, c.Len())
}

func TestMemoryClaimer_concurrent_claims_grant_once(t *testing.T) {
	c := NewMemoryClaimer()
	defer c.Close()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := c.Claim(context.Background(), "cycle:lock", time.Minute); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
