package local

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *LocalCache {
	c, err := NewCache(Config{GCInterval: time.Minute})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestGetSet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key1", "value1", 0))
	v, err := c.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, "value1", v)

	_, err = c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTTLExpiry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "ttl_key", "val", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)
	_, err := c.Get(ctx, "ttl_key")
	assert.ErrorIs(t, err, ErrNotFound)
	ok, _ := c.Exists(ctx, "ttl_key")
	assert.False(t, ok)
}

func TestDelAndExists(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	_ = c.Set(ctx, "k", "v", 0)
	ok, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	_ = c.Del(ctx, "k")
	ok, _ = c.Exists(ctx, "k")
	assert.False(t, ok)
}

func TestSetNX(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "cooldown", "1", 20*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = c.SetNX(ctx, "cooldown", "1", 20*time.Millisecond)
	assert.False(t, ok)

	time.Sleep(30 * time.Millisecond)
	ok, _ = c.SetNX(ctx, "cooldown", "1", 20*time.Millisecond)
	assert.True(t, ok, "expired key can be claimed again")
}

func TestSetNX_Concurrent(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := c.SetNX(ctx, "lock", "x", time.Minute); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestZSet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.ZAdd(ctx, "z", 100, "alice"))
	require.NoError(t, c.ZAdd(ctx, "z", 200, "bob"))
	require.NoError(t, c.ZAdd(ctx, "z", 50, "carol"))

	members, err := c.ZRevRange(ctx, "z", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "alice", "carol"}, members)

	top, _ := c.ZRevRange(ctx, "z", 0, 0)
	assert.Equal(t, []string{"bob"}, top)

	require.NoError(t, c.ZAdd(ctx, "z", 10, "bob"))
	score, err := c.ZScore(ctx, "z", "bob")
	require.NoError(t, err)
	assert.Equal(t, float64(10), score)

	require.NoError(t, c.ZRem(ctx, "z", "alice"))
	_, err = c.ZScore(ctx, "z", "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	members, _ = c.ZRevRange(ctx, "z", 5, 10)
	assert.Empty(t, members)
}
