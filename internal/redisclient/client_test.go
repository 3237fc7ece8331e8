package redisclient

import (
	"context"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient connects to TEST_REDIS_ADDR and skips when it is unset
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Integration test - requires redis (set TEST_REDIS_ADDR)")
	}
	c, err := NewClient(addr, "", 15)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func testRaffleID() int64 {
	return 1_000_000 + rand.Int63n(1_000_000)
}

func TestOccupiedCacheVersioning(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	id := testRaffleID()
	t.Cleanup(func() { c.GetClient().Del(ctx, occupiedKey(id), versionKey(id)) })

	_, ver, hit, err := c.GetOccupied(ctx, id)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.SetOccupied(ctx, id, ver, []int{9, 2, 5}, 0))
	got, _, hit, err := c.GetOccupied(ctx, id)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []int{2, 5, 9}, got)

	require.NoError(t, c.Invalidate(ctx, id))
	require.NoError(t, c.SetOccupied(ctx, id, ver, []int{1}, 0))
	_, _, hit, err = c.GetOccupied(ctx, id)
	require.NoError(t, err)
	assert.False(t, hit, "rebuild with a stale version must be discarded")
}

func TestEmptyOccupiedSetIsCached(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	id := testRaffleID()
	t.Cleanup(func() { c.GetClient().Del(ctx, occupiedKey(id), versionKey(id)) })

	_, ver, _, err := c.GetOccupied(ctx, id)
	require.NoError(t, err)
	require.NoError(t, c.SetOccupied(ctx, id, ver, nil, 0))

	got, _, hit, err := c.GetOccupied(ctx, id)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Empty(t, got)
}

func TestOccupiedEntryHonoursTTL(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	id := testRaffleID()
	t.Cleanup(func() { c.GetClient().Del(ctx, occupiedKey(id), versionKey(id)) })

	_, ver, _, err := c.GetOccupied(ctx, id)
	require.NoError(t, err)
	require.NoError(t, c.SetOccupied(ctx, id, ver, []int{3}, 1500*time.Millisecond))

	ttl, err := c.GetClient().PTTL(ctx, occupiedKey(id)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 1500*time.Millisecond)

	require.NoError(t, c.SetOccupied(ctx, id, ver, []int{3}, 24*time.Hour))
	ttl, err = c.GetClient().PTTL(ctx, occupiedKey(id)).Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, defaultOccupiedTTL)
}

func TestLockOwnership(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := "test-" + time.Now().Format(time.RFC3339Nano)

	token, ok, err := c.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.ReleaseLock(ctx, key, "someone-else"))
	_, ok, err = c.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.ReleaseLock(ctx, key, token))
	token, ok, err = c.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, c.ReleaseLock(ctx, key, token))
}
