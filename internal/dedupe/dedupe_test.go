package dedupe

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisClaimIsExclusiveUntilExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	d := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = d.Close() })
	ctx := context.Background()

	ok, err := d.Claim(ctx, "msg:abc", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Claim(ctx, "msg:abc", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Hour)
	ok, err = d.Claim(ctx, "msg:abc", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisReleaseAllowsReclaim(t *testing.T) {
	mr := miniredis.RunT(t)
	d, err := NewRedisFromURL("redis://" + mr.Addr())
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := d.Claim(ctx, "msg:def", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists(keyPrefix+"msg:def"))

	require.NoError(t, d.Release(ctx, "msg:def"))
	ok, err = d.Claim(ctx, "msg:def", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryClaim(t *testing.T) {
	m := NewMemory()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := m.Claim(ctx, "k", time.Minute)
	assert.True(t, ok)
	ok, _ = m.Claim(ctx, "k", time.Minute)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = m.Claim(ctx, "k", time.Minute)
	assert.True(t, ok)

	require.NoError(t, m.Release(ctx, "k"))
	ok, _ = m.Claim(ctx, "k", time.Minute)
	assert.True(t, ok)
}
