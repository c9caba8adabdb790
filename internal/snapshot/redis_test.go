package snapshot

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querystream/querystream/internal/redis"
	"github.com/querystream/querystream/internal/testutil"
)

func newRedisCacheForTest(t *testing.T, ttl time.Duration) (Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(testutil.NewTestLogger(), redis.Config{
		Address:     mr.Addr(),
		DialTimeout: time.Second,
		PoolSize:    2,
	})

	ctx := testutil.NewTestContext(t)
	require.NoError(t, client.Start(ctx))

	t.Cleanup(func() {
		require.NoError(t, client.Stop())
	})

	return NewRedisCache(testutil.NewTestLogger(), client, ttl), mr
}

func TestRedisCache_PutGetDelete(t *testing.T) {
	cache, _ := newRedisCacheForTest(t, 0)
	ctx := testutil.NewTestContext(t)

	// Miss before any write
	_, ok, err := cache.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, ok)

	// Put then get
	require.NoError(t, cache.Put(ctx, "job-1", []byte(`[{"id":1}]`)))

	payload, ok, err := cache.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte(`[{"id":1}]`), payload)

	// Delete then miss
	require.NoError(t, cache.Delete(ctx, "job-1"))

	_, ok, err = cache.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_KeysArePrefixed(t *testing.T) {
	cache, mr := newRedisCacheForTest(t, 0)
	ctx := testutil.NewTestContext(t)

	require.NoError(t, cache.Put(ctx, "job-1", []byte("x")))

	assert.True(t, mr.Exists("querystream:snapshot:job-1"))
}

func TestRedisCache_TTL(t *testing.T) {
	cache, mr := newRedisCacheForTest(t, time.Minute)
	ctx := testutil.NewTestContext(t)

	require.NoError(t, cache.Put(ctx, "job-1", []byte("x")))

	// Snapshot expires once the TTL elapses
	mr.FastForward(2 * time.Minute)

	_, ok, err := cache.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
