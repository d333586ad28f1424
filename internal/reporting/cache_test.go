package reporting

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute), mr
}

func TestFetchJSONPopulatesAndServesFromCache(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	loads := 0
	loader := func(context.Context) (interface{}, error) {
		loads++
		return map[string]string{"hello": "world"}, nil
	}

	key, err := cache.BuildKey(ctx, "reporting", "test")
	require.NoError(t, err)

	var first map[string]string
	require.NoError(t, cache.FetchJSON(ctx, key, &first, loader))
	require.Equal(t, "world", first["hello"])
	require.Equal(t, 1, loads)

	var second map[string]string
	require.NoError(t, cache.FetchJSON(ctx, key, &second, loader))
	require.Equal(t, "world", second["hello"])
	require.Equal(t, 1, loads, "second fetch must come from cache")
}

func TestBumpInvalidatesVersionedKeys(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	value := "before"
	loader := func(context.Context) (interface{}, error) {
		return value, nil
	}

	key, err := cache.BuildKey(ctx, "reporting", "dashboard")
	require.NoError(t, err)
	var got string
	require.NoError(t, cache.FetchJSON(ctx, key, &got, loader))
	require.Equal(t, "before", got)

	require.NoError(t, cache.Bump(ctx))
	value = "after"

	newKey, err := cache.BuildKey(ctx, "reporting", "dashboard")
	require.NoError(t, err)
	require.NotEqual(t, key, newKey, "bump must rotate the key version")

	require.NoError(t, cache.FetchJSON(ctx, newKey, &got, loader))
	require.Equal(t, "after", got)
}

func TestCacheEntriesCarryTTL(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	key, err := cache.BuildKey(ctx, "reporting", "aging")
	require.NoError(t, err)
	var got string
	require.NoError(t, cache.FetchJSON(ctx, key, &got, func(context.Context) (interface{}, error) {
		return "v", nil
	}))

	ttl := mr.TTL(key)
	require.Greater(t, ttl, time.Duration(0), "cached aggregates must expire")
	require.LessOrEqual(t, ttl, time.Minute)
}

func TestNilCacheFallsThroughToLoader(t *testing.T) {
	var cache *Cache
	ctx := context.Background()

	var got string
	require.NoError(t, cache.FetchJSON(ctx, "any", &got, func(context.Context) (interface{}, error) {
		return "direct", nil
	}))
	require.Equal(t, "direct", got)
	require.NoError(t, cache.Bump(ctx))
}
