package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyIsDeterministic(t *testing.T) {
	a := Key("GET", "/api/users", map[string]string{"Accept": "application/json"}, nil)
	b := Key("get", "/api/users", map[string]string{"Other": "x"}, nil)
	assert.Equal(t, a, b, "headers outside vary must not affect the key")

	c := Key("GET", "/api/orders", nil, nil)
	assert.NotEqual(t, a, c)

	d := Key("POST", "/api/users", nil, nil)
	assert.NotEqual(t, a, d)
}

func TestKeyVaryHeaders(t *testing.T) {
	vary := []string{"Accept", "Accept-Language"}

	a := Key("GET", "/p", map[string]string{"Accept": "json", "Accept-Language": "en"}, vary)
	b := Key("GET", "/p", map[string]string{"accept": "json", "ACCEPT-LANGUAGE": "en"}, vary)
	assert.Equal(t, a, b, "vary lookup is case-insensitive")

	c := Key("GET", "/p", map[string]string{"Accept": "xml", "Accept-Language": "en"}, vary)
	assert.NotEqual(t, a, c)
}

func TestMemoryCacheSetGet(t *testing.T) {
	c := NewMemoryCache(10)
	defer c.Close()
	ctx := context.Background()

	entry := &Entry{StatusCode: 200, Headers: map[string]string{"Content-Type": "application/json"}, Body: []byte(`{}`)}
	require.NoError(t, c.Set(ctx, "k", entry, time.Minute))

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 200, got.StatusCode)
	assert.Equal(t, []byte(`{}`), got.Body)
}

func TestMemoryCacheMiss(t *testing.T) {
	c := NewMemoryCache(10)
	defer c.Close()

	_, err := c.Get(context.Background(), "missing")
	assert.True(t, IsCacheMiss(err))
}

func TestMemoryCacheTTLExpiry(t *testing.T) {
	c := NewMemoryCache(10)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", &Entry{StatusCode: 200}, 30*time.Millisecond))

	_, err := c.Get(ctx, "k")
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	_, err = c.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCacheEvictsLRU(t *testing.T) {
	c := NewMemoryCache(2)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", &Entry{StatusCode: 1}, time.Minute))
	require.NoError(t, c.Set(ctx, "b", &Entry{StatusCode: 2}, time.Minute))

	// Touch "a" so "b" becomes the eviction candidate.
	_, err := c.Get(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "c", &Entry{StatusCode: 3}, time.Minute))

	_, err = c.Get(ctx, "a")
	assert.NoError(t, err)
	_, err = c.Get(ctx, "b")
	assert.True(t, IsCacheMiss(err))
	_, err = c.Get(ctx, "c")
	assert.NoError(t, err)
}

func TestMemoryCacheZeroTTLIsNoop(t *testing.T) {
	c := NewMemoryCache(10)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", &Entry{StatusCode: 200}, 0))
	_, err := c.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))
}

func TestMemoryCacheDelete(t *testing.T) {
	c := NewMemoryCache(10)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", &Entry{StatusCode: 200}, time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))

	_, err := c.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))
	assert.NoError(t, c.Delete(ctx, "k"))
}

func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisCacheFromClient(client, "respcache:"), mr
}

func TestRedisCacheRoundTrip(t *testing.T) {
	c, _ := newTestRedisCache(t)
	ctx := context.Background()

	entry := &Entry{StatusCode: 201, Headers: map[string]string{"X-Test": "1"}, Body: []byte(`{"ok":true}`)}
	require.NoError(t, c.Set(ctx, "k", entry, time.Minute))

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, entry.StatusCode, got.StatusCode)
	assert.Equal(t, entry.Headers, got.Headers)
	assert.Equal(t, entry.Body, got.Body)
}

func TestRedisCacheExpiry(t *testing.T) {
	c, mr := newTestRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", &Entry{StatusCode: 200}, 30*time.Second))

	mr.FastForward(31 * time.Second)

	_, err := c.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))
}

func TestRedisCacheDelete(t *testing.T) {
	c, _ := newTestRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", &Entry{StatusCode: 200}, time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))

	_, err := c.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))
}
