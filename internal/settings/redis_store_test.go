package settings

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_SetGet(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewRedisStore(client, WithRedisPrefix("test:"), WithRedisTTL(time.Minute))

	_, ok := store.Get("k")
	assert.False(t, ok)

	body := []byte("HTTP/1.1 200 OK\r\n\r\n{\"value\":\"x\"}")
	store.Set("k", body)
	assert.True(t, mr.Exists("test:k"))
	assert.Equal(t, time.Minute, mr.TTL("test:k"))

	got, ok := store.Get("k")
	require.True(t, ok)
	assert.Equal(t, body, got)

	mr.FastForward(time.Minute)
	_, ok = store.Get("k")
	assert.False(t, ok, "entry expires with its ttl")

	hits, misses := store.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2), misses)
}

func TestRedisStore_Delete(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewRedisStore(client)

	store.Set("k", []byte("v"))
	store.Delete("k")
	assert.False(t, mr.Exists(DefaultRedisPrefix+"k"))
}

func TestRedisStore_UnavailableIsMiss(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewRedisStore(client, WithRedisTimeout(100*time.Millisecond))
	mr.Close()

	store.Set("k", []byte("v"))
	_, ok := store.Get("k")
	assert.False(t, ok)
}

func TestRedisStore_SharedAcrossClients(t *testing.T) {
	_, client := setupTestRedis(t)
	srv := newSettingsServer(t, map[string]string{"s": "v"})

	first := newTestClient(t, srv.URL, WithResponseStore(NewRedisStore(client)))
	second := newTestClient(t, srv.URL, WithResponseStore(NewRedisStore(client)))
	ctx := context.Background()

	v, err := first.GetResolvedSetting(ctx, "s", []string{"a"}, []int{1}, false)
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	v, err = second.GetResolvedSetting(ctx, "s", []string{"a"}, []int{1}, false)
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	assert.Equal(t, int32(1), srv.calls.Load(), "second replica served from redis")
}

func TestNewRedisStoreFromURL(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedisStoreFromURL(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	defer store.Close()
	assert.NoError(t, store.Ping(context.Background()))

	_, err = NewRedisStoreFromURL(context.Background(), "://bad")
	assert.Error(t, err)
}
