package credentials_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soumadip-dev/VedaCLI/internal/credentials"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_SaveSetsTTLFromExpiry(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	store := credentials.NewRedisStore(client, "work", fixedClock(baseTime))

	rec := credentials.Record{AccessToken: "tok", TokenType: "Bearer", ExpiresAt: baseTime.Add(time.Hour), CreatedAt: baseTime}
	require.NoError(t, store.Save(ctx, rec))

	assert.Equal(t, time.Hour, mr.TTL("veda:credentials:work"))

	loaded, ok := store.Load(ctx)
	require.True(t, ok)
	assert.Equal(t, "tok", loaded.AccessToken)
	assert.True(t, loaded.ExpiresAt.Equal(rec.ExpiresAt))
}

func TestRedisStore_NoExpiryMeansNoTTL(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	store := credentials.NewRedisStore(client, "", fixedClock(baseTime))

	require.NoError(t, store.Save(ctx, credentials.Record{AccessToken: "tok"}))
	assert.Equal(t, time.Duration(0), mr.TTL("veda:credentials:default"))
}

func TestRedisStore_RejectsExpiredRecord(t *testing.T) {
	_, client := newRedis(t)
	store := credentials.NewRedisStore(client, "work", fixedClock(baseTime))

	err := store.Save(context.Background(), credentials.Record{AccessToken: "tok", ExpiresAt: baseTime.Add(-time.Second)})
	assert.Error(t, err)
}

func TestRedisStore_ClearIsIdempotent(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)
	store := credentials.NewRedisStore(client, "work", fixedClock(baseTime))

	assert.NoError(t, store.Clear(ctx))
	require.NoError(t, store.Save(ctx, credentials.Record{AccessToken: "tok", ExpiresAt: baseTime.Add(time.Hour)}))
	assert.NoError(t, store.Clear(ctx))

	_, ok := store.Load(ctx)
	assert.False(t, ok)
	assert.True(t, store.IsExpired(ctx))
}

func TestRedisStore_UnavailableBackendIsAbsent(t *testing.T) {
	mr, client := newRedis(t)
	store := credentials.NewRedisStore(client, "work", nil)
	mr.Close()

	_, ok := store.Load(context.Background())
	assert.False(t, ok)
}
