package checkpoint

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	mr := miniredis.RunT(t)
	cfg := DefaultRedisConfig()
	cfg.Addr = mr.Addr()

	store, err := NewRedisStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRedisStorePutAndLatest(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	_, err := store.Latest(ctx, "run-1")
	require.ErrorIs(t, err, ErrNotFound)

	rec := newTestRecord("run-1", 10)
	require.NoError(t, store.Put(ctx, rec))

	got, err := store.Latest(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, int64(10), got.Step)
	assert.Equal(t, rec.RunID, got.RunID)
}

func TestRedisStoreLatestPointerAdvances(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newTestRecord("run-1", 2)))
	require.NoError(t, store.Put(ctx, newTestRecord("run-1", 8)))

	got, err := store.Latest(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(8), got.Step)
}

func TestRedisStoreRunsAreIsolated(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newTestRecord("run-a", 1)))

	_, err := store.Latest(ctx, "run-b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStorePing(t *testing.T) {
	store := newTestRedisStore(t)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestRedisStoreConnectFailure(t *testing.T) {
	cfg := DefaultRedisConfig()
	cfg.Addr = "127.0.0.1:1" // nothing listens here

	_, err := NewRedisStore(cfg)
	assert.Error(t, err)
}
