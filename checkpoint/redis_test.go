package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/traveler-leon/aeroflow/types"
)

func newTestSaver(t *testing.T) (*RedisSaver, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisSaver(client, "test", 0, zap.NewNop()), mr
}

func TestRedisSaverSequenceIsMonotonic(t *testing.T) {
	saver, _ := newTestSaver(t)
	ctx := context.Background()

	cp1, err := saver.Save(ctx, "airport", "t1", map[string]any{"intent": "flight"})
	require.NoError(t, err)
	cp2, err := saver.Save(ctx, "airport", "t1", map[string]any{"intent": "knowledge"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), cp1.Seq)
	assert.Equal(t, int64(2), cp2.Seq)
}

func TestRedisSaverLatest(t *testing.T) {
	saver, _ := newTestSaver(t)
	ctx := context.Background()

	got, err := saver.Latest(ctx, "airport", "empty")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = saver.Save(ctx, "airport", "t1", map[string]any{"turn": 1})
	require.NoError(t, err)
	_, err = saver.Save(ctx, "airport", "t1", map[string]any{"turn": 2})
	require.NoError(t, err)

	got, err = saver.Latest(ctx, "airport", "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(2), got.Seq)
	assert.Equal(t, float64(2), got.State["turn"])
}

func TestRedisSaverThreadsAreIsolated(t *testing.T) {
	saver, _ := newTestSaver(t)
	ctx := context.Background()

	_, err := saver.Save(ctx, "airport", "alice", map[string]any{"who": "alice"})
	require.NoError(t, err)
	_, err = saver.Save(ctx, "airport", "bob", map[string]any{"who": "bob"})
	require.NoError(t, err)

	got, err := saver.Latest(ctx, "airport", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.State["who"])
}

func TestRedisSaverListNewestFirst(t *testing.T) {
	saver, _ := newTestSaver(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := saver.Save(ctx, "airport", "t1", map[string]any{"turn": i})
		require.NoError(t, err)
	}

	cps, err := saver.List(ctx, "airport", "t1", 3)
	require.NoError(t, err)
	require.Len(t, cps, 3)
	assert.Equal(t, int64(5), cps[0].Seq)
	assert.Equal(t, int64(3), cps[2].Seq)
}

func TestRedisSaverDeleteThread(t *testing.T) {
	saver, mr := newTestSaver(t)
	ctx := context.Background()

	_, err := saver.Save(ctx, "airport", "t1", map[string]any{"turn": 1})
	require.NoError(t, err)
	require.NoError(t, saver.DeleteThread(ctx, "airport", "t1"))

	got, err := saver.Latest(ctx, "airport", "t1")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, mr.Keys())
}

func TestRedisSaverBackendDownIsRetryable(t *testing.T) {
	saver, mr := newTestSaver(t)
	ctx := context.Background()

	_, err := saver.Save(ctx, "airport", "t1", map[string]any{"turn": 1})
	require.NoError(t, err)

	mr.Close()

	_, err = saver.Latest(ctx, "airport", "t1")
	require.Error(t, err)
	assert.Equal(t, types.ErrPersistenceUnavailable, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))

	_, err = saver.Save(ctx, "airport", "t1", map[string]any{"turn": 2})
	require.Error(t, err)
	assert.Equal(t, types.ErrPersistenceUnavailable, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestRedisSaverExpiredCheckpointReadsAsEmpty(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	saver := NewRedisSaver(client, "test", time.Minute, zap.NewNop())
	ctx := context.Background()

	_, err := saver.Save(ctx, "airport", "t1", map[string]any{"turn": 1})
	require.NoError(t, err)

	// 数据键过期后索引仍在，线程应当视同从未有过检查点
	mr.FastForward(2 * time.Minute)

	got, err := saver.Latest(ctx, "airport", "t1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStoreBackendDownIsRetryable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStore(client, "test")
	ctx := context.Background()

	mr.Close()

	_, err := store.Get(ctx, "profiles", "user-1")
	require.Error(t, err)
	assert.Equal(t, types.ErrPersistenceUnavailable, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))

	err = store.Put(ctx, "profiles", "user-1", map[string]any{"vip": true})
	require.Error(t, err)
	assert.Equal(t, types.ErrPersistenceUnavailable, types.GetErrorCode(err))
}

func TestRedisStoreFieldMerge(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStore(client, "test")
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "profiles", "user-1", map[string]any{
		"name": "张三", "vip": true,
	}))
	// 字段级合并：只覆盖同名字段
	require.NoError(t, store.Put(ctx, "profiles", "user-1", map[string]any{
		"vip": false, "miles": 12000,
	}))

	got, err := store.Get(ctx, "profiles", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "张三", got["name"])
	assert.Equal(t, false, got["vip"])
	assert.Equal(t, float64(12000), got["miles"])
}

func TestRedisStoreGetMissingKey(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStore(client, "test")

	got, err := store.Get(context.Background(), "profiles", "ghost")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemorySaverMatchesRedisSemantics(t *testing.T) {
	saver := NewMemorySaver()
	ctx := context.Background()

	_, err := saver.Save(ctx, "airport", "t1", map[string]any{"turn": 1})
	require.NoError(t, err)
	cp, err := saver.Save(ctx, "airport", "t1", map[string]any{"turn": 2})
	require.NoError(t, err)
	assert.Equal(t, int64(2), cp.Seq)

	got, err := saver.Latest(ctx, "airport", "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.State["turn"])
}
