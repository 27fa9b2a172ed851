package redisstate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohsinalimat/watchparty/internal/repository"
)

func newTestRepo(t *testing.T) (*RedisStateRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStateRepository(client, ""), mr
}

func TestSaveSnapshot_Modes(t *testing.T) {
	repo, mr := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveSnapshot(ctx, "/room", []byte(`{"video":"a"}`), repository.SaveExpiring))
	assert.Equal(t, ExpiringSnapshotTTL, mr.TTL("/room"))

	// A refresh keeps whatever expiry is already set.
	require.NoError(t, repo.SaveSnapshot(ctx, "/room", []byte(`{"video":"b"}`), repository.SaveRefresh))
	assert.Equal(t, ExpiringSnapshotTTL, mr.TTL("/room"))
	got, err := repo.LoadSnapshot(ctx, "/room")
	require.NoError(t, err)
	assert.JSONEq(t, `{"video":"b"}`, string(got))

	require.NoError(t, repo.SaveSnapshot(ctx, "/room", []byte(`{"video":"c"}`), repository.SaveDurable))
	assert.Equal(t, time.Duration(0), mr.TTL("/room"))

	require.NoError(t, repo.SaveSnapshot(ctx, "/room", []byte(`{"video":"d"}`), repository.SaveRefresh))
	assert.Equal(t, time.Duration(0), mr.TTL("/room"))
}

func TestLoadSnapshot_NotFound(t *testing.T) {
	repo, _ := newTestRepo(t)

	_, err := repo.LoadSnapshot(context.Background(), "/missing")

	assert.ErrorIs(t, err, repository.ErrSnapshotNotFound)
}

func TestSubtitle_SaveAndLoad(t *testing.T) {
	repo, mr := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveSubtitle(ctx, "abc", []byte("blob")))
	assert.Equal(t, SubtitleTTL, mr.TTL("subtitle:abc"))

	blob, err := repo.LoadSubtitle(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), blob)

	_, err = repo.LoadSubtitle(ctx, "nope")
	assert.ErrorIs(t, err, repository.ErrSubtitleNotFound)
}

func TestIncrDailyUsage(t *testing.T) {
	repo, mr := newTestRepo(t)
	ctx := context.Background()
	mr.SetTime(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	expireAt := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)

	score, err := repo.IncrDailyUsage(ctx, repository.CounterVBrowserClientIDs, "client-1", expireAt)
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)

	score, err = repo.IncrDailyUsage(ctx, repository.CounterVBrowserClientIDs, "client-1", expireAt)
	require.NoError(t, err)
	assert.Equal(t, 2.0, score)

	assert.Equal(t, 12*time.Hour, mr.TTL(repository.CounterVBrowserClientIDs))
}

func TestPushSessionDuration_KeepsNewest50(t *testing.T) {
	repo, mr := newTestRepo(t)
	ctx := context.Background()

	for i := 1; i <= 60; i++ {
		require.NoError(t, repo.PushSessionDuration(ctx, time.Duration(i)*time.Millisecond))
	}

	list, err := mr.List(repository.ListVBrowserSessionMS)
	require.NoError(t, err)
	require.Len(t, list, 50)
	assert.Equal(t, "60", list[0])
	assert.Equal(t, "11", list[49])
}

func TestCounters(t *testing.T) {
	repo, mr := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Count(ctx, "chatMessages"))
	require.NoError(t, repo.Count(ctx, "chatMessages"))
	v, err := mr.Get("chatMessages")
	require.NoError(t, err)
	assert.Equal(t, "2", v)

	require.NoError(t, repo.CountDistinct(ctx, "connectStartsDistinct", "c1"))
	require.NoError(t, repo.CountDistinct(ctx, "connectStartsDistinct", "c1"))
	require.NoError(t, repo.CountDistinct(ctx, "connectStartsDistinct", "c2"))
	n, err := repo.client.PFCount(ctx, "connectStartsDistinct").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestCheckRateLimit(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		exceeded, err := repo.CheckRateLimit(ctx, "ratelimit:1.2.3.4", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, exceeded)
	}
	exceeded, err := repo.CheckRateLimit(ctx, "ratelimit:1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, exceeded)
}

func TestKeyPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	repo := NewRedisStateRepository(client, "wp:")

	require.NoError(t, repo.SaveSubtitle(context.Background(), "h", []byte("x")))

	assert.True(t, mr.Exists("wp:subtitle:h"))
}
