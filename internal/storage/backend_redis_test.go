package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	st "github.com/keshon/playerstate/internal/storagetypes"
)

func newRedisStorage(t *testing.T) (*Storage, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b, err := NewRedisBackend(context.Background(), rdb, "test:")
	require.NoError(t, err)
	return newTestStorage(t, b), mr
}

func TestRedisBackend_PlayerRoundTrip(t *testing.T) {
	s, mr := newRedisStorage(t)
	ctx := context.Background()

	_, ok, err := s.GetPlayer(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, ok)

	vol := 80
	rec := st.NewPlayerRecord("g1")
	rec.Volume = &vol
	rec.Track = &st.CurrentTrack{Encoded: "abc", Requester: &st.Requester{ID: "u1"}}
	require.NoError(t, s.PutPlayer(ctx, rec))

	assert.True(t, mr.Exists("test:players"))
	assert.NotEmpty(t, mr.HGet("test:players", "g1"))

	got, ok, err := s.GetPlayer(ctx, "g1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, got.Volume)
	assert.Equal(t, 80, *got.Volume)
	assert.Equal(t, "u1", got.Track.Requester.ID)

	ids, err := s.ListPlayers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, ids)

	require.NoError(t, s.DeletePlayer(ctx, "g1"))
	_, ok, _ = s.GetPlayer(ctx, "g1")
	assert.False(t, ok)
}

func TestRedisBackend_PruneSessions(t *testing.T) {
	s, mr := newRedisStorage(t)
	ctx := context.Background()

	for host, id := range map[string]string{"X": "1", "Y": "2", "Z": "3"} {
		require.NoError(t, s.PutSession(ctx, host, id))
	}
	removed, err := s.PruneSessions(ctx, []string{"X", "Z"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Y"}, removed)

	fields, err := mr.HKeys("test:sessions")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"X", "Z"}, fields)
}

func TestRedisBackend_PingFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1})
	defer rdb.Close()
	_, err := NewRedisBackend(context.Background(), rdb, "test:")
	assert.Error(t, err)
}

func TestRedisBackend_Stats(t *testing.T) {
	s, mr := newRedisStorage(t)
	ctx := context.Background()
	require.NoError(t, s.PutPlayer(ctx, st.NewPlayerRecord("g1")))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats["players"])
	assert.Equal(t, 0, stats["sessions"])
	assert.Equal(t, mr.Addr(), stats["addr"])
	assert.Equal(t, "test:", stats["prefix"])
	assert.Contains(t, stats, "total_conns")
}
