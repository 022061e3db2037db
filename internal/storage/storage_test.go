package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/playerstate/datastore"
	st "github.com/keshon/playerstate/internal/storagetypes"
	"github.com/keshon/playerstate/pkg/retrylimit"
)

func newFileBackend(t *testing.T) *FileBackend {
	t.Helper()
	cfg := datastore.DefaultConfig(filepath.Join(t.TempDir(), "state.json"))
	cfg.AutoSaveInterval = 0
	cfg.BackupCount = 0
	b, err := NewFileBackend(cfg)
	require.NoError(t, err)
	return b
}

func newTestStorage(t *testing.T, b Backend) *Storage {
	t.Helper()
	s, err := New(b, WithRetryPolicy(retrylimit.Policy{MaxAttempts: 1}))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// gatedBackend blocks Put calls whose document matches block until release
// is closed.
type gatedBackend struct {
	Backend
	block   string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedBackend) Put(ctx context.Context, coll, key string, doc []byte) error {
	if coll == st.CollectionPlayers && containsVoice(doc, g.block) {
		close(g.entered)
		<-g.release
	}
	return g.Backend.Put(ctx, coll, key, doc)
}

func containsVoice(doc []byte, vc string) bool {
	rec, err := decodePlayer("", doc)
	return err == nil && rec.VoiceChannelID == vc
}

// flakyBackend fails the first n Put calls.
type flakyBackend struct {
	Backend
	failures atomic.Int32
}

func (f *flakyBackend) Put(ctx context.Context, coll, key string, doc []byte) error {
	if f.failures.Add(-1) >= 0 {
		return errors.New("connection reset")
	}
	return f.Backend.Put(ctx, coll, key, doc)
}

func TestNew_NilBackend(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNilBackend)
}

func TestStorage_AbsentIsNotIdle(t *testing.T) {
	s := newTestStorage(t, newFileBackend(t))
	ctx := context.Background()

	_, ok, err := s.GetPlayer(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutPlayer(ctx, st.NewPlayerRecord("g1")))
	rec, ok, err := s.GetPlayer(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, rec.IsIdle())
	assert.Equal(t, st.RepeatOff, rec.RepeatMode)
}

func TestStorage_PutStampsUpdatedAt(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := New(newFileBackend(t), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.PutPlayer(context.Background(), st.NewPlayerRecord("g1")))
	rec, _, err := s.GetPlayer(context.Background(), "g1")
	require.NoError(t, err)
	assert.True(t, now.Equal(rec.UpdatedAt))
}

func TestStorage_PutRejectsEmptyGuild(t *testing.T) {
	s := newTestStorage(t, newFileBackend(t))
	assert.Error(t, s.PutPlayer(context.Background(), st.PlayerRecord{}))
}

func TestStorage_UpdatePlayer(t *testing.T) {
	s := newTestStorage(t, newFileBackend(t))
	ctx := context.Background()

	err := s.UpdatePlayer(ctx, "g1", func(rec *st.PlayerRecord, exists bool) error {
		assert.False(t, exists)
		rec.VoiceChannelID = "vc"
		rec.GuildID = "someone-else"
		return nil
	})
	require.NoError(t, err)

	rec, ok, err := s.GetPlayer(ctx, "g1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "g1", rec.GuildID)
	assert.Equal(t, "vc", rec.VoiceChannelID)

	boom := errors.New("boom")
	err = s.UpdatePlayer(ctx, "g1", func(rec *st.PlayerRecord, exists bool) error {
		assert.True(t, exists)
		rec.VoiceChannelID = "changed"
		return boom
	})
	assert.ErrorIs(t, err, boom)
	rec, _, _ = s.GetPlayer(ctx, "g1")
	assert.Equal(t, "vc", rec.VoiceChannelID)
}

func TestStorage_UpdateReplacesCorruptRecord(t *testing.T) {
	b := newFileBackend(t)
	s := newTestStorage(t, b)
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, st.CollectionPlayers, "g1", []byte(`{"guildId":42}`)))
	_, _, err := s.GetPlayer(ctx, "g1")
	require.ErrorIs(t, err, ErrCorrupt)

	require.NoError(t, s.SetAutoplay(ctx, "g1", true))
	rec, ok, err := s.GetPlayer(ctx, "g1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, rec.EnabledAutoplay)
}

func TestStorage_WritesForOneGuildKeepSubmissionOrder(t *testing.T) {
	gate := &gatedBackend{
		Backend: newFileBackend(t),
		block:   "w1",
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := newTestStorage(t, gate)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		rec := st.NewPlayerRecord("g1")
		rec.VoiceChannelID = "w1"
		assert.NoError(t, s.PutPlayer(ctx, rec))
	}()
	<-gate.entered

	go func() {
		defer wg.Done()
		rec := st.NewPlayerRecord("g1")
		rec.VoiceChannelID = "w2"
		assert.NoError(t, s.PutPlayer(ctx, rec))
	}()
	require.Eventually(t, func() bool {
		return s.locks.pending(lockKey(st.CollectionPlayers, "g1")) == 2
	}, time.Second, time.Millisecond)

	close(gate.release)
	wg.Wait()

	rec, _, err := s.GetPlayer(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "w2", rec.VoiceChannelID)
	assert.Zero(t, s.locks.pending(lockKey(st.CollectionPlayers, "g1")))
}

func TestStorage_OtherGuildsDoNotWait(t *testing.T) {
	gate := &gatedBackend{
		Backend: newFileBackend(t),
		block:   "slow",
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := newTestStorage(t, gate)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		rec := st.NewPlayerRecord("g1")
		rec.VoiceChannelID = "slow"
		assert.NoError(t, s.PutPlayer(ctx, rec))
	}()
	<-gate.entered

	require.NoError(t, s.PutPlayer(ctx, st.NewPlayerRecord("g2")))
	close(gate.release)
	<-done
}

func TestStorage_RetriesTransientErrors(t *testing.T) {
	flaky := &flakyBackend{Backend: newFileBackend(t)}
	flaky.failures.Store(2)
	s, err := New(flaky, WithRetryPolicy(retrylimit.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond}))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.PutPlayer(context.Background(), st.NewPlayerRecord("g1")))

	flaky.failures.Store(5)
	err = s.PutPlayer(context.Background(), st.NewPlayerRecord("g2"))
	assert.ErrorIs(t, err, retrylimit.ErrAttemptsExceeded)
}

func TestStorage_ClosedBackendIsNotRetried(t *testing.T) {
	flaky := &flakyBackend{Backend: newFileBackend(t)}
	s, err := New(flaky, WithRetryPolicy(retrylimit.Policy{MaxAttempts: 5, InitialDelay: time.Hour}))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.PutPlayer(context.Background(), st.NewPlayerRecord("g1"))
	assert.ErrorIs(t, err, datastore.ErrClosed)
}

func TestStorage_DeleteAndList(t *testing.T) {
	s := newTestStorage(t, newFileBackend(t))
	ctx := context.Background()

	for _, g := range []string{"g3", "g1", "g2"} {
		require.NoError(t, s.PutPlayer(ctx, st.NewPlayerRecord(g)))
	}
	require.NoError(t, s.DeletePlayer(ctx, "g2"))
	require.NoError(t, s.DeletePlayer(ctx, "missing"))

	ids, err := s.ListPlayers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g3"}, ids)
}

func TestStorage_Lyrics(t *testing.T) {
	s := newTestStorage(t, newFileBackend(t))
	ctx := context.Background()

	require.NoError(t, s.ClearLyrics(ctx, "g1"))
	_, ok, err := s.GetLyrics(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, ok, "clearing must not create a record")

	overlay := st.LyricsOverlay{
		Enabled:   true,
		MessageID: "m1",
		Requester: "u1",
		Lyrics:    &st.Lyrics{Provider: "lrclib", Lines: []st.LyricsLine{{Line: "la", Timestamp: 1000}}},
		Locale:    "de",
	}
	require.NoError(t, s.SetLyrics(ctx, "g1", overlay))

	got, ok, err := s.GetLyrics(ctx, "g1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, overlay, got)

	require.NoError(t, s.ClearLyrics(ctx, "g1"))
	got, _, _ = s.GetLyrics(ctx, "g1")
	assert.Equal(t, st.LyricsOverlay{Locale: "de"}, got)
}

func TestStorage_NowPlaying(t *testing.T) {
	s := newTestStorage(t, newFileBackend(t))
	ctx := context.Background()

	rec := st.NewPlayerRecord("g1")
	rec.TextChannelID = "text"
	require.NoError(t, s.PutPlayer(ctx, rec))

	_, ok, err := s.GetNowPlaying(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetNowPlaying(ctx, "g1", st.NowPlaying{MessageID: "m1"}))
	np, ok, err := s.GetNowPlaying(ctx, "g1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, st.NowPlaying{MessageID: "m1", ChannelID: "text"}, np)

	require.NoError(t, s.SetNowPlaying(ctx, "g1", st.NowPlaying{MessageID: "m2", ChannelID: "other"}))
	np, _, _ = s.GetNowPlaying(ctx, "g1")
	assert.Equal(t, "other", np.ChannelID)

	require.NoError(t, s.ClearNowPlaying(ctx, "g1"))
	_, ok, _ = s.GetNowPlaying(ctx, "g1")
	assert.False(t, ok)
}

func TestStorage_PruneSessions(t *testing.T) {
	s := newTestStorage(t, newFileBackend(t))
	ctx := context.Background()

	require.NoError(t, s.PutSession(ctx, "X", "s-x"))
	require.NoError(t, s.PutSession(ctx, "Y", "s-y"))
	require.NoError(t, s.PutSession(ctx, "Z", "s-z"))

	removed, err := s.PruneSessions(ctx, []string{"X", "Z"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Y"}, removed)

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"X": "s-x", "Z": "s-z"}, sessions)

	removed, err = s.PruneSessions(ctx, []string{"X", "Z"})
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestStorage_SessionOverwrite(t *testing.T) {
	s := newTestStorage(t, newFileBackend(t))
	ctx := context.Background()

	require.NoError(t, s.PutSession(ctx, "X", "old"))
	require.NoError(t, s.PutSession(ctx, "X", "new"))
	id, ok, err := s.GetSession(ctx, "X")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "new", id)
}

func TestStorage_FileBackendPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	open := func() *Storage {
		cfg := datastore.DefaultConfig(path)
		cfg.AutoSaveInterval = 0
		cfg.BackupCount = 0
		b, err := NewFileBackend(cfg)
		require.NoError(t, err)
		s, err := New(b)
		require.NoError(t, err)
		return s
	}
	ctx := context.Background()

	s := open()
	rec := st.NewPlayerRecord("g1")
	rec.RepeatMode = st.RepeatQueue
	require.NoError(t, s.PutPlayer(ctx, rec))
	require.NoError(t, s.PutSession(ctx, "X", "s-x"))
	require.NoError(t, s.Close())

	s = open()
	defer s.Close()
	got, ok, err := s.GetPlayer(ctx, "g1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, st.RepeatQueue, got.RepeatMode)
	id, _, _ := s.GetSession(ctx, "X")
	assert.Equal(t, "s-x", id)
}

func TestStorage_Stats(t *testing.T) {
	b := newFileBackend(t)
	s := newTestStorage(t, b)
	ctx := context.Background()

	require.NoError(t, s.PutPlayer(ctx, st.NewPlayerRecord("g1")))
	require.NoError(t, s.PutPlayer(ctx, st.NewPlayerRecord("g2")))
	require.NoError(t, s.PutSession(ctx, "X", "s-x"))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats["players"])
	assert.Equal(t, 1, stats["sessions"])
	assert.Contains(t, stats["file_path"], "state.json")
	assert.Equal(t, map[string]int{st.CollectionPlayers: 2, st.CollectionSessions: 1}, stats["collections"])
}

func TestStorage_StatsWithoutBackendStats(t *testing.T) {
	s := newTestStorage(t, &flakyBackend{Backend: newFileBackend(t)})

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"players": 0, "sessions": 0}, stats)
}
