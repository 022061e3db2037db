package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/playerstate/datastore"
	"github.com/keshon/playerstate/internal/config"
	"github.com/keshon/playerstate/internal/storage"
	st "github.com/keshon/playerstate/internal/storagetypes"
	"github.com/keshon/playerstate/pkg/cmd"
	"github.com/keshon/playerstate/pkg/retrylimit"
)

type fixture struct {
	reg   *cmd.Registry
	env   *Env
	out   *bytes.Buffer
	store *storage.Storage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsCfg := datastore.DefaultConfig(filepath.Join(t.TempDir(), "state.json"))
	dsCfg.AutoSaveInterval = 0
	dsCfg.BackupCount = 0
	b, err := storage.NewFileBackend(dsCfg)
	require.NoError(t, err)
	s, err := storage.New(b, storage.WithRetryPolicy(retrylimit.Policy{MaxAttempts: 1}))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	out := &bytes.Buffer{}
	reg := cmd.NewRegistry()
	Register(reg)
	reg.Use(WithTimeout(time.Second), WithLogging(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return &fixture{
		reg: reg,
		out: out,
		env: &Env{
			Store:  s,
			Config: &config.Config{Nodes: map[string]string{"main": "X"}},
			Out:    out,
			Now:    func() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) },
		},
		store: s,
	}
}

func (f *fixture) run(args ...string) error {
	f.out.Reset()
	return f.reg.Dispatch(context.Background(), args, f.env)
}

func seed(t *testing.T, s *storage.Storage, guild, title string, queue int) {
	t.Helper()
	rec := st.NewPlayerRecord(guild)
	rec.VoiceChannelID = "vc-" + guild
	if title != "" {
		rec.Track = &st.CurrentTrack{Encoded: "enc", Info: &st.TrackInfo{Title: title}}
	}
	for i := 0; i < queue; i++ {
		rec.Queue = append(rec.Queue, st.QueuedTrack{Encoded: "q"})
	}
	require.NoError(t, s.PutPlayer(context.Background(), rec))
}

func TestPlayers(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run("players"))
	assert.Contains(t, f.out.String(), "no persisted players")

	seed(t, f.store, "g1", "Song", 2)
	seed(t, f.store, "g2", "", 0)

	require.NoError(t, f.run("players"))
	assert.Contains(t, f.out.String(), "g1")
	assert.Contains(t, f.out.String(), "Song")

	f.env.JSON = true
	require.NoError(t, f.run("players"))
	var rows []playerRow
	require.NoError(t, json.Unmarshal(f.out.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "g1", rows[0].GuildID)
	assert.Equal(t, 2, rows[0].Queue)
	assert.Empty(t, rows[1].Track)
}

func TestGetAndDelete(t *testing.T) {
	f := newFixture(t)
	seed(t, f.store, "g1", "Song", 1)

	require.NoError(t, f.run("get", "g1"))
	var rec st.PlayerRecord
	require.NoError(t, json.Unmarshal(f.out.Bytes(), &rec))
	assert.Equal(t, "vc-g1", rec.VoiceChannelID)

	assert.ErrorIs(t, f.run("get"), ErrUsage)
	assert.Error(t, f.run("get", "missing"))

	require.NoError(t, f.run("delete", "g1", "missing"))
	assert.Contains(t, f.out.String(), "deleted g1")
	_, ok, err := f.store.GetPlayer(context.Background(), "g1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, f.run("delete"), ErrUsage)
}

func TestSessionsAndPrune(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for host, id := range map[string]string{"X": "s1", "Y": "s2"} {
		require.NoError(t, f.store.PutSession(ctx, host, id))
	}

	require.NoError(t, f.run("sessions"))
	assert.Contains(t, f.out.String(), "s2")

	require.NoError(t, f.run("prune"))
	assert.Contains(t, f.out.String(), "pruned Y")
	sessions, err := f.store.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"X": "s1"}, sessions)

	require.NoError(t, f.run("prune", "Z"))
	assert.Contains(t, f.out.String(), "pruned X")

	f.env.Config = &config.Config{}
	assert.ErrorIs(t, f.run("prune"), ErrUsage)
}

type counter struct {
	n     int64
	err   error
	since time.Time
}

func (c *counter) GuildPlays(_ context.Context, _ string, since time.Time) (int64, error) {
	c.since = since
	return c.n, c.err
}

func TestPlays(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.run("plays", "g1"), ErrNoStats)

	c := &counter{n: 7}
	f.env.Stats = c
	require.NoError(t, f.run("plays", "g1", "2h"))
	assert.Contains(t, f.out.String(), "7 plays")
	assert.Equal(t, f.env.Now().Add(-2*time.Hour), c.since)

	assert.ErrorIs(t, f.run("plays", "g1", "soon"), ErrUsage)

	c.err = errors.New("db down")
	assert.Error(t, f.run("plays", "g1"))
}

func TestInfo(t *testing.T) {
	f := newFixture(t)
	f.env.Config.StorageBackend = config.BackendFile
	seed(t, f.store, "g1", "A", 0)
	require.NoError(t, f.store.PutSession(context.Background(), "X", "s-x"))

	require.NoError(t, f.run("info"))
	assert.Regexp(t, `backend\s+file`, f.out.String())
	assert.Regexp(t, `players\s+1`, f.out.String())
	assert.Regexp(t, `sessions\s+1`, f.out.String())
	assert.Contains(t, f.out.String(), "state.json")

	f.env.JSON = true
	require.NoError(t, f.run("info"))
	var got map[string]any
	require.NoError(t, json.Unmarshal(f.out.Bytes(), &got))
	assert.EqualValues(t, 1, got["players"])
	assert.Equal(t, "file", got["backend"])
}

func TestMissingEnvironment(t *testing.T) {
	reg := cmd.NewRegistry()
	Register(reg)
	assert.Error(t, reg.Dispatch(context.Background(), []string{"players"}, nil))
}
