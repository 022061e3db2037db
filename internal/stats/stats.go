// Package stats records track plays in Postgres.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keshon/playerstate/internal/logging"
	st "github.com/keshon/playerstate/internal/storagetypes"
)

// DB is implemented by *pgxpool.Pool and by pgxmock pools.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresRecorder struct {
	db  DB
	log *slog.Logger
	now func() time.Time
}

func NewPostgresRecorder(db DB) *PostgresRecorder {
	return &PostgresRecorder{db: db, log: logging.Component("stats"), now: time.Now}
}

// Open connects to dsn, creates the table if needed and returns the recorder
// with a close func for the pool.
func Open(ctx context.Context, dsn string) (*PostgresRecorder, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("pg: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pg ping: %w", err)
	}
	r := NewPostgresRecorder(pool)
	if err := r.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return r, pool.Close, nil
}

func (r *PostgresRecorder) Migrate(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
      CREATE TABLE IF NOT EXISTS track_plays (
          id           BIGSERIAL PRIMARY KEY,
          guild_id     TEXT NOT NULL,
          title        TEXT NOT NULL DEFAULT '',
          uri          TEXT NOT NULL DEFAULT '',
          requester_id TEXT NOT NULL DEFAULT '',
          played_at    TIMESTAMPTZ NOT NULL DEFAULT now()
      )
    `)
	if err != nil {
		r.log.Error("migrate track_plays failed", slog.Any("err", err))
		return fmt.Errorf("migrate track_plays: %w", err)
	}
	if _, err := r.db.Exec(ctx, `CREATE INDEX IF NOT EXISTS track_plays_guild_idx ON track_plays (guild_id, played_at)`); err != nil {
		return fmt.Errorf("index track_plays: %w", err)
	}
	return nil
}

// RecordTrackStart inserts one play. A nil track is ignored.
func (r *PostgresRecorder) RecordTrackStart(ctx context.Context, guildID string, t *st.CurrentTrack) error {
	if t == nil {
		return nil
	}
	var title, uri, requester string
	if t.Info != nil {
		title, uri = t.Info.Title, t.Info.URI
	}
	if t.Requester != nil {
		requester = t.Requester.ID
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO track_plays (guild_id, title, uri, requester_id, played_at) VALUES ($1, $2, $3, $4, $5)`,
		guildID, title, uri, requester, r.now().UTC())
	if err != nil {
		return fmt.Errorf("insert track play: %w", err)
	}
	return nil
}

// GuildPlays counts the plays of a guild since a point in time.
func (r *PostgresRecorder) GuildPlays(ctx context.Context, guildID string, since time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM track_plays WHERE guild_id = $1 AND played_at >= $2`,
		guildID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count track plays: %w", err)
	}
	return n, nil
}

// NopRecorder is used when no database is configured.
type NopRecorder struct{}

func (NopRecorder) RecordTrackStart(context.Context, string, *st.CurrentTrack) error { return nil }
