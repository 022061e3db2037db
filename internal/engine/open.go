package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/keshon/playerstate/internal/config"
	"github.com/keshon/playerstate/internal/discord"
	"github.com/keshon/playerstate/internal/node"
	"github.com/keshon/playerstate/internal/stats"
	"github.com/keshon/playerstate/internal/storage"
)

// Open builds an engine from configuration alone: the record store chosen by
// STORAGE_BACKEND, a play recorder when POSTGRES_DSN is set and a Discord
// messenger when DISCORD_TOKEN is set. The node client stays with the caller.
func Open(ctx context.Context, cfg *config.Config, client node.Client) (*Engine, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	deps := Deps{Store: store, Client: client}

	var closers []func()
	if cfg.PostgresDSN != "" {
		rec, closeDB, err := stats.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("open statistics database: %w", err)
		}
		deps.Stats = rec
		closers = append(closers, closeDB)
	}
	if cfg.DiscordToken != "" {
		s, err := discord.NewSession(cfg.DiscordToken)
		if err != nil {
			runAll(closers)
			store.Close()
			return nil, err
		}
		deps.Messenger = discord.NewMessenger(s)
	}

	e, err := New(ctx, cfg, deps)
	if err != nil {
		runAll(closers)
		store.Close()
		return nil, err
	}
	e.closers = closers
	e.log.Info("engine opened",
		slog.String("backend", cfg.StorageBackend),
		slog.Bool("stats", deps.Stats != nil),
		slog.Bool("messenger", deps.Messenger != nil))
	return e, nil
}

func runAll(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
