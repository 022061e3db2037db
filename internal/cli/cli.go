// Package cli implements the statectl maintenance commands on top of the
// transport-agnostic pkg/cmd core.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/keshon/playerstate/internal/config"
	"github.com/keshon/playerstate/internal/storage"
	"github.com/keshon/playerstate/pkg/cmd"
)

var (
	ErrUsage   = errors.New("usage")
	ErrNoStats = errors.New("statistics database is not configured (POSTGRES_DSN)")
)

// PlayCounter is implemented by stats.PostgresRecorder.
type PlayCounter interface {
	GuildPlays(ctx context.Context, guildID string, since time.Time) (int64, error)
}

// Env is the Invocation.Data every command expects.
type Env struct {
	Store  *storage.Storage
	Config *config.Config
	Stats  PlayCounter // nil without a database
	Out    io.Writer
	JSON   bool
	Now    func() time.Time
}

func envOf(inv *cmd.Invocation) (*Env, error) {
	env, ok := inv.Data.(*Env)
	if !ok || env == nil || env.Store == nil {
		return nil, errors.New("command needs a store environment")
	}
	if env.Now == nil {
		env.Now = time.Now
	}
	return env, nil
}

// Register adds every statectl command to r.
func Register(r *cmd.Registry) {
	for _, c := range []cmd.Command{
		&playersCommand{},
		&getCommand{},
		&deleteCommand{},
		&sessionsCommand{},
		&pruneCommand{},
		&playsCommand{},
		&infoCommand{},
	} {
		r.Register(c)
	}
}

// WithTimeout bounds a command's run time.
func WithTimeout(d time.Duration) cmd.Middleware {
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
			if d <= 0 {
				return c.Run(ctx, inv)
			}
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return c.Run(ctx, inv)
		})
	}
}

// WithLogging logs the command, its arguments and the outcome.
func WithLogging(log *slog.Logger) cmd.Middleware {
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
			start := time.Now()
			err := c.Run(ctx, inv)
			attrs := []any{
				slog.String("command", c.Name()),
				slog.String("args", strings.Join(inv.Args, " ")),
				slog.Duration("took", time.Since(start)),
			}
			if err != nil {
				log.Error("command failed", append(attrs, slog.Any("err", err))...)
			} else {
				log.Debug("command finished", attrs...)
			}
			return err
		})
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usage(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUsage, fmt.Sprintf(format, args...))
}

type playersCommand struct{}

func (playersCommand) Name() string        { return "players" }
func (playersCommand) Description() string { return "List persisted players" }

type playerRow struct {
	GuildID   string    `json:"guildId"`
	Voice     string    `json:"voiceChannelId,omitempty"`
	Track     string    `json:"track,omitempty"`
	Queue     int       `json:"queue"`
	Repeat    string    `json:"repeatMode"`
	Autoplay  bool      `json:"autoplay"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

func (playersCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	env, err := envOf(inv)
	if err != nil {
		return err
	}
	ids, err := env.Store.ListPlayers(ctx)
	if err != nil {
		return err
	}

	rows := make([]playerRow, 0, len(ids))
	var errs []error
	for _, id := range ids {
		rec, ok, err := env.Store.GetPlayer(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		row := playerRow{
			GuildID:   rec.GuildID,
			Voice:     rec.VoiceChannelID,
			Queue:     len(rec.Queue),
			Repeat:    string(rec.RepeatMode),
			Autoplay:  rec.EnabledAutoplay,
			UpdatedAt: rec.UpdatedAt,
		}
		if rec.Track != nil && rec.Track.Info != nil {
			row.Track = rec.Track.Info.Title
		}
		rows = append(rows, row)
	}

	if env.JSON {
		if err := writeJSON(env.Out, rows); err != nil {
			return err
		}
		return errors.Join(errs...)
	}
	if len(rows) == 0 {
		fmt.Fprintln(env.Out, "no persisted players")
		return errors.Join(errs...)
	}
	tw := tabwriter.NewWriter(env.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GUILD\tVOICE\tTRACK\tQUEUE\tREPEAT\tAUTOPLAY\tUPDATED")
	for _, r := range rows {
		track := r.Track
		if track == "" {
			track = "-"
		}
		updated := "-"
		if !r.UpdatedAt.IsZero() {
			updated = env.Now().Sub(r.UpdatedAt).Round(time.Second).String() + " ago"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%t\t%s\n", r.GuildID, r.Voice, track, r.Queue, r.Repeat, r.Autoplay, updated)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return errors.Join(errs...)
}

type getCommand struct{}

func (getCommand) Name() string        { return "get" }
func (getCommand) Description() string { return "Print the record of a guild" }

func (getCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	env, err := envOf(inv)
	if err != nil {
		return err
	}
	if len(inv.Args) != 1 {
		return usage("get <guild-id>")
	}
	rec, ok, err := env.Store.GetPlayer(ctx, inv.Args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("guild %s has no persisted player", inv.Args[0])
	}
	return writeJSON(env.Out, rec)
}

type deleteCommand struct{}

func (deleteCommand) Name() string        { return "delete" }
func (deleteCommand) Description() string { return "Delete the records of one or more guilds" }

func (deleteCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	env, err := envOf(inv)
	if err != nil {
		return err
	}
	if len(inv.Args) == 0 {
		return usage("delete <guild-id>...")
	}
	var errs []error
	for _, id := range inv.Args {
		if err := env.Store.DeletePlayer(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(env.Out, "deleted %s\n", id)
	}
	return errors.Join(errs...)
}

type sessionsCommand struct{}

func (sessionsCommand) Name() string        { return "sessions" }
func (sessionsCommand) Description() string { return "List stored node sessions" }

func (sessionsCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	env, err := envOf(inv)
	if err != nil {
		return err
	}
	sessions, err := env.Store.ListSessions(ctx)
	if err != nil {
		return err
	}
	if env.JSON {
		return writeJSON(env.Out, sessions)
	}
	configured := map[string]bool{}
	if env.Config != nil {
		for _, h := range env.Config.NodeHosts() {
			configured[h] = true
		}
	}
	tw := tabwriter.NewWriter(env.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HOST\tSESSION\tCONFIGURED")
	for _, host := range sortedKeys(sessions) {
		fmt.Fprintf(tw, "%s\t%s\t%t\n", host, sessions[host], configured[host])
	}
	return tw.Flush()
}

type pruneCommand struct{}

func (pruneCommand) Name() string { return "prune" }
func (pruneCommand) Description() string {
	return "Remove sessions of nodes not in NODES (or the given hosts)"
}

func (pruneCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	env, err := envOf(inv)
	if err != nil {
		return err
	}
	valid := inv.Args
	if len(valid) == 0 {
		if env.Config == nil || len(env.Config.Nodes) == 0 {
			return usage("prune <valid-host>... (or configure NODES)")
		}
		valid = env.Config.NodeHosts()
	}
	removed, err := env.Store.PruneSessions(ctx, valid)
	if env.JSON {
		if jerr := writeJSON(env.Out, map[string]any{"removed": removed}); jerr != nil {
			return jerr
		}
		return err
	}
	if len(removed) == 0 {
		fmt.Fprintln(env.Out, "nothing to prune")
	}
	for _, host := range removed {
		fmt.Fprintf(env.Out, "pruned %s\n", host)
	}
	return err
}

type playsCommand struct{}

func (playsCommand) Name() string        { return "plays" }
func (playsCommand) Description() string { return "Count track plays of a guild" }

func (playsCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	env, err := envOf(inv)
	if err != nil {
		return err
	}
	if len(inv.Args) < 1 || len(inv.Args) > 2 {
		return usage("plays <guild-id> [window, e.g. 24h]")
	}
	if env.Stats == nil {
		return ErrNoStats
	}
	window := 24 * time.Hour
	if len(inv.Args) == 2 {
		window, err = time.ParseDuration(inv.Args[1])
		if err != nil || window <= 0 {
			return usage("invalid window %q", inv.Args[1])
		}
	}
	n, err := env.Stats.GuildPlays(ctx, inv.Args[0], env.Now().Add(-window))
	if err != nil {
		return err
	}
	if env.JSON {
		return writeJSON(env.Out, map[string]any{"guildId": inv.Args[0], "window": window.String(), "plays": n})
	}
	fmt.Fprintf(env.Out, "%s: %d plays in the last %s\n", inv.Args[0], n, window)
	return nil
}

type infoCommand struct{}

func (infoCommand) Name() string        { return "info" }
func (infoCommand) Description() string { return "Show record counts and backend details" }

func (infoCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	env, err := envOf(inv)
	if err != nil {
		return err
	}
	stats, err := env.Store.Stats(ctx)
	if err != nil {
		return err
	}
	if env.Config != nil {
		stats["backend"] = env.Config.StorageBackend
	}
	if env.JSON {
		return writeJSON(env.Out, stats)
	}

	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tw := tabwriter.NewWriter(env.Out, 0, 4, 2, ' ', 0)
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%v\n", k, stats[k])
	}
	return tw.Flush()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
