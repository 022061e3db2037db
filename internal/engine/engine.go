// Package engine wires the record store, the resume reconciler and the
// lifecycle handlers to the node event stream.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/keshon/playerstate/internal/config"
	"github.com/keshon/playerstate/internal/lifecycle"
	"github.com/keshon/playerstate/internal/logging"
	"github.com/keshon/playerstate/internal/music/player"
	"github.com/keshon/playerstate/internal/node"
	"github.com/keshon/playerstate/internal/resume"
	"github.com/keshon/playerstate/internal/storage"
	st "github.com/keshon/playerstate/internal/storagetypes"
	"github.com/keshon/playerstate/pkg/jobmgr"
)

var (
	ErrNilConfig = errors.New("engine: config is nil")
	ErrNilStore  = errors.New("engine: store is nil")
	ErrNilClient = errors.New("engine: node client is nil")
)

// Deps are the collaborators of an Engine. Store and Client are required.
type Deps struct {
	Store     *storage.Storage
	Client    node.Client
	Players   *player.Registry
	Messenger lifecycle.Messenger
	Stats     lifecycle.StatsRecorder
	// Settings defaults to the config's always-on and setup message lists.
	Settings lifecycle.GuildSettings
	// OnResume, if set, receives the report of every resume batch.
	OnResume func(resume.Report)
	Logger   *slog.Logger
}

type Engine struct {
	store      *storage.Storage
	players    *player.Registry
	jobs       *jobmgr.Manager
	reconciler *resume.Reconciler
	handlers   *lifecycle.Handlers
	onResume   func(resume.Report)
	log        *slog.Logger

	resumes   sync.WaitGroup
	resumeSeq atomic.Uint64
	closers   []func()
}

// New builds the engine and prunes node sessions that no longer belong to a
// configured node. Everything required is checked here, before any event is
// accepted.
func New(ctx context.Context, cfg *config.Config, deps Deps) (*Engine, error) {
	switch {
	case cfg == nil:
		return nil, ErrNilConfig
	case deps.Store == nil:
		return nil, ErrNilStore
	case deps.Client == nil:
		return nil, ErrNilClient
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		store:    deps.Store,
		players:  deps.Players,
		onResume: deps.OnResume,
		log:      deps.Logger,
	}
	if e.players == nil {
		e.players = player.NewRegistry()
	}
	if e.log == nil {
		e.log = logging.Component("engine")
	}
	settings := deps.Settings
	if settings == nil {
		settings = cfg
	}

	jobLog := logging.Component("jobmgr")
	e.jobs = jobmgr.NewManager(func(s string) {
		if strings.HasPrefix(s, "error:") {
			jobLog.Warn("job failed", slog.String("status", s))
			return
		}
		jobLog.Debug(s)
	})

	var err error
	e.reconciler, err = resume.New(deps.Store, deps.Client, e.players, resume.Options{
		Debounce: cfg.ResumeDebounce,
		Workers:  cfg.ResumeWorkers,
	})
	if err != nil {
		return nil, err
	}
	e.handlers, err = lifecycle.New(lifecycle.Config{
		Store:       deps.Store,
		Players:     e.players,
		Client:      deps.Client,
		Jobs:        e.jobs,
		Messenger:   deps.Messenger,
		Settings:    settings,
		Stats:       deps.Stats,
		IdleTimeout: cfg.IdleTimeout,
	})
	if err != nil {
		return nil, err
	}

	removed, err := deps.Store.PruneSessions(ctx, cfg.NodeHosts())
	if err != nil {
		e.log.Warn("session pruning incomplete", slog.Any("err", err))
	} else if len(removed) > 0 {
		e.log.Info("removed sessions of unconfigured nodes", slog.Any("hosts", removed))
	}
	return e, nil
}

// Run consumes events until ctx is done or events is closed, then waits for
// running resume batches.
func (e *Engine) Run(ctx context.Context, events <-chan node.Event) error {
	e.log.Info("engine started")
	defer e.resumes.Wait()
	for {
		select {
		case <-ctx.Done():
			e.log.Info("engine stopping", slog.Any("reason", ctx.Err()))
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				e.log.Info("event stream closed")
				return nil
			}
			e.dispatch(ctx, ev)
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, ev node.Event) {
	switch ev := ev.(type) {
	case node.Resumed:
		e.startResume(ctx, ev)
	case node.TrackStart:
		e.handlers.TrackStart(ctx, ev)
	case node.TrackEnd:
		e.handlers.TrackEnd(ctx, ev)
	case node.QueueEnd:
		e.handlers.QueueEnd(ctx, ev)
	case node.PlayerDestroy:
		e.handlers.PlayerDestroy(ctx, ev)
	case node.PlayerUpdate:
		e.handlers.PlayerUpdate(ctx, ev)
	case node.NodeConnected, node.NodeDisconnected, node.NodeError, node.NodeReconnecting:
		e.handlers.NodeEvent(ev)
	default:
		e.log.Debug("ignoring unknown event", slog.Any("type", ev))
	}
}

// startResume runs a resume batch as its own job, so lifecycle events keep
// flowing meanwhile. The batch stops with ctx or on Close.
func (e *Engine) startResume(ctx context.Context, ev node.Resumed) {
	name := fmt.Sprintf("resume:%s:%d", ev.Node.ID, e.resumeSeq.Add(1))
	e.resumes.Add(1)
	err := e.jobs.StartAsync(name, func(jobCtx context.Context) error {
		defer e.resumes.Done()
		jobCtx, cancel := context.WithCancel(jobCtx)
		defer cancel()
		stop := context.AfterFunc(ctx, cancel)
		defer stop()

		report := e.reconciler.Resume(jobCtx, ev)
		if e.onResume != nil {
			e.onResume(report)
		}
		if n := report.Count(resume.Failed); n > 0 {
			return fmt.Errorf("%d of %d guilds failed to resume", n, len(report.Outcomes))
		}
		return nil
	})
	if err != nil {
		e.resumes.Done()
		e.log.Error("resume batch not started", slog.String("node", ev.Node.ID), slog.Any("err", err))
	}
}

// GetPersistedPlayer returns the stored record of a guild, read-only.
func (e *Engine) GetPersistedPlayer(ctx context.Context, guildID string) (st.PlayerRecord, bool, error) {
	return e.store.GetPlayer(ctx, guildID)
}

// SetAutoplay toggles autoplay on the live player and saves it right away,
// since no node event follows the toggle.
func (e *Engine) SetAutoplay(ctx context.Context, guildID string, on bool) error {
	if p, ok := e.players.Get(guildID); ok {
		p.SetAutoplay(on)
	}
	return e.store.SetAutoplay(ctx, guildID, on)
}

// Players exposes the live player registry to the command layer.
func (e *Engine) Players() *player.Registry {
	return e.players
}

// IdleJobs lists pending idle timers.
func (e *Engine) IdleJobs() []string {
	var out []string
	for _, name := range e.jobs.List() {
		if strings.HasPrefix(name, lifecycle.IdleJobName("")) {
			out = append(out, name)
		}
	}
	return out
}

// Close cancels pending timers and closes the store along with anything
// Open attached.
func (e *Engine) Close() error {
	e.jobs.Shutdown()
	runAll(e.closers)
	return e.store.Close()
}
