// Package resume reconciles the players an audio node kept alive across a
// reconnect with the records persisted for them.
package resume

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/keshon/playerstate/internal/logging"
	"github.com/keshon/playerstate/internal/music/player"
	"github.com/keshon/playerstate/internal/node"
	st "github.com/keshon/playerstate/internal/storagetypes"
	"github.com/keshon/playerstate/pkg/util"
)

var (
	ErrNilStore  = errors.New("resume: store is nil")
	ErrNilClient = errors.New("resume: node client is nil")
)

// Store is the part of the record store the reconciler needs.
type Store interface {
	GetPlayer(ctx context.Context, guildID string) (st.PlayerRecord, bool, error)
	PutPlayer(ctx context.Context, rec st.PlayerRecord) error
	DeletePlayer(ctx context.Context, guildID string) error
	PutSession(ctx context.Context, host, sessionID string) error
}

// Outcome is the terminal state of one guild in a resume batch.
type Outcome int

const (
	Reconciled Outcome = iota
	// Skipped guilds had no record or a dead voice connection.
	Skipped
	Failed
	// Debounced guilds were reconciled moments ago and were left alone.
	Debounced
)

func (o Outcome) String() string {
	switch o {
	case Reconciled:
		return "reconciled"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	case Debounced:
		return "debounced"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Report summarizes one resume batch. Errors holds the cause for Failed
// guilds and the joined step errors for Reconciled guilds that degraded.
type Report struct {
	Node      node.Node
	SessionID string
	Outcomes  map[string]Outcome
	Errors    map[string]error
}

// Count returns how many guilds ended in o.
func (r Report) Count(o Outcome) int {
	n := 0
	for _, got := range r.Outcomes {
		if got == o {
			n++
		}
	}
	return n
}

type Options struct {
	// Debounce is how long a reconciled guild ignores further resumes.
	Debounce time.Duration
	// Workers bounds how many guilds are reconciled at once.
	Workers int
	Logger  *slog.Logger
	Clock   func() time.Time
}

// Reconciler rebuilds in-memory players from a node's resume snapshot.
type Reconciler struct {
	store    Store
	client   node.Client
	players  *player.Registry
	debounce time.Duration
	workers  int
	log      *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	resuming map[string]time.Time // guild -> end of its debounce window
}

func New(store Store, client node.Client, players *player.Registry, opts Options) (*Reconciler, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if client == nil {
		return nil, ErrNilClient
	}
	if players == nil {
		players = player.NewRegistry()
	}
	r := &Reconciler{
		store:    store,
		client:   client,
		players:  players,
		debounce: opts.Debounce,
		workers:  opts.Workers,
		log:      opts.Logger,
		now:      opts.Clock,
		resuming: make(map[string]time.Time),
	}
	if r.workers <= 0 {
		r.workers = 8
	}
	if r.log == nil {
		r.log = logging.Component("resume")
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Resume handles one resume notification. Guilds are reconciled
// concurrently; a failing guild never aborts its siblings.
func (r *Reconciler) Resume(ctx context.Context, ev node.Resumed) Report {
	report := Report{
		Node:      ev.Node,
		SessionID: ev.SessionID,
		Outcomes:  make(map[string]Outcome, len(ev.Players)),
		Errors:    make(map[string]error),
	}
	log := r.log.With(slog.String("node", ev.Node.ID), slog.String("session", ev.SessionID))
	log.Info("node resumed", slog.Int("players", len(ev.Players)))

	if ev.Node.Host != "" {
		if err := r.store.PutSession(ctx, ev.Node.Host, ev.SessionID); err != nil {
			log.Error("failed to persist node session", slog.Any("err", err))
		}
	}

	var work []node.LivePlayer
	for _, live := range ev.Players {
		if live.GuildID == "" {
			continue
		}
		if _, dup := report.Outcomes[live.GuildID]; dup {
			continue
		}
		if !r.claim(live.GuildID) {
			log.Debug("guild is already resuming", slog.String("guild", live.GuildID))
			report.Outcomes[live.GuildID] = Debounced
			continue
		}
		report.Outcomes[live.GuildID] = Failed
		work = append(work, live)
	}

	var mu sync.Mutex
	errs := util.ParallelCollect(ctx, work, r.workers, func(ctx context.Context, live node.LivePlayer) error {
		outcome, err := r.reconcile(ctx, ev, live)
		mu.Lock()
		report.Outcomes[live.GuildID] = outcome
		if err != nil {
			report.Errors[live.GuildID] = err
		}
		mu.Unlock()
		if outcome == Failed {
			return err
		}
		return nil
	})

	for i, err := range errs {
		guildID := work[i].GuildID
		if err != nil {
			// panics and cancelled work end up here without an outcome
			report.Outcomes[guildID] = Failed
			report.Errors[guildID] = err
			log.Error("guild reconciliation failed", slog.String("guild", guildID), slog.Any("err", err))
		}
		r.release(guildID, report.Outcomes[guildID] != Failed)
	}

	log.Info("resume batch finished",
		slog.Int("reconciled", report.Count(Reconciled)),
		slog.Int("skipped", report.Count(Skipped)),
		slog.Int("failed", report.Count(Failed)),
		slog.Int("debounced", report.Count(Debounced)))
	return report
}

// claim marks a guild as resuming unless it already is.
func (r *Reconciler) claim(guildID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for g, until := range r.resuming {
		if !until.IsZero() && !now.Before(until) {
			delete(r.resuming, g)
		}
	}
	if _, busy := r.resuming[guildID]; busy {
		return false
	}
	r.resuming[guildID] = time.Time{}
	return true
}

// release starts the debounce window of a finished guild. A failed guild is
// freed at once so the next resume can retry it.
func (r *Reconciler) release(guildID string, debounce bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !debounce || r.debounce <= 0 {
		delete(r.resuming, guildID)
		return
	}
	r.resuming[guildID] = r.now().Add(r.debounce)
}

// Resuming reports whether a guild is inside a resume or its debounce window.
func (r *Reconciler) Resuming(guildID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	until, ok := r.resuming[guildID]
	return ok && (until.IsZero() || r.now().Before(until))
}

func (r *Reconciler) reconcile(ctx context.Context, ev node.Resumed, live node.LivePlayer) (Outcome, error) {
	guildID := live.GuildID
	log := r.log.With(slog.String("guild", guildID), slog.String("node", ev.Node.ID))

	rec, ok, err := r.store.GetPlayer(ctx, guildID)
	if err != nil {
		return Failed, fmt.Errorf("load record: %w", err)
	}
	if !ok {
		log.Warn("no persisted player, cannot resume")
		return Skipped, nil
	}

	if !live.Voice.Connected {
		log.Warn("voice connection is gone, dropping persisted player")
		if err := r.store.DeletePlayer(ctx, guildID); err != nil {
			log.Error("failed to delete stale player", slog.Any("err", err))
		}
		r.players.Remove(guildID)
		return Skipped, nil
	}

	p, handle, err := r.bind(ctx, ev, rec)
	if err != nil {
		return Failed, err
	}

	var stepErrs []error
	step := func(name string, err error) {
		if err == nil {
			return
		}
		log.Warn("resume step failed", slog.String("step", name), slog.Any("err", err))
		stepErrs = append(stepErrs, fmt.Errorf("%s: %w", name, err))
	}

	step("repeat", handle.SetRepeatMode(ctx, string(p.RepeatMode())))
	step("connect", handle.Connect(ctx))

	if live.Filters != nil {
		step("filters", handle.SetFilters(ctx, live.Filters))
	}
	if live.Volume != nil {
		p.SetVolume(*live.Volume)
	}

	nodeQueue, err := handle.Queue(ctx)
	if err != nil {
		log.Debug("node queue unavailable", slog.Any("err", err))
		nodeQueue = nil
	}
	at := live.ReportedAt
	if at.IsZero() {
		at = r.now()
	}
	p.SetPlayback(live.Position, live.Paused, at)

	if live.Playing() {
		step("play", r.restoreCurrent(ctx, p, handle, rec, live))
	}

	restored, dropped := r.restoreQueue(ctx, p, rec.Queue, nodeQueue, log)
	if dropped > 0 {
		log.Warn("dropped unrecoverable queue entries", slog.Int("dropped", dropped))
	}

	if rec.LyricsEnabled {
		if _, err := p.CurrentTrack(); err == nil {
			step("lyrics", handle.SubscribeLyrics(ctx))
		} else {
			// nothing to follow; do not persist a subscription that does not exist
			log.Debug("nothing playing, lyrics turned off")
			p.ClearLyrics()
		}
	}

	if err := r.store.PutPlayer(ctx, p.Record()); err != nil {
		log.Error("failed to persist reconciled player", slog.Any("err", err))
	}

	log.Info("player reconciled",
		slog.Int("queued", restored),
		slog.Duration("position", live.Position),
		slog.Int("failed_steps", len(stepErrs)))
	return Reconciled, errors.Join(stepErrs...)
}

// bind returns the guild's live player with a node handle attached. A player
// that survived in memory keeps its state and handle and only moves to the
// resumed session; a missing one is rebuilt from rec and created on the node.
func (r *Reconciler) bind(ctx context.Context, ev node.Resumed, rec st.PlayerRecord) (*player.Player, node.Player, error) {
	p, live := r.players.Get(rec.GuildID)
	if !live {
		p = player.New(rec.GuildID, nil)
		p.Restore(rec, ev.Node)
	}
	p.SetNode(ev.Node)
	p.SetNodeSession(ev.SessionID)

	if handle := p.Handle(); handle != nil {
		return p, handle, nil
	}
	handle, err := r.client.CreatePlayer(ctx, p.Spec())
	if err != nil {
		return nil, nil, fmt.Errorf("create player: %w", err)
	}
	p.SetHandle(handle)
	if !live {
		r.players.Put(p)
	}
	return p, handle, nil
}

// restoreCurrent plays the track the node reports, preferring its fresh
// payload over the persisted one, then seeks to the reported position.
func (r *Reconciler) restoreCurrent(ctx context.Context, p *player.Player, handle node.Player, rec st.PlayerRecord, live node.LivePlayer) error {
	track, err := r.client.DecodeTrack(ctx, live.Track.Encoded)
	if err != nil && rec.Track != nil && rec.Track.Encoded != "" {
		track, err = r.client.DecodeTrack(ctx, rec.Track.Encoded)
	}
	if err != nil {
		return fmt.Errorf("decode current track: %w", err)
	}
	if track.Requester == nil && rec.Track != nil && rec.Track.Requester != nil {
		track.Requester = rec.Track.Requester.Clone()
	}
	p.SetCurrent(track)

	if err := handle.Play(ctx, node.PlayOptions{Track: track, NoReplace: true, Paused: live.Paused}); err != nil {
		return err
	}
	if live.Position > 0 {
		if err := handle.Seek(ctx, live.Position); err != nil {
			return fmt.Errorf("seek to %s: %w", live.Position, err)
		}
	}
	return nil
}

// restoreQueue rebuilds the upcoming tracks in persisted order. Entries the
// node still reports keep the node's track; the rest are decoded from their
// payload and dropped one by one when that fails. Tracks only the node knows
// about go last, in node order.
func (r *Reconciler) restoreQueue(ctx context.Context, p *player.Player, queued []st.QueuedTrack, nodeQueue []*node.Track, log *slog.Logger) (restored, dropped int) {
	fromNode := make(map[string][]*node.Track, len(nodeQueue))
	for _, t := range nodeQueue {
		if t != nil {
			fromNode[t.Encoded] = append(fromNode[t.Encoded], t)
		}
	}

	tracks := make([]*node.Track, 0, len(queued)+len(nodeQueue))
	for i, q := range queued {
		if q.Encoded == "" {
			log.Warn("queue entry has no payload", slog.Int("index", i))
			dropped++
			continue
		}
		if same := fromNode[q.Encoded]; len(same) > 0 {
			tracks = append(tracks, same[0])
			fromNode[q.Encoded] = same[1:]
			continue
		}
		t, err := r.client.DecodeTrack(ctx, q.Encoded)
		if err != nil {
			log.Warn("queue entry does not decode", slog.Int("index", i), slog.Any("err", err))
			dropped++
			continue
		}
		if t.Requester == nil && q.Requester != nil {
			t.Requester = q.Requester.Clone()
		}
		tracks = append(tracks, t)
		restored++
	}
	for _, t := range nodeQueue {
		if t == nil {
			continue
		}
		if rest := fromNode[t.Encoded]; len(rest) > 0 && rest[0] == t {
			tracks = append(tracks, t)
			fromNode[t.Encoded] = rest[1:]
		}
	}
	p.SetQueue(tracks)
	return restored, dropped
}
