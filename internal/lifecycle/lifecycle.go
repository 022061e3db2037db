// Package lifecycle keeps persisted player state current as player events
// arrive, and owns the idle-disconnect timers.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/keshon/playerstate/internal/logging"
	"github.com/keshon/playerstate/internal/music/player"
	"github.com/keshon/playerstate/internal/node"
	"github.com/keshon/playerstate/internal/storage"
	st "github.com/keshon/playerstate/internal/storagetypes"
	"github.com/keshon/playerstate/pkg/jobmgr"
)

const DefaultIdleTimeout = 60 * time.Second

var (
	ErrNilStore   = errors.New("lifecycle: store is nil")
	ErrNilPlayers = errors.New("lifecycle: player registry is nil")
	ErrNilJobs    = errors.New("lifecycle: job manager is nil")
)

// Store is the part of the record store the handlers use.
type Store interface {
	GetPlayer(ctx context.Context, guildID string) (st.PlayerRecord, bool, error)
	PutPlayer(ctx context.Context, rec st.PlayerRecord) error
	UpdatePlayer(ctx context.Context, guildID string, fn func(rec *st.PlayerRecord, exists bool) error) error
	DeletePlayer(ctx context.Context, guildID string) error
	GetLyrics(ctx context.Context, guildID string) (st.LyricsOverlay, bool, error)
	GetNowPlaying(ctx context.Context, guildID string) (st.NowPlaying, bool, error)
	ClearNowPlaying(ctx context.Context, guildID string) error
}

// Messenger removes bot messages from chat.
type Messenger interface {
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	// ResetSetupMessage puts a guild's dedicated player message back into its
	// idle state, showing content, instead of deleting it.
	ResetSetupMessage(ctx context.Context, channelID, messageID, content string) error
}

// GuildSettings answers per-guild questions owned by the command layer.
type GuildSettings interface {
	IsAlwaysOn(guildID string) bool
	SetupMessageID(guildID string) string
	// SetupIdleContent is the text a reset setup message shows.
	SetupIdleContent(guildID string) string
}

// StatsRecorder records usage statistics.
type StatsRecorder interface {
	RecordTrackStart(ctx context.Context, guildID string, track *st.CurrentTrack) error
}

type Config struct {
	Store   Store
	Players *player.Registry
	// Client is optional. It supplies the node handle of players that show
	// up in events before anything registered them.
	Client      node.Client
	Jobs        *jobmgr.Manager
	Messenger   Messenger
	Settings    GuildSettings
	Stats       StatsRecorder
	IdleTimeout time.Duration
	Logger      *slog.Logger
}

// Handlers reacts to player lifecycle events. Events of one guild must be
// delivered in order; the engine loop does that.
type Handlers struct {
	store    Store
	players  *player.Registry
	client   node.Client
	jobs     *jobmgr.Manager
	msg      Messenger
	settings GuildSettings
	stats    StatsRecorder
	idle     time.Duration
	log      *slog.Logger
}

func New(cfg Config) (*Handlers, error) {
	switch {
	case cfg.Store == nil:
		return nil, ErrNilStore
	case cfg.Players == nil:
		return nil, ErrNilPlayers
	case cfg.Jobs == nil:
		return nil, ErrNilJobs
	}
	h := &Handlers{
		store:    cfg.Store,
		players:  cfg.Players,
		client:   cfg.Client,
		jobs:     cfg.Jobs,
		msg:      cfg.Messenger,
		settings: cfg.Settings,
		stats:    cfg.Stats,
		idle:     cfg.IdleTimeout,
		log:      cfg.Logger,
	}
	if h.msg == nil {
		h.msg = nopMessenger{}
	}
	if h.settings == nil {
		h.settings = noSettings{}
	}
	if h.stats == nil {
		h.stats = nopStats{}
	}
	if h.idle <= 0 {
		h.idle = DefaultIdleTimeout
	}
	if h.log == nil {
		h.log = logging.Component("lifecycle")
	}
	return h, nil
}

// IdleJobName is the job manager key of a guild's idle timer.
func IdleJobName(guildID string) string {
	return "idle:" + guildID
}

// TrackStart cancels the idle timer, refreshes locale and lyrics from the
// store onto the live player and persists it.
func (h *Handlers) TrackStart(ctx context.Context, ev node.TrackStart) {
	// before any I/O, so a timer cannot fire after the new track started
	if h.jobs.Cancel(IdleJobName(ev.GuildID)) {
		h.log.Debug("idle timer cancelled", slog.String("guild", ev.GuildID))
	}

	p := h.adopt(ctx, ev.GuildID)
	if ev.Track != nil {
		if next := p.Queue(); len(next) > 0 && next[0] != nil && next[0].Encoded == ev.Track.Encoded {
			p.Dequeue()
		}
		p.SetCurrent(ev.Track)
		p.SetPlayback(0, false, time.Now())
	}

	overlay, ok, err := h.store.GetLyrics(ctx, ev.GuildID)
	switch {
	case err != nil:
		h.log.Warn("failed to refresh lyrics overlay", slog.String("guild", ev.GuildID), slog.Any("err", err))
	case ok:
		p.SetLyrics(overlay)
	}

	if ev.Track != nil {
		if err := h.stats.RecordTrackStart(ctx, ev.GuildID, player.SanitizeCurrent(ev.Track)); err != nil {
			h.log.Warn("failed to record statistics", slog.String("guild", ev.GuildID), slog.Any("err", err))
		}
	}

	h.persist(ctx, p)
}

// TrackEnd cleans up after the finished track and arms the idle timer.
func (h *Handlers) TrackEnd(ctx context.Context, ev node.TrackEnd) {
	h.finish(ctx, ev.GuildID, "track_end")
}

// QueueEnd is TrackEnd for the last track of the queue.
func (h *Handlers) QueueEnd(ctx context.Context, ev node.QueueEnd) {
	h.finish(ctx, ev.GuildID, "queue_end")
}

func (h *Handlers) finish(ctx context.Context, guildID, reason string) {
	log := h.log.With(slog.String("guild", guildID), slog.String("reason", reason))

	p, ok := h.players.Get(guildID)
	if !ok {
		// no live player: only the persisted pointer is left to clean
		if np, ok, err := h.store.GetNowPlaying(ctx, guildID); err == nil && ok {
			h.cleanNowPlaying(ctx, guildID, np)
			if err := h.store.ClearNowPlaying(ctx, guildID); err != nil {
				log.Warn("failed to clear now playing pointer", slog.Any("err", err))
			}
		}
		return
	}

	h.cleanNowPlaying(ctx, guildID, h.nowPlaying(p))
	p.SetNowPlaying(st.NowPlaying{})
	h.cleanLyrics(ctx, p)
	p.SetCurrent(nil)

	h.persist(ctx, p)

	if h.settings.IsAlwaysOn(guildID) {
		log.Debug("always-on guild, no idle timer")
		return
	}
	h.jobs.Schedule(IdleJobName(guildID), h.idle, func(ctx context.Context) error {
		return h.destroyIdle(ctx, guildID)
	})
	log.Debug("idle timer armed", slog.Duration("after", h.idle))
}

// destroyIdle runs when the idle timer fires. The node reports the destroy
// back as a PlayerDestroy event, which removes the record.
func (h *Handlers) destroyIdle(ctx context.Context, guildID string) error {
	p, ok := h.players.Get(guildID)
	if !ok {
		return nil
	}
	if _, err := p.CurrentTrack(); err == nil {
		return nil
	}
	handle := p.Handle()
	if handle == nil {
		return nil
	}
	h.log.Info("destroying idle player", slog.String("guild", guildID))
	return handle.Destroy(ctx)
}

// PlayerDestroy forgets everything about a guild's player.
func (h *Handlers) PlayerDestroy(ctx context.Context, ev node.PlayerDestroy) {
	h.jobs.Cancel(IdleJobName(ev.GuildID))
	log := h.log.With(slog.String("guild", ev.GuildID))

	var np st.NowPlaying
	var lyricsMsg, lyricsChannel string
	if p, ok := h.players.Remove(ev.GuildID); ok {
		np = h.nowPlaying(p)
		lyrics := p.Lyrics()
		if lyrics.Enabled {
			if handle := p.Handle(); handle != nil {
				if err := handle.UnsubscribeLyrics(ctx); err != nil {
					log.Debug("failed to unsubscribe lyrics", slog.Any("err", err))
				}
			}
		}
		lyricsMsg, lyricsChannel = lyrics.MessageID, p.TextChannelID()
	} else if rec, ok, err := h.store.GetPlayer(ctx, ev.GuildID); err == nil && ok {
		np = rec.NowPlaying()
		lyricsMsg, lyricsChannel = rec.LyricsID, rec.TextChannelID
	}

	h.cleanNowPlaying(ctx, ev.GuildID, np)
	if lyricsMsg != "" && lyricsChannel != "" {
		if err := h.msg.DeleteMessage(ctx, lyricsChannel, lyricsMsg); err != nil {
			log.Debug("failed to delete lyrics message", slog.Any("err", err))
		}
	}

	if err := h.store.DeletePlayer(ctx, ev.GuildID); err != nil {
		log.Error("failed to delete player record", slog.Any("err", err))
		return
	}
	log.Info("player destroyed", slog.String("reason", ev.Reason))
}

// PlayerUpdate persists connection changes. Periodic ticks that change none
// of the persisted connection fields are ignored.
func (h *Handlers) PlayerUpdate(ctx context.Context, ev node.PlayerUpdate) {
	if !ConnectionChanged(ev.Old, ev.New) {
		return
	}
	guildID := ev.New.GuildID
	opts := st.ConnectionOptions(ev.New.Options)

	p, ok := h.players.Get(guildID)
	if !ok && ev.New.VoiceChannelID != "" {
		// a player joining voice is where its record starts
		p, ok = h.adopt(ctx, guildID), true
	}
	if ok {
		n := p.Node()
		if n.ID != ev.New.NodeID {
			n = node.Node{ID: ev.New.NodeID}
		}
		p.SetConnection(ev.New.VoiceChannelID, ev.New.TextChannelID, n, opts)
		p.SetVolume(ev.New.Volume)
		h.persist(ctx, p)
		return
	}

	err := h.store.UpdatePlayer(ctx, guildID, func(rec *st.PlayerRecord, exists bool) error {
		if !exists {
			return storage.ErrSkipWrite
		}
		rec.VoiceChannelID = ev.New.VoiceChannelID
		rec.TextChannelID = ev.New.TextChannelID
		rec.NodeID = ev.New.NodeID
		rec.Options = opts
		v := ev.New.Volume
		rec.Volume = &v
		return nil
	})
	if err != nil {
		h.log.Warn("failed to persist player update", slog.String("guild", guildID), slog.Any("err", err))
	}
}

// adopt returns the live player of a guild, registering one when events
// arrive for a player nothing registered yet: a fresh join, or a restart the
// node did not resume. The stored record, if any, seeds it.
func (h *Handlers) adopt(ctx context.Context, guildID string) *player.Player {
	if p, ok := h.players.Get(guildID); ok {
		return p
	}
	log := h.log.With(slog.String("guild", guildID))

	var handle node.Player
	if h.client != nil {
		if found, ok := h.client.Lookup(guildID); ok {
			handle = found
		}
	}

	p := player.New(guildID, handle)
	rec, stored, err := h.store.GetPlayer(ctx, guildID)
	if err != nil {
		log.Warn("failed to load record for new player", slog.Any("err", err))
	} else if stored {
		p = player.FromRecord(rec)
		p.SetHandle(handle)
	}

	p, added := h.players.PutIfAbsent(p)
	if added {
		log.Info("tracking player", slog.Bool("stored", stored), slog.Bool("handle", handle != nil))
	}
	return p
}

// ConnectionChanged reports whether any persisted connection field differs.
func ConnectionChanged(old, cur node.PlayerState) bool {
	return old.VoiceChannelID != cur.VoiceChannelID ||
		old.TextChannelID != cur.TextChannelID ||
		old.NodeID != cur.NodeID ||
		old.Options != cur.Options ||
		old.Volume != cur.Volume
}

// NodeEvent logs informational node events.
func (h *Handlers) NodeEvent(ev node.Event) {
	switch e := ev.(type) {
	case node.NodeConnected:
		h.log.Info("node connected", slog.String("node", e.Node.ID))
	case node.NodeDisconnected:
		h.log.Warn("node disconnected", slog.String("node", e.Node.ID), slog.String("reason", e.Reason))
	case node.NodeError:
		h.log.Error("node error", slog.String("node", e.Node.ID), slog.Any("err", e.Err))
	case node.NodeReconnecting:
		h.log.Info("node reconnecting", slog.String("node", e.Node.ID))
	}
}

func (h *Handlers) persist(ctx context.Context, p *player.Player) {
	if err := h.store.PutPlayer(ctx, p.Record()); err != nil {
		h.log.Warn("player state not persisted", slog.String("guild", p.GuildID()), slog.Any("err", err))
	}
}

func (h *Handlers) nowPlaying(p *player.Player) st.NowPlaying {
	np := p.NowPlaying()
	if np.ChannelID == "" {
		np.ChannelID = p.TextChannelID()
	}
	return np
}

// cleanNowPlaying deletes the now-playing message, or resets it when it is
// the guild's setup message.
func (h *Handlers) cleanNowPlaying(ctx context.Context, guildID string, np st.NowPlaying) {
	if np.MessageID == "" || np.ChannelID == "" {
		return
	}
	var err error
	if setup := h.settings.SetupMessageID(guildID); setup != "" && setup == np.MessageID {
		err = h.msg.ResetSetupMessage(ctx, np.ChannelID, np.MessageID, h.settings.SetupIdleContent(guildID))
	} else {
		err = h.msg.DeleteMessage(ctx, np.ChannelID, np.MessageID)
	}
	if err != nil {
		h.log.Debug("now playing cleanup failed", slog.String("guild", guildID), slog.Any("err", err))
	}
}

func (h *Handlers) cleanLyrics(ctx context.Context, p *player.Player) {
	lyrics := p.Lyrics()
	if !lyrics.Enabled {
		return
	}
	if handle := p.Handle(); handle != nil {
		if err := handle.UnsubscribeLyrics(ctx); err != nil {
			h.log.Debug("failed to unsubscribe lyrics", slog.String("guild", p.GuildID()), slog.Any("err", err))
		}
	}
	if lyrics.MessageID != "" {
		if ch := p.TextChannelID(); ch != "" {
			if err := h.msg.DeleteMessage(ctx, ch, lyrics.MessageID); err != nil {
				h.log.Debug("failed to delete lyrics message", slog.String("guild", p.GuildID()), slog.Any("err", err))
			}
		}
	}
	p.ClearLyrics()
}

type nopMessenger struct{}

func (nopMessenger) DeleteMessage(context.Context, string, string) error             { return nil }
func (nopMessenger) ResetSetupMessage(context.Context, string, string, string) error { return nil }

type noSettings struct{}

func (noSettings) IsAlwaysOn(string) bool         { return false }
func (noSettings) SetupMessageID(string) string   { return "" }
func (noSettings) SetupIdleContent(string) string { return "" }

type nopStats struct{}

func (nopStats) RecordTrackStart(context.Context, string, *st.CurrentTrack) error { return nil }
