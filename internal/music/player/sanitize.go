package player

import (
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/playerstate/internal/node"
	st "github.com/keshon/playerstate/internal/storagetypes"
)

// Record projects the live player onto a PlayerRecord. The result holds
// plain values only: no node handle, no requester objects, no plugin data,
// and no pointer shared with the player.
func (p *Player) Record() st.PlayerRecord {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec := st.NewPlayerRecord(p.guildID)
	rec.VoiceChannelID = p.voiceChannelID
	rec.TextChannelID = p.textChannelID
	rec.NodeID = p.node.ID
	rec.NodeSessionID = p.nodeSessionID
	if p.volume != nil {
		v := *p.volume
		rec.Volume = &v
	}
	rec.Options = p.options
	rec.RepeatMode = st.ParseRepeatMode(string(p.repeatMode))
	rec.EnabledAutoplay = p.autoplay
	rec.MessageID = p.nowPlaying.MessageID
	rec.MessageChannelID = p.nowPlaying.ChannelID

	overlay := p.lyrics
	overlay.Locale = p.locale
	rec.SetOverlay(overlay)

	rec.Track = SanitizeCurrent(p.current)
	if len(p.queue) > 0 {
		rec.Queue = make([]st.QueuedTrack, 0, len(p.queue))
		for _, t := range p.queue {
			if t == nil {
				continue
			}
			rec.Queue = append(rec.Queue, SanitizeQueued(t))
		}
	}
	return rec
}

// SanitizeCurrent keeps the encoded payload, the allow-listed info fields and
// a reduced requester of the playing track.
func SanitizeCurrent(t *node.Track) *st.CurrentTrack {
	if t == nil {
		return nil
	}
	return &st.CurrentTrack{
		Encoded: t.Encoded,
		Info: &st.TrackInfo{
			Title:      t.Info.Title,
			URI:        t.Info.URI,
			Duration:   t.Info.Duration.Milliseconds(),
			ArtworkURL: t.Info.ArtworkURL,
		},
		Requester: SanitizeRequester(t.Requester),
	}
}

// SanitizeQueued is SanitizeCurrent for upcoming tracks, which keep a few
// more info fields.
func SanitizeQueued(t *node.Track) st.QueuedTrack {
	return st.QueuedTrack{
		Encoded: t.Encoded,
		Info: &st.QueuedTrackInfo{
			Title:      t.Info.Title,
			URI:        t.Info.URI,
			Author:     t.Info.Author,
			Duration:   t.Info.Duration.Milliseconds(),
			Identifier: t.Info.Identifier,
			IsStream:   t.Info.IsStream,
			IsSeekable: t.Info.IsSeekable,
			SourceName: t.Info.SourceName,
		},
		Requester: SanitizeRequester(t.Requester),
	}
}

// RequesterIdentifier is implemented by requester types outside discordgo.
type RequesterIdentifier interface {
	RequesterID() string
}

// SanitizeRequester reduces a requester to an id or a display string.
// Unknown types are dropped.
func SanitizeRequester(r any) *st.Requester {
	switch v := r.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return &st.Requester{Name: v}
	case *discordgo.User:
		if v == nil || v.ID == "" {
			return nil
		}
		return &st.Requester{ID: v.ID}
	case *discordgo.Member:
		if v == nil || v.User == nil || v.User.ID == "" {
			return nil
		}
		return &st.Requester{ID: v.User.ID}
	case st.Requester:
		return requesterOrNil(v)
	case *st.Requester:
		if v == nil {
			return nil
		}
		return requesterOrNil(*v)
	case RequesterIdentifier:
		if id := v.RequesterID(); id != "" {
			return &st.Requester{ID: id}
		}
		return nil
	default:
		return nil
	}
}

func requesterOrNil(r st.Requester) *st.Requester {
	if r.ID != "" {
		return &st.Requester{ID: r.ID}
	}
	if r.Name != "" {
		return &st.Requester{Name: r.Name}
	}
	return nil
}

// TrackFromCurrent rebuilds a node track from a persisted current track.
func TrackFromCurrent(c *st.CurrentTrack) *node.Track {
	if c == nil {
		return nil
	}
	t := &node.Track{Encoded: c.Encoded, Requester: c.Requester.Clone()}
	if c.Info != nil {
		t.Info = node.TrackInfo{
			Title:      c.Info.Title,
			URI:        c.Info.URI,
			Duration:   time.Duration(c.Info.Duration) * time.Millisecond,
			ArtworkURL: c.Info.ArtworkURL,
		}
	}
	return t
}

// TrackFromQueued rebuilds a node track from a persisted queue entry.
func TrackFromQueued(q st.QueuedTrack) *node.Track {
	t := &node.Track{Encoded: q.Encoded, Requester: q.Requester.Clone()}
	if q.Info != nil {
		t.Info = node.TrackInfo{
			Title:      q.Info.Title,
			URI:        q.Info.URI,
			Author:     q.Info.Author,
			Duration:   time.Duration(q.Info.Duration) * time.Millisecond,
			Identifier: q.Info.Identifier,
			IsStream:   q.Info.IsStream,
			IsSeekable: q.Info.IsSeekable,
			SourceName: q.Info.SourceName,
		}
	}
	return t
}

// FromRecord builds a detached player (no node handle) holding everything a
// record describes, tracks included.
func FromRecord(rec st.PlayerRecord) *Player {
	p := New(rec.GuildID, nil)
	p.Restore(rec, node.Node{ID: rec.NodeID})
	p.current = TrackFromCurrent(rec.Track)
	for _, q := range rec.Queue {
		p.queue = append(p.queue, TrackFromQueued(q))
	}
	return p
}
