// Package storagetypes holds the plain, JSON-serializable records persisted by
// the storage layer. Nothing in here may reference live objects.
package storagetypes

import (
	"slices"
	"time"
)

// Collection names in the document store.
const (
	CollectionPlayers  = "players"
	CollectionSessions = "sessions"
)

type RepeatMode string

const (
	RepeatOff   RepeatMode = "off"
	RepeatTrack RepeatMode = "track"
	RepeatQueue RepeatMode = "queue"
)

// ParseRepeatMode maps unknown or empty values to RepeatOff.
func ParseRepeatMode(s string) RepeatMode {
	switch RepeatMode(s) {
	case RepeatTrack:
		return RepeatTrack
	case RepeatQueue:
		return RepeatQueue
	default:
		return RepeatOff
	}
}

type ConnectionOptions struct {
	SelfDeaf              bool   `json:"selfDeaf,omitempty"`
	SelfMute              bool   `json:"selfMute,omitempty"`
	ApplyVolumeAsFilter   bool   `json:"applyVolumeAsFilter,omitempty"`
	InstaUpdateFiltersFix bool   `json:"instaUpdateFiltersFix,omitempty"`
	VCRegion              string `json:"vcRegion,omitempty"`
}

// Requester is either an opaque user id or a display string, never both
// populated from a live user object.
type Requester struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type TrackInfo struct {
	Title      string `json:"title,omitempty"`
	URI        string `json:"uri,omitempty"`
	Duration   int64  `json:"duration,omitempty"`
	ArtworkURL string `json:"artworkUrl,omitempty"`
}

type QueuedTrackInfo struct {
	Title      string `json:"title,omitempty"`
	URI        string `json:"uri,omitempty"`
	Author     string `json:"author,omitempty"`
	Duration   int64  `json:"duration,omitempty"`
	Identifier string `json:"identifier,omitempty"`
	IsStream   bool   `json:"isStream,omitempty"`
	IsSeekable bool   `json:"isSeekable,omitempty"`
	SourceName string `json:"sourceName,omitempty"`
}

type CurrentTrack struct {
	Encoded   string     `json:"encoded,omitempty"`
	Info      *TrackInfo `json:"info,omitempty"`
	Requester *Requester `json:"requester,omitempty"`
}

type QueuedTrack struct {
	Encoded   string           `json:"encoded,omitempty"`
	Info      *QueuedTrackInfo `json:"info,omitempty"`
	Requester *Requester       `json:"requester,omitempty"`
}

type LyricsLine struct {
	Line      string `json:"line"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type Lyrics struct {
	Provider string       `json:"provider,omitempty"`
	Text     string       `json:"text,omitempty"`
	Lines    []LyricsLine `json:"lines,omitempty"`
}

// LyricsOverlay is the lyrics slice of a PlayerRecord, written as a unit.
type LyricsOverlay struct {
	Enabled   bool
	MessageID string
	Requester string
	Lyrics    *Lyrics
	Locale    string
}

// NowPlaying points at the last "now playing" message of a guild.
type NowPlaying struct {
	MessageID string
	ChannelID string
}

// PlayerRecord is the persisted state of one guild's player.
type PlayerRecord struct {
	GuildID          string            `json:"guildId"`
	VoiceChannelID   string            `json:"voiceChannelId,omitempty"`
	TextChannelID    string            `json:"textChannelId,omitempty"`
	NodeID           string            `json:"nodeId,omitempty"`
	NodeSessionID    string            `json:"nodeSessionId,omitempty"`
	Volume           *int              `json:"volume,omitempty"`
	Options          ConnectionOptions `json:"options"`
	RepeatMode       RepeatMode        `json:"repeatMode"`
	EnabledAutoplay  bool              `json:"enabledAutoplay,omitempty"`
	MessageID        string            `json:"messageId,omitempty"`
	MessageChannelID string            `json:"messageChannelId,omitempty"`
	LyricsEnabled    bool              `json:"lyricsEnabled,omitempty"`
	LyricsID         string            `json:"lyricsId,omitempty"`
	LyricsRequester  string            `json:"lyricsRequester,omitempty"`
	Lyrics           *Lyrics           `json:"lyrics,omitempty"`
	LocaleString     string            `json:"localeString,omitempty"`
	Track            *CurrentTrack     `json:"track,omitempty"`
	Queue            []QueuedTrack     `json:"queue,omitempty"`
	UpdatedAt        time.Time         `json:"updatedAt,omitzero"`
}

// NewPlayerRecord returns an empty record with defaults applied.
func NewPlayerRecord(guildID string) PlayerRecord {
	return PlayerRecord{GuildID: guildID, RepeatMode: RepeatOff}
}

// IsIdle reports whether nothing is playing and nothing is queued.
func (r *PlayerRecord) IsIdle() bool {
	return r.Track == nil && len(r.Queue) == 0
}

func (r *PlayerRecord) Overlay() LyricsOverlay {
	return LyricsOverlay{
		Enabled:   r.LyricsEnabled,
		MessageID: r.LyricsID,
		Requester: r.LyricsRequester,
		Lyrics:    r.Lyrics.Clone(),
		Locale:    r.LocaleString,
	}
}

func (r *PlayerRecord) SetOverlay(o LyricsOverlay) {
	r.LyricsEnabled = o.Enabled
	r.LyricsID = o.MessageID
	r.LyricsRequester = o.Requester
	r.Lyrics = o.Lyrics.Clone()
	r.LocaleString = o.Locale
}

// ClearLyrics resets the lyrics fields but keeps the locale, which is not
// lyrics specific.
func (r *PlayerRecord) ClearLyrics() {
	r.LyricsEnabled = false
	r.LyricsID = ""
	r.LyricsRequester = ""
	r.Lyrics = nil
}

// NowPlaying falls back to the text channel when no message channel was stored.
func (r *PlayerRecord) NowPlaying() NowPlaying {
	ch := r.MessageChannelID
	if ch == "" {
		ch = r.TextChannelID
	}
	return NowPlaying{MessageID: r.MessageID, ChannelID: ch}
}

// Normalize repairs defaults that a schemaless store may have lost.
func (r *PlayerRecord) Normalize() {
	r.RepeatMode = ParseRepeatMode(string(r.RepeatMode))
}

// Clone returns a deep copy.
func (r PlayerRecord) Clone() PlayerRecord {
	out := r
	if r.Volume != nil {
		v := *r.Volume
		out.Volume = &v
	}
	out.Lyrics = r.Lyrics.Clone()
	out.Track = r.Track.Clone()
	if r.Queue != nil {
		out.Queue = make([]QueuedTrack, len(r.Queue))
		for i := range r.Queue {
			out.Queue[i] = r.Queue[i].Clone()
		}
	}
	return out
}

func (l *Lyrics) Clone() *Lyrics {
	if l == nil {
		return nil
	}
	out := *l
	out.Lines = slices.Clone(l.Lines)
	return &out
}

func (q *Requester) Clone() *Requester {
	if q == nil {
		return nil
	}
	out := *q
	return &out
}

func (t *CurrentTrack) Clone() *CurrentTrack {
	if t == nil {
		return nil
	}
	out := *t
	if t.Info != nil {
		info := *t.Info
		out.Info = &info
	}
	out.Requester = t.Requester.Clone()
	return &out
}

func (t QueuedTrack) Clone() QueuedTrack {
	out := t
	if t.Info != nil {
		info := *t.Info
		out.Info = &info
	}
	out.Requester = t.Requester.Clone()
	return out
}
