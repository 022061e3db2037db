// Package node describes the audio node client this module drives. The
// client itself (wire protocol, decoding, voice transport) lives elsewhere;
// only the calls and events the persistence layer needs are modelled here.
package node

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNoTrack      = errors.New("no track to play")
	ErrInvalidTrack = errors.New("track payload cannot be decoded")
)

// Node identifies one audio node.
type Node struct {
	ID   string
	Host string // host identity, key of the session registry
}

// ConnectionOptions are the voice connection flags a player is created with.
type ConnectionOptions struct {
	SelfDeaf              bool
	SelfMute              bool
	ApplyVolumeAsFilter   bool
	InstaUpdateFiltersFix bool
	VCRegion              string
}

// PlayerSpec is what CreatePlayer needs to build a player.
type PlayerSpec struct {
	GuildID        string
	VoiceChannelID string
	TextChannelID  string
	NodeID         string
	Volume         *int
	Options        ConnectionOptions
}

// TrackInfo is the node's full description of a track. Only part of it is
// ever persisted.
type TrackInfo struct {
	Identifier string
	Title      string
	Author     string
	URI        string
	ArtworkURL string
	ISRC       string
	SourceName string
	Duration   time.Duration
	Position   time.Duration
	IsStream   bool
	IsSeekable bool
}

// Track is a decoded track as handed out by the node client. Requester is
// whatever the command layer attached (a *discordgo.User, a member, a name).
type Track struct {
	Encoded    string
	Info       TrackInfo
	Requester  any
	PluginInfo map[string]any
	UserData   map[string]any
}

// PlayOptions is passed to Player.Play.
type PlayOptions struct {
	Track     *Track
	NoReplace bool
	Position  time.Duration
	Paused    bool
}

// Filters is node-side filter state, passed through untouched.
type Filters map[string]any

// Player is the node-side handle of one guild's player.
type Player interface {
	GuildID() string
	Connect(ctx context.Context) error
	Play(ctx context.Context, opts PlayOptions) error
	Seek(ctx context.Context, position time.Duration) error
	Destroy(ctx context.Context) error
	SetFilters(ctx context.Context, f Filters) error
	SetRepeatMode(ctx context.Context, mode string) error
	SubscribeLyrics(ctx context.Context) error
	UnsubscribeLyrics(ctx context.Context) error
	// Queue returns the node's current view of the upcoming tracks.
	Queue(ctx context.Context) ([]*Track, error)
}

// Client creates players and decodes track payloads.
type Client interface {
	CreatePlayer(ctx context.Context, spec PlayerSpec) (Player, error)
	DecodeTrack(ctx context.Context, encoded string) (*Track, error)
	// Lookup returns the handle of a player the client already holds, such
	// as one the command layer created on join.
	Lookup(guildID string) (Player, bool)
}

// VoiceState is the node's view of a player's voice connection.
type VoiceState struct {
	Connected bool
	Ping      time.Duration
}

// LivePlayer is a snapshot of a player the node kept alive across a
// disconnect, as reported by a resume notification.
type LivePlayer struct {
	GuildID  string
	Voice    VoiceState
	Track    *Track // encoded payload of the playing track, if any
	Paused   bool
	Position time.Duration
	Filters  Filters
	Volume   *int // nil when the node did not report it
	// ReportedAt is when the node sampled Position.
	ReportedAt time.Time
}

// Playing reports whether the node says a track is loaded.
func (l LivePlayer) Playing() bool {
	return l.Track != nil && l.Track.Encoded != ""
}
