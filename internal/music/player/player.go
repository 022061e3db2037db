package player

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/keshon/playerstate/internal/node"
	st "github.com/keshon/playerstate/internal/storagetypes"
)

var (
	ErrNoTrackPlaying  = errors.New("no track is currently playing")
	ErrNoTracksInQueue = errors.New("no tracks in queue")
)

// Player is the in-memory state of one guild's player. It mirrors
// PlayerRecord field by field and wraps the node-side handle. All methods
// are safe for concurrent use.
type Player struct {
	mu sync.Mutex

	guildID        string
	voiceChannelID string
	textChannelID  string
	node           node.Node
	nodeSessionID  string
	volume         *int
	options        st.ConnectionOptions

	repeatMode st.RepeatMode
	autoplay   bool
	locale     string
	lyrics     st.LyricsOverlay
	nowPlaying st.NowPlaying

	current    *node.Track
	queue      []*node.Track
	paused     bool
	position   time.Duration
	positionAt time.Time

	handle node.Player
}

// New creates a player for guildID bound to a node-side handle, which may be
// nil until the player is connected.
func New(guildID string, handle node.Player) *Player {
	return &Player{
		guildID:    guildID,
		repeatMode: st.RepeatOff,
		handle:     handle,
	}
}

func (p *Player) GuildID() string { return p.guildID }

func (p *Player) Handle() node.Player {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handle
}

func (p *Player) SetHandle(h node.Player) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handle = h
}

// SetConnection stores where the player lives.
func (p *Player) SetConnection(voiceChannelID, textChannelID string, n node.Node, opts st.ConnectionOptions) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.voiceChannelID = voiceChannelID
	p.textChannelID = textChannelID
	p.node = n
	p.options = opts
}

func (p *Player) VoiceChannelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.voiceChannelID
}

func (p *Player) TextChannelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.textChannelID
}

func (p *Player) Node() node.Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.node
}

func (p *Player) SetNode(n node.Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.node = n
}

func (p *Player) SetNodeSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nodeSessionID = sessionID
}

func (p *Player) SetVolume(v int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = &v
}

func (p *Player) RepeatMode() st.RepeatMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.repeatMode
}

func (p *Player) SetRepeatMode(m st.RepeatMode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.repeatMode = st.ParseRepeatMode(string(m))
}

func (p *Player) Autoplay() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.autoplay
}

func (p *Player) SetAutoplay(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.autoplay = on
}

func (p *Player) Locale() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.locale
}

func (p *Player) SetLocale(l string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locale = l
}

// Lyrics returns the lyrics overlay, locale included.
func (p *Player) Lyrics() st.LyricsOverlay {
	p.mu.Lock()
	defer p.mu.Unlock()
	o := p.lyrics
	o.Lyrics = o.Lyrics.Clone()
	o.Locale = p.locale
	return o
}

// SetLyrics replaces the lyrics overlay; a non-empty Locale also updates the
// player locale.
func (p *Player) SetLyrics(o st.LyricsOverlay) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o.Lyrics = o.Lyrics.Clone()
	if o.Locale != "" {
		p.locale = o.Locale
	}
	o.Locale = ""
	p.lyrics = o
}

func (p *Player) ClearLyrics() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lyrics = st.LyricsOverlay{}
}

func (p *Player) NowPlaying() st.NowPlaying {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nowPlaying
}

func (p *Player) SetNowPlaying(np st.NowPlaying) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nowPlaying = np
}

// CurrentTrack returns the loaded track.
func (p *Player) CurrentTrack() (*node.Track, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil, ErrNoTrackPlaying
	}
	return p.current, nil
}

func (p *Player) SetCurrent(t *node.Track) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = t
}

// Queue returns a copy of the upcoming tracks.
func (p *Player) Queue() []*node.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.queue)
}

// SetQueue replaces the upcoming tracks.
func (p *Player) SetQueue(tracks []*node.Track) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = slices.Clone(tracks)
}

// Enqueue appends tracks to the queue.
func (p *Player) Enqueue(tracks ...*node.Track) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, tracks...)
}

// Dequeue pops the next track.
func (p *Player) Dequeue() (*node.Track, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil, ErrNoTracksInQueue
	}
	t := p.queue[0]
	p.queue = p.queue[1:]
	return t, nil
}

// SetPlayback records the node-reported position and paused flag as of at.
func (p *Player) SetPlayback(position time.Duration, paused bool, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = position
	p.paused = paused
	p.positionAt = at
}

func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Position extrapolates the playback position at now from the last sample,
// so callers do not need a node round trip.
func (p *Player) Position(now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return 0
	}
	pos := p.position
	if !p.paused && !p.positionAt.IsZero() && now.After(p.positionAt) {
		pos += now.Sub(p.positionAt)
	}
	if d := p.current.Info.Duration; d > 0 && !p.current.Info.IsStream && pos > d {
		pos = d
	}
	return pos
}

// Idle reports whether nothing is playing and nothing is queued.
func (p *Player) Idle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current == nil && len(p.queue) == 0
}

// Spec returns the creation parameters matching the current state.
func (p *Player) Spec() node.PlayerSpec {
	p.mu.Lock()
	defer p.mu.Unlock()
	spec := node.PlayerSpec{
		GuildID:        p.guildID,
		VoiceChannelID: p.voiceChannelID,
		TextChannelID:  p.textChannelID,
		NodeID:         p.node.ID,
		Options: node.ConnectionOptions{
			SelfDeaf:              p.options.SelfDeaf,
			SelfMute:              p.options.SelfMute,
			ApplyVolumeAsFilter:   p.options.ApplyVolumeAsFilter,
			InstaUpdateFiltersFix: p.options.InstaUpdateFiltersFix,
			VCRegion:              p.options.VCRegion,
		},
	}
	if p.volume != nil {
		v := *p.volume
		spec.Volume = &v
	}
	return spec
}

// Restore copies persisted, non-playback state from a record: channels,
// options, volume, locale, repeat mode, autoplay, lyrics and now-playing
// pointers. Tracks are left alone; they need the node to be rebuilt.
func (p *Player) Restore(rec st.PlayerRecord, n node.Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.voiceChannelID = rec.VoiceChannelID
	p.textChannelID = rec.TextChannelID
	p.node = n
	p.nodeSessionID = rec.NodeSessionID
	p.options = rec.Options
	if rec.Volume != nil {
		v := *rec.Volume
		p.volume = &v
	}
	p.repeatMode = st.ParseRepeatMode(string(rec.RepeatMode))
	p.autoplay = rec.EnabledAutoplay
	p.locale = rec.LocaleString
	p.lyrics = rec.Overlay()
	p.lyrics.Locale = ""
	p.nowPlaying = st.NowPlaying{MessageID: rec.MessageID, ChannelID: rec.MessageChannelID}
}
