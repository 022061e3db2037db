// Package nodetest provides an in-memory node client for tests.
package nodetest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/keshon/playerstate/internal/node"
)

// Client records every player it creates. Fail* fields inject errors.
type Client struct {
	mu      sync.Mutex
	players map[string]*Player
	created []node.PlayerSpec

	// FailCreate makes CreatePlayer fail for these guilds.
	FailCreate map[string]error
	// FailSeek, FailPlay and FailLyrics are copied onto created players.
	FailSeek   map[string]error
	FailPlay   map[string]error
	FailLyrics map[string]error
	// NodeQueue is returned by Player.Queue for a guild.
	NodeQueue map[string][]*node.Track
	// CreateDelay stalls CreatePlayer for a guild.
	CreateDelay map[string]time.Duration
}

func NewClient() *Client {
	return &Client{
		players:     make(map[string]*Player),
		FailCreate:  make(map[string]error),
		FailSeek:    make(map[string]error),
		FailPlay:    make(map[string]error),
		FailLyrics:  make(map[string]error),
		NodeQueue:   make(map[string][]*node.Track),
		CreateDelay: make(map[string]time.Duration),
	}
}

func (c *Client) CreatePlayer(ctx context.Context, spec node.PlayerSpec) (node.Player, error) {
	c.mu.Lock()
	delay := c.CreateDelay[spec.GuildID]
	failErr := c.FailCreate[spec.GuildID]
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failErr != nil {
		return nil, failErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	p := &Player{
		guildID:   spec.GuildID,
		Spec:      spec,
		seekErr:   c.FailSeek[spec.GuildID],
		playErr:   c.FailPlay[spec.GuildID],
		lyricsErr: c.FailLyrics[spec.GuildID],
		nodeQueue: c.NodeQueue[spec.GuildID],
	}
	c.players[spec.GuildID] = p
	c.created = append(c.created, spec)
	return p, nil
}

// DecodeTrack accepts payloads of the form "enc:<title>".
func (c *Client) DecodeTrack(_ context.Context, encoded string) (*node.Track, error) {
	title, ok := strings.CutPrefix(encoded, "enc:")
	if !ok {
		return nil, fmt.Errorf("%w: %q", node.ErrInvalidTrack, encoded)
	}
	return &node.Track{Encoded: encoded, Info: node.TrackInfo{Title: title}}, nil
}

// Lookup implements node.Client.
func (c *Client) Lookup(guildID string) (node.Player, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.players[guildID]
	if !ok {
		return nil, false
	}
	return p, true
}

// Attach registers an existing player, as if the command layer had
// created it through the client.
func (c *Client) Attach(p *Player) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.players[p.guildID] = p
}

// Player returns the player created for a guild, or nil.
func (c *Client) Player(guildID string) *Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.players[guildID]
}

// Created returns the specs of all created players.
func (c *Client) Created() []node.PlayerSpec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]node.PlayerSpec(nil), c.created...)
}

// Encode builds a payload DecodeTrack understands.
func Encode(title string) string {
	return "enc:" + title
}

// Player records the calls made on it.
type Player struct {
	mu      sync.Mutex
	guildID string
	Spec    node.PlayerSpec

	calls      []string
	played     []node.PlayOptions
	seeks      []time.Duration
	filters    node.Filters
	repeatMode string
	subscribed bool
	destroyed  int

	seekErr   error
	playErr   error
	lyricsErr error
	nodeQueue []*node.Track
}

// NewPlayer returns a standalone player, handy for lifecycle tests.
func NewPlayer(guildID string) *Player {
	return &Player{guildID: guildID}
}

func (p *Player) record(call string) {
	p.calls = append(p.calls, call)
}

func (p *Player) GuildID() string { return p.guildID }

func (p *Player) Connect(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("connect")
	return nil
}

func (p *Player) Play(_ context.Context, opts node.PlayOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("play")
	if p.playErr != nil {
		return p.playErr
	}
	p.played = append(p.played, opts)
	return nil
}

func (p *Player) Seek(_ context.Context, pos time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("seek")
	if p.seekErr != nil {
		return p.seekErr
	}
	p.seeks = append(p.seeks, pos)
	return nil
}

func (p *Player) Destroy(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("destroy")
	p.destroyed++
	return nil
}

func (p *Player) SetFilters(_ context.Context, f node.Filters) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("filters")
	p.filters = f
	return nil
}

func (p *Player) SetRepeatMode(_ context.Context, mode string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("repeat")
	p.repeatMode = mode
	return nil
}

func (p *Player) SubscribeLyrics(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("lyrics:subscribe")
	if p.lyricsErr != nil {
		return p.lyricsErr
	}
	p.subscribed = true
	return nil
}

func (p *Player) UnsubscribeLyrics(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("lyrics:unsubscribe")
	p.subscribed = false
	return nil
}

func (p *Player) Queue(context.Context) ([]*node.Track, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nodeQueue == nil {
		return nil, errors.New("queue unavailable")
	}
	return p.nodeQueue, nil
}

func (p *Player) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *Player) Played() []node.PlayOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]node.PlayOptions(nil), p.played...)
}

func (p *Player) Seeks() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.seeks...)
}

func (p *Player) Filters() node.Filters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filters
}

func (p *Player) RepeatMode() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.repeatMode
}

func (p *Player) Subscribed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subscribed
}

func (p *Player) Destroyed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}
