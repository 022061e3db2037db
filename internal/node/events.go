package node

// Event is anything the node client emits. The engine consumes them from a
// single channel.
type Event interface {
	isEvent()
}

type NodeConnected struct{ Node Node }

type NodeDisconnected struct {
	Node   Node
	Reason string
}

type NodeError struct {
	Node Node
	Err  error
}

type NodeReconnecting struct{ Node Node }

// Resumed is sent when a node reattaches to its previous session.
type Resumed struct {
	Node      Node
	SessionID string
	Players   []LivePlayer
}

// PlayerState is the part of a player that PlayerUpdate compares.
type PlayerState struct {
	GuildID        string
	VoiceChannelID string
	TextChannelID  string
	NodeID         string
	Volume         int
	Options        ConnectionOptions
}

type TrackStart struct {
	GuildID string
	Track   *Track
}

type TrackEnd struct {
	GuildID string
	Track   *Track
	Reason  string
}

type QueueEnd struct{ GuildID string }

type PlayerDestroy struct {
	GuildID string
	Reason  string
}

type PlayerUpdate struct {
	Old PlayerState
	New PlayerState
}

func (NodeConnected) isEvent()    {}
func (NodeDisconnected) isEvent() {}
func (NodeError) isEvent()        {}
func (NodeReconnecting) isEvent() {}
func (Resumed) isEvent()          {}
func (TrackStart) isEvent()       {}
func (TrackEnd) isEvent()         {}
func (QueueEnd) isEvent()         {}
func (PlayerDestroy) isEvent()    {}
func (PlayerUpdate) isEvent()     {}
