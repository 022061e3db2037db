package player

import "sync"

// Registry holds the live players by guild id.
type Registry struct {
	mu      sync.RWMutex
	players map[string]*Player
}

func NewRegistry() *Registry {
	return &Registry{players: make(map[string]*Player)}
}

// Get returns the player of a guild, if any.
func (r *Registry) Get(guildID string) (*Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[guildID]
	return p, ok
}

// PutIfAbsent stores p unless the guild already has a player, and returns
// the player that ends up registered. ok is true when p was stored.
func (r *Registry) PutIfAbsent(p *Player) (registered *Player, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, exists := r.players[p.GuildID()]; exists {
		return cur, false
	}
	r.players[p.GuildID()] = p
	return p, true
}

// Put stores p, replacing any previous player of the same guild.
func (r *Registry) Put(p *Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.players[p.GuildID()] = p
}

// Remove drops the player of a guild and returns it.
func (r *Registry) Remove(guildID string) (*Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[guildID]
	delete(r.players, guildID)
	return p, ok
}
