package storage

import (
	"context"
	"maps"
)

// statser is implemented by backends that can describe themselves.
type statser interface {
	Stats() map[string]any
}

// Stats counts stored players and node sessions and adds what the backend
// reports about itself.
func (s *Storage) Stats(ctx context.Context) (map[string]any, error) {
	players, err := s.ListPlayers(ctx)
	if err != nil {
		return nil, err
	}
	sessions, err := s.ListSessions(ctx)
	if err != nil {
		return nil, err
	}

	out := map[string]any{}
	if b, ok := s.backend.(statser); ok {
		maps.Copy(out, b.Stats())
	}
	out["players"] = len(players)
	out["sessions"] = len(sessions)
	return out, nil
}
