package storage

import (
	"context"

	st "github.com/keshon/playerstate/internal/storagetypes"
)

// GetLyrics returns the lyrics overlay of a guild. ok is false when the
// guild has no record.
func (s *Storage) GetLyrics(ctx context.Context, guildID string) (st.LyricsOverlay, bool, error) {
	rec, ok, err := s.GetPlayer(ctx, guildID)
	if err != nil || !ok {
		return st.LyricsOverlay{}, false, err
	}
	return rec.Overlay(), true, nil
}

// SetLyrics writes the whole overlay as a unit, creating the record if needed.
func (s *Storage) SetLyrics(ctx context.Context, guildID string, o st.LyricsOverlay) error {
	return s.UpdatePlayer(ctx, guildID, func(rec *st.PlayerRecord, _ bool) error {
		rec.SetOverlay(o)
		return nil
	})
}

// ClearLyrics turns lyrics off. The locale survives and guilds without a
// record are left alone.
func (s *Storage) ClearLyrics(ctx context.Context, guildID string) error {
	return s.UpdatePlayer(ctx, guildID, func(rec *st.PlayerRecord, exists bool) error {
		if !exists {
			return ErrSkipWrite
		}
		rec.ClearLyrics()
		return nil
	})
}
