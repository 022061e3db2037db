package storage

import (
	"context"

	st "github.com/keshon/playerstate/internal/storagetypes"
)

// GetNowPlaying returns the last now-playing message of a guild. ok is false
// when there is no record or no message.
func (s *Storage) GetNowPlaying(ctx context.Context, guildID string) (st.NowPlaying, bool, error) {
	rec, ok, err := s.GetPlayer(ctx, guildID)
	if err != nil || !ok {
		return st.NowPlaying{}, false, err
	}
	np := rec.NowPlaying()
	return np, np.MessageID != "", nil
}

func (s *Storage) SetNowPlaying(ctx context.Context, guildID string, np st.NowPlaying) error {
	return s.UpdatePlayer(ctx, guildID, func(rec *st.PlayerRecord, _ bool) error {
		rec.MessageID = np.MessageID
		rec.MessageChannelID = np.ChannelID
		return nil
	})
}

// ClearNowPlaying forgets the pointer. Nothing is written when there was none.
func (s *Storage) ClearNowPlaying(ctx context.Context, guildID string) error {
	return s.UpdatePlayer(ctx, guildID, func(rec *st.PlayerRecord, exists bool) error {
		if !exists || (rec.MessageID == "" && rec.MessageChannelID == "") {
			return ErrSkipWrite
		}
		rec.MessageID = ""
		rec.MessageChannelID = ""
		return nil
	})
}
