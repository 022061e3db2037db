package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	st "github.com/keshon/playerstate/internal/storagetypes"
)

// GetPlayer loads the record of a guild. ok is false when nothing was ever
// persisted, which is not an error.
func (s *Storage) GetPlayer(ctx context.Context, guildID string) (st.PlayerRecord, bool, error) {
	doc, ok, err := s.get(ctx, st.CollectionPlayers, guildID)
	if err != nil || !ok {
		return st.PlayerRecord{}, false, err
	}
	rec, err := decodePlayer(guildID, doc)
	if err != nil {
		return st.PlayerRecord{}, false, err
	}
	return rec, true, nil
}

// PutPlayer replaces the whole record of rec.GuildID.
func (s *Storage) PutPlayer(ctx context.Context, rec st.PlayerRecord) error {
	if rec.GuildID == "" {
		return errors.New("put player: empty guild id")
	}
	unlock := s.locks.Lock(lockKey(st.CollectionPlayers, rec.GuildID))
	defer unlock()

	if err := s.writePlayer(ctx, rec); err != nil {
		s.log.Error("failed to persist player", slog.String("guild", rec.GuildID), slog.Any("err", err))
		return err
	}
	return nil
}

// UpdatePlayer runs fn on the current record (a fresh one when absent) and
// writes the result back, holding the guild's write lock throughout. fn may
// return ErrSkipWrite to leave the stored record untouched. The guild id
// cannot be changed by fn.
func (s *Storage) UpdatePlayer(ctx context.Context, guildID string, fn func(rec *st.PlayerRecord, exists bool) error) error {
	unlock := s.locks.Lock(lockKey(st.CollectionPlayers, guildID))
	defer unlock()

	rec, exists, err := s.GetPlayer(ctx, guildID)
	switch {
	case errors.Is(err, ErrCorrupt):
		s.log.Warn("replacing corrupt player record", slog.String("guild", guildID), slog.Any("err", err))
		rec, exists = st.NewPlayerRecord(guildID), false
	case err != nil:
		s.log.Error("failed to load player for update", slog.String("guild", guildID), slog.Any("err", err))
		return err
	case !exists:
		rec = st.NewPlayerRecord(guildID)
	}

	if err := fn(&rec, exists); err != nil {
		if errors.Is(err, ErrSkipWrite) {
			return nil
		}
		return err
	}
	rec.GuildID = guildID

	if err := s.writePlayer(ctx, rec); err != nil {
		s.log.Error("failed to persist player", slog.String("guild", guildID), slog.Any("err", err))
		return err
	}
	return nil
}

// DeletePlayer removes a guild's record. Missing records are fine.
func (s *Storage) DeletePlayer(ctx context.Context, guildID string) error {
	unlock := s.locks.Lock(lockKey(st.CollectionPlayers, guildID))
	defer unlock()

	if err := s.delete(ctx, st.CollectionPlayers, guildID); err != nil {
		s.log.Error("failed to delete player", slog.String("guild", guildID), slog.Any("err", err))
		return err
	}
	return nil
}

// ListPlayers returns the guild ids that have a record.
func (s *Storage) ListPlayers(ctx context.Context) ([]string, error) {
	return s.keys(ctx, st.CollectionPlayers)
}

// SetAutoplay persists the autoplay flag. No node event fires for this
// toggle, so the command layer calls it directly.
func (s *Storage) SetAutoplay(ctx context.Context, guildID string, on bool) error {
	return s.UpdatePlayer(ctx, guildID, func(rec *st.PlayerRecord, _ bool) error {
		rec.EnabledAutoplay = on
		return nil
	})
}

// writePlayer must be called with the guild's lock held.
func (s *Storage) writePlayer(ctx context.Context, rec st.PlayerRecord) error {
	rec.Normalize()
	rec.UpdatedAt = s.now().UTC()
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode player %s: %w", rec.GuildID, err)
	}
	return s.put(ctx, st.CollectionPlayers, rec.GuildID, doc)
}

func decodePlayer(guildID string, doc []byte) (st.PlayerRecord, error) {
	var rec st.PlayerRecord
	if err := json.Unmarshal(doc, &rec); err != nil {
		return st.PlayerRecord{}, fmt.Errorf("%w: player %s: %v", ErrCorrupt, guildID, err)
	}
	// the key is authoritative for the guild id
	rec.GuildID = guildID
	rec.Normalize()
	return rec, nil
}
