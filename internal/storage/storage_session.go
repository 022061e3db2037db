package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	st "github.com/keshon/playerstate/internal/storagetypes"
)

type sessionDoc struct {
	SessionID string    `json:"sessionId"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// GetSession returns the last session id persisted for a node host.
func (s *Storage) GetSession(ctx context.Context, host string) (string, bool, error) {
	doc, ok, err := s.get(ctx, st.CollectionSessions, host)
	if err != nil || !ok {
		return "", false, err
	}
	var sd sessionDoc
	if err := json.Unmarshal(doc, &sd); err != nil {
		return "", false, fmt.Errorf("%w: session %s: %v", ErrCorrupt, host, err)
	}
	return sd.SessionID, sd.SessionID != "", nil
}

// ListSessions returns host -> session id for every stored node session.
// Unreadable entries are skipped with a warning.
func (s *Storage) ListSessions(ctx context.Context) (map[string]string, error) {
	hosts, err := s.keys(ctx, st.CollectionSessions)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(hosts))
	for _, host := range hosts {
		id, ok, err := s.GetSession(ctx, host)
		if err != nil {
			if errors.Is(err, ErrCorrupt) {
				s.log.Warn("skipping unreadable session", slog.String("host", host), slog.Any("err", err))
				continue
			}
			return nil, err
		}
		if ok {
			out[host] = id
		}
	}
	return out, nil
}

func (s *Storage) PutSession(ctx context.Context, host, sessionID string) error {
	if host == "" {
		return errors.New("put session: empty host")
	}
	unlock := s.locks.Lock(lockKey(st.CollectionSessions, host))
	defer unlock()

	doc, err := json.Marshal(sessionDoc{SessionID: sessionID, UpdatedAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode session %s: %w", host, err)
	}
	if err := s.put(ctx, st.CollectionSessions, host, doc); err != nil {
		s.log.Error("failed to persist session", slog.String("host", host), slog.Any("err", err))
		return err
	}
	return nil
}

func (s *Storage) ClearSession(ctx context.Context, host string) error {
	unlock := s.locks.Lock(lockKey(st.CollectionSessions, host))
	defer unlock()
	return s.delete(ctx, st.CollectionSessions, host)
}

// PruneSessions deletes every session whose host is not in validHosts and
// returns the removed hosts, sorted.
func (s *Storage) PruneSessions(ctx context.Context, validHosts []string) ([]string, error) {
	hosts, err := s.keys(ctx, st.CollectionSessions)
	if err != nil {
		return nil, err
	}
	var removed []string
	var errs []error
	for _, host := range hosts {
		if slices.Contains(validHosts, host) {
			continue
		}
		if err := s.ClearSession(ctx, host); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, host)
	}
	if len(removed) > 0 {
		s.log.Info("pruned stale node sessions", slog.Any("hosts", removed))
	}
	return removed, errors.Join(errs...)
}
