package repository

import (
	"context"
	"sync"
	"time"

	"github.com/stemsi/gameverify-backend/internal/model"
)

// MemorySessionStore keeps sessions in process memory. Used for tests and
// single-node development.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.GameSession
}

var _ SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore creates an empty in-memory store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*model.GameSession)}
}

func (m *MemorySessionStore) Create(ctx context.Context, s *model.GameSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.SessionID]; ok {
		return ErrDuplicateSession
	}
	m.sessions[s.SessionID] = s.Clone()
	return nil
}

func (m *MemorySessionStore) GetByID(ctx context.Context, sessionID string) (*model.GameSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (m *MemorySessionStore) MarkExpired(ctx context.Context, sessionID string) error {
	return m.mutate(ctx, sessionID, applyExpire)
}

func (m *MemorySessionStore) FlagSuspicious(ctx context.Context, sessionID string, reason model.SuspicionReason) error {
	return m.mutate(ctx, sessionID, func(s *model.GameSession) error {
		return applyFlag(s, reason)
	})
}

func (m *MemorySessionStore) Finalize(ctx context.Context, sessionID string, fin model.Finalization) (*model.GameSession, error) {
	var out *model.GameSession
	err := m.mutate(ctx, sessionID, func(s *model.GameSession) error {
		if err := applyFinalize(s, fin); err != nil {
			return err
		}
		out = s.Clone()
		return nil
	})
	return out, err
}

// mutate applies fn to a working copy and only stores it when fn succeeds.
func (m *MemorySessionStore) mutate(ctx context.Context, sessionID string, fn func(*model.GameSession) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	working := s.Clone()
	if err := fn(working); err != nil {
		return err
	}
	m.sessions[sessionID] = working
	return nil
}

func (m *MemorySessionStore) snapshot() []model.GameSession {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.GameSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s.Clone())
	}
	return out
}

func (m *MemorySessionStore) ListByUser(ctx context.Context, userID, limit int) ([]model.GameSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := filterSessions(m.snapshot(), func(s *model.GameSession) bool { return s.UserID == userID })
	sortNewestFirst(out)
	return limitSessions(out, limit), nil
}

func (m *MemorySessionStore) ListSuspicious(ctx context.Context, page, perPage int) ([]model.GameSession, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	out := filterSessions(m.snapshot(), func(s *model.GameSession) bool { return s.Suspicious })
	sortNewestFirst(out)
	return pageSessions(out, page, perPage), int64(len(out)), nil
}

func (m *MemorySessionStore) BestScore(ctx context.Context, userID int, gameType string) (*int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return bestScore(m.snapshot(), userID, gameType), nil
}

func (m *MemorySessionStore) CountSuspiciousByUser(ctx context.Context, userID int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	out := filterSessions(m.snapshot(), func(s *model.GameSession) bool {
		return s.UserID == userID && s.Suspicious
	})
	return int64(len(out)), nil
}

func (m *MemorySessionStore) ExpireStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, s := range m.sessions {
		if isStale(s, cutoff) {
			s.Expired = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}
