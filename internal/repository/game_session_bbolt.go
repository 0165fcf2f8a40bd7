package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/stemsi/gameverify-backend/internal/model"
	"go.etcd.io/bbolt"
)

const gameSessionBucket = "game_sessions"

// BBoltSessionStore persists sessions as JSON documents in a single bbolt
// bucket. bbolt serialises writers, so every Update is its own compare-and-set.
type BBoltSessionStore struct {
	db *bbolt.DB
}

var _ SessionStore = (*BBoltSessionStore)(nil)

// OpenBBoltSessionStore opens (or creates) the database file at path.
func OpenBBoltSessionStore(path string) (*BBoltSessionStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("bbolt path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(gameSessionBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create %s bucket: %w", gameSessionBucket, err)
	}

	return &BBoltSessionStore{db: db}, nil
}

// Close closes the underlying database.
func (b *BBoltSessionStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func getSession(bucket *bbolt.Bucket, sessionID string) (*model.GameSession, error) {
	payload := bucket.Get([]byte(sessionID))
	if payload == nil {
		return nil, ErrSessionNotFound
	}
	var s model.GameSession
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", sessionID, err)
	}
	return &s, nil
}

func putSession(bucket *bbolt.Bucket, s *model.GameSession) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", s.SessionID, err)
	}
	return bucket.Put([]byte(s.SessionID), payload)
}

func (b *BBoltSessionStore) Create(ctx context.Context, s *model.GameSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(gameSessionBucket))
		if bucket.Get([]byte(s.SessionID)) != nil {
			return ErrDuplicateSession
		}
		return putSession(bucket, s)
	})
}

func (b *BBoltSessionStore) GetByID(ctx context.Context, sessionID string) (*model.GameSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *model.GameSession
	err := b.db.View(func(tx *bbolt.Tx) error {
		s, err := getSession(tx.Bucket([]byte(gameSessionBucket)), sessionID)
		out = s
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BBoltSessionStore) MarkExpired(ctx context.Context, sessionID string) error {
	return b.mutate(ctx, sessionID, applyExpire)
}

func (b *BBoltSessionStore) FlagSuspicious(ctx context.Context, sessionID string, reason model.SuspicionReason) error {
	return b.mutate(ctx, sessionID, func(s *model.GameSession) error {
		return applyFlag(s, reason)
	})
}

func (b *BBoltSessionStore) Finalize(ctx context.Context, sessionID string, fin model.Finalization) (*model.GameSession, error) {
	var out *model.GameSession
	err := b.mutate(ctx, sessionID, func(s *model.GameSession) error {
		if err := applyFinalize(s, fin); err != nil {
			return err
		}
		out = s.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BBoltSessionStore) mutate(ctx context.Context, sessionID string, fn func(*model.GameSession) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(gameSessionBucket))
		s, err := getSession(bucket, sessionID)
		if err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
		return putSession(bucket, s)
	})
}

func (b *BBoltSessionStore) all() ([]model.GameSession, error) {
	var out []model.GameSession
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(gameSessionBucket)).ForEach(func(k, v []byte) error {
			var s model.GameSession
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("unmarshal session %s: %w", k, err)
			}
			out = append(out, s)
			return nil
		})
	})
	return out, err
}

func (b *BBoltSessionStore) ListByUser(ctx context.Context, userID, limit int) ([]model.GameSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all, err := b.all()
	if err != nil {
		return nil, err
	}
	out := filterSessions(all, func(s *model.GameSession) bool { return s.UserID == userID })
	sortNewestFirst(out)
	return limitSessions(out, limit), nil
}

func (b *BBoltSessionStore) ListSuspicious(ctx context.Context, page, perPage int) ([]model.GameSession, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	all, err := b.all()
	if err != nil {
		return nil, 0, err
	}
	out := filterSessions(all, func(s *model.GameSession) bool { return s.Suspicious })
	sortNewestFirst(out)
	return pageSessions(out, page, perPage), int64(len(out)), nil
}

func (b *BBoltSessionStore) BestScore(ctx context.Context, userID int, gameType string) (*int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all, err := b.all()
	if err != nil {
		return nil, err
	}
	return bestScore(all, userID, gameType), nil
}

func (b *BBoltSessionStore) CountSuspiciousByUser(ctx context.Context, userID int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	all, err := b.all()
	if err != nil {
		return 0, err
	}
	out := filterSessions(all, func(s *model.GameSession) bool {
		return s.UserID == userID && s.Suspicious
	})
	return int64(len(out)), nil
}

func (b *BBoltSessionStore) ExpireStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ids []string
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(gameSessionBucket))
		var stale []*model.GameSession
		err := bucket.ForEach(func(k, v []byte) error {
			var s model.GameSession
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("unmarshal session %s: %w", k, err)
			}
			if isStale(&s, cutoff) {
				stale = append(stale, &s)
			}
			return nil
		})
		if err != nil {
			return err
		}
		// Writes happen after ForEach; mutating a bucket during iteration is unsafe.
		for _, s := range stale {
			s.Expired = true
			if err := putSession(bucket, s); err != nil {
				return err
			}
			ids = append(ids, s.SessionID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
