package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/stemsi/gameverify-backend/internal/model"
)

// Store errors shared by every SessionStore implementation.
var (
	ErrSessionNotFound  = errors.New("game session not found")
	ErrDuplicateSession = errors.New("game session already exists")
	// ErrSessionFinalized is returned when a conditional write finds the session
	// already submitted (or expired, for Finalize).
	ErrSessionFinalized = errors.New("game session is finalized")
)

// SessionStore persists game sessions. Every mutating method other than Create
// is a compare-and-set on submitted = false, so a submitted session can never
// change again.
type SessionStore interface {
	Create(ctx context.Context, s *model.GameSession) error
	GetByID(ctx context.Context, sessionID string) (*model.GameSession, error)
	// MarkExpired sets expired = true. Idempotent for already expired sessions.
	MarkExpired(ctx context.Context, sessionID string) error
	// FlagSuspicious sets suspicious = true and appends reason.
	FlagSuspicious(ctx context.Context, sessionID string, reason model.SuspicionReason) error
	// Finalize performs the single PENDING -> SUBMITTED transition and returns
	// the stored record.
	Finalize(ctx context.Context, sessionID string, fin model.Finalization) (*model.GameSession, error)

	ListByUser(ctx context.Context, userID, limit int) ([]model.GameSession, error)
	ListSuspicious(ctx context.Context, page, perPage int) ([]model.GameSession, int64, error)
	BestScore(ctx context.Context, userID int, gameType string) (*int, error)
	CountSuspiciousByUser(ctx context.Context, userID int) (int64, error)
	// ExpireStale marks every pending session started before cutoff as expired
	// and returns their ids.
	ExpireStale(ctx context.Context, cutoff time.Time) ([]string, error)
}

// ─── Transitions shared by the in-process stores ────────────────────────────

func applyExpire(s *model.GameSession) error {
	if s.Submitted {
		return ErrSessionFinalized
	}
	s.Expired = true
	return nil
}

func applyFlag(s *model.GameSession, reason model.SuspicionReason) error {
	if s.Submitted {
		return ErrSessionFinalized
	}
	s.Suspicious = true
	s.SuspicionReasons = append(s.SuspicionReasons, reason)
	return nil
}

func applyFinalize(s *model.GameSession, fin model.Finalization) error {
	if s.Submitted || s.Expired {
		return ErrSessionFinalized
	}
	end := fin.EndTime
	verified, client := fin.VerifiedScore, fin.ClientScore
	s.Submitted = true
	s.EndTime = &end
	s.VerifiedScore = &verified
	s.ClientScore = &client
	s.Signature = fin.Signature
	s.AnswerSnapshot = append([]model.AnswerSubmission(nil), fin.Answers...)
	if fin.Reason != nil {
		s.Suspicious = true
		s.SuspicionReasons = append(s.SuspicionReasons, *fin.Reason)
	}
	return nil
}

func isStale(s *model.GameSession, cutoff time.Time) bool {
	return !s.Submitted && !s.Expired && s.StartTime.Before(cutoff)
}

// ─── Query helpers shared by the in-process stores ──────────────────────────

func sortNewestFirst(sessions []model.GameSession) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].StartTime.After(sessions[j].StartTime)
	})
}

func filterSessions(all []model.GameSession, keep func(*model.GameSession) bool) []model.GameSession {
	var out []model.GameSession
	for i := range all {
		if keep(&all[i]) {
			out = append(out, all[i])
		}
	}
	return out
}

func limitSessions(sessions []model.GameSession, limit int) []model.GameSession {
	if limit > 0 && len(sessions) > limit {
		return sessions[:limit]
	}
	return sessions
}

func pageSessions(sessions []model.GameSession, page, perPage int) []model.GameSession {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		return nil
	}
	start := (page - 1) * perPage
	if start >= len(sessions) {
		return nil
	}
	end := start + perPage
	if end > len(sessions) {
		end = len(sessions)
	}
	return sessions[start:end]
}

func bestScore(sessions []model.GameSession, userID int, gameType string) *int {
	var best *int
	for i := range sessions {
		s := &sessions[i]
		if s.UserID != userID || s.GameType != gameType || s.VerifiedScore == nil {
			continue
		}
		if best == nil || *s.VerifiedScore > *best {
			v := *s.VerifiedScore
			best = &v
		}
	}
	return best
}
