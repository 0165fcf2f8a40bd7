package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/gameverify-backend/internal/model"
)

const pgUniqueViolation = "23505"

const sessionColumns = `session_id, user_id, game_type, level_id, start_time, end_time,
	submitted, expired, question_snapshot, verified_score, client_score, signature,
	answer_snapshot, suspicious, suspicion_reasons`

// GameSessionRepository handles game session data access in PostgreSQL.
type GameSessionRepository struct {
	pool *pgxpool.Pool
}

var _ SessionStore = (*GameSessionRepository)(nil)

// NewGameSessionRepository creates a new GameSessionRepository.
func NewGameSessionRepository(pool *pgxpool.Pool) *GameSessionRepository {
	return &GameSessionRepository{pool: pool}
}

func scanSession(row pgx.Row) (*model.GameSession, error) {
	s := &model.GameSession{}
	err := row.Scan(
		&s.SessionID, &s.UserID, &s.GameType, &s.LevelID, &s.StartTime, &s.EndTime,
		&s.Submitted, &s.Expired, &s.QuestionSnapshot, &s.VerifiedScore, &s.ClientScore, &s.Signature,
		&s.AnswerSnapshot, &s.Suspicious, &s.SuspicionReasons,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func collectSessions(rows pgx.Rows) ([]model.GameSession, error) {
	defer rows.Close()

	var sessions []model.GameSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// Create inserts a new pending game session. The question snapshot is written
// here and never again.
func (r *GameSessionRepository) Create(ctx context.Context, s *model.GameSession) error {
	questions := s.QuestionSnapshot
	if questions == nil {
		questions = []model.QuestionSnapshot{}
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO game_sessions (session_id, user_id, game_type, level_id, start_time, question_snapshot)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		s.SessionID, s.UserID, s.GameType, s.LevelID, s.StartTime, questions,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateSession
		}
		return fmt.Errorf("insert game session: %w", err)
	}
	return nil
}

// GetByID retrieves a session by its id.
func (r *GameSessionRepository) GetByID(ctx context.Context, sessionID string) (*model.GameSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM game_sessions WHERE session_id = $1`, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return s, err
}

// MarkExpired flags a pending session as expired.
func (r *GameSessionRepository) MarkExpired(ctx context.Context, sessionID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE game_sessions SET expired = true
		 WHERE session_id = $1 AND submitted = false`, sessionID)
	if err != nil {
		return fmt.Errorf("mark expired: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrFinalized(ctx, sessionID)
	}
	return nil
}

// FlagSuspicious sets the suspicious flag and appends reason to the audit list.
func (r *GameSessionRepository) FlagSuspicious(ctx context.Context, sessionID string, reason model.SuspicionReason) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE game_sessions
		 SET suspicious = true,
		     suspicion_reasons = suspicion_reasons || $2::jsonb
		 WHERE session_id = $1 AND submitted = false`,
		sessionID, []model.SuspicionReason{reason})
	if err != nil {
		return fmt.Errorf("flag suspicious: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrFinalized(ctx, sessionID)
	}
	return nil
}

// Finalize marks the session submitted. The WHERE clause is the
// compare-and-set: only one concurrent caller can match submitted = false.
func (r *GameSessionRepository) Finalize(ctx context.Context, sessionID string, fin model.Finalization) (*model.GameSession, error) {
	answers := fin.Answers
	if answers == nil {
		answers = []model.AnswerSubmission{}
	}
	reasons := []model.SuspicionReason{}
	if fin.Reason != nil {
		reasons = append(reasons, *fin.Reason)
	}

	s, err := scanSession(r.pool.QueryRow(ctx,
		`UPDATE game_sessions
		 SET submitted = true,
		     end_time = $2,
		     verified_score = $3,
		     client_score = $4,
		     signature = $5,
		     answer_snapshot = $6,
		     suspicious = suspicious OR $7,
		     suspicion_reasons = suspicion_reasons || $8::jsonb
		 WHERE session_id = $1 AND submitted = false AND expired = false
		 RETURNING `+sessionColumns,
		sessionID, fin.EndTime, fin.VerifiedScore, fin.ClientScore, fin.Signature,
		answers, fin.Reason != nil, reasons,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.missOrFinalized(ctx, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}
	return s, nil
}

// missOrFinalized tells a missing row apart from a failed compare-and-set.
func (r *GameSessionRepository) missOrFinalized(ctx context.Context, sessionID string) error {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM game_sessions WHERE session_id = $1)`, sessionID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if !exists {
		return ErrSessionNotFound
	}
	return ErrSessionFinalized
}

// ListByUser retrieves a user's sessions, newest first.
func (r *GameSessionRepository) ListByUser(ctx context.Context, userID, limit int) ([]model.GameSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM game_sessions
		 WHERE user_id = $1
		 ORDER BY start_time DESC
		 LIMIT $2`, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

// ListSuspicious retrieves flagged sessions for review with pagination.
func (r *GameSessionRepository) ListSuspicious(ctx context.Context, page, perPage int) ([]model.GameSession, int64, error) {
	offset := (page - 1) * perPage

	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM game_sessions WHERE suspicious = true`,
	).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM game_sessions
		 WHERE suspicious = true
		 ORDER BY start_time DESC
		 LIMIT $1 OFFSET $2`, perPage, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	sessions, err := collectSessions(rows)
	if err != nil {
		return nil, 0, err
	}
	return sessions, total, nil
}

// BestScore returns the user's highest verified score for a game type, or nil.
func (r *GameSessionRepository) BestScore(ctx context.Context, userID int, gameType string) (*int, error) {
	var best *int
	err := r.pool.QueryRow(ctx,
		`SELECT MAX(verified_score) FROM game_sessions
		 WHERE user_id = $1 AND game_type = $2 AND verified_score IS NOT NULL`,
		userID, gameType,
	).Scan(&best)
	if err != nil {
		return nil, err
	}
	return best, nil
}

// CountSuspiciousByUser counts flagged sessions for a user.
func (r *GameSessionRepository) CountSuspiciousByUser(ctx context.Context, userID int) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM game_sessions WHERE user_id = $1 AND suspicious = true`, userID,
	).Scan(&n)
	return n, err
}

// ExpireStale expires every pending session that started before cutoff.
func (r *GameSessionRepository) ExpireStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE game_sessions SET expired = true
		 WHERE submitted = false AND expired = false AND start_time < $1
		 RETURNING session_id`, cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
