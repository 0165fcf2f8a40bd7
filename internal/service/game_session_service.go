package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/gameverify-backend/internal/config"
	"github.com/stemsi/gameverify-backend/internal/logger"
	"github.com/stemsi/gameverify-backend/internal/model"
	"github.com/stemsi/gameverify-backend/internal/repository"
)

// Submission outcomes surfaced to callers.
var (
	ErrInvalidSession   = errors.New("invalid session")
	ErrAlreadySubmitted = errors.New("session already submitted")
	ErrSessionExpired   = errors.New("session expired")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrScoreMismatch    = errors.New("score mismatch")
	ErrInvalidSnapshot  = errors.New("invalid question snapshot")
)

// FlaggedWarning is attached to successful results that were flagged.
const FlaggedWarning = "Your submission has been flagged for review"

const (
	sessionIDBytes      = 32
	defaultSessionLimit = 20
	maxSessionLimit     = 100
	maxPerPage          = 100
)

// StartInput describes a new play-through.
type StartInput struct {
	UserID    int
	GameType  string
	LevelID   string
	Questions []model.QuestionSnapshot
}

// SubmitInput is a client's final report for a session.
type SubmitInput struct {
	SessionID   string
	Answers     []model.AnswerSubmission
	ClientScore int
	Signature   string
}

// GameSessionService owns the session lifecycle: start, the submit pipeline
// and the review queries.
type GameSessionService struct {
	store  repository.SessionStore
	signer *Signer
	locker Locker
	events EventPublisher
	clock  clockwork.Clock

	ttl    time.Duration
	points int
	timing TimingThresholds

	log    zerolog.Logger
	secLog zerolog.Logger
}

// NewGameSessionService creates a new GameSessionService.
func NewGameSessionService(
	store repository.SessionStore,
	signer *Signer,
	locker Locker,
	events EventPublisher,
	clock clockwork.Clock,
	cfg *config.Config,
	log zerolog.Logger,
) *GameSessionService {
	l := log.With().Str("component", "game_session").Logger()
	return &GameSessionService{
		store:  store,
		signer: signer,
		locker: locker,
		events: events,
		clock:  clock,
		ttl:    cfg.SessionTTL,
		points: cfg.PointsPerCorrect,
		timing: TimingThresholds{
			FastMs:       cfg.MinHumanAnswerMs,
			ImpossibleMs: cfg.ImpossibleAnswerMs,
		},
		log:    l,
		secLog: logger.Security(l),
	}
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Start creates a PENDING session with a frozen copy of the questions.
func (s *GameSessionService) Start(ctx context.Context, in StartInput) (*model.GameSession, error) {
	if err := validateSnapshot(in.Questions); err != nil {
		return nil, err
	}

	questions := model.CloneQuestions(in.Questions)
	if questions == nil {
		questions = []model.QuestionSnapshot{}
	}

	sess := &model.GameSession{
		UserID:           in.UserID,
		GameType:         in.GameType,
		LevelID:          in.LevelID,
		StartTime:        s.clock.Now().UTC(),
		QuestionSnapshot: questions,
	}

	// A collision on 256 random bits means the RNG is broken; retry once and give up.
	for attempt := 0; ; attempt++ {
		id, err := newSessionID()
		if err != nil {
			return nil, err
		}
		sess.SessionID = id

		err = s.store.Create(ctx, sess)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrDuplicateSession) || attempt > 0 {
			return nil, fmt.Errorf("create session: %w", err)
		}
	}

	s.log.Info().
		Str("session_id", sess.SessionID).
		Int("user_id", sess.UserID).
		Str("game_type", sess.GameType).
		Str("level_id", sess.LevelID).
		Int("questions", len(sess.QuestionSnapshot)).
		Msg("session started")

	return sess.Clone(), nil
}

// Submit runs the validation pipeline and, if every check passes, performs
// the single PENDING -> SUBMITTED transition.
func (s *GameSessionService) Submit(ctx context.Context, in SubmitInput) (*model.SubmitResult, error) {
	release, err := s.locker.Lock(ctx, in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	defer release()

	sess, err := s.store.GetByID(ctx, in.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			s.log.Info().Str("session_id", in.SessionID).Msg("submit for unknown session")
			return nil, ErrInvalidSession
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	if sess.Submitted {
		s.log.Info().Str("session_id", sess.SessionID).Msg("duplicate submission rejected")
		return nil, ErrAlreadySubmitted
	}

	now := s.clock.Now().UTC()
	if sess.Expired || now.After(sess.StartTime.Add(s.ttl)) {
		return nil, s.expire(ctx, sess)
	}

	if !s.signer.Verify(sess.SessionID, in.Answers, in.Signature) {
		reason := model.SuspicionReason{
			Code:       model.SuspicionInvalidSignature,
			Detail:     "signature does not match submitted answers",
			RecordedAt: now,
		}
		if err := s.flag(ctx, sess, reason); err != nil {
			return nil, err
		}
		return nil, ErrInvalidSignature
	}

	report := Reconcile(sess.QuestionSnapshot, in.Answers, s.points)
	if report.Score != in.ClientScore {
		reason := model.SuspicionReason{
			Code:       model.SuspicionScoreMismatch,
			Detail:     fmt.Sprintf("client=%d server=%d", in.ClientScore, report.Score),
			RecordedAt: now,
		}
		if err := s.flag(ctx, sess, reason); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: client=%d server=%d", ErrScoreMismatch, in.ClientScore, report.Score)
	}

	timing := AnalyzeTiming(in.Answers, s.timing, now)

	rec, err := s.store.Finalize(ctx, sess.SessionID, model.Finalization{
		EndTime:       now,
		VerifiedScore: report.Score,
		ClientScore:   in.ClientScore,
		Signature:     in.Signature,
		Answers:       in.Answers,
		Reason:        timing.Reason,
	})
	if err != nil {
		return nil, s.finalizeError(ctx, sess.SessionID, err)
	}

	if timing.Suspicious {
		s.secLog.Warn().
			Str("session_id", rec.SessionID).
			Int("user_id", rec.UserID).
			Str("reason", string(timing.Reason.Code)).
			Int64("min_ms", timing.MinMs).
			Int64("avg_ms", timing.AvgMs).
			Int("fast", timing.FastCount).
			Int("total", timing.Total).
			Msg("suspicious answer timing")
		s.publish(ctx, rec, *timing.Reason, false)
	}

	s.log.Info().
		Str("session_id", rec.SessionID).
		Int("user_id", rec.UserID).
		Int("verified_score", report.Score).
		Int("duplicates", report.Duplicates).
		Int("unknown", report.Unknown).
		Bool("suspicious", rec.Suspicious).
		Msg("session submitted")

	result := &model.SubmitResult{
		VerifiedScore:     report.Score,
		FlaggedSuspicious: rec.Suspicious,
	}
	if rec.Suspicious {
		result.Warning = FlaggedWarning
	}
	return result, nil
}

// Sign computes the signature a well-behaved client would send. Debug only.
func (s *GameSessionService) Sign(sessionID string, answers []model.AnswerSubmission) string {
	return s.signer.Sign(sessionID, answers)
}

// ExpireStale expires every PENDING session older than the TTL.
func (s *GameSessionService) ExpireStale(ctx context.Context) ([]string, error) {
	cutoff := s.clock.Now().UTC().Add(-s.ttl)
	ids, err := s.store.ExpireStale(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("expire stale sessions: %w", err)
	}
	return ids, nil
}

func (s *GameSessionService) expire(ctx context.Context, sess *model.GameSession) error {
	if !sess.Expired {
		if err := s.store.MarkExpired(ctx, sess.SessionID); err != nil {
			if errors.Is(err, repository.ErrSessionFinalized) {
				return ErrAlreadySubmitted
			}
			return fmt.Errorf("mark expired: %w", err)
		}
	}
	s.log.Info().
		Str("session_id", sess.SessionID).
		Time("start_time", sess.StartTime).
		Msg("submission after session expiry")
	return ErrSessionExpired
}

// flag persists a rejection reason and announces it. The session stays
// PENDING.
func (s *GameSessionService) flag(ctx context.Context, sess *model.GameSession, reason model.SuspicionReason) error {
	s.secLog.Warn().
		Str("session_id", sess.SessionID).
		Int("user_id", sess.UserID).
		Str("reason", string(reason.Code)).
		Str("detail", reason.Detail).
		Msg("submission rejected")

	if err := s.store.FlagSuspicious(ctx, sess.SessionID, reason); err != nil {
		if errors.Is(err, repository.ErrSessionFinalized) {
			return ErrAlreadySubmitted
		}
		return fmt.Errorf("flag session: %w", err)
	}
	s.publish(ctx, sess, reason, true)
	return nil
}

func (s *GameSessionService) publish(ctx context.Context, sess *model.GameSession, reason model.SuspicionReason, rejected bool) {
	ev := model.SuspicionEvent{
		ID:        uuid.New(),
		SessionID: sess.SessionID,
		UserID:    sess.UserID,
		GameType:  sess.GameType,
		LevelID:   sess.LevelID,
		Reason:    reason,
		Rejected:  rejected,
	}
	if err := s.events.PublishSuspicion(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("session_id", sess.SessionID).Msg("failed to publish suspicion event")
	}
}

// finalizeError resolves a lost compare-and-set into the state that won.
func (s *GameSessionService) finalizeError(ctx context.Context, sessionID string, err error) error {
	if !errors.Is(err, repository.ErrSessionFinalized) {
		return fmt.Errorf("finalize session: %w", err)
	}
	cur, getErr := s.store.GetByID(ctx, sessionID)
	if getErr == nil && cur.Expired && !cur.Submitted {
		return ErrSessionExpired
	}
	return ErrAlreadySubmitted
}

// ─── Queries ────────────────────────────────────────────────────────────────

// GetSession returns a session by id.
func (s *GameSessionService) GetSession(ctx context.Context, sessionID string) (*model.GameSession, error) {
	sess, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// GetPlayerSession returns the caller's own session with the answer key
// hidden until it is submitted. Other users' sessions read as missing.
func (s *GameSessionService) GetPlayerSession(ctx context.Context, userID int, sessionID string) (*model.GameSession, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, ErrInvalidSession
	}
	return sess.PlayerView(), nil
}

// ListUserSessions lists a user's sessions newest first, answer keys hidden
// for unsubmitted ones.
func (s *GameSessionService) ListUserSessions(ctx context.Context, userID, limit int) ([]model.GameSession, error) {
	if limit <= 0 {
		limit = defaultSessionLimit
	}
	if limit > maxSessionLimit {
		limit = maxSessionLimit
	}
	sessions, err := s.store.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list user sessions: %w", err)
	}
	out := make([]model.GameSession, 0, len(sessions))
	for i := range sessions {
		out = append(out, *sessions[i].PlayerView())
	}
	return out, nil
}

// ListSuspicious pages through flagged sessions.
func (s *GameSessionService) ListSuspicious(ctx context.Context, page, perPage int) ([]model.GameSession, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > maxPerPage {
		perPage = defaultSessionLimit
	}
	sessions, total, err := s.store.ListSuspicious(ctx, page, perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list suspicious sessions: %w", err)
	}
	if sessions == nil {
		sessions = []model.GameSession{}
	}
	return sessions, total, nil
}

// BestScore returns the user's highest verified score for a game type.
func (s *GameSessionService) BestScore(ctx context.Context, userID int, gameType string) (*int, error) {
	best, err := s.store.BestScore(ctx, userID, gameType)
	if err != nil {
		return nil, fmt.Errorf("best score: %w", err)
	}
	return best, nil
}

// CountSuspicious counts a user's flagged sessions.
func (s *GameSessionService) CountSuspicious(ctx context.Context, userID int) (int64, error) {
	n, err := s.store.CountSuspiciousByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("count suspicious sessions: %w", err)
	}
	return n, nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func newSessionID() (string, error) {
	b := make([]byte, sessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func validateSnapshot(questions []model.QuestionSnapshot) error {
	seen := make(map[string]struct{}, len(questions))
	for i, q := range questions {
		if q.QuestionID == "" {
			return fmt.Errorf("%w: question %d has no id", ErrInvalidSnapshot, i)
		}
		if _, dup := seen[q.QuestionID]; dup {
			return fmt.Errorf("%w: duplicate question id %q", ErrInvalidSnapshot, q.QuestionID)
		}
		seen[q.QuestionID] = struct{}{}
	}
	return nil
}
