package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/gameverify-backend/internal/config"
	"github.com/stemsi/gameverify-backend/internal/model"
	"github.com/stemsi/gameverify-backend/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingPublisher keeps every published event in memory.
type recordingPublisher struct {
	mu     sync.Mutex
	events []model.SuspicionEvent
}

func (p *recordingPublisher) PublishSuspicion(_ context.Context, ev model.SuspicionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) all() []model.SuspicionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.SuspicionEvent(nil), p.events...)
}

// nopLocker leaves all serialisation to the store.
type nopLocker struct{}

func (nopLocker) Lock(context.Context, string) (func(), error) { return func() {}, nil }

type fixture struct {
	svc    *GameSessionService
	store  *repository.MemorySessionStore
	clock  *clockwork.FakeClock
	events *recordingPublisher
	signer *Signer
}

func testConfig() *config.Config {
	return &config.Config{
		SessionTTL:         30 * time.Minute,
		PointsPerCorrect:   10,
		MinHumanAnswerMs:   500,
		ImpossibleAnswerMs: 100,
	}
}

func newFixture(t *testing.T, locker Locker, w io.Writer) *fixture {
	t.Helper()
	signer, err := NewSigner("test-signing-secret")
	require.NoError(t, err)

	f := &fixture{
		store:  repository.NewMemorySessionStore(),
		clock:  clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		events: &recordingPublisher{},
		signer: signer,
	}
	f.svc = NewGameSessionService(f.store, signer, locker, f.events, f.clock, testConfig(), zerolog.New(w))
	return f
}

func geographyQuiz() []model.QuestionSnapshot {
	return []model.QuestionSnapshot{
		{QuestionID: "q1", QuestionText: "Capital of France?", CorrectAnswer: "Paris", Choices: []string{"Paris", "London"}},
		{QuestionID: "q2", QuestionText: "2 + 2?", CorrectAnswer: "4", Choices: []string{"3", "4"}},
	}
}

func (f *fixture) start(t *testing.T) *model.GameSession {
	t.Helper()
	sess, err := f.svc.Start(context.Background(), StartInput{
		UserID:    7,
		GameType:  "quiz",
		LevelID:   "geo-1",
		Questions: geographyQuiz(),
	})
	require.NoError(t, err)
	return sess
}

func (f *fixture) signedInput(sessionID string, clientScore int, ans []model.AnswerSubmission) SubmitInput {
	return SubmitInput{
		SessionID:   sessionID,
		Answers:     ans,
		ClientScore: clientScore,
		Signature:   f.signer.Sign(sessionID, ans),
	}
}

func correctAnswers(ms ...int64) []model.AnswerSubmission {
	return []model.AnswerSubmission{
		{QuestionID: "q1", Answer: "Paris", TimeToAnswerMs: ms[0]},
		{QuestionID: "q2", Answer: "4", TimeToAnswerMs: ms[1]},
	}
}

// ─── Start ──────────────────────────────────────────────────────────────────

func TestStartCreatesPendingSession(t *testing.T) {
	f := newFixture(t, NewLocalLocker(), io.Discard)
	questions := geographyQuiz()

	sess, err := f.svc.Start(context.Background(), StartInput{UserID: 7, GameType: "quiz", Questions: questions})
	require.NoError(t, err)

	assert.Len(t, sess.SessionID, 64)
	assert.Equal(t, model.SessionStatePending, sess.State())
	assert.Equal(t, f.clock.Now(), sess.StartTime)

	// Mutating the caller's slice must not reach the stored snapshot.
	questions[0].CorrectAnswer = "London"
	stored, err := f.store.GetByID(context.Background(), sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "Paris", stored.QuestionSnapshot[0].CorrectAnswer)
}

func TestStartGeneratesDistinctIDs(t *testing.T) {
	f := newFixture(t, NewLocalLocker(), io.Discard)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		sess := f.start(t)
		assert.False(t, seen[sess.SessionID])
		seen[sess.SessionID] = true
	}
}

func TestStartRejectsInvalidSnapshot(t *testing.T) {
	f := newFixture(t, NewLocalLocker(), io.Discard)

	_, err := f.svc.Start(context.Background(), StartInput{UserID: 7, GameType: "quiz", Questions: []model.QuestionSnapshot{
		{QuestionID: "q1", CorrectAnswer: "a"},
		{QuestionID: "q1", CorrectAnswer: "b"},
	}})
	assert.ErrorIs(t, err, ErrInvalidSnapshot)

	_, err = f.svc.Start(context.Background(), StartInput{UserID: 7, GameType: "quiz", Questions: []model.QuestionSnapshot{
		{QuestionID: "", CorrectAnswer: "a"},
	}})
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
}

func TestStartWithNoQuestions(t *testing.T) {
	f := newFixture(t, NewLocalLocker(), io.Discard)
	sess, err := f.svc.Start(context.Background(), StartInput{UserID: 7, GameType: "quiz"})
	require.NoError(t, err)

	res, err := f.svc.Submit(context.Background(), f.signedInput(sess.SessionID, 0, nil))
	require.NoError(t, err)
	assert.Equal(t, 0, res.VerifiedScore)
	assert.False(t, res.FlaggedSuspicious)
}

// ─── Submit ─────────────────────────────────────────────────────────────────

func TestSubmitVerifiesScore(t *testing.T) {
	f := newFixture(t, NewLocalLocker(), io.Discard)
	sess := f.start(t)
	f.clock.Advance(2 * time.Minute)

	res, err := f.svc.Submit(context.Background(), f.signedInput(sess.SessionID, 20, correctAnswers(600, 700)))
	require.NoError(t, err)
	assert.Equal(t, 20, res.VerifiedScore)
	assert.False(t, res.FlaggedSuspicious)
	assert.Empty(t, res.Warning)

	stored, err := f.store.GetByID(context.Background(), sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateSubmitted, stored.State())
	require.NotNil(t, stored.VerifiedScore)
	assert.Equal(t, 20, *stored.VerifiedScore)
	assert.Equal(t, 20, *stored.ClientScore)
	assert.Equal(t, f.clock.Now(), *stored.EndTime)
	assert.Len(t, stored.AnswerSnapshot, 2)
	assert.Empty(t, f.events.all())
}

func TestSubmitOnlyOnce(t *testing.T) {
	f := newFixture(t, NewLocalLocker(), io.Discard)
	sess := f.start(t)
	in := f.signedInput(sess.SessionID, 20, correctAnswers(600, 700))

	_, err := f.svc.Submit(context.Background(), in)
	require.NoError(t, err)

	_, err = f.svc.Submit(context.Background(), in)
	assert.ErrorIs(t, err, ErrAlreadySubmitted)

	// A different, correctly signed payload is refused just the same.
	other := []model.AnswerSubmission{
		{QuestionID: "q1", Answer: "Paris", TimeToAnswerMs: 900},
		{QuestionID: "q2", Answer: "5", TimeToAnswerMs: 800},
	}
	_, err = f.svc.Submit(context.Background(), f.signedInput(sess.SessionID, 10, other))
	assert.ErrorIs(t, err, ErrAlreadySubmitted)

	stored, err := f.store.GetByID(context.Background(), sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 20, *stored.VerifiedScore)
	assert.Equal(t, 20, *stored.ClientScore)
	assert.Equal(t, in.Signature, stored.Signature)
	assert.Equal(t, correctAnswers(600, 700), stored.AnswerSnapshot)
}

func TestSubmitUnknownSession(t *testing.T) {
	f := newFixture(t, NewLocalLocker(), io.Discard)
	_, err := f.svc.Submit(context.Background(), f.signedInput("missing", 0, nil))
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestSubmitBindsSignatureToSession(t *testing.T) {
	f := newFixture(t, NewLocalLocker(), io.Discard)
	a := f.start(t)
	b := f.start(t)

	ans := correctAnswers(600, 700)
	in := f.signedInput(a.SessionID, 20, ans)
	in.SessionID = b.SessionID

	_, err := f.svc.Submit(context.Background(), in)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestSubmitDetectsTampering(t *testing.T) {
	var logs bytes.Buffer
	f := newFixture(t, NewLocalLocker(), &logs)
	sess := f.start(t)

	in := f.signedInput(sess.SessionID, 10, []model.AnswerSubmission{
		{QuestionID: "q1", Answer: "London", TimeToAnswerMs: 800},
		{QuestionID: "q2", Answer: "4", TimeToAnswerMs: 800},
	})
	in.Answers[0].Answer = "Paris"
	in.ClientScore = 20

	_, err := f.svc.Submit(context.Background(), in)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	stored, err := f.store.GetByID(context.Background(), sess.SessionID)
	require.NoError(t, err)
	assert.True(t, stored.Suspicious)
	assert.False(t, stored.Submitted, "session stays pending")
	require.Len(t, stored.SuspicionReasons, 1)
	assert.Equal(t, model.SuspicionInvalidSignature, stored.SuspicionReasons[0].Code)

	events := f.events.all()
	require.Len(t, events, 1)
	assert.True(t, events[0].Rejected)
	assert.Equal(t, sess.SessionID, events[0].SessionID)

	assert.Contains(t, logs.String(), `"channel":"security"`)
	assert.Contains(t, logs.String(), string(model.SuspicionInvalidSignature))
}

func TestSubmitScoreMismatch(t *testing.T) {
	f := newFixture(t, NewLocalLocker(), io.Discard)
	sess := f.start(t)

	_, err := f.svc.Submit(context.Background(), f.signedInput(sess.SessionID, 30, correctAnswers(600, 700)))
	require.ErrorIs(t, err, ErrScoreMismatch)
	assert.Contains(t, err.Error(), "client=30 server=20")

	stored, err := f.store.GetByID(context.Background(), sess.SessionID)
	require.NoError(t, err)
	assert.True(t, stored.Suspicious)
	assert.Nil(t, stored.VerifiedScore, "no score persisted")
	assert.False(t, stored.Submitted)
	require.Len(t, stored.SuspicionReasons, 1)
	assert.Equal(t, model.SuspicionScoreMismatch, stored.SuspicionReasons[0].Code)
	assert.Equal(t, "client=30 server=20", stored.SuspicionReasons[0].Detail)
}

func TestSubmitRetryAfterRejectionKeepsFlag(t *testing.T) {
	f := newFixture(t, NewLocalLocker(), io.Discard)
	sess := f.start(t)

	_, err := f.svc.Submit(context.Background(), f.signedInput(sess.SessionID, 30, correctAnswers(600, 700)))
	require.ErrorIs(t, err, ErrScoreMismatch)

	res, err := f.svc.Submit(context.Background(), f.signedInput(sess.SessionID, 20, correctAnswers(600, 700)))
	require.NoError(t, err)
	assert.Equal(t, 20, res.VerifiedScore)
	assert.True(t, res.FlaggedSuspicious)
	assert.Equal(t, FlaggedWarning, res.Warning)
}

func TestSubmitAfterExpiry(t *testing.T) {
	f := newFixture(t, NewLocalLocker(), io.Discard)
	sess := f.start(t)
	f.clock.Advance(31 * time.Minute)

	_, err := f.svc.Submit(context.Background(), f.signedInput(sess.SessionID, 20, correctAnswers(600, 700)))
	assert.ErrorIs(t, err, ErrSessionExpired)

	stored, err := f.store.GetByID(context.Background(), sess.SessionID)
	require.NoError(t, err)
	assert.True(t, stored.Expired)
	assert.Nil(t, stored.VerifiedScore)

	// Expiry is checked before the signature.
	in := f.signedInput(sess.SessionID, 20, correctAnswers(600, 700))
	in.Signature = "bogus"
	_, err = f.svc.Submit(context.Background(), in)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Empty(t, f.events.all())
}

func TestSubmitAtExactTTL(t *testing.T) {
	f := newFixture(t, NewLocalLocker(), io.Discard)
	sess := f.start(t)
	f.clock.Advance(30 * time.Minute)

	_, err := f.svc.Submit(context.Background(), f.signedInput(sess.SessionID, 20, correctAnswers(600, 700)))
	assert.NoError(t, err)
}

func TestSubmitFlagsBotTimingWithoutRejecting(t *testing.T) {
	f := newFixture(t, NewLocalLocker(), io.Discard)
	sess := f.start(t)

	res, err := f.svc.Submit(context.Background(), f.signedInput(sess.SessionID, 20, correctAnswers(50, 50)))
	require.NoError(t, err)
	assert.Equal(t, 20, res.VerifiedScore)
	assert.True(t, res.FlaggedSuspicious)
	assert.Equal(t, FlaggedWarning, res.Warning)

	stored, err := f.store.GetByID(context.Background(), sess.SessionID)
	require.NoError(t, err)
	assert.True(t, stored.Submitted)
	require.Len(t, stored.SuspicionReasons, 1)
	assert.Equal(t, model.SuspicionTooManyFastAnswers, stored.SuspicionReasons[0].Code)

	events := f.events.all()
	require.Len(t, events, 1)
	assert.False(t, events[0].Rejected)
}

func TestSubmitDuplicateAnswersFirstWins(t *testing.T) {
	f := newFixture(t, NewLocalLocker(), io.Discard)
	sess := f.start(t)

	ans := []model.AnswerSubmission{
		{QuestionID: "q1", Answer: "Paris", TimeToAnswerMs: 800},
		{QuestionID: "q1", Answer: "Paris", TimeToAnswerMs: 800},
		{QuestionID: "q1", Answer: "Paris", TimeToAnswerMs: 800},
	}
	_, err := f.svc.Submit(context.Background(), f.signedInput(sess.SessionID, 30, ans))
	assert.ErrorIs(t, err, ErrScoreMismatch)

	res, err := f.svc.Submit(context.Background(), f.signedInput(sess.SessionID, 10, ans))
	require.NoError(t, err)
	assert.Equal(t, 10, res.VerifiedScore)
}

func TestConcurrentSubmitsYieldOneSuccess(t *testing.T) {
	lockers := map[string]Locker{
		"local locker": NewLocalLocker(),
		"store only":   nopLocker{},
	}
	for name, locker := range lockers {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, locker, io.Discard)
			sess := f.start(t)
			in := f.signedInput(sess.SessionID, 20, correctAnswers(600, 700))

			var mu sync.Mutex
			var successes int
			var failures []error
			var wg sync.WaitGroup
			for i := 0; i < 25; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := f.svc.Submit(context.Background(), in)
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						successes++
						return
					}
					failures = append(failures, err)
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, successes)
			for _, err := range failures {
				assert.True(t, errors.Is(err, ErrAlreadySubmitted), "unexpected error: %v", err)
			}
		})
	}
}

func TestSubmitRespectsSweeperExpiry(t *testing.T) {
	f := newFixture(t, NewLocalLocker(), io.Discard)
	sess := f.start(t)
	f.clock.Advance(31 * time.Minute)

	ids, err := f.svc.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{sess.SessionID}, ids)

	_, err = f.svc.Submit(context.Background(), f.signedInput(sess.SessionID, 20, correctAnswers(600, 700)))
	assert.ErrorIs(t, err, ErrSessionExpired)
}

// ─── Queries ────────────────────────────────────────────────────────────────

func TestGetPlayerSessionHidesAnswerKey(t *testing.T) {
	f := newFixture(t, NewLocalLocker(), io.Discard)
	sess := f.start(t)
	ctx := context.Background()

	view, err := f.svc.GetPlayerSession(ctx, 7, sess.SessionID)
	require.NoError(t, err)
	for _, q := range view.QuestionSnapshot {
		assert.Empty(t, q.CorrectAnswer)
	}

	_, err = f.svc.GetPlayerSession(ctx, 8, sess.SessionID)
	assert.ErrorIs(t, err, ErrInvalidSession, "other players cannot see the session")

	_, err = f.svc.Submit(ctx, f.signedInput(sess.SessionID, 20, correctAnswers(600, 700)))
	require.NoError(t, err)

	view, err = f.svc.GetPlayerSession(ctx, 7, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "Paris", view.QuestionSnapshot[0].CorrectAnswer)
}

func TestReviewQueries(t *testing.T) {
	f := newFixture(t, NewLocalLocker(), io.Discard)
	ctx := context.Background()

	first := f.start(t)
	_, err := f.svc.Submit(ctx, f.signedInput(first.SessionID, 10, []model.AnswerSubmission{
		{QuestionID: "q1", Answer: "Paris", TimeToAnswerMs: 900},
	}))
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	second := f.start(t)
	_, err = f.svc.Submit(ctx, f.signedInput(second.SessionID, 20, correctAnswers(50, 50)))
	require.NoError(t, err)

	best, err := f.svc.BestScore(ctx, 7, "quiz")
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, 20, *best)

	count, err := f.svc.CountSuspicious(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	flagged, total, err := f.svc.ListSuspicious(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, flagged, 1)
	assert.Equal(t, second.SessionID, flagged[0].SessionID)

	mine, err := f.svc.ListUserSessions(ctx, 7, 0)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, second.SessionID, mine[0].SessionID)

	_, err = f.svc.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrInvalidSession)
}
