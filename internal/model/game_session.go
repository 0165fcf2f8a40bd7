package model

import (
	"time"
)

// SessionState enumerates game session lifecycle states.
type SessionState string

const (
	SessionStatePending   SessionState = "PENDING"
	SessionStateSubmitted SessionState = "SUBMITTED"
	SessionStateExpired   SessionState = "EXPIRED"
)

// QuestionSnapshot is one question as it was shown to the player at session start.
type QuestionSnapshot struct {
	QuestionID    string   `json:"question_id" binding:"required,notblank,max=64"`
	QuestionText  string   `json:"question_text" binding:"max=2000"`
	CorrectAnswer string   `json:"correct_answer,omitempty" binding:"required,max=500"`
	Choices       []string `json:"choices" binding:"max=20,dive,max=500"`
}

// AnswerSubmission is one answer reported by the client at submit time.
type AnswerSubmission struct {
	QuestionID     string `json:"question_id" binding:"required,notblank,max=64"`
	Answer         string `json:"answer" binding:"max=500"`
	TimeToAnswerMs int64  `json:"time_to_answer_ms" binding:"min=0"`
}

// GameSession represents one play-through, from start to a single terminal submission.
type GameSession struct {
	SessionID        string             `json:"session_id"`
	UserID           int                `json:"user_id"`
	GameType         string             `json:"game_type"`
	LevelID          string             `json:"level_id"`
	StartTime        time.Time          `json:"start_time"`
	EndTime          *time.Time         `json:"end_time,omitempty"`
	Submitted        bool               `json:"submitted"`
	Expired          bool               `json:"expired"`
	QuestionSnapshot []QuestionSnapshot `json:"question_snapshot"`
	VerifiedScore    *int               `json:"verified_score,omitempty"`
	ClientScore      *int               `json:"client_score,omitempty"`
	Signature        string             `json:"signature,omitempty"`
	AnswerSnapshot   []AnswerSubmission `json:"answer_snapshot,omitempty"`
	Suspicious       bool               `json:"suspicious"`
	SuspicionReasons []SuspicionReason  `json:"suspicion_reasons,omitempty"`
}

// State derives the lifecycle state from the submitted/expired flags.
func (s *GameSession) State() SessionState {
	switch {
	case s.Submitted:
		return SessionStateSubmitted
	case s.Expired:
		return SessionStateExpired
	default:
		return SessionStatePending
	}
}

// Clone returns a deep copy so callers never share slices with a store.
func (s *GameSession) Clone() *GameSession {
	if s == nil {
		return nil
	}
	cp := *s
	if s.EndTime != nil {
		t := *s.EndTime
		cp.EndTime = &t
	}
	if s.VerifiedScore != nil {
		v := *s.VerifiedScore
		cp.VerifiedScore = &v
	}
	if s.ClientScore != nil {
		v := *s.ClientScore
		cp.ClientScore = &v
	}
	cp.QuestionSnapshot = CloneQuestions(s.QuestionSnapshot)
	if s.AnswerSnapshot != nil {
		cp.AnswerSnapshot = append([]AnswerSubmission(nil), s.AnswerSnapshot...)
	}
	if s.SuspicionReasons != nil {
		cp.SuspicionReasons = append([]SuspicionReason(nil), s.SuspicionReasons...)
	}
	return &cp
}

// PlayerView returns a copy safe to show the owning player: correct answers
// stay hidden until the session is submitted.
func (s *GameSession) PlayerView() *GameSession {
	cp := s.Clone()
	if !cp.Submitted {
		for i := range cp.QuestionSnapshot {
			cp.QuestionSnapshot[i].CorrectAnswer = ""
		}
	}
	return cp
}

// CloneQuestions deep-copies a question list, including each choice slice.
func CloneQuestions(qs []QuestionSnapshot) []QuestionSnapshot {
	if qs == nil {
		return nil
	}
	out := make([]QuestionSnapshot, len(qs))
	for i, q := range qs {
		out[i] = q
		if q.Choices != nil {
			out[i].Choices = append([]string(nil), q.Choices...)
		}
	}
	return out
}

// Finalization carries everything written by the single successful submit.
type Finalization struct {
	EndTime       time.Time
	VerifiedScore int
	ClientScore   int
	Signature     string
	Answers       []AnswerSubmission
	// Reason is set when the timing heuristic flagged the submission.
	Reason *SuspicionReason
}

// StartSessionRequest is the payload for starting a game session.
type StartSessionRequest struct {
	GameType  string             `json:"game_type" binding:"required,notblank,max=50"`
	LevelID   string             `json:"level_id" binding:"max=50"`
	Questions []QuestionSnapshot `json:"questions" binding:"max=500,dive"`
}

// StartSessionResponse is returned after a session is created.
type StartSessionResponse struct {
	SessionID string    `json:"session_id"`
	StartTime time.Time `json:"start_time"`
}

// SubmitSessionRequest is the payload for submitting a finished game.
// Only the answers are shape-checked at binding. A forged signature or score
// must reach Submit so the session gets flagged, and a malformed id reads as
// an unknown session.
type SubmitSessionRequest struct {
	SessionID   string             `json:"session_id"`
	Answers     []AnswerSubmission `json:"answers" binding:"max=1000,dive"`
	ClientScore int                `json:"client_score"`
	Signature   string             `json:"signature"`
}

// SubmitResult is the verdict of a successful submission.
// FlaggedSuspicious mirrors the session record, so it stays true when an
// earlier rejected attempt on the same session was flagged, even if this
// submission is clean.
type SubmitResult struct {
	VerifiedScore     int    `json:"verified_score"`
	FlaggedSuspicious bool   `json:"flagged_suspicious"`
	Warning           string `json:"warning,omitempty"`
}

// SignRequest is the payload of the debug signing endpoint.
type SignRequest struct {
	SessionID string             `json:"session_id" binding:"required,notblank"`
	Answers   []AnswerSubmission `json:"answers" binding:"max=1000,dive"`
}
