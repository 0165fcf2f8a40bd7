package model

import (
	"time"

	"github.com/google/uuid"
)

// SuspicionCode is the queryable category of a suspicious signal.
type SuspicionCode string

const (
	SuspicionInvalidSignature     SuspicionCode = "INVALID_SIGNATURE"
	SuspicionScoreMismatch        SuspicionCode = "SCORE_MISMATCH"
	SuspicionTooManyFastAnswers   SuspicionCode = "TOO_MANY_FAST_ANSWERS"
	SuspicionImpossiblyFastAnswer SuspicionCode = "IMPOSSIBLY_FAST_ANSWER"
)

// SuspicionReason records why a session was flagged.
type SuspicionReason struct {
	Code       SuspicionCode `json:"code"`
	Detail     string        `json:"detail"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// SuspicionEvent is published whenever a session gains a suspicion reason.
type SuspicionEvent struct {
	ID        uuid.UUID       `json:"id"`
	SessionID string          `json:"session_id"`
	UserID    int             `json:"user_id"`
	GameType  string          `json:"game_type"`
	LevelID   string          `json:"level_id"`
	Reason    SuspicionReason `json:"reason"`
	// Rejected is true when the signal also failed the submission.
	Rejected bool `json:"rejected"`
}
