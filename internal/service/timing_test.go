package service

import (
	"testing"
	"time"

	"github.com/stemsi/gameverify-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timed(ms ...int64) []model.AnswerSubmission {
	out := make([]model.AnswerSubmission, len(ms))
	for i, m := range ms {
		out[i] = model.AnswerSubmission{QuestionID: "q", Answer: "a", TimeToAnswerMs: m}
	}
	return out
}

func TestAnalyzeTiming(t *testing.T) {
	th := TimingThresholds{FastMs: 500, ImpossibleMs: 100}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		answers    []model.AnswerSubmission
		suspicious bool
		code       model.SuspicionCode
	}{
		{"empty", nil, false, ""},
		{"human pace", timed(600, 700, 1200), false, ""},
		{"exactly half fast", timed(200, 300, 900, 1000), false, ""},
		{"majority fast", timed(200, 300, 400, 1000), true, model.SuspicionTooManyFastAnswers},
		{"all bot fast", timed(50, 50, 50), true, model.SuspicionTooManyFastAnswers},
		{"one impossible answer", timed(50, 900, 1000), true, model.SuspicionImpossiblyFastAnswer},
		{"threshold is strict", timed(100, 500, 500), false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := AnalyzeTiming(tt.answers, th, now)
			assert.Equal(t, tt.suspicious, r.Suspicious)
			if !tt.suspicious {
				assert.Nil(t, r.Reason)
				return
			}
			require.NotNil(t, r.Reason)
			assert.Equal(t, tt.code, r.Reason.Code)
			assert.Equal(t, now, r.Reason.RecordedAt)
		})
	}
}

func TestAnalyzeTimingStats(t *testing.T) {
	r := AnalyzeTiming(timed(600, 700, 200), TimingThresholds{FastMs: 500, ImpossibleMs: 100}, time.Now())
	assert.Equal(t, 3, r.Total)
	assert.Equal(t, 1, r.FastCount)
	assert.Equal(t, int64(200), r.MinMs)
	assert.Equal(t, int64(500), r.AvgMs)
}
