package service

import (
	"fmt"
	"time"

	"github.com/stemsi/gameverify-backend/internal/model"
)

// TimingThresholds configures the bot heuristic.
type TimingThresholds struct {
	// FastMs: answers strictly below this count as fast.
	FastMs int64
	// ImpossibleMs: a single answer strictly below this is flagged.
	ImpossibleMs int64
}

// TimingReport summarises per-answer timings. Reason is set only when
// Suspicious is true.
type TimingReport struct {
	Suspicious bool
	Reason     *model.SuspicionReason
	MinMs      int64
	AvgMs      int64
	FastCount  int
	Total      int
}

// AnalyzeTiming flags a submission when more than half its answers are fast,
// or else when any single answer is impossibly fast. It never rejects.
func AnalyzeTiming(answers []model.AnswerSubmission, th TimingThresholds, now time.Time) TimingReport {
	r := TimingReport{Total: len(answers)}
	if r.Total == 0 {
		return r
	}

	var sum int64
	r.MinMs = answers[0].TimeToAnswerMs
	for _, a := range answers {
		ms := a.TimeToAnswerMs
		sum += ms
		if ms < r.MinMs {
			r.MinMs = ms
		}
		if ms < th.FastMs {
			r.FastCount++
		}
	}
	r.AvgMs = sum / int64(r.Total)

	switch {
	case 2*r.FastCount > r.Total:
		r.Suspicious = true
		r.Reason = &model.SuspicionReason{
			Code:       model.SuspicionTooManyFastAnswers,
			Detail:     fmt.Sprintf("%d of %d answers under %dms", r.FastCount, r.Total, th.FastMs),
			RecordedAt: now,
		}
	case r.MinMs < th.ImpossibleMs:
		r.Suspicious = true
		r.Reason = &model.SuspicionReason{
			Code:       model.SuspicionImpossiblyFastAnswer,
			Detail:     fmt.Sprintf("fastest answer %dms under %dms", r.MinMs, th.ImpossibleMs),
			RecordedAt: now,
		}
	}
	return r
}
