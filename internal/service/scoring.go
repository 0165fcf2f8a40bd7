package service

import "github.com/stemsi/gameverify-backend/internal/model"

// ScoreReport is the outcome of recomputing a score from the frozen snapshot.
type ScoreReport struct {
	Score   int
	Correct int
	// Unknown counts answers whose question id is not in the snapshot.
	Unknown int
	// Duplicates counts repeat answers for an already answered question.
	Duplicates int
}

// Reconcile scores answers against the snapshot. Matching is exact and
// case-sensitive; only the first answer per question counts.
func Reconcile(snapshot []model.QuestionSnapshot, answers []model.AnswerSubmission, pointsPerCorrect int) ScoreReport {
	correct := make(map[string]string, len(snapshot))
	for _, q := range snapshot {
		correct[q.QuestionID] = q.CorrectAnswer
	}

	var r ScoreReport
	seen := make(map[string]struct{}, len(answers))
	for _, a := range answers {
		want, ok := correct[a.QuestionID]
		if !ok {
			r.Unknown++
			continue
		}
		if _, dup := seen[a.QuestionID]; dup {
			r.Duplicates++
			continue
		}
		seen[a.QuestionID] = struct{}{}
		if a.Answer == want {
			r.Correct++
		}
	}
	r.Score = r.Correct * pointsPerCorrect
	return r
}
