package scheduler

import (
	"fmt"
	"strings"

	"github.com/maheshrc27/postflow/internal/models"
)

// Aggregate folds the final outcome of every target into the post status.
// Transient outcomes reaching this point have exhausted their retries and
// count as failures. An empty set is failed.
func Aggregate(outcomes []models.AttemptOutcome) models.PostStatus {
	succeeded := 0
	for _, o := range outcomes {
		if o == models.OutcomeSuccess {
			succeeded++
		}
	}
	switch {
	case len(outcomes) > 0 && succeeded == len(outcomes):
		return models.PostStatusPublished
	case succeeded > 0:
		return models.PostStatusPartiallyFailed
	}
	return models.PostStatusFailed
}

// latestAttempts keeps the newest attempt per target. Attempts arrive
// oldest first.
func latestAttempts(attempts []*models.PublishAttempt) map[models.TargetKey]*models.PublishAttempt {
	latest := make(map[models.TargetKey]*models.PublishAttempt, len(attempts))
	for _, a := range attempts {
		cur, ok := latest[a.Key()]
		if !ok || a.AttemptNumber >= cur.AttemptNumber {
			latest[a.Key()] = a
		}
	}
	return latest
}

// settled reports whether a target needs no further publish call.
func settled(a *models.PublishAttempt) bool {
	return a != nil && (a.Outcome == models.OutcomeSuccess || a.Outcome == models.OutcomePermanentFailure)
}

// finalOutcomes lists the latest outcome of every target, in target order.
// A target that was never attempted counts as a permanent failure.
func finalOutcomes(targets []*models.PostTarget, attempts []*models.PublishAttempt) []models.AttemptOutcome {
	latest := latestAttempts(attempts)
	out := make([]models.AttemptOutcome, 0, len(targets))
	for _, t := range targets {
		if a, ok := latest[t.Key()]; ok {
			out = append(out, a.Outcome)
			continue
		}
		out = append(out, models.OutcomePermanentFailure)
	}
	return out
}

// Summarize renders one line per target for display, e.g.
//
//	x (account 3): published as 1790012
//	pinterest (account 9): failed after 2 attempts: account has no boards
func Summarize(targets []*models.PostTarget, attempts []*models.PublishAttempt) string {
	latest := latestAttempts(attempts)
	lines := make([]string, 0, len(targets))
	for _, t := range targets {
		prefix := fmt.Sprintf("%s (account %d): ", t.Platform, t.AccountID)
		a, ok := latest[t.Key()]
		switch {
		case !ok:
			lines = append(lines, prefix+"not attempted")
		case a.Outcome == models.OutcomeSuccess:
			lines = append(lines, prefix+"published as "+a.RemoteID)
		default:
			noun := "attempts"
			if a.AttemptNumber == 1 {
				noun = "attempt"
			}
			lines = append(lines, fmt.Sprintf("%sfailed after %d %s: %s", prefix, a.AttemptNumber, noun, a.Error))
		}
	}
	return strings.Join(lines, "\n")
}
