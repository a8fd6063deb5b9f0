package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postflow/internal/models"
)

func (q *Queue) HandlePostFinalizedTask(ctx context.Context, task *asynq.Task) error {
	var payload PostFinalizedPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", task.Type(), err, asynq.SkipRetry)
	}

	attempts, err := q.attempts.ListByPostID(ctx, payload.PostID)
	if err != nil {
		return err
	}

	log := q.logger.With(slog.Int64("post_id", payload.PostID), slog.Int64("user_id", payload.UserID))
	for _, r := range Report(attempts) {
		if r.Outcome == models.OutcomeSuccess {
			log.Info("platform published",
				slog.String("platform", r.Platform), slog.Int64("account_id", r.AccountID), slog.String("remote_id", r.RemoteID))
			continue
		}
		log.Warn("platform failed",
			slog.String("platform", r.Platform), slog.Int64("account_id", r.AccountID),
			slog.Int("attempts", r.AttemptNumber), slog.String("error", r.Error))
	}
	log.Info("post finalized", slog.String("status", string(payload.Status)))
	return nil
}

// Report keeps the last attempt of each target, in the order targets were
// first attempted.
func Report(attempts []*models.PublishAttempt) []*models.PublishAttempt {
	var order []models.TargetKey
	last := map[models.TargetKey]*models.PublishAttempt{}
	for _, a := range attempts {
		if _, seen := last[a.Key()]; !seen {
			order = append(order, a.Key())
		}
		if cur, ok := last[a.Key()]; !ok || a.AttemptNumber >= cur.AttemptNumber {
			last[a.Key()] = a
		}
	}
	out := make([]*models.PublishAttempt, 0, len(order))
	for _, k := range order {
		out = append(out, last[k])
	}
	return out
}
