package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postflow/internal/models"
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Notifier enqueues a post:finalized task once the dispatcher settles a post.
type Notifier struct {
	client enqueuer
}

func NewNotifier(client *asynq.Client) *Notifier {
	return &Notifier{client: client}
}

func (n *Notifier) PostFinalized(ctx context.Context, post *models.Post) error {
	payload, err := json.Marshal(PostFinalizedPayload{
		PostID:  post.ID,
		UserID:  post.UserID,
		Status:  post.Status,
		Summary: post.ResultSummary,
	})
	if err != nil {
		return err
	}

	// The task id makes a second settle of the same post a no-op.
	task := asynq.NewTask(TaskTypePostFinalized, payload,
		asynq.TaskID(fmt.Sprintf("post-finalized-%d", post.ID)),
		asynq.MaxRetry(5),
		asynq.Retention(24*time.Hour))

	if _, err := n.client.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("enqueue %s for post %d: %w", TaskTypePostFinalized, post.ID, err)
	}
	return nil
}
