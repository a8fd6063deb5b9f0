package queue

import (
	"context"
	"log/slog"

	"github.com/maheshrc27/postflow/internal/models"
)

const TaskTypePostFinalized = "post:finalized"

type PostFinalizedPayload struct {
	PostID  int64             `json:"post_id"`
	UserID  int64             `json:"user_id"`
	Status  models.PostStatus `json:"status"`
	Summary string            `json:"summary"`
}

// AttemptLister is the part of the attempt log the report handler reads.
type AttemptLister interface {
	ListByPostID(ctx context.Context, postID int64) ([]*models.PublishAttempt, error)
}

// Queue consumes finalized-post tasks and reports the per-platform result.
type Queue struct {
	attempts AttemptLister
	logger   *slog.Logger
}

func NewQueue(attempts AttemptLister, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		attempts: attempts,
		logger:   logger,
	}
}
