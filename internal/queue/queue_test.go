package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Type: task.Type()}, nil
}

func TestNotifier_PostFinalized(t *testing.T) {
	enq := &fakeEnqueuer{}
	n := &Notifier{client: enq}

	post := &models.Post{ID: 12, UserID: 3, Status: models.PostStatusPartiallyFailed, ResultSummary: "x (account 1): published as 9"}
	require.NoError(t, n.PostFinalized(context.Background(), post))

	require.Len(t, enq.tasks, 1)
	assert.Equal(t, TaskTypePostFinalized, enq.tasks[0].Type())
	var payload PostFinalizedPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	assert.Equal(t, PostFinalizedPayload{PostID: 12, UserID: 3, Status: models.PostStatusPartiallyFailed, Summary: "x (account 1): published as 9"}, payload)
}

func TestNotifier_DuplicateIsIgnored(t *testing.T) {
	n := &Notifier{client: &fakeEnqueuer{err: asynq.ErrTaskIDConflict}}
	assert.NoError(t, n.PostFinalized(context.Background(), &models.Post{ID: 1}))

	n = &Notifier{client: &fakeEnqueuer{err: errors.New("redis: connection refused")}}
	assert.Error(t, n.PostFinalized(context.Background(), &models.Post{ID: 1}))
}

type fakeAttempts []*models.PublishAttempt

func (f fakeAttempts) ListByPostID(ctx context.Context, postID int64) ([]*models.PublishAttempt, error) {
	return f, nil
}

func TestHandlePostFinalizedTask(t *testing.T) {
	q := NewQueue(fakeAttempts{
		{PostID: 1, Platform: "x", AccountID: 1, AttemptNumber: 1, Outcome: models.OutcomeSuccess, RemoteID: "9"},
	}, nil)

	payload, _ := json.Marshal(PostFinalizedPayload{PostID: 1, Status: models.PostStatusPublished})
	assert.NoError(t, q.HandlePostFinalizedTask(context.Background(), asynq.NewTask(TaskTypePostFinalized, payload)))

	err := q.HandlePostFinalizedTask(context.Background(), asynq.NewTask(TaskTypePostFinalized, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestReport(t *testing.T) {
	attempts := []*models.PublishAttempt{
		{Platform: "facebook", AccountID: 2, AttemptNumber: 1, Outcome: models.OutcomeTransientFailure},
		{Platform: "x", AccountID: 1, AttemptNumber: 1, Outcome: models.OutcomeSuccess},
		{Platform: "facebook", AccountID: 2, AttemptNumber: 2, Outcome: models.OutcomePermanentFailure, Error: "duplicate"},
	}

	got := Report(attempts)
	require.Len(t, got, 2)
	assert.Equal(t, "facebook", got[0].Platform)
	assert.Equal(t, 2, got[0].AttemptNumber)
	assert.Equal(t, "x", got[1].Platform)
}
