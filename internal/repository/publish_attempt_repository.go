package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/maheshrc27/postflow/internal/models"
)

// PublishAttemptRepository is append-only. Attempts are never updated or deleted.
type PublishAttemptRepository interface {
	Create(ctx context.Context, a *models.PublishAttempt) (int64, error)
	ListByPostID(ctx context.Context, postID int64) ([]*models.PublishAttempt, error)
}

type publishAttemptRepository struct {
	db *sql.DB
}

func NewPublishAttemptRepository(db *sql.DB) PublishAttemptRepository {
	return &publishAttemptRepository{db: db}
}

func (r *publishAttemptRepository) Create(ctx context.Context, a *models.PublishAttempt) (int64, error) {
	query := `
		INSERT INTO publish_attempts (post_id, platform, account_id, outcome, remote_id, error, attempt_number, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query, a.PostID, a.Platform, a.AccountID, a.Outcome,
		a.RemoteID, a.Error, a.AttemptNumber, a.AttemptedAt).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, storeError("append publish attempt", err)
	}

	return id, nil
}

func (r *publishAttemptRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.PublishAttempt, error) {
	query := `
		SELECT id, post_id, platform, account_id, outcome, remote_id, error, attempt_number, attempted_at
		FROM publish_attempts
		WHERE post_id = $1
		ORDER BY attempted_at, id
	`

	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		return nil, storeError("list publish attempts", err)
	}
	defer rows.Close()

	var attempts []*models.PublishAttempt
	for rows.Next() {
		var a models.PublishAttempt
		err := rows.Scan(&a.ID, &a.PostID, &a.Platform, &a.AccountID, &a.Outcome,
			&a.RemoteID, &a.Error, &a.AttemptNumber, &a.AttemptedAt)
		if err != nil {
			return nil, storeError("list publish attempts", err)
		}
		attempts = append(attempts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list publish attempts", err)
	}
	return attempts, nil
}
