package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/maheshrc27/postflow/internal/models"
)

type PostTargetRepository interface {
	Create(ctx context.Context, tx *sql.Tx, t *models.PostTarget) error
	ListByPostID(ctx context.Context, postID int64) ([]*models.PostTarget, error)
}

type postTargetRepository struct {
	db *sql.DB
}

func NewPostTargetRepository(db *sql.DB) PostTargetRepository {
	return &postTargetRepository{db: db}
}

func (r *postTargetRepository) Create(ctx context.Context, tx *sql.Tx, t *models.PostTarget) error {
	var err error

	query := `
		INSERT INTO post_targets (post_id, platform, account_id, display_order)
		VALUES ($1, $2, $3, $4)
	`
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, t.PostID, t.Platform, t.AccountID, t.DisplayOrder)
	} else {
		_, err = r.db.ExecContext(ctx, query, t.PostID, t.Platform, t.AccountID, t.DisplayOrder)
	}

	if err != nil {
		slog.Info(err.Error())
		return storeError("create post target", err)
	}
	return nil
}

func (r *postTargetRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.PostTarget, error) {
	query := "SELECT post_id, platform, account_id, display_order FROM post_targets WHERE post_id = $1 ORDER BY display_order"

	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		return nil, storeError("list post targets", fmt.Errorf("query rows: %w", err))
	}
	defer rows.Close()

	var targets []*models.PostTarget
	for rows.Next() {
		var t models.PostTarget
		if err := rows.Scan(&t.PostID, &t.Platform, &t.AccountID, &t.DisplayOrder); err != nil {
			return nil, storeError("list post targets", fmt.Errorf("scan row: %w", err))
		}
		targets = append(targets, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, storeError("list post targets", fmt.Errorf("rows iteration: %w", err))
	}

	return targets, nil
}
