package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/maheshrc27/postflow/internal/models"
)

type PostRepository interface {
	Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Post, error)
	ListByUserID(ctx context.Context, userID int64) ([]*models.Post, error)
	SetStatus(ctx context.Context, id int64, from, to models.PostStatus) error
	Remove(ctx context.Context, id int64) error

	FetchDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error)
	Claim(ctx context.Context, id int64, expected models.PostStatus, owner string, now time.Time) error
	MarkPublishing(ctx context.Context, id int64, owner string, now time.Time) error
	Heartbeat(ctx context.Context, id int64, owner string, now time.Time) error
	UpdateStatus(ctx context.Context, id int64, u models.StatusUpdate) error
	RecoverStale(ctx context.Context, staleBefore, now time.Time) (int64, error)
}

const postColumns = `id, user_id, content, title, media_refs, scheduled_time, status, retry_count,
	next_attempt_at, claimed_by, claimed_at, result_summary, created_at, updated_at`

type postRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error) {
	query := `
		INSERT INTO posts (user_id, content, title, media_refs, scheduled_time, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	args := []any{post.UserID, post.Content, post.Title, pq.Array(post.MediaRefs), post.ScheduledTime, post.Status}

	var id int64
	var err error
	if tx != nil {
		err = tx.QueryRowContext(ctx, query, args...).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, args...).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, storeError("create post", err)
	}

	return id, nil
}

func (r *postRepository) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1`

	post, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, storeError("get post", err)
	}

	if err := r.loadTargets(ctx, []*models.Post{post}); err != nil {
		return nil, err
	}
	return post, nil
}

func (r *postRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE user_id = $1 ORDER BY scheduled_time DESC, id DESC`
	return r.queryPosts(ctx, "list posts", query, userID)
}

// SetStatus moves a post between presentation states, e.g. draft to scheduled.
func (r *postRepository) SetStatus(ctx context.Context, id int64, from, to models.PostStatus) error {
	query := `UPDATE posts SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`
	return r.execConditional(ctx, "set post status", models.ErrInvalidTransition, query, id, from, to)
}

// Remove deletes a post that has not been picked up by a dispatcher yet.
func (r *postRepository) Remove(ctx context.Context, id int64) error {
	query := `
		DELETE FROM posts
		WHERE id = $1
			AND status IN ('draft', 'scheduled')
			AND NOT EXISTS (SELECT 1 FROM publish_attempts WHERE post_id = $1)
	`
	return r.execConditional(ctx, "remove post", models.ErrInvalidTransition, query, id)
}

func (r *postRepository) FetchDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts
		WHERE status = 'scheduled' AND COALESCE(next_attempt_at, scheduled_time) <= $1
		ORDER BY COALESCE(next_attempt_at, scheduled_time) ASC, id ASC
		LIMIT $2`
	return r.queryPosts(ctx, "fetch due posts", query, now, limit)
}

// Claim is the only cross-instance mutual exclusion: a single conditional
// update that exactly one dispatcher can win.
func (r *postRepository) Claim(ctx context.Context, id int64, expected models.PostStatus, owner string, now time.Time) error {
	query := `
		UPDATE posts
		SET status = 'claimed', claimed_by = $3, claimed_at = $4, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`
	return r.execConditional(ctx, "claim post", models.ErrClaimConflict, query, id, expected, owner, now)
}

func (r *postRepository) MarkPublishing(ctx context.Context, id int64, owner string, now time.Time) error {
	query := `
		UPDATE posts
		SET status = 'publishing', claimed_at = $3, updated_at = $3
		WHERE id = $1 AND claimed_by = $2 AND status = 'claimed'
	`
	return r.execConditional(ctx, "mark publishing", models.ErrClaimConflict, query, id, owner, now)
}

// Heartbeat moves claimed_at forward so the recovery sweep leaves a live
// claim alone.
func (r *postRepository) Heartbeat(ctx context.Context, id int64, owner string, now time.Time) error {
	query := `
		UPDATE posts
		SET claimed_at = $3, updated_at = $3
		WHERE id = $1 AND claimed_by = $2 AND status = 'publishing'
	`
	return r.execConditional(ctx, "post heartbeat", models.ErrClaimConflict, query, id, owner, now)
}

// UpdateStatus releases the claim. It only applies while owner still holds it,
// so a dispatcher whose claim was recovered cannot overwrite the new owner.
func (r *postRepository) UpdateStatus(ctx context.Context, id int64, u models.StatusUpdate) error {
	query := `
		UPDATE posts
		SET status = $3, retry_count = $4, next_attempt_at = $5, result_summary = $6,
			claimed_by = '', claimed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND claimed_by = $2 AND status IN ('claimed', 'publishing')
	`
	return r.execConditional(ctx, "update post status", models.ErrClaimConflict, query,
		id, u.Owner, u.Status, u.RetryCount, nullTime(u.NextAttemptAt), u.ResultSummary)
}

// RecoverStale returns posts whose dispatcher stopped mid-flight to the queue,
// due immediately. retry_count is left as is.
func (r *postRepository) RecoverStale(ctx context.Context, staleBefore, now time.Time) (int64, error) {
	query := `
		UPDATE posts
		SET status = 'scheduled', next_attempt_at = $2, claimed_by = '', claimed_at = NULL, updated_at = NOW()
		WHERE status IN ('claimed', 'publishing') AND claimed_at < $1
	`
	result, err := r.db.ExecContext(ctx, query, staleBefore, now)
	if err != nil {
		return 0, storeError("recover stale posts", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, storeError("recover stale posts", err)
	}
	return affected, nil
}

func (r *postRepository) execConditional(ctx context.Context, op string, conflict error, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storeError(op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storeError(op, err)
	}
	if affected == 0 {
		return conflict
	}
	return nil
}

func (r *postRepository) queryPosts(ctx context.Context, op, query string, args ...any) ([]*models.Post, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError(op, err)
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, storeError(op, err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(op, err)
	}

	if err := r.loadTargets(ctx, posts); err != nil {
		return nil, err
	}
	return posts, nil
}

func (r *postRepository) loadTargets(ctx context.Context, posts []*models.Post) error {
	if len(posts) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(posts))
	byID := make(map[int64]*models.Post, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
		byID[p.ID] = p
	}

	query := `SELECT post_id, platform, account_id, display_order FROM post_targets
		WHERE post_id = ANY($1) ORDER BY post_id, display_order`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return storeError("load post targets", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t models.PostTarget
		if err := rows.Scan(&t.PostID, &t.Platform, &t.AccountID, &t.DisplayOrder); err != nil {
			return storeError("load post targets", err)
		}
		if p, ok := byID[t.PostID]; ok {
			p.Targets = append(p.Targets, &t)
		}
	}
	if err := rows.Err(); err != nil {
		return storeError("load post targets", err)
	}
	return nil
}

func scanPost(row rowScanner) (*models.Post, error) {
	var p models.Post
	var nextAttempt, claimedAt sql.NullTime
	err := row.Scan(&p.ID, &p.UserID, &p.Content, &p.Title, pq.Array(&p.MediaRefs), &p.ScheduledTime,
		&p.Status, &p.RetryCount, &nextAttempt, &p.ClaimedBy, &claimedAt, &p.ResultSummary,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.NextAttemptAt = timePtr(nextAttempt)
	p.ClaimedAt = timePtr(claimedAt)
	return &p, nil
}
