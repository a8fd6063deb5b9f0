package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/maheshrc27/postflow/internal/models"
)

// uniqueViolation is the Postgres SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// ErrTokenChanged is returned by SetToken when the stored access token no
// longer matches the one the refresh started from.
var ErrTokenChanged = errors.New("repository: access token changed concurrently")

type PlatformAccountRepository interface {
	Create(ctx context.Context, tx *sql.Tx, pa *models.PlatformAccount) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.PlatformAccount, error)
	ListByUserID(ctx context.Context, userID int64) ([]*models.PlatformAccount, error)
	ListExpiring(ctx context.Context, before time.Time) ([]*models.PlatformAccount, error)
	CheckByUserID(ctx context.Context, accountID, userID int64) (bool, error)
	SetToken(ctx context.Context, id int64, oldAccessToken string, pa *models.PlatformAccount) error
	MarkInvalid(ctx context.Context, id int64, reason string) error
}

const platformAccountColumns = `id, user_id, platform, account_id, display_name, username, access_token,
	access_token_secret, refresh_token, token_expires_at, metadata, status, invalid_reason, created_at, updated_at`

type platformAccountRepository struct {
	db *sql.DB
}

func NewPlatformAccountRepository(db *sql.DB) PlatformAccountRepository {
	return &platformAccountRepository{db: db}
}

func (r *platformAccountRepository) Create(ctx context.Context, tx *sql.Tx, pa *models.PlatformAccount) (int64, error) {
	metadata, err := json.Marshal(pa.Metadata)
	if err != nil {
		return 0, err
	}

	query := `
		INSERT INTO platform_accounts (
			user_id,
			platform,
			account_id,
			display_name,
			username,
			access_token,
			access_token_secret,
			refresh_token,
			token_expires_at,
			metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	args := []any{pa.UserID, pa.Platform, pa.AccountID, pa.DisplayName, pa.Username,
		pa.AccessToken, pa.AccessTokenSecret, pa.RefreshToken, nullTime(pa.TokenExpiresAt), metadata}

	var id int64
	if tx != nil {
		err = tx.QueryRowContext(ctx, query, args...).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, args...).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return 0, fmt.Errorf("%s account %s: %w", pa.Platform, pa.AccountID, models.ErrDuplicate)
		}
		return 0, storeError("create platform account", err)
	}

	return id, nil
}

func (r *platformAccountRepository) GetByID(ctx context.Context, id int64) (*models.PlatformAccount, error) {
	query := `SELECT ` + platformAccountColumns + ` FROM platform_accounts WHERE id = $1`

	pa, err := scanPlatformAccount(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, storeError("get platform account", err)
	}
	return pa, nil
}

func (r *platformAccountRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.PlatformAccount, error) {
	query := `SELECT ` + platformAccountColumns + ` FROM platform_accounts WHERE user_id = $1 ORDER BY platform, id`
	return r.queryAccounts(ctx, "list platform accounts", query, userID)
}

// ListExpiring returns active accounts with a refresh token whose access token
// expires before the given time, already expired ones included.
func (r *platformAccountRepository) ListExpiring(ctx context.Context, before time.Time) ([]*models.PlatformAccount, error) {
	query := `SELECT ` + platformAccountColumns + ` FROM platform_accounts
		WHERE status = 'active' AND refresh_token <> '' AND token_expires_at IS NOT NULL AND token_expires_at < $1
		ORDER BY token_expires_at`
	return r.queryAccounts(ctx, "list expiring accounts", query, before)
}

func (r *platformAccountRepository) CheckByUserID(ctx context.Context, accountID, userID int64) (bool, error) {
	query := "SELECT 1 FROM platform_accounts WHERE id = $1 AND user_id = $2"

	var result int
	err := r.db.QueryRowContext(ctx, query, accountID, userID).Scan(&result)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, storeError("check platform account", err)
	}

	return result == 1, nil
}

// SetToken stores a refreshed token pair, but only if the access token is
// still the one the refresh started from. Empty fields keep their value.
func (r *platformAccountRepository) SetToken(ctx context.Context, id int64, oldAccessToken string, pa *models.PlatformAccount) error {
	query := `
		UPDATE platform_accounts
		SET
			access_token = COALESCE(NULLIF($3, ''), access_token),
			refresh_token = COALESCE(NULLIF($4, ''), refresh_token),
			token_expires_at = COALESCE($5, token_expires_at),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND access_token = $2 AND status = 'active'
	`
	result, err := r.db.ExecContext(ctx, query, id, oldAccessToken, pa.AccessToken, pa.RefreshToken, nullTime(pa.TokenExpiresAt))
	if err != nil {
		return storeError("set token", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return storeError("set token", err)
	}
	if affected != 1 {
		return ErrTokenChanged
	}
	return nil
}

func (r *platformAccountRepository) MarkInvalid(ctx context.Context, id int64, reason string) error {
	query := `
		UPDATE platform_accounts
		SET status = 'invalid', invalid_reason = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, reason); err != nil {
		return storeError("mark account invalid", err)
	}
	return nil
}

func (r *platformAccountRepository) queryAccounts(ctx context.Context, op, query string, args ...any) ([]*models.PlatformAccount, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError(op, err)
	}
	defer rows.Close()

	var accounts []*models.PlatformAccount
	for rows.Next() {
		pa, err := scanPlatformAccount(rows)
		if err != nil {
			return nil, storeError(op, err)
		}
		accounts = append(accounts, pa)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(op, err)
	}
	return accounts, nil
}

func scanPlatformAccount(row rowScanner) (*models.PlatformAccount, error) {
	var pa models.PlatformAccount
	var expiresAt sql.NullTime
	var metadata []byte
	err := row.Scan(&pa.ID, &pa.UserID, &pa.Platform, &pa.AccountID, &pa.DisplayName, &pa.Username,
		&pa.AccessToken, &pa.AccessTokenSecret, &pa.RefreshToken, &expiresAt, &metadata,
		&pa.Status, &pa.InvalidReason, &pa.CreatedAt, &pa.UpdatedAt)
	if err != nil {
		return nil, err
	}
	pa.TokenExpiresAt = timePtr(expiresAt)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &pa.Metadata); err != nil {
			return nil, err
		}
	}
	return &pa, nil
}
