package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// storeError tags a driver error so callers can tell an unreachable store
// from a domain conflict with errors.Is(err, models.ErrStore).
func storeError(op string, err error) error {
	return fmt.Errorf("repository: %s: %w: %w", op, models.ErrStore, err)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
