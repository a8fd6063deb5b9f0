package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
)

const (
	refreshWindow      = 30 * time.Minute
	refreshConcurrency = 10
)

type expiringLister interface {
	ListExpiring(ctx context.Context, before time.Time) ([]*models.PlatformAccount, error)
}

type refresher interface {
	ForceRefresh(ctx context.Context, platform string, accountID int64) (*models.Credential, error)
}

// TokenRefreshJob refreshes tokens that expire within the next half hour so
// the dispatcher rarely has to refresh in line.
type TokenRefreshJob struct {
	accounts  expiringLister
	creds     refresher
	platforms map[string]bool
	now       func() time.Time
}

// NewTokenRefreshJob refreshes accounts of the given platforms only; the
// others have no refresh exchange.
func NewTokenRefreshJob(accounts expiringLister, creds refresher, platforms []string) *TokenRefreshJob {
	set := make(map[string]bool, len(platforms))
	for _, p := range platforms {
		set[p] = true
	}
	return &TokenRefreshJob{
		accounts:  accounts,
		creds:     creds,
		platforms: set,
		now:       time.Now,
	}
}

// RefreshTokens is the cron entry point.
func (c *TokenRefreshJob) RefreshTokens() {
	refreshed, failed := c.Run(context.Background())
	if refreshed > 0 || failed > 0 {
		slog.Info("token refresh run", slog.Int("refreshed", refreshed), slog.Int("failed", failed))
	}
}

func (c *TokenRefreshJob) Run(ctx context.Context) (refreshed, failed int) {
	accounts, err := c.accounts.ListExpiring(ctx, c.now().Add(refreshWindow))
	if err != nil {
		slog.Info(err.Error())
		return 0, 0
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, refreshConcurrency)

	for _, acc := range accounts {
		if !c.platforms[acc.Platform] {
			continue
		}

		wg.Add(1)
		semaphore <- struct{}{}

		go func(acc *models.PlatformAccount) {
			defer wg.Done()
			defer func() { <-semaphore }()

			_, err := c.creds.ForceRefresh(ctx, acc.Platform, acc.ID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				slog.Info("unable to refresh token",
					slog.String("platform", acc.Platform), slog.Int64("account_id", acc.ID), slog.String("error", err.Error()))
				return
			}
			refreshed++
		}(acc)
	}

	wg.Wait()
	return refreshed, failed
}
