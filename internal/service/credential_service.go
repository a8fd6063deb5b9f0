package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/pkg/utils"
	"golang.org/x/sync/singleflight"
)

const defaultRefreshTimeout = 30 * time.Second

// RefreshRecorder observes every refresh exchange. outcome is one of
// "success", "rejected" or "transient".
type RefreshRecorder interface {
	ObserveRefresh(platform, outcome string)
}

type CredentialService interface {
	// GetValid returns a credential that will not expire within the refresh
	// margin, refreshing it first when needed.
	GetValid(ctx context.Context, platform string, accountID int64) (*models.Credential, error)
	// ForceRefresh refreshes regardless of expiry, after a platform rejected
	// the current token.
	ForceRefresh(ctx context.Context, platform string, accountID int64) (*models.Credential, error)
}

type CredentialOption func(*credentialService)

func WithCredentialClock(now func() time.Time) CredentialOption {
	return func(s *credentialService) { s.now = now }
}

func WithRefreshRecorder(r RefreshRecorder) CredentialOption {
	return func(s *credentialService) { s.recorder = r }
}

func WithRefreshTimeout(d time.Duration) CredentialOption {
	return func(s *credentialService) { s.refreshTimeout = d }
}

type credentialService struct {
	accounts       repository.PlatformAccountRepository
	cipher         *utils.TokenCipher
	refreshers     map[string]TokenRefresher
	margin         time.Duration
	refreshTimeout time.Duration
	now            func() time.Time
	recorder       RefreshRecorder
	group          singleflight.Group
}

func NewCredentialService(
	accounts repository.PlatformAccountRepository,
	cipher *utils.TokenCipher,
	refreshers map[string]TokenRefresher,
	margin time.Duration,
	opts ...CredentialOption) CredentialService {
	s := &credentialService{
		accounts:       accounts,
		cipher:         cipher,
		refreshers:     refreshers,
		margin:         margin,
		refreshTimeout: defaultRefreshTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *credentialService) GetValid(ctx context.Context, platform string, accountID int64) (*models.Credential, error) {
	acc, err := s.load(ctx, platform, accountID)
	if err != nil {
		return nil, err
	}

	cred, err := s.decrypt(acc)
	if err != nil {
		return nil, err
	}
	if !cred.ExpiresWithin(s.now(), s.margin) {
		return cred, nil
	}

	return s.refresh(ctx, platform, accountID, false)
}

func (s *credentialService) ForceRefresh(ctx context.Context, platform string, accountID int64) (*models.Credential, error) {
	if _, err := s.load(ctx, platform, accountID); err != nil {
		return nil, err
	}
	return s.refresh(ctx, platform, accountID, true)
}

func (s *credentialService) load(ctx context.Context, platform string, accountID int64) (*models.PlatformAccount, error) {
	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("account %d: %w", accountID, models.ErrAuth)
		}
		return nil, err
	}
	if acc.Platform != platform {
		return nil, fmt.Errorf("account %d belongs to %s, not %s: %w", accountID, acc.Platform, platform, models.ErrAuth)
	}
	if acc.Status == models.AccountStatusInvalid {
		return nil, fmt.Errorf("account %d is invalid (%s): %w", accountID, acc.InvalidReason, models.ErrAuth)
	}
	return acc, nil
}

// refresh runs at most one exchange per account at a time in this process.
// Callers arriving while one is in flight share its result.
func (s *credentialService) refresh(ctx context.Context, platform string, accountID int64, force bool) (*models.Credential, error) {
	ch := s.group.DoChan(strconv.FormatInt(accountID, 10), func() (any, error) {
		// Detached so one caller's cancellation does not fail the others.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.refreshTimeout)
		defer cancel()
		return s.doRefresh(fctx, platform, accountID, force)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.Credential), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s token refresh: %w: %w", platform, models.ErrTransient, ctx.Err())
	}
}

func (s *credentialService) doRefresh(ctx context.Context, platform string, accountID int64, force bool) (*models.Credential, error) {
	// Reload: another dispatcher may have rotated the token already.
	acc, err := s.load(ctx, platform, accountID)
	if err != nil {
		return nil, err
	}
	cred, err := s.decrypt(acc)
	if err != nil {
		return nil, err
	}
	if !force && !cred.ExpiresWithin(s.now(), s.margin) {
		return cred, nil
	}

	refresher, ok := s.refreshers[platform]
	if !ok {
		if !force {
			// Nothing to exchange; the token stays usable until the platform says otherwise.
			return cred, nil
		}
		err := fmt.Errorf("%s tokens cannot be refreshed: %w", platform, models.ErrAuth)
		s.invalidate(ctx, platform, accountID, err)
		return nil, err
	}

	token, err := refresher.Refresh(ctx, cred)
	if err != nil {
		if errors.Is(err, models.ErrAuth) {
			s.observe(platform, "rejected")
			s.invalidate(ctx, platform, accountID, err)
			return nil, err
		}
		s.observe(platform, "transient")
		if !errors.Is(err, models.ErrTransient) {
			err = fmt.Errorf("%w: %w", models.ErrTransient, err)
		}
		return nil, err
	}
	s.observe(platform, "success")

	update, err := s.encrypt(token)
	if err != nil {
		return nil, err
	}
	if err := s.accounts.SetToken(ctx, accountID, acc.AccessToken, update); err != nil {
		if errors.Is(err, repository.ErrTokenChanged) {
			// Someone else stored a fresher token. Use theirs.
			acc, err = s.load(ctx, platform, accountID)
			if err != nil {
				return nil, err
			}
			return s.decrypt(acc)
		}
		return nil, err
	}

	cred.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		cred.RefreshToken = token.RefreshToken
	}
	if token.ExpiresAt != nil {
		cred.ExpiresAt = token.ExpiresAt
	}
	slog.Info("token refreshed", slog.String("platform", platform), slog.Int64("account_id", accountID))
	return cred, nil
}

func (s *credentialService) invalidate(ctx context.Context, platform string, accountID int64, cause error) {
	slog.Warn("credential rejected, invalidating account",
		slog.String("platform", platform), slog.Int64("account_id", accountID), slog.String("error", cause.Error()))
	if err := s.accounts.MarkInvalid(ctx, accountID, cause.Error()); err != nil {
		slog.Error("mark account invalid", slog.Int64("account_id", accountID), slog.String("error", err.Error()))
	}
}

func (s *credentialService) observe(platform, outcome string) {
	if s.recorder != nil {
		s.recorder.ObserveRefresh(platform, outcome)
	}
}

func (s *credentialService) decrypt(acc *models.PlatformAccount) (*models.Credential, error) {
	accessToken, err := s.cipher.Decrypt(acc.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("decrypt access token of account %d: %w: %w", acc.ID, models.ErrAuth, err)
	}
	secret, err := s.cipher.Decrypt(acc.AccessTokenSecret)
	if err != nil {
		return nil, fmt.Errorf("decrypt token secret of account %d: %w: %w", acc.ID, models.ErrAuth, err)
	}
	refreshToken, err := s.cipher.Decrypt(acc.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("decrypt refresh token of account %d: %w: %w", acc.ID, models.ErrAuth, err)
	}

	return &models.Credential{
		AccountID:         acc.ID,
		Platform:          acc.Platform,
		ExternalID:        acc.AccountID,
		AccessToken:       accessToken,
		AccessTokenSecret: secret,
		RefreshToken:      refreshToken,
		ExpiresAt:         acc.TokenExpiresAt,
		Metadata:          acc.Metadata,
	}, nil
}

func (s *credentialService) encrypt(token *RefreshedToken) (*models.PlatformAccount, error) {
	accessToken, err := s.cipher.Encrypt(token.AccessToken)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.cipher.Encrypt(token.RefreshToken)
	if err != nil {
		return nil, err
	}
	return &models.PlatformAccount{
		AccessToken:    accessToken,
		RefreshToken:   refreshToken,
		TokenExpiresAt: token.ExpiresAt,
	}, nil
}
