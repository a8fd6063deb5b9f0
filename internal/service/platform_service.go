package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/maheshrc27/postflow/pkg/utils"
)

// PlatformService manages the platform accounts a user publishes to. Tokens
// are obtained by a separate OAuth front end and imported here.
type PlatformService interface {
	List(ctx context.Context, userID int64) ([]*models.PlatformAccount, error)
	Import(ctx context.Context, userID int64, in *transfer.AccountImport) (*models.PlatformAccount, error)
}

type platformService struct {
	accounts  repository.PlatformAccountRepository
	cipher    *utils.TokenCipher
	platforms map[string]struct{}
}

// NewPlatformService accepts accounts for the given platforms only, normally
// the platforms of the publisher registry.
func NewPlatformService(accounts repository.PlatformAccountRepository, cipher *utils.TokenCipher, platforms []string) PlatformService {
	set := make(map[string]struct{}, len(platforms))
	for _, p := range platforms {
		set[p] = struct{}{}
	}
	return &platformService{
		accounts:  accounts,
		cipher:    cipher,
		platforms: set,
	}
}

func (s *platformService) List(ctx context.Context, userID int64) ([]*models.PlatformAccount, error) {
	if userID == 0 {
		return nil, invalid("user is not valid")
	}

	accounts, err := s.accounts.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing accounts: %w", err)
	}
	return accounts, nil
}

func (s *platformService) Import(ctx context.Context, userID int64, in *transfer.AccountImport) (*models.PlatformAccount, error) {
	if userID == 0 {
		return nil, invalid("user is not valid")
	}
	if in == nil {
		return nil, invalid("account data is nil")
	}

	platform := strings.ToLower(strings.TrimSpace(in.Platform))
	if _, ok := s.platforms[platform]; !ok {
		return nil, invalid("platform %q is not supported", in.Platform)
	}
	if strings.TrimSpace(in.AccountID) == "" {
		return nil, invalid("account_id is required")
	}
	if in.AccessToken == "" {
		return nil, invalid("access_token is required")
	}
	if platform == models.PlatformTumblr && in.AccessTokenSecret == "" {
		return nil, invalid("tumblr accounts need access_token_secret")
	}

	pa := &models.PlatformAccount{
		UserID:         userID,
		Platform:       platform,
		AccountID:      strings.TrimSpace(in.AccountID),
		DisplayName:    in.DisplayName,
		Username:       in.Username,
		TokenExpiresAt: in.ExpiresAt,
		Metadata:       in.Metadata,
		Status:         models.AccountStatusActive,
	}

	var err error
	if pa.AccessToken, err = s.cipher.Encrypt(in.AccessToken); err != nil {
		return nil, err
	}
	if pa.AccessTokenSecret, err = s.cipher.Encrypt(in.AccessTokenSecret); err != nil {
		return nil, err
	}
	if pa.RefreshToken, err = s.cipher.Encrypt(in.RefreshToken); err != nil {
		return nil, err
	}

	pa.ID, err = s.accounts.Create(ctx, nil, pa)
	if err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			slog.Info(err.Error())
		}
		return nil, err
	}

	slog.Info("platform account imported", "account_id", pa.ID, "platform", pa.Platform, "user_id", userID)
	return pa, nil
}
