package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/transfer"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	TIKTOK_TOKEN_URL            = "https://open.tiktokapis.com/v2/oauth/token/"
	INSTAGRAM_REFRESH_TOKEN_URL = "https://graph.instagram.com/refresh_access_token"
	X_TOKEN_URL                 = "https://api.x.com/2/oauth2/token"
	PINTEREST_TOKEN_URL         = "https://api.pinterest.com/v5/oauth/token"
)

// RefreshedToken is the result of a refresh exchange. Empty fields keep the
// stored value.
type RefreshedToken struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// TokenRefresher exchanges a credential's refresh material for a new access
// token. Errors wrap models.ErrAuth when the platform rejected the exchange
// and models.ErrTransient when it may succeed later.
type TokenRefresher interface {
	Refresh(ctx context.Context, cred *models.Credential) (*RefreshedToken, error)
}

// NewTokenRefreshers returns the refresher of every platform whose tokens
// expire. Facebook page tokens and Tumblr OAuth1 tokens do not.
func NewTokenRefreshers(cfg config.Config) map[string]TokenRefresher {
	return map[string]TokenRefresher{
		models.PlatformYoutube: NewOAuth2Refresher(models.PlatformYoutube, &oauth2.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			Scopes:       []string{"https://www.googleapis.com/auth/youtube.upload"},
			Endpoint:     google.Endpoint,
		}),
		models.PlatformX: NewOAuth2Refresher(models.PlatformX, &oauth2.Config{
			ClientID:     cfg.X.ClientID,
			ClientSecret: cfg.X.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: X_TOKEN_URL, AuthStyle: oauth2.AuthStyleInHeader},
		}),
		models.PlatformPinterest: NewOAuth2Refresher(models.PlatformPinterest, &oauth2.Config{
			ClientID:     cfg.Pinterest.ClientID,
			ClientSecret: cfg.Pinterest.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: PINTEREST_TOKEN_URL, AuthStyle: oauth2.AuthStyleInHeader},
		}),
		models.PlatformTiktok:    NewTiktokRefresher(cfg.Tiktok, TIKTOK_TOKEN_URL, nil),
		models.PlatformInstagram: NewInstagramRefresher(INSTAGRAM_REFRESH_TOKEN_URL, nil),
	}
}

func refreshRejected(platform string, err error) error {
	return fmt.Errorf("%s token refresh rejected: %w: %w", platform, models.ErrAuth, err)
}

func refreshUnavailable(platform string, err error) error {
	return fmt.Errorf("%s token refresh failed: %w: %w", platform, models.ErrTransient, err)
}

// refreshStatusError maps the status of a refresh endpoint. Throttling and
// server faults are worth another try, everything else means the grant is gone.
func refreshStatusError(platform string, status int, body []byte) error {
	err := fmt.Errorf("status %d: %s", status, strings.TrimSpace(string(body)))
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return refreshUnavailable(platform, err)
	}
	return refreshRejected(platform, err)
}

type oauth2Refresher struct {
	platform string
	conf     *oauth2.Config
}

// NewOAuth2Refresher uses the standard refresh_token grant.
func NewOAuth2Refresher(platform string, conf *oauth2.Config) TokenRefresher {
	return &oauth2Refresher{platform: platform, conf: conf}
}

func (r *oauth2Refresher) Refresh(ctx context.Context, cred *models.Credential) (*RefreshedToken, error) {
	if cred.RefreshToken == "" {
		return nil, refreshRejected(r.platform, errors.New("no refresh token stored"))
	}

	token, err := r.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return nil, refreshStatusError(r.platform, re.Response.StatusCode, re.Body)
		}
		return nil, refreshUnavailable(r.platform, err)
	}

	refreshed := &RefreshedToken{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		refreshed.ExpiresAt = &expiry
	}
	return refreshed, nil
}

type tiktokRefresher struct {
	client   config.OAuthClient
	tokenURL string
	http     *http.Client
}

func NewTiktokRefresher(client config.OAuthClient, tokenURL string, httpClient *http.Client) TokenRefresher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &tiktokRefresher{client: client, tokenURL: tokenURL, http: httpClient}
}

func (r *tiktokRefresher) Refresh(ctx context.Context, cred *models.Credential) (*RefreshedToken, error) {
	data := url.Values{}
	data.Set("client_key", r.client.ClientID)
	data.Set("client_secret", r.client.ClientSecret)
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", cred.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, refreshUnavailable(models.PlatformTiktok, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, refreshUnavailable(models.PlatformTiktok, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, refreshStatusError(models.PlatformTiktok, resp.StatusCode, body)
	}

	var tokenResponse transfer.TiktokTokenResponse
	if err := json.Unmarshal(body, &tokenResponse); err != nil {
		return nil, refreshUnavailable(models.PlatformTiktok, err)
	}
	// TikTok reports grant errors with a 200.
	if tokenResponse.Error != "" || tokenResponse.AccessToken == "" {
		return nil, refreshRejected(models.PlatformTiktok,
			fmt.Errorf("%s: %s", tokenResponse.Error, tokenResponse.ErrorDescription))
	}

	return &RefreshedToken{
		AccessToken:  tokenResponse.AccessToken,
		RefreshToken: tokenResponse.RefreshToken,
		ExpiresAt:    GetExpiresAt(int64(tokenResponse.ExpiresIn)),
	}, nil
}

type instagramRefresher struct {
	refreshURL string
	http       *http.Client
}

// NewInstagramRefresher extends a long-lived Instagram token. The token is its
// own refresh material.
func NewInstagramRefresher(refreshURL string, httpClient *http.Client) TokenRefresher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &instagramRefresher{refreshURL: refreshURL, http: httpClient}
}

func (r *instagramRefresher) Refresh(ctx context.Context, cred *models.Credential) (*RefreshedToken, error) {
	params := url.Values{}
	params.Set("grant_type", "ig_refresh_token")
	params.Set("access_token", cred.AccessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.refreshURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, refreshUnavailable(models.PlatformInstagram, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, refreshUnavailable(models.PlatformInstagram, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, refreshStatusError(models.PlatformInstagram, resp.StatusCode, body)
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, refreshUnavailable(models.PlatformInstagram, err)
	}

	return &RefreshedToken{
		AccessToken:  result.AccessToken,
		RefreshToken: result.AccessToken,
		ExpiresAt:    GetExpiresAt(result.ExpiresIn),
	}, nil
}
