package models

import (
	"time"
)

const (
	PlatformFacebook  = "facebook"
	PlatformInstagram = "instagram"
	PlatformPinterest = "pinterest"
	PlatformTumblr    = "tumblr"
	PlatformX         = "x"
	PlatformTiktok    = "tiktok"
	PlatformYoutube   = "youtube"
)

const (
	AccountStatusActive  = "active"
	AccountStatusInvalid = "invalid"
)

// PlatformAccount is the stored form of an account. Token fields are encrypted.
type PlatformAccount struct {
	ID                int64             `db:"id" json:"id"`
	UserID            int64             `db:"user_id" json:"user_id"`
	Platform          string            `db:"platform" json:"platform"`
	AccountID         string            `db:"account_id" json:"account_id"`
	DisplayName       string            `db:"display_name" json:"display_name"`
	Username          string            `db:"username" json:"username"`
	AccessToken       string            `db:"access_token" json:"-"`
	AccessTokenSecret string            `db:"access_token_secret" json:"-"`
	RefreshToken      string            `db:"refresh_token" json:"-"`
	TokenExpiresAt    *time.Time        `db:"token_expires_at" json:"token_expires_at,omitempty"`
	Metadata          map[string]string `db:"metadata" json:"metadata,omitempty"`
	Status            string            `db:"status" json:"status"`
	InvalidReason     string            `db:"invalid_reason" json:"invalid_reason,omitempty"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at" json:"updated_at"`
}

// Credential is the decrypted view of a PlatformAccount handed to publishers.
type Credential struct {
	AccountID         int64
	Platform          string
	ExternalID        string
	AccessToken       string
	AccessTokenSecret string
	RefreshToken      string
	ExpiresAt         *time.Time
	Metadata          map[string]string
}

func (c *Credential) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return !c.ExpiresAt.After(now.Add(margin))
}
