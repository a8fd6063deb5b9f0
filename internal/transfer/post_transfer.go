package transfer

import (
	"time"

	"github.com/maheshrc27/postflow/internal/models"
)

// PostCreation is the multipart form of POST /api/posts. Targets is a JSON
// array of platform account ids.
type PostCreation struct {
	Content       string `form:"content"`
	Title         string `form:"title"`
	ScheduledTime string `form:"scheduled_time"`
	Status        string `form:"status"`
	Targets       string `form:"targets"`
}

type PostDetail struct {
	*models.Post
	Attempts []*models.PublishAttempt `json:"attempts"`
}

// AccountImport registers credentials obtained elsewhere, e.g. by a separate
// OAuth front end.
type AccountImport struct {
	Platform          string            `json:"platform"`
	AccountID         string            `json:"account_id"`
	DisplayName       string            `json:"display_name"`
	Username          string            `json:"username"`
	AccessToken       string            `json:"access_token"`
	AccessTokenSecret string            `json:"access_token_secret"`
	RefreshToken      string            `json:"refresh_token"`
	ExpiresAt         *time.Time        `json:"expires_at"`
	Metadata          map[string]string `json:"metadata"`
}
