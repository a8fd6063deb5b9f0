package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/dghubble/oauth1"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
)

const (
	TUMBLR_API_BASE       = "https://api.tumblr.com/v2"
	tumblrMaxHeadingRunes = 100
)

// Tumblr creates a Neue Post Format post on the blog named by the credential's
// external id. Requests are signed with OAuth 1.0a.
type Tumblr struct {
	api    apiClient
	oauth1 *oauth1.Config
}

func NewTumblr(consumer config.OAuthClient, opts ...Option) *Tumblr {
	return &Tumblr{
		api:    newAPIClient(models.PlatformTumblr, TUMBLR_API_BASE, opts),
		oauth1: oauth1.NewConfig(consumer.ClientID, consumer.ClientSecret),
	}
}

func (p *Tumblr) Platform() string { return models.PlatformTumblr }

func (p *Tumblr) Validate(c Content) ValidationResult {
	v := ValidationResult{Platform: p.Platform()}
	v.check(c.Text != "" || len(c.Media) > 0, "text or media is required")
	v.allowed(c.Media, "jpg", "png", "gif", "webp", "mp4", "mov")
	return v
}

type npfBlock struct {
	Type    string     `json:"type"`
	Subtype string     `json:"subtype,omitempty"`
	Text    string     `json:"text,omitempty"`
	Media   []npfMedia `json:"media,omitempty"`
	URL     string     `json:"url,omitempty"`
}

type npfMedia struct {
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
}

func (p *Tumblr) Publish(ctx context.Context, cred *models.Credential, c Content) (string, error) {
	var blocks []npfBlock
	if heading := c.TitleOrFirstLine(tumblrMaxHeadingRunes); heading != "" {
		blocks = append(blocks, npfBlock{Type: "text", Subtype: "heading1", Text: heading})
	}
	if c.Text != "" {
		blocks = append(blocks, npfBlock{Type: "text", Text: c.Text})
	}
	for _, m := range c.Media {
		if m.IsVideo() {
			blocks = append(blocks, npfBlock{Type: "video", URL: m.URL})
			continue
		}
		blocks = append(blocks, npfBlock{Type: "image", Media: []npfMedia{{URL: m.URL, Type: m.MIME}}})
	}

	body, err := json.Marshal(map[string]any{"content": blocks})
	if err != nil {
		return "", Permanent(p.Platform(), err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.api.url("/blog/"+cred.ExternalID+"/posts"), bytes.NewReader(body))
	if err != nil {
		return "", Permanent(p.Platform(), err)
	}
	req.Header.Set("Content-Type", "application/json")

	// The signing transport wraps the configured client's transport.
	signed := p.oauth1.Client(context.WithValue(ctx, oauth1.HTTPClient, p.api.http),
		oauth1.NewToken(cred.AccessToken, cred.AccessTokenSecret))

	var res struct {
		Response struct {
			ID json.Number `json:"id"`
		} `json:"response"`
	}
	if err := p.api.doWith(signed, req, &res); err != nil {
		return "", err
	}
	if res.Response.ID == "" {
		return "", Transient(p.Platform(), errNoRemoteID)
	}
	return res.Response.ID.String(), nil
}
