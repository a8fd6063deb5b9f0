package publisher

import (
	"context"
	"net/url"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/transfer"
)

const (
	GRAPH_API_BASE       = "https://graph.facebook.com/v19.0"
	facebookMaxTextRunes = 63206
)

// Facebook publishes to a page with its page access token. The credential's
// external id is the page id.
type Facebook struct {
	api apiClient
}

func NewFacebook(opts ...Option) *Facebook {
	api := newAPIClient(models.PlatformFacebook, GRAPH_API_BASE, opts)
	api.classify = graphStatus
	return &Facebook{api: api}
}

func (p *Facebook) Platform() string { return models.PlatformFacebook }

func (p *Facebook) Validate(c Content) ValidationResult {
	v := ValidationResult{Platform: p.Platform()}
	v.check(c.Text != "" || len(c.Media) > 0, "text or media is required")
	v.check(runeLen(c.Text) <= facebookMaxTextRunes, "text is %d characters, the limit is %d", runeLen(c.Text), facebookMaxTextRunes)
	v.check(len(c.Media) <= 1, "at most 1 media item is supported, got %d", len(c.Media))
	v.check(len(c.Videos()) == 0, "videos are not supported")
	v.allowed(c.Images(), "jpg", "png", "gif", "webp")
	return v
}

func (p *Facebook) Publish(ctx context.Context, cred *models.Credential, c Content) (string, error) {
	form := url.Values{}
	form.Set("access_token", cred.AccessToken)

	var res transfer.GraphIDResponse
	if images := c.Images(); len(images) > 0 {
		form.Set("url", images[0].URL)
		form.Set("caption", c.Text)
		if err := p.api.postForm(ctx, "/"+cred.ExternalID+"/photos", form, &res); err != nil {
			return "", err
		}
	} else {
		form.Set("message", c.Text)
		if err := p.api.postForm(ctx, "/"+cred.ExternalID+"/feed", form, &res); err != nil {
			return "", err
		}
	}

	// Photos answer with the photo id and the feed story id.
	if res.PostID != "" {
		return res.PostID, nil
	}
	if res.ID == "" {
		return "", Transient(p.Platform(), errNoRemoteID)
	}
	return res.ID, nil
}
