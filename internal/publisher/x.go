package publisher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/maheshrc27/postflow/internal/models"
)

const (
	X_API_BASE     = "https://api.x.com/2"
	xMaxTextRunes  = 280
	xMaxImages     = 4
	xMaxVideoCount = 1
)

// X posts through the v2 API with the user's OAuth 2.0 token. Media is
// uploaded first and attached by id.
type X struct {
	api apiClient
}

func NewX(opts ...Option) *X {
	return &X{api: newAPIClient(models.PlatformX, X_API_BASE, opts)}
}

func (p *X) Platform() string { return models.PlatformX }

func (p *X) Validate(c Content) ValidationResult {
	v := ValidationResult{Platform: p.Platform()}
	images, videos := len(c.Images()), len(c.Videos())
	v.check(c.Text != "" || len(c.Media) > 0, "text or media is required")
	v.check(runeLen(c.Text) <= xMaxTextRunes, "text is %d characters, the limit is %d", runeLen(c.Text), xMaxTextRunes)
	v.check(images <= xMaxImages, "at most %d images are supported, got %d", xMaxImages, images)
	v.check(videos <= xMaxVideoCount, "at most %d video is supported, got %d", xMaxVideoCount, videos)
	v.check(images == 0 || videos == 0, "images and video cannot be mixed")
	v.allowed(c.Media, "jpg", "png", "gif", "webp", "mp4", "mov")
	return v
}

type tweetRequest struct {
	Text  string      `json:"text,omitempty"`
	Media *tweetMedia `json:"media,omitempty"`
}

type tweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

func (p *X) Publish(ctx context.Context, cred *models.Credential, c Content) (string, error) {
	req := tweetRequest{Text: c.Text}
	for _, m := range c.Media {
		id, err := p.upload(ctx, cred, c, m)
		if err != nil {
			return "", err
		}
		if req.Media == nil {
			req.Media = &tweetMedia{}
		}
		req.Media.MediaIDs = append(req.Media.MediaIDs, id)
	}

	var res struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := p.api.postJSON(ctx, "/tweets", cred.AccessToken, req, &res); err != nil {
		return "", err
	}
	if res.Data.ID == "" {
		return "", Transient(p.Platform(), errNoRemoteID)
	}
	return res.Data.ID, nil
}

func (p *X) upload(ctx context.Context, cred *models.Credential, c Content, m Media) (string, error) {
	rc, err := c.Open(ctx, m)
	if err != nil {
		return "", Transient(p.Platform(), fmt.Errorf("read media %s: %w", m.Key, err))
	}
	defer rc.Close()

	category := "tweet_image"
	if m.IsVideo() {
		category = "tweet_video"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("media_category", category); err != nil {
		return "", Permanent(p.Platform(), err)
	}
	part, err := w.CreateFormFile("media", m.Key)
	if err != nil {
		return "", Permanent(p.Platform(), err)
	}
	if _, err := io.Copy(part, rc); err != nil {
		return "", Transient(p.Platform(), fmt.Errorf("read media %s: %w", m.Key, err))
	}
	if err := w.Close(); err != nil {
		return "", Permanent(p.Platform(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.api.url("/media/upload"), &buf)
	if err != nil {
		return "", Permanent(p.Platform(), err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	var res struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := p.api.do(req, &res); err != nil {
		return "", err
	}
	if res.Data.ID == "" {
		return "", Transient(p.Platform(), errNoRemoteID)
	}
	return res.Data.ID, nil
}
