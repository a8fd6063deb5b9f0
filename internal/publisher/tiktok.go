package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/transfer"
)

const (
	TIKTOK_API_BASE          = "https://open.tiktokapis.com/v2"
	tiktokMaxCaptionRunes    = 2200
	tiktokMaxTitleRunes      = 90
	tiktokMaxPhotos          = 35
	TiktokPrivacyMetadataKey = "privacy_level"
	tiktokDefaultPrivacy     = "SELF_ONLY"
)

// TikTok posts let TikTok pull the media from its public URL. The returned
// id is the publish id; TikTok finishes processing asynchronously.
type Tiktok struct {
	api apiClient
}

func NewTiktok(opts ...Option) *Tiktok {
	api := newAPIClient(models.PlatformTiktok, TIKTOK_API_BASE, opts)
	api.classify = tiktokStatus
	return &Tiktok{api: api}
}

func (p *Tiktok) Platform() string { return models.PlatformTiktok }

func (p *Tiktok) Validate(c Content) ValidationResult {
	v := ValidationResult{Platform: p.Platform()}
	images, videos := c.Images(), c.Videos()
	v.check(len(c.Media) > 0, "a video or photos are required")
	v.check(runeLen(c.Text) <= tiktokMaxCaptionRunes, "caption is %d characters, the limit is %d", runeLen(c.Text), tiktokMaxCaptionRunes)
	v.check(len(videos) <= 1, "at most one video is supported, got %d", len(videos))
	v.check(len(videos) == 0 || len(images) == 0, "photos and video cannot be mixed")
	v.check(len(images) <= tiktokMaxPhotos, "at most %d photos are supported, got %d", tiktokMaxPhotos, len(images))
	v.allowed(images, "jpg", "webp")
	v.allowed(videos, "mp4", "mov")
	return v
}

func (p *Tiktok) Publish(ctx context.Context, cred *models.Credential, c Content) (string, error) {
	privacy := cred.Metadata[TiktokPrivacyMetadataKey]
	if privacy == "" {
		privacy = tiktokDefaultPrivacy
	}

	var res transfer.TikTokUploadResponse
	if videos := c.Videos(); len(videos) > 0 {
		req := transfer.VideoUploadRequest{
			PostInfo: transfer.VideoPostInfo{
				Title:        c.Text,
				PrivacyLevel: privacy,
			},
			SourceInfo: transfer.VideoSourceInfo{
				Source:   "PULL_FROM_URL",
				VideoURL: videos[0].URL,
			},
		}
		if err := p.api.postJSON(ctx, "/post/publish/video/init/", cred.AccessToken, req, &res); err != nil {
			return "", err
		}
	} else {
		urls := make([]string, 0, len(c.Media))
		for _, m := range c.Images() {
			urls = append(urls, m.URL)
		}
		req := transfer.PhotoUploadRequest{
			PostInfo: transfer.PhotoPostInfo{
				Title:        c.TitleOrFirstLine(tiktokMaxTitleRunes),
				Description:  c.Text,
				PrivacyLevel: privacy,
				AutoAddMusic: true,
			},
			SourceInfo: transfer.PhotoSourceInfo{
				Source:      "PULL_FROM_URL",
				PhotoImages: urls,
			},
			PostMode:  "DIRECT_POST",
			MediaType: "PHOTO",
		}
		if err := p.api.postJSON(ctx, "/post/publish/content/init/", cred.AccessToken, req, &res); err != nil {
			return "", err
		}
	}

	if res.Error.Code != "" && res.Error.Code != "ok" {
		return "", tiktokError(res.Error, 0)
	}
	if res.Data.PublishID == "" {
		return "", Transient(p.Platform(), errNoRemoteID)
	}
	return res.Data.PublishID, nil
}

// tiktokStatus reads TikTok's error code out of a non-2xx body when there is one.
func tiktokStatus(platform string, status int, body []byte) *Error {
	var res transfer.TikTokUploadResponse
	if err := json.Unmarshal(body, &res); err != nil || res.Error.Code == "" {
		return FromStatus(platform, status, body)
	}
	return tiktokError(res.Error, status)
}

func tiktokError(te transfer.TiktokError, status int) *Error {
	e := &Error{
		Platform:   models.PlatformTiktok,
		StatusCode: status,
		Err:        fmt.Errorf("%s: %s", te.Code, te.Message),
	}
	switch te.Code {
	case "access_token_invalid", "scope_not_authorized", "token_not_authorized_for_specified_deployment":
		e.Kind = KindAuth
	case "rate_limit_exceeded", "spam_risk_too_many_posts", "spam_risk_user_banned_from_posting_temporarily", "internal_error":
		e.Kind = KindTransient
	default:
		e.Kind = KindPermanent
	}
	return e
}
