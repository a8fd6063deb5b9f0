package publisher

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/maheshrc27/postflow/internal/models"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const (
	youtubeMaxTitleRunes       = 100
	youtubeMaxDescriptionRunes = 5000
	youtubeCategoryPeople      = "22"
)

// Youtube uploads a single video through the Data API. Unlike the URL-pulling
// platforms it streams the bytes from the media store.
type Youtube struct {
	api apiClient
}

// NewYoutube leaves the Google client on its default endpoint unless
// WithBaseURL is given.
func NewYoutube(opts ...Option) *Youtube {
	return &Youtube{api: newAPIClient(models.PlatformYoutube, "", opts)}
}

func (p *Youtube) Platform() string { return models.PlatformYoutube }

func (p *Youtube) Validate(c Content) ValidationResult {
	v := ValidationResult{Platform: p.Platform()}
	v.check(len(c.Media) == 1 && len(c.Videos()) == 1, "exactly one video is required")
	v.check(c.TitleOrFirstLine(youtubeMaxTitleRunes) != "", "a title or text is required")
	v.check(runeLen(c.Text) <= youtubeMaxDescriptionRunes, "description is %d characters, the limit is %d", runeLen(c.Text), youtubeMaxDescriptionRunes)
	v.allowed(c.Media, "mp4", "mov", "webm")
	return v
}

func (p *Youtube) Publish(ctx context.Context, cred *models.Credential, c Content) (string, error) {
	base := p.api.http
	if base == nil {
		base = http.DefaultClient
	}
	client := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, base),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.AccessToken}))

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if p.api.baseURL != "" {
		opts = append(opts, option.WithEndpoint(p.api.baseURL+"/"))
	}
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return "", Permanent(p.Platform(), fmt.Errorf("create youtube client: %w", err))
	}

	videos := c.Videos()
	if len(videos) == 0 {
		return "", Permanent(p.Platform(), errors.New("no video to upload"))
	}
	rc, err := c.Open(ctx, videos[0])
	if err != nil {
		return "", Transient(p.Platform(), fmt.Errorf("read media %s: %w", videos[0].Key, err))
	}
	defer rc.Close()

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       c.TitleOrFirstLine(youtubeMaxTitleRunes),
			Description: c.Text,
			CategoryId:  youtubeCategoryPeople,
		},
		Status: &youtube.VideoStatus{PrivacyStatus: "public"},
	}

	res, err := svc.Videos.Insert([]string{"snippet", "status"}, video).
		Media(rc, googleapi.ContentType(videos[0].MIME)).
		Context(ctx).
		Do()
	if err != nil {
		return "", youtubeError(err)
	}
	if res.Id == "" {
		return "", Transient(p.Platform(), errNoRemoteID)
	}
	return res.Id, nil
}

// youtubeError classifies Data API errors. Quota and rate limit errors come
// back as 403 but clear up on their own.
func youtubeError(err error) *Error {
	var ge *googleapi.Error
	if !errors.As(err, &ge) {
		return Transient(models.PlatformYoutube, err)
	}
	e := FromStatus(models.PlatformYoutube, ge.Code, []byte(ge.Message))
	e.Err = err
	if ge.Code == http.StatusForbidden {
		for _, item := range ge.Errors {
			switch item.Reason {
			case "quotaExceeded", "rateLimitExceeded", "userRateLimitExceeded":
				e.Kind = KindTransient
			}
		}
	}
	return e
}
