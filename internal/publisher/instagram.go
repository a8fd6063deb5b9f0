package publisher

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/transfer"
)

const (
	INSTAGRAM_GRAPH_BASE       = "https://graph.instagram.com/v21.0"
	instagramMaxCaptionRunes   = 2200
	instagramMaxCarouselItems  = 10
	instagramContainerAttempts = 20
)

// Instagram publishes through media containers: one per item, a carousel
// container for several items, then media_publish.
type Instagram struct {
	api          apiClient
	pollInterval time.Duration
}

func NewInstagram(pollInterval time.Duration, opts ...Option) *Instagram {
	api := newAPIClient(models.PlatformInstagram, INSTAGRAM_GRAPH_BASE, opts)
	api.classify = graphStatus
	return &Instagram{api: api, pollInterval: pollInterval}
}

func (p *Instagram) Platform() string { return models.PlatformInstagram }

func (p *Instagram) Validate(c Content) ValidationResult {
	v := ValidationResult{Platform: p.Platform()}
	v.check(len(c.Media) > 0, "at least one image or video is required")
	v.check(len(c.Media) <= instagramMaxCarouselItems, "at most %d media items are supported, got %d", instagramMaxCarouselItems, len(c.Media))
	v.check(runeLen(c.Text) <= instagramMaxCaptionRunes, "caption is %d characters, the limit is %d", runeLen(c.Text), instagramMaxCaptionRunes)
	v.check(len(c.Videos()) == 0 || len(c.Media) == 1, "a video must be the only media item")
	v.allowed(c.Media, "jpg", "png", "mp4", "mov")
	return v
}

func (p *Instagram) Publish(ctx context.Context, cred *models.Credential, c Content) (string, error) {
	var creationID string
	var err error

	if len(c.Media) == 1 {
		creationID, err = p.createContainer(ctx, cred, c.Media[0], c.Text, false)
	} else {
		creationID, err = p.createCarousel(ctx, cred, c)
	}
	if err != nil {
		return "", err
	}

	if err := p.waitFinished(ctx, cred, creationID); err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("creation_id", creationID)
	form.Set("access_token", cred.AccessToken)

	var res transfer.GraphIDResponse
	if err := p.api.postForm(ctx, "/"+cred.ExternalID+"/media_publish", form, &res); err != nil {
		return "", err
	}
	if res.ID == "" {
		return "", Transient(p.Platform(), errNoRemoteID)
	}
	return res.ID, nil
}

func (p *Instagram) createCarousel(ctx context.Context, cred *models.Credential, c Content) (string, error) {
	children := make([]string, 0, len(c.Media))
	for _, m := range c.Media {
		id, err := p.createContainer(ctx, cred, m, "", true)
		if err != nil {
			return "", err
		}
		children = append(children, id)
	}

	form := url.Values{}
	form.Set("media_type", "CAROUSEL")
	form.Set("caption", c.Text)
	form.Set("children", strings.Join(children, ","))
	form.Set("access_token", cred.AccessToken)

	var res transfer.GraphIDResponse
	if err := p.api.postForm(ctx, "/"+cred.ExternalID+"/media", form, &res); err != nil {
		return "", err
	}
	if res.ID == "" {
		return "", Transient(p.Platform(), errNoRemoteID)
	}
	return res.ID, nil
}

func (p *Instagram) createContainer(ctx context.Context, cred *models.Credential, m Media, caption string, carouselItem bool) (string, error) {
	form := url.Values{}
	form.Set("access_token", cred.AccessToken)
	if caption != "" {
		form.Set("caption", caption)
	}
	if carouselItem {
		form.Set("is_carousel_item", "true")
	}
	if m.IsVideo() {
		if carouselItem {
			form.Set("media_type", "VIDEO")
		} else {
			form.Set("media_type", "REELS")
		}
		form.Set("video_url", m.URL)
	} else {
		form.Set("image_url", m.URL)
	}

	var res transfer.GraphIDResponse
	if err := p.api.postForm(ctx, "/"+cred.ExternalID+"/media", form, &res); err != nil {
		return "", err
	}
	if res.ID == "" {
		return "", Transient(p.Platform(), errNoRemoteID)
	}
	return res.ID, nil
}

// waitFinished polls the container until Instagram has fetched and processed
// the media. Images are usually ready on the first poll, videos take longer.
// Polling stops early when ctx would expire before the next poll.
func (p *Instagram) waitFinished(ctx context.Context, cred *models.Credential, containerID string) error {
	query := url.Values{}
	query.Set("fields", "status_code")
	query.Set("access_token", cred.AccessToken)

	for i := 0; i < instagramContainerAttempts; i++ {
		var res struct {
			StatusCode string `json:"status_code"`
		}
		if err := p.api.get(ctx, "/"+containerID, "", query, &res); err != nil {
			return err
		}

		switch res.StatusCode {
		case "FINISHED", "PUBLISHED", "":
			return nil
		case "ERROR":
			return Permanent(p.Platform(), fmt.Errorf("container %s failed processing", containerID))
		case "EXPIRED":
			return Transient(p.Platform(), fmt.Errorf("container %s expired before publishing", containerID))
		}

		// Keep one interval in hand for media_publish.
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < 2*p.pollInterval {
			break
		}
		select {
		case <-ctx.Done():
			return Transient(p.Platform(), ctx.Err())
		case <-time.After(p.pollInterval):
		}
	}
	return Transient(p.Platform(), fmt.Errorf("container %s: media still processing", containerID))
}
