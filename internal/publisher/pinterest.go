package publisher

import (
	"context"
	"errors"

	"github.com/maheshrc27/postflow/internal/models"
)

const (
	PINTEREST_API_BASE        = "https://api.pinterest.com/v5"
	pinterestMaxTitle         = 100
	pinterestMaxDescription   = 800
	PinterestBoardMetadataKey = "board_id"
)

// Pinterest creates an image pin. The board comes from the account metadata,
// or the account's first board when none is configured.
type Pinterest struct {
	api apiClient
}

func NewPinterest(opts ...Option) *Pinterest {
	return &Pinterest{api: newAPIClient(models.PlatformPinterest, PINTEREST_API_BASE, opts)}
}

func (p *Pinterest) Platform() string { return models.PlatformPinterest }

// Validate only checks media. Title and description are cut to the
// platform limits at publish time.
func (p *Pinterest) Validate(c Content) ValidationResult {
	v := ValidationResult{Platform: p.Platform()}
	v.check(len(c.Media) == 1, "exactly one image is required, got %d media items", len(c.Media))
	v.check(len(c.Videos()) == 0, "video pins are not supported")
	v.allowed(c.Images(), "jpg", "png", "gif", "webp")
	return v
}

type pinRequest struct {
	BoardID     string         `json:"board_id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	MediaSource pinMediaSource `json:"media_source"`
}

type pinMediaSource struct {
	SourceType string `json:"source_type"`
	URL        string `json:"url"`
}

func (p *Pinterest) Publish(ctx context.Context, cred *models.Credential, c Content) (string, error) {
	boardID := cred.Metadata[PinterestBoardMetadataKey]
	if boardID == "" {
		var err error
		if boardID, err = p.firstBoard(ctx, cred); err != nil {
			return "", err
		}
	}

	req := pinRequest{
		BoardID:     boardID,
		Title:       c.TitleOrFirstLine(pinterestMaxTitle),
		Description: truncate(c.Text, pinterestMaxDescription),
		MediaSource: pinMediaSource{SourceType: "image_url", URL: c.Media[0].URL},
	}

	var res struct {
		ID string `json:"id"`
	}
	if err := p.api.postJSON(ctx, "/pins", cred.AccessToken, req, &res); err != nil {
		return "", err
	}
	if res.ID == "" {
		return "", Transient(p.Platform(), errNoRemoteID)
	}
	return res.ID, nil
}

func (p *Pinterest) firstBoard(ctx context.Context, cred *models.Credential) (string, error) {
	var res struct {
		Items []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"items"`
	}
	if err := p.api.get(ctx, "/boards", cred.AccessToken, nil, &res); err != nil {
		return "", err
	}
	if len(res.Items) == 0 {
		return "", Permanent(p.Platform(), errors.New("account has no boards"))
	}
	return res.Items[0].ID, nil
}
