package publisher

import (
	"context"

	"github.com/maheshrc27/postflow/internal/models"
	"golang.org/x/time/rate"
)

type rateLimited struct {
	Publisher
	limiter *rate.Limiter
}

// RateLimited makes p wait for the limiter before each publish call.
func RateLimited(p Publisher, limiter *rate.Limiter) Publisher {
	return &rateLimited{Publisher: p, limiter: limiter}
}

func (r *rateLimited) Publish(ctx context.Context, cred *models.Credential, c Content) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", Transient(r.Platform(), err)
	}
	return r.Publisher.Publish(ctx, cred, c)
}
