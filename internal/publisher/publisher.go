// Package publisher holds one Publisher per platform. The dispatcher talks to
// all of them through the same three calls and never branches on platform.
package publisher

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/maheshrc27/postflow/internal/models"
)

type Publisher interface {
	Platform() string
	// Validate checks content against the platform's limits without any
	// network call.
	Validate(c Content) ValidationResult
	// Publish posts content and returns the platform's id for it. Errors are
	// *Error values, see KindOf.
	Publish(ctx context.Context, cred *models.Credential, c Content) (string, error)
}

// MediaSource resolves media object keys. Most platforms pull media from a
// public URL, a few need the bytes.
type MediaSource interface {
	PublicURL(key string) string
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

type Content struct {
	PostID int64
	Text   string
	Title  string
	Media  []Media

	source MediaSource
}

// NewContent builds the platform-neutral content of a post.
func NewContent(post *models.Post, src MediaSource) Content {
	c := Content{
		PostID: post.ID,
		Text:   post.Content,
		Title:  post.Title,
		source: src,
	}
	for _, key := range post.MediaRefs {
		m := Media{Key: key, MIME: mimeFromKey(key)}
		if src != nil {
			m.URL = src.PublicURL(key)
		}
		c.Media = append(c.Media, m)
	}
	return c
}

// Open reads the bytes of one media item.
func (c Content) Open(ctx context.Context, m Media) (io.ReadCloser, error) {
	if c.source == nil {
		return nil, fmt.Errorf("no media source for %s", m.Key)
	}
	return c.source.Open(ctx, m.Key)
}

// TitleOrFirstLine falls back to the first line of the text when the post
// has no title, cut to max runes.
func (c Content) TitleOrFirstLine(max int) string {
	title := strings.TrimSpace(c.Title)
	if title == "" {
		title, _, _ = strings.Cut(strings.TrimSpace(c.Text), "\n")
	}
	return truncate(strings.TrimSpace(title), max)
}

func (c Content) Images() []Media {
	var out []Media
	for _, m := range c.Media {
		if m.IsImage() {
			out = append(out, m)
		}
	}
	return out
}

func (c Content) Videos() []Media {
	var out []Media
	for _, m := range c.Media {
		if m.IsVideo() {
			out = append(out, m)
		}
	}
	return out
}

// Registry maps a platform id to its publisher.
type Registry struct {
	publishers map[string]Publisher
}

func NewRegistry(publishers ...Publisher) *Registry {
	r := &Registry{publishers: make(map[string]Publisher, len(publishers))}
	for _, p := range publishers {
		r.publishers[p.Platform()] = p
	}
	return r
}

func (r *Registry) Get(platform string) (Publisher, bool) {
	p, ok := r.publishers[platform]
	return p, ok
}

func (r *Registry) Platforms() []string {
	out := make([]string, 0, len(r.publishers))
	for p := range r.publishers {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Wrap replaces every publisher with wrap(p).
func (r *Registry) Wrap(wrap func(Publisher) Publisher) {
	for platform, p := range r.publishers {
		r.publishers[platform] = wrap(p)
	}
}
