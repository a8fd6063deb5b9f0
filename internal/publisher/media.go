package publisher

import (
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	"github.com/maheshrc27/postflow/internal/models"
)

type Media struct {
	Key  string
	URL  string
	MIME string
}

func (m Media) IsImage() bool {
	return strings.HasPrefix(m.MIME, "image/")
}

func (m Media) IsVideo() bool {
	return strings.HasPrefix(m.MIME, "video/")
}

// Extension is the normalized file extension, "jpg" for both .jpg and .jpeg.
func (m Media) Extension() string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(m.Key), "."))
	if ext == "jpeg" {
		return "jpg"
	}
	return ext
}

// mimeFromKey derives the MIME type from the object key's extension. Keys
// are written by the upload path after sniffing the bytes, so the extension
// is trusted here.
func mimeFromKey(key string) string {
	m := Media{Key: key}
	t := filetype.GetType(m.Extension())
	if t == types.Unknown {
		return ""
	}
	return t.MIME.Value
}

type ValidationResult struct {
	Platform string
	Problems []string
}

func (v ValidationResult) OK() bool {
	return len(v.Problems) == 0
}

// Err wraps models.ErrValidation, or returns nil when the content is valid.
func (v ValidationResult) Err() error {
	if v.OK() {
		return nil
	}
	return fmt.Errorf("%s: %w: %s", v.Platform, models.ErrValidation, strings.Join(v.Problems, "; "))
}

func (v *ValidationResult) check(ok bool, format string, args ...any) {
	if !ok {
		v.Problems = append(v.Problems, fmt.Sprintf(format, args...))
	}
}

// allowed reports whether every media item has one of the extensions.
func (v *ValidationResult) allowed(media []Media, exts ...string) {
	for _, m := range media {
		found := false
		for _, ext := range exts {
			if m.Extension() == ext {
				found = true
				break
			}
		}
		v.check(found, "media %s: type %q is not supported", m.Key, m.Extension())
	}
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func truncate(s string, max int) string {
	if runeLen(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
