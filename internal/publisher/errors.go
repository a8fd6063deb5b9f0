package publisher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/maheshrc27/postflow/internal/models"
)

type Kind int

const (
	// KindTransient failures may succeed on a later attempt.
	KindTransient Kind = iota + 1
	// KindPermanent failures will fail the same way every time.
	KindPermanent
	// KindAuth means the platform rejected the credential.
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindAuth:
		return "auth"
	}
	return "unknown"
}

type Error struct {
	Platform   string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s failure (status %d): %v", e.Platform, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s failure: %v", e.Platform, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets callers match publisher errors against the model sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case models.ErrTransient:
		return e.Kind == KindTransient
	case models.ErrAuth:
		return e.Kind == KindAuth
	}
	return false
}

func Transient(platform string, err error) *Error {
	return &Error{Platform: platform, Kind: KindTransient, Err: err}
}

func Permanent(platform string, err error) *Error {
	return &Error{Platform: platform, Kind: KindPermanent, Err: err}
}

func Auth(platform string, err error) *Error {
	return &Error{Platform: platform, Kind: KindAuth, Err: err}
}

// FromStatus classifies a non-2xx HTTP response: 401 is an auth failure,
// 408, 429 and 5xx are transient, any other 4xx is permanent.
func FromStatus(platform string, status int, body []byte) *Error {
	msg := truncate(strings.TrimSpace(string(body)), 300)
	e := &Error{Platform: platform, StatusCode: status, Err: errors.New(msg)}
	switch {
	case status == http.StatusUnauthorized:
		e.Kind = KindAuth
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		e.Kind = KindTransient
	default:
		e.Kind = KindPermanent
	}
	return e
}

// KindOf classifies any error from a publish path. Errors of unknown origin
// count as transient: retries are bounded, a lost post is not.
func KindOf(err error) Kind {
	var pe *Error
	switch {
	case err == nil:
		return 0
	case errors.As(err, &pe):
		return pe.Kind
	case errors.Is(err, models.ErrValidation):
		return KindPermanent
	case errors.Is(err, models.ErrAuth):
		return KindAuth
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTransient
	}
	return KindTransient
}
