package publisher

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/maheshrc27/postflow/internal/transfer"
)

// Graph API error codes, see developers.facebook.com/docs/graph-api/guides/error-handling.
const (
	graphCodeUnknown        = 1
	graphCodeService        = 2
	graphCodeAppRateLimit   = 4
	graphCodeUserRateLimit  = 17
	graphCodePageRateLimit  = 32
	graphCodeAppLimit       = 341
	graphCodeSessionExpired = 102
	graphCodeInvalidToken   = 190
	graphCodePermission     = 10
)

// graphStatus classifies Graph API errors by their body. The Graph API answers
// an expired token with a 400, which the status alone would call permanent.
func graphStatus(platform string, status int, body []byte) *Error {
	var ge transfer.GraphErrorResponse
	if err := json.Unmarshal(body, &ge); err != nil || ge.Error.Code == 0 {
		return FromStatus(platform, status, body)
	}

	e := &Error{
		Platform:   platform,
		StatusCode: status,
		Err:        fmt.Errorf("graph error %d/%d: %s", ge.Error.Code, ge.Error.ErrorSubcode, ge.Error.Message),
	}
	switch ge.Error.Code {
	case graphCodeInvalidToken, graphCodeSessionExpired:
		e.Kind = KindAuth
	case graphCodeUnknown, graphCodeService, graphCodeAppRateLimit, graphCodeUserRateLimit,
		graphCodePageRateLimit, graphCodeAppLimit:
		e.Kind = KindTransient
	default:
		e.Kind = FromStatus(platform, status, nil).Kind
		if ge.Error.IsTransient {
			e.Kind = KindTransient
		}
		if status == http.StatusForbidden || ge.Error.Code == graphCodePermission {
			e.Kind = KindPermanent
		}
	}
	return e
}
