package classifier

import (
	"errors"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
)

// rateLimitMarkers are the substrings that identify a quota/rate-limit
// condition in an error message or a classifier payload.
var rateLimitMarkers = []string{
	"resource_exhausted",
	"rate limit",
	"ratelimit",
	"quota",
	"429",
}

// IsRateLimited reports whether err signals rate limiting: an HTTP 429 from
// the API client or a RESOURCE_EXHAUSTED-style marker in the message.
// Retrying a rate-limited call wastes quota, so callers short-circuit to
// their fallback on this condition.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusTooManyRequests {
		return true
	}
	return containsMarker(err.Error())
}

// HasRateLimitMarker reports whether a classifier payload carries a
// rate-limit indicator in its body (some backends report quota exhaustion
// inside an otherwise well-formed response).
func HasRateLimitMarker(payload string) bool {
	return containsMarker(payload)
}

func containsMarker(s string) bool {
	s = strings.ToLower(s)
	for _, marker := range rateLimitMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
