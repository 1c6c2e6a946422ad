package upstream

import "errors"

// Sentinel errors classifying upstream failures. Callers branch on these
// via errors.Is or the helpers below; the wrapped error keeps the original
// cause attached.
var (
	// ErrNotFound means the provider has no data for the request.
	ErrNotFound = errors.New("upstream: not found")

	// ErrRateLimited means the provider refused the call due to quota.
	ErrRateLimited = errors.New("upstream: rate limited")

	// ErrProviderError covers 4xx/5xx responses from the provider.
	ErrProviderError = errors.New("upstream: provider error")

	// ErrTimeout means the call exceeded its wall-clock bound.
	ErrTimeout = errors.New("upstream: timeout")

	// ErrMalformed means the response matched no recognized collection shape.
	ErrMalformed = errors.New("upstream: malformed response")

	// ErrInvalidTopic means the requested sport is not a known domain.
	ErrInvalidTopic = errors.New("unknown sport")
)

// IsRejected reports whether the provider answered but refused or failed
// the request. Rejected failures get one fallback-by-date retry.
func IsRejected(err error) bool {
	return errors.Is(err, ErrProviderError)
}

// IsUnavailable reports whether the provider could not be reached or asked
// for backoff. Unavailable failures fall back to a stale cache entry.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited)
}
