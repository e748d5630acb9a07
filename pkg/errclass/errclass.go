// Package errclass classifies errors from outbound collaborators into a
// small taxonomy that callers use to decide on retries and user-facing
// messages.
package errclass

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Category is the classification bucket of an error.
type Category string

const (
	// CategoryTransient covers timeouts and connection-level failures that
	// are worth retrying.
	CategoryTransient Category = "transient"

	// CategoryRateLimited covers upstream throttling (HTTP 429).
	CategoryRateLimited Category = "rate_limited"

	// CategoryNotFound covers missing upstream resources (HTTP 404).
	CategoryNotFound Category = "not_found"

	// CategoryUnauthorized covers auth failures (HTTP 401/403).
	CategoryUnauthorized Category = "unauthorized"

	// CategoryInvalid covers malformed requests (other HTTP 4xx).
	CategoryInvalid Category = "invalid"

	// CategoryInternal covers everything else, including upstream 5xx.
	CategoryInternal Category = "internal"
)

// Classification describes how a caller should treat an error.
type Classification struct {
	Category Category

	// Retryable reports whether retrying the operation may succeed.
	Retryable bool

	// UserVisible reports whether the message is safe to show to the
	// requesting user.
	UserVisible bool

	// Message is a short, presentable description.
	Message string
}

// HTTPError carries a non-2xx upstream response status.
type HTTPError struct {
	StatusCode int
	URL        string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream returned %d for %s", e.StatusCode, e.URL)
}

// Classify maps an error into a Classification. A nil error classifies as
// internal with an empty message; callers should not classify nil.
func Classify(err error) Classification {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return classifyStatus(httpErr.StatusCode)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{
			Category:  CategoryTransient,
			Retryable: true,
			Message:   "the upstream service timed out",
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Classification{
			Category:  CategoryTransient,
			Retryable: true,
			Message:   "the upstream service is unreachable",
		}
	}

	return Classification{
		Category: CategoryInternal,
		Message:  "an internal error occurred",
	}
}

// classifyStatus buckets an HTTP status code.
func classifyStatus(code int) Classification {
	switch {
	case code == http.StatusTooManyRequests:
		return Classification{
			Category:    CategoryRateLimited,
			Retryable:   true,
			UserVisible: true,
			Message:     "the upstream service is rate limiting requests",
		}
	case code == http.StatusNotFound:
		return Classification{
			Category:    CategoryNotFound,
			UserVisible: true,
			Message:     "the requested item was not found",
		}
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return Classification{
			Category: CategoryUnauthorized,
			Message:  "the upstream service rejected our credentials",
		}
	case code >= 400 && code < 500:
		return Classification{
			Category:    CategoryInvalid,
			UserVisible: true,
			Message:     "the request was rejected by the upstream service",
		}
	default:
		return Classification{
			Category:  CategoryInternal,
			Retryable: true,
			Message:   "the upstream service failed",
		}
	}
}
