package rest

import (
	"context"
	"errors"
	"fmt"
)

// APIError is a non-2xx response from the exchange. Status is the HTTP
// status, Code/Msg come from the exchange error body when present.
type APIError struct {
	Status int
	Code   int64
	Msg    string
}

func (e *APIError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("api error: http %d code %d: %s", e.Status, e.Code, e.Msg)
	}
	return fmt.Sprintf("api error: http %d", e.Status)
}

// Retryable classifies rate limits, bans and server-side failures as worth
// retrying. Client errors (bad params, insufficient margin) are not.
func (e *APIError) Retryable() bool {
	return e.Status == 429 || e.Status == 418 || e.Status >= 500
}

// IsRetryable reports whether a failed call may be retried. Transport
// failures without an exchange response count as retryable; context
// cancellation never does.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}
