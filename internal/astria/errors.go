package astria

import "errors"

// Sentinel errors for tuning service failures.
var (
	// ErrServiceUnavailable covers network failures, timeouts and 5xx
	// responses. The same request may be retried.
	ErrServiceUnavailable = errors.New("tuning service unavailable")
	// ErrInvalidRequest means the service rejected the request (4xx). Retrying
	// without changing the input will fail again.
	ErrInvalidRequest = errors.New("tuning service rejected request")
	// ErrMalformedCallback means an inbound callback lacks the fields needed
	// to identify a record.
	ErrMalformedCallback = errors.New("malformed tuning callback")
)
