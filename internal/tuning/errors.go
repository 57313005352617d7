package tuning

import (
	"errors"

	"github.com/kiranshivaraju/tryon/internal/astria"
)

var (
	// ErrValidation covers caller input that violates a policy: image count,
	// missing fields, an untunable category.
	ErrValidation = errors.New("validation failed")
	// ErrUploadFailed means at least one reference image could not be stored.
	ErrUploadFailed = errors.New("image upload failed")
	// ErrNotFound is returned when a record or product is missing or belongs
	// to another owner.
	ErrNotFound = errors.New("not found")
	// ErrNotRetryable is returned when a retry is requested for a record that
	// already left PENDING.
	ErrNotRetryable = errors.New("record is not awaiting submission")

	// ErrRecordNotFound means a callback title matched no record. The
	// callback is acknowledged.
	ErrRecordNotFound = errors.New("no record matches callback title")
	// ErrDuplicateTitle means more than one record shares a title.
	ErrDuplicateTitle = errors.New("duplicate record title")
	// ErrConflictingCallback means a callback disagrees with an already
	// applied terminal state or external job id.
	ErrConflictingCallback = errors.New("conflicting callback")
	// ErrRecordNotSubmitted means a callback arrived before the submission
	// that produced it was recorded. Redelivery will succeed.
	ErrRecordNotSubmitted = errors.New("record not yet submitted")
)

// Errors passed through from the tuning service client.
var (
	ErrServiceUnavailable = astria.ErrServiceUnavailable
	ErrInvalidRequest     = astria.ErrInvalidRequest
	ErrMalformedCallback  = astria.ErrMalformedCallback
)
