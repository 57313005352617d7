package tryon

import "errors"

var (
	// ErrModelNotReady is returned when the selected model, or the tune a
	// product depends on, has not finished training.
	ErrModelNotReady = errors.New("model not ready")
	// ErrNotFound is returned for a missing product or a model owned by
	// someone else.
	ErrNotFound = errors.New("not found")
	// ErrValidation covers options the product does not offer.
	ErrValidation = errors.New("validation failed")
)
