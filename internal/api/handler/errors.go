package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/kiranshivaraju/tryon/internal/api/response"
	"github.com/kiranshivaraju/tryon/internal/tryon"
	"github.com/kiranshivaraju/tryon/internal/tuning"
)

// notSubmittedRetryAfter is how long a callback sender should wait for the
// submitting request to record the job id.
const notSubmittedRetryAfter = 30 * time.Second

// writeServiceError maps a service error to its HTTP status and error code.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, details any) {
	switch {
	case errors.Is(err, tuning.ErrValidation), errors.Is(err, tryon.ErrValidation):
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), details)
	case errors.Is(err, tuning.ErrNotFound), errors.Is(err, tryon.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", details)
	case errors.Is(err, tuning.ErrUploadFailed):
		response.Error(w, http.StatusBadGateway, "UPLOAD_FAILED",
			"One or more images could not be stored", details)
	case errors.Is(err, tuning.ErrServiceUnavailable):
		response.Error(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE",
			"The tuning service is not available", details)
	case errors.Is(err, tuning.ErrInvalidRequest):
		response.Error(w, http.StatusUnprocessableEntity, "INVALID_REQUEST",
			"The tuning service rejected the submission", details)
	case errors.Is(err, tuning.ErrNotRetryable):
		response.Error(w, http.StatusConflict, "NOT_RETRYABLE",
			"Only records awaiting submission can be retried", details)
	case errors.Is(err, tryon.ErrModelNotReady):
		response.Error(w, http.StatusConflict, "MODEL_NOT_READY", err.Error(), details)
	case errors.Is(err, tuning.ErrMalformedCallback):
		response.Error(w, http.StatusBadRequest, "MALFORMED_CALLBACK", err.Error(), details)
	case errors.Is(err, tuning.ErrConflictingCallback):
		response.Error(w, http.StatusConflict, "CONFLICTING_CALLBACK",
			"Callback conflicts with the recorded state", details)
	case errors.Is(err, tuning.ErrRecordNotSubmitted):
		response.ErrorRetryAfter(w, http.StatusServiceUnavailable, "RECORD_NOT_SUBMITTED",
			"Record submission has not been recorded yet", notSubmittedRetryAfter, details)
	case errors.Is(err, tuning.ErrDuplicateTitle):
		response.Error(w, http.StatusInternalServerError, "DUPLICATE_TITLE",
			"More than one record carries this title", details)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
