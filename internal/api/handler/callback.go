package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/kiranshivaraju/tryon/internal/api/response"
	"github.com/kiranshivaraju/tryon/internal/tuning"
)

const maxCallbackBytes = 1 << 20

// Reconciler defines the callback operation the ingress depends on.
type Reconciler interface {
	Reconcile(ctx context.Context, raw []byte) (*tuning.Result, error)
}

// NewCallbackHandler returns an http.HandlerFunc for
// POST /api/v1/callbacks/tunes. Unmatched titles are acknowledged with 200 so
// the tuning service stops redelivering; store failures return 5xx so it
// retries.
func NewCallbackHandler(rec Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBytes))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "MALFORMED_CALLBACK", "Callback body could not be read", nil)
			return
		}

		res, err := rec.Reconcile(r.Context(), raw)
		if errors.Is(err, tuning.ErrRecordNotFound) {
			response.JSON(w, map[string]any{"matched": false})
			return
		}
		if err != nil {
			writeServiceError(w, r, err, nil)
			return
		}

		response.JSON(w, map[string]any{
			"matched":   true,
			"outcome":   res.Outcome,
			"record_id": res.Record.ID,
			"status":    res.Record.Status,
		})
	}
}
