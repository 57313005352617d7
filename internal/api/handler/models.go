package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/tryon/internal/api/middleware"
	"github.com/kiranshivaraju/tryon/internal/api/response"
	"github.com/kiranshivaraju/tryon/internal/store"
	"github.com/kiranshivaraju/tryon/internal/tuning"
	"github.com/kiranshivaraju/tryon/pkg/models"
)

// ModelService defines the tuning operations the model handlers depend on.
type ModelService interface {
	Submit(ctx context.Context, in tuning.SubmitInput) (*models.TuningRecord, error)
	Retry(ctx context.Context, ownerID, recordID uuid.UUID) (*models.TuningRecord, error)
	Get(ctx context.Context, ownerID, recordID uuid.UUID) (*models.TuningRecord, error)
	List(ctx context.Context, filter store.RecordFilter) ([]*models.TuningRecord, int, error)
	Status(ctx context.Context, ownerID, recordID uuid.UUID) (models.Status, error)
	Delete(ctx context.Context, ownerID, recordID uuid.UUID) error
}

// NewCreateModelHandler returns an http.HandlerFunc for POST /api/v1/models.
// The body is a multipart form with a "name" field and 5 to 10 images.
func NewCreateModelHandler(svc ModelService, maxImageBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
			return
		}

		images, err := readImages(w, r, maxImageBytes)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}

		rec, err := svc.Submit(r.Context(), tuning.SubmitInput{
			OwnerID: ownerID,
			Kind:    models.KindIdentity,
			Name:    r.FormValue("name"),
			Images:  images,
		})
		if err != nil {
			writeServiceError(w, r, err, recordDetails(rec))
			return
		}
		response.Accepted(w, rec)
	}
}

// NewListModelsHandler returns an http.HandlerFunc for GET /api/v1/models.
// Query parameters: page, limit, kind, status.
func NewListModelsHandler(svc ModelService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
			return
		}
		filter, err := parseRecordFilter(r)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		filter.OwnerID = ownerID
		filter, _ = filter.Normalize()

		recs, total, err := svc.List(r.Context(), filter)
		if err != nil {
			writeServiceError(w, r, err, nil)
			return
		}
		response.List(w, recs, response.NewPageMeta(filter.Page, filter.Limit, total))
	}
}

func parseRecordFilter(r *http.Request) (store.RecordFilter, error) {
	q := r.URL.Query()
	var f store.RecordFilter

	for _, p := range []struct {
		name string
		dst  *int
	}{{"page", &f.Page}, {"limit", &f.Limit}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, fmt.Errorf("%s must be a positive integer", p.name)
		}
		*p.dst = n
	}

	if v := q.Get("kind"); v != "" {
		k := models.Kind(v)
		if !k.Valid() {
			return f, fmt.Errorf("kind must be %q or %q", models.KindIdentity, models.KindProduct)
		}
		f.Kind = k
	}
	if v := q.Get("status"); v != "" {
		st := models.Status(v)
		switch st {
		case models.StatusPending, models.StatusTraining, models.StatusReady, models.StatusFailed:
		default:
			return f, fmt.Errorf("unknown status %q", v)
		}
		f.Status = st
	}
	return f, nil
}

// NewGetModelHandler returns an http.HandlerFunc for GET /api/v1/models/{recordID}.
func NewGetModelHandler(svc ModelService) http.HandlerFunc {
	return withRecord(func(w http.ResponseWriter, r *http.Request, ownerID, recordID uuid.UUID) {
		rec, err := svc.Get(r.Context(), ownerID, recordID)
		if err != nil {
			writeServiceError(w, r, err, nil)
			return
		}
		response.JSON(w, rec)
	})
}

// NewModelStatusHandler returns an http.HandlerFunc for
// GET /api/v1/models/{recordID}/status.
func NewModelStatusHandler(svc ModelService) http.HandlerFunc {
	return withRecord(func(w http.ResponseWriter, r *http.Request, ownerID, recordID uuid.UUID) {
		status, err := svc.Status(r.Context(), ownerID, recordID)
		if err != nil {
			writeServiceError(w, r, err, nil)
			return
		}
		response.JSON(w, map[string]any{
			"id":     recordID,
			"status": status,
		})
	})
}

// NewRetryModelHandler returns an http.HandlerFunc for
// POST /api/v1/models/{recordID}/retry.
func NewRetryModelHandler(svc ModelService) http.HandlerFunc {
	return withRecord(func(w http.ResponseWriter, r *http.Request, ownerID, recordID uuid.UUID) {
		rec, err := svc.Retry(r.Context(), ownerID, recordID)
		if err != nil {
			writeServiceError(w, r, err, recordDetails(rec))
			return
		}
		response.Accepted(w, rec)
	})
}

// NewDeleteModelHandler returns an http.HandlerFunc for
// DELETE /api/v1/models/{recordID}.
func NewDeleteModelHandler(svc ModelService) http.HandlerFunc {
	return withRecord(func(w http.ResponseWriter, r *http.Request, ownerID, recordID uuid.UUID) {
		if err := svc.Delete(r.Context(), ownerID, recordID); err != nil {
			writeServiceError(w, r, err, nil)
			return
		}
		response.NoContent(w)
	})
}

// withRecord resolves the owner and the {recordID} URL parameter.
func withRecord(next func(w http.ResponseWriter, r *http.Request, ownerID, recordID uuid.UUID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
			return
		}
		recordID, err := uuid.Parse(chi.URLParam(r, "recordID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "recordID must be a valid UUID", nil)
			return
		}
		next(w, r, ownerID, recordID)
	}
}

// recordDetails exposes the id and status of a record left behind by a
// failed submission, so the caller can retry or delete it.
func recordDetails(rec *models.TuningRecord) any {
	if rec == nil {
		return nil
	}
	return map[string]any{
		"record_id": rec.ID,
		"status":    rec.Status,
	}
}
