package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/tryon/internal/api/middleware"
	"github.com/kiranshivaraju/tryon/internal/api/response"
	"github.com/kiranshivaraju/tryon/internal/tryon"
)

// TryOnService defines the render operation the try-on handler depends on.
type TryOnService interface {
	RequestTryOn(ctx context.Context, req tryon.Request) (*tryon.Result, error)
}

// NewTryOnHandler returns an http.HandlerFunc for POST /api/v1/tryon.
// A render that fails is still a 200 with success=false.
func NewTryOnHandler(svc TryOnService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
			return
		}

		var req struct {
			ProductID string `json:"product_id"`
			ModelID   string `json:"model_id"`
			Size      string `json:"size"`
			Color     string `json:"color"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid JSON body", nil)
			return
		}

		productID, err := uuid.Parse(req.ProductID)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "product_id must be a valid UUID", nil)
			return
		}
		treq := tryon.Request{
			OwnerID:   ownerID,
			ProductID: productID,
			Size:      req.Size,
			Color:     req.Color,
		}
		if req.ModelID != "" {
			modelID, err := uuid.Parse(req.ModelID)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "model_id must be a valid UUID", nil)
				return
			}
			treq.ModelRecordID = &modelID
		}

		res, err := svc.RequestTryOn(r.Context(), treq)
		if err != nil {
			writeServiceError(w, r, err, nil)
			return
		}
		response.JSON(w, res)
	}
}
