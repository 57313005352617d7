package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/tryon/internal/api/middleware"
	"github.com/kiranshivaraju/tryon/internal/api/response"
	"github.com/kiranshivaraju/tryon/internal/tuning"
	"github.com/kiranshivaraju/tryon/pkg/models"
)

// ProductService defines the catalog operations the product handlers depend on.
type ProductService interface {
	CreateProduct(ctx context.Context, in tuning.ProductInput) (*models.Product, error)
	GetProduct(ctx context.Context, ownerID, productID uuid.UUID) (*models.Product, error)
	SubmitProductTune(ctx context.Context, ownerID, productID uuid.UUID, images []tuning.ImageInput) (*models.TuningRecord, error)
}

// NewCreateProductHandler returns an http.HandlerFunc for POST /api/v1/products.
func NewCreateProductHandler(svc ProductService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
			return
		}

		var req struct {
			Name          string   `json:"name"`
			Brand         string   `json:"brand"`
			Category      string   `json:"category"`
			Sizes         []string `json:"sizes"`
			Colors        []string `json:"colors"`
			MainImageURL  string   `json:"main_image_url"`
			ModelImageURL string   `json:"model_image_url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid JSON body", nil)
			return
		}

		p, err := svc.CreateProduct(r.Context(), tuning.ProductInput{
			OwnerID:       ownerID,
			Name:          req.Name,
			Brand:         req.Brand,
			Category:      req.Category,
			Sizes:         req.Sizes,
			Colors:        req.Colors,
			MainImageURL:  req.MainImageURL,
			ModelImageURL: req.ModelImageURL,
		})
		if err != nil {
			writeServiceError(w, r, err, nil)
			return
		}
		response.Created(w, p)
	}
}

// NewGetProductHandler returns an http.HandlerFunc for
// GET /api/v1/products/{productID}.
func NewGetProductHandler(svc ProductService) http.HandlerFunc {
	return withProduct(func(w http.ResponseWriter, r *http.Request, ownerID, productID uuid.UUID) {
		p, err := svc.GetProduct(r.Context(), ownerID, productID)
		if err != nil {
			writeServiceError(w, r, err, nil)
			return
		}
		response.JSON(w, p)
	})
}

// NewProductTuneHandler returns an http.HandlerFunc for
// POST /api/v1/products/{productID}/tune.
func NewProductTuneHandler(svc ProductService, maxImageBytes int64) http.HandlerFunc {
	return withProduct(func(w http.ResponseWriter, r *http.Request, ownerID, productID uuid.UUID) {
		images, err := readImages(w, r, maxImageBytes)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		rec, err := svc.SubmitProductTune(r.Context(), ownerID, productID, images)
		if err != nil {
			writeServiceError(w, r, err, recordDetails(rec))
			return
		}
		response.Accepted(w, rec)
	})
}

func withProduct(next func(w http.ResponseWriter, r *http.Request, ownerID, productID uuid.UUID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
			return
		}
		productID, err := uuid.Parse(chi.URLParam(r, "productID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "productID must be a valid UUID", nil)
			return
		}
		next(w, r, ownerID, productID)
	}
}
