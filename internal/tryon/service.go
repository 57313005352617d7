// Package tryon renders a trained model wearing a catalog product. It reads
// tuning records but never changes them.
package tryon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tryon/internal/cache"
	"github.com/kiranshivaraju/tryon/internal/metrics"
	"github.com/kiranshivaraju/tryon/internal/store"
	"github.com/kiranshivaraju/tryon/pkg/models"
)

// Request selects a product, an optional model and product options.
type Request struct {
	OwnerID       uuid.UUID
	ProductID     uuid.UUID
	ModelRecordID *uuid.UUID
	Size          string
	Color         string
}

// Result reports a render. A failed render is a Result with Success false,
// not an error.
type Result struct {
	Success  bool   `json:"success"`
	ImageURL string `json:"image_url,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Service handles try-on requests.
type Service struct {
	store     store.Store
	cache     cache.Cache
	renderer  Renderer
	metrics   *metrics.Metrics
	resultTTL time.Duration
}

// NewService creates a new Service.
func NewService(st store.Store, ca cache.Cache, r Renderer, m *metrics.Metrics, resultTTL time.Duration) *Service {
	if resultTTL <= 0 {
		resultTTL = time.Hour
	}
	return &Service{store: st, cache: ca, renderer: r, metrics: m, resultTTL: resultTTL}
}

// RequestTryOn renders the request. Products whose tune is unfinished, and
// models that are not READY, fail with ErrModelNotReady.
func (s *Service) RequestTryOn(ctx context.Context, req Request) (*Result, error) {
	job, err := s.prepare(ctx, req)
	if err != nil {
		s.metrics.TryOn(outcomeOf(err))
		return nil, err
	}

	modelID := uuid.Nil
	if job.Model != nil {
		modelID = job.Model.ID
	}
	key := cache.TryOnResultKey(modelID, job.Product.ID, req.Size+"|"+req.Color)
	if data, found, err := s.cache.Get(ctx, key); err == nil && found {
		var res Result
		if err := json.Unmarshal(data, &res); err == nil && res.Success {
			s.metrics.TryOn("cached")
			return &res, nil
		}
	}

	url, err := s.renderer.Render(ctx, job)
	if err != nil {
		slog.Error("try-on render failed",
			"renderer", s.renderer.Name(),
			"product_id", job.Product.ID,
			"record_id", modelID,
			"error", err,
		)
		s.metrics.TryOn("render_failed")
		return &Result{Success: false, Error: "failed to generate try-on visualization"}, nil
	}

	res := &Result{Success: true, ImageURL: url}
	if data, err := json.Marshal(res); err == nil {
		_ = s.cache.Set(ctx, key, data, s.resultTTL)
	}
	s.metrics.TryOn("ok")
	return res, nil
}

func (s *Service) prepare(ctx context.Context, req Request) (Job, error) {
	p, err := s.store.GetProduct(ctx, req.ProductID)
	if errors.Is(err, store.ErrNotFound) {
		return Job{}, fmt.Errorf("%w: product %s", ErrNotFound, req.ProductID)
	}
	if err != nil {
		return Job{}, fmt.Errorf("getting product: %w", err)
	}
	if req.Size != "" && len(p.Sizes) > 0 && !slices.Contains(p.Sizes, req.Size) {
		return Job{}, fmt.Errorf("%w: size %q not offered", ErrValidation, req.Size)
	}
	if req.Color != "" && len(p.Colors) > 0 && !slices.Contains(p.Colors, req.Color) {
		return Job{}, fmt.Errorf("%w: color %q not offered", ErrValidation, req.Color)
	}

	if p.RequiresTune() {
		tune, err := s.store.GetRecord(ctx, *p.TuneRecordID)
		if errors.Is(err, store.ErrNotFound) {
			return Job{}, fmt.Errorf("%w: product tune missing", ErrModelNotReady)
		}
		if err != nil {
			return Job{}, fmt.Errorf("getting product tune: %w", err)
		}
		if tune.Status != models.StatusReady {
			return Job{}, fmt.Errorf("%w: product tune is %s", ErrModelNotReady, tune.Status)
		}
	}

	job := Job{Product: p, Size: req.Size, Color: req.Color}
	if req.ModelRecordID != nil {
		rec, err := s.store.GetRecord(ctx, *req.ModelRecordID)
		if errors.Is(err, store.ErrNotFound) {
			return Job{}, fmt.Errorf("%w: model %s", ErrNotFound, *req.ModelRecordID)
		}
		if err != nil {
			return Job{}, fmt.Errorf("getting model: %w", err)
		}
		if rec.OwnerID != req.OwnerID || rec.Kind != models.KindIdentity {
			return Job{}, fmt.Errorf("%w: model %s", ErrNotFound, rec.ID)
		}
		if rec.Status != models.StatusReady {
			return Job{}, fmt.Errorf("%w: model is %s", ErrModelNotReady, rec.Status)
		}
		job.Model = rec
	}
	return job, nil
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrModelNotReady):
		return "model_not_ready"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	default:
		return "error"
	}
}
