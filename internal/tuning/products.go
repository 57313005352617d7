package tuning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tryon/internal/store"
	"github.com/kiranshivaraju/tryon/pkg/models"
)

// ProductInput describes a catalog product as received at the boundary.
type ProductInput struct {
	OwnerID       uuid.UUID
	Name          string
	Brand         string
	Category      string
	Sizes         []string
	Colors        []string
	MainImageURL  string
	ModelImageURL string
}

// CreateProduct validates and stores a product.
func (s *Service) CreateProduct(ctx context.Context, in ProductInput) (*models.Product, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if strings.TrimSpace(in.MainImageURL) == "" {
		return nil, fmt.Errorf("%w: main_image_url is required", ErrValidation)
	}
	category, err := models.ParseCategory(in.Category)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	now := time.Now().UTC()
	p := &models.Product{
		ID:           uuid.New(),
		OwnerID:      in.OwnerID,
		Name:         strings.TrimSpace(in.Name),
		Brand:        strings.TrimSpace(in.Brand),
		Category:     category,
		Sizes:        nonNil(in.Sizes),
		Colors:       nonNil(in.Colors),
		MainImageURL: in.MainImageURL,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if in.ModelImageURL != "" {
		p.ModelImageURL = &in.ModelImageURL
	}
	if err := s.store.CreateProduct(ctx, p); err != nil {
		return nil, fmt.Errorf("creating product: %w", err)
	}
	return p, nil
}

// GetProduct returns one of the owner's products.
func (s *Service) GetProduct(ctx context.Context, ownerID, productID uuid.UUID) (*models.Product, error) {
	p, err := s.store.GetProduct(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting product: %w", err)
	}
	if p.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return p, nil
}

// SubmitProductTune trains a product tune from the given images and links
// the new record to the product. The link is made before uploading so a
// product never advertises a tune-free try-on while its tune is pending.
func (s *Service) SubmitProductTune(ctx context.Context, ownerID, productID uuid.UUID, images []ImageInput) (*models.TuningRecord, error) {
	p, err := s.GetProduct(ctx, ownerID, productID)
	if err != nil {
		return nil, err
	}
	if !p.Category.Tunable() {
		return nil, fmt.Errorf("%w: category %s cannot be tuned", ErrValidation, p.Category)
	}

	in := SubmitInput{
		OwnerID:   ownerID,
		Kind:      models.KindProduct,
		Name:      p.Name,
		ProductID: &p.ID,
		Images:    images,
	}
	rec, err := s.create(ctx, in)
	if err != nil {
		s.metrics.Submission(string(in.Kind), outcomeOf(err))
		return nil, err
	}
	if err := s.store.SetProductTuneRecord(ctx, p.ID, rec.ID); err != nil {
		slog.Error("linking product tune failed", "product_id", p.ID, "record_id", rec.ID, "error", err)
		return rec, fmt.Errorf("linking product tune: %w", err)
	}

	rec, err = s.uploadAndSubmit(ctx, rec, images)
	s.metrics.Submission(string(in.Kind), outcomeOf(err))
	return rec, err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
